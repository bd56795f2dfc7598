package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/fcgi"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/fcgiwsgi/internal/interp"
	"github.com/danmuck/fcgiwsgi/internal/transport"
	"github.com/danmuck/fcgiwsgi/internal/wsgi"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidListen            = errors.New("gateway: invalid listen address")
	ErrInvalidNetwork           = errors.New("gateway: invalid network")
	ErrInvalidShutdownTimeout   = errors.New("gateway: invalid shutdown timeout")
	ErrInvalidHeartbeatInterval = errors.New("gateway: invalid heartbeat interval")
	ErrNotLoaded                = errors.New("gateway: application not loaded")
)

// Network selects where FastCGI connections come from.
type Network string

const (
	NetworkTCP  Network = "tcp"
	NetworkUnix Network = "unix"
	// NetworkStdin accepts on the listening socket the web server passed
	// as file descriptor 0.
	NetworkStdin Network = "stdin"
)

// ServiceConfig configures the gateway process. AdminToken, when set,
// guards /app and /metrics with a bearer token.
type ServiceConfig struct {
	Name              string
	Network           Network
	ListenAddr        string
	AdminListenAddr   string
	AdminToken        string
	CORSOrigins       []string
	ModuleRoot        string
	App               wsgi.Config
	ShutdownTimeout   time.Duration
	HeartbeatInterval time.Duration
}

// Gateway service defaults for a local TCP responder.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Name:              "fcgiwsgi.local",
		Network:           NetworkTCP,
		ListenAddr:        "127.0.0.1:9000",
		AdminListenAddr:   "",
		AdminToken:        "",
		CORSOrigins:       nil,
		ModuleRoot:        ".",
		App:               wsgi.DefaultConfig(),
		ShutdownTimeout:   10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
	}
}

// Validate checks listener and timing settings. Application settings are
// checked by wsgi.Config.Validate.
func (c ServiceConfig) Validate() error {
	switch c.Network {
	case NetworkTCP, NetworkUnix:
		if strings.TrimSpace(c.ListenAddr) == "" {
			return fmt.Errorf("%w: %s listener needs an address", ErrInvalidListen, c.Network)
		}
	case NetworkStdin:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidNetwork, c.Network)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidShutdownTimeout, c.ShutdownTimeout)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidHeartbeatInterval, c.HeartbeatInterval)
	}
	return c.App.Validate()
}

// Service runs the gateway lifecycle as a standalone process.
type Service struct {
	cfg       ServiceConfig
	rt        *interp.Runtime
	app       *wsgi.Application
	lifecycle *lifecycle
	inflight  *inFlight
	started   time.Time
}

// Gateway service constructor loading modules from cfg.ModuleRoot.
func NewServiceWithConfig(cfg ServiceConfig) *Service {
	return NewServiceWithRuntime(cfg, interp.NewRuntime(os.DirFS(cfg.ModuleRoot)))
}

// Gateway service constructor with a caller-provided runtime.
func NewServiceWithRuntime(cfg ServiceConfig, rt *interp.Runtime) *Service {
	s := &Service{
		cfg:       cfg,
		rt:        rt,
		lifecycle: newLifecycle(),
		started:   time.Now(),
	}
	s.inflight = newInFlight(transport.NewHandler(appServer{s}))
	return s
}

// Gateway runtime entrypoint that blocks until process signal shutdown.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.Bootstrap(); err != nil {
		return err
	}
	ln, err := s.listen()
	if err != nil {
		s.shutdownApp()
		return err
	}
	return s.Serve(ctx, ln)
}

// Bootstrap validates config and loads the hosted application.
func (s *Service) Bootstrap() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	app, err := wsgi.Initialize(s.rt, s.cfg.App)
	if err != nil {
		return err
	}
	if err := s.lifecycle.transition(PhaseCreated, PhaseLoaded); err != nil {
		app.Shutdown()
		return err
	}
	s.app = app
	log.Info().
		Str("gateway", s.cfg.Name).
		Str("app", app.Name()).
		Str("module_root", s.cfg.ModuleRoot).
		Msg("gateway.Service.bootstrap ready")
	return nil
}

// Serve accepts FastCGI connections on ln until ctx is done, then drains
// in-flight requests and shuts the application down once none remain.
// Requests arriving while draining are answered 503.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.lifecycle.transition(PhaseLoaded, PhaseServing); err != nil {
		_ = ln.Close()
		return fmt.Errorf("%w: %w", ErrNotLoaded, err)
	}
	log.Info().
		Str("gateway", s.cfg.Name).
		Str("network", ln.Addr().Network()).
		Str("addr", ln.Addr().String()).
		Msg("gateway.Service.serve listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := fcgi.Serve(ln, s.inflight)
		if gctx.Err() != nil || errors.Is(err, net.ErrClosed) {
			return nil
		}
		return fmt.Errorf("gateway: fastcgi serve: %w", err)
	})

	var admin *http.Server
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		admin = &http.Server{
			Addr:              addr,
			Handler:           s.AdminHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			err := admin.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("gateway: admin serve: %w", err)
		})
	}

	g.Go(func() error {
		s.heartbeat(gctx)
		return nil
	})

	var settled bool
	g.Go(func() error {
		<-gctx.Done()
		s.lifecycle.advance(PhaseDraining)
		_ = ln.Close()
		settled = s.drain()
		if admin != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
			defer cancel()
			_ = admin.Shutdown(shutdownCtx)
		}
		return nil
	})

	err := g.Wait()
	if settled {
		s.shutdownApp()
	} else {
		log.Error().
			Str("gateway", s.cfg.Name).
			Int64("in_flight", s.inflight.Count()).
			Msg("gateway.Service.serve requests still running; skipping application shutdown")
		s.lifecycle.advance(PhaseStopped)
	}
	log.Info().
		Str("gateway", s.cfg.Name).
		Uint64("served", s.inflight.Total()).
		Uint64("rejected", s.inflight.Rejected()).
		Msg("gateway.Service.serve shutdown")
	return err
}

// drain refuses new requests and waits for running ones. It reports
// whether none are left. Requests past ShutdownTimeout are canceled and
// get one more ShutdownTimeout to unwind.
func (s *Service) drain() bool {
	if pending := s.inflight.Count(); pending > 0 {
		log.Info().Int64("in_flight", pending).Dur("timeout", s.cfg.ShutdownTimeout).Msg("gateway.Service.drain waiting")
	}
	inTime, settled := s.inflight.drain(s.cfg.ShutdownTimeout, s.cfg.ShutdownTimeout)
	if !inTime {
		log.Warn().Int64("in_flight", s.inflight.Count()).Msg("gateway.Service.drain timeout; canceled requests")
	}
	return settled
}

func (s *Service) shutdownApp() {
	if s.app != nil {
		s.app.Shutdown()
	}
	s.lifecycle.advance(PhaseStopped)
}

func (s *Service) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info().
				Str("gateway", s.cfg.Name).
				Str("phase", string(s.Phase())).
				Int64("in_flight", s.inflight.Count()).
				Uint64("served", s.inflight.Total()).
				Int64("live_refs", s.rt.Live()).
				Msg("gateway.Service.heartbeat")
		}
	}
}

func (s *Service) listen() (net.Listener, error) {
	switch s.cfg.Network {
	case NetworkTCP:
		return net.Listen("tcp", s.cfg.ListenAddr)
	case NetworkUnix:
		if err := os.Remove(s.cfg.ListenAddr); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: stale socket %s: %v", ErrInvalidListen, s.cfg.ListenAddr, err)
		}
		return net.Listen("unix", s.cfg.ListenAddr)
	case NetworkStdin:
		ln, err := net.FileListener(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("%w: stdin is not a listening socket: %v", ErrInvalidListen, err)
		}
		return ln, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidNetwork, s.cfg.Network)
}

// Phase reports the current lifecycle phase.
func (s *Service) Phase() LifecyclePhase {
	return s.lifecycle.Phase()
}

// InFlight reports requests currently being served.
func (s *Service) InFlight() int64 {
	return s.inflight.Count()
}

// Handler is the request entry point wrapped with in-flight accounting.
func (s *Service) Handler() http.Handler {
	return s.inflight
}

// appServer forwards to the loaded application and fails requests that
// arrive before bootstrap.
type appServer struct {
	s *Service
}

func (a appServer) Serve(ctx context.Context, req wsgi.Request, res wsgi.Response) bool {
	if a.s.app == nil {
		log.Error().Msg("gateway.Service request before bootstrap")
		return false
	}
	return a.s.app.Serve(ctx, req, res)
}
