package wsgi

import (
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/fcgiwsgi/internal/interp"
	"github.com/rs/zerolog/log"
	"go.starlark.net/starlark"
)

// Config names the application to host.
type Config struct {
	// Module is the dotted module name, e.g. "site.app".
	Module string
	// App is the callable attribute inside Module.
	App string
}

func DefaultConfig() Config {
	return Config{Module: "app", App: "application"}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Module) == "" {
		return fmt.Errorf("%w: module is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.App) == "" {
		return fmt.Errorf("%w: app is required", ErrInvalidConfig)
	}
	return nil
}

// Application is the loaded module and its callable. It is created once,
// shared read-only by every request and shut down once.
type Application struct {
	cfg     Config
	name    string
	rt      *interp.Runtime
	module  *interp.Owned[starlark.StringDict]
	app     *interp.Owned[starlark.Value]
	version starlark.Tuple

	shutdownOnce sync.Once
}

// Initialize loads cfg.Module and resolves cfg.App within it. Failures are
// fatal to startup and wrap ErrLoad or ErrAttribute.
func Initialize(rt *interp.Runtime, cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Module = strings.TrimSpace(cfg.Module)
	cfg.App = strings.TrimSpace(cfg.App)

	held := rt.ExecGuard().Acquire()
	defer held.Release()

	rt.Init()
	module, err := rt.LoadModule(cfg.Module)
	if err != nil {
		log.Error().Str("module", cfg.Module).Err(err).Msg("wsgi.Initialize module load failed")
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, cfg.Module, err)
	}

	v, ok := module.Get()[cfg.App]
	if !ok {
		module.Release()
		log.Error().Str("module", cfg.Module).Str("app", cfg.App).Msg("wsgi.Initialize attribute missing")
		return nil, fmt.Errorf("%w: module %s has no attribute %q", ErrAttribute, cfg.Module, cfg.App)
	}

	a := &Application{
		cfg:     cfg,
		name:    cfg.Module + "." + cfg.App,
		rt:      rt,
		module:  module,
		app:     rt.Own(v),
		version: NewVersion(),
	}
	log.Info().Str("application", a.name).Str("type", v.Type()).Msg("wsgi.Initialize ready")
	return a, nil
}

// Name is "module.app".
func (a *Application) Name() string {
	return a.name
}

func (a *Application) Config() Config {
	return a.cfg
}

// Shutdown releases the callable and module, then finalizes the runtime.
// The caller must ensure no request is in flight.
func (a *Application) Shutdown() {
	a.shutdownOnce.Do(func() {
		held := a.rt.ExecGuard().Acquire()
		defer held.Release()

		a.app.Release()
		a.module.Release()
		a.rt.Finalize()
		log.Info().Str("application", a.name).Msg("wsgi.Application.Shutdown complete")
	})
}
