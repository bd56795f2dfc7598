package gateway

import (
	"net/http"
	"time"

	"github.com/danmuck/fcgiwsgi/internal/auth"
	"github.com/danmuck/fcgiwsgi/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// AppInfo is the /app payload.
type AppInfo struct {
	Gateway  string         `json:"gateway"`
	Module   string         `json:"module"`
	Callable string         `json:"callable"`
	Phase    LifecyclePhase `json:"phase"`
	InFlight int64          `json:"in_flight"`
	Served   uint64         `json:"served"`
	LiveRefs int64          `json:"live_refs"`
}

// AdminHandler builds the admin HTTP API.
func (s *Service) AdminHandler() http.Handler {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminRequestLogger(log.Logger, s.cfg.Name))
	r.Use(observability.AdminMetrics(s.cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  normalizeOrigins(s.cfg.CORSOrigins),
		AllowMethods:  []string{"GET"},
		AllowHeaders:  []string{"Origin", "Content-Type", observability.RequestIDHeader},
		ExposeHeaders: []string{observability.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"gateway": s.cfg.Name,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		phase := s.Phase()
		status := http.StatusOK
		if phase != PhaseServing {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   phase == PhaseServing,
			"phase":   phase,
			"gateway": s.cfg.Name,
		})
	})

	guarded := r.Group("/", auth.RequireToken(s.cfg.AdminToken))
	guarded.GET("/metrics", gin.WrapH(promhttp.Handler()))
	guarded.GET("/app", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.AppInfo())
	})
	return r
}

func (s *Service) AppInfo() AppInfo {
	return AppInfo{
		Gateway:  s.cfg.Name,
		Module:   s.cfg.App.Module,
		Callable: s.cfg.App.App,
		Phase:    s.Phase(),
		InFlight: s.inflight.Count(),
		Served:   s.inflight.Total(),
		LiveRefs: s.rt.Live(),
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
