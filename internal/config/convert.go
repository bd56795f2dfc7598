package config

import (
	"strings"

	"github.com/danmuck/fcgiwsgi/internal/gateway"
	"github.com/danmuck/fcgiwsgi/internal/wsgi"
)

// ServiceConfig converts a loaded file config into gateway settings.
// Durations that fail to parse keep the gateway defaults;
// ValidateGatewayConfig reports them.
func (c GatewayConfig) ServiceConfig() gateway.ServiceConfig {
	cfg := gateway.DefaultServiceConfig()
	cfg.Name = strings.TrimSpace(c.Name)
	cfg.Network = gateway.Network(strings.ToLower(strings.TrimSpace(c.Network)))
	cfg.ListenAddr = strings.TrimSpace(c.Listen)
	cfg.AdminListenAddr = strings.TrimSpace(c.AdminListen)
	cfg.AdminToken = strings.TrimSpace(c.AdminToken)
	if c.CorsOrigins != nil {
		cfg.CORSOrigins = trimOrigins(c.CorsOrigins)
	}
	cfg.ModuleRoot = strings.TrimSpace(c.ModuleRoot)
	cfg.App = wsgi.Config{Module: strings.TrimSpace(c.Module), App: strings.TrimSpace(c.App)}
	if d, err := parseDuration("shutdown_timeout", c.ShutdownTimeout); err == nil {
		cfg.ShutdownTimeout = d
	}
	if d, err := parseDuration("heartbeat_interval", c.HeartbeatInterval); err == nil {
		cfg.HeartbeatInterval = d
	}
	return cfg
}

func trimOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		if v := strings.TrimSpace(origin); v != "" {
			out = append(out, v)
		}
	}
	return out
}
