package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/fcgiwsgi/internal/gateway"
)

type fileConfig struct {
	Name              string   `toml:"name"`
	Network           string   `toml:"network"`
	Listen            string   `toml:"listen"`
	AdminListen       string   `toml:"admin_listen"`
	AdminToken        string   `toml:"admin_token"`
	CorsOrigins       []string `toml:"cors_origins"`
	ModuleRoot        string   `toml:"module_root"`
	Module            string   `toml:"module"`
	App               string   `toml:"app"`
	ShutdownTimeout   string   `toml:"shutdown_timeout"`
	HeartbeatInterval string   `toml:"heartbeat_interval"`
}

// loadServiceConfig overlays the keys present in path onto
// gateway.DefaultServiceConfig. A blank value keeps the default, matching
// config.LoadGatewayConfig.
func loadServiceConfig(path string) (gateway.ServiceConfig, error) {
	cfg := gateway.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return gateway.ServiceConfig{}, fmt.Errorf("load gateway config: %w", err)
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Name = name
		}
	}

	if meta.IsDefined("network") {
		if network := strings.ToLower(strings.TrimSpace(raw.Network)); network != "" {
			cfg.Network = gateway.Network(network)
		}
		if cfg.Network == gateway.NetworkStdin {
			cfg.ListenAddr = ""
		}
	}

	if meta.IsDefined("listen") {
		if listen := strings.TrimSpace(raw.Listen); listen != "" {
			cfg.ListenAddr = listen
		}
	}

	if meta.IsDefined("admin_listen") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListen)
	}

	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}

	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeOrigins(raw.CorsOrigins)
	}

	if meta.IsDefined("module_root") {
		if root := strings.TrimSpace(raw.ModuleRoot); root != "" {
			cfg.ModuleRoot = root
		}
	}

	if meta.IsDefined("module") {
		if module := strings.TrimSpace(raw.Module); module != "" {
			cfg.App.Module = module
		}
	}

	if meta.IsDefined("app") {
		if app := strings.TrimSpace(raw.App); app != "" {
			cfg.App.App = app
		}
	}

	if meta.IsDefined("shutdown_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ShutdownTimeout))
		if err != nil {
			return gateway.ServiceConfig{}, fmt.Errorf("parse shutdown_timeout: %w", err)
		}
		cfg.ShutdownTimeout = d
	}

	if meta.IsDefined("heartbeat_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HeartbeatInterval))
		if err != nil {
			return gateway.ServiceConfig{}, fmt.Errorf("parse heartbeat_interval: %w", err)
		}
		cfg.HeartbeatInterval = d
	}

	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
