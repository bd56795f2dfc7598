package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/fcgiwsgi/internal/gateway"
	"github.com/pelletier/go-toml/v2"
)

type GatewayConfig struct {
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

func LoadGatewayConfig(path string) (GatewayConfig, error) {
	var cfg GatewayConfig
	if err := loadToml(path, &cfg); err != nil {
		return GatewayConfig{}, err
	}
	applyGatewayDefaults(&cfg)
	if err := ValidateGatewayConfig(cfg); err != nil {
		return GatewayConfig{}, err
	}
	return cfg, nil
}

// applyGatewayDefaults fills blank keys from gateway.DefaultServiceConfig so
// both config loaders agree on what an omitted key means.
func applyGatewayDefaults(cfg *GatewayConfig) {
	def := gateway.DefaultServiceConfig()
	cfg.Network = strings.ToLower(strings.TrimSpace(cfg.Network))
	if cfg.Network == "" {
		cfg.Network = string(def.Network)
	}
	fill := func(v *string, fallback string) {
		*v = strings.TrimSpace(*v)
		if *v == "" {
			*v = fallback
		}
	}
	fill(&cfg.Name, def.Name)
	if cfg.Network == string(gateway.NetworkStdin) {
		cfg.Listen = strings.TrimSpace(cfg.Listen)
	} else {
		fill(&cfg.Listen, def.ListenAddr)
	}
	fill(&cfg.ModuleRoot, def.ModuleRoot)
	fill(&cfg.Module, def.App.Module)
	fill(&cfg.App, def.App.App)
	fill(&cfg.ShutdownTimeout, def.ShutdownTimeout.String())
	fill(&cfg.HeartbeatInterval, def.HeartbeatInterval.String())
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// ValidateGatewayConfig checks the raw duration strings, then defers to
// gateway.ServiceConfig.Validate for everything else.
func ValidateGatewayConfig(cfg GatewayConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("gateway config missing name")
	}
	if _, err := parseDuration("shutdown_timeout", cfg.ShutdownTimeout); err != nil {
		return err
	}
	if _, err := parseDuration("heartbeat_interval", cfg.HeartbeatInterval); err != nil {
		return err
	}
	if err := cfg.ServiceConfig().Validate(); err != nil {
		return fmt.Errorf("gateway config invalid: %w", err)
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("gateway config %s invalid: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("gateway config %s must be positive: %s", key, raw)
	}
	return d, nil
}
