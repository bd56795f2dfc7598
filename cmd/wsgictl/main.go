package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/fcgiwsgi/internal/gateway"
	"github.com/danmuck/fcgiwsgi/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "gateway config file (toml)")
	module := flag.String("module", "", "dotted module name, overrides config")
	app := flag.String("app", "", "callable name inside the module, overrides config")
	flag.Parse()

	logger := observability.InitLogger("wsgictl")

	cfg := gateway.DefaultServiceConfig()
	if path := strings.TrimSpace(*configPath); path != "" {
		loaded, err := loadServiceConfig(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "wsgictl: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg = applyFlagOverrides(cfg, *module, *app)

	logger.Info().
		Str("network", string(cfg.Network)).
		Str("listen", cfg.ListenAddr).
		Str("module", cfg.App.Module).
		Str("app", cfg.App.App).
		Msg("wsgictl starting")

	svc := gateway.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "wsgictl: %v\n", err)
		os.Exit(1)
	}
}

func applyFlagOverrides(cfg gateway.ServiceConfig, module, app string) gateway.ServiceConfig {
	if v := strings.TrimSpace(module); v != "" {
		cfg.App.Module = v
	}
	if v := strings.TrimSpace(app); v != "" {
		cfg.App.App = v
	}
	return cfg
}
