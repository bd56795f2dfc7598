package main

import (
	"flag"
	"log"

	"github.com/danmuck/fcgiwsgi/internal/config"
)

const defaultPath = "cmd/wsgictl/config.toml"

func main() {
	kind := flag.String("kind", "gateway", "config kind: gateway|gateway-unix")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to "+defaultPath+")")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath
		}
		cfg, err := config.LoadGatewayConfig(path)
		if err != nil {
			log.Fatal(err)
		}
		if err := cfg.ServiceConfig().Validate(); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated gateway config at %s", path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
