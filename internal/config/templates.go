package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "gateway":
		return gatewayTemplate, nil
	case "gateway-unix":
		return gatewayUnixTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const gatewayTemplate = `name = "fcgiwsgi"
network = "tcp"
listen = "127.0.0.1:9000"
admin_listen = "127.0.0.1:9010"
admin_token = ""
cors_origins = ["http://localhost:3000"]

module_root = "cmd/wsgictl/apps"
module = "hello"
app = "application"

shutdown_timeout = "10s"
heartbeat_interval = "30s"
`

const gatewayUnixTemplate = `name = "fcgiwsgi"
network = "unix"
listen = "/run/fcgiwsgi/app.sock"
admin_listen = ""

module_root = "/srv/app"
module = "site.app"
app = "application"

shutdown_timeout = "10s"
heartbeat_interval = "30s"
`
