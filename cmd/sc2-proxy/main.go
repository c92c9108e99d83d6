// sc2-proxy runs a proxy between SC2 bot clients and locally spawned game
// engine processes, matching clients into games per its configuration.
//
// Usage:
//
//	sc2-proxy [config.toml]
//
// Without an argument the config path is taken from SC2_PROXY_CONFIG, falling
// back to sc2_proxy.toml in the working directory. A missing config file is
// fine (defaults apply); a malformed one is an error.
package main

import (
	"fmt"
	"os"

	"sc2proxy/internal/app"
	"sc2proxy/pkg/config"
	"sc2proxy/pkg/logger"
)

func main() {
	logger.Setup()

	path := ""
	switch len(os.Args) {
	case 1:
		path = os.Getenv("SC2_PROXY_CONFIG")
		if path == "" {
			path = "sc2_proxy.toml"
		}
	case 2:
		path = os.Args[1]
	default:
		fmt.Fprintf(os.Stderr, "usage: %s [config.toml]\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load config %s: %v\n", path, err)
		os.Exit(2)
	}
	if err := cfg.Check(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config %s: %v\n", path, err)
		os.Exit(2)
	}

	os.Exit(app.Run(cfg))
}
