// Package app wires the listener, the supervisor and the optional remote
// control server into the proxy's control loop.
package app

import (
	"time"

	"sc2proxy/internal/proxy"
	"sc2proxy/internal/remote"
	"sc2proxy/internal/supervisor"
	"sc2proxy/pkg/config"
	"sc2proxy/pkg/logger"
)

// tickInterval is the control loop period. All supervisor work is polling,
// so this bounds matchmaking and result-collection latency.
const tickInterval = 100 * time.Millisecond

// Run starts the proxy and blocks until shutdown. The return value is the
// process exit code.
func Run(cfg *config.Config) int {
	log := logger.Component("app")

	addr := cfg.Proxy.Addr()
	listener := proxy.NewListener(addr)
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- listener.Run()
	}()
	log.Info().Str("addr", addr).Msg("proxy listening")

	var rem *remote.Remote
	if cfg.RemoteController.Enabled {
		var err error
		rem, err = remote.RunServer(cfg.RemoteController.Addr())
		if err != nil {
			log.Error().Err(err).Msg("remote control server failed to start")
			listener.Close()
			return 1
		}
	}

	sv := supervisor.New(cfg)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-listenErr:
			if err != nil {
				log.Error().Err(err).Msg("listener failed")
			}
			sv.Close()
			return 0
		case <-ticker.C:
		}

	drain:
		for {
			select {
			case client := <-listener.Clients():
				sv.AddClient(client)
			default:
				break drain
			}
		}

		sv.UpdatePlaylist()
		sv.UpdateGames()

		if rem != nil {
			for {
				status := sv.UpdateRemote(rem)
				if status == supervisor.RemoteQuit {
					log.Info().Msg("quit requested over remote control")
					sv.Close()
					listener.Close()
					return 0
				}
				if status == supervisor.RemoteNoAction {
					break
				}
			}
		}
	}
}
