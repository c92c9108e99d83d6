// Package portconfig reserves the port set engines use for their shared-port
// in-game rendezvous. Ports are picked by transiently binding OS-assigned
// listeners and releasing them just before the engines take over; the engine
// tolerates that window. A process-wide registry keeps concurrent games from
// receiving overlapping sets.
package portconfig

import (
	"fmt"
	"net"
	"sync"

	"sc2proxy/pkg/protocol"
)

const portCount = 5

var (
	reservedMu sync.Mutex
	reserved   = make(map[int]bool)
)

// PortConfig is one game's reserved port set.
type PortConfig struct {
	Ports protocol.Ports

	releaseOnce sync.Once
}

// New reserves a fresh non-overlapping port set.
func New() (*PortConfig, error) {
	ports, err := pickPorts(portCount)
	if err != nil {
		return nil, err
	}
	return &PortConfig{
		Ports: protocol.Ports{
			Shared:     ports[0],
			ServerGame: ports[1],
			ServerBase: ports[2],
			ClientGame: ports[3],
			ClientBase: ports[4],
		},
	}, nil
}

// Release returns the set to the pool once the game is over.
func (pc *PortConfig) Release() {
	pc.releaseOnce.Do(func() {
		reservedMu.Lock()
		defer reservedMu.Unlock()
		for _, p := range pc.all() {
			delete(reserved, p)
		}
	})
}

func (pc *PortConfig) all() []int {
	p := pc.Ports
	return []int{p.Shared, p.ServerGame, p.ServerBase, p.ClientGame, p.ClientBase}
}

func pickPorts(n int) ([]int, error) {
	reservedMu.Lock()
	defer reservedMu.Unlock()

	var (
		listeners []net.Listener
		ports     []int
	)
	defer func() {
		for _, l := range listeners {
			l.Close()
		}
	}()

	const maxAttempts = 64
	for attempt := 0; len(ports) < n; attempt++ {
		if attempt >= maxAttempts {
			return nil, fmt.Errorf("unable to reserve %d free ports", n)
		}
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("unable to reserve a free port: %w", err)
		}
		port := l.Addr().(*net.TCPAddr).Port
		if reserved[port] {
			l.Close()
			continue
		}
		listeners = append(listeners, l)
		ports = append(ports, port)
	}

	for _, p := range ports {
		reserved[p] = true
	}
	return ports, nil
}
