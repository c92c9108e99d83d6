package game

import (
	"fmt"
)

// Handle is the supervisor's end of a running game task: the result channel,
// the command channel, and the survivor hand-off. The game task holds only
// the other ends; there is no object back-reference.
type Handle struct {
	result    chan GameResult
	commands  chan FromSupervisor
	survivors chan []*Player
	failure   chan string

	finished GameResult
	failed   string
	done     bool
}

// Spawn runs the game in its own task and returns the handle for it.
func Spawn(g *Game) *Handle {
	h := &Handle{
		result:    make(chan GameResult, 1),
		commands:  make(chan FromSupervisor, 1),
		survivors: make(chan []*Player, 1),
		failure:   make(chan string, 1),
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				h.failure <- fmt.Sprintf("%v", r)
			}
		}()
		h.survivors <- g.Run(h.result, h.commands)
	}()
	return h
}

// Send delivers a command to the game. Non-blocking; a game that is already
// tearing down may miss it, which is fine for the only command there is.
func (h *Handle) Send(cmd FromSupervisor) {
	select {
	case h.commands <- cmd:
	default:
	}
}

// Check polls whether the game is over. Once it returns true, CollectResult
// may be called.
func (h *Handle) Check() bool {
	if h.done {
		return true
	}
	select {
	case r := <-h.result:
		h.finished = r
		h.done = true
	case msg := <-h.failure:
		h.failed = msg
		h.done = true
	default:
	}
	return h.done
}

// CollectResult joins the finished game and returns its result and the
// surviving players. An error carries the diagnostic of a panicked game
// task. Calling it while the game is still running is a bug.
func (h *Handle) CollectResult() (GameResult, []*Player, error) {
	if !h.done {
		panic("collecting result of a still-running game")
	}
	if h.failed != "" {
		return GameResult{}, nil, fmt.Errorf("game task panicked: %s", h.failed)
	}
	select {
	case players := <-h.survivors:
		return h.finished, players, nil
	case msg := <-h.failure:
		return GameResult{}, nil, fmt.Errorf("game task panicked after reporting a result: %s", msg)
	}
}
