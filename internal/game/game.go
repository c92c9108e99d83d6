// Package game runs matches: one task per game, one task per participant.
package game

import (
	"fmt"

	"github.com/rs/zerolog"

	"sc2proxy/internal/portconfig"
	"sc2proxy/pkg/config"
	"sc2proxy/pkg/logger"
	"sc2proxy/pkg/sc2"
)

// EndReason says why a game ended.
type EndReason int

const (
	// EndReasonNormal means the game ran to completion.
	EndReasonNormal EndReason = iota
	// EndReasonQuitRequested means the supervisor tore the game down.
	EndReasonQuitRequested
)

func (e EndReason) String() string {
	if e == EndReasonQuitRequested {
		return "QuitRequested"
	}
	return "Normal"
}

// GameResult is the final report of one game. With EndReasonNormal the
// results cover every slot and contain no Undecided entries; the engine
// reports builtin AI slots too, so the vector can be longer than the
// participant list.
type GameResult struct {
	EndReason     EndReason
	PlayerResults []sc2.PlayerResult
}

// Game owns the players of one running match.
type Game struct {
	id      GameID
	config  *config.Config
	players []*Player
	ports   *portconfig.PortConfig
	log     zerolog.Logger
}

func newGame(id GameID, cfg *config.Config, players []*Player, ports *portconfig.PortConfig) *Game {
	return &Game{
		id:      id,
		config:  cfg,
		players: players,
		ports:   ports,
		log:     logger.Component("game").With().Uint64("game_id", uint64(id)).Logger(),
	}
}

// ID returns the game id inherited from the lobby.
func (g *Game) ID() GameID { return g.id }

// outcomeLedger tracks per-player outcomes until all are known. The first
// GameOver fills every slot at once and is authoritative; afterwards both
// duplicate GameOvers and per-player terminal events are discarded. A slot
// set by a terminal event is never overwritten either.
type outcomeLedger struct {
	outcomes     []*sc2.PlayerResult
	gameOverSeen bool
	// quitPlayers is set when the remaining player tasks should be told to
	// stop (time limit ran out).
	quitPlayers bool
}

func newOutcomeLedger(n int) *outcomeLedger {
	return &outcomeLedger{outcomes: make([]*sc2.PlayerResult, n)}
}

func (ol *outcomeLedger) apply(msg ToGame) {
	switch content := msg.Content.(type) {
	case GameOver:
		if ol.gameOverSeen {
			return
		}
		ol.gameOverSeen = true
		// The result vector covers every slot of the match, including
		// computer players, so it replaces the ledger wholesale.
		replaced := make([]*sc2.PlayerResult, len(content.Results))
		for i := range content.Results {
			r := content.Results[i]
			replaced[i] = &r
		}
		ol.outcomes = replaced
	case TimeLimitExceeded:
		for i, o := range ol.outcomes {
			if o == nil {
				defeat := sc2.ResultDefeat
				ol.outcomes[i] = &defeat
			}
		}
		ol.quitPlayers = true
	default:
		ol.setDefeat(msg.PlayerIndex)
	}
}

func (ol *outcomeLedger) setDefeat(index int) {
	if index < 0 || index >= len(ol.outcomes) {
		return
	}
	if ol.outcomes[index] == nil {
		defeat := sc2.ResultDefeat
		ol.outcomes[index] = &defeat
	}
}

func (ol *outcomeLedger) complete() bool {
	for _, o := range ol.outcomes {
		if o == nil {
			return false
		}
	}
	return true
}

func (ol *outcomeLedger) results() []sc2.PlayerResult {
	out := make([]sc2.PlayerResult, len(ol.outcomes))
	for i, o := range ol.outcomes {
		if o != nil {
			out[i] = *o
		} else {
			out[i] = sc2.ResultUndecided
		}
	}
	return out
}

type playerDone struct {
	index    int
	survivor *Player
	err      error
}

func runPlayer(index int, p *Player, cfg *config.Config, gamec *ChannelToGame, done chan<- playerDone) {
	defer func() {
		if r := recover(); r != nil {
			done <- playerDone{index: index, err: fmt.Errorf("player task panicked: %v", r)}
		}
	}()
	survivor, err := p.Run(cfg, gamec)
	done <- playerDone{index: index, survivor: survivor, err: err}
}

// Run drives the match to completion: it spawns one task per player, collects
// outcomes until every slot is decided (or the supervisor requests quit),
// joins the tasks, reports the GameResult and returns the surviving players
// so they can be recycled into the playlist.
func (g *Game) Run(resultTx chan<- GameResult, fromSup <-chan FromSupervisor) []*Player {
	n := len(g.players)
	toGame, commands, channels := createChannels(n)
	done := make(chan playerDone, n)
	for i, p := range g.players {
		go runPlayer(i, p, g.config, channels[i], done)
	}
	defer g.ports.Release()

	ledger := newOutcomeLedger(n)
	var survivors []*Player
	doneCount := 0
	quitRequested := false

	handleDone := func(d playerDone) {
		doneCount++
		if d.err != nil {
			g.log.Error().Err(d.err).Int("player", d.index).Msg("player task failed")
			g.players[d.index].Shutdown()
			ledger.setDefeat(d.index)
			return
		}
		if d.survivor != nil {
			survivors = append(survivors, d.survivor)
		}
	}

	for !ledger.complete() && !quitRequested {
		select {
		case msg := <-toGame:
			g.log.Debug().Int("player", msg.PlayerIndex).
				Str("event", fmt.Sprintf("%T", msg.Content)).Msg("player event")
			ledger.apply(msg)
		case d := <-done:
			handleDone(d)
		case cmd := <-fromSup:
			if cmd == FromSupervisorQuit {
				g.log.Info().Msg("supervisor requested game quit")
				quitRequested = true
			}
		}
	}

	teardown := func() {
		for _, cmd := range commands {
			select {
			case cmd <- ToPlayerQuit:
			default:
			}
		}
		// Players parked on an idle client read never see the quit command;
		// closing their connections unblocks them.
		for _, p := range g.players {
			p.Shutdown()
		}
	}

	if quitRequested {
		teardown()
	} else if ledger.quitPlayers {
		for _, cmd := range commands {
			select {
			case cmd <- ToPlayerQuit:
			default:
			}
		}
	}

	// Join the remaining player tasks before reporting anything; the handle
	// treats a reported result as "safe to collect". Players may keep
	// forwarding until their clients leave; late messages are drained and
	// discarded.
	for doneCount < n {
		select {
		case d := <-done:
			handleDone(d)
		case <-toGame:
		case cmd := <-fromSup:
			if cmd == FromSupervisorQuit && !quitRequested {
				quitRequested = true
				teardown()
			}
		}
	}

	if quitRequested {
		resultTx <- GameResult{EndReason: EndReasonQuitRequested}
		return nil
	}

	result := GameResult{EndReason: EndReasonNormal, PlayerResults: ledger.results()}
	g.log.Info().Str("end_reason", result.EndReason.String()).
		Int("survivors", len(survivors)).Msg("game over")
	resultTx <- result
	return survivors
}
