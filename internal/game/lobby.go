package game

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"sc2proxy/internal/maps"
	"sc2proxy/internal/portconfig"
	"sc2proxy/internal/proxy"
	"sc2proxy/pkg/config"
	"sc2proxy/pkg/logger"
	"sc2proxy/pkg/protocol"
	"sc2proxy/pkg/sc2"
)

// maxSlots is the engine's player slot ceiling. SC2Map metadata is not
// readable without the engine, so the engine maximum bounds every lobby.
const maxSlots = 16

// Handshake failures. Any of them tears the lobby down: engines are killed
// and the participants' connections closed, since their join requests have
// already been consumed.
var (
	ErrMapNotFound      = maps.ErrMapNotFound
	ErrCreateGameFailed = errors.New("create game failed")
	ErrJoinGameFailed   = errors.New("join game failed")
	ErrLobbyFull        = errors.New("lobby is full")
)

// ComputerPlayer is a builtin AI slot.
type ComputerPlayer struct {
	Race       sc2.Race
	Difficulty sc2.Difficulty
}

// Lobby is an unstarted game accumulating participants. It is created and
// mutated only by the supervisor and consumed either by Start (into a Game)
// or Close.
type Lobby struct {
	id        GameID
	config    *config.Config
	maps      *maps.Manager
	players   []*Player
	computers []ComputerPlayer
	log       zerolog.Logger
}

// NewLobby creates an empty lobby bound to a config snapshot.
func NewLobby(id GameID, cfg *config.Config, mapManager *maps.Manager) *Lobby {
	return &Lobby{
		id:     id,
		config: cfg.Clone(),
		maps:   mapManager,
		log:    logger.Component("lobby").With().Uint64("game_id", uint64(id)).Logger(),
	}
}

// ID returns the lobby's game id, kept by the resulting game.
func (l *Lobby) ID() GameID { return l.id }

// FreeSlots is the number of remaining player slots.
func (l *Lobby) FreeSlots() int {
	return maxSlots - len(l.players) - len(l.computers)
}

// IsValid reports whether the lobby can start: at least one participant.
func (l *Lobby) IsValid() bool { return len(l.players) > 0 }

// Join spawns an engine for the client and adds it as a participant. The join
// request is stashed; nothing is sent to any engine until Start. On failure
// the client connection is closed.
func (l *Lobby) Join(client *proxy.Client, jg protocol.JoinGame) error {
	if l.FreeSlots() < 1 {
		client.Close()
		return ErrLobbyFull
	}
	player, err := NewPlayer(l.config, client, PlayerDataFromJoin(jg))
	if err != nil {
		l.log.Error().Err(err).Str("peer", client.Addr()).Msg("engine spawn failed")
		client.Close()
		return err
	}
	l.players = append(l.players, player)
	l.log.Info().Str("peer", client.Addr()).Msg("participant joined lobby")
	return nil
}

// AddComputer adds a builtin AI slot.
func (l *Lobby) AddComputer(race sc2.Race, difficulty sc2.Difficulty) {
	l.computers = append(l.computers, ComputerPlayer{Race: race, Difficulty: difficulty})
}

// Close drops all participants, killing their engines and connections.
func (l *Lobby) Close() {
	for _, p := range l.players {
		p.Shutdown()
	}
	l.players = nil
}

// Start runs the two-phase handshake and turns the lobby into a running
// game: create the match through the first participant's engine, then join
// every engine in parallel over a shared port set. On any failure the whole
// lobby is closed.
func (l *Lobby) Start() (*Game, error) {
	game, err := l.start()
	if err != nil {
		l.Close()
		return nil, err
	}
	return game, nil
}

func (l *Lobby) start() (*Game, error) {
	if !l.IsValid() {
		return nil, errors.New("lobby has no participants")
	}

	mapPath, err := l.maps.FindMap(l.config.MatchDefaults.Game.MapName)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMapNotFound, l.config.MatchDefaults.Game.MapName)
	}

	if err := l.createGame(mapPath); err != nil {
		return nil, err
	}

	ports, err := portconfig.New()
	if err != nil {
		return nil, err
	}
	if err := l.joinAll(ports); err != nil {
		ports.Release()
		return nil, err
	}

	game := newGame(l.id, l.config, l.players, ports)
	l.players = nil
	return game, nil
}

// createGame sends the CreateGame request to the first participant's engine;
// the other engines share the match through the port rendezvous.
func (l *Lobby) createGame(mapPath string) error {
	gameCfg := l.config.MatchDefaults.Game

	slots := make([]protocol.CreateGameSlot, 0, len(l.players)+len(l.computers))
	for range l.players {
		slots = append(slots, protocol.CreateGameSlot{})
	}
	for _, c := range l.computers {
		slots = append(slots, protocol.CreateGameSlot{
			Computer:   true,
			Race:       c.Race,
			Difficulty: c.Difficulty,
		})
	}

	req := protocol.NewCreateGameRequest(protocol.CreateGameSettings{
		MapPath:    mapPath,
		Slots:      slots,
		DisableFog: gameCfg.DisableFog,
		Realtime:   gameCfg.Realtime,
		RandomSeed: gameCfg.RandomSeed,
	})

	respData, err := l.players[0].EngineQuery(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCreateGameFailed, err)
	}
	resp := protocol.Response(respData)
	if !resp.HasCreateGame() {
		return fmt.Errorf("%w: unexpected engine response", ErrCreateGameFailed)
	}
	if msg, bad := resp.CreateGameError(); bad {
		return fmt.Errorf("%w: %s", ErrCreateGameFailed, msg)
	}
	l.log.Debug().Msg("game created")
	return nil
}

// joinAll sends every JoinGame request before reading any response; the
// engines block on the shared-port rendezvous, so a sequential
// send-and-wait would deadlock.
func (l *Lobby) joinAll(ports *portconfig.PortConfig) error {
	for _, p := range l.players {
		req := protocol.NewJoinGameRequest(protocol.JoinGame{
			Race:       p.Data.Race,
			PlayerName: p.Data.Name,
			RawOptions: p.Data.RawOptions,
		}, &ports.Ports)
		if err := p.engineSend(req); err != nil {
			return fmt.Errorf("%w: %v", ErrJoinGameFailed, err)
		}
	}

	for _, p := range l.players {
		respData, err := p.engineRecv()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrJoinGameFailed, err)
		}
		resp := protocol.Response(respData)
		if !resp.HasJoinGame() {
			return fmt.Errorf("%w: unexpected engine response", ErrJoinGameFailed)
		}
		if msg, bad := resp.JoinGameError(); bad {
			return fmt.Errorf("%w: %s", ErrJoinGameFailed, msg)
		}
		if st, ok := resp.Status(); ok {
			p.status = st
		}
		// This response completes the client's original join request.
		if err := p.ClientRespond(respData); err != nil {
			return fmt.Errorf("%w: client went away: %v", ErrJoinGameFailed, err)
		}
	}
	l.log.Debug().Int("participants", len(l.players)).Msg("all participants joined")
	return nil
}
