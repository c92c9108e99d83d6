package game

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sc2proxy/internal/process"
	"sc2proxy/internal/proxy"
	"sc2proxy/pkg/config"
	"sc2proxy/pkg/logger"
	"sc2proxy/pkg/protocol"
	"sc2proxy/pkg/sc2"
)

// ErrEngineClosed is returned when the engine socket closed mid-query.
var ErrEngineClosed = errors.New("engine connection closed")

// PlayerData is the per-participant information taken from the client's join
// request.
type PlayerData struct {
	Race       sc2.Race
	Name       string
	RawOptions []byte
}

// PlayerDataFromJoin extracts the player data from a parsed join request.
func PlayerDataFromJoin(jg protocol.JoinGame) PlayerData {
	return PlayerData{
		Race:       jg.Race,
		Name:       jg.PlayerName,
		RawOptions: jg.RawOptions,
	}
}

// Player bridges one client connection and one engine process. It is owned by
// exactly one of: a lobby, a running game's player task, or — after
// ExtractClient — nobody (the client socket returns to the playlist).
type Player struct {
	process *process.Process
	engine  *websocket.Conn
	client  *proxy.Client
	status  sc2.Status
	Data    PlayerData
	log     zerolog.Logger
}

// NewPlayer spawns an engine for the participant and connects to it. Any
// failure kills the partial process and reports the engine as unavailable.
func NewPlayer(cfg *config.Config, client *proxy.Client, data PlayerData) (*Player, error) {
	proc, err := process.Spawn(cfg.Process)
	if err != nil {
		return nil, err
	}
	engine, err := proc.Connect()
	if err != nil {
		proc.Kill()
		proc.Wait()
		return nil, err
	}
	return &Player{
		process: proc,
		engine:  engine,
		client:  client,
		Data:    data,
		log:     logger.Component("player").With().Str("peer", client.Addr()).Logger(),
	}, nil
}

// Addr is the client's peer address.
func (p *Player) Addr() string { return p.client.Addr() }

// engineSend forwards one frame to the engine.
func (p *Player) engineSend(req []byte) error {
	if err := p.engine.WriteMessage(websocket.BinaryMessage, req); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineClosed, err)
	}
	return nil
}

// engineRecv waits for the next engine frame.
func (p *Player) engineRecv() ([]byte, error) {
	for {
		msgType, data, err := p.engine.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEngineClosed, err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

// EngineQuery sends a request to the engine and returns the next response.
func (p *Player) EngineQuery(req []byte) ([]byte, error) {
	if err := p.engineSend(req); err != nil {
		return nil, err
	}
	return p.engineRecv()
}

// ClientRespond forwards a response frame to the client. Any failure means
// the client is gone.
func (p *Player) ClientRespond(resp []byte) error {
	return p.client.Send(resp)
}

// Run is the forwarding loop: client request in, engine response out, with
// policy enforcement and terminal-event detection. It returns the player
// itself iff the client left the game cleanly, so it can be recycled into
// the playlist. A non-nil error is an internal failure the game surfaces as
// a diagnostic.
func (p *Player) Run(cfg *config.Config, gamec *ChannelToGame) (*Player, error) {
	for {
		data, err := p.client.Recv()
		if err != nil {
			if errors.Is(err, proxy.ErrConnClosed) {
				p.log.Warn().Msg("client closed connection unexpectedly")
				gamec.Send(ClientConnClosed{})
				p.process.Kill()
				return nil, nil
			}
			return nil, fmt.Errorf("client receive: %w", err)
		}

		req := protocol.Request(data)
		if !cfg.MatchDefaults.RequestLimits.IsRequestAllowed(req) {
			p.log.Warn().Msg("request denied by access control")
			if err := p.ClientRespond(protocol.NewErrorResponse("Proxy: Request denied")); err != nil {
				gamec.Send(ClientConnClosed{})
				p.process.Kill()
				return nil, nil
			}
			continue
		}

		respData, err := p.EngineQuery(data)
		if err != nil {
			p.log.Error().Err(err).Msg("engine closed the connection unexpectedly")
			gamec.Send(EngineConnClosed{})
			p.process.Kill()
			return nil, nil
		}

		resp := protocol.Response(respData)
		if st, ok := resp.Status(); ok {
			p.status = st
		}

		if err := p.ClientRespond(respData); err != nil {
			p.log.Warn().Err(err).Msg("client went away while forwarding response")
			gamec.Send(ClientConnClosed{})
			p.process.Kill()
			return nil, nil
		}

		switch {
		case resp.HasQuit():
			p.log.Debug().Msg("engine is shutting down before a clean leave")
			gamec.Send(QuitBeforeLeave{})
			p.process.Wait()
			return nil, nil

		case resp.HasLeaveGame():
			p.log.Debug().Msg("client left the game")
			gamec.Send(LeftGame{})
			return p, nil

		case resp.HasObservation():
			if results := resp.PlayerResults(); len(results) > 0 {
				outcomes := make([]sc2.PlayerResult, len(results))
				for i, r := range results {
					outcomes[i] = r.Result
				}
				gamec.Send(GameOver{Results: outcomes})
			}
			if limit := cfg.MatchDefaults.TimeLimits.GameLoops; limit != nil {
				if loop, ok := resp.GameLoop(); ok && loop > *limit {
					p.log.Info().Uint64("game_loop", loop).Msg("game loop limit exceeded")
					gamec.Send(TimeLimitExceeded{})
				}
			}
		}

		if cmd, ok := gamec.TryRecv(); ok && cmd == ToPlayerQuit {
			p.log.Debug().Msg("killing engine by request from the game")
			p.process.Kill()
			return nil, nil
		}
	}
}

// ExtractClient terminates the engine and returns the client socket so the
// supervisor can put it back into the playlist. Valid only while the engine
// is back in the launched state, i.e. no game is in progress.
func (p *Player) ExtractClient() *proxy.Client {
	if p.status != sc2.StatusLaunched {
		panic(fmt.Sprintf("extracting client while engine status is %v", p.status))
	}
	p.process.Kill()
	return p.client
}

// Shutdown kills the engine and closes the client connection. Used on lobby
// teardown and failed handshakes.
func (p *Player) Shutdown() {
	p.process.Kill()
	p.client.Close()
}
