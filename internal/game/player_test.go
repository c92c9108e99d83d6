package game

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"sc2proxy/internal/proxy"
	"sc2proxy/pkg/config"
	"sc2proxy/pkg/logger"
	"sc2proxy/pkg/protocol"
	"sc2proxy/pkg/sc2"
)

// newWSPair returns both ends of one live WebSocket connection.
func newWSPair(t *testing.T) (dialed, accepted *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conns <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	dialed, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { dialed.Close() })

	select {
	case accepted = <-conns:
		t.Cleanup(func() { accepted.Close() })
		return dialed, accepted
	case <-time.After(2 * time.Second):
		t.Fatal("no accepted connection")
		return nil, nil
	}
}

// fakeEnginePlayer builds a Player bridged to a test-controlled engine socket
// instead of a spawned process. The returned bot end plays the client; the
// engine end plays the SC2 engine.
func fakeEnginePlayer(t *testing.T) (p *Player, bot, engine *websocket.Conn) {
	t.Helper()
	bot, clientSide := newWSPair(t)
	engineSide, engine := newWSPair(t)
	p = &Player{
		engine: engineSide,
		client: proxy.NewClient(clientSide),
		Data:   PlayerData{Race: sc2.RaceTerran},
		log:    logger.Component("player"),
	}
	return p, bot, engine
}

// scanTop collects the payloads of one top-level field of a raw frame.
// Varint fields are re-encoded so presence checks work uniformly.
func scanTop(b []byte, want protowire.Number) [][]byte {
	var out [][]byte
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return out
		}
		b = b[n:]
		var m int
		switch typ {
		case protowire.VarintType:
			var v uint64
			v, m = protowire.ConsumeVarint(b)
			if num == want {
				out = append(out, protowire.AppendVarint(nil, v))
			}
		case protowire.BytesType:
			var p []byte
			p, m = protowire.ConsumeBytes(b)
			if num == want {
				out = append(out, p)
			}
		default:
			return out
		}
		if m < 0 {
			return out
		}
		b = b[m:]
	}
	return out
}

// statusResponse builds an engine response carrying one empty submessage
// field plus a status varint.
func statusResponse(field protowire.Number, status sc2.Status) []byte {
	var b []byte
	b = protowire.AppendTag(b, field, protowire.BytesType)
	b = protowire.AppendBytes(b, nil)
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, status.Proto())
	return b
}

// observationResponse builds a ResponseObservation with the given game loop
// and optional player results.
func observationResponse(loop uint64, results []protocol.PlayerOutcome) []byte {
	var inner []byte
	inner = protowire.AppendTag(inner, 9, protowire.VarintType)
	inner = protowire.AppendVarint(inner, loop)

	var obs []byte
	obs = protowire.AppendTag(obs, 3, protowire.BytesType)
	obs = protowire.AppendBytes(obs, inner)
	for _, r := range results {
		var e []byte
		e = protowire.AppendTag(e, 1, protowire.VarintType)
		e = protowire.AppendVarint(e, uint64(r.PlayerID))
		e = protowire.AppendTag(e, 2, protowire.VarintType)
		e = protowire.AppendVarint(e, r.Result.Proto())
		obs = protowire.AppendTag(obs, 4, protowire.BytesType)
		obs = protowire.AppendBytes(obs, e)
	}

	var b []byte
	b = protowire.AppendTag(b, 10, protowire.BytesType)
	b = protowire.AppendBytes(b, obs)
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, sc2.StatusInGame.Proto())
	return b
}

// debugKillRequest builds a debug request carrying a non-drawing command
// (DebugCommand.kill_unit).
func debugKillRequest() []byte {
	var cmd []byte
	cmd = protowire.AppendTag(cmd, 3, protowire.BytesType)
	cmd = protowire.AppendBytes(cmd, nil)

	var dbg []byte
	dbg = protowire.AppendTag(dbg, 1, protowire.BytesType)
	dbg = protowire.AppendBytes(dbg, cmd)

	var b []byte
	b = protowire.AppendTag(b, 20, protowire.BytesType)
	b = protowire.AppendBytes(b, dbg)
	return b
}

type playerRun struct {
	survivor *Player
	err      error
}

func startRun(p *Player, cfg *config.Config, gamec *ChannelToGame) <-chan playerRun {
	done := make(chan playerRun, 1)
	go func() {
		survivor, err := p.Run(cfg, gamec)
		done <- playerRun{survivor: survivor, err: err}
	}()
	return done
}

func awaitRun(t *testing.T, done <-chan playerRun) playerRun {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("player loop did not finish")
		return playerRun{}
	}
}

func awaitEvent(t *testing.T, toGame <-chan ToGame) ToGame {
	t.Helper()
	select {
	case msg := <-toGame:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no player event arrived")
		return ToGame{}
	}
}

func readBinary(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return data
}

func writeBinary(t *testing.T, conn *websocket.Conn, data []byte) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))
}

func TestRunForwardsAndSurvivesCleanLeave(t *testing.T) {
	p, bot, engine := fakeEnginePlayer(t)
	toGame, _, channels := createChannels(1)
	done := startRun(p, config.Default(), channels[0])

	// A plain request round-trips untouched.
	writeBinary(t, bot, protocol.NewPingRequest())
	fwd := protocol.Request(readBinary(t, engine))
	assert.True(t, fwd.HasPing())
	writeBinary(t, engine, statusResponse(19, sc2.StatusInGame))
	resp := protocol.Response(readBinary(t, bot))
	assert.True(t, resp.HasPing())

	// A clean leave ends the loop with the player surviving.
	writeBinary(t, bot, protocol.NewLeaveGameRequest())
	fwd = protocol.Request(readBinary(t, engine))
	assert.True(t, fwd.HasLeaveGame())
	writeBinary(t, engine, statusResponse(5, sc2.StatusLaunched))
	resp = protocol.Response(readBinary(t, bot))
	assert.True(t, resp.HasLeaveGame())

	msg := awaitEvent(t, toGame)
	assert.Equal(t, 0, msg.PlayerIndex)
	assert.IsType(t, LeftGame{}, msg.Content)

	r := awaitRun(t, done)
	require.NoError(t, r.err)
	require.Same(t, p, r.survivor)
	assert.Equal(t, sc2.StatusLaunched, p.status)
}

func TestRunClientDisconnectReported(t *testing.T) {
	p, bot, _ := fakeEnginePlayer(t)
	toGame, _, channels := createChannels(1)
	done := startRun(p, config.Default(), channels[0])

	bot.Close()

	msg := awaitEvent(t, toGame)
	assert.IsType(t, ClientConnClosed{}, msg.Content)
	r := awaitRun(t, done)
	require.NoError(t, r.err)
	assert.Nil(t, r.survivor)
}

func TestRunEngineDisconnectReported(t *testing.T) {
	p, bot, engine := fakeEnginePlayer(t)
	toGame, _, channels := createChannels(1)
	done := startRun(p, config.Default(), channels[0])

	writeBinary(t, bot, protocol.NewPingRequest())
	readBinary(t, engine)
	engine.Close()

	msg := awaitEvent(t, toGame)
	assert.IsType(t, EngineConnClosed{}, msg.Content)
	r := awaitRun(t, done)
	require.NoError(t, r.err)
	assert.Nil(t, r.survivor)
}

func TestRunQuitBeforeLeaveReported(t *testing.T) {
	p, bot, engine := fakeEnginePlayer(t)
	toGame, _, channels := createChannels(1)
	done := startRun(p, config.Default(), channels[0])

	writeBinary(t, bot, protocol.NewQuitRequest())
	fwd := protocol.Request(readBinary(t, engine))
	assert.True(t, fwd.HasQuit())
	writeBinary(t, engine, statusResponse(8, sc2.StatusQuit))

	msg := awaitEvent(t, toGame)
	assert.IsType(t, QuitBeforeLeave{}, msg.Content)
	r := awaitRun(t, done)
	require.NoError(t, r.err)
	assert.Nil(t, r.survivor)
}

func TestRunDeniedDebugNotForwarded(t *testing.T) {
	cfg := config.Default()
	cfg.MatchDefaults.RequestLimits.DisableCheats = true
	p, bot, engine := fakeEnginePlayer(t)
	_, _, channels := createChannels(1)
	done := startRun(p, cfg, channels[0])

	// The denied request is answered by the proxy itself.
	writeBinary(t, bot, debugKillRequest())
	denial := readBinary(t, bot)
	msgs := scanTop(denial, 98)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Proxy: Request denied", string(msgs[0]))

	// The loop continues, and the first frame the engine ever sees is the
	// next request, not the denied one.
	writeBinary(t, bot, protocol.NewPingRequest())
	first := protocol.Request(readBinary(t, engine))
	assert.False(t, first.HasDebug())
	assert.True(t, first.HasPing())
	writeBinary(t, engine, statusResponse(19, sc2.StatusInGame))
	resp := protocol.Response(readBinary(t, bot))
	assert.True(t, resp.HasPing())

	bot.Close()
	awaitRun(t, done)
}

func TestRunReportsGameOverSorted(t *testing.T) {
	p, bot, engine := fakeEnginePlayer(t)
	toGame, _, channels := createChannels(1)
	done := startRun(p, config.Default(), channels[0])

	writeBinary(t, bot, protocol.NewPingRequest())
	readBinary(t, engine)
	writeBinary(t, engine, observationResponse(500, []protocol.PlayerOutcome{
		{PlayerID: 2, Result: sc2.ResultDefeat},
		{PlayerID: 1, Result: sc2.ResultVictory},
	}))
	readBinary(t, bot)

	msg := awaitEvent(t, toGame)
	over, ok := msg.Content.(GameOver)
	require.True(t, ok, "got %T", msg.Content)
	assert.Equal(t, []sc2.PlayerResult{sc2.ResultVictory, sc2.ResultDefeat}, over.Results)

	bot.Close()
	awaitRun(t, done)
}

func TestRunTimeLimitAndQuitCommand(t *testing.T) {
	cfg := config.Default()
	limit := uint64(100)
	cfg.MatchDefaults.TimeLimits.GameLoops = &limit

	p, bot, engine := fakeEnginePlayer(t)
	toGame, commands, channels := createChannels(1)
	done := startRun(p, cfg, channels[0])

	writeBinary(t, bot, protocol.NewPingRequest())
	readBinary(t, engine)
	writeBinary(t, engine, observationResponse(101, nil))
	readBinary(t, bot)

	msg := awaitEvent(t, toGame)
	assert.IsType(t, TimeLimitExceeded{}, msg.Content)

	// The quit command is honored after the next round trip.
	commands[0] <- ToPlayerQuit
	writeBinary(t, bot, protocol.NewPingRequest())
	readBinary(t, engine)
	writeBinary(t, engine, observationResponse(102, nil))
	readBinary(t, bot)

	r := awaitRun(t, done)
	require.NoError(t, r.err)
	assert.Nil(t, r.survivor)
}
