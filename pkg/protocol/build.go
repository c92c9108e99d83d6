package protocol

import (
	"google.golang.org/protobuf/encoding/protowire"

	"sc2proxy/pkg/sc2"
)

// Ports is the port set handed to every engine of one match for the
// shared-port rendezvous.
type Ports struct {
	Shared     int
	ServerGame int
	ServerBase int
	ClientGame int
	ClientBase int
}

// CreateGameSlot is one player slot of a create-game request, either a
// participant (bot-controlled) or an engine builtin AI.
type CreateGameSlot struct {
	Computer   bool
	Race       sc2.Race
	Difficulty sc2.Difficulty
}

// CreateGameSettings collects everything a create-game request needs.
type CreateGameSettings struct {
	MapPath    string
	Slots      []CreateGameSlot
	DisableFog bool
	Realtime   bool
	RandomSeed *uint32
}

func appendSub(b []byte, field protowire.Number, sub []byte) []byte {
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendBytes(b, sub)
}

func appendBool(b []byte, field protowire.Number, v bool) []byte {
	b = protowire.AppendTag(b, field, protowire.VarintType)
	if v {
		return protowire.AppendVarint(b, 1)
	}
	return protowire.AppendVarint(b, 0)
}

func appendUint(b []byte, field protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, field, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, field protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// NewCreateGameRequest builds the RequestCreateGame sent to the first engine
// of a lobby. Participant slots come first, then computer slots, matching the
// player id order the engine assigns.
func NewCreateGameRequest(s CreateGameSettings) Request {
	// LocalMap{map_path=1}
	var localMap []byte
	localMap = appendString(localMap, 1, s.MapPath)

	// RequestCreateGame{local_map=1, player_setup=3, disable_fog=4,
	// random_seed=5, realtime=6}
	var cg []byte
	cg = appendSub(cg, 1, localMap)
	for _, slot := range s.Slots {
		// PlayerSetup{type=1, race=2, difficulty=3}
		var ps []byte
		if slot.Computer {
			ps = appendUint(ps, 1, 2) // Computer
			ps = appendUint(ps, 2, slot.Race.Proto())
			ps = appendUint(ps, 3, slot.Difficulty.Proto())
		} else {
			ps = appendUint(ps, 1, 1) // Participant
		}
		cg = appendSub(cg, 3, ps)
	}
	if s.DisableFog {
		cg = appendBool(cg, 4, true)
	}
	if s.RandomSeed != nil {
		cg = appendUint(cg, 5, uint64(*s.RandomSeed))
	}
	if s.Realtime {
		cg = appendBool(cg, 6, true)
	}

	var req []byte
	req = appendSub(req, fieldCreateGame, cg)
	return Request(req)
}

// NewJoinGameRequest synthesizes the RequestJoinGame sent to one engine,
// carrying the client's stashed join parameters. ports is nil for the plain
// client-side form (no shared-port handshake fields).
func NewJoinGameRequest(jg JoinGame, ports *Ports) Request {
	var body []byte
	body = appendUint(body, joinRace, jg.Race.Proto())
	if len(jg.RawOptions) > 0 {
		body = appendSub(body, joinOptions, jg.RawOptions)
	}
	if ports != nil {
		body = appendSub(body, joinServerPort, portSet(ports.ServerGame, ports.ServerBase))
		body = appendSub(body, joinClientPort, portSet(ports.ClientGame, ports.ClientBase))
		body = appendUint(body, joinSharedPort, uint64(ports.Shared))
	}
	if jg.PlayerName != "" {
		body = appendString(body, joinPlayerName, jg.PlayerName)
	}

	var req []byte
	req = appendSub(req, fieldJoinGame, body)
	return Request(req)
}

// portSet builds a PortSet{game_port=1, base_port=2}.
func portSet(game, base int) []byte {
	var ps []byte
	ps = appendUint(ps, 1, uint64(game))
	ps = appendUint(ps, 2, uint64(base))
	return ps
}

// NewPingRequest builds an empty keepalive request.
func NewPingRequest() Request {
	var req []byte
	req = appendSub(req, fieldPing, nil)
	return Request(req)
}

// NewQuitRequest builds a client shutdown request.
func NewQuitRequest() Request {
	var req []byte
	req = appendSub(req, fieldQuit, nil)
	return Request(req)
}

// NewLeaveGameRequest builds a leave request.
func NewLeaveGameRequest() Request {
	var req []byte
	req = appendSub(req, fieldLeaveGame, nil)
	return Request(req)
}

// NewPongResponse answers a playlist ping.
func NewPongResponse() Response {
	var resp []byte
	resp = appendSub(resp, fieldPing, nil)
	return Response(resp)
}

// NewQuitResponse acknowledges a client quit.
func NewQuitResponse() Response {
	var resp []byte
	resp = appendSub(resp, fieldQuit, nil)
	return Response(resp)
}

// NewErrorResponse builds a proxy-originated error frame
// (Response.error, repeated string).
func NewErrorResponse(messages ...string) Response {
	var resp []byte
	for _, m := range messages {
		resp = appendString(resp, fieldError, m)
	}
	return Response(resp)
}
