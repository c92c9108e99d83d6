// Package protocol reads and writes the SC2 API protobuf frames the proxy
// needs to understand. Frames are kept as opaque byte slices; only the handful
// of fields used for routing and policy decisions are ever touched, using
// low-level field scans instead of generated message types.
package protocol

import (
	"errors"
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"sc2proxy/pkg/sc2"
)

// Top-level field numbers from s2clientprotocol/sc2api.proto.
const (
	fieldCreateGame  = 1
	fieldJoinGame    = 2
	fieldLeaveGame   = 5
	fieldQuit        = 8
	fieldObservation = 10
	fieldPing        = 19
	fieldDebug       = 20
	fieldError       = 98
	fieldStatus      = 99
)

// RequestJoinGame field numbers.
const (
	joinRace       = 1
	joinOptions    = 3
	joinServerPort = 4
	joinClientPort = 5
	joinSharedPort = 6
	joinPlayerName = 7
)

var errNotAMessage = errors.New("malformed protobuf frame")

// Request is a raw client→engine frame.
type Request []byte

// Response is a raw engine→client frame.
type Response []byte

// walk iterates the fields of one protobuf message level. Varint and fixed
// fields arrive in v, length-delimited fields in payload. Returning false from
// fn stops the iteration.
func walk(b []byte, fn func(num protowire.Number, payload []byte, v uint64) bool) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		var (
			payload []byte
			v       uint64
			m       int
		)
		switch typ {
		case protowire.VarintType:
			v, m = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v32 uint32
			v32, m = protowire.ConsumeFixed32(b)
			v = uint64(v32)
		case protowire.Fixed64Type:
			v, m = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			payload, m = protowire.ConsumeBytes(b)
		case protowire.StartGroupType:
			payload, m = protowire.ConsumeGroup(num, b)
		default:
			return fmt.Errorf("%w: wire type %v", errNotAMessage, typ)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
		if !fn(num, payload, v) {
			return nil
		}
	}
	return nil
}

func hasField(b []byte, field protowire.Number) bool {
	found := false
	_ = walk(b, func(num protowire.Number, _ []byte, _ uint64) bool {
		if num == field {
			found = true
			return false
		}
		return true
	})
	return found
}

func subMessage(b []byte, field protowire.Number) ([]byte, bool) {
	var payload []byte
	found := false
	_ = walk(b, func(num protowire.Number, p []byte, _ uint64) bool {
		if num == field {
			payload = p
			found = true
			return false
		}
		return true
	})
	return payload, found
}

func varintField(b []byte, field protowire.Number) (uint64, bool) {
	var value uint64
	found := false
	_ = walk(b, func(num protowire.Number, _ []byte, v uint64) bool {
		if num == field {
			value = v
			found = true
			return false
		}
		return true
	})
	return value, found
}

// Validate reports whether the frame is a structurally sound protobuf message.
func (r Request) Validate() error {
	return walk(r, func(protowire.Number, []byte, uint64) bool { return true })
}

// HasQuit reports a client shutdown request.
func (r Request) HasQuit() bool { return hasField(r, fieldQuit) }

// HasPing reports a keepalive request.
func (r Request) HasPing() bool { return hasField(r, fieldPing) }

// HasJoinGame reports a game join request.
func (r Request) HasJoinGame() bool { return hasField(r, fieldJoinGame) }

// HasLeaveGame reports a leave request.
func (r Request) HasLeaveGame() bool { return hasField(r, fieldLeaveGame) }

// HasDebug reports whether the request carries debug commands.
func (r Request) HasDebug() bool { return hasField(r, fieldDebug) }

// DebugDrawOnly reports whether every debug command in the request is a pure
// drawing overlay (DebugCommand.draw, field 1). A request without debug
// commands trivially satisfies this.
func (r Request) DebugDrawOnly() bool {
	dbg, ok := subMessage(r, fieldDebug)
	if !ok {
		return true
	}
	drawOnly := true
	_ = walk(dbg, func(num protowire.Number, cmd []byte, _ uint64) bool {
		if num != 1 { // RequestDebug.debug
			return true
		}
		_ = walk(cmd, func(cnum protowire.Number, _ []byte, _ uint64) bool {
			if cnum != 1 { // DebugCommand.draw
				drawOnly = false
				return false
			}
			return true
		})
		return drawOnly
	})
	return drawOnly
}

// JoinGame is the part of a RequestJoinGame the proxy keeps: the client's
// race, optional name, and its raw InterfaceOptions submessage.
type JoinGame struct {
	Race       sc2.Race
	PlayerName string
	// RawOptions is the serialized InterfaceOptions, forwarded untouched when
	// the join request towards the engine is synthesized.
	RawOptions []byte
}

// JoinGameRequest extracts the join parameters from a client request.
func (r Request) JoinGameRequest() (JoinGame, error) {
	body, ok := subMessage(r, fieldJoinGame)
	if !ok {
		return JoinGame{}, fmt.Errorf("%w: no join_game field", errNotAMessage)
	}
	jg := JoinGame{Race: sc2.RaceRandom}
	err := walk(body, func(num protowire.Number, payload []byte, v uint64) bool {
		switch num {
		case joinRace:
			jg.Race = sc2.RaceFromProto(v)
		case joinOptions:
			jg.RawOptions = append([]byte(nil), payload...)
		case joinPlayerName:
			jg.PlayerName = string(payload)
		}
		return true
	})
	if err != nil {
		return JoinGame{}, err
	}
	return jg, nil
}

// InterfaceRequest describes which observation interfaces a join request asks
// for, decoded from InterfaceOptions.
type InterfaceRequest struct {
	Raw          bool
	Score        bool
	FeatureLayer bool
	Render       bool
}

// ParseInterfaceOptions decodes the interface flags from a raw
// InterfaceOptions submessage. Fields: raw=1, score=2, feature_layer=3,
// render=4.
func ParseInterfaceOptions(raw []byte) InterfaceRequest {
	var ir InterfaceRequest
	_ = walk(raw, func(num protowire.Number, payload []byte, v uint64) bool {
		switch num {
		case 1:
			ir.Raw = v != 0
		case 2:
			ir.Score = v != 0
		case 3:
			ir.FeatureLayer = true
		case 4:
			ir.Render = true
		}
		return true
	})
	return ir
}

// HasQuit reports that the engine is shutting down.
func (r Response) HasQuit() bool { return hasField(r, fieldQuit) }

// HasPing reports a keepalive response.
func (r Response) HasPing() bool { return hasField(r, fieldPing) }

// HasLeaveGame reports a completed leave request.
func (r Response) HasLeaveGame() bool { return hasField(r, fieldLeaveGame) }

// HasObservation reports an observation frame.
func (r Response) HasObservation() bool { return hasField(r, fieldObservation) }

// HasCreateGame reports a create-game response.
func (r Response) HasCreateGame() bool { return hasField(r, fieldCreateGame) }

// HasJoinGame reports a join-game response.
func (r Response) HasJoinGame() bool { return hasField(r, fieldJoinGame) }

// Status returns the engine status attached to the response, if any.
func (r Response) Status() (sc2.Status, bool) {
	v, ok := varintField(r, fieldStatus)
	if !ok {
		return sc2.StatusUnset, false
	}
	return sc2.StatusFromProto(v), true
}

// PlayerOutcome is one entry of ResponseObservation.player_result.
type PlayerOutcome struct {
	PlayerID uint32
	Result   sc2.PlayerResult
}

// PlayerResults returns the game-over results carried by an observation
// response, sorted by player id so every observer reports an identical
// ordering. The slice is empty while the game is still running.
func (r Response) PlayerResults() []PlayerOutcome {
	obs, ok := subMessage(r, fieldObservation)
	if !ok {
		return nil
	}
	var out []PlayerOutcome
	_ = walk(obs, func(num protowire.Number, payload []byte, _ uint64) bool {
		if num != 4 { // ResponseObservation.player_result
			return true
		}
		var po PlayerOutcome
		po.Result = sc2.ResultUndecided
		_ = walk(payload, func(fnum protowire.Number, _ []byte, v uint64) bool {
			switch fnum {
			case 1:
				po.PlayerID = uint32(v)
			case 2:
				po.Result = sc2.PlayerResultFromProto(v)
			}
			return true
		})
		out = append(out, po)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out
}

// GameLoop returns the simulation tick of an observation response.
func (r Response) GameLoop() (uint64, bool) {
	obsResp, ok := subMessage(r, fieldObservation)
	if !ok {
		return 0, false
	}
	obs, ok := subMessage(obsResp, 3) // ResponseObservation.observation
	if !ok {
		return 0, false
	}
	return varintField(obs, 9) // Observation.game_loop
}

// CreateGameError returns the error carried by a create-game response,
// if the engine rejected the request.
func (r Response) CreateGameError() (string, bool) {
	return responseError(r, fieldCreateGame, 1, 2)
}

// JoinGameError returns the error carried by a join-game response,
// if the engine rejected the request.
func (r Response) JoinGameError() (string, bool) {
	return responseError(r, fieldJoinGame, 2, 3)
}

func responseError(r Response, field, errField, detailField protowire.Number) (string, bool) {
	body, ok := subMessage(r, field)
	if !ok {
		return "", false
	}
	var (
		errCode uint64
		details string
		found   bool
	)
	_ = walk(body, func(num protowire.Number, payload []byte, v uint64) bool {
		switch num {
		case errField:
			errCode = v
			found = true
		case detailField:
			details = string(payload)
			found = true
		}
		return true
	})
	if !found {
		return "", false
	}
	if details == "" {
		details = fmt.Sprintf("engine error code %d", errCode)
	}
	return details, true
}
