package remote

import (
	"encoding/json"
	"fmt"

	"sc2proxy/internal/game"
	"sc2proxy/pkg/config"
)

// The remote control protocol uses externally tagged unions: a bare JSON
// string for variants without a payload ("Quit"), and a single-key object for
// variants with one ({"Ping":1234}, {"AddToLobby":[0,"127.0.0.1:5555"]}).

// RequestKind enumerates remote control requests.
type RequestKind string

// Request kinds.
const (
	ReqQuit             RequestKind = "Quit"
	ReqPing             RequestKind = "Ping"
	ReqGetConfig        RequestKind = "GetConfig"
	ReqSetConfig        RequestKind = "SetConfig"
	ReqGetPlaylist      RequestKind = "GetPlaylist"
	ReqDropPlaylistItem RequestKind = "DropPlaylistItem"
	ReqClearPlaylist    RequestKind = "ClearPlaylist"
	ReqCreateLobby      RequestKind = "CreateLobby"
	ReqAddToLobby       RequestKind = "AddToLobby"
	ReqStartGame        RequestKind = "StartGame"
)

// Request is one remote control command.
type Request struct {
	Kind RequestKind

	Ping     uint32
	Config   *config.Config
	ClientID string
	GameID   game.GameID
}

func (r Request) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case ReqQuit, ReqGetConfig, ReqGetPlaylist, ReqClearPlaylist, ReqCreateLobby:
		return json.Marshal(string(r.Kind))
	case ReqPing:
		return json.Marshal(map[RequestKind]uint32{r.Kind: r.Ping})
	case ReqSetConfig:
		return json.Marshal(map[RequestKind]*config.Config{r.Kind: r.Config})
	case ReqDropPlaylistItem:
		return json.Marshal(map[RequestKind]string{r.Kind: r.ClientID})
	case ReqStartGame:
		return json.Marshal(map[RequestKind]uint64{r.Kind: uint64(r.GameID)})
	case ReqAddToLobby:
		return json.Marshal(map[RequestKind][2]interface{}{
			r.Kind: {uint64(r.GameID), r.ClientID},
		})
	default:
		return nil, fmt.Errorf("unknown request kind %q", r.Kind)
	}
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var unit string
	if err := json.Unmarshal(data, &unit); err == nil {
		switch RequestKind(unit) {
		case ReqQuit, ReqGetConfig, ReqGetPlaylist, ReqClearPlaylist, ReqCreateLobby:
			*r = Request{Kind: RequestKind(unit)}
			return nil
		default:
			return fmt.Errorf("request %q needs a payload", unit)
		}
	}

	var tagged map[RequestKind]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	if len(tagged) != 1 {
		return fmt.Errorf("expected exactly one request variant, got %d", len(tagged))
	}
	for kind, payload := range tagged {
		*r = Request{Kind: kind}
		switch kind {
		case ReqPing:
			return json.Unmarshal(payload, &r.Ping)
		case ReqSetConfig:
			r.Config = config.Default()
			return json.Unmarshal(payload, r.Config)
		case ReqDropPlaylistItem:
			return json.Unmarshal(payload, &r.ClientID)
		case ReqStartGame:
			var id uint64
			if err := json.Unmarshal(payload, &id); err != nil {
				return err
			}
			r.GameID = game.GameID(id)
			return nil
		case ReqAddToLobby:
			var pair [2]json.RawMessage
			if err := json.Unmarshal(payload, &pair); err != nil {
				return err
			}
			var id uint64
			if err := json.Unmarshal(pair[0], &id); err != nil {
				return err
			}
			r.GameID = game.GameID(id)
			return json.Unmarshal(pair[1], &r.ClientID)
		default:
			return fmt.Errorf("unknown request variant %q", kind)
		}
	}
	return fmt.Errorf("empty request")
}

// ResponseKind enumerates remote control responses.
type ResponseKind string

// Response kinds.
const (
	RespError         ResponseKind = "Error"
	RespQuit          ResponseKind = "Quit"
	RespPing          ResponseKind = "Ping"
	RespGetConfig     ResponseKind = "GetConfig"
	RespSetConfig     ResponseKind = "SetConfig"
	RespGetPlaylist   ResponseKind = "GetPlaylist"
	RespDropPlaylist  ResponseKind = "DropPlaylist"
	RespClearPlaylist ResponseKind = "ClearPlaylist"
	RespCreateLobby   ResponseKind = "CreateLobby"
	RespAddToLobby    ResponseKind = "AddToLobby"
	RespStartGame     ResponseKind = "StartGame"
)

// PlaylistEntry is one playlist client as reported over the remote control
// channel, encoded as a [id, is_ready] pair.
type PlaylistEntry struct {
	ID      string
	IsReady bool
}

func (p PlaylistEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{p.ID, p.IsReady})
}

func (p *PlaylistEntry) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if err := json.Unmarshal(pair[0], &p.ID); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &p.IsReady)
}

// Response is the reply to one Request.
type Response struct {
	Kind ResponseKind

	Error    string
	Ping     uint32
	Config   *config.Config
	Playlist []PlaylistEntry
	GameID   game.GameID
}

// ErrorResponse builds an Error response.
func ErrorResponse(format string, args ...interface{}) Response {
	return Response{Kind: RespError, Error: fmt.Sprintf(format, args...)}
}

func (r Response) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case RespQuit, RespDropPlaylist, RespClearPlaylist, RespAddToLobby, RespStartGame:
		return json.Marshal(string(r.Kind))
	case RespError:
		return json.Marshal(map[ResponseKind]string{r.Kind: r.Error})
	case RespPing:
		return json.Marshal(map[ResponseKind]uint32{r.Kind: r.Ping})
	case RespGetConfig, RespSetConfig:
		return json.Marshal(map[ResponseKind]*config.Config{r.Kind: r.Config})
	case RespGetPlaylist:
		entries := r.Playlist
		if entries == nil {
			entries = []PlaylistEntry{}
		}
		return json.Marshal(map[ResponseKind][]PlaylistEntry{r.Kind: entries})
	case RespCreateLobby:
		return json.Marshal(map[ResponseKind]uint64{r.Kind: uint64(r.GameID)})
	default:
		return nil, fmt.Errorf("unknown response kind %q", r.Kind)
	}
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var unit string
	if err := json.Unmarshal(data, &unit); err == nil {
		switch ResponseKind(unit) {
		case RespQuit, RespDropPlaylist, RespClearPlaylist, RespAddToLobby, RespStartGame:
			*r = Response{Kind: ResponseKind(unit)}
			return nil
		default:
			return fmt.Errorf("response %q needs a payload", unit)
		}
	}

	var tagged map[ResponseKind]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	if len(tagged) != 1 {
		return fmt.Errorf("expected exactly one response variant, got %d", len(tagged))
	}
	for kind, payload := range tagged {
		*r = Response{Kind: kind}
		switch kind {
		case RespError:
			return json.Unmarshal(payload, &r.Error)
		case RespPing:
			return json.Unmarshal(payload, &r.Ping)
		case RespGetConfig, RespSetConfig:
			r.Config = config.Default()
			return json.Unmarshal(payload, r.Config)
		case RespGetPlaylist:
			r.Playlist = []PlaylistEntry{}
			return json.Unmarshal(payload, &r.Playlist)
		case RespCreateLobby:
			var id uint64
			if err := json.Unmarshal(payload, &id); err != nil {
				return err
			}
			r.GameID = game.GameID(id)
			return nil
		default:
			return fmt.Errorf("unknown response variant %q", kind)
		}
	}
	return fmt.Errorf("empty response")
}

// Update is an asynchronous frame that may follow a response. None are
// emitted today; the slot exists for things like realtime score feeds.
type Update = json.RawMessage
