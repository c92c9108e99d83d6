// Package supervisor owns the playlist, lobbies and running games, and
// implements the matchmaking policy. Everything here runs on the single
// control loop; cross-task communication is channels only.
package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"sc2proxy/internal/game"
	"sc2proxy/internal/maps"
	"sc2proxy/internal/proxy"
	"sc2proxy/internal/remote"
	"sc2proxy/pkg/config"
	"sc2proxy/pkg/logger"
	"sc2proxy/pkg/protocol"
)

// RemoteUpdateStatus is the outcome of one UpdateRemote pass.
type RemoteUpdateStatus int

const (
	// RemoteNoAction means no request was pending.
	RemoteNoAction RemoteUpdateStatus = iota
	// RemoteProcessed means one request was handled.
	RemoteProcessed
	// RemoteQuit means server shutdown was requested.
	RemoteQuit
)

type playlistEntry struct {
	client *proxy.Client
	// pendingJoin is set iff the client already sent its join request but the
	// mode is RemoteController and no controller placed it in a lobby yet.
	pendingJoin *protocol.JoinGame
}

// Supervisor manages a pool of games and the clients waiting for one.
type Supervisor struct {
	config    *config.Config
	games     map[game.GameID]*game.Handle
	lobbies   map[game.GameID]*game.Lobby
	playlist  []playlistEntry
	idCounter game.GameID
	maps      *maps.Manager
	log       zerolog.Logger
}

// New creates an empty supervisor from a config.
func New(cfg *config.Config) *Supervisor {
	return &Supervisor{
		config:  cfg.Clone(),
		games:   make(map[game.GameID]*game.Handle),
		lobbies: make(map[game.GameID]*game.Lobby),
		maps:    maps.NewManager(mapDirs(cfg)...),
		log:     logger.Component("supervisor"),
	}
}

func mapDirs(cfg *config.Config) []string {
	base := cfg.Process.BaseDir
	if base == "" {
		base = os.Getenv("SC2PATH")
	}
	if base == "" {
		return nil
	}
	return []string{filepath.Join(base, "Maps")}
}

// AddClient puts a freshly accepted connection into the playlist.
func (s *Supervisor) AddClient(client *proxy.Client) {
	s.log.Info().Str("peer", client.Addr()).Msg("client added to playlist")
	s.playlist = append(s.playlist, playlistEntry{client: client})
}

// dropClient removes a playlist entry, closing the connection.
func (s *Supervisor) dropClient(index int) {
	entry := s.playlist[index]
	s.log.Info().Str("peer", entry.client.Addr()).Msg("removing client from playlist")
	entry.client.Close()
	s.playlist = append(s.playlist[:index], s.playlist[index+1:]...)
}

func (s *Supervisor) clientIndexByID(clientID string) (int, bool) {
	for i, entry := range s.playlist {
		if entry.client.Addr() == clientID {
			return i, true
		}
	}
	return 0, false
}

// checkConfig validates the active config before a lobby is created. Shape
// problems are caught at load time; map resolvability can only be checked
// here, where the map manager lives.
func (s *Supervisor) checkConfig() error {
	if err := s.config.Check(); err != nil {
		return err
	}
	mapName := s.config.MatchDefaults.Game.MapName
	if mapName == "" {
		return fmt.Errorf("no map name configured")
	}
	if _, err := s.maps.FindMap(mapName); err != nil {
		return fmt.Errorf("map %q not resolvable: %w", mapName, err)
	}
	return nil
}

// createLobby allocates a fresh game id and an empty lobby for it. No lobby
// is created while the configuration cannot produce a startable game.
func (s *Supervisor) createLobby() (game.GameID, error) {
	if err := s.checkConfig(); err != nil {
		s.log.Error().Err(err).Msg("refusing to create a lobby")
		return 0, err
	}
	id := s.idCounter
	s.idCounter++
	s.lobbies[id] = game.NewLobby(id, s.config, s.maps)
	s.log.Debug().Uint64("game_id", uint64(id)).Msg("lobby created")
	return id, nil
}

type playlistAction int

const (
	actionNone playlistAction = iota
	actionRespond
	actionRespondQuit
	actionJoinGame
	actionKick
)

// processPlaylistMessage classifies one message from an idle client.
func (s *Supervisor) processPlaylistMessage(data []byte) (playlistAction, protocol.Response, *protocol.JoinGame) {
	req := protocol.Request(data)
	if err := req.Validate(); err != nil {
		s.log.Warn().Err(err).Msg("invalid playlist message")
		return actionKick, nil, nil
	}
	switch {
	case req.HasQuit():
		s.log.Info().Msg("client quit")
		return actionRespondQuit, protocol.NewQuitResponse(), nil
	case req.HasPing():
		return actionRespond, protocol.NewPongResponse(), nil
	case req.HasJoinGame():
		jg, err := req.JoinGameRequest()
		if err != nil {
			s.log.Warn().Err(err).Msg("malformed join request")
			return actionKick, nil, nil
		}
		return actionJoinGame, nil, &jg
	default:
		s.log.Warn().Msg("unsupported message in playlist")
		return actionKick, nil, nil
	}
}

// UpdatePlaylist polls every idle client once, answering pings, handling
// quits and dispatching join requests to matchmaking. Reverse index order
// keeps removals safe.
func (s *Supervisor) UpdatePlaylist() {
	for i := len(s.playlist) - 1; i >= 0; i-- {
		data, err, ok := s.playlist[i].client.TryRecv()
		if !ok {
			continue
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("playlist client failed")
			s.dropClient(i)
			continue
		}

		action, resp, joinReq := s.processPlaylistMessage(data)
		switch action {
		case actionRespond:
			if err := s.playlist[i].client.Send(resp); err != nil {
				s.dropClient(i)
			}
		case actionRespondQuit:
			_ = s.playlist[i].client.Send(resp)
			s.dropClient(i)
		case actionJoinGame:
			if err := s.playlistJoinGame(i, *joinReq); err != nil {
				s.log.Warn().Err(err).Msg("game creation / joining failed")
			}
		case actionKick:
			s.dropClient(i)
		}
	}
}

// interfacesAllowed enforces allowed_interfaces at join time.
func (s *Supervisor) interfacesAllowed(jg protocol.JoinGame) bool {
	allowed := s.config.MatchDefaults.Game.AllowedInterfaces
	asked := protocol.ParseInterfaceOptions(jg.RawOptions)
	switch {
	case asked.Raw && !allowed.Raw,
		asked.Score && !allowed.Score,
		asked.FeatureLayer && !allowed.FeatureLayer,
		asked.Render && !allowed.Render:
		return false
	}
	return true
}

// playlistJoinGame runs matchmaking for one join request. The entry leaves
// the playlist; on any failure its connection is dropped, since the join
// request has been consumed.
func (s *Supervisor) playlistJoinGame(index int, jg protocol.JoinGame) error {
	entry := s.playlist[index]
	s.playlist = append(s.playlist[:index], s.playlist[index+1:]...)
	client := entry.client

	if entry.pendingJoin != nil {
		client.Close()
		return fmt.Errorf("client %s attempted to join a game twice", client.Addr())
	}
	if !s.interfacesAllowed(jg) {
		s.log.Warn().Str("peer", client.Addr()).Msg("join denied: disallowed interface options")
		_ = client.Send(protocol.NewErrorResponse("Proxy: Request denied"))
		client.Close()
		return fmt.Errorf("disallowed interface options")
	}

	switch s.config.Matchmaking.Mode {
	case config.ModeVsBuiltinAI:
		id, err := s.createLobby()
		if err != nil {
			client.Close()
			return err
		}
		lobby := s.takeLobby(id)
		if err := lobby.Join(client, jg); err != nil {
			return err
		}
		lobby.AddComputer(s.config.Matchmaking.CPURace, s.config.Matchmaking.CPUDifficulty)
		return s.startLobby(id, lobby)

	case config.ModePairs:
		if id, lobby, ok := s.firstLobby(); ok {
			delete(s.lobbies, id)
			if err := lobby.Join(client, jg); err != nil {
				lobby.Close()
				return err
			}
			return s.startLobby(id, lobby)
		}
		id, err := s.createLobby()
		if err != nil {
			client.Close()
			return err
		}
		return s.lobbies[id].Join(client, jg)

	case config.ModeSingleplayer:
		id, err := s.createLobby()
		if err != nil {
			client.Close()
			return err
		}
		lobby := s.takeLobby(id)
		if err := lobby.Join(client, jg); err != nil {
			return err
		}
		return s.startLobby(id, lobby)

	case config.ModeRemoteController:
		// Park the client as ready; the controller decides its lobby.
		s.playlist = append(s.playlist, playlistEntry{client: client, pendingJoin: &jg})
		return nil

	default:
		client.Close()
		return fmt.Errorf("unimplemented matchmaking mode %q", s.config.Matchmaking.Mode)
	}
}

func (s *Supervisor) takeLobby(id game.GameID) *game.Lobby {
	lobby := s.lobbies[id]
	delete(s.lobbies, id)
	return lobby
}

// firstLobby picks the oldest waiting lobby: first come, first served.
func (s *Supervisor) firstLobby() (game.GameID, *game.Lobby, bool) {
	if len(s.lobbies) == 0 {
		return 0, nil, false
	}
	ids := make([]game.GameID, 0, len(s.lobbies))
	for id := range s.lobbies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids[0], s.lobbies[ids[0]], true
}

func (s *Supervisor) startLobby(id game.GameID, lobby *game.Lobby) error {
	g, err := lobby.Start()
	if err != nil {
		return fmt.Errorf("lobby %d start failed: %w", uint64(id), err)
	}
	s.games[id] = game.Spawn(g)
	s.log.Info().Uint64("game_id", uint64(id)).Msg("game started")
	return nil
}

// UpdateGames polls every game handle; finished games are joined, their
// results logged and their surviving clients recycled into the playlist.
func (s *Supervisor) UpdateGames() {
	var over []game.GameID
	for id, handle := range s.games {
		if handle.Check() {
			over = append(over, id)
		}
	}
	for _, id := range over {
		handle := s.games[id]
		delete(s.games, id)
		result, survivors, err := handle.CollectResult()
		if err != nil {
			s.log.Error().Err(err).Uint64("game_id", uint64(id)).Msg("game task failed")
			continue
		}
		for _, p := range survivors {
			s.AddClient(p.ExtractClient())
		}
		s.log.Info().
			Uint64("game_id", uint64(id)).
			Str("end_reason", result.EndReason.String()).
			Interface("player_results", resultStrings(result)).
			Msg("game result")
	}
}

func resultStrings(result game.GameResult) []string {
	out := make([]string, len(result.PlayerResults))
	for i, r := range result.PlayerResults {
		out[i] = r.String()
	}
	return out
}

// UpdateRemote dispatches one pending remote control request, if any.
func (s *Supervisor) UpdateRemote(rem *remote.Remote) RemoteUpdateStatus {
	req, ok := rem.TryRecv()
	if !ok {
		return RemoteNoAction
	}
	switch req.Kind {
	case remote.ReqQuit:
		rem.Send(remote.Response{Kind: remote.RespQuit})
		return RemoteQuit

	case remote.ReqPing:
		rem.Send(remote.Response{Kind: remote.RespPing, Ping: req.Ping})

	case remote.ReqGetConfig:
		rem.Send(remote.Response{Kind: remote.RespGetConfig, Config: s.config.Clone()})

	case remote.ReqSetConfig:
		if req.Config == nil {
			rem.Send(remote.ErrorResponse("No config provided"))
			break
		}
		s.config = req.Config.Clone()
		rem.Send(remote.Response{Kind: remote.RespSetConfig, Config: req.Config})

	case remote.ReqGetPlaylist:
		entries := make([]remote.PlaylistEntry, 0, len(s.playlist))
		for _, e := range s.playlist {
			entries = append(entries, remote.PlaylistEntry{
				ID:      e.client.Addr(),
				IsReady: e.pendingJoin != nil,
			})
		}
		rem.Send(remote.Response{Kind: remote.RespGetPlaylist, Playlist: entries})

	case remote.ReqDropPlaylistItem:
		if index, ok := s.clientIndexByID(req.ClientID); ok {
			s.dropClient(index)
			rem.Send(remote.Response{Kind: remote.RespDropPlaylist})
		} else {
			rem.Send(remote.ErrorResponse("No such client"))
		}

	case remote.ReqClearPlaylist:
		for i := len(s.playlist) - 1; i >= 0; i-- {
			s.dropClient(i)
		}
		rem.Send(remote.Response{Kind: remote.RespClearPlaylist})

	case remote.ReqCreateLobby:
		id, err := s.createLobby()
		if err != nil {
			rem.Send(remote.ErrorResponse("Invalid configuration: %v", err))
			break
		}
		rem.Send(remote.Response{Kind: remote.RespCreateLobby, GameID: id})

	case remote.ReqAddToLobby:
		s.remoteAddToLobby(rem, req)

	case remote.ReqStartGame:
		s.remoteStartGame(rem, req)

	default:
		rem.Send(remote.ErrorResponse("Unsupported"))
	}
	return RemoteProcessed
}

func (s *Supervisor) remoteAddToLobby(rem *remote.Remote, req remote.Request) {
	index, ok := s.clientIndexByID(req.ClientID)
	if !ok {
		rem.Send(remote.ErrorResponse("No such client"))
		return
	}
	entry := s.playlist[index]
	s.playlist = append(s.playlist[:index], s.playlist[index+1:]...)

	if entry.pendingJoin == nil {
		rem.Send(remote.ErrorResponse("Client not ready"))
		entry.client.Close()
		return
	}
	lobby, ok := s.lobbies[req.GameID]
	if !ok {
		rem.Send(remote.ErrorResponse("No such game"))
		entry.client.Close()
		return
	}
	if err := lobby.Join(entry.client, *entry.pendingJoin); err != nil {
		rem.Send(remote.ErrorResponse("Join failed: %v", err))
		return
	}
	rem.Send(remote.Response{Kind: remote.RespAddToLobby})
}

func (s *Supervisor) remoteStartGame(rem *remote.Remote, req remote.Request) {
	lobby, ok := s.lobbies[req.GameID]
	if !ok {
		rem.Send(remote.ErrorResponse("No such game"))
		return
	}
	delete(s.lobbies, req.GameID)
	if !lobby.IsValid() {
		lobby.Close()
		rem.Send(remote.ErrorResponse("The lobby is empty"))
		return
	}
	if err := s.startLobby(req.GameID, lobby); err != nil {
		// Participants are dropped here; their join was already consumed.
		s.log.Warn().Err(err).Msg("remote StartGame failed")
		rem.Send(remote.ErrorResponse("Game start failed"))
		return
	}
	rem.Send(remote.Response{Kind: remote.RespStartGame})
}

// Close ends all games, destroys all lobbies and closes every waiting
// connection.
func (s *Supervisor) Close() {
	s.log.Debug().Msg("closing supervisor")
	for _, handle := range s.games {
		handle.Send(game.FromSupervisorQuit)
	}
	for _, lobby := range s.lobbies {
		lobby.Close()
	}
	s.lobbies = make(map[game.GameID]*game.Lobby)
	for i := len(s.playlist) - 1; i >= 0; i-- {
		s.dropClient(i)
	}
}
