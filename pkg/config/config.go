// Package config holds the proxy configuration tree. The on-disk format is
// TOML (sc2_proxy.toml); the same structs travel as JSON over the remote
// control channel.
package config

import (
	"errors"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"

	"sc2proxy/pkg/sc2"
)

// MatchmakingMode selects how joining clients are placed into games.
type MatchmakingMode string

const (
	// ModeVsBuiltinAI runs every connecting bot against a builtin AI.
	ModeVsBuiltinAI MatchmakingMode = "VsBuiltinAI"
	// ModePairs matches bots against each other in connection order.
	ModePairs MatchmakingMode = "Pairs"
	// ModeSingleplayer starts a game with only the connecting bot.
	ModeSingleplayer MatchmakingMode = "Singleplayer"
	// ModeRemoteController leaves matchmaking to the remote control endpoint.
	ModeRemoteController MatchmakingMode = "RemoteController"
)

// Config is an immutable snapshot of the proxy configuration. The supervisor
// may swap its copy between games; lobbies and games bind a snapshot at
// creation.
type Config struct {
	Process          Process          `toml:"process" json:"process"`
	Matchmaking      Matchmaking      `toml:"matchmaking" json:"matchmaking"`
	MatchDefaults    MatchDefaults    `toml:"match_defaults" json:"match_defaults"`
	Proxy            Endpoint         `toml:"proxy" json:"proxy"`
	RemoteController RemoteController `toml:"remote_controller" json:"remote_controller"`
}

// Endpoint is a host/port pair.
type Endpoint struct {
	Host string `toml:"host" json:"host"`
	Port int    `toml:"port" json:"port"`
}

// Addr renders the endpoint as host:port.
func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// RemoteController configures the out-of-band RPC endpoint.
type RemoteController struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Host    string `toml:"host" json:"host"`
	Port    int    `toml:"port" json:"port"`
}

// Addr renders the endpoint as host:port.
func (r RemoteController) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Matchmaking selects the matchmaking policy.
type Matchmaking struct {
	Mode MatchmakingMode `toml:"mode" json:"mode"`
	// Builtin AI settings, used by the VsBuiltinAI mode.
	CPURace       sc2.Race       `toml:"cpu_race" json:"cpu_race"`
	CPUDifficulty sc2.Difficulty `toml:"cpu_difficulty" json:"cpu_difficulty"`
}

// MatchDefaults are the per-match settings bound by a lobby at creation.
type MatchDefaults struct {
	Game          Game          `toml:"game" json:"game"`
	RequestLimits RequestLimits `toml:"request_limits" json:"request_limits"`
	TimeLimits    TimeLimits    `toml:"time_limits" json:"time_limits"`
	RecordResults RecordResults `toml:"record_results" json:"record_results"`
}

// Game holds the create-game parameters.
type Game struct {
	MapName           string            `toml:"map_name" json:"map_name"`
	DisableFog        bool              `toml:"disable_fog" json:"disable_fog"`
	RandomSeed        *uint32           `toml:"random_seed,omitempty" json:"random_seed,omitempty"`
	Realtime          bool              `toml:"realtime" json:"realtime"`
	AllowedInterfaces AllowedInterfaces `toml:"allowed_interfaces" json:"allowed_interfaces"`
}

// AllowedInterfaces lists the observation interfaces a client may request at
// join time. Render is off by default; it is unimplemented in the SC2 API.
type AllowedInterfaces struct {
	Raw          bool `toml:"raw" json:"raw"`
	Score        bool `toml:"score" json:"score"`
	FeatureLayer bool `toml:"feature_layer" json:"feature_layer"`
	Render       bool `toml:"render" json:"render"`
}

// TimeLimits bounds a running game.
type TimeLimits struct {
	// GameLoops is the maximum simulation tick count; every undecided player
	// is recorded as defeated when it is exceeded. Nil disables the limit.
	GameLoops *uint64 `toml:"game_loops,omitempty" json:"game_loops,omitempty"`
}

// RecordResults is declared for file compatibility; result persistence is not
// part of the proxy.
type RecordResults struct {
	ReplayPath   string `toml:"replay_path" json:"replay_path"`
	EndScore     bool   `toml:"end_score" json:"end_score"`
	ScoreHistory bool   `toml:"score_history" json:"score_history"`
}

// Process holds the engine process launch options, passed through to the
// process adapter.
type Process struct {
	// BinaryPath is the SC2 executable. Empty means take SC2_BINARY from the
	// environment.
	BinaryPath string `toml:"binary_path" json:"binary_path"`
	// BaseDir is the SC2 installation root; its Maps subdirectory is searched
	// for map files. Empty means take SC2PATH from the environment.
	BaseDir      string `toml:"base_dir" json:"base_dir"`
	Fullscreen   bool   `toml:"fullscreen" json:"fullscreen"`
	Verbose      bool   `toml:"verbose" json:"verbose"`
	WindowWidth  int    `toml:"window_width" json:"window_width"`
	WindowHeight int    `toml:"window_height" json:"window_height"`
	// ConnectTimeout is the number of seconds to wait for a freshly spawned
	// engine to start accepting connections.
	ConnectTimeout int `toml:"connect_timeout" json:"connect_timeout"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Process: Process{
			WindowWidth:    1024,
			WindowHeight:   768,
			ConnectTimeout: 60,
		},
		Matchmaking: Matchmaking{
			Mode:          ModePairs,
			CPURace:       sc2.RaceRandom,
			CPUDifficulty: sc2.DifficultyVeryEasy,
		},
		MatchDefaults: MatchDefaults{
			Game: Game{
				AllowedInterfaces: AllowedInterfaces{
					Raw:          true,
					Score:        true,
					FeatureLayer: true,
					Render:       false,
				},
			},
		},
		Proxy:            Endpoint{Host: "127.0.0.1", Port: 8642},
		RemoteController: RemoteController{Host: "127.0.0.1", Port: 2468},
	}
}

// Load reads the configuration file at path. A missing file yields the
// defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

// Check validates the configuration shape. Map resolvability is verified
// separately by the supervisor, which owns the map manager.
func (c *Config) Check() error {
	switch c.Matchmaking.Mode {
	case ModeVsBuiltinAI, ModePairs, ModeSingleplayer, ModeRemoteController:
	default:
		return fmt.Errorf("unknown matchmaking mode %q", c.Matchmaking.Mode)
	}
	if c.Proxy.Port < 1 || c.Proxy.Port > 65535 {
		return fmt.Errorf("invalid proxy port: %d", c.Proxy.Port)
	}
	if c.RemoteController.Enabled &&
		(c.RemoteController.Port < 1 || c.RemoteController.Port > 65535) {
		return fmt.Errorf("invalid remote controller port: %d", c.RemoteController.Port)
	}
	return nil
}

// Clone returns a deep copy; lobbies and games snapshot the configuration at
// creation so later SetConfig calls cannot reach into running matches.
func (c *Config) Clone() *Config {
	out := *c
	if c.MatchDefaults.Game.RandomSeed != nil {
		seed := *c.MatchDefaults.Game.RandomSeed
		out.MatchDefaults.Game.RandomSeed = &seed
	}
	if c.MatchDefaults.TimeLimits.GameLoops != nil {
		loops := *c.MatchDefaults.TimeLimits.GameLoops
		out.MatchDefaults.TimeLimits.GameLoops = &loops
	}
	return &out
}
