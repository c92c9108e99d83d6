// Package sc2 holds the small set of StarCraft II enums the proxy cares about,
// together with their wire values from s2clientprotocol/sc2api.proto.
package sc2

import "fmt"

// Race is a playable race, including Random.
type Race int

const (
	RaceTerran Race = iota
	RaceZerg
	RaceProtoss
	RaceRandom
)

var raceNames = map[Race]string{
	RaceTerran:  "Terran",
	RaceZerg:    "Zerg",
	RaceProtoss: "Protoss",
	RaceRandom:  "Random",
}

// proto values: NoRace=0 Terran=1 Zerg=2 Protoss=3 Random=4
var raceProto = map[Race]uint64{
	RaceTerran:  1,
	RaceZerg:    2,
	RaceProtoss: 3,
	RaceRandom:  4,
}

func (r Race) String() string {
	if s, ok := raceNames[r]; ok {
		return s
	}
	return fmt.Sprintf("Race(%d)", int(r))
}

// Proto returns the wire enum value.
func (r Race) Proto() uint64 { return raceProto[r] }

// RaceFromProto maps a wire enum value back to a Race.
// Unknown values map to Random.
func RaceFromProto(v uint64) Race {
	for r, pv := range raceProto {
		if pv == v {
			return r
		}
	}
	return RaceRandom
}

func (r Race) MarshalText() ([]byte, error) {
	s, ok := raceNames[r]
	if !ok {
		return nil, fmt.Errorf("invalid race %d", int(r))
	}
	return []byte(s), nil
}

func (r *Race) UnmarshalText(text []byte) error {
	for v, s := range raceNames {
		if s == string(text) {
			*r = v
			return nil
		}
	}
	return fmt.Errorf("unknown race %q", string(text))
}

// Difficulty is a builtin AI difficulty level.
type Difficulty int

const (
	DifficultyVeryEasy Difficulty = iota
	DifficultyEasy
	DifficultyMedium
	DifficultyMediumHard
	DifficultyHard
	DifficultyHarder
	DifficultyVeryHard
	DifficultyCheatVision
	DifficultyCheatMoney
	DifficultyCheatInsane
)

var difficultyNames = map[Difficulty]string{
	DifficultyVeryEasy:    "VeryEasy",
	DifficultyEasy:        "Easy",
	DifficultyMedium:      "Medium",
	DifficultyMediumHard:  "MediumHard",
	DifficultyHard:        "Hard",
	DifficultyHarder:      "Harder",
	DifficultyVeryHard:    "VeryHard",
	DifficultyCheatVision: "CheatVision",
	DifficultyCheatMoney:  "CheatMoney",
	DifficultyCheatInsane: "CheatInsane",
}

func (d Difficulty) String() string {
	if s, ok := difficultyNames[d]; ok {
		return s
	}
	return fmt.Sprintf("Difficulty(%d)", int(d))
}

// Proto returns the wire enum value (VeryEasy=1 .. CheatInsane=10).
func (d Difficulty) Proto() uint64 { return uint64(d) + 1 }

func (d Difficulty) MarshalText() ([]byte, error) {
	s, ok := difficultyNames[d]
	if !ok {
		return nil, fmt.Errorf("invalid difficulty %d", int(d))
	}
	return []byte(s), nil
}

func (d *Difficulty) UnmarshalText(text []byte) error {
	for v, s := range difficultyNames {
		if s == string(text) {
			*d = v
			return nil
		}
	}
	return fmt.Errorf("unknown difficulty %q", string(text))
}

// PlayerResult is the outcome of a match for one player.
type PlayerResult int

const (
	ResultVictory PlayerResult = iota
	ResultDefeat
	ResultTie
	ResultUndecided
)

var resultNames = map[PlayerResult]string{
	ResultVictory:   "Victory",
	ResultDefeat:    "Defeat",
	ResultTie:       "Tie",
	ResultUndecided: "Undecided",
}

func (p PlayerResult) String() string {
	if s, ok := resultNames[p]; ok {
		return s
	}
	return fmt.Sprintf("PlayerResult(%d)", int(p))
}

// Proto returns the wire enum value (Victory=1 Defeat=2 Tie=3 Undecided=4).
func (p PlayerResult) Proto() uint64 { return uint64(p) + 1 }

// PlayerResultFromProto maps a wire Result value (Victory=1 Defeat=2 Tie=3
// Undecided=4) to a PlayerResult. Unknown values map to Undecided.
func PlayerResultFromProto(v uint64) PlayerResult {
	if v >= 1 && v <= 4 {
		return PlayerResult(v - 1)
	}
	return ResultUndecided
}

func (p PlayerResult) MarshalText() ([]byte, error) {
	s, ok := resultNames[p]
	if !ok {
		return nil, fmt.Errorf("invalid player result %d", int(p))
	}
	return []byte(s), nil
}

func (p *PlayerResult) UnmarshalText(text []byte) error {
	for v, s := range resultNames {
		if s == string(text) {
			*p = v
			return nil
		}
	}
	return fmt.Errorf("unknown player result %q", string(text))
}

// Status is the engine-reported session status.
type Status int

const (
	StatusUnset Status = iota
	StatusLaunched
	StatusInitGame
	StatusInGame
	StatusInReplay
	StatusEnded
	StatusQuit
	StatusUnknown
)

var statusNames = map[Status]string{
	StatusUnset:    "Unset",
	StatusLaunched: "Launched",
	StatusInitGame: "InitGame",
	StatusInGame:   "InGame",
	StatusInReplay: "InReplay",
	StatusEnded:    "Ended",
	StatusQuit:     "Quit",
	StatusUnknown:  "Unknown",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Proto returns the wire enum value. StatusLaunched through StatusQuit match
// the wire values directly; anything else reports unknown (99).
func (s Status) Proto() uint64 {
	if s >= StatusLaunched && s <= StatusQuit {
		return uint64(s)
	}
	return 99
}

// StatusFromProto maps a wire Status value (launched=1 .. quit=6, unknown=99).
func StatusFromProto(v uint64) Status {
	if v >= 1 && v <= 6 {
		return Status(v)
	}
	return StatusUnknown
}
