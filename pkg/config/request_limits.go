package config

import "sc2proxy/pkg/protocol"

// RequestLimits is the per-request access policy applied while a match runs.
type RequestLimits struct {
	DisableCheats bool `toml:"disable_cheats" json:"disable_cheats"`
}

// IsRequestAllowed evaluates the cheat filter for one in-game request. With
// cheats enabled everything passes; otherwise debug requests are allowed only
// when every command is a pure drawing overlay.
func (l RequestLimits) IsRequestAllowed(req protocol.Request) bool {
	if !l.DisableCheats {
		return true
	}
	if !req.HasDebug() {
		return true
	}
	return req.DebugDrawOnly()
}
