// Package logger configures the process-wide zerolog output and hands out
// component-scoped loggers.
package logger

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	root zerolog.Logger
	once sync.Once
)

// Setup initializes the root logger. The level comes from SC2_PROXY_LOG
// (debug, info, warn, error); default is info. Safe to call more than once.
func Setup() {
	once.Do(func() {
		level := zerolog.InfoLevel
		if s := os.Getenv("SC2_PROXY_LOG"); s != "" {
			if l, err := zerolog.ParseLevel(s); err == nil {
				level = l
			}
		}
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
		root = zerolog.New(out).Level(level).With().Timestamp().Logger()
	})
}

// Component returns a child logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	Setup()
	return root.With().Str("component", name).Logger()
}
