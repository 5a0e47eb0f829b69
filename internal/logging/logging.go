// Package logging configures zerolog for hdriver and hands out
// per-component loggers.
package logging

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	root = newRoot(zerolog.InfoLevel, false)
)

func newRoot(level zerolog.Level, console bool) zerolog.Logger {
	var logger zerolog.Logger
	if console {
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
		logger = zerolog.New(out)
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// Setup initializes the root logger. Level is one of zerolog's named
// levels ("debug", "info", ...); unknown names fall back to info.
// Console enables human-readable output for interactive use.
func Setup(level string, console bool) {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}

	mu.Lock()
	defer mu.Unlock()
	root = newRoot(parsed, console)
}

// Component returns a logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.With().Str("component", name).Logger()
}
