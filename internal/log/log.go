// Package log builds the level-gated zerolog.Logger every other package
// threads through as a constructor argument (worker, listener, the root
// Controller). Centralizing construction here means the console format and
// level policy live in one place even though callers hold a zerolog.Logger
// value directly.
package log

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a console-writer logger at Info level, or Debug level when
// debug is set (mirrors spec §6's Debug boolean option).
func New(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Nop returns a logger that discards everything, for tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
