// Package buslog centralizes structured logging for the bus core, the
// move-worker, and the HTTP front ends, replacing the teacher's bare
// log.Printf calls with leveled, fielded events.
package buslog

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing to w, at the given level name
// ("debug", "info", "warn", "error"; defaults to "info" on anything else).
func New(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Default returns a human-readable console logger for local development,
// mirroring the teacher's plain stdout logging.
func Default(level string) zerolog.Logger {
	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	return New(console, level)
}

// Nop returns a logger that discards everything, for tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
