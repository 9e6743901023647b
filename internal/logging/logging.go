// Package logging builds the engine's single zerolog.Logger. There is no
// package-level global logger here: the controller owns one instance and
// threads it through every component that needs it, the same way it owns
// its one store handle and its one identity.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the logger's format and minimum level.
type Config struct {
	Format string // "console" or "json"; default "console"
	Level  string // zerolog level name; default "info"
}

// New builds a zerolog.Logger per cfg.
func New(cfg Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}

	var writer io.Writer = os.Stdout
	if cfg.Format != "json" {
		writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Str("component", "engine").Logger()
}
