// Package logging provides JSON structured logging using zerolog
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger settings
type Config struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"`
}

// New builds a logger from config. An unknown level falls back to info
// rather than failing: a broken log level should never keep the tool
// from running.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stderr
	if cfg.Output == "stdout" {
		output = os.Stdout
	}

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// Nop returns a disabled logger for tests and for callers that pass
// no logger explicitly.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
