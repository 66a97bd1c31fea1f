// Package logging wires the process-wide zerolog logger and hands out
// component-scoped children of it, the same shape as the logger package in
// NethServer-my/backend.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls the global logger.
type Config struct {
	Level  string // trace, debug, info, warn, error
	Format string // json, console
}

// DefaultConfig mirrors the LOG_LEVEL/LOG_FORMAT defaults used across the
// retrieval pack.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json"}
}

// Init installs the global zerolog logger and returns the root logger.
func Init(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stdout
	if strings.ToLower(cfg.Format) == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	root := zerolog.New(out).With().Timestamp().Str("service", "car-seeder").Logger()
	log.Logger = root
	return root
}

// Component returns a child logger tagged with the given component name,
// matching logger.ComponentLogger from NethServer-my/backend.
func Component(root zerolog.Logger, component string) zerolog.Logger {
	return root.With().Str("component", component).Logger()
}
