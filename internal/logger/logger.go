// internal/logger/logger.go

// Package logger builds the process zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level      string `yaml:"level" env:"HUB_LOG_LEVEL"`
	Debug      bool   `yaml:"debug" env:"HUB_LOG_DEBUG"`
	Output     string `yaml:"output" env:"HUB_LOG_OUTPUT"` // stdout | stderr | console
	TimeFormat string `yaml:"time_format"`
}

// New returns a root logger writing JSON lines, or human-readable lines for "console".
func New(cfg Config) (zerolog.Logger, error) {
	return newWithWriter(cfg, nil)
}

func newWithWriter(cfg Config, w io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	} else if cfg.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("logger: %w", err)
		}
	}

	timeFormat := time.RFC3339
	if cfg.TimeFormat != "" {
		timeFormat = cfg.TimeFormat
	}
	zerolog.TimeFieldFormat = timeFormat

	if w == nil {
		switch cfg.Output {
		case "", "stdout":
			w = os.Stdout
		case "stderr":
			w = os.Stderr
		case "console":
			w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
		default:
			return zerolog.Nop(), fmt.Errorf("logger: unknown output %q", cfg.Output)
		}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// WithComponent tags every event of the returned logger with component.
func WithComponent(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}
