// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config selects level and output format.
type Config struct {
	Level   string `toml:"level" ini:"level"`
	JSON    bool   `toml:"json" ini:"json"`
	NoColor bool   `toml:"no_color" ini:"no_color"`
}

func DefaultConfig() Config {
	return Config{Level: "info"}
}

// Init installs the global logger. Unknown levels fall back to info.
func Init(cfg Config) zerolog.Logger {
	return InitWriter(cfg, os.Stderr)
}

// InitWriter is Init with an explicit destination.
func InitWriter(cfg Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}

	w := out
	if !cfg.JSON {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "2006-01-02 15:04:05",
			NoColor:    cfg.NoColor,
		}
	}

	log.Logger = zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()

	if err != nil && cfg.Level != "" {
		log.Warn().Str("level", cfg.Level).Msg("unknown log level, using info")
	}
	return log.Logger
}

// WithComponent returns a child of the global logger tagged with name.
func WithComponent(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
