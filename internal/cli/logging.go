package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ppiankov/relaypan/internal/config"
)

// setupLogger builds the process logger from the log section, with the
// --log-level and --log-format flags taking precedence. It also replaces the
// global zerolog logger.
func setupLogger(cfg config.LogConfig) (zerolog.Logger, error) {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg config.LogConfig, out io.Writer) (zerolog.Logger, error) {
	level := cfg.Level
	if logLevel != "" {
		level = logLevel
	}
	format := cfg.Format
	if logFormat != "" {
		format = logFormat
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level: %w", err)
	}

	var w io.Writer
	switch format {
	case "", "console":
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen, NoColor: noColor}
	case "json":
		w = out
	default:
		return zerolog.Nop(), fmt.Errorf("log format: unknown %q (want console or json)", format)
	}

	logger := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	log.Logger = logger
	return logger, nil
}
