// Package logging builds the slog loggers used by the server and CLI.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Config holds logger configuration
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output io.Writer
}

// New creates a logger. Console output goes through tint, anything else is JSON.
func New(cfg Config) *slog.Logger {
	level := ParseLevel(cfg.Level)

	writer := cfg.Output
	if writer == nil {
		writer = os.Stdout
	}

	var handler slog.Handler
	switch cfg.Format {
	case "console", "":
		handler = tint.NewHandler(writer, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(writer),
		})
	default:
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// Discard returns a logger that drops everything, for tests and optional wiring.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel converts string level to slog.Level
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
