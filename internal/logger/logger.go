// Package logger provides structured logging setup for Orchid.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/leventea/orchid/internal/config"
)

// New creates a *slog.Logger from the given Logging config and a Closer
// that flushes pending records on shutdown. Output is JSON to stdout with
// a "service" attribute on every record. With cfg.Async, records are
// handed to a buffered background handler so logging never stalls the
// orchestration path.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	level := parseLevel(cfg.Level)

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	var closer Closer = nopCloser{}
	if cfg.Async {
		async := NewAsyncHandler(handler, 1024, 1)
		handler = async
		closer = async
	}

	return slog.New(handler).With("service", cfg.Service), closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
