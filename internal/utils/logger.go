package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns a slog.Logger for the desired verbosity and format. All
// service logs carry the service attribute so aggregated log streams stay
// filterable.
func NewLogger(level string, json bool) *slog.Logger {
	return newLoggerTo(os.Stdout, level, json)
}

func newLoggerTo(w io.Writer, level string, json bool) *slog.Logger {
	var handlerLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		handlerLevel = slog.LevelDebug
	case "warn":
		handlerLevel = slog.LevelWarn
	case "error":
		handlerLevel = slog.LevelError
	default:
		handlerLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: handlerLevel}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With(slog.String("service", "health-sentinel"))
}
