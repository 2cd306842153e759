// Package logging provides a structured logger factory for flagfile.
//
// Loggers are plain [log/slog] loggers: JSON by default, text for local use,
// with a configurable minimum level.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// Output formats accepted by NewWithWriter.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// NewWithWriter creates a [slog.Logger] writing to w at the given level.
// format is "json" or "text"; anything else falls back to JSON. Accepted
// levels are those of [ParseLevel].
func NewWithWriter(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(strings.TrimSpace(format), FormatText) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Discard returns a logger that drops every record. Library components use it
// until a caller supplies a logger.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Component tags every record of logger with the emitting component.
func Component(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(slog.String("component", name))
}

// ParseLevel converts a level string to a [slog.Level].
// Returns [slog.LevelInfo] for unrecognised values.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
