// Package logging builds the daemon's slog loggers and rotating log files.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a config level name to a slog level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// NewLogger creates a structured logger writing JSON or text to w.
func NewLogger(format string, level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// WithRule returns a logger with the rule name attached
func WithRule(logger *slog.Logger, ruleName string) *slog.Logger {
	return logger.With("rule", ruleName)
}

// WithProvider returns a logger with the provider name attached
func WithProvider(logger *slog.Logger, provider string) *slog.Logger {
	return logger.With("provider", provider)
}

// WithOwner returns a logger with the owner id attached. An empty owner
// leaves the logger unchanged.
func WithOwner(logger *slog.Logger, ownerID string) *slog.Logger {
	if ownerID == "" {
		return logger
	}
	return logger.With("owner", ownerID)
}
