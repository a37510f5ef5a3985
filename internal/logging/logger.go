// Package logging builds the slog loggers used across agenthistory.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const loggerContextKey contextKey = "logger"

// ParseLevel maps "debug", "info", "warn" or "error" (case-insensitive) to a
// slog level. The empty string is info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// New creates a JSON logger on stderr. Unknown levels fall back to info.
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stderr, "json", level)
}

// NewWithWriter creates a logger writing to w in the given format ("json" or
// "text").
func NewWithWriter(w io.Writer, format, level string) *slog.Logger {
	lvl, _ := ParseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// NewFromConfig creates a logger from the logging config section. Output is
// "stderr" (default), "stdout", "discard" or a file path opened for append.
// The returned close function releases the file, if any.
func NewFromConfig(format, level, output string) (*slog.Logger, func() error, error) {
	if _, err := ParseLevel(level); err != nil {
		return nil, nil, err
	}

	noop := func() error { return nil }
	switch output {
	case "", "stderr":
		return NewWithWriter(os.Stderr, format, level), noop, nil
	case "stdout":
		return NewWithWriter(os.Stdout, format, level), noop, nil
	case "discard", "/dev/null":
		return NewWithWriter(io.Discard, format, level), noop, nil
	}

	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output %s: %w", output, err)
	}
	return NewWithWriter(f, format, level), f.Close, nil
}

// WithContext attaches a logger to a context.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// FromContext retrieves a logger from the context, or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerContextKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// ForNode scopes a logger to one node's index.
func ForNode(logger *slog.Logger, node string) *slog.Logger {
	return logger.With("node", node)
}

// ForRun scopes a logger to one run.
func ForRun(logger *slog.Logger, job string, number int) *slog.Logger {
	return logger.With("job", job, "build", number)
}
