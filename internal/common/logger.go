package common

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Fields represents structured logging fields.
type Fields map[string]any

// ParseLevel converts a configured level name into a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: log level %q", ErrInvalidConfig, level)
	}
}

// SetupLogger configures the global logger with appropriate settings.
func SetupLogger(w io.Writer, level slog.Level, format string) error {
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "", "console":
		handler = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// LogError logs an error with additional context.
func LogError(err error, msg string, fields Fields) {
	attrs := make([]slog.Attr, 0, len(fields)+1)
	attrs = append(attrs, slog.String("error", err.Error()))

	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}

	slog.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

// LoggerOrDefault returns logger, or the process default when logger is nil.
func LoggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
