// Package logging configures the process-wide slog logger and derives
// request-scoped loggers from context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/Ivory-cocoa/invoice-qr-scanner/config"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	RequestIDKey      ContextKey = "request_id"
	OrganizationIDKey ContextKey = "organization_id"
	UserIDKey         ContextKey = "user_id"
)

// Init sets the default slog logger from cfg. Format "auto" writes text to a
// terminal and JSON otherwise.
func Init(cfg config.LogConfig) {
	slog.SetDefault(New(cfg, os.Stdout))
}

// New builds a logger writing to w.
func New(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	format := strings.ToLower(cfg.Format)
	if format == "" || format == "auto" {
		format = "json"
		if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			format = "text"
		}
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
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

// WithActor stores the acting organization and user for FromContext.
func WithActor(ctx context.Context, organizationID, userID string) context.Context {
	ctx = context.WithValue(ctx, OrganizationIDKey, organizationID)
	return context.WithValue(ctx, UserIDKey, userID)
}

// FromContext returns the default logger enriched with the request id and
// actor found in ctx.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if ctx == nil {
		return logger
	}
	for _, key := range []ContextKey{RequestIDKey, OrganizationIDKey, UserIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			logger = logger.With(string(key), v)
		}
	}
	return logger
}
