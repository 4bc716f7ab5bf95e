package logger

import (
	"context"
	"log/slog"
)

// contextKey is a private type so that no other package can collide with
// the logger's context entry.
type contextKey struct{}

// WithLogger returns a copy of ctx carrying the given logger. Handlers use
// this to thread request-scoped attributes (like trace IDs) down into the
// store layer.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, log)
}

// FromContext retrieves the logger stored in ctx, falling back to the
// process default logger when none is present.
func FromContext(ctx context.Context) *slog.Logger {
	return FromContextOrDefault(ctx, slog.Default())
}

// FromContextOrDefault retrieves the logger stored in ctx, falling back to
// the provided default when none is present.
func FromContextOrDefault(ctx context.Context, def *slog.Logger) *slog.Logger {
	if ctx != nil {
		if log, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && log != nil {
			return log
		}
	}
	return def
}
