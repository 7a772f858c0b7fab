package slogx

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger stored in ctx, falling back to fallback and
// then slog.Default().
func FromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return OrDefault(fallback)
}

func WithRequestID(ctx context.Context, reqID string) context.Context {
	l := FromContext(ctx, nil)
	return WithContext(ctx, l.With("req_id", reqID))
}
