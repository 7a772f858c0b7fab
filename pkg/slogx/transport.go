package slogx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/arise/pkg/idx"
)

// RequestIDHeader carries the per-request correlation id to the backend.
const RequestIDHeader = "X-Request-ID"

// Transport logs outgoing backend requests and stamps them with a request id.
// It never logs headers or bodies since both carry credentials.
type Transport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, logger *slog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Logger: logger}
}

func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()

	reqID := r.Header.Get(RequestIDHeader)
	if reqID == "" {
		reqID = idx.NewRequestID()
		// RoundTrippers must not mutate the caller's request
		r = r.Clone(r.Context())
		r.Header.Set(RequestIDHeader, reqID)
	}

	logger := FromContext(r.Context(), t.Logger).With(
		"req_id", reqID,
		"method", r.Method,
		"path", r.URL.Path,
	)

	resp, err := t.Base.RoundTrip(r)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		logger.Warn("backend_request_failed", "duration_ms", duration, "error", err)
		return nil, err
	}

	logger.Debug("backend_request",
		"status", resp.StatusCode,
		"duration_ms", duration,
	)
	return resp, nil
}
