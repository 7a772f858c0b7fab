package slogx_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/arise/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slogx.New(slogx.Config{
		Service: "arise-sdk",
		Version: "test",
		Env:     "test",
		Level:   "debug",
		Format:  "json",
		Output:  &buf,
	})

	logger.Debug("hello", "k", "v")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "hello", line["msg"])
	require.Equal(t, "arise-sdk", line["service"])
	require.Equal(t, "v", line["k"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := slogx.New(slogx.Config{Level: "warn", Format: "text", Output: &buf})

	logger.Info("quiet")
	require.Zero(t, buf.Len())

	logger.Warn("loud")
	require.Contains(t, buf.String(), "loud")
}

func TestFromContextFallback(t *testing.T) {
	fallback := slogx.Discard()
	require.Same(t, fallback, slogx.FromContext(context.Background(), fallback))

	stored := slogx.Discard()
	ctx := slogx.WithContext(context.Background(), stored)
	require.Same(t, stored, slogx.FromContext(ctx, fallback))
}

func TestTransportStampsRequestID(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(slogx.RequestIDHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	var buf bytes.Buffer
	logger := slogx.New(slogx.Config{Level: "debug", Format: "json", Output: &buf})
	client := &http.Client{Transport: slogx.NewTransport(nil, logger)}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/devices/abc", nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.NotEmpty(t, seen)
	require.Empty(t, req.Header.Get(slogx.RequestIDHeader), "caller's request must not be mutated")
	require.Contains(t, buf.String(), `"path":"/devices/abc"`)
	require.Contains(t, buf.String(), seen)
}
