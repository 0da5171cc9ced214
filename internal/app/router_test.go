package app

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudcoffee/roastery/internal/ledger"
)

func newTestRouter(logger *slog.Logger) http.Handler {
	service := ledger.NewService(ledger.NewRepository(nil), nil, nil, logger)
	return NewRouter(RouterParams{
		Logger:        logger,
		Config:        &Config{AppEnv: "development"},
		LedgerHandler: ledger.NewHandler(logger, service),
	})
}

func TestRouterHealthz(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(newTestRouter(logger))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"ok"}`, string(body))
	require.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestRouterLogsRequests(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	srv := httptest.NewServer(newTestRouter(logger))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := buf.String()
	require.Contains(t, out, "http request")
	require.Contains(t, out, "/healthz")
	require.Contains(t, out, "status=200")
}
