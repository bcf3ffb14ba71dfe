package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/basekick-labs/transcoder/internal/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer() *Server {
	s := NewServer(nil, zerolog.Nop())
	s.RegisterRoutes()
	return s
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer()

	for _, path := range []string{"/health", "/ready"} {
		resp, err := s.GetApp().Test(httptest.NewRequest("GET", path, nil), -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	}
}

func TestMetricsHandler(t *testing.T) {
	s := newTestServer()

	resp, err := s.GetApp().Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "transcoder_runs_started_total")
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))

	req := httptest.NewRequest("GET", "/metrics", nil)
	req.Header.Set("Accept", "application/json")
	resp, err = s.GetApp().Test(req, -1)
	require.NoError(t, err)
	var snapshot map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshot))
	assert.Contains(t, snapshot, "runs_started_total")
}

func TestLogsHandler_FiltersByRun(t *testing.T) {
	buf := logger.Recent()
	buf.Add(logger.Entry{Level: "info", Message: "partition done", RunID: "run-logs-a"})
	buf.Add(logger.Entry{Level: "error", Message: "partition failed", RunID: "run-logs-b"})

	s := newTestServer()
	resp, err := s.GetApp().Test(httptest.NewRequest("GET", "/api/v1/logs?run_id=run-logs-b", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out struct {
		Count int            `json:"count"`
		Logs  []logger.Entry `json:"logs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, 1, out.Count)
	assert.Equal(t, "partition failed", out.Logs[0].Message)
}

func TestReady_ReportsFailingChecks(t *testing.T) {
	s := newTestServer()
	s.AddReadinessCheck("storage", func(ctx context.Context) error { return nil })
	s.AddReadinessCheck("scheduler", func(ctx context.Context) error { return errors.New("scheduler stopped") })

	resp, err := s.GetApp().Test(httptest.NewRequest("GET", "/ready", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	var out struct {
		Status string            `json:"status"`
		Failed map[string]string `json:"failed"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "not_ready", out.Status)
	assert.Equal(t, map[string]string{"scheduler": "scheduler stopped"}, out.Failed)
}

func TestLogsHandler_RejectsBadLimit(t *testing.T) {
	s := newTestServer()

	resp, err := s.GetApp().Test(httptest.NewRequest("GET", "/api/v1/logs?limit=5000", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
