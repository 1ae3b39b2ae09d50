package clog

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributes(t *testing.T) {
	// No bag: everything is a no-op.
	AddAttribute(context.Background(), "k", "v")
	assert.Nil(t, GetAttributes(context.Background()))

	ctx := ContextWithSlog(context.Background())
	AddAttribute(ctx, "task_id", "T1")
	AddAttributes(ctx, map[string]any{"remote": map[string]any{"job": "j1"}})
	AddAttributes(ctx, map[string]any{"remote": map[string]any{"status": "running"}})
	errBoom := errors.New("boom")
	AddError(ctx, errBoom)

	got := GetAttributes(ctx)
	assert.Equal(t, "T1", got["task_id"])
	assert.Equal(t, map[string]any{"job": "j1", "status": "running"}, got["remote"])
	assert.Equal(t, errBoom, GetError(ctx))
	assert.Equal(t, "T1", GetAttribute[string](ctx, "task_id"))
	assert.Zero(t, GetAttribute[int](ctx, "task_id"))

	// The returned map is a copy.
	got["task_id"] = "changed"
	assert.Equal(t, "T1", GetAttribute[string](ctx, "task_id"))
}

func TestHTTPStatusToLevel(t *testing.T) {
	tests := []struct {
		status int
		want   Level
	}{
		{http.StatusOK, LevelInfo},
		{http.StatusAccepted, LevelInfo},
		{http.StatusNotFound, LevelWarn},
		{http.StatusPreconditionFailed, LevelWarn},
		{499, LevelInfo},
		{http.StatusInternalServerError, LevelError},
		{0, LevelError},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusToLevel(tt.status))
		})
	}
}

func TestSlogChiMiddleware(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(NewAttributesHandler(NewHTTPTextHandler(&buf, WithColor(false)))))
	t.Cleanup(func() { slog.SetDefault(prev) })

	h := SlogChiMiddleware(WithChiAttributes(func(r *http.Request) map[string]any {
		return map[string]any{"owner_id": "alice"}
	}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddAttribute(r.Context(), "task_id", "T1")
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/tasks/T1", nil))

	out := buf.String()
	assert.Contains(t, out, "WARN HTTP/1.1 GET /api/tasks/T1 404 Not Found\n")
	assert.Contains(t, out, "    owner_id=alice\n")
	assert.Contains(t, out, "    task_id=T1\n")
}

func TestSlogChiMiddlewareFilter(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(NewHTTPTextHandler(&buf, WithColor(false))))
	t.Cleanup(func() { slog.SetDefault(prev) })

	h := SlogChiMiddleware(WithChiFilter(func(r *http.Request) bool { return r.URL.Path != "/health" }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, buf.String())
}

func TestHTTPTextHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHTTPTextHandler(&buf, WithColor(false), WithLevel(slog.LevelWarn), WithColumns("project_run_id")))

	logger.Info("hidden")
	logger.With("poller", "project").Warn("poll failed", "project_run_id", "R1", ErrorAttributeKey, errors.New("timeout"))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "WARN R1 poll failed timeout")
	assert.Equal(t, "    poller=project", string(lines[1]))
}
