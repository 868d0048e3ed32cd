package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/hookd/pkg/config"
	"github.com/kadirpekel/hookd/pkg/history"
	"github.com/kadirpekel/hookd/pkg/hooks"
	"github.com/kadirpekel/hookd/pkg/hooks/executor"
	"github.com/kadirpekel/hookd/pkg/hooks/manager"
	"github.com/kadirpekel/hookd/pkg/observability"
)

type fixture struct {
	server  *Server
	manager *manager.Manager
	history *history.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	obs := observability.NewManager(observability.Config{Metrics: observability.MetricsConfig{Enabled: true}})
	require.NoError(t, obs.Initialize(context.Background()))
	t.Cleanup(func() { _ = obs.Shutdown(context.Background()) })

	store := history.NewMemoryStore(100)
	m := manager.New(
		manager.WithObserver(history.NewRecorder(store, nil)),
		manager.WithObserver(obs.Metrics()),
	)
	require.NoError(t, m.RegisterCapability(executor.CapabilityFunc{Label: "echo", Fn: func(_ context.Context, hc hooks.Context) (executor.Outcome, error) {
		if hc.Hook.ID == "gate" {
			if v, _ := hc.Event.Data["deny"].(bool); v {
				return executor.Failed("denied", 0), nil
			}
		}
		return executor.Succeeded(hc.Hook.ID, 0), nil
	}}))
	_, err := m.AddHooks([]hooks.Definition{
		{ID: "gate", Event: hooks.EventExecBefore, Type: "echo", Mode: hooks.ModeBlocking, Required: true},
		{ID: "audit", Event: hooks.EventExecBefore, Type: "echo", DependsOn: []string{"gate"}},
		{ID: "hello", Event: hooks.EventSessionStart, Type: "echo"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	s, err := New(Options{Engine: m, History: store, Observability: obs})
	require.NoError(t, err)
	return &fixture{server: s, manager: m, history: store}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, reader))

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestNew_RequiresEngine(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorContains(t, err, "engine is required")
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["enabled"])
}

func TestTrigger(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/v1/events", `{"type":"exec_before","session_id":"s1","data":{"cmd":"ls"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := body["result"].(map[string]any)
	assert.Equal(t, float64(2), result["total"])
	assert.Equal(t, float64(2), result["successful"])
	assert.Equal(t, "s1", body["event"].(map[string]any)["session_id"])
	assert.Nil(t, body["error"])
}

func TestTrigger_RequiredFailure(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/v1/events", `{"type":"exec_before","data":{"deny":true}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, body["error"], "gate")
	assert.Equal(t, float64(1), body["result"].(map[string]any)["failed"])
}

func TestTrigger_BadRequests(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/v1/events", `{"type":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "invalid request body")

	rec, body = f.do(t, http.MethodPost, "/v1/events", `{"type":"lunch_break"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "lunch_break")
}

func TestHooksAndPlan(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/v1/hooks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["hooks"], 3)

	rec, body = f.do(t, http.MethodGet, "/v1/plan/exec_before", "")
	require.Equal(t, http.StatusOK, rec.Code)
	levels := body["levels"].([]any)
	require.Len(t, levels, 2)
	first := levels[0].(map[string]any)["hooks"].([]any)
	assert.Equal(t, "gate", first[0].(map[string]any)["id"])

	rec, _ = f.do(t, http.MethodGet, "/v1/plan/nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsAndExecutions(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/events", `{"type":"session_start"}`)

	rec, body := f.do(t, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["execution"].(map[string]any)["total_executions"])
	assert.Equal(t, []any{"echo"}, body["capabilities"])

	rec, body = f.do(t, http.MethodGet, "/v1/executions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["active"])

	rec, _ = f.do(t, http.MethodPost, "/v1/executions/missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = f.do(t, http.MethodPost, "/v1/executions/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["cancelled"])
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/events", `{"type":"exec_before","data":{"deny":true}}`)
	f.do(t, http.MethodPost, "/v1/events", `{"type":"session_start"}`)

	require.Eventually(t, func() bool { return f.history.Len() == 2 }, time.Second, 10*time.Millisecond)

	rec, body := f.do(t, http.MethodGet, "/v1/history?status=failed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := body["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "gate", entries[0].(map[string]any)["hook_id"])
	assert.Equal(t, float64(2), body["summary"].(map[string]any)["total"])

	rec, body = f.do(t, http.MethodGet, "/v1/history?event=session_start&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["entries"], 1)

	for _, bad := range []string{"?limit=0", "?since=yesterday", "?status=meh", "?event=nope"} {
		rec, _ = f.do(t, http.MethodGet, "/v1/history"+bad, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestHistory_Disabled(t *testing.T) {
	s, err := New(Options{Engine: manager.New()})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/history", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/events", `{"type":"session_start"}`)

	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hookd_hook_executions_total")
	assert.Contains(t, rec.Body.String(), "hookd_http_requests_total")
}

func TestServe_GracefulShutdown(t *testing.T) {
	s, err := New(Options{Engine: manager.New(), Config: config.ServerConfig{ShutdownTimeout: time.Second}})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Post("http://"+ln.Addr().String()+"/v1/events", "application/json",
		bytes.NewBufferString(`{"type":"error"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
