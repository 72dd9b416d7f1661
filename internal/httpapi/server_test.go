package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/assign"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/events"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/gate"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/pool"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/store"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/store/sqlite"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/workflow"
)

const echoWorker = `#!/bin/sh
echo '{"type":"ready"}'
while read -r line; do
  task_id=$(printf '%s' "$line" | sed -n 's/.*"task_id":"\([^"]*\)".*/\1/p')
  echo "{\"type\":\"result\",\"task_id\":\"$task_id\",\"status\":\"completed\",\"output\":\"done\"}"
done
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

type testApp struct {
	*App
	hub    *events.Hub
	pool   *pool.Pool
	assign *assign.Engine
	gates  *gate.Engine
	flows  *workflow.Driver
	store  store.Store
}

func newTestApp(t *testing.T, apiKey string) *testApp {
	t.Helper()
	hub := events.NewHub()
	p := pool.New(pool.Config{
		MaxAgents:      2,
		Command:        writeScript(t, echoWorker),
		ReadyTimeout:   5 * time.Second,
		TaskTimeout:    5 * time.Second,
		CancelGrace:    100 * time.Millisecond,
		TerminateGrace: 200 * time.Millisecond,
	}, hub)
	t.Cleanup(func() { p.TerminateAll("test teardown") })
	eng := assign.New(assign.DefaultConfig(), hub)
	gates := gate.New(gate.DefaultConfig(), hub)
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	flows := workflow.New(gates, eng, p, hub)

	app, err := NewApp(Options{
		APIKey:    apiKey,
		Pool:      p,
		Assign:    eng,
		Gates:     gates,
		Workflows: flows,
		Hub:       hub,
		Store:     st,
	})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	return &testApp{App: app, hub: hub, pool: p, assign: eng, gates: gates, flows: flows, store: st}
}

func (a *testApp) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.Server.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth_noAuthRequired(t *testing.T) {
	app := newTestApp(t, "secret")
	rec := app.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health: %d", rec.Code)
	}
}

func TestAPIKey_required(t *testing.T) {
	app := newTestApp(t, "secret")
	rec := app.do(t, http.MethodGet, "/gates", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("GET /gates without key: %d, want 401", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/gates", nil)
	req.Header.Set("X-API-Key", "secret")
	rec2 := httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("GET /gates with key: %d", rec2.Code)
	}
}

func TestAgents_spawnExecuteTerminate(t *testing.T) {
	app := newTestApp(t, "")

	rec := app.do(t, http.MethodPost, "/agents", map[string]any{
		"type": "coder",
		"name": "alpha",
		"capabilities": map[string]any{
			"languages": []string{"go"},
		},
		"max_concurrent_tasks": 2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("spawn: %d %s", rec.Code, rec.Body.String())
	}
	ag := decode[pool.ProcessAgent](t, rec)
	if ag.ID == "" || ag.Status != pool.StatusIdle {
		t.Fatalf("spawned agent = %+v", ag)
	}

	rec = app.do(t, http.MethodPost, "/tasks", map[string]any{
		"id":      "t1",
		"name":    "build go service",
		"execute": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("execute: %d %s", rec.Code, rec.Body.String())
	}
	out := decode[executeResponse](t, rec)
	if out.Assignment.AgentID != ag.ID || !out.Result.Completed() {
		t.Fatalf("execute response = %+v", out)
	}

	runs, err := app.store.ListTaskRuns(context.Background(), ag.ID, 0)
	if err != nil || len(runs) != 1 {
		t.Fatalf("task runs = %v, %v", runs, err)
	}

	rec = app.do(t, http.MethodDelete, "/agents/"+ag.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("terminate: %d %s", rec.Code, rec.Body.String())
	}
	got, _ := app.pool.Agent(ag.ID)
	if got.Status != pool.StatusTerminated {
		t.Fatalf("status after delete = %s", got.Status)
	}
}

func TestAgents_spawnOverCapacity(t *testing.T) {
	app := newTestApp(t, "")
	for i := 0; i < 2; i++ {
		rec := app.do(t, http.MethodPost, "/agents", map[string]any{"type": "coder"})
		if rec.Code != http.StatusOK {
			t.Fatalf("spawn %d: %d %s", i, rec.Code, rec.Body.String())
		}
	}
	rec := app.do(t, http.MethodPost, "/agents", map[string]any{"type": "coder"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("third spawn: %d, want 409", rec.Code)
	}
}

func TestTasks_assignWithoutAgents(t *testing.T) {
	app := newTestApp(t, "")
	rec := app.do(t, http.MethodPost, "/tasks", map[string]any{"id": "t1", "name": "x"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("assign with no agents: %d, want 409", rec.Code)
	}
}

func TestTasks_assignAndComplete(t *testing.T) {
	app := newTestApp(t, "")
	app.assign.Register(assign.Agent{ID: "a1", Type: "coder", MaxConcurrentTasks: 2})

	rec := app.do(t, http.MethodPost, "/tasks", map[string]any{"id": "t1", "name": "review code"})
	if rec.Code != http.StatusOK {
		t.Fatalf("assign: %d %s", rec.Code, rec.Body.String())
	}
	asn := decode[assign.Assignment](t, rec)
	if asn.AgentID != "a1" {
		t.Fatalf("assignment = %+v", asn)
	}

	rec = app.do(t, http.MethodPost, "/tasks/t1/complete", map[string]any{"success": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", rec.Code, rec.Body.String())
	}
	ag, _ := app.assign.Agent("a1")
	if ag.TasksCompleted != 1 {
		t.Fatalf("TasksCompleted = %d", ag.TasksCompleted)
	}
}

func TestRebalance(t *testing.T) {
	app := newTestApp(t, "")
	rec := app.do(t, http.MethodPost, "/rebalance", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rebalance: %d", rec.Code)
	}
}

func TestGates_checkAndOverride(t *testing.T) {
	app := newTestApp(t, "")
	err := app.gates.Register(gate.Gate{
		ID:           "TESTS_PASS",
		MinPassScore: 100,
		Requirements: []gate.Requirement{{
			ID: "unit", Weight: 1, Mandatory: true,
			Check: func(ctx context.Context, gctx *gate.Context) (bool, error) {
				return gctx.Bool("tests.unit"), nil
			},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := app.do(t, http.MethodPost, "/gates/TESTS_PASS/check", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("check: %d %s", rec.Code, rec.Body.String())
	}
	res := decode[gate.Result](t, rec)
	if res.Status != gate.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}

	rec = app.do(t, http.MethodPut, "/context", map[string]any{
		"tests.unit": map[string]any{"kind": "bool", "bool": true},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("context put: %d %s", rec.Code, rec.Body.String())
	}
	rec = app.do(t, http.MethodPost, "/gates/TESTS_PASS/check", nil)
	res = decode[gate.Result](t, rec)
	if res.Status != gate.StatusPassed {
		t.Fatalf("status after context = %s, want passed", res.Status)
	}

	rec = app.do(t, http.MethodPost, "/gates/TESTS_PASS/reset", nil)
	st := decode[gate.State](t, rec)
	if st.Status != gate.StatusPending {
		t.Fatalf("status after reset = %s", st.Status)
	}
	rec = app.do(t, http.MethodPost, "/gates/TESTS_PASS/pass", map[string]any{"by": "reviewer"})
	st = decode[gate.State](t, rec)
	if st.Status != gate.StatusPassed || st.OverriddenBy != "reviewer" {
		t.Fatalf("state after pass = %+v", st)
	}
}

func TestGates_unknownGate(t *testing.T) {
	app := newTestApp(t, "")
	rec := app.do(t, http.MethodPost, "/gates/NOPE/check", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("check unknown: %d", rec.Code)
	}
	rec = app.do(t, http.MethodGet, "/gates/NOPE", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get unknown: %d", rec.Code)
	}
}

func TestWorkflows_lifecycle(t *testing.T) {
	app := newTestApp(t, "")
	err := app.gates.Register(gate.Gate{
		ID:           "READY",
		MinPassScore: 100,
		Requirements: []gate.Requirement{{
			ID: "always", Weight: 1,
			Check: func(ctx context.Context, gctx *gate.Context) (bool, error) { return true, nil },
		}},
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := app.do(t, http.MethodPost, "/workflows", map[string]any{
		"name": "release",
		"phases": []map[string]any{
			{"name": "verify", "gates": []string{"READY"}},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	in := decode[workflow.Instance](t, rec)

	rec = app.do(t, http.MethodPost, "/workflows/"+in.ID+"/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	rec = app.do(t, http.MethodPost, "/workflows/"+in.ID+"/advance", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("advance: %d %s", rec.Code, rec.Body.String())
	}
	recPhase := decode[workflow.PhaseRecord](t, rec)
	if recPhase.Status != workflow.StatusCompleted {
		t.Fatalf("phase record = %+v", recPhase)
	}

	rec = app.do(t, http.MethodGet, "/workflows/"+in.ID, nil)
	got := decode[workflow.Instance](t, rec)
	if got.Status != workflow.StatusCompleted {
		t.Fatalf("instance status = %s", got.Status)
	}
}

func TestPoolStats(t *testing.T) {
	app := newTestApp(t, "")
	rec := app.do(t, http.MethodGet, "/pool", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pool: %d", rec.Code)
	}
	stats := decode[pool.Stats](t, rec)
	if stats.Capacity != 2 {
		t.Fatalf("capacity = %d, want 2", stats.Capacity)
	}
}

func TestStateSaveAndAudit(t *testing.T) {
	app := newTestApp(t, "")
	app.assign.Register(assign.Agent{ID: "a1", Type: "coder", MaxConcurrentTasks: 1})

	rec := app.do(t, http.MethodPost, "/state/save", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state save: %d %s", rec.Code, rec.Body.String())
	}
	snap, err := app.store.LatestSnapshot(context.Background(), store.KindAssign)
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	var got assign.Snapshot
	if err := json.Unmarshal(snap.Data, &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Agents) != 1 || got.Agents[0].ID != "a1" {
		t.Fatalf("snapshot agents = %+v", got.Agents)
	}

	if err := app.store.AppendEvent(context.Background(), store.AuditEvent{Type: "agent:spawned", AgentID: "a1"}); err != nil {
		t.Fatal(err)
	}
	rec = app.do(t, http.MethodGet, "/audit?agent_id=a1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit: %d %s", rec.Code, rec.Body.String())
	}
	evs := decode[[]store.AuditEvent](t, rec)
	if len(evs) != 1 || evs[0].Type != "agent:spawned" {
		t.Fatalf("audit events = %+v", evs)
	}
}

func TestBodyLimit(t *testing.T) {
	app := newTestApp(t, "")
	big := make([]byte, 2<<20)
	for i := range big {
		big[i] = 'a'
	}
	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(append([]byte(`{"id":"`), append(big, []byte(`"}`)...)...)))
	rec := httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized body: %d, want 400", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	app := newTestApp(t, "")
	for _, path := range []string{"/pool", "/audit"} {
		rec := app.do(t, http.MethodPost, path, nil)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: %d, want 405", path, rec.Code)
		}
	}
	rec := app.do(t, http.MethodDelete, "/tasks", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE /tasks: %d, want 405", rec.Code)
	}
}
