package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SamuraiBuddha/claude-flow-sub002/pkg/models"
)

func TestNew(t *testing.T) {
	c := New("http://127.0.0.1:7420", "")
	if c.BaseURL != "http://127.0.0.1:7420" || c.APIKey != "" {
		t.Errorf("New: %+v", c)
	}
	if c2 := New("http://127.0.0.1:7420", "secret"); c2.APIKey != "secret" {
		t.Errorf("New with key: %+v", c2)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ok, err := New(srv.URL, "").Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !ok {
		t.Fatal("Health: expected ok true")
	}
}

func TestAPIKeyHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-Key"); got != "secret" {
			t.Errorf("X-API-Key = %q", got)
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL, "secret").ListAgents(context.Background()); err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
}

func TestSpawnAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/agents" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var req models.SpawnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Type != "coder" {
			t.Errorf("type = %q", req.Type)
		}
		_ = json.NewEncoder(w).Encode(models.Agent{ID: "a1", Type: req.Type, Status: models.AgentIdle})
	}))
	defer srv.Close()

	ag, err := New(srv.URL, "").SpawnAgent(context.Background(), models.SpawnRequest{Type: "coder"})
	if err != nil {
		t.Fatalf("SpawnAgent: %v", err)
	}
	if ag.ID != "a1" || ag.Status != models.AgentIdle {
		t.Fatalf("agent = %+v", ag)
	}
}

func TestExecuteTask_setsExecuteFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.TaskRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Execute {
			t.Error("execute flag not set")
		}
		_ = json.NewEncoder(w).Encode(models.ExecuteResponse{
			Assignment: models.Assignment{TaskID: req.ID, AgentID: "a1"},
			Result:     models.TaskResult{TaskID: req.ID, Status: "completed"},
		})
	}))
	defer srv.Close()

	out, err := New(srv.URL, "").ExecuteTask(context.Background(), models.TaskRequest{ID: "t1", Name: "x"})
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if out.Result.Status != "completed" {
		t.Fatalf("result = %+v", out.Result)
	}
}

func TestErrorBodySurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"no candidate agent"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").AssignTask(context.Background(), models.TaskRequest{ID: "t1"})
	if err == nil || err.Error() != "api POST /tasks: no candidate agent" {
		t.Fatalf("err = %v", err)
	}
}

func TestOverrideGate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gates/TESTS_PASS/pass" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(models.GateState{GateID: "TESTS_PASS", Status: models.GatePassed, OverriddenBy: "human"})
	}))
	defer srv.Close()

	st, err := New(srv.URL, "").OverrideGate(context.Background(), "TESTS_PASS", "pass", "human", "")
	if err != nil {
		t.Fatalf("OverrideGate: %v", err)
	}
	if st.Status != models.GatePassed || st.OverriddenBy != "human" {
		t.Fatalf("state = %+v", st)
	}
}

func TestAuditEvents_query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("type") != "agent:error" || q.Get("limit") != "5" {
			t.Errorf("query = %v", q)
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL, "").AuditEvents(context.Background(), "agent:error", "", 5); err != nil {
		t.Fatalf("AuditEvents: %v", err)
	}
}
