package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/store"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "orchestrator.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSnapshots(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	if _, err := s.LatestSnapshot(ctx, store.KindGate); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("empty latest: %v", err)
	}

	if err := s.SaveSnapshot(ctx, store.KindGate, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := s.SaveSnapshot(ctx, store.KindGate, []byte(`{"v":2}`)); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := s.SaveSnapshot(ctx, store.KindAssign, []byte(`{"agents":[]}`)); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	latest, err := s.LatestSnapshot(ctx, store.KindGate)
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if string(latest.Data) != `{"v":2}` || latest.Kind != store.KindGate {
		t.Errorf("latest: %+v", latest)
	}

	all, err := s.ListSnapshots(ctx, store.KindGate, 10)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(all) != 2 || string(all[0].Data) != `{"v":2}` {
		t.Errorf("list: %+v", all)
	}
}

func TestAuditLog(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	evs := []store.AuditEvent{
		{Type: "agent:spawned", AgentID: "a1"},
		{Type: "task:assigned", AgentID: "a1", TaskID: "t1", Payload: []byte(`{"score":87.5}`)},
		{Type: "gate:passed", GateID: "SPEC_COMPLETE"},
	}
	for _, ev := range evs {
		if err := s.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	all, err := s.ListEvents(ctx, store.EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("events: %d", len(all))
	}
	// Newest first.
	if all[0].Type != "gate:passed" || all[0].GateID != "SPEC_COMPLETE" {
		t.Errorf("order: %+v", all[0])
	}

	byAgent, err := s.ListEvents(ctx, store.EventFilter{AgentID: "a1"})
	if err != nil {
		t.Fatalf("ListEvents by agent: %v", err)
	}
	if len(byAgent) != 2 {
		t.Errorf("by agent: %+v", byAgent)
	}
	byType, err := s.ListEvents(ctx, store.EventFilter{Type: "task:assigned", AgentID: "a1"})
	if err != nil {
		t.Fatalf("ListEvents by type: %v", err)
	}
	if len(byType) != 1 || string(byType[0].Payload) != `{"score":87.5}` {
		t.Errorf("by type: %+v", byType)
	}
}

func TestTaskRuns(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	runs := []store.TaskRun{
		{TaskID: "t1", AgentID: "a1", Status: "completed", Output: "done", TokensUsed: 42, Duration: 1500 * time.Millisecond},
		{TaskID: "t2", AgentID: "a2", Status: "failed", Error: "boom", Duration: 200 * time.Millisecond},
	}
	for _, r := range runs {
		if err := s.RecordTaskRun(ctx, r); err != nil {
			t.Fatalf("RecordTaskRun: %v", err)
		}
	}

	a1, err := s.ListTaskRuns(ctx, "a1", 10)
	if err != nil {
		t.Fatalf("ListTaskRuns: %v", err)
	}
	if len(a1) != 1 || a1[0].Duration != 1500*time.Millisecond || a1[0].TokensUsed != 42 {
		t.Errorf("a1 runs: %+v", a1)
	}
	all, err := s.ListTaskRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListTaskRuns all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all runs: %+v", all)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sqlite")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := s1.SaveSnapshot(context.Background(), store.KindGate, []byte(`{}`)); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	_ = s1.Close()

	// Reopening runs migrations again without error and keeps the data.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()
	if _, err := s2.LatestSnapshot(context.Background(), store.KindGate); err != nil {
		t.Errorf("data lost across reopen: %v", err)
	}
}
