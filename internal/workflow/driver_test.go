package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/assign"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/events"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/gate"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/pool"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/worker"
)

// stubExec completes every task immediately.
type stubExec struct {
	executed []string
	fail     map[string]bool
}

func (s *stubExec) Execute(_ context.Context, agentID string, req worker.TaskRequest) (pool.Result, error) {
	s.executed = append(s.executed, req.TaskID)
	status := worker.ResultCompleted
	if s.fail[req.TaskID] {
		status = worker.ResultFailed
	}
	return pool.Result{TaskID: req.TaskID, Status: status, Duration: 10 * time.Millisecond}, nil
}

func passCheck(_ context.Context, _ *gate.Context) (bool, error) { return true, nil }

func boolCheck(key gate.Key) gate.CheckFunc {
	return func(_ context.Context, gctx *gate.Context) (bool, error) {
		return gctx.Bool(key), nil
	}
}

func testGate(id string, check gate.CheckFunc) gate.Gate {
	return gate.Gate{
		ID:           id,
		Name:         id,
		Requirements: []gate.Requirement{{ID: "r", Name: "r", Weight: 1, Mandatory: true, Check: check}},
		MinPassScore: 100,
	}
}

func newDriver(t *testing.T, exec Executor) (*Driver, *assign.Engine, *gate.Engine) {
	t.Helper()
	gates := gate.New(gate.DefaultConfig(), nil)
	assigner := assign.New(assign.DefaultConfig(), nil)
	assigner.Register(assign.Agent{ID: "a1", Type: "coder", MaxConcurrentTasks: 2})
	return New(gates, assigner, exec, nil), assigner, gates
}

func TestAdvance_gatePassDispatchesTasks(t *testing.T) {
	exec := &stubExec{}
	d, assigner, gates := newDriver(t, exec)
	if err := gates.Register(testGate("SPEC_COMPLETE", passCheck)); err != nil {
		t.Fatal(err)
	}

	in, err := d.Create("feature", []Phase{
		{Name: "implementation", Gates: []string{"SPEC_COMPLETE"}, Tasks: []assign.Task{
			{ID: "t1", Name: "build parser"},
			{ID: "t2", Name: "write tests"},
		}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := d.Start(in.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec, err := d.Advance(context.Background(), in.ID)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if rec.Status != StatusCompleted || len(rec.Tasks) != 2 {
		t.Fatalf("record: %+v", rec)
	}
	for _, out := range rec.Tasks {
		if !out.Success || out.AgentID != "a1" {
			t.Errorf("outcome: %+v", out)
		}
	}
	if len(exec.executed) != 2 {
		t.Errorf("executed: %v", exec.executed)
	}

	// Single-phase workflow completes after its phase.
	got, _ := d.Instance(in.ID)
	if got.Status != StatusCompleted || len(got.History) != 1 {
		t.Errorf("instance: %+v", got)
	}
	// Task completion fed the assignment engine's counters.
	a, _ := assigner.Agent("a1")
	if a.TasksCompleted != 2 || a.Workload != 0 {
		t.Errorf("agent: %+v", a)
	}
}

func TestAdvance_gateFailureHoldsPhase(t *testing.T) {
	exec := &stubExec{}
	d, _, gates := newDriver(t, exec)
	if err := gates.Register(testGate("PLAN_APPROVED", boolCheck(gate.KeyPlanApproved))); err != nil {
		t.Fatal(err)
	}

	in, _ := d.Create("feature", []Phase{
		{Name: "planning", Gates: []string{"PLAN_APPROVED"}, Tasks: []assign.Task{{ID: "t1", Name: "plan"}}},
	})
	if err := d.Start(in.ID); err != nil {
		t.Fatal(err)
	}

	rec, err := d.Advance(context.Background(), in.ID)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if rec.Status != StatusFailed || len(rec.Tasks) != 0 {
		t.Fatalf("record: %+v", rec)
	}
	if len(exec.executed) != 0 {
		t.Errorf("dispatched despite failed gate: %v", exec.executed)
	}
	got, _ := d.Instance(in.ID)
	if got.CurrentPhase() != "planning" {
		t.Errorf("phase moved: %+v", got)
	}

	// Once the gate's requirement is satisfiable, the same phase advances.
	gates.Context().SetBool(gate.KeyPlanApproved, true)
	if err := d.Resume(in.ID); err == nil {
		t.Fatal("Resume of a running instance must fail")
	}
	rec, err = d.Advance(context.Background(), in.ID)
	if err != nil {
		t.Fatalf("second Advance: %v", err)
	}
	if rec.Status != StatusCompleted {
		t.Errorf("second record: %+v", rec)
	}
}

func TestAdvance_multiPhaseAndEvents(t *testing.T) {
	hub := events.NewHub()
	sub := hub.Subscribe()
	gates := gate.New(gate.DefaultConfig(), nil)
	assigner := assign.New(assign.DefaultConfig(), nil)
	assigner.Register(assign.Agent{ID: "a1", Type: "coder", MaxConcurrentTasks: 2})
	exec := &stubExec{}
	d := New(gates, assigner, exec, hub)

	for _, id := range []string{"g1", "g2"} {
		if err := gates.Register(testGate(id, passCheck)); err != nil {
			t.Fatal(err)
		}
	}
	in, _ := d.Create("release", []Phase{
		{Name: "build", Gates: []string{"g1"}, Tasks: []assign.Task{{ID: "t1", Name: "compile"}}},
		{Name: "ship", Gates: []string{"g2"}},
	})
	if err := d.Start(in.ID); err != nil {
		t.Fatal(err)
	}

	if rec, err := d.Advance(context.Background(), in.ID); err != nil || rec.Status != StatusCompleted {
		t.Fatalf("first Advance: %+v err=%v", rec, err)
	}
	got, _ := d.Instance(in.ID)
	if got.Status != StatusRunning || got.CurrentPhase() != "ship" {
		t.Fatalf("instance after first phase: %+v", got)
	}
	if rec, err := d.Advance(context.Background(), in.ID); err != nil || rec.Status != StatusCompleted {
		t.Fatalf("second Advance: %+v err=%v", rec, err)
	}
	got, _ = d.Instance(in.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("instance: %+v", got)
	}

	advances := 0
	deadline := time.After(2 * time.Second)
	for advances < 2 {
		select {
		case ev := <-sub:
			if ev.Type == events.GateAdvance && ev.Workflow == in.ID {
				advances++
			}
		case <-deadline:
			t.Fatalf("saw %d gate:advance events, want 2", advances)
		}
	}
}

func TestAdvance_taskFailureFailsPhase(t *testing.T) {
	exec := &stubExec{fail: map[string]bool{"t1": true}}
	d, assigner, gates := newDriver(t, exec)
	if err := gates.Register(testGate("g", passCheck)); err != nil {
		t.Fatal(err)
	}
	in, _ := d.Create("wf", []Phase{
		{Name: "impl", Gates: []string{"g"}, Tasks: []assign.Task{{ID: "t1", Name: "doomed"}}},
	})
	if err := d.Start(in.ID); err != nil {
		t.Fatal(err)
	}

	rec, err := d.Advance(context.Background(), in.ID)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if rec.Status != StatusFailed || rec.Tasks[0].Success {
		t.Errorf("record: %+v", rec)
	}
	got, _ := d.Instance(in.ID)
	if got.Status != StatusFailed {
		t.Errorf("instance: %+v", got)
	}
	a, _ := assigner.Agent("a1")
	if a.TasksFailed != 1 {
		t.Errorf("agent: %+v", a)
	}
}

func TestPauseCancelLifecycle(t *testing.T) {
	d, _, gates := newDriver(t, &stubExec{})
	if err := gates.Register(testGate("g", passCheck)); err != nil {
		t.Fatal(err)
	}
	in, _ := d.Create("wf", []Phase{{Name: "p", Gates: []string{"g"}}})

	if err := d.Pause(in.ID); err == nil {
		t.Fatal("Pause of a pending instance must fail")
	}
	if err := d.Start(in.ID); err != nil {
		t.Fatal(err)
	}
	if err := d.Pause(in.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := d.Advance(context.Background(), in.ID); err == nil {
		t.Fatal("Advance of a paused instance must fail")
	}
	if err := d.Resume(in.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := d.Cancel(in.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ := d.Instance(in.ID)
	if got.Status != StatusCancelled {
		t.Errorf("instance: %+v", got)
	}
	if err := d.Cancel(in.ID); err == nil {
		t.Fatal("Cancel of a cancelled instance must fail")
	}
}

func TestRollback_resetsGatesAndWaitsForResume(t *testing.T) {
	d, _, gates := newDriver(t, &stubExec{})
	for _, id := range []string{"g1", "g2"} {
		if err := gates.Register(testGate(id, passCheck)); err != nil {
			t.Fatal(err)
		}
	}
	in, _ := d.Create("wf", []Phase{
		{Name: "build", Gates: []string{"g1"}},
		{Name: "ship", Gates: []string{"g2"}},
	})
	if err := d.Start(in.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Advance(context.Background(), in.ID); err != nil {
		t.Fatal(err)
	}

	if err := d.Rollback(in.ID); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	got, _ := d.Instance(in.ID)
	if got.Status != StatusRolledBack || got.CurrentPhase() != "build" {
		t.Fatalf("instance: %+v", got)
	}
	if got.History[0].Status != StatusRolledBack {
		t.Errorf("history: %+v", got.History)
	}
	// The re-entered phase's gates are back to pending.
	if st, _ := gates.State("g1"); st.Status != gate.StatusPending {
		t.Errorf("g1 state: %+v", st)
	}

	if err := d.Resume(in.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if rec, err := d.Advance(context.Background(), in.ID); err != nil || rec.Status != StatusCompleted {
		t.Fatalf("Advance after rollback: %+v err=%v", rec, err)
	}
}

func TestRollback_nothingToRollBack(t *testing.T) {
	d, _, _ := newDriver(t, &stubExec{})
	in, _ := d.Create("wf", []Phase{{Name: "only"}})
	if err := d.Rollback(in.ID); err == nil {
		t.Fatal("expected error")
	}
}

func TestAdvance_publishesGateContextStats(t *testing.T) {
	exec := &stubExec{}
	d, _, gates := newDriver(t, exec)
	// The gate reads fleet state the driver publishes before checking.
	tasksDone := func(_ context.Context, gctx *gate.Context) (bool, error) {
		return gctx.Int(gate.KeyTasksFailed) == 0, nil
	}
	if err := gates.Register(testGate("NO_FAILURES", tasksDone)); err != nil {
		t.Fatal(err)
	}
	in, _ := d.Create("wf", []Phase{
		{Name: "p1", Gates: []string{"NO_FAILURES"}, Tasks: []assign.Task{{ID: "t1", Name: "work"}}},
	})
	if err := d.Start(in.ID); err != nil {
		t.Fatal(err)
	}
	rec, err := d.Advance(context.Background(), in.ID)
	if err != nil || rec.Status != StatusCompleted {
		t.Fatalf("Advance: %+v err=%v", rec, err)
	}
	if gates.Context().Int(gate.KeyTasksCompleted) != 1 {
		t.Errorf("context tasks.completed: %d", gates.Context().Int(gate.KeyTasksCompleted))
	}
}

func TestAssignSelector_restrictsToLiveAgents(t *testing.T) {
	assigner := assign.New(assign.DefaultConfig(), nil)
	assigner.Register(assign.Agent{ID: "a1", Type: "coder", MaxConcurrentTasks: 2})
	assigner.Register(assign.Agent{ID: "a2", Type: "coder", MaxConcurrentTasks: 2})
	sel := AssignSelector{Engine: assigner}

	// Only a2 has a live idle process.
	id, ok := sel.Select(worker.TaskRequest{TaskID: "t1", Name: "task"}, []string{"a2"})
	if !ok || id != "a2" {
		t.Fatalf("selected %q ok=%v", id, ok)
	}
	if _, ok := sel.Select(worker.TaskRequest{TaskID: "t2"}, nil); ok {
		t.Fatal("selection with no live agents must fail")
	}
}
