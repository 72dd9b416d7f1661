package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/assign"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/events"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/gate"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/pool"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/worker"
)

// Executor runs one task on a named worker process. *pool.Pool satisfies
// it; tests substitute a stub.
type Executor interface {
	Execute(ctx context.Context, agentID string, req worker.TaskRequest) (pool.Result, error)
}

// Driver owns workflow instances and wires the three engines together:
// gates decide whether a phase may proceed, the assignment engine picks an
// agent per task, and the executor runs the task on that agent's process.
type Driver struct {
	mu        sync.Mutex
	gates     *gate.Engine
	assigner  *assign.Engine
	exec      Executor
	hub       *events.Hub
	instances map[string]*Instance
	now       func() time.Time
}

// New creates a driver. hub may be nil; exec may be nil for gate-only use.
func New(gates *gate.Engine, assigner *assign.Engine, exec Executor, hub *events.Hub) *Driver {
	return &Driver{
		gates:     gates,
		assigner:  assigner,
		exec:      exec,
		hub:       hub,
		instances: make(map[string]*Instance),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a new pending instance.
func (d *Driver) Create(name string, phases []Phase) (Instance, error) {
	if len(phases) == 0 {
		return Instance{}, fmt.Errorf("workflow: at least one phase required")
	}
	in := &Instance{
		ID:        uuid.NewString(),
		Name:      name,
		Phases:    append([]Phase(nil), phases...),
		Status:    StatusPending,
		CreatedAt: d.now(),
		UpdatedAt: d.now(),
	}
	d.mu.Lock()
	d.instances[in.ID] = in
	d.mu.Unlock()
	return *in, nil
}

// Start moves a pending instance to running and enters its first phase.
func (d *Driver) Start(id string) error {
	return d.setStatus(id, StatusRunning, StatusPending)
}

// Pause suspends a running instance; Advance refuses until Resume.
func (d *Driver) Pause(id string) error {
	return d.setStatus(id, StatusPaused, StatusRunning)
}

// Resume returns a paused or rolled-back instance to running.
func (d *Driver) Resume(id string) error {
	return d.setStatus(id, StatusRunning, StatusPaused, StatusRolledBack)
}

// Cancel terminates an instance. An in-flight Advance stops dispatching
// before its next task.
func (d *Driver) Cancel(id string) error {
	return d.setStatus(id, StatusCancelled, StatusPending, StatusRunning, StatusPaused, StatusRolledBack)
}

func (d *Driver) setStatus(id string, to Status, from ...Status) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	in, ok := d.instances[id]
	if !ok {
		return fmt.Errorf("workflow: unknown instance %q", id)
	}
	allowed := false
	for _, f := range from {
		if in.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("workflow: instance %s is %s", id, in.Status)
	}
	in.Status = to
	in.UpdatedAt = d.now()
	return nil
}

// Instance returns a copy of one instance.
func (d *Driver) Instance(id string) (Instance, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	in, ok := d.instances[id]
	if !ok {
		return Instance{}, false
	}
	return copyInstance(in), true
}

// Instances returns copies of all instances, ordered by creation time.
func (d *Driver) Instances() []Instance {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Instance, 0, len(d.instances))
	for _, in := range d.instances {
		out = append(out, copyInstance(in))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Advance evaluates the current phase's gates and, if they all pass,
// dispatches the phase's tasks and moves to the next phase. A gate that
// does not pass leaves the instance in place; the returned record carries
// the gate results either way.
func (d *Driver) Advance(ctx context.Context, id string) (PhaseRecord, error) {
	d.mu.Lock()
	in, ok := d.instances[id]
	if !ok {
		d.mu.Unlock()
		return PhaseRecord{}, fmt.Errorf("workflow: unknown instance %q", id)
	}
	if in.Status != StatusRunning {
		d.mu.Unlock()
		return PhaseRecord{}, fmt.Errorf("workflow: instance %s is %s, not running", id, in.Status)
	}
	if in.Current >= len(in.Phases) {
		d.mu.Unlock()
		return PhaseRecord{}, fmt.Errorf("workflow: instance %s has no phases left", id)
	}
	phase := in.Phases[in.Current]
	d.mu.Unlock()

	rec := PhaseRecord{Phase: phase.Name, EnteredAt: d.now(), Status: StatusRunning}

	d.publishStats()
	results, err := d.gates.CheckGates(ctx, phase.Gates)
	rec.GateResults = results
	if err != nil {
		return rec, err
	}
	for _, gid := range phase.Gates {
		st, ok := d.gates.State(gid)
		if !ok || !(st.Status == gate.StatusPassed || st.Status == gate.StatusSkipped) {
			rec.Status = StatusFailed
			slog.Info("phase gate not satisfied", "workflow", id, "phase", phase.Name, "gate", gid)
			return rec, nil
		}
	}

	rec.Tasks = d.dispatch(ctx, id, phase.Tasks)
	rec.ExitedAt = d.now()
	rec.Status = StatusCompleted
	for _, t := range rec.Tasks {
		if !t.Success {
			rec.Status = StatusFailed
		}
	}

	d.mu.Lock()
	in, ok = d.instances[id]
	if !ok {
		d.mu.Unlock()
		return rec, fmt.Errorf("workflow: instance %q gone during advance", id)
	}
	in.History = append(in.History, rec)
	from := phase.Name
	to := ""
	if rec.Status == StatusCompleted && in.Status == StatusRunning {
		in.Current++
		if in.Current >= len(in.Phases) {
			in.Status = StatusCompleted
		} else {
			to = in.Phases[in.Current].Name
		}
	} else if rec.Status == StatusFailed && in.Status == StatusRunning {
		in.Status = StatusFailed
	}
	in.UpdatedAt = d.now()
	status := in.Status
	d.mu.Unlock()

	if rec.Status == StatusCompleted {
		d.publish(events.Event{Type: events.GateAdvance, Workflow: id, Data: map[string]any{
			"from": from, "to": to, "instance_status": string(status),
		}})
	}
	return rec, nil
}

// Rollback re-enters the previous phase: the abandoned phase's history
// entry is marked rolled_back, its gates are reset, and the instance waits
// in rolled_back until Resume.
func (d *Driver) Rollback(id string) error {
	d.mu.Lock()
	in, ok := d.instances[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("workflow: unknown instance %q", id)
	}
	if in.Current == 0 && len(in.History) == 0 {
		d.mu.Unlock()
		return fmt.Errorf("workflow: instance %s has no phase to roll back to", id)
	}
	if in.Current > 0 {
		in.Current--
	}
	if n := len(in.History); n > 0 {
		in.History[n-1].Status = StatusRolledBack
	}
	phase := in.Phases[in.Current]
	in.Status = StatusRolledBack
	in.UpdatedAt = d.now()
	d.mu.Unlock()

	for _, gid := range phase.Gates {
		if err := d.gates.Reset(gid); err != nil {
			return err
		}
	}
	slog.Info("workflow rolled back", "workflow", id, "phase", phase.Name)
	return nil
}

// dispatch assigns and executes each task in order, stopping early if the
// instance leaves running state.
func (d *Driver) dispatch(ctx context.Context, id string, tasks []assign.Task) []TaskOutcome {
	var outcomes []TaskOutcome
	for _, task := range tasks {
		if in, ok := d.Instance(id); !ok || in.Status != StatusRunning {
			break
		}
		out := d.runTask(ctx, task)
		outcomes = append(outcomes, out)
		d.publishStats()
	}
	return outcomes
}

func (d *Driver) runTask(ctx context.Context, task assign.Task) TaskOutcome {
	out := TaskOutcome{TaskID: task.ID}
	a := d.assigner.Assign(task, assign.Constraints{})
	if a == nil {
		out.Error = "no candidate agent"
		return out
	}
	out.AgentID = a.AgentID

	if d.exec == nil {
		out.Error = "no executor configured"
		_ = d.assigner.Complete(task.ID, false)
		return out
	}
	if err := d.assigner.MarkStarted(task.ID); err != nil {
		out.Error = err.Error()
		return out
	}
	req := worker.TaskRequest{TaskID: task.ID, Name: task.Name, Payload: task.Payload}
	if task.EstimatedDuration > 0 {
		req.TimeoutMs = (2 * task.EstimatedDuration).Milliseconds()
	}
	res, err := d.exec.Execute(ctx, a.AgentID, req)
	out.Duration = res.Duration
	out.Success = err == nil && res.Completed()
	if err != nil {
		out.Error = err.Error()
	} else if res.Error != "" {
		out.Error = res.Error
	}
	if cerr := d.assigner.Complete(task.ID, out.Success); cerr != nil {
		slog.Warn("complete task failed", "task", task.ID, "err", cerr)
	}
	d.assigner.RecordDuration(a.AgentID, res.Duration)
	return out
}

// publishStats refreshes the gate context keys that fleet-level
// requirement checks read.
func (d *Driver) publishStats() {
	gctx := d.gates.Context()
	var total, completed, failed int
	var workload float64
	agents := d.assigner.Agents()
	for _, a := range agents {
		completed += a.TasksCompleted
		failed += a.TasksFailed
		total += a.TasksCompleted + a.TasksFailed + len(a.ActiveTasks) + len(a.QueuedTasks)
		workload += a.Workload
	}
	if len(agents) > 0 {
		workload /= float64(len(agents))
	}
	gctx.SetInt(gate.KeyTasksTotal, int64(total))
	gctx.SetInt(gate.KeyTasksCompleted, int64(completed))
	gctx.SetInt(gate.KeyTasksFailed, int64(failed))
	gctx.SetFloat(gate.KeyFleetWorkload, workload)

	if p, ok := d.exec.(*pool.Pool); ok && p != nil {
		s := p.Stats()
		gctx.SetInt(gate.KeyPoolIdle, int64(s.Idle))
		gctx.SetInt(gate.KeyPoolBusy, int64(s.Busy))
		gctx.SetInt(gate.KeyPoolFailed, int64(s.Failed))
	}
}

func (d *Driver) publish(ev events.Event) {
	if d.hub != nil {
		d.hub.Publish(ev)
	}
}

func copyInstance(in *Instance) Instance {
	cp := *in
	cp.Phases = append([]Phase(nil), in.Phases...)
	cp.History = append([]PhaseRecord(nil), in.History...)
	return cp
}
