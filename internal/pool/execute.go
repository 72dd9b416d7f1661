package pool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/events"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/worker"
)

// Selector picks an agent when the caller does not name one. The pool
// passes the ids of idle agents with live processes; implementations
// consult their own metadata (the assignment engine in production).
type Selector interface {
	Select(req worker.TaskRequest, idleAgents []string) (agentID string, ok bool)
}

// Result is the outcome of one task execution on a worker.
type Result struct {
	TaskID     string        `json:"task_id"`
	Status     string        `json:"status"`
	Output     string        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	TokensUsed int64         `json:"tokens_used,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Completed reports whether the worker finished the task successfully.
func (r Result) Completed() bool { return r.Status == worker.ResultCompleted }

// ExecuteTask runs a task on the named agent, or consults sel to pick one
// when agentID is empty. Returns ErrAgentUnavailable when no agent can
// take the task.
func (p *Pool) ExecuteTask(ctx context.Context, req worker.TaskRequest, agentID string, sel Selector) (Result, error) {
	if agentID == "" {
		idle := p.IdleAgents()
		if sel == nil || len(idle) == 0 {
			return Result{}, fmt.Errorf("%w: %d idle agents", ErrAgentUnavailable, len(idle))
		}
		id, ok := sel.Select(req, idle)
		if !ok {
			return Result{}, fmt.Errorf("%w: selector found no candidate", ErrAgentUnavailable)
		}
		agentID = id
	}
	return p.Execute(ctx, agentID, req)
}

// Execute runs one task on one agent: idle -> busy, write the request,
// consume worker messages until the result, then back to idle. Success and
// failure both return the agent to service; only a process-level error
// moves it to the failed pool. Context cancellation interrupts the worker
// and, if it has to be killed, respawns a fresh process for the same agent
// so it still comes back idle.
func (p *Pool) Execute(ctx context.Context, agentID string, req worker.TaskRequest) (Result, error) {
	p.mu.Lock()
	h, ok := p.agents[agentID]
	if !ok {
		p.mu.Unlock()
		return Result{}, fmt.Errorf("pool: unknown agent %q", agentID)
	}
	if h.agent.Status != StatusIdle || h.proc == nil || !h.proc.alive() {
		status := h.agent.Status
		p.mu.Unlock()
		return Result{}, fmt.Errorf("%w: agent %s is %s", ErrAgentUnavailable, agentID, status)
	}
	h.agent.Status = StatusBusy
	h.agent.CurrentTask = req.TaskID
	h.agent.LastActivity = p.now()
	h.cancelling = false
	h.stalled = false
	proc := h.proc
	p.mu.Unlock()

	timeout := p.cfg.TaskTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	req.TimeoutMs = timeout.Milliseconds()

	start := p.now()
	if err := proc.send(req); err != nil {
		p.failAgent(agentID, fmt.Sprintf("write to worker failed: %v", err))
		return Result{}, fmt.Errorf("%w: %v", ErrProcessExited, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	interrupted := false
	for {
		select {
		case msg, open := <-proc.msgs:
			if !open {
				return p.finishExit(agentID, proc, req.TaskID, start)
			}
			p.touch(agentID)
			switch msg.Type {
			case worker.MsgEvent:
				p.publish(events.Event{Type: events.AgentUpdated, AgentID: agentID, TaskID: msg.TaskID, Data: msg.Data})
			case worker.MsgResult:
				if msg.TaskID != "" && msg.TaskID != req.TaskID {
					continue
				}
				return p.finishResult(ctx, agentID, msg, start, interrupted)
			}
		case <-proc.exited:
			return p.finishExit(agentID, proc, req.TaskID, start)
		case <-timer.C:
			if interrupted {
				continue
			}
			interrupted = true
			p.interrupt(agentID, proc, "task timeout")
		case <-ctx.Done():
			if interrupted {
				continue
			}
			interrupted = true
			p.interrupt(agentID, proc, "context cancelled")
		}
	}
}

// Cancel interrupts the agent's current task, escalating to a forced kill
// after the grace window. The in-flight Execute observes the worker's
// cancelled result (or its death) and returns the agent to idle. No-op for
// an agent that is not busy.
func (p *Pool) Cancel(id, reason string) error {
	p.mu.Lock()
	h, ok := p.agents[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("pool: unknown agent %q", id)
	}
	if h.agent.Status != StatusBusy || h.proc == nil {
		p.mu.Unlock()
		return nil
	}
	proc := h.proc
	p.mu.Unlock()
	slog.Info("cancelling task", "agent", id, "reason", reason)
	p.interrupt(id, proc, reason)
	return nil
}

// interrupt signals the worker and arms the kill escalation.
func (p *Pool) interrupt(id string, proc *process, reason string) {
	p.mu.Lock()
	if h, ok := p.agents[id]; ok {
		h.cancelling = true
	}
	grace := p.cfg.CancelGrace
	p.mu.Unlock()

	proc.signal(os.Interrupt)
	go func() {
		select {
		case <-proc.exited:
		case <-time.After(grace):
			slog.Warn("worker ignored interrupt, killing", "agent", id, "reason", reason)
			proc.kill()
		}
	}()
}

// finishResult records a task result and returns the agent to idle.
func (p *Pool) finishResult(ctx context.Context, agentID string, msg worker.Message, start time.Time, interrupted bool) (Result, error) {
	dur := p.now().Sub(start)
	res := Result{
		TaskID:     msg.TaskID,
		Status:     msg.Status,
		Output:     msg.Output,
		Error:      msg.Error,
		TokensUsed: msg.TokensUsed,
		Duration:   dur,
	}

	p.mu.Lock()
	if h, ok := p.agents[agentID]; ok && h.agent.Status == StatusBusy {
		h.agent.Status = StatusIdle
		h.agent.CurrentTask = ""
		h.agent.LastActivity = p.now()
		h.cancelling = false
		m := &h.agent.Metrics
		m.TotalTasks++
		m.TotalDuration += dur
		m.AverageResponseTime = m.TotalDuration / time.Duration(m.TotalTasks)
		m.TotalTokensUsed += msg.TokensUsed
		if msg.Status == worker.ResultCompleted {
			m.TasksCompleted++
			p.tasksCompleted++
		} else {
			m.TasksFailed++
			p.tasksFailed++
		}
	}
	p.mu.Unlock()

	if interrupted && ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, nil
}

// finishExit handles a worker that died mid-task. A cancellation-driven
// death respawns a fresh process so the agent returns to idle; an
// unsolicited death moves the agent to the failed pool.
func (p *Pool) finishExit(agentID string, proc *process, taskID string, start time.Time) (Result, error) {
	<-proc.exited

	p.mu.Lock()
	h, ok := p.agents[agentID]
	if !ok || h.agent.Status == StatusTerminated {
		p.mu.Unlock()
		return Result{}, fmt.Errorf("%w: agent %s", ErrProcessExited, agentID)
	}
	cancelling := h.cancelling
	h.agent.Metrics.TotalTasks++
	h.agent.Metrics.TasksFailed++
	p.tasksFailed++
	launch := h.launch
	p.mu.Unlock()

	if cancelling {
		res := Result{TaskID: taskID, Status: worker.ResultCancelled, Duration: p.now().Sub(start)}
		if err := p.respawn(agentID, launch); err != nil {
			p.failAgent(agentID, fmt.Sprintf("respawn after cancel failed: %v", err))
			return res, err
		}
		return res, nil
	}

	p.failAgent(agentID, "process exited during task")
	return Result{TaskID: taskID, Status: worker.ResultFailed, Duration: p.now().Sub(start)},
		fmt.Errorf("%w: agent %s died running task %s", ErrProcessExited, agentID, taskID)
}

// respawn replaces a dead process for an existing agent and returns it to
// idle. The agent keeps its id, metrics, and capacity slot.
func (p *Pool) respawn(agentID string, launch launchSpec) error {
	proc, err := p.startAndAwaitReady(context.Background(), launch)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSpawnFailure, err)
	}
	p.mu.Lock()
	h, ok := p.agents[agentID]
	if !ok || h.agent.Status == StatusTerminated {
		p.mu.Unlock()
		proc.kill()
		return fmt.Errorf("pool: agent %q gone during respawn", agentID)
	}
	h.proc = proc
	h.agent.Status = StatusIdle
	h.agent.CurrentTask = ""
	h.agent.PID = proc.pid()
	h.agent.LastActivity = p.now()
	h.agent.Restarts++
	h.cancelling = false
	h.stalled = false
	p.mu.Unlock()
	slog.Info("agent respawned", "agent", agentID, "pid", proc.pid())
	return nil
}

// failAgent moves an agent to the failed pool and publishes the exit.
func (p *Pool) failAgent(agentID, reason string) {
	p.mu.Lock()
	h, ok := p.agents[agentID]
	if !ok || h.agent.Status == StatusTerminated {
		p.mu.Unlock()
		return
	}
	h.agent.Status = StatusError
	h.agent.CurrentTask = ""
	h.agent.LastActivity = p.now()
	p.mu.Unlock()
	slog.Warn("agent failed", "agent", agentID, "reason", reason)
	p.publish(events.Event{Type: events.AgentExited, AgentID: agentID, Data: map[string]any{"reason": reason}})
	p.publish(events.Event{Type: events.AgentError, AgentID: agentID, Data: map[string]any{"reason": reason}})
}

func (p *Pool) touch(agentID string) {
	p.mu.Lock()
	if h, ok := p.agents[agentID]; ok {
		h.agent.LastActivity = p.now()
	}
	p.mu.Unlock()
}
