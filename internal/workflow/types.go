// Package workflow drives multi-phase workflow instances: each phase is
// gated by readiness gates, and on entry its tasks are dispatched through
// the assignment engine onto pool workers. The driver owns instance state;
// gate, assignment, and pool state stay with their own engines.
package workflow

import (
	"time"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/assign"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/gate"
)

// Status is the per-instance lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRolledBack Status = "rolled_back"
)

// Phase is one workflow stage: the gates that must pass before its tasks
// run, and the tasks dispatched once they do.
type Phase struct {
	Name  string        `json:"name" yaml:"name"`
	Gates []string      `json:"gates,omitempty" yaml:"gates"`
	Tasks []assign.Task `json:"tasks,omitempty" yaml:"tasks"`
}

// TaskOutcome records one dispatched task within a phase.
type TaskOutcome struct {
	TaskID   string        `json:"task_id"`
	AgentID  string        `json:"agent_id,omitempty"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// PhaseRecord is one phase-history entry.
type PhaseRecord struct {
	Phase       string        `json:"phase"`
	EnteredAt   time.Time     `json:"entered_at"`
	ExitedAt    time.Time     `json:"exited_at,omitempty"`
	GateResults []gate.Result `json:"gate_results,omitempty"`
	Tasks       []TaskOutcome `json:"tasks,omitempty"`
	Status      Status        `json:"status"`
}

// Instance is one workflow run.
type Instance struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Phases    []Phase       `json:"phases"`
	Current   int           `json:"current"`
	History   []PhaseRecord `json:"history,omitempty"`
	Status    Status        `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// CurrentPhase returns the active phase name, or "" once past the last.
func (in *Instance) CurrentPhase() string {
	if in.Current < 0 || in.Current >= len(in.Phases) {
		return ""
	}
	return in.Phases[in.Current].Name
}
