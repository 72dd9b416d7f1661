package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// Snapshot kinds persisted by the orchestrator.
const (
	KindAssign   = "assign"
	KindGate     = "gate"
	KindWorkflow = "workflow"
)

// Snapshot is one persisted engine snapshot. Data holds the engine's own
// JSON export; the store never inspects it.
type Snapshot struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditEvent is one hub event in the append-only audit log.
type AuditEvent struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	AgentID   string    `json:"agent_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	GateID    string    `json:"gate_id,omitempty"`
	Workflow  string    `json:"workflow,omitempty"`
	Payload   []byte    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EventFilter narrows ListEvents. Zero fields match everything.
type EventFilter struct {
	Type    string
	AgentID string
	TaskID  string
	Limit   int
}

// TaskRun is one task execution outcome, kept for reliability history and
// the dashboard.
type TaskRun struct {
	ID         int64         `json:"id"`
	TaskID     string        `json:"task_id"`
	AgentID    string        `json:"agent_id"`
	Status     string        `json:"status"`
	Output     string        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	TokensUsed int64         `json:"tokens_used,omitempty"`
	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"started_at"`
}
