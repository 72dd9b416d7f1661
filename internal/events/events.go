// Package events provides the orchestrator's event hub: an explicit
// subscription surface that replaces emitter-style callbacks. Audit and
// dashboard collaborators consume events by name; the names below are a
// stable contract.
package events

import "time"

// Event names published by the pool manager, assignment engine, and gate engine.
const (
	AgentRegistered   = "agent:registered"
	AgentUnregistered = "agent:unregistered"
	AgentUpdated      = "agent:updated"
	AgentSpawned      = "agent:spawned"
	AgentTerminated   = "agent:terminated"
	AgentExited       = "agent:exited"
	AgentError        = "agent:error"

	TaskAssigned   = "task:assigned"
	TaskCompleted  = "task:completed"
	TaskRebalanced = "task:rebalanced"

	AssignmentFailed = "assignment:failed"

	GateChecking = "gate:checking"
	GateChecked  = "gate:checked"
	GatePassed   = "gate:passed"
	GateFailed   = "gate:failed"
	GateBlocked  = "gate:blocked"
	GateSkipped  = "gate:skipped"
	GateReset    = "gate:reset"
	GateAdvance  = "gate:advance"
)

// Event is one orchestrator occurrence. AgentID/TaskID/GateID/Workflow are
// set when the event concerns that entity; Data carries event-specific
// payload fields.
type Event struct {
	Type      string         `json:"type"`
	AgentID   string         `json:"agent_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	GateID    string         `json:"gate_id,omitempty"`
	Workflow  string         `json:"workflow,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}
