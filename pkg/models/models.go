// Package models provides shared types for the claude-flow HTTP API.
// These types mirror the API JSON and are stable for use by pkg/client
// and other consumers.
package models

import "time"

// Agent statuses as reported by the process pool.
const (
	AgentInitializing = "initializing"
	AgentIdle         = "idle"
	AgentBusy         = "busy"
	AgentError        = "error"
	AgentTerminated   = "terminated"
)

// Agent is one pooled worker process.
type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Type         string    `json:"type"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Status       string    `json:"status"`
	CurrentTask  string    `json:"current_task,omitempty"`
	PID          int       `json:"pid,omitempty"`
	SpawnedAt    time.Time `json:"spawned_at"`
	LastActivity time.Time `json:"last_activity"`
	Restarts     int       `json:"restarts"`
	Metrics      Metrics   `json:"metrics"`
}

// Metrics is the per-agent execution history.
type Metrics struct {
	TasksCompleted      int64         `json:"tasks_completed"`
	TasksFailed         int64         `json:"tasks_failed"`
	TotalTasks          int64         `json:"total_tasks"`
	TotalDuration       time.Duration `json:"total_duration"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	TotalTokensUsed     int64         `json:"total_tokens_used"`
}

// Capability describes what an agent can do, for assignment scoring.
type Capability struct {
	Languages  []string        `json:"languages,omitempty"`
	Frameworks []string        `json:"frameworks,omitempty"`
	Domains    []string        `json:"domains,omitempty"`
	Tools      []string        `json:"tools,omitempty"`
	Flags      map[string]bool `json:"flags,omitempty"`
}

// SpawnRequest creates a new pooled agent.
type SpawnRequest struct {
	Type               string            `json:"type"`
	Name               string            `json:"name,omitempty"`
	Capabilities       Capability        `json:"capabilities,omitempty"`
	Specializations    []string          `json:"specializations,omitempty"`
	MaxConcurrentTasks int               `json:"max_concurrent_tasks,omitempty"`
	SystemPrompt       string            `json:"system_prompt,omitempty"`
	Model              string            `json:"model,omitempty"`
	WorkingDirectory   string            `json:"working_directory,omitempty"`
	Environment        map[string]string `json:"environment,omitempty"`
	Tools              []string          `json:"tools,omitempty"`
}

// PoolStats summarizes the process pool.
type PoolStats struct {
	Total           int   `json:"total"`
	Initializing    int   `json:"initializing"`
	Idle            int   `json:"idle"`
	Busy            int   `json:"busy"`
	Failed          int   `json:"failed"`
	Terminated      int   `json:"terminated"`
	Capacity        int   `json:"capacity"`
	TotalSpawned    int64 `json:"total_spawned"`
	TotalTerminated int64 `json:"total_terminated"`
	TasksCompleted  int64 `json:"tasks_completed"`
	TasksFailed     int64 `json:"tasks_failed"`
}

// Constraints narrow the candidate set for one assignment.
type Constraints struct {
	MaxWorkload          *float64   `json:"max_workload,omitempty"`
	ExcludedAgents       []string   `json:"excluded_agents,omitempty"`
	PreferredAgentTypes  []string   `json:"preferred_agent_types,omitempty"`
	RequiresCapabilities []string   `json:"requires_capabilities,omitempty"`
	Deadline             *time.Time `json:"deadline,omitempty"`
}

// TaskRequest submits a task for assignment (and optionally execution).
type TaskRequest struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	Tags                []string       `json:"tags,omitempty"`
	AgentType           string         `json:"agent_type,omitempty"`
	Priority            string         `json:"priority,omitempty"`
	EstimatedDurationMs int64          `json:"estimated_duration_ms,omitempty"`
	Payload             map[string]any `json:"payload,omitempty"`
	Constraints         Constraints    `json:"constraints,omitempty"`
	Execute             bool           `json:"execute,omitempty"`
}

// Assignment is one task-to-agent binding.
type Assignment struct {
	TaskID              string    `json:"task_id"`
	AgentID             string    `json:"agent_id"`
	Score               float64   `json:"score"`
	Reason              string    `json:"reason"`
	EstimatedStart      time.Time `json:"estimated_start"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}

// TaskResult is one task execution outcome.
type TaskResult struct {
	TaskID     string        `json:"task_id"`
	Status     string        `json:"status"`
	Output     string        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	TokensUsed int64         `json:"tokens_used,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// ExecuteResponse is the response to a task submitted with execute:true.
type ExecuteResponse struct {
	Assignment Assignment `json:"assignment"`
	Result     TaskResult `json:"result"`
}

// RebalanceResult reports one workload rebalance pass.
type RebalanceResult struct {
	Moves []struct {
		TaskID string `json:"task_id"`
		From   string `json:"from"`
		To     string `json:"to"`
	} `json:"moves,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Gate statuses.
const (
	GatePending  = "pending"
	GateChecking = "checking"
	GatePassed   = "passed"
	GateFailed   = "failed"
	GateBlocked  = "blocked"
	GateSkipped  = "skipped"
)

// RequirementResult is one requirement outcome within a gate check.
type RequirementResult struct {
	ID       string        `json:"id"`
	Passed   bool          `json:"passed"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// GateResult is one gate evaluation.
type GateResult struct {
	GateID          string              `json:"gate_id"`
	Status          string              `json:"status"`
	Score           float64             `json:"score"`
	Requirements    []RequirementResult `json:"requirements,omitempty"`
	RequiredActions []string            `json:"required_actions,omitempty"`
	Error           string              `json:"error,omitempty"`
	CheckedAt       time.Time           `json:"checked_at"`
	Duration        time.Duration       `json:"duration"`
}

// GateState is one gate's current state.
type GateState struct {
	GateID        string      `json:"gate_id"`
	Status        string      `json:"status"`
	PassCount     int         `json:"pass_count"`
	FailCount     int         `json:"fail_count"`
	Attempts      int         `json:"attempts"`
	LastResult    *GateResult `json:"last_result,omitempty"`
	BlockedReason string      `json:"blocked_reason,omitempty"`
	OverriddenBy  string      `json:"overridden_by,omitempty"`
	OverriddenAt  time.Time   `json:"overridden_at,omitempty"`
}

// ContextValue is one typed entry in the gate context bag.
type ContextValue struct {
	Kind   string  `json:"kind"`
	Bool   bool    `json:"bool,omitempty"`
	Int    int64   `json:"int,omitempty"`
	Float  float64 `json:"float,omitempty"`
	String string  `json:"string,omitempty"`
}

// Workflow statuses.
const (
	WorkflowPending    = "pending"
	WorkflowRunning    = "running"
	WorkflowPaused     = "paused"
	WorkflowCompleted  = "completed"
	WorkflowFailed     = "failed"
	WorkflowCancelled  = "cancelled"
	WorkflowRolledBack = "rolled_back"
)

// Phase is one workflow stage definition.
type Phase struct {
	Name  string        `json:"name"`
	Gates []string      `json:"gates,omitempty"`
	Tasks []TaskRequest `json:"tasks,omitempty"`
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
	GateResults []GateResult  `json:"gate_results,omitempty"`
	Tasks       []TaskOutcome `json:"tasks,omitempty"`
	Status      string        `json:"status"`
}

// WorkflowInstance is one workflow run.
type WorkflowInstance struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Phases    []Phase       `json:"phases"`
	Current   int           `json:"current"`
	History   []PhaseRecord `json:"history,omitempty"`
	Status    string        `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// AuditEvent is one entry from the audit log.
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
