// Package assign matches tasks to agents. It keeps its own view of agent
// metadata (capabilities, workload, reliability, affinity), independent of
// the pool's process handles, and owns the task→agent assignment map.
package assign

import "time"

// Agent statuses. Offline and Error are externally-imposed overrides; the
// other three are derived from workload after every mutation.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusBusy       Status = "busy"
	StatusOverloaded Status = "overloaded"
	StatusOffline    Status = "offline"
	StatusError      Status = "error"
)

// Priority tiers for tasks. P1 is the most urgent.
type Priority string

const (
	P1 Priority = "P1"
	P2 Priority = "P2"
	P3 Priority = "P3"
)

// Capability describes what an agent can do.
type Capability struct {
	Languages  []string        `json:"languages,omitempty"`
	Frameworks []string        `json:"frameworks,omitempty"`
	Domains    []string        `json:"domains,omitempty"`
	Tools      []string        `json:"tools,omitempty"`
	Flags      map[string]bool `json:"flags,omitempty"`
}

// All returns every capability string, flattened.
func (c Capability) All() []string {
	out := make([]string, 0, len(c.Languages)+len(c.Frameworks)+len(c.Domains)+len(c.Tools))
	out = append(out, c.Languages...)
	out = append(out, c.Frameworks...)
	out = append(out, c.Domains...)
	out = append(out, c.Tools...)
	return out
}

// Agent is the assignment engine's view of a worker. ActiveTasks holds
// tasks the pool has started; QueuedTasks holds assigned-but-not-started
// tasks. Workload counts both against MaxConcurrentTasks.
type Agent struct {
	ID                  string        `json:"id"`
	Type                string        `json:"type"`
	Caps                Capability    `json:"capabilities"`
	Specializations     []string      `json:"specializations,omitempty"`
	Workload            float64       `json:"workload"`
	Reliability         float64       `json:"reliability"`
	Status              Status        `json:"status"`
	ActiveTasks         []string      `json:"active_tasks,omitempty"`
	QueuedTasks         []string      `json:"queued_tasks,omitempty"`
	MaxConcurrentTasks  int           `json:"max_concurrent_tasks"`
	AverageTaskDuration time.Duration `json:"average_task_duration"`
	LastAssignedAt      time.Time     `json:"last_assigned_at,omitempty"`
	TasksCompleted      int           `json:"tasks_completed"`
	TasksFailed         int           `json:"tasks_failed"`

	// Affinity is the learned keyword→count table from past assignments.
	// It grows monotonically and is pruned via PruneAffinity.
	Affinity map[string]int `json:"affinity,omitempty"`
}

// Task is the assignment engine's input.
type Task struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Tags              []string       `json:"tags,omitempty"`
	AgentType         string         `json:"agent_type,omitempty"`
	Priority          Priority       `json:"priority,omitempty"`
	EstimatedDuration time.Duration  `json:"estimated_duration,omitempty"`
	Payload           map[string]any `json:"payload,omitempty"`
}

// Constraints narrow the candidate set for one assignment.
type Constraints struct {
	MaxWorkload          *float64   `json:"max_workload,omitempty"`
	ExcludedAgents       []string   `json:"excluded_agents,omitempty"`
	PreferredAgentTypes  []string   `json:"preferred_agent_types,omitempty"`
	RequiresCapabilities []string   `json:"requires_capabilities,omitempty"`
	Deadline             *time.Time `json:"deadline,omitempty"`
}

// Assignment records one task→agent binding. At most one Assignment per
// task exists at any time.
type Assignment struct {
	TaskID              string    `json:"task_id"`
	AgentID             string    `json:"agent_id"`
	Score               float64   `json:"score"`
	Reason              string    `json:"reason"`
	EstimatedStart      time.Time `json:"estimated_start"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}

// Move is one rebalance relocation of a queued task.
type Move struct {
	TaskID string `json:"task_id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// RebalanceResult is what Rebalance returns. Recommendations is always
// populated, even when no moves occurred.
type RebalanceResult struct {
	Moves           []Move   `json:"moves"`
	Recommendations []string `json:"recommendations"`
}

// Weights blends the four score components. They are multiplied against
// 0–100 component scores, so weights summing to 1 keep totals comparable
// with the flat priority/urgency boosts.
type Weights struct {
	Capability  float64 `yaml:"capability" json:"capability"`
	Workload    float64 `yaml:"workload" json:"workload"`
	Reliability float64 `yaml:"reliability" json:"reliability"`
	Affinity    float64 `yaml:"affinity" json:"affinity"`
}

// DefaultWeights favors capability fit, with workload as the main
// tie-breaker between equally capable agents.
func DefaultWeights() Weights {
	return Weights{Capability: 0.4, Workload: 0.3, Reliability: 0.2, Affinity: 0.1}
}

// Config tunes the engine.
type Config struct {
	Weights Weights `yaml:"weights"`
	// MaxWorkloadThreshold is the default workload ceiling for candidates
	// and the "overloaded" bound for Rebalance.
	MaxWorkloadThreshold float64 `yaml:"max_workload_threshold"`
	// MaxAffinityKeywords caps the per-agent affinity table; PruneAffinity
	// drops the least-used entries beyond it.
	MaxAffinityKeywords int `yaml:"max_affinity_keywords"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Weights:              DefaultWeights(),
		MaxWorkloadThreshold: 0.8,
		MaxAffinityKeywords:  256,
	}
}
