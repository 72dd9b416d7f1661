// Package gate evaluates named readiness gates (sets of weighted
// requirements) in dependency order, and exposes the per-gate state
// machine that drives workflow phase transitions. The engine never
// inspects what a requirement checks: collaborators communicate through
// the typed context bag in context.go.
package gate

import (
	"context"
	"time"
)

// Status is the per-gate state machine:
// pending → checking → {passed | failed}; blocked and skipped are
// externally imposed from pending/failed; unblock returns to pending.
type Status string

const (
	StatusPending  Status = "pending"
	StatusChecking Status = "checking"
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
	StatusBlocked  Status = "blocked"
	StatusSkipped  Status = "skipped"
)

// satisfied reports whether a dependent gate may proceed past this status.
func (s Status) satisfied() bool { return s == StatusPassed || s == StatusSkipped }

// CheckFunc is one requirement check. It reads whatever it needs from the
// context bag; the engine only cares about the boolean outcome. A timeout
// or error counts as a failed requirement.
type CheckFunc func(ctx context.Context, gctx *Context) (bool, error)

// Requirement contributes weight to a gate's score.
type Requirement struct {
	ID           string        `json:"id" yaml:"id"`
	Name         string        `json:"name" yaml:"name"`
	Weight       float64       `json:"weight" yaml:"weight"`
	Mandatory    bool          `json:"mandatory" yaml:"mandatory"`
	Timeout      time.Duration `json:"timeout,omitempty" yaml:"timeout"`
	ErrorMessage string        `json:"error_message,omitempty" yaml:"error_message"`
	Check        CheckFunc     `json:"-" yaml:"-"`
}

// Gate is a named set of weighted requirements. The gate passes when the
// weighted score reaches MinPassScore and no mandatory requirement failed.
type Gate struct {
	ID           string        `json:"id" yaml:"id"`
	Name         string        `json:"name" yaml:"name"`
	Requirements []Requirement `json:"requirements" yaml:"requirements"`
	MinPassScore float64       `json:"min_pass_score" yaml:"min_pass_score"`
	DependsOn    []string      `json:"depends_on,omitempty" yaml:"depends_on"`
	AutoAdvance  bool          `json:"auto_advance,omitempty" yaml:"auto_advance"`
	MaxRetries   int           `json:"max_retries,omitempty" yaml:"max_retries"`
}

// RequirementResult is one requirement's outcome within a Result.
type RequirementResult struct {
	ID       string        `json:"id"`
	Passed   bool          `json:"passed"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of one gate evaluation. RequiredActions lists
// remediation strings for the failed requirements.
type Result struct {
	GateID          string              `json:"gate_id"`
	Status          Status              `json:"status"`
	Score           float64             `json:"score"`
	Requirements    []RequirementResult `json:"requirements,omitempty"`
	RequiredActions []string            `json:"required_actions,omitempty"`
	Error           string              `json:"error,omitempty"`
	CheckedAt       time.Time           `json:"checked_at"`
	Duration        time.Duration       `json:"duration"`
}

// State is the engine's record for one registered gate. Exactly one State
// exists per gate.
type State struct {
	GateID        string    `json:"gate_id"`
	Status        Status    `json:"status"`
	PassCount     int       `json:"pass_count"`
	FailCount     int       `json:"fail_count"`
	Attempts      int       `json:"attempts"`
	LastResult    *Result   `json:"last_result,omitempty"`
	BlockedReason string    `json:"blocked_reason,omitempty"`
	OverriddenBy  string    `json:"overridden_by,omitempty"`
	OverriddenAt  time.Time `json:"overridden_at,omitempty"`
}

// Config tunes the engine.
type Config struct {
	// Strict aborts remaining checks on the first mandatory-requirement
	// failure, and stops CheckAll at the first failed gate.
	Strict bool `yaml:"strict"`
	// ParallelChecks evaluates a gate's requirements concurrently.
	ParallelChecks bool `yaml:"parallel_checks"`
	// DefaultTimeout bounds requirements that do not declare their own.
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// DefaultConfig returns the engine defaults: sequential strict checking
// with a 30s per-requirement bound.
func DefaultConfig() Config {
	return Config{Strict: true, ParallelChecks: false, DefaultTimeout: 30 * time.Second}
}
