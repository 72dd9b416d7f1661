// Package pool owns the lifecycle of worker processes: spawning them up
// to a capacity limit, executing tasks on them over the NDJSON stdin/stdout
// protocol, health-checking for stalls and silent exits, and terminating
// them with OS resource release on every path. Agents live in exactly one
// of the idle, busy, or failed pools until terminated.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/events"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/worker"
)

// Status is the per-agent process state machine:
// initializing -> idle <-> busy; any state -> error -> (idle after
// recovery | terminated); any state -> terminated (terminal).
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusIdle         Status = "idle"
	StatusBusy         Status = "busy"
	StatusError        Status = "error"
	StatusTerminated   Status = "terminated"
)

// Expected operational failures. Callers match with errors.Is.
var (
	// ErrPoolCapacity: active agents (initializing+idle+busy) already at
	// the configured maximum.
	ErrPoolCapacity = errors.New("pool capacity exceeded")
	// ErrSpawnFailure: the process exited or errored before readiness.
	// Fatal to the spawn attempt, not to the pool.
	ErrSpawnFailure = errors.New("agent spawn failed")
	// ErrAgentUnavailable: no idle agent with a live process.
	ErrAgentUnavailable = errors.New("no agent available")
	// ErrProcessExited: the worker process died mid-task.
	ErrProcessExited = errors.New("worker process exited")
)

// SpawnSpec describes one worker to launch. Name doubles as the agent id
// when set; otherwise an id is generated.
type SpawnSpec struct {
	Type             string            `json:"type" yaml:"type"`
	Name             string            `json:"name,omitempty" yaml:"name"`
	Capabilities     []string          `json:"capabilities,omitempty" yaml:"capabilities"`
	SystemPrompt     string            `json:"system_prompt,omitempty" yaml:"system_prompt"`
	Model            string            `json:"model,omitempty" yaml:"model"`
	MaxTokens        int               `json:"max_tokens,omitempty" yaml:"max_tokens"`
	Temperature      float64           `json:"temperature,omitempty" yaml:"temperature"`
	WorkingDirectory string            `json:"working_directory,omitempty" yaml:"working_directory"`
	Environment      map[string]string `json:"environment,omitempty" yaml:"environment"`
	Tools            []string          `json:"tools,omitempty" yaml:"tools"`
	Priority         string            `json:"priority,omitempty" yaml:"priority"`
}

// Metrics accumulates per-agent execution counters.
type Metrics struct {
	TasksCompleted      int64         `json:"tasks_completed"`
	TasksFailed         int64         `json:"tasks_failed"`
	TotalTasks          int64         `json:"total_tasks"`
	TotalDuration       time.Duration `json:"total_duration"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	TotalTokensUsed     int64         `json:"total_tokens_used"`
}

// SuccessRate is completed/total, 1.0 for an agent that has run nothing.
func (m Metrics) SuccessRate() float64 {
	if m.TotalTasks == 0 {
		return 1.0
	}
	return float64(m.TasksCompleted) / float64(m.TotalTasks)
}

func (m Metrics) ErrorRate() float64 { return 1.0 - m.SuccessRate() }

// ProcessAgent is the pool's view of one worker. One live OS process per
// agent while not terminated.
type ProcessAgent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Type         string    `json:"type"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Status       Status    `json:"status"`
	CurrentTask  string    `json:"current_task,omitempty"`
	PID          int       `json:"pid,omitempty"`
	SpawnedAt    time.Time `json:"spawned_at"`
	LastActivity time.Time `json:"last_activity"`
	Restarts     int       `json:"restarts"`
	Metrics      Metrics   `json:"metrics"`
}

// Config tunes the pool.
type Config struct {
	// MaxAgents bounds active agents (initializing, idle, busy).
	MaxAgents int `yaml:"max_agents"`
	// Command and Args launch each worker process.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	// SandboxHome, when set, runs workers inside bubblewrap with this
	// directory as the confinement root (no-op where bwrap is missing).
	SandboxHome string `yaml:"sandbox_home"`
	// ReadyTimeout bounds the wait for a spawned worker's ready message.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	// TaskTimeout bounds one task execution; the health loop treats a busy
	// agent inactive for twice this long as stalled.
	TaskTimeout time.Duration `yaml:"task_timeout"`
	// HealthInterval is the health loop period.
	HealthInterval time.Duration `yaml:"health_interval"`
	// CancelGrace is the window between interrupt and forced kill.
	CancelGrace time.Duration `yaml:"cancel_grace"`
	// TerminateGrace is the window between SIGTERM and SIGKILL.
	TerminateGrace time.Duration `yaml:"terminate_grace"`
}

func DefaultConfig() Config {
	return Config{
		MaxAgents:      8,
		ReadyTimeout:   30 * time.Second,
		TaskTimeout:    5 * time.Minute,
		HealthInterval: 30 * time.Second,
		CancelGrace:    1 * time.Second,
		TerminateGrace: 2 * time.Second,
	}
}

// Stats is a point-in-time pool summary.
type Stats struct {
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

// handle pairs an agent record with its live process. All fields are
// guarded by the pool mutex; the process itself is used outside the lock.
type handle struct {
	agent      ProcessAgent
	proc       *process
	launch     launchSpec
	cancelling bool
	stalled    bool
}

// Pool manages worker processes. Pool membership is mutated only here;
// assignment metadata lives in the assignment engine.
type Pool struct {
	mu              sync.Mutex
	cfg             Config
	agents          map[string]*handle
	hub             *events.Hub
	totalSpawned    int64
	totalTerminated int64
	tasksCompleted  int64
	tasksFailed     int64
	now             func() time.Time
}

// New creates a pool. hub may be nil.
func New(cfg Config, hub *events.Hub) *Pool {
	def := DefaultConfig()
	if cfg.MaxAgents <= 0 {
		cfg.MaxAgents = def.MaxAgents
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = def.ReadyTimeout
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = def.TaskTimeout
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = def.HealthInterval
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = def.CancelGrace
	}
	if cfg.TerminateGrace <= 0 {
		cfg.TerminateGrace = def.TerminateGrace
	}
	return &Pool{
		cfg:    cfg,
		agents: make(map[string]*handle),
		hub:    hub,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Spawn launches one worker and waits for its ready message. The agent
// counts against capacity from registration, so concurrent spawns cannot
// overshoot MaxAgents.
func (p *Pool) Spawn(ctx context.Context, spec SpawnSpec) (ProcessAgent, error) {
	p.mu.Lock()
	if active := p.activeLocked(); active >= p.cfg.MaxAgents {
		p.mu.Unlock()
		return ProcessAgent{}, fmt.Errorf("%w: %d active, max %d", ErrPoolCapacity, active, p.cfg.MaxAgents)
	}
	id := spec.Name
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := p.agents[id]; exists {
		p.mu.Unlock()
		return ProcessAgent{}, fmt.Errorf("pool: agent %q already exists", id)
	}
	launch := launchSpec{
		command:     p.cfg.Command,
		args:        append([]string(nil), p.cfg.Args...),
		env:         spec.env(id),
		dir:         spec.WorkingDirectory,
		sandboxHome: p.cfg.SandboxHome,
	}
	h := &handle{
		agent: ProcessAgent{
			ID:           id,
			Name:         spec.Name,
			Type:         spec.Type,
			Capabilities: append([]string(nil), spec.Capabilities...),
			Status:       StatusInitializing,
			SpawnedAt:    p.now(),
			LastActivity: p.now(),
		},
		launch: launch,
	}
	p.agents[id] = h
	p.mu.Unlock()

	proc, err := p.startAndAwaitReady(ctx, launch)
	if err != nil {
		p.mu.Lock()
		delete(p.agents, id)
		p.mu.Unlock()
		return ProcessAgent{}, fmt.Errorf("%w: %v", ErrSpawnFailure, err)
	}

	p.mu.Lock()
	h.proc = proc
	h.agent.Status = StatusIdle
	h.agent.PID = proc.pid()
	h.agent.LastActivity = p.now()
	p.totalSpawned++
	agent := h.agent
	p.mu.Unlock()

	slog.Info("agent spawned", "agent", id, "type", spec.Type, "pid", agent.PID)
	p.publish(events.Event{Type: events.AgentSpawned, AgentID: id, Data: map[string]any{"type": spec.Type, "pid": agent.PID}})
	return agent, nil
}

// startAndAwaitReady launches a process and consumes messages until ready.
// Any exit or timeout before ready kills the process and fails.
func (p *Pool) startAndAwaitReady(ctx context.Context, launch launchSpec) (*process, error) {
	proc, err := startProcess(launch)
	if err != nil {
		return nil, err
	}
	timer := time.NewTimer(p.cfg.ReadyTimeout)
	defer timer.Stop()
	for {
		select {
		case msg, ok := <-proc.msgs:
			if !ok {
				proc.kill()
				return nil, errors.New("process exited before ready")
			}
			if msg.Type == worker.MsgReady {
				return proc, nil
			}
		case <-proc.exited:
			return nil, errors.New("process exited before ready")
		case <-timer.C:
			proc.kill()
			return nil, fmt.Errorf("no ready signal within %s", p.cfg.ReadyTimeout)
		case <-ctx.Done():
			proc.kill()
			return nil, ctx.Err()
		}
	}
}

// Terminate cancels any current task, signals graceful-then-forced
// termination, and removes the agent from all pools. Idempotent: a second
// call for the same agent is a no-op.
func (p *Pool) Terminate(id, reason string) error {
	p.mu.Lock()
	h, ok := p.agents[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("pool: unknown agent %q", id)
	}
	if h.agent.Status == StatusTerminated {
		p.mu.Unlock()
		return nil
	}
	h.agent.Status = StatusTerminated
	h.agent.CurrentTask = ""
	proc := h.proc
	h.proc = nil
	p.totalTerminated++
	p.mu.Unlock()

	if proc != nil && proc.alive() {
		proc.signal(syscall.SIGTERM)
		select {
		case <-proc.exited:
		case <-time.After(p.cfg.TerminateGrace):
			proc.kill()
			<-proc.exited
		}
	}
	slog.Info("agent terminated", "agent", id, "reason", reason)
	p.publish(events.Event{Type: events.AgentTerminated, AgentID: id, Data: map[string]any{"reason": reason}})
	return nil
}

// TerminateAll terminates every non-terminated agent.
func (p *Pool) TerminateAll(reason string) {
	for _, a := range p.Agents() {
		if a.Status != StatusTerminated {
			_ = p.Terminate(a.ID, reason)
		}
	}
}

// Agent returns a copy of one agent's record.
func (p *Pool) Agent(id string) (ProcessAgent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.agents[id]
	if !ok {
		return ProcessAgent{}, false
	}
	return h.agent, true
}

// Agents returns copies of all agent records, ordered by id.
func (p *Pool) Agents() []ProcessAgent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ProcessAgent, 0, len(p.agents))
	for _, h := range p.agents {
		out = append(out, h.agent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IdleAgents returns the ids of agents ready for work, ordered.
func (p *Pool) IdleAgents() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for id, h := range p.agents {
		if h.agent.Status == StatusIdle && h.proc != nil && h.proc.alive() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Stats summarizes the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{
		Total:           len(p.agents),
		Capacity:        p.cfg.MaxAgents,
		TotalSpawned:    p.totalSpawned,
		TotalTerminated: p.totalTerminated,
		TasksCompleted:  p.tasksCompleted,
		TasksFailed:     p.tasksFailed,
	}
	for _, h := range p.agents {
		switch h.agent.Status {
		case StatusInitializing:
			s.Initializing++
		case StatusIdle:
			s.Idle++
		case StatusBusy:
			s.Busy++
		case StatusError:
			s.Failed++
		case StatusTerminated:
			s.Terminated++
		}
	}
	return s
}

// activeLocked counts agents holding a capacity slot. Caller holds p.mu.
func (p *Pool) activeLocked() int {
	n := 0
	for _, h := range p.agents {
		switch h.agent.Status {
		case StatusInitializing, StatusIdle, StatusBusy:
			n++
		}
	}
	return n
}

func (p *Pool) publish(ev events.Event) {
	if p.hub != nil {
		p.hub.Publish(ev)
	}
}

// env builds the worker environment for one agent.
func (s SpawnSpec) env(id string) []string {
	kv := []string{
		"CLAUDE_FLOW_AGENT_ID=" + id,
		"CLAUDE_FLOW_AGENT_TYPE=" + s.Type,
	}
	if s.Model != "" {
		kv = append(kv, "CLAUDE_FLOW_MODEL="+s.Model)
	}
	if s.SystemPrompt != "" {
		kv = append(kv, "CLAUDE_FLOW_SYSTEM_PROMPT="+s.SystemPrompt)
	}
	keys := make([]string, 0, len(s.Environment))
	for k := range s.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		kv = append(kv, k+"="+s.Environment[k])
	}
	return kv
}
