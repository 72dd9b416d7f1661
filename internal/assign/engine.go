package assign

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/events"
)

// Reliability EMA constants: success r = r*0.9 + 0.1, failure r = r*0.9.
const (
	reliabilityDecay = 0.9
	reliabilityGain  = 0.1
)

// Engine owns agent metadata and the task→agent assignment map. All
// mutations go through the engine; the pool manager and gate engine only
// read through accessors.
type Engine struct {
	mu          sync.Mutex
	cfg         Config
	agents      map[string]*Agent
	assignments map[string]*Assignment
	hub         *events.Hub
	now         func() time.Time
}

// New creates an engine. hub may be nil (no events emitted).
func New(cfg Config, hub *events.Hub) *Engine {
	if cfg.MaxWorkloadThreshold <= 0 {
		cfg.MaxWorkloadThreshold = DefaultConfig().MaxWorkloadThreshold
	}
	if cfg.MaxAffinityKeywords <= 0 {
		cfg.MaxAffinityKeywords = DefaultConfig().MaxAffinityKeywords
	}
	zero := Weights{}
	if cfg.Weights == zero {
		cfg.Weights = DefaultWeights()
	}
	return &Engine{
		cfg:         cfg,
		agents:      make(map[string]*Agent),
		assignments: make(map[string]*Assignment),
		hub:         hub,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Register adds or replaces an agent. Reliability starts at 1.0 and
// MaxConcurrentTasks defaults to 1 when unset.
func (e *Engine) Register(a Agent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a.MaxConcurrentTasks <= 0 {
		a.MaxConcurrentTasks = 1
	}
	if a.Reliability <= 0 {
		a.Reliability = 1.0
	}
	if a.Affinity == nil {
		a.Affinity = make(map[string]int)
	}
	e.recompute(&a)
	e.agents[a.ID] = &a
	e.publish(events.Event{Type: events.AgentRegistered, AgentID: a.ID, Data: map[string]any{"agent_type": a.Type}})
}

// Unregister removes an agent and drops its assignments, keeping the
// invariant that no assignment points at a missing agent.
func (e *Engine) Unregister(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.agents[id]; !ok {
		return fmt.Errorf("assign: unknown agent %q", id)
	}
	for taskID, as := range e.assignments {
		if as.AgentID == id {
			delete(e.assignments, taskID)
		}
	}
	delete(e.agents, id)
	e.publish(events.Event{Type: events.AgentUnregistered, AgentID: id})
	return nil
}

// SetStatus imposes an external status override (offline/error) or clears
// it back to workload-derived status.
func (e *Engine) SetStatus(id string, st Status) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.agents[id]
	if !ok {
		return fmt.Errorf("assign: unknown agent %q", id)
	}
	if st == StatusOffline || st == StatusError {
		a.Status = st
	} else {
		e.recompute(a)
	}
	e.publish(events.Event{Type: events.AgentUpdated, AgentID: id, Data: map[string]any{"status": string(a.Status)}})
	return nil
}

// UpdateCapabilities replaces an agent's capability set.
func (e *Engine) UpdateCapabilities(id string, caps Capability, specializations []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.agents[id]
	if !ok {
		return fmt.Errorf("assign: unknown agent %q", id)
	}
	a.Caps = caps
	a.Specializations = specializations
	e.publish(events.Event{Type: events.AgentUpdated, AgentID: id})
	return nil
}

// Assign picks the best agent for the task. It returns nil (not an error)
// when the candidate pipeline empties: no-candidate is an expected
// operational outcome the caller decides how to handle.
func (e *Engine) Assign(task Task, cons Constraints) *Assignment {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prev, ok := e.assignments[task.ID]; ok {
		// Assignment is atomic per task: drop the stale binding first.
		e.removeTaskLocked(prev.AgentID, task.ID)
		delete(e.assignments, task.ID)
	}

	candidates := e.candidates(task, cons)
	if len(candidates) == 0 {
		e.publish(events.Event{Type: events.AssignmentFailed, TaskID: task.ID, Data: map[string]any{
			"reason": "no candidate agent satisfies the constraints",
		}})
		return nil
	}

	best := candidates[0]
	bestScore := e.score(best, task, cons)
	for _, a := range candidates[1:] {
		if s := e.score(a, task, cons); s.Total > bestScore.Total {
			best, bestScore = a, s
		}
	}

	now := e.now()
	best.QueuedTasks = append(best.QueuedTasks, task.ID)
	best.LastAssignedAt = now
	e.recompute(best)
	e.learnAffinity(best, task)

	est := best.AverageTaskDuration
	if est == 0 {
		est = task.EstimatedDuration
	}
	as := &Assignment{
		TaskID:              task.ID,
		AgentID:             best.ID,
		Score:               bestScore.Total,
		Reason:              bestScore.Reason(),
		EstimatedStart:      now,
		EstimatedCompletion: now.Add(est),
	}
	e.assignments[task.ID] = as
	e.publish(events.Event{Type: events.TaskAssigned, TaskID: task.ID, AgentID: best.ID, Data: map[string]any{
		"score":  bestScore.Total,
		"reason": as.Reason,
	}})
	out := *as
	return &out
}

// MarkStarted moves a task from the agent's queue to its active list when
// the pool begins executing it.
func (e *Engine) MarkStarted(taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	as, ok := e.assignments[taskID]
	if !ok {
		return fmt.Errorf("assign: no assignment for task %q", taskID)
	}
	a := e.agents[as.AgentID]
	a.QueuedTasks = remove(a.QueuedTasks, taskID)
	if !contains(a.ActiveTasks, taskID) {
		a.ActiveTasks = append(a.ActiveTasks, taskID)
	}
	e.recompute(a)
	return nil
}

// Complete removes the task from the agent and updates reliability by
// exponential moving average.
func (e *Engine) Complete(taskID string, success bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	as, ok := e.assignments[taskID]
	if !ok {
		return fmt.Errorf("assign: no assignment for task %q", taskID)
	}
	a := e.agents[as.AgentID]
	a.ActiveTasks = remove(a.ActiveTasks, taskID)
	a.QueuedTasks = remove(a.QueuedTasks, taskID)
	if success {
		a.Reliability = a.Reliability*reliabilityDecay + reliabilityGain
		a.TasksCompleted++
	} else {
		a.Reliability = a.Reliability * reliabilityDecay
		a.TasksFailed++
	}
	delete(e.assignments, taskID)
	e.recompute(a)
	e.publish(events.Event{Type: events.TaskCompleted, TaskID: taskID, AgentID: a.ID, Data: map[string]any{
		"success":     success,
		"reliability": a.Reliability,
	}})
	return nil
}

// Unassign drops a binding without touching reliability (e.g. the caller
// is rerouting the task).
func (e *Engine) Unassign(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	as, ok := e.assignments[taskID]
	if !ok {
		return
	}
	e.removeTaskLocked(as.AgentID, taskID)
	delete(e.assignments, taskID)
}

// RecordDuration folds an observed task duration into the agent's moving
// average.
func (e *Engine) RecordDuration(agentID string, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.agents[agentID]
	if !ok {
		return
	}
	if a.AverageTaskDuration == 0 {
		a.AverageTaskDuration = d
	} else {
		a.AverageTaskDuration = (a.AverageTaskDuration*9 + d) / 10
	}
}

// Agent returns a copy of one agent's metadata.
func (e *Engine) Agent(id string) (Agent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.agents[id]
	if !ok {
		return Agent{}, false
	}
	return copyAgent(a), true
}

// Agents returns copies of all agents, ordered by id.
func (e *Engine) Agents() []Agent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Agent, 0, len(e.agents))
	for _, a := range e.agents {
		out = append(out, copyAgent(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AssignmentFor returns the current binding for a task, if any.
func (e *Engine) AssignmentFor(taskID string) (Assignment, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	as, ok := e.assignments[taskID]
	if !ok {
		return Assignment{}, false
	}
	return *as, true
}

// Assignments returns all current bindings, ordered by task id.
func (e *Engine) Assignments() []Assignment {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Assignment, 0, len(e.assignments))
	for _, as := range e.assignments {
		out = append(out, *as)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// PruneAffinity trims every agent's affinity table to the configured
// maximum, dropping the least-used keywords.
func (e *Engine) PruneAffinity() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range e.agents {
		if len(a.Affinity) <= e.cfg.MaxAffinityKeywords {
			continue
		}
		type kv struct {
			k string
			n int
		}
		entries := make([]kv, 0, len(a.Affinity))
		for k, n := range a.Affinity {
			entries = append(entries, kv{k, n})
		}
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].n != entries[j].n {
				return entries[i].n > entries[j].n
			}
			return entries[i].k < entries[j].k
		})
		for _, ent := range entries[e.cfg.MaxAffinityKeywords:] {
			delete(a.Affinity, ent.k)
		}
	}
}

// candidates runs the filter pipeline in order; each stage narrows the
// set, and the "prefer" stages only narrow when at least one agent
// survives them.
func (e *Engine) candidates(task Task, cons Constraints) []*Agent {
	maxWorkload := e.cfg.MaxWorkloadThreshold
	if cons.MaxWorkload != nil {
		maxWorkload = *cons.MaxWorkload
	}
	excluded := make(map[string]bool, len(cons.ExcludedAgents))
	for _, id := range cons.ExcludedAgents {
		excluded[id] = true
	}

	var pool []*Agent
	for _, a := range e.agents {
		if a.Status == StatusOverloaded || a.Status == StatusOffline || a.Status == StatusError {
			continue
		}
		if a.Workload >= maxWorkload {
			continue
		}
		if excluded[a.ID] {
			continue
		}
		pool = append(pool, a)
	}

	if len(cons.PreferredAgentTypes) > 0 {
		preferred := filterAgents(pool, func(a *Agent) bool {
			return contains(cons.PreferredAgentTypes, a.Type)
		})
		if len(preferred) > 0 {
			pool = preferred
		}
	}

	if len(cons.RequiresCapabilities) > 0 {
		pool = filterAgents(pool, func(a *Agent) bool {
			return hasAllCapabilities(a, cons.RequiresCapabilities)
		})
	}

	if task.AgentType != "" {
		matching := filterAgents(pool, func(a *Agent) bool { return a.Type == task.AgentType })
		if len(matching) > 0 {
			pool = matching
		}
	}

	// Deterministic order so score ties resolve stably.
	sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })
	return pool
}

// learnAffinity increments the agent's keyword table with the task-name
// tokens (length > 3, lowercased, alphanumeric).
func (e *Engine) learnAffinity(a *Agent, task Task) {
	for _, tok := range tokenize(task.Name) {
		a.Affinity[tok]++
	}
}

// recompute derives workload and status from the task lists. Offline and
// error overrides are preserved.
func (e *Engine) recompute(a *Agent) {
	a.Workload = float64(len(a.ActiveTasks)+len(a.QueuedTasks)) / float64(a.MaxConcurrentTasks)
	if a.Status == StatusOffline || a.Status == StatusError {
		return
	}
	switch {
	case a.Workload >= 1:
		a.Status = StatusOverloaded
	case a.Workload > 0:
		a.Status = StatusBusy
	default:
		a.Status = StatusIdle
	}
}

func (e *Engine) removeTaskLocked(agentID, taskID string) {
	a, ok := e.agents[agentID]
	if !ok {
		return
	}
	a.ActiveTasks = remove(a.ActiveTasks, taskID)
	a.QueuedTasks = remove(a.QueuedTasks, taskID)
	e.recompute(a)
}

func (e *Engine) publish(ev events.Event) {
	if e.hub != nil {
		e.hub.Publish(ev)
	}
}

func hasAllCapabilities(a *Agent, required []string) bool {
	have := make(map[string]bool)
	for _, c := range a.Caps.All() {
		have[strings.ToLower(c)] = true
	}
	for f, on := range a.Caps.Flags {
		if on {
			have[strings.ToLower(f)] = true
		}
	}
	for _, s := range a.Specializations {
		have[strings.ToLower(s)] = true
	}
	for _, r := range required {
		if !have[strings.ToLower(r)] {
			return false
		}
	}
	return true
}

func filterAgents(in []*Agent, keep func(*Agent) bool) []*Agent {
	var out []*Agent
	for _, a := range in {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

func copyAgent(a *Agent) Agent {
	out := *a
	out.ActiveTasks = append([]string(nil), a.ActiveTasks...)
	out.QueuedTasks = append([]string(nil), a.QueuedTasks...)
	out.Specializations = append([]string(nil), a.Specializations...)
	out.Affinity = make(map[string]int, len(a.Affinity))
	for k, v := range a.Affinity {
		out.Affinity[k] = v
	}
	return out
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func remove(xs []string, x string) []string {
	out := xs[:0]
	for _, v := range xs {
		if v != x {
			out = append(out, v)
		}
	}
	return out
}
