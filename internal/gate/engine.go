package gate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/events"
)

// Engine owns gate definitions, per-gate state, and the context bag. All
// state mutations are serialized through the engine mutex; requirement
// checks read the context bag through its own lock.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	gates  map[string]*Gate
	states map[string]*State
	gctx   *Context
	hub    *events.Hub
	now    func() time.Time
}

// New creates an engine. hub may be nil.
func New(cfg Config, hub *events.Hub) *Engine {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	return &Engine{
		cfg:    cfg,
		gates:  make(map[string]*Gate),
		states: make(map[string]*State),
		gctx:   NewContext(),
		hub:    hub,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Context returns the shared context bag collaborators read and write.
func (e *Engine) Context() *Context { return e.gctx }

// Register adds or replaces a gate. Replacing resets its state to
// pending; there is never more than one state per gate.
func (e *Engine) Register(g Gate) error {
	if g.ID == "" {
		return fmt.Errorf("gate: id required")
	}
	for _, r := range g.Requirements {
		if r.Weight <= 0 {
			return fmt.Errorf("gate %s: requirement %s has non-positive weight", g.ID, r.ID)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := g
	cp.Requirements = append([]Requirement(nil), g.Requirements...)
	cp.DependsOn = append([]string(nil), g.DependsOn...)
	e.gates[g.ID] = &cp
	e.states[g.ID] = &State{GateID: g.ID, Status: StatusPending}
	return nil
}

// Gate returns a copy of a gate definition.
func (e *Engine) Gate(id string) (Gate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.gates[id]
	if !ok {
		return Gate{}, false
	}
	return *g, true
}

// State returns a copy of a gate's state.
func (e *Engine) State(id string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[id]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// States returns copies of all gate states, ordered by gate id.
func (e *Engine) States() []State {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]State, 0, len(e.states))
	for _, st := range e.states {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GateID < out[j].GateID })
	return out
}

// Check evaluates one gate. Unknown ids are programmer errors; dependency
// failures and blocks come back as a Result with status blocked, never as
// an error.
func (e *Engine) Check(ctx context.Context, id string) (Result, error) {
	e.mu.Lock()
	g, ok := e.gates[id]
	if !ok {
		e.mu.Unlock()
		return Result{}, fmt.Errorf("gate: unknown gate %q", id)
	}
	st := e.states[id]
	start := e.now()

	if st.Status == StatusBlocked {
		res := Result{GateID: id, Status: StatusBlocked, Error: st.BlockedReason, CheckedAt: start}
		st.LastResult = &res
		e.mu.Unlock()
		e.publish(events.Event{Type: events.GateBlocked, GateID: id, Data: map[string]any{"reason": st.BlockedReason}})
		return res, nil
	}

	if unmet := e.unmetDepsLocked(g); len(unmet) > 0 {
		// Dependency-unmet short-circuits to a blocked result but leaves
		// the stored status untouched so a later check can proceed once
		// the dependencies pass.
		res := Result{
			GateID:    id,
			Status:    StatusBlocked,
			Error:     fmt.Sprintf("dependency gates not passed: %s", strings.Join(unmet, ", ")),
			CheckedAt: start,
		}
		st.LastResult = &res
		e.mu.Unlock()
		e.publish(events.Event{Type: events.GateBlocked, GateID: id, Data: map[string]any{"unmet": unmet}})
		return res, nil
	}

	st.Status = StatusChecking
	st.Attempts++
	gateCopy := *g
	gateCopy.Requirements = append([]Requirement(nil), g.Requirements...)
	e.mu.Unlock()

	e.publish(events.Event{Type: events.GateChecking, GateID: id})

	reqResults, mandatoryFailed := e.evaluate(ctx, &gateCopy)

	var passedWeight, totalWeight float64
	for _, r := range gateCopy.Requirements {
		totalWeight += r.Weight
	}
	evaluated := make(map[string]RequirementResult, len(reqResults))
	for _, rr := range reqResults {
		evaluated[rr.ID] = rr
		if rr.Passed {
			for _, r := range gateCopy.Requirements {
				if r.ID == rr.ID {
					passedWeight += r.Weight
				}
			}
		}
	}

	score := 0.0
	if totalWeight > 0 && len(reqResults) > 0 {
		score = passedWeight / totalWeight * 100
	}

	status := StatusFailed
	if !mandatoryFailed && score >= gateCopy.MinPassScore {
		status = StatusPassed
	}

	res := Result{
		GateID:       id,
		Status:       status,
		Score:        score,
		Requirements: reqResults,
		CheckedAt:    start,
		Duration:     e.now().Sub(start),
	}
	if status == StatusFailed {
		res.RequiredActions = requiredActions(&gateCopy, evaluated)
		if mandatoryFailed {
			res.Error = "mandatory requirement failed"
		} else {
			res.Error = fmt.Sprintf("score %.1f below minimum %.1f", score, gateCopy.MinPassScore)
		}
	}

	e.mu.Lock()
	st = e.states[id]
	st.LastResult = &res
	st.Status = status
	if status == StatusPassed {
		st.PassCount++
	} else {
		st.FailCount++
	}
	e.mu.Unlock()

	e.publish(events.Event{Type: events.GateChecked, GateID: id, Data: map[string]any{"status": string(status), "score": score}})
	if status == StatusPassed {
		e.publish(events.Event{Type: events.GatePassed, GateID: id, Data: map[string]any{"score": score}})
	} else {
		e.publish(events.Event{Type: events.GateFailed, GateID: id, Data: map[string]any{"score": score, "actions": res.RequiredActions}})
	}
	return res, nil
}

// CheckAll evaluates every registered gate in dependency order. In strict
// mode it stops at the first gate that does not pass.
func (e *Engine) CheckAll(ctx context.Context) ([]Result, error) {
	order, err := e.TopoOrder()
	if err != nil {
		return nil, err
	}
	return e.CheckGates(ctx, order)
}

// CheckGates evaluates the given gates in the given order, skipping ids
// whose state is already satisfied. In strict mode evaluation stops at
// the first gate that does not pass.
func (e *Engine) CheckGates(ctx context.Context, ids []string) ([]Result, error) {
	var results []Result
	for _, id := range ids {
		if st, ok := e.State(id); ok && st.Status.satisfied() {
			continue
		}
		res, err := e.Check(ctx, id)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if e.cfg.Strict && res.Status != StatusPassed {
			break
		}
	}
	return results, nil
}

// TopoOrder returns gate ids sorted so every gate follows its
// dependencies. Ties break lexically for determinism.
func (e *Engine) TopoOrder() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	indegree := make(map[string]int, len(e.gates))
	dependents := make(map[string][]string)
	for id, g := range e.gates {
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for _, dep := range g.DependsOn {
			if _, ok := e.gates[dep]; !ok {
				return nil, fmt.Errorf("gate %s depends on unregistered gate %q", id, dep)
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		next := dependents[id]
		sort.Strings(next)
		for _, d := range next {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
		sort.Strings(ready)
	}
	if len(order) != len(e.gates) {
		return nil, fmt.Errorf("gate: dependency cycle detected")
	}
	return order, nil
}

// unmetDepsLocked lists dependency gates whose status is not passed or
// skipped. Caller holds e.mu.
func (e *Engine) unmetDepsLocked(g *Gate) []string {
	var unmet []string
	for _, dep := range g.DependsOn {
		st, ok := e.states[dep]
		if !ok || !st.Status.satisfied() {
			unmet = append(unmet, dep)
		}
	}
	return unmet
}

func requiredActions(g *Gate, evaluated map[string]RequirementResult) []string {
	var actions []string
	for _, r := range g.Requirements {
		rr, ok := evaluated[r.ID]
		if ok && rr.Passed {
			continue
		}
		msg := r.ErrorMessage
		if msg == "" {
			msg = fmt.Sprintf("requirement %s not satisfied", r.Name)
		}
		if !ok {
			msg += " (not evaluated)"
		}
		actions = append(actions, msg)
	}
	return actions
}

func (e *Engine) publish(ev events.Event) {
	if e.hub != nil {
		e.hub.Publish(ev)
	}
}
