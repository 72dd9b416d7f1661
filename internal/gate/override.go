package gate

import (
	"fmt"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/events"
)

// Pass forces a gate to passed, recording who overrode it. Downstream
// dependents treat it exactly like an organic pass.
func (e *Engine) Pass(id, by string) error {
	e.mu.Lock()
	st, ok := e.states[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("gate: unknown gate %q", id)
	}
	st.Status = StatusPassed
	st.PassCount++
	st.OverriddenBy = by
	st.OverriddenAt = e.now()
	st.BlockedReason = ""
	e.mu.Unlock()
	e.publish(events.Event{Type: events.GatePassed, GateID: id, Data: map[string]any{"overridden_by": by}})
	return nil
}

// Block marks a gate blocked with a reason; checks fail fast until
// Unblock.
func (e *Engine) Block(id, reason string) error {
	e.mu.Lock()
	st, ok := e.states[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("gate: unknown gate %q", id)
	}
	st.Status = StatusBlocked
	st.BlockedReason = reason
	e.mu.Unlock()
	e.publish(events.Event{Type: events.GateBlocked, GateID: id, Data: map[string]any{"reason": reason}})
	return nil
}

// Unblock returns a blocked gate to pending.
func (e *Engine) Unblock(id string) error {
	e.mu.Lock()
	st, ok := e.states[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("gate: unknown gate %q", id)
	}
	if st.Status == StatusBlocked {
		st.Status = StatusPending
		st.BlockedReason = ""
	}
	e.mu.Unlock()
	e.publish(events.Event{Type: events.GateReset, GateID: id, Data: map[string]any{"unblocked": true}})
	return nil
}

// Skip marks a gate skipped; dependents treat it as satisfied.
func (e *Engine) Skip(id, by string) error {
	e.mu.Lock()
	st, ok := e.states[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("gate: unknown gate %q", id)
	}
	st.Status = StatusSkipped
	st.OverriddenBy = by
	st.OverriddenAt = e.now()
	e.mu.Unlock()
	e.publish(events.Event{Type: events.GateSkipped, GateID: id, Data: map[string]any{"overridden_by": by}})
	return nil
}

// Reset clears a gate's result and override history back to pending.
// Idempotent: resetting twice leaves the same cleared state.
func (e *Engine) Reset(id string) error {
	e.mu.Lock()
	st, ok := e.states[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("gate: unknown gate %q", id)
	}
	*st = State{GateID: id, Status: StatusPending}
	e.mu.Unlock()
	e.publish(events.Event{Type: events.GateReset, GateID: id})
	return nil
}
