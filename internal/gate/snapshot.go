package gate

import (
	"encoding/json"
	"sort"
)

// Snapshot is the engine's exported state: gate definitions, per-gate
// state, and the context bag. CheckFuncs do not serialize; Import re-binds
// them by requirement id from the already-registered definitions.
type Snapshot struct {
	Gates   []Gate           `json:"gates"`
	States  map[string]State `json:"states"`
	Context map[Key]Value    `json:"context"`
}

// Export captures the engine state for checkpointing.
func (e *Engine) Export() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{States: make(map[string]State, len(e.states))}
	ids := make([]string, 0, len(e.gates))
	for id := range e.gates {
		ids = append(ids, id)
	}
	// Stable gate order for reproducible snapshots.
	sort.Strings(ids)
	for _, id := range ids {
		g := *e.gates[id]
		g.Requirements = append([]Requirement(nil), g.Requirements...)
		snap.Gates = append(snap.Gates, g)
	}
	for id, st := range e.states {
		snap.States[id] = *st
	}
	snap.Context = e.gctx.Export()
	return snap
}

// Import replaces (not merges) gates and states for matching ids and
// swaps in the snapshot's context. Requirements whose id matches a
// previously registered requirement keep that requirement's CheckFunc;
// unmatched requirements evaluate as failed until a check is bound.
func (e *Engine) Import(snap Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	checks := make(map[string]map[string]CheckFunc, len(e.gates))
	for id, g := range e.gates {
		m := make(map[string]CheckFunc, len(g.Requirements))
		for _, r := range g.Requirements {
			m[r.ID] = r.Check
		}
		checks[id] = m
	}

	for _, g := range snap.Gates {
		cp := g
		cp.Requirements = append([]Requirement(nil), g.Requirements...)
		if bound, ok := checks[g.ID]; ok {
			for i := range cp.Requirements {
				if cp.Requirements[i].Check == nil {
					cp.Requirements[i].Check = bound[cp.Requirements[i].ID]
				}
			}
		}
		e.gates[g.ID] = &cp
		st, ok := snap.States[g.ID]
		if !ok {
			st = State{GateID: g.ID, Status: StatusPending}
		}
		e.states[g.ID] = &st
	}
	for id, st := range snap.States {
		if _, ok := e.gates[id]; !ok {
			continue
		}
		cp := st
		e.states[id] = &cp
	}
	if snap.Context != nil {
		e.gctx.Replace(snap.Context)
	}
}

// MarshalSnapshot serializes the current state as JSON.
func (e *Engine) MarshalSnapshot() ([]byte, error) {
	return json.Marshal(e.Export())
}

// UnmarshalSnapshot restores state from JSON produced by MarshalSnapshot.
func (e *Engine) UnmarshalSnapshot(b []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return err
	}
	e.Import(snap)
	return nil
}
