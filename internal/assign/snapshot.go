package assign

import "encoding/json"

// Snapshot is the engine's exported state: agents and the assignment map.
type Snapshot struct {
	Agents          []Agent               `json:"agents"`
	TaskAssignments map[string]Assignment `json:"taskAssignments"`
}

// Export captures the engine state for checkpointing.
func (e *Engine) Export() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{TaskAssignments: make(map[string]Assignment, len(e.assignments))}
	for _, a := range e.agents {
		snap.Agents = append(snap.Agents, copyAgent(a))
	}
	for id, as := range e.assignments {
		snap.TaskAssignments[id] = *as
	}
	return snap
}

// Import replaces the engine state with the snapshot. Assignments that
// point at agents absent from the snapshot are dropped, preserving the
// no-dangling-assignment invariant.
func (e *Engine) Import(snap Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agents = make(map[string]*Agent, len(snap.Agents))
	for _, a := range snap.Agents {
		cp := copyAgent(&a)
		if cp.Affinity == nil {
			cp.Affinity = make(map[string]int)
		}
		e.agents[cp.ID] = &cp
	}
	e.assignments = make(map[string]*Assignment, len(snap.TaskAssignments))
	for id, as := range snap.TaskAssignments {
		if _, ok := e.agents[as.AgentID]; !ok {
			continue
		}
		cp := as
		e.assignments[id] = &cp
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
