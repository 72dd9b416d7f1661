package workflow

import (
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/assign"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/worker"
)

// AssignSelector adapts the assignment engine to the pool's Selector
// interface for executions that do not name an agent. Candidates are
// restricted to the idle agents the pool reports, by excluding every
// registered agent without a live idle process.
type AssignSelector struct {
	Engine *assign.Engine
}

func (s AssignSelector) Select(req worker.TaskRequest, idle []string) (string, bool) {
	live := make(map[string]bool, len(idle))
	for _, id := range idle {
		live[id] = true
	}
	var excluded []string
	for _, a := range s.Engine.Agents() {
		if !live[a.ID] {
			excluded = append(excluded, a.ID)
		}
	}
	task := assign.Task{ID: req.TaskID, Name: req.Name, Payload: req.Payload}
	a := s.Engine.Assign(task, assign.Constraints{ExcludedAgents: excluded})
	if a == nil {
		return "", false
	}
	return a.AgentID, true
}
