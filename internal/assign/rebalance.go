package assign

import (
	"fmt"
	"sort"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/events"
)

// Rebalance workload bounds: agents under underloadedBound are move
// targets as long as receiving keeps them under moveTargetBound.
const (
	underloadedBound = 0.3
	moveTargetBound  = 0.5
)

// Rebalance moves queued (not yet started) tasks from agents above the
// workload threshold to underloaded agents, one at a time, until each
// source drops to the threshold or runs out of movable tasks. In-flight
// work is never reordered. Recommendations is always populated.
func (e *Engine) Rebalance() RebalanceResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	var overloaded, underloaded []*Agent
	var totalWorkload float64
	eligible := 0
	for _, a := range e.agents {
		if a.Status == StatusOffline || a.Status == StatusError {
			continue
		}
		eligible++
		totalWorkload += a.Workload
		if a.Workload > e.cfg.MaxWorkloadThreshold {
			overloaded = append(overloaded, a)
		} else if a.Workload < underloadedBound {
			underloaded = append(underloaded, a)
		}
	}
	sort.Slice(overloaded, func(i, j int) bool { return overloaded[i].Workload > overloaded[j].Workload })

	var res RebalanceResult
	for _, src := range overloaded {
		for src.Workload > e.cfg.MaxWorkloadThreshold && len(src.QueuedTasks) > 0 {
			dst := leastLoaded(underloaded, src.ID)
			if dst == nil || dst.Workload >= moveTargetBound {
				break
			}
			taskID := src.QueuedTasks[0]
			src.QueuedTasks = src.QueuedTasks[1:]
			dst.QueuedTasks = append(dst.QueuedTasks, taskID)
			e.recompute(src)
			e.recompute(dst)
			if as, ok := e.assignments[taskID]; ok {
				as.AgentID = dst.ID
				as.Reason = fmt.Sprintf("rebalanced from %s", src.ID)
			}
			res.Moves = append(res.Moves, Move{TaskID: taskID, From: src.ID, To: dst.ID})
			e.publish(events.Event{Type: events.TaskRebalanced, TaskID: taskID, AgentID: dst.ID, Data: map[string]any{
				"from": src.ID,
				"to":   dst.ID,
			}})
		}
	}

	res.Recommendations = e.recommendations(eligible, totalWorkload, overloaded, len(res.Moves))
	return res
}

// recommendations explains the fleet's load situation even when no moves
// occurred.
func (e *Engine) recommendations(eligible int, totalWorkload float64, overloaded []*Agent, moves int) []string {
	var recs []string
	if eligible == 0 {
		return []string{"no eligible agents registered; register agents before assigning tasks"}
	}
	avg := totalWorkload / float64(eligible)
	if avg > e.cfg.MaxWorkloadThreshold {
		recs = append(recs, fmt.Sprintf("average workload %.2f exceeds threshold %.2f; consider adding agents", avg, e.cfg.MaxWorkloadThreshold))
	}
	for _, a := range overloaded {
		if a.Workload > e.cfg.MaxWorkloadThreshold && len(a.QueuedTasks) == 0 {
			recs = append(recs, fmt.Sprintf("agent %s is overloaded with only in-flight tasks; no queued work can be moved", a.ID))
		}
	}
	if moves > 0 {
		recs = append(recs, fmt.Sprintf("moved %d queued task(s) to underloaded agents", moves))
	}
	if len(recs) == 0 {
		recs = append(recs, fmt.Sprintf("fleet balanced: average workload %.2f across %d agent(s)", avg, eligible))
	}
	return recs
}

// leastLoaded returns the underloaded agent with the lowest workload,
// excluding the source agent.
func leastLoaded(candidates []*Agent, excludeID string) *Agent {
	var best *Agent
	for _, a := range candidates {
		if a.ID == excludeID {
			continue
		}
		if best == nil || a.Workload < best.Workload || (a.Workload == best.Workload && a.ID < best.ID) {
			best = a
		}
	}
	return best
}
