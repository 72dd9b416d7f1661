package pool

import (
	"context"
	"log/slog"
	"time"
)

// RunHealth runs the periodic health check until ctx is cancelled.
func (p *Pool) RunHealth(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CheckHealth()
		}
	}
}

// CheckHealth performs one health sweep and returns the ids it acted on.
// A busy agent inactive for twice the task timeout is stalled: the first
// sweep attempts recovery by cancelling its task; if it is still stalled
// on the next sweep the agent is terminated. Processes that exited without
// a status update move to the failed pool.
func (p *Pool) CheckHealth() []string {
	type probe struct {
		id      string
		status  Status
		idle    time.Duration
		dead    bool
		stalled bool
		hasProc bool
	}
	now := p.now()
	stallBound := 2 * p.cfg.TaskTimeout

	p.mu.Lock()
	probes := make([]probe, 0, len(p.agents))
	for id, h := range p.agents {
		probes = append(probes, probe{
			id:      id,
			status:  h.agent.Status,
			idle:    now.Sub(h.agent.LastActivity),
			dead:    h.proc == nil || !h.proc.alive(),
			stalled: h.stalled,
			hasProc: h.proc != nil,
		})
	}
	p.mu.Unlock()

	var acted []string
	for _, pr := range probes {
		switch {
		case pr.status == StatusBusy && pr.stalled && pr.idle > stallBound:
			// Recovery was attempted on a previous sweep and the agent is
			// still stuck.
			slog.Warn("stalled agent did not recover, terminating", "agent", pr.id)
			_ = p.Terminate(pr.id, "stalled beyond recovery")
			acted = append(acted, pr.id)

		case pr.dead && pr.hasProc && (pr.status == StatusIdle || pr.status == StatusBusy):
			// Silent exit: no result, no terminate. Move to the failed pool.
			p.failAgent(pr.id, "process exited without status update")
			acted = append(acted, pr.id)

		case pr.status == StatusBusy && pr.idle > stallBound:
			slog.Warn("agent stalled, attempting recovery", "agent", pr.id, "inactive", pr.idle)
			p.mu.Lock()
			if h, ok := p.agents[pr.id]; ok {
				h.stalled = true
			}
			p.mu.Unlock()
			_ = p.Cancel(pr.id, "stalled")
			acted = append(acted, pr.id)
		}
	}
	return acted
}
