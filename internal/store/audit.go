package store

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/events"
)

// Recorder subscribes to the event hub and appends every event to the
// audit log. It is the persistent event-sink collaborator; a lost write
// is logged, never propagated back into the orchestrator.
type Recorder struct {
	Store Store
	Hub   *events.Hub
}

// Run consumes hub events until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) {
	sub := r.Hub.Subscribe()
	defer r.Hub.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := r.Store.AppendEvent(ctx, ToAuditEvent(ev)); err != nil && ctx.Err() == nil {
				slog.Warn("audit append failed", "type", ev.Type, "err", err)
			}
		}
	}
}

// ToAuditEvent converts a hub event to its audit-log row.
func ToAuditEvent(ev events.Event) AuditEvent {
	var payload []byte
	if len(ev.Data) > 0 {
		payload, _ = json.Marshal(ev.Data)
	}
	return AuditEvent{
		Type:      ev.Type,
		AgentID:   ev.AgentID,
		TaskID:    ev.TaskID,
		GateID:    ev.GateID,
		Workflow:  ev.Workflow,
		Payload:   payload,
		CreatedAt: ev.Timestamp,
	}
}
