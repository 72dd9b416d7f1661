package store

import "context"

// Store persists engine snapshots, the append-only event audit log, and
// task run history. Implementations: *sqlite.Store and *postgres.Store.
type Store interface {
	// Snapshots (latest-wins per kind, older rows retained)
	SaveSnapshot(ctx context.Context, kind string, data []byte) error
	LatestSnapshot(ctx context.Context, kind string) (Snapshot, error)
	ListSnapshots(ctx context.Context, kind string, limit int) ([]Snapshot, error)

	// Audit log (append-only)
	AppendEvent(ctx context.Context, ev AuditEvent) error
	ListEvents(ctx context.Context, f EventFilter) ([]AuditEvent, error)

	// Task runs
	RecordTaskRun(ctx context.Context, run TaskRun) error
	ListTaskRuns(ctx context.Context, agentID string, limit int) ([]TaskRun, error)

	Close() error
}
