// Package postgres is the PostgreSQL store backend (pgx connection pool).
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	store.Register(store.BackendPostgres, func(dsn string) (store.Store, error) { return Open(dsn) })
}

// Store is the PostgreSQL implementation of store.Store.
type Store struct {
	Pool *pgxpool.Pool
}

// Open opens a connection pool and runs migrations. An empty dsn falls
// back to DATABASE_URL.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("postgres DSN or DATABASE_URL required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 20
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	s := &Store{Pool: pool}
	if err := s.Migrate(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.Pool == nil {
		return nil
	}
	s.Pool.Close()
	return nil
}

// Migrate applies pending embedded migrations in version order.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at BIGINT NOT NULL
);`); err != nil {
		return err
	}
	applied := make(map[int]bool)
	rows, err := s.Pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	type migration struct {
		version int
		name    string
		sql     string
	}
	files, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	var migs []migration
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		v, err := strconv.Atoi(strings.SplitN(strings.TrimSuffix(name, ".sql"), "_", 2)[0])
		if err != nil {
			return fmt.Errorf("invalid migration version in %s", name)
		}
		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		migs = append(migs, migration{version: v, name: name, sql: string(body)})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].version < migs[j].version })
	for _, m := range migs {
		if applied[m.version] {
			continue
		}
		tx, err := s.Pool.Begin(ctx)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("migration %s failed: %w", m.name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES($1, $2)`, m.version, time.Now().Unix()); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SaveSnapshot(ctx context.Context, kind string, data []byte) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO snapshots(kind, data) VALUES($1, $2)`, kind, data)
	return err
}

func (s *Store) LatestSnapshot(ctx context.Context, kind string) (store.Snapshot, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT id, kind, data, created_at FROM snapshots WHERE kind = $1 ORDER BY id DESC LIMIT 1`, kind)
	var snap store.Snapshot
	if err := row.Scan(&snap.ID, &snap.Kind, &snap.Data, &snap.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Snapshot{}, store.ErrNotFound
		}
		return store.Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) ListSnapshots(ctx context.Context, kind string, limit int) ([]store.Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT id, kind, data, created_at FROM snapshots WHERE kind = $1 ORDER BY id DESC LIMIT $2`, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Snapshot
	for rows.Next() {
		var snap store.Snapshot
		if err := rows.Scan(&snap.ID, &snap.Kind, &snap.Data, &snap.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *Store) AppendEvent(ctx context.Context, ev store.AuditEvent) error {
	at := ev.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO audit_events(type, agent_id, task_id, gate_id, workflow, payload, created_at)
		 VALUES($1, $2, $3, $4, $5, $6, $7)`,
		ev.Type, ev.AgentID, ev.TaskID, ev.GateID, ev.Workflow, ev.Payload, at)
	return err
}

func (s *Store) ListEvents(ctx context.Context, f store.EventFilter) ([]store.AuditEvent, error) {
	q := `SELECT id, type, agent_id, task_id, gate_id, workflow, payload, created_at FROM audit_events`
	var conds []string
	var args []any
	if f.Type != "" {
		args = append(args, f.Type)
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.AgentID != "" {
		args = append(args, f.AgentID)
		conds = append(conds, fmt.Sprintf("agent_id = $%d", len(args)))
	}
	if f.TaskID != "" {
		args = append(args, f.TaskID)
		conds = append(conds, fmt.Sprintf("task_id = $%d", len(args)))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args))

	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.AuditEvent
	for rows.Next() {
		var ev store.AuditEvent
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.AgentID, &ev.TaskID, &ev.GateID, &ev.Workflow, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) RecordTaskRun(ctx context.Context, run store.TaskRun) error {
	at := run.StartedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO task_runs(task_id, agent_id, status, output, error, tokens_used, duration_ms, started_at)
		 VALUES($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.TaskID, run.AgentID, run.Status, run.Output, run.Error, run.TokensUsed,
		run.Duration.Milliseconds(), at)
	return err
}

func (s *Store) ListTaskRuns(ctx context.Context, agentID string, limit int) ([]store.TaskRun, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, task_id, agent_id, status, output, error, tokens_used, duration_ms, started_at FROM task_runs`
	var args []any
	if agentID != "" {
		args = append(args, agentID)
		q += " WHERE agent_id = $1"
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args))

	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.TaskRun
	for rows.Next() {
		var run store.TaskRun
		var durMs int64
		if err := rows.Scan(&run.ID, &run.TaskID, &run.AgentID, &run.Status, &run.Output, &run.Error, &run.TokensUsed, &durMs, &run.StartedAt); err != nil {
			return nil, err
		}
		run.Duration = time.Duration(durMs) * time.Millisecond
		out = append(out, run)
	}
	return out, rows.Err()
}
