// Package sqlite is the SQLite store backend (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	store.Register(store.BackendSQLite, func(dsn string) (store.Store, error) { return Open(dsn) })
}

// Store is the SQLite implementation of store.Store.
type Store struct {
	DB *sql.DB
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{DB: db}
	if err := s.initPragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *Store) initPragmas(ctx context.Context) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, q := range stmts {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Migrate applies pending embedded migrations in version order.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store not initialized")
	}
	if _, err := s.DB.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at INTEGER NOT NULL
);`); err != nil {
		return err
	}
	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return err
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
		v, err := parseMigrationVersion(name)
		if err != nil {
			return err
		}
		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		migs = append(migs, migration{Version: v, Name: name, SQL: string(body)})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })
	for _, m := range migs {
		if applied[m.Version] {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}

type migration struct {
	Version int
	Name    string
	SQL     string
}

func (s *Store) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`, m.Version, time.Now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

func parseMigrationVersion(filename string) (int, error) {
	base := strings.TrimSuffix(filename, ".sql")
	parts := strings.SplitN(base, "_", 2)
	v, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid migration version in %s", filename)
	}
	return v, nil
}

func (s *Store) SaveSnapshot(ctx context.Context, kind string, data []byte) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO snapshots(kind, data, created_at) VALUES(?, ?, ?)`,
		kind, data, time.Now().Unix())
	return err
}

func (s *Store) LatestSnapshot(ctx context.Context, kind string) (store.Snapshot, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, kind, data, created_at FROM snapshots WHERE kind = ? ORDER BY id DESC LIMIT 1`, kind)
	var snap store.Snapshot
	var createdAt int64
	if err := row.Scan(&snap.ID, &snap.Kind, &snap.Data, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Snapshot{}, store.ErrNotFound
		}
		return store.Snapshot{}, err
	}
	snap.CreatedAt = time.Unix(createdAt, 0).UTC()
	return snap, nil
}

func (s *Store) ListSnapshots(ctx context.Context, kind string, limit int) ([]store.Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, kind, data, created_at FROM snapshots WHERE kind = ? ORDER BY id DESC LIMIT ?`, kind, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.Snapshot
	for rows.Next() {
		var snap store.Snapshot
		var createdAt int64
		if err := rows.Scan(&snap.ID, &snap.Kind, &snap.Data, &createdAt); err != nil {
			return nil, err
		}
		snap.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *Store) AppendEvent(ctx context.Context, ev store.AuditEvent) error {
	at := ev.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO audit_events(type, agent_id, task_id, gate_id, workflow, payload, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		ev.Type, ev.AgentID, ev.TaskID, ev.GateID, ev.Workflow, ev.Payload, at.Unix())
	return err
}

func (s *Store) ListEvents(ctx context.Context, f store.EventFilter) ([]store.AuditEvent, error) {
	q := `SELECT id, type, agent_id, task_id, gate_id, workflow, payload, created_at FROM audit_events`
	var conds []string
	var args []any
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, f.Type)
	}
	if f.AgentID != "" {
		conds = append(conds, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.TaskID != "" {
		conds = append(conds, "task_id = ?")
		args = append(args, f.TaskID)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.AuditEvent
	for rows.Next() {
		var ev store.AuditEvent
		var createdAt int64
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.AgentID, &ev.TaskID, &ev.GateID, &ev.Workflow, &ev.Payload, &createdAt); err != nil {
			return nil, err
		}
		ev.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) RecordTaskRun(ctx context.Context, run store.TaskRun) error {
	at := run.StartedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO task_runs(task_id, agent_id, status, output, error, tokens_used, duration_ms, started_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		run.TaskID, run.AgentID, run.Status, run.Output, run.Error, run.TokensUsed,
		run.Duration.Milliseconds(), at.Unix())
	return err
}

func (s *Store) ListTaskRuns(ctx context.Context, agentID string, limit int) ([]store.TaskRun, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, task_id, agent_id, status, output, error, tokens_used, duration_ms, started_at FROM task_runs`
	var args []any
	if agentID != "" {
		q += " WHERE agent_id = ?"
		args = append(args, agentID)
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.TaskRun
	for rows.Next() {
		var run store.TaskRun
		var durMs, startedAt int64
		if err := rows.Scan(&run.ID, &run.TaskID, &run.AgentID, &run.Status, &run.Output, &run.Error, &run.TokensUsed, &durMs, &startedAt); err != nil {
			return nil, err
		}
		run.Duration = time.Duration(durMs) * time.Millisecond
		run.StartedAt = time.Unix(startedAt, 0).UTC()
		out = append(out, run)
	}
	return out, rows.Err()
}
