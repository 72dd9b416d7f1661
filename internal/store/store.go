// Package store persists orchestrator state: engine snapshots for
// checkpoint/restore, an append-only audit log of hub events, and per-task
// run history. Two backends share one interface; the SQLite backend is the
// default for single-host deployments.
package store

import "fmt"

// Backends selectable in configuration.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// OpenFunc opens one backend. The sqlite and postgres packages register
// their openers through Register at init time via the daemon's imports;
// keeping the constructors out of this package avoids importing both
// drivers where only one is wanted.
type OpenFunc func(dsn string) (Store, error)

var backends = map[string]OpenFunc{}

// Register makes a backend available to Open.
func Register(name string, open OpenFunc) { backends[name] = open }

// Open opens the named backend with its DSN (a file path for sqlite, a
// connection URL for postgres).
func Open(backend, dsn string) (Store, error) {
	open, ok := backends[backend]
	if !ok {
		return nil, fmt.Errorf("store: unknown backend %q", backend)
	}
	return open(dsn)
}
