// Package state persists the small amount of local state that survives
// process restarts: the bounded list of known-good document paths and the
// alert-ID set from the previous run (used to diff out newly-seen alerts).
package state

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// DefaultPathCap bounds the cached-path list. Staleness is harmless, since
// a stale path fails its next probe and ages out, so the cap is the only
// eviction policy.
const DefaultPathCap = 10

// Store is a SQLite-backed state store.
type Store struct {
	db      *sql.DB
	pathCap int
}

// Open opens (or creates) the state database at the given path and applies
// the schema. A pathCap <= 0 uses DefaultPathCap.
func Open(dsn string, pathCap int) (*Store, error) {
	if pathCap <= 0 {
		pathCap = DefaultPathCap
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "state: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "state: exec %s", pragma)
		}
	}

	s := &Store{db: db, pathCap: pathCap}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS cached_paths (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	path     TEXT NOT NULL UNIQUE,
	added_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS seen_alerts (
	id      TEXT PRIMARY KEY,
	seen_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *Store) migrate() error {
	_, err := s.db.Exec(migration)
	return eris.Wrap(err, "state: migrate")
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Paths returns the cached document paths, oldest first.
func (s *Store) Paths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM cached_paths ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "state: list paths")
	}
	defer rows.Close() //nolint:errcheck

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, eris.Wrap(err, "state: scan path")
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// AddPath records a known-good path and trims the list to the cap, evicting
// the oldest entries. Re-adding an existing path refreshes its position.
// Concurrent writers converge on a merged last-N list; lost updates only
// cost a probe on the next run.
func (s *Store) AddPath(ctx context.Context, path string) error {
	if path == "" {
		return eris.New("state: empty path")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "state: begin add-path tx")
	}
	defer tx.Rollback() //nolint:errcheck

	// Delete-then-insert moves a re-proven path to the newest slot.
	if _, err := tx.ExecContext(ctx, `DELETE FROM cached_paths WHERE path = ?`, path); err != nil {
		return eris.Wrapf(err, "state: refresh path %s", path)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO cached_paths (path) VALUES (?)`, path); err != nil {
		return eris.Wrapf(err, "state: add path %s", path)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cached_paths WHERE id NOT IN (SELECT id FROM cached_paths ORDER BY id DESC LIMIT ?)`,
		s.pathCap,
	); err != nil {
		return eris.Wrap(err, "state: trim paths")
	}
	return eris.Wrap(tx.Commit(), "state: commit add path")
}

// ClearPaths empties the path cache.
func (s *Store) ClearPaths(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cached_paths`)
	return eris.Wrap(err, "state: clear paths")
}

// SeenIDs returns the alert IDs recorded by the previous run.
func (s *Store) SeenIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM seen_alerts`)
	if err != nil {
		return nil, eris.Wrap(err, "state: list seen alerts")
	}
	defer rows.Close() //nolint:errcheck

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "state: scan seen alert")
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// ReplaceSeenIDs swaps the seen-alert set for the given IDs atomically.
func (s *Store) ReplaceSeenIDs(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "state: begin seen-alerts tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM seen_alerts`); err != nil {
		return eris.Wrap(err, "state: clear seen alerts")
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO seen_alerts (id) VALUES (?)`, id); err != nil {
			return eris.Wrapf(err, "state: insert seen alert %s", id)
		}
	}
	return eris.Wrap(tx.Commit(), "state: commit seen alerts")
}
