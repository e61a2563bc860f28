// Package heapdb stores heap snapshots in SQLite so that retention
// questions can be answered with SQL after the runtime is gone.
package heapdb

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chazu/protovm/vm"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrSnapshotNotFound indicates the requested snapshot doesn't exist.
var ErrSnapshotNotFound = errors.New("snapshot not found")

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id          TEXT PRIMARY KEY,
	taken       TEXT NOT NULL,
	young_bytes INTEGER NOT NULL,
	old_bytes   INTEGER NOT NULL,
	live_cells  INTEGER NOT NULL,
	minor_gcs   INTEGER NOT NULL,
	full_gcs    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS nodes (
	snapshot TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	id       INTEGER NOT NULL,
	kind     TEXT NOT NULL,
	size     INTEGER NOT NULL,
	name     TEXT NOT NULL,
	PRIMARY KEY (snapshot, id)
);
CREATE TABLE IF NOT EXISTS edges (
	snapshot TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	src      INTEGER NOT NULL,
	dst      INTEGER NOT NULL,
	label    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS edges_dst ON edges (snapshot, dst);
CREATE INDEX IF NOT EXISTS edges_src ON edges (snapshot, src);
CREATE TABLE IF NOT EXISTS roots (
	snapshot TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	node     INTEGER NOT NULL
);
`

// Store is a snapshot database.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the database at path. Use ":memory:" for a
// throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// An in-memory database lives only as long as its connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring database: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the location the store was opened with.
func (s *Store) Path() string { return s.path }

// Save writes a snapshot in one transaction. Saving the same snapshot
// twice replaces the earlier copy.
func (s *Store) Save(snap *vm.Snapshot) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	id := snap.ID.String()
	if _, err = tx.Exec("DELETE FROM snapshots WHERE id = ?", id); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	st := snap.Stats
	if _, err = tx.Exec(
		"INSERT INTO snapshots (id, taken, young_bytes, old_bytes, live_cells, minor_gcs, full_gcs) VALUES (?, ?, ?, ?, ?, ?, ?)",
		id, snap.Taken.UTC().Format(time.RFC3339Nano), st.YoungBytes, st.OldBytes, st.LiveCells,
		int64(st.MinorCollections), int64(st.FullCollections),
	); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}

	if err = insertAll(tx, "INSERT INTO nodes (snapshot, id, kind, size, name) VALUES (?, ?, ?, ?, ?)", len(snap.Nodes), func(i int) []any {
		n := snap.Nodes[i]
		return []any{id, n.ID, n.Kind, n.Size, n.Name}
	}); err != nil {
		return fmt.Errorf("saving nodes: %w", err)
	}
	if err = insertAll(tx, "INSERT INTO edges (snapshot, src, dst, label) VALUES (?, ?, ?, ?)", len(snap.Edges), func(i int) []any {
		e := snap.Edges[i]
		return []any{id, e.From, e.To, e.Label}
	}); err != nil {
		return fmt.Errorf("saving edges: %w", err)
	}
	if err = insertAll(tx, "INSERT INTO roots (snapshot, node) VALUES (?, ?)", len(snap.Roots), func(i int) []any {
		return []any{id, snap.Roots[i]}
	}); err != nil {
		return fmt.Errorf("saving roots: %w", err)
	}
	return tx.Commit()
}

func insertAll(tx *sql.Tx, query string, n int, row func(int) []any) error {
	stmt, err := tx.Prepare(query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.Exec(row(i)...); err != nil {
			return err
		}
	}
	return nil
}

// Summary describes a stored snapshot.
type Summary struct {
	ID        uuid.UUID
	Taken     time.Time
	Nodes     int
	Edges     int
	LiveCells int
	HeapBytes int
}

// List returns the stored snapshots, oldest first.
func (s *Store) List() ([]Summary, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.taken, s.live_cells, s.young_bytes + s.old_bytes,
		       (SELECT COUNT(*) FROM nodes n WHERE n.snapshot = s.id),
		       (SELECT COUNT(*) FROM edges e WHERE e.snapshot = s.id)
		FROM snapshots s ORDER BY s.taken, s.id`)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var id, taken string
		if err := rows.Scan(&id, &taken, &sum.LiveCells, &sum.HeapBytes, &sum.Nodes, &sum.Edges); err != nil {
			return nil, fmt.Errorf("listing snapshots: %w", err)
		}
		if sum.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("listing snapshots: %w", err)
		}
		if sum.Taken, err = time.Parse(time.RFC3339Nano, taken); err != nil {
			return nil, fmt.Errorf("listing snapshots: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Load reads a snapshot back.
func (s *Store) Load(id uuid.UUID) (*vm.Snapshot, error) {
	snap := &vm.Snapshot{ID: id}
	var taken string
	var minor, full int64
	err := s.db.QueryRow(
		"SELECT taken, young_bytes, old_bytes, live_cells, minor_gcs, full_gcs FROM snapshots WHERE id = ?", id.String(),
	).Scan(&taken, &snap.Stats.YoungBytes, &snap.Stats.OldBytes, &snap.Stats.LiveCells, &minor, &full)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	snap.Stats.MinorCollections, snap.Stats.FullCollections = uint64(minor), uint64(full)
	if snap.Taken, err = time.Parse(time.RFC3339Nano, taken); err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}

	if err := s.scan("SELECT id, kind, size, name FROM nodes WHERE snapshot = ? ORDER BY rowid", id, func(rows *sql.Rows) error {
		var n vm.SnapshotNode
		if err := rows.Scan(&n.ID, &n.Kind, &n.Size, &n.Name); err != nil {
			return err
		}
		snap.Nodes = append(snap.Nodes, n)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	if err := s.scan("SELECT src, dst, label FROM edges WHERE snapshot = ? ORDER BY rowid", id, func(rows *sql.Rows) error {
		var e vm.SnapshotEdge
		if err := rows.Scan(&e.From, &e.To, &e.Label); err != nil {
			return err
		}
		snap.Edges = append(snap.Edges, e)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("querying edges: %w", err)
	}
	if err := s.scan("SELECT node FROM roots WHERE snapshot = ? ORDER BY rowid", id, func(rows *sql.Rows) error {
		var r uint32
		if err := rows.Scan(&r); err != nil {
			return err
		}
		snap.Roots = append(snap.Roots, r)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("querying roots: %w", err)
	}
	return snap, nil
}

// Delete removes a snapshot and everything recorded with it.
func (s *Store) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec("DELETE FROM snapshots WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSnapshotNotFound
	}
	return nil
}

func (s *Store) scan(query string, id uuid.UUID, row func(*sql.Rows) error) error {
	rows, err := s.db.Query(query, id.String())
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := row(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
