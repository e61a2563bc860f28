package heapdb

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// KindTotal is the population of one cell kind.
type KindTotal struct {
	Kind  string
	Count int
	Bytes int
}

// Node is a stored cell.
type Node struct {
	ID   uint32
	Kind string
	Size int
	Name string
}

// Reference is an edge seen from its target.
type Reference struct {
	From  Node
	Label string
}

// KindTotals groups a snapshot's cells by kind, largest first.
func (s *Store) KindTotals(id uuid.UUID) ([]KindTotal, error) {
	rows, err := s.db.Query(`
		SELECT kind, COUNT(*), SUM(size) FROM nodes
		WHERE snapshot = ? GROUP BY kind ORDER BY SUM(size) DESC, kind`, id.String())
	if err != nil {
		return nil, fmt.Errorf("kind totals: %w", err)
	}
	defer rows.Close()
	var out []KindTotal
	for rows.Next() {
		var kt KindTotal
		if err := rows.Scan(&kt.Kind, &kt.Count, &kt.Bytes); err != nil {
			return nil, fmt.Errorf("kind totals: %w", err)
		}
		out = append(out, kt)
	}
	return out, rows.Err()
}

// Largest returns the n biggest cells.
func (s *Store) Largest(id uuid.UUID, n int) ([]Node, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, size, name FROM nodes
		WHERE snapshot = ? ORDER BY size DESC, id LIMIT ?`, id.String(), n)
	if err != nil {
		return nil, fmt.Errorf("largest cells: %w", err)
	}
	return collectNodes(rows)
}

// Retainers lists the cells holding a reference to node.
func (s *Store) Retainers(id uuid.UUID, node uint32) ([]Reference, error) {
	rows, err := s.db.Query(`
		SELECT n.id, n.kind, n.size, n.name, e.label
		FROM edges e JOIN nodes n ON n.snapshot = e.snapshot AND n.id = e.src
		WHERE e.snapshot = ? AND e.dst = ? ORDER BY n.id, e.label`, id.String(), node)
	if err != nil {
		return nil, fmt.Errorf("retainers: %w", err)
	}
	defer rows.Close()
	var out []Reference
	for rows.Next() {
		var r Reference
		if err := rows.Scan(&r.From.ID, &r.From.Kind, &r.From.Size, &r.From.Name, &r.Label); err != nil {
			return nil, fmt.Errorf("retainers: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Reachable returns every cell reachable from node, node included.
func (s *Store) Reachable(id uuid.UUID, node uint32) ([]Node, error) {
	rows, err := s.db.Query(`
		WITH RECURSIVE reach(id) AS (
			SELECT ?
			UNION
			SELECT e.dst FROM edges e JOIN reach r ON e.src = r.id WHERE e.snapshot = ?
		)
		SELECT n.id, n.kind, n.size, n.name FROM nodes n JOIN reach r ON n.id = r.id
		WHERE n.snapshot = ? ORDER BY n.id`, node, id.String(), id.String())
	if err != nil {
		return nil, fmt.Errorf("reachable cells: %w", err)
	}
	return collectNodes(rows)
}

// ReachableSize sums the sizes of the cells reachable from node.
func (s *Store) ReachableSize(id uuid.UUID, node uint32) (int, error) {
	nodes, err := s.Reachable(id, node)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, n := range nodes {
		total += n.Size
	}
	return total, nil
}

func collectNodes(rows *sql.Rows) ([]Node, error) {
	defer rows.Close()
	var out []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.Kind, &n.Size, &n.Name); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
