package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EnsureNode inserts a node if missing. Labels are only written on first
// insert; node identity is (kind, key).
func (s *Store) EnsureNode(ctx context.Context, n Node) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO nodes (kind, key, label) VALUES (?, ?, ?)",
		string(n.Kind), n.Key, n.Label)
	if err != nil {
		return fmt.Errorf("ensure node: %w", err)
	}
	return nil
}

// NodesByKind lists all nodes of a kind.
func (s *Store) NodesByKind(ctx context.Context, kind NodeKind) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, label FROM nodes WHERE kind = ?", string(kind))
	if err != nil {
		return nil, fmt.Errorf("nodes by kind: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Node
	for rows.Next() {
		n := Node{Kind: kind}
		if err := rows.Scan(&n.Key, &n.Label); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// GetEdge reads one edge by its (already canonicalized) key.
func (s *Store) GetEdge(ctx context.Context, key EdgeKey) (Edge, error) {
	var e Edge
	var at string
	err := s.db.QueryRowContext(ctx,
		"SELECT source, target, kind, value, updated_at FROM edges WHERE source = ? AND target = ? AND kind = ?",
		key.Source, key.Target, string(key.Kind)).
		Scan(&e.Source, &e.Target, (*string)(&e.Kind), &e.Value, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Edge{}, ErrNotFound
	}
	if err != nil {
		return Edge{}, fmt.Errorf("get edge: %w", err)
	}
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, at)
	return e, nil
}

// putEdge writes an edge value. Only the consistency engine calls this, under
// its per-key lock.
func (s *Store) putEdge(ctx context.Context, key EdgeKey, value float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO edges (source, target, kind, value, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(source, target, kind) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key.Source, key.Target, string(key.Kind), value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put edge: %w", err)
	}
	return nil
}

// EdgesFrom lists outgoing edges of a kind from a node.
func (s *Store) EdgesFrom(ctx context.Context, source string, kind EdgeKind) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT source, target, kind, value, updated_at FROM edges WHERE source = ? AND kind = ?",
		source, string(kind))
	if err != nil {
		return nil, fmt.Errorf("edges from: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEdges(rows)
}

// EdgesTouching lists edges of a kind where the node is either endpoint.
func (s *Store) EdgesTouching(ctx context.Context, node string, kind EdgeKind) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT source, target, kind, value, updated_at FROM edges WHERE kind = ? AND (source = ? OR target = ?)",
		string(kind), node, node)
	if err != nil {
		return nil, fmt.Errorf("edges touching: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEdges(rows)
}

// SharesInterestedUser reports whether any single user holds INTERESTED_IN
// edges to both topics. Such pairs are expected, not chaos.
func (s *Store) SharesInterestedUser(ctx context.Context, topicA, topicB string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM edges a JOIN edges b ON a.source = b.source
		 WHERE a.kind = ? AND b.kind = ? AND a.target = ? AND b.target = ?`,
		string(EdgeInterested), string(EdgeInterested), topicA, topicB).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("shares interested user: %w", err)
	}
	return n > 0, nil
}

// NegativeSentimentUsers returns users that appear on an INTERACTED_WITH edge
// with sentiment below the threshold.
func (s *Store) NegativeSentimentUsers(ctx context.Context, below float64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT source, target FROM edges WHERE kind = ? AND value < ?",
		string(EdgeInteracted), below)
	if err != nil {
		return nil, fmt.Errorf("negative sentiment users: %w", err)
	}
	defer func() { _ = rows.Close() }()
	seen := make(map[string]bool)
	var out []string
	for rows.Next() {
		var a, b string
		if err := rows.Scan(&a, &b); err != nil {
			return nil, err
		}
		for _, u := range []string{a, b} {
			if !seen[u] {
				seen[u] = true
				out = append(out, u)
			}
		}
	}
	return out, rows.Err()
}

// LowestAffinityUser returns the user with the lowest RELATIONSHIP affinity
// toward the bot, or ErrNotFound when no such edge exists.
func (s *Store) LowestAffinityUser(ctx context.Context) (string, error) {
	var user string
	err := s.db.QueryRowContext(ctx,
		"SELECT source FROM edges WHERE kind = ? AND target = ? ORDER BY value ASC LIMIT 1",
		string(EdgeRelationship), LunaKey).Scan(&user)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lowest affinity user: %w", err)
	}
	return user, nil
}

func scanEdges(rows *sql.Rows) ([]Edge, error) {
	var out []Edge
	for rows.Next() {
		var e Edge
		var at string
		if err := rows.Scan(&e.Source, &e.Target, (*string)(&e.Kind), &e.Value, &at); err != nil {
			return nil, err
		}
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}
