package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MinConfidence is the durable log write floor. Enforced at write time,
// never at read time.
const MinConfidence = 0.3

// InsertRecord appends a record to the durable log. Records with confidence
// below the floor are rejected with ErrLowConfidence; callers treat that as a
// verdict, not a failure. The record id is generated when empty.
func (s *Store) InsertRecord(ctx context.Context, r Record) (Record, error) {
	if strings.TrimSpace(r.Text) == "" {
		return Record{}, ErrEmptyText
	}
	if r.Confidence < MinConfidence {
		return Record{}, ErrLowConfidence
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.At.IsZero() {
		r.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (id, channel_id, author_id, text, created_at, confidence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.ChannelID, r.AuthorID, r.Text, r.At.UTC().Format(time.RFC3339Nano), r.Confidence,
	)
	if err != nil {
		return Record{}, fmt.Errorf("insert record: %w", err)
	}
	return r, nil
}

// RecentByAuthor returns the author's last n records, newest first. Used by
// the echo filter and the spam-repeat check.
func (s *Store) RecentByAuthor(ctx context.Context, authorID string, n int) ([]Record, error) {
	if n <= 0 {
		n = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, author_id, text, created_at, confidence
		 FROM records WHERE author_id = ? ORDER BY created_at DESC LIMIT ?`,
		authorID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("recent by author: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

// SearchRecords performs token search over record text and returns the top k
// hits ranked by matched-token count, recency breaking ties.
func (s *Store) SearchRecords(ctx context.Context, query string, k int) ([]Record, error) {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 5
	}

	clauses := make([]string, len(tokens))
	args := make([]any, len(tokens))
	for i, t := range tokens {
		clauses[i] = "text LIKE ? ESCAPE '\\'"
		args[i] = "%" + escapeLike(t) + "%"
	}
	q := `SELECT id, channel_id, author_id, text, created_at, confidence
	      FROM records WHERE ` + strings.Join(clauses, " OR ")
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	recs, err := scanRecords(rows)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	type hit struct {
		rec     Record
		matched int
	}
	hits := make([]hit, 0, len(recs))
	for _, r := range recs {
		lower := strings.ToLower(r.Text)
		matched := 0
		for _, t := range tokens {
			if strings.Contains(lower, t) {
				matched++
			}
		}
		hits = append(hits, hit{rec: r, matched: matched})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].matched != hits[j].matched {
			return hits[i].matched > hits[j].matched
		}
		return hits[i].rec.At.After(hits[j].rec.At)
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]Record, len(hits))
	for i, h := range hits {
		out[i] = h.rec
	}
	return out, nil
}

// RecordsByID loads records for the given ids, skipping unknown ones.
func (s *Store) RecordsByID(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, author_id, text, created_at, confidence
		 FROM records WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("records by id: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

// RandomRecords returns up to k records sampled uniformly. Feeds memory
// resurfacing, where any old moment will do.
func (s *Store) RandomRecords(ctx context.Context, k int) ([]Record, error) {
	if k <= 0 {
		k = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, author_id, text, created_at, confidence
		 FROM records ORDER BY RANDOM() LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("random records: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

// CountByAuthor returns the number of durable log records for the author.
// Drives the analyst trigger.
func (s *Store) CountByAuthor(ctx context.Context, authorID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE author_id = ?", authorID).Scan(&n)
	return n, err
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRecords(rows rowScanner) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var r Record
		var at string
		if err := rows.Scan(&r.ID, &r.ChannelID, &r.AuthorID, &r.Text, &at, &r.Confidence); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// tokenize lowercases and splits text into search tokens, dropping short ones.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r > 127)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}
