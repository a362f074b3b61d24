package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// GetProfile loads a user profile, or ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	var topics, traits, at string
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, summary, mood, topics, traits, updated_at FROM profiles WHERE user_id = ?",
		userID).Scan(&p.UserID, &p.Summary, &p.Mood, &topics, &traits, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	_ = json.Unmarshal([]byte(topics), &p.Topics)
	_ = json.Unmarshal([]byte(traits), &p.Traits)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, at)
	return p, nil
}

// SaveProfile upserts the profile row.
func (s *Store) SaveProfile(ctx context.Context, p Profile) error {
	topics, _ := json.Marshal(p.Topics)
	traits, _ := json.Marshal(p.Traits)
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, summary, mood, topics, traits, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   summary = excluded.summary, mood = excluded.mood,
		   topics = excluded.topics, traits = excluded.traits,
		   updated_at = excluded.updated_at`,
		p.UserID, p.Summary, p.Mood, string(topics), string(traits),
		p.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// AppendDelta records one applied affinity delta in the bounded history.
// Entries older than 48h are pruned; the rolling-window check only ever looks
// back 24h.
func (s *Store) AppendDelta(ctx context.Context, userID string, delta float64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO profile_deltas (user_id, delta, applied_at) VALUES (?, ?, ?)",
		userID, delta, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append delta: %w", err)
	}
	_, _ = s.db.ExecContext(ctx,
		"DELETE FROM profile_deltas WHERE user_id = ? AND applied_at < ?",
		userID, at.Add(-48*time.Hour).UTC().Format(time.RFC3339Nano))
	return nil
}

// DeltaSumSince sums applied deltas for the user after the cutoff.
func (s *Store) DeltaSumSince(ctx context.Context, userID string, since time.Time) (float64, error) {
	var sum sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		"SELECT SUM(delta) FROM profile_deltas WHERE user_id = ? AND applied_at >= ?",
		userID, since.UTC().Format(time.RFC3339Nano)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("delta sum: %w", err)
	}
	return sum.Float64, nil
}
