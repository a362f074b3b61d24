package pipeline

import (
	"sync"
	"time"
)

// RateLimiter is a per-author sliding-window admission gate. Only admissions
// are counted; rejected messages never consume budget.
type RateLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	limit     int
	limitVIP  int
	byAuthor  map[string][]time.Time
}

// NewRateLimiter creates a limiter: limit admissions per window for regular
// authors, limitVIP for VIPs.
func NewRateLimiter(limit, limitVIP int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 12
	}
	if limitVIP <= 0 {
		limitVIP = 20
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		window:   window,
		limit:    limit,
		limitVIP: limitVIP,
		byAuthor: make(map[string][]time.Time),
	}
}

// Allow reports whether the author may be admitted at now.
func (l *RateLimiter) Allow(authorID string, vip bool, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trim(authorID, now)
	limit := l.limit
	if vip {
		limit = l.limitVIP
	}
	return len(l.byAuthor[authorID]) < limit
}

// Record counts one admission for the author. Call only when the message is
// actually admitted.
func (l *RateLimiter) Record(authorID string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trim(authorID, now)
	l.byAuthor[authorID] = append(l.byAuthor[authorID], now)
}

// trim drops admissions that slid out of the window. Caller holds l.mu.
func (l *RateLimiter) trim(authorID string, now time.Time) {
	cutoff := now.Add(-l.window)
	var kept []time.Time
	for _, t := range l.byAuthor[authorID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if kept == nil {
		delete(l.byAuthor, authorID)
		return
	}
	l.byAuthor[authorID] = kept
}
