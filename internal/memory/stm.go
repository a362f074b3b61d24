package memory

import (
	"sync"
	"time"
)

// ShortTerm is the bounded, time-evicted per-channel message ring. State is
// partitioned per channel; rings never reference each other.
type ShortTerm struct {
	capacity int
	maxAge   time.Duration

	mu    sync.RWMutex
	rings map[string]*stmRing
}

type stmRing struct {
	mu      sync.Mutex
	entries []STMEntry
}

// NewShortTerm creates a short-term store. capacity <= 0 or maxAge <= 0 fall
// back to the defaults (15 entries, 5 minutes).
func NewShortTerm(capacity int, maxAge time.Duration) *ShortTerm {
	if capacity <= 0 {
		capacity = 15
	}
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &ShortTerm{
		capacity: capacity,
		maxAge:   maxAge,
		rings:    make(map[string]*stmRing),
	}
}

func (s *ShortTerm) ring(channelID string) *stmRing {
	s.mu.RLock()
	r := s.rings[channelID]
	s.mu.RUnlock()
	if r != nil {
		return r
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r = s.rings[channelID]; r != nil {
		return r
	}
	r = &stmRing{}
	s.rings[channelID] = r
	return r
}

// Append inserts an entry and applies count and age eviction. The size/age
// bounds hold after every insert.
func (s *ShortTerm) Append(e STMEntry) {
	r := s.ring(e.ChannelID)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	r.evict(s.capacity, s.maxAge, time.Now())
}

// Recent returns a copy of the channel's live entries, oldest first. Eviction
// by age is applied before reading so stale entries never surface.
func (s *ShortTerm) Recent(channelID string) []STMEntry {
	r := s.ring(channelID)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evict(s.capacity, s.maxAge, time.Now())
	out := make([]STMEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// evict drops entries beyond capacity or older than maxAge. Caller holds r.mu.
func (r *stmRing) evict(capacity int, maxAge time.Duration, now time.Time) {
	cutoff := now.Add(-maxAge)
	first := 0
	for first < len(r.entries) && r.entries[first].At.Before(cutoff) {
		first++
	}
	if first > 0 {
		r.entries = append(r.entries[:0:0], r.entries[first:]...)
	}
	if len(r.entries) > capacity {
		r.entries = append(r.entries[:0:0], r.entries[len(r.entries)-capacity:]...)
	}
}
