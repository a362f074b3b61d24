package boredom

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type pendingRename struct {
	revert func(context.Context) error
	timer  *time.Timer
}

// Renames tracks channel renames awaiting reversion. Every rename is
// reverted either by its timer or by Flush at shutdown, never both.
type Renames struct {
	mu      sync.Mutex
	pending map[string]*pendingRename
	log     zerolog.Logger
}

func NewRenames(log zerolog.Logger) *Renames {
	return &Renames{pending: make(map[string]*pendingRename), log: log}
}

// Schedule registers a revert to run after the given delay. A second rename
// of the same channel keeps the original revert so the channel returns to
// its true name, not an intermediate prank name.
func (r *Renames) Schedule(channelID string, revert func(context.Context) error, after time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pending[channelID]; exists {
		return
	}
	p := &pendingRename{revert: revert}
	p.timer = time.AfterFunc(after, func() {
		r.fire(channelID)
	})
	r.pending[channelID] = p
}

func (r *Renames) fire(channelID string) {
	r.mu.Lock()
	p := r.pending[channelID]
	delete(r.pending, channelID)
	r.mu.Unlock()
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.revert(ctx); err != nil {
		r.log.Warn().Err(err).Str("channel", channelID).Msg("rename revert failed")
	}
}

// Pending reports how many channels still carry a prank name.
func (r *Renames) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Flush reverts every outstanding rename immediately. Called at shutdown.
func (r *Renames) Flush(ctx context.Context) {
	r.mu.Lock()
	drained := r.pending
	r.pending = make(map[string]*pendingRename)
	r.mu.Unlock()

	for id, p := range drained {
		p.timer.Stop()
		if err := p.revert(ctx); err != nil {
			r.log.Warn().Err(err).Str("channel", id).Msg("rename revert failed at shutdown")
		}
	}
}
