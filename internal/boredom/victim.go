package boredom

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Presence exposes the live view of the channel the selector needs:
// who is online and who has spoken lately.
type Presence interface {
	IsOnline(userID string) bool
	MostRecentActive(channelID string, since time.Time) (string, bool)
	OnlineUsers(channelID string) []string
	LastActive(userID string) (time.Time, bool)
}

// graphReader is the slice of the memory store the selector reads.
type graphReader interface {
	NegativeSentimentUsers(ctx context.Context, below float64) ([]string, error)
	LowestAffinityUser(ctx context.Context) (string, error)
}

// VictimSelector picks a target for user-directed actions. The priority
// chain runs from the most deliberate candidate to the most arbitrary;
// when the chain is exhausted the action is skipped.
type VictimSelector struct {
	ownerID  string
	presence Presence
	graph    graphReader
	rnd      *rand.Rand
	rndMu    sync.Mutex
	log      zerolog.Logger

	// recentWindow bounds both "most recently active" and the idleness
	// required of the random fallback.
	recentWindow time.Duration
}

// NewVictimSelector builds the selector. rnd may be nil outside tests.
func NewVictimSelector(ownerID string, presence Presence, graph graphReader, rnd *rand.Rand, log zerolog.Logger) *VictimSelector {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &VictimSelector{
		ownerID:      ownerID,
		presence:     presence,
		graph:        graph,
		rnd:          rnd,
		log:          log,
		recentWindow: 10 * time.Minute,
	}
}

// Pick walks the priority chain and returns the first viable victim.
func (s *VictimSelector) Pick(ctx context.Context, channelID string) (string, bool) {
	if s.ownerID != "" && s.presence.IsOnline(s.ownerID) {
		return s.ownerID, true
	}

	since := time.Now().Add(-s.recentWindow)
	if id, ok := s.presence.MostRecentActive(channelID, since); ok {
		return id, true
	}

	if ids, err := s.graph.NegativeSentimentUsers(ctx, 0); err == nil {
		for _, id := range ids {
			if s.presence.IsOnline(id) {
				return id, true
			}
		}
	} else {
		s.log.Warn().Err(err).Msg("negative sentiment lookup failed")
	}

	if id, err := s.graph.LowestAffinityUser(ctx); err == nil && id != "" && s.presence.IsOnline(id) {
		return id, true
	}

	// Random online user who has not spoken recently.
	online := s.presence.OnlineUsers(channelID)
	idle := online[:0:0]
	for _, id := range online {
		last, ok := s.presence.LastActive(id)
		if !ok || last.Before(since) {
			idle = append(idle, id)
		}
	}
	if len(idle) == 0 {
		return "", false
	}
	s.rndMu.Lock()
	pick := idle[s.rnd.Intn(len(idle))]
	s.rndMu.Unlock()
	return pick, true
}
