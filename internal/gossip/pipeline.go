// Package gossip watches pairwise user interactions, batches them per
// channel, and folds extracted sentiment into the relationship graph.
package gossip

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lunabot/luna/internal/ai"
	"github.com/lunabot/luna/internal/memory"
	"github.com/lunabot/luna/internal/metrics"
)

// Interaction kinds recorded by the observer.
const (
	KindReply      = "reply"
	KindMention    = "mention"
	KindCoPresence = "co_presence"
)

// edgeBlender is the slice of the memory engine the pipeline writes through.
type edgeBlender interface {
	BlendEdge(ctx context.Context, key memory.EdgeKey, value float64) (float64, error)
}

// Config tunes batching.
type Config struct {
	BatchSize     int           // flush when a channel batch reaches this many events
	BatchAge      time.Duration // flush when the oldest event is this old
	CoPresenceGap time.Duration // max gap between speakers counted as co-presence
	FlushTimeout  time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     6,
		BatchAge:      120 * time.Second,
		CoPresenceGap: 5 * time.Second,
		FlushTimeout:  30 * time.Second,
	}
}

type batch struct {
	events   []ai.InteractionEvent
	openedAt time.Time
}

type speakerMark struct {
	userID string
	at     time.Time
}

// Pipeline accumulates interaction events per channel and ships full or
// stale batches to the sentiment extractor. Extraction happens off the
// observe path.
type Pipeline struct {
	cfg       Config
	extractor ai.SentimentExtractor
	blender   edgeBlender
	log       zerolog.Logger

	mu       sync.Mutex
	batches  map[string]*batch
	speakers map[string]speakerMark

	wg sync.WaitGroup
}

// NewPipeline builds the pipeline.
func NewPipeline(cfg Config, extractor ai.SentimentExtractor, blender edgeBlender, log zerolog.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 6
	}
	if cfg.BatchAge <= 0 {
		cfg.BatchAge = 120 * time.Second
	}
	if cfg.CoPresenceGap <= 0 {
		cfg.CoPresenceGap = 5 * time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 30 * time.Second
	}
	return &Pipeline{
		cfg:       cfg,
		extractor: extractor,
		blender:   blender,
		log:       log,
		batches:   make(map[string]*batch),
		speakers:  make(map[string]speakerMark),
	}
}

// Observe derives interaction events from one message: an explicit reply,
// each mention of another user, and co-presence when a different speaker
// spoke within the configured gap. Self-interactions never count.
func (p *Pipeline) Observe(channelID, authorID, replyToAuthor string, mentions []string, at time.Time) {
	var events []ai.InteractionEvent

	if replyToAuthor != "" && replyToAuthor != authorID {
		events = append(events, ai.InteractionEvent{
			ChannelID: channelID, UserA: authorID, UserB: replyToAuthor, Kind: KindReply, At: at,
		})
	}
	for _, m := range mentions {
		if m == "" || m == authorID {
			continue
		}
		events = append(events, ai.InteractionEvent{
			ChannelID: channelID, UserA: authorID, UserB: m, Kind: KindMention, At: at,
		})
	}

	p.mu.Lock()
	if prev, ok := p.speakers[channelID]; ok && prev.userID != authorID && at.Sub(prev.at) <= p.cfg.CoPresenceGap {
		events = append(events, ai.InteractionEvent{
			ChannelID: channelID, UserA: authorID, UserB: prev.userID, Kind: KindCoPresence, At: at,
		})
	}
	p.speakers[channelID] = speakerMark{userID: authorID, at: at}

	var ship []ai.InteractionEvent
	if len(events) > 0 {
		b := p.batches[channelID]
		if b == nil {
			b = &batch{openedAt: at}
			p.batches[channelID] = b
		}
		b.events = append(b.events, events...)
		if len(b.events) >= p.cfg.BatchSize || at.Sub(b.openedAt) >= p.cfg.BatchAge {
			ship = b.events
			delete(p.batches, channelID)
		}
	}
	p.mu.Unlock()

	if ship != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.flush(ship)
		}()
	}
}

// Sweep flushes every batch whose oldest event has aged out. Called on a
// schedule so quiet channels do not hold sentiment hostage.
func (p *Pipeline) Sweep(now time.Time) {
	p.mu.Lock()
	var stale [][]ai.InteractionEvent
	for id, b := range p.batches {
		if now.Sub(b.openedAt) >= p.cfg.BatchAge {
			stale = append(stale, b.events)
			delete(p.batches, id)
		}
	}
	p.mu.Unlock()

	for _, events := range stale {
		p.wg.Add(1)
		go func(ev []ai.InteractionEvent) {
			defer p.wg.Done()
			p.flush(ev)
		}(events)
	}
}

// Stop drains all open batches and waits for in-flight extraction.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	var drained [][]ai.InteractionEvent
	for id, b := range p.batches {
		drained = append(drained, b.events)
		delete(p.batches, id)
	}
	p.mu.Unlock()

	for _, events := range drained {
		p.flush(events)
	}
	p.wg.Wait()
}

// flush sends one batch through extraction and blends the results into
// INTERACTED_WITH edges. An empty extraction is a normal outcome.
func (p *Pipeline) flush(events []ai.InteractionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.FlushTimeout)
	defer cancel()

	pairs, err := p.extractor.Extract(ctx, events)
	if err != nil {
		p.log.Warn().Err(err).Int("events", len(events)).Msg("sentiment extraction failed, batch dropped")
		return
	}
	metrics.GossipFlushes.Inc()

	for _, pair := range pairs {
		key := memory.EdgeKey{Source: pair.UserA, Target: pair.UserB, Kind: memory.EdgeInteracted}
		if _, err := p.blender.BlendEdge(ctx, key, pair.Sentiment); err != nil {
			p.log.Warn().Err(err).Str("a", pair.UserA).Str("b", pair.UserB).Msg("edge blend failed")
		}
	}
	p.log.Debug().Int("events", len(events)).Int("pairs", len(pairs)).Msg("gossip batch flushed")
}
