// Package dreamer runs the off-peak consolidation pass: it backfills topic
// embeddings and links orthogonal-but-adjacent topics with CHAOS_LINK edges.
package dreamer

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lunabot/luna/internal/ai"
	"github.com/lunabot/luna/internal/memory"
	"github.com/lunabot/luna/internal/metrics"
)

// Chaos links form only inside this similarity band: close enough to rhyme,
// far enough apart to be surprising. Lower bound inclusive, upper exclusive.
const (
	DefaultBandLow  = 0.65
	DefaultBandHigh = 0.85
)

// topicStore is the slice of the memory store the dreamer reads.
type topicStore interface {
	NodesByKind(ctx context.Context, kind memory.NodeKind) ([]memory.Node, error)
	HasVector(ctx context.Context, id string, kind memory.VectorKind) (bool, error)
	VectorByID(ctx context.Context, id string, kind memory.VectorKind) (memory.Vector, error)
	SharesInterestedUser(ctx context.Context, topicA, topicB string) (bool, error)
}

// memoryEngine is the slice of the engine the dreamer writes through.
type memoryEngine interface {
	RecordEmbedding(ctx context.Context, id string, kind memory.VectorKind, vec memory.Vector) error
	BlendEdge(ctx context.Context, key memory.EdgeKey, value float64) (float64, error)
}

// Config tunes one dream run.
type Config struct {
	BandLow  float64
	BandHigh float64
	MaxLinks int // cap on new links per run
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{BandLow: DefaultBandLow, BandHigh: DefaultBandHigh, MaxLinks: 10}
}

// Dreamer consolidates the topic space. Runs on a slow schedule; every step
// is best-effort and a failed topic never aborts the run.
type Dreamer struct {
	cfg      Config
	store    topicStore
	engine   memoryEngine
	embedder ai.Embedder
	log      zerolog.Logger
}

// New builds a dreamer.
func New(cfg Config, store topicStore, engine memoryEngine, embedder ai.Embedder, log zerolog.Logger) *Dreamer {
	if cfg.BandHigh <= cfg.BandLow {
		cfg = DefaultConfig()
	}
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = 10
	}
	return &Dreamer{cfg: cfg, store: store, engine: engine, embedder: embedder, log: log}
}

// Run executes one full dream: backfill, then linking.
func (d *Dreamer) Run(ctx context.Context) error {
	start := time.Now()
	topics, err := d.store.NodesByKind(ctx, memory.NodeTopic)
	if err != nil {
		return err
	}
	if len(topics) == 0 {
		d.log.Debug().Msg("no topics, nothing to dream about")
		return nil
	}

	backfilled := d.backfill(ctx, topics)
	linked := d.link(ctx, topics)

	d.log.Info().
		Int("topics", len(topics)).
		Int("backfilled", backfilled).
		Int("linked", linked).
		Dur("took", time.Since(start)).
		Msg("dream complete")
	return nil
}

// backfill embeds every topic that has no stored vector yet.
func (d *Dreamer) backfill(ctx context.Context, topics []memory.Node) int {
	n := 0
	for _, topic := range topics {
		has, err := d.store.HasVector(ctx, topic.Key, memory.VectorTopic)
		if err != nil || has {
			continue
		}
		text := topic.Label
		if text == "" {
			text = topic.Key
		}
		vec, err := d.embedder.Embed(ctx, text)
		if err != nil {
			d.log.Warn().Err(err).Str("topic", topic.Key).Msg("topic embedding failed")
			continue
		}
		if err := d.engine.RecordEmbedding(ctx, topic.Key, memory.VectorTopic, vec); err != nil {
			d.log.Warn().Err(err).Str("topic", topic.Key).Msg("topic embedding store failed")
			continue
		}
		n++
	}
	return n
}

// link walks topic pairs and blends a CHAOS_LINK for each pair whose cosine
// similarity falls inside the band and whose audiences do not overlap.
func (d *Dreamer) link(ctx context.Context, topics []memory.Node) int {
	vecs := make(map[string]memory.Vector, len(topics))
	for _, topic := range topics {
		vec, err := d.store.VectorByID(ctx, topic.Key, memory.VectorTopic)
		if err != nil {
			continue
		}
		vecs[topic.Key] = vec
	}

	linked := 0
	for i := 0; i < len(topics) && linked < d.cfg.MaxLinks; i++ {
		va, ok := vecs[topics[i].Key]
		if !ok {
			continue
		}
		for j := i + 1; j < len(topics) && linked < d.cfg.MaxLinks; j++ {
			vb, ok := vecs[topics[j].Key]
			if !ok {
				continue
			}
			sim, err := memory.Cosine(va, vb)
			if err != nil || sim < d.cfg.BandLow || sim >= d.cfg.BandHigh {
				continue
			}
			shared, err := d.store.SharesInterestedUser(ctx, topics[i].Key, topics[j].Key)
			if err != nil || shared {
				continue
			}
			key := memory.EdgeKey{Source: topics[i].Key, Target: topics[j].Key, Kind: memory.EdgeChaosLink}
			if _, err := d.engine.BlendEdge(ctx, key, sim); err != nil {
				d.log.Warn().Err(err).Str("a", topics[i].Key).Str("b", topics[j].Key).Msg("chaos link blend failed")
				continue
			}
			metrics.ChaosLinks.Inc()
			linked++
		}
	}
	return linked
}
