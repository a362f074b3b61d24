package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lunabot/luna/internal/metrics"
)

// EMA blend weights for edge updates. blend(old, new) = old*0.7 + new*0.3.
const (
	emaOld = 0.7
	emaNew = 0.3
)

// EngineConfig tunes the consistency engine.
type EngineConfig struct {
	DefaultConfidence float64 // substituted when a message arrives unscored
	MinConfidence     float64 // durable log write floor; the store floor is the hard lower bound
	EchoThreshold     float64 // normalized-text similarity above which an LTM write is an echo
	EchoLookback      int     // how many of the author's records the echo filter inspects
	RecallTopK        int
	RecallMinSim      float64
}

// DefaultEngineConfig returns production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultConfidence: 0.5,
		MinConfidence:     MinConfidence,
		EchoThreshold:     0.9,
		EchoLookback:      5,
		RecallTopK:        5,
		RecallMinSim:      0.4,
	}
}

// Embedder supplies vectors for durable records. Satisfied by the ai
// provider; declared here so the engine stays decoupled from it.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
}

// Engine is the write-through / read-fan-out layer over the four stores. All
// multi-store invariants live here; no other component writes a store
// directly.
type Engine struct {
	store *Store
	stm   *ShortTerm
	cfg   EngineConfig
	log   zerolog.Logger

	edgeLocks keyedMutex

	// OnLTMWrite is invoked after each successful durable log write with the
	// record's author. Drives the analyst trigger. May be nil.
	OnLTMWrite func(authorID string)

	// Embedder, when set, mirrors each durable record into the similarity
	// index. Without it recall degrades to keyword-only.
	Embedder Embedder
}

// NewEngine wires the engine over an opened store and a short-term ring.
func NewEngine(store *Store, stm *ShortTerm, cfg EngineConfig, log zerolog.Logger) *Engine {
	if cfg.DefaultConfidence == 0 {
		cfg.DefaultConfidence = 0.5
	}
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = MinConfidence
	}
	if cfg.EchoThreshold == 0 {
		cfg.EchoThreshold = 0.9
	}
	if cfg.EchoLookback == 0 {
		cfg.EchoLookback = 5
	}
	if cfg.RecallTopK == 0 {
		cfg.RecallTopK = 5
	}
	if cfg.RecallMinSim == 0 {
		cfg.RecallMinSim = 0.4
	}
	return &Engine{store: store, stm: stm, cfg: cfg, log: log}
}

// Store exposes the durable backend for read-only consumers (dreamer, victim
// selection). Writes still go through the engine.
func (e *Engine) Store() *Store { return e.store }

// STM exposes the short-term ring for read-only consumers.
func (e *Engine) STM() *ShortTerm { return e.stm }

// RecordMessage appends to the short-term ring unconditionally, then attempts
// a durable log write. Confidence-floor rejections and echoes are suppressed
// silently; only store faults are returned, and callers log rather than
// propagate them.
func (e *Engine) RecordMessage(ctx context.Context, msg Message) error {
	e.stm.Append(STMEntry{
		ChannelID: msg.ChannelID,
		AuthorID:  msg.AuthorID,
		Text:      msg.Text,
		At:        msg.At,
	})

	conf := msg.Confidence
	if conf == 0 {
		conf = e.cfg.DefaultConfidence
	}
	if conf < e.cfg.MinConfidence {
		metrics.LTMSuppressed.WithLabelValues("confidence").Inc()
		return nil
	}

	echo, err := e.isEcho(ctx, msg.AuthorID, msg.Text)
	if err != nil {
		e.log.Warn().Err(err).Msg("echo check failed, writing anyway")
	}
	if echo {
		metrics.LTMSuppressed.WithLabelValues("echo").Inc()
		e.log.Debug().Str("author", msg.AuthorID).Msg("echo suppressed")
		return nil
	}

	rec, err := e.store.InsertRecord(ctx, Record{
		ID:         msg.ID,
		ChannelID:  msg.ChannelID,
		AuthorID:   msg.AuthorID,
		Text:       msg.Text,
		At:         msg.At,
		Confidence: conf,
	})
	if err != nil {
		if errors.Is(err, ErrLowConfidence) || errors.Is(err, ErrEmptyText) {
			metrics.LTMSuppressed.WithLabelValues("confidence").Inc()
			return nil
		}
		return err
	}
	metrics.LTMWrites.Inc()
	if e.Embedder != nil {
		if vec, err := e.Embedder.Embed(ctx, rec.Text); err != nil {
			e.log.Warn().Err(err).Str("record", rec.ID).Msg("record embedding failed, keyword-only recall for it")
		} else if err := e.store.AddVector(ctx, rec.ID, VectorRecord, vec); err != nil {
			e.log.Warn().Err(err).Str("record", rec.ID).Msg("similarity index write failed")
		}
	}
	if e.OnLTMWrite != nil {
		e.OnLTMWrite(rec.AuthorID)
	}
	return nil
}

// isEcho reports whether text near-duplicates one of the author's recent
// durable records after normalization.
func (e *Engine) isEcho(ctx context.Context, authorID, text string) (bool, error) {
	recent, err := e.store.RecentByAuthor(ctx, authorID, e.cfg.EchoLookback)
	if err != nil {
		return false, err
	}
	norm := normalizeText(text)
	for _, r := range recent {
		if textSimilarity(norm, normalizeText(r.Text)) >= e.cfg.EchoThreshold {
			return true, nil
		}
	}
	return false, nil
}

// RecordEmbedding appends an embedding to the similarity index. Existing
// vectors are never mutated.
func (e *Engine) RecordEmbedding(ctx context.Context, id string, kind VectorKind, vec Vector) error {
	return e.store.AddVector(ctx, id, kind, vec)
}

// QueryRecall fans out to keyword search and the similarity index, merges and
// deduplicates by record id, and attaches social context for the author. Each
// leg degrades independently: a failed similarity lookup falls back to
// keyword-only recall, a failed graph lookup omits social context. The recall
// never blocks the response path on a store fault.
func (e *Engine) QueryRecall(ctx context.Context, channelID, authorID, query string, queryVec Vector) ContextBundle {
	bundle := ContextBundle{Recent: e.stm.Recent(channelID)}

	seen := make(map[string]bool)
	if recs, err := e.store.SearchRecords(ctx, query, e.cfg.RecallTopK); err != nil {
		e.log.Warn().Err(err).Msg("keyword recall unavailable")
	} else {
		for _, r := range recs {
			if !seen[r.ID] {
				seen[r.ID] = true
				bundle.Records = append(bundle.Records, r)
			}
		}
	}

	if len(queryVec) > 0 {
		matches, err := e.store.SearchVectors(ctx, queryVec, VectorRecord, e.cfg.RecallMinSim, e.cfg.RecallTopK)
		if err != nil {
			e.log.Warn().Err(err).Msg("similarity recall unavailable, keyword-only")
		} else if len(matches) > 0 {
			ids := make([]string, 0, len(matches))
			for _, m := range matches {
				if !seen[m.ID] {
					seen[m.ID] = true
					ids = append(ids, m.ID)
				}
			}
			if recs, err := e.store.RecordsByID(ctx, ids); err == nil {
				bundle.Records = append(bundle.Records, recs...)
				bundle.Grounded = true
			}
		}
	}

	if authorID != "" {
		if edges, err := e.store.EdgesTouching(ctx, authorID, EdgeInteracted); err != nil {
			e.log.Warn().Err(err).Msg("graph unavailable, omitting social context")
		} else {
			bundle.Social = edges
			if interests, err := e.store.EdgesFrom(ctx, authorID, EdgeInterested); err == nil {
				bundle.Social = append(bundle.Social, interests...)
			}
			if rel, err := e.store.GetEdge(ctx, EdgeKey{Source: authorID, Target: LunaKey, Kind: EdgeRelationship}); err == nil {
				bundle.Social = append(bundle.Social, rel)
			}
			if len(bundle.Social) > 0 {
				bundle.Grounded = true
			}
		}
	}
	return bundle
}

// BlendEdge is the single mutation path for INTERACTED_WITH and CHAOS_LINK
// edges. An existing edge's value is updated by EMA (old*0.7 + new*0.3); a
// missing edge is created with the new value. Blends on the same key are
// serialized; concurrent writers never race the read-modify-write.
func (e *Engine) BlendEdge(ctx context.Context, key EdgeKey, value float64) (float64, error) {
	key = canonicalKey(key)
	unlock := e.edgeLocks.lock(edgeLockName(key))
	defer unlock()

	lo, hi := edgeRange(key.Kind)
	next := value
	if cur, err := e.store.GetEdge(ctx, key); err == nil {
		next = cur.Value*emaOld + value*emaNew
	} else if !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	next = clamp(next, lo, hi)
	if err := e.store.putEdge(ctx, key, next); err != nil {
		return 0, err
	}
	return next, nil
}

// ApplyProfileDelta clamps a single analyst run's affinity delta to [-10,+5]
// and rejects (no-op, logged) any delta that would push the rolling 24h sum
// past ±15. Accepted deltas land in the bounded history and on the user's
// RELATIONSHIP edge.
func (e *Engine) ApplyProfileDelta(ctx context.Context, userID string, delta float64) (float64, error) {
	delta = clamp(delta, -10, 5)
	now := time.Now()

	sum, err := e.store.DeltaSumSince(ctx, userID, now.Add(-24*time.Hour))
	if err != nil {
		return 0, err
	}
	if abs(sum+delta) > 15 {
		e.log.Info().Str("user", userID).Float64("delta", delta).Float64("sum24h", sum).
			Msg("profile delta rejected, daily drift cap")
		return 0, nil
	}

	key := EdgeKey{Source: userID, Target: LunaKey, Kind: EdgeRelationship}
	unlock := e.edgeLocks.lock(edgeLockName(key))
	defer unlock()

	cur := 0.0
	if edge, err := e.store.GetEdge(ctx, key); err == nil {
		cur = edge.Value
	} else if !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	next := clamp(cur+delta, -100, 100)
	if err := e.store.putEdge(ctx, key, next); err != nil {
		return 0, err
	}
	if err := e.store.AppendDelta(ctx, userID, delta, now); err != nil {
		return 0, err
	}
	return delta, nil
}

// canonicalKey orders endpoints of undirected edges so both orientations hit
// the same row and the same lock.
func canonicalKey(key EdgeKey) EdgeKey {
	if undirected(key.Kind) && key.Source > key.Target {
		key.Source, key.Target = key.Target, key.Source
	}
	return key
}

func edgeLockName(key EdgeKey) string {
	return string(key.Kind) + "|" + key.Source + "|" + key.Target
}

// keyedMutex serializes work per string key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(name string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m := k.locks[name]
	if m == nil {
		m = &sync.Mutex{}
		k.locks[name] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// normalizeText lowercases and collapses a message to its word content.
func normalizeText(s string) string {
	return strings.Join(tokenizeAll(s), " ")
}

// tokenizeAll splits on non-alphanumerics without dropping short words; the
// echo filter wants the whole message, unlike search tokenization.
func tokenizeAll(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r > 127)
	})
}

// textSimilarity is token-set Jaccard over normalized text. Identical
// normalized strings score 1.
func textSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	setA := make(map[string]bool)
	for _, t := range strings.Fields(a) {
		setA[t] = true
	}
	setB := make(map[string]bool)
	for _, t := range strings.Fields(b) {
		setB[t] = true
	}
	inter := 0
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
