package memory

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewEngine(store, NewShortTerm(15, 5*time.Minute), DefaultEngineConfig(), zerolog.Nop())
}

func TestRecordMessageAlwaysHitsSTM(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// Below the confidence floor: no durable record, but the ring still sees it.
	err := e.RecordMessage(ctx, Message{
		ChannelID: "c1", AuthorID: "u1", Text: "too uncertain",
		At: time.Now(), Confidence: 0.1,
	})
	require.NoError(t, err)
	require.Len(t, e.STM().Recent("c1"), 1)

	recs, err := e.Store().RecentByAuthor(ctx, "u1", 10)
	require.NoError(t, err)
	require.Empty(t, recs, "confidence below floor must not create a record")
}

func TestRecordMessageConfidenceFloor(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.RecordMessage(ctx, Message{
		ChannelID: "c1", AuthorID: "u2", Text: "exactly at the write floor",
		At: time.Now(), Confidence: 0.3,
	}))
	require.NoError(t, e.RecordMessage(ctx, Message{
		ChannelID: "c1", AuthorID: "u2", Text: "comfortably above the floor instead",
		At: time.Now(), Confidence: 0.9,
	}))
	recs, err := e.Store().RecentByAuthor(ctx, "u2", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
}

type fixedEmbedder struct{ vec Vector }

func (f fixedEmbedder) Embed(context.Context, string) (Vector, error) { return f.vec, nil }

func TestRecordMessageMirrorsIntoSimilarityIndex(t *testing.T) {
	e := newTestEngine(t)
	e.Embedder = fixedEmbedder{vec: Vector{1, 0, 0}}
	ctx := context.Background()

	require.NoError(t, e.RecordMessage(ctx, Message{
		ID: "m1", ChannelID: "c1", AuthorID: "u1", Text: "the concert ran past midnight",
		At: time.Now(), Confidence: 0.9,
	}))

	has, err := e.Store().HasVector(ctx, "m1", VectorRecord)
	require.NoError(t, err)
	require.True(t, has, "durable records must land in the similarity index")

	matches, err := e.Store().SearchVectors(ctx, Vector{1, 0, 0}, VectorRecord, 0.4, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "m1", matches[0].ID)

	// Suppressed writes leave no vector behind.
	require.NoError(t, e.RecordMessage(ctx, Message{
		ID: "m2", ChannelID: "c1", AuthorID: "u1", Text: "barely a whisper",
		At: time.Now(), Confidence: 0.1,
	}))
	has, err = e.Store().HasVector(ctx, "m2", VectorRecord)
	require.NoError(t, err)
	require.False(t, has)
}

func TestRecordMessageConfiguredFloor(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	cfg := DefaultEngineConfig()
	cfg.MinConfidence = 0.6
	e := NewEngine(store, NewShortTerm(15, 5*time.Minute), cfg, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, e.RecordMessage(ctx, Message{
		ChannelID: "c1", AuthorID: "u1", Text: "under the raised floor",
		At: time.Now(), Confidence: 0.5,
	}))
	require.NoError(t, e.RecordMessage(ctx, Message{
		ChannelID: "c1", AuthorID: "u1", Text: "over the raised floor instead",
		At: time.Now(), Confidence: 0.7,
	}))

	recs, err := e.Store().RecentByAuthor(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "over the raised floor instead", recs[0].Text)
}

func TestRecordMessageEchoSuppression(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	msg := Message{ChannelID: "c1", AuthorID: "u1", Text: "I really love synthwave music", At: time.Now(), Confidence: 0.8}
	require.NoError(t, e.RecordMessage(ctx, msg))

	// Same content, different punctuation: an echo, silently dropped.
	msg.Text = "i REALLY love synthwave... music!!"
	require.NoError(t, e.RecordMessage(ctx, msg))

	recs, err := e.Store().RecentByAuthor(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1, "echo must not create a second record")

	// Genuinely new content still lands.
	msg.Text = "actually darkwave is better than synthwave in every way"
	require.NoError(t, e.RecordMessage(ctx, msg))
	recs, err = e.Store().RecentByAuthor(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
}

func TestBlendEdgeEMASequence(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	key := EdgeKey{Source: "alice", Target: "bob", Kind: EdgeInteracted}

	x, a, b := 0.5, 0.9, -0.2
	_, err := e.BlendEdge(ctx, key, x)
	require.NoError(t, err)
	_, err = e.BlendEdge(ctx, key, a)
	require.NoError(t, err)
	got, err := e.BlendEdge(ctx, key, b)
	require.NoError(t, err)

	want := x*0.49 + a*0.21 + b*0.3
	require.InDelta(t, want, got, 1e-9)
}

func TestBlendEdgeUndirectedKey(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.BlendEdge(ctx, EdgeKey{Source: "bob", Target: "alice", Kind: EdgeInteracted}, 0.4)
	require.NoError(t, err)
	_, err = e.BlendEdge(ctx, EdgeKey{Source: "alice", Target: "bob", Kind: EdgeInteracted}, 1.0)
	require.NoError(t, err)

	edge, err := e.Store().GetEdge(ctx, EdgeKey{Source: "alice", Target: "bob", Kind: EdgeInteracted})
	require.NoError(t, err)
	require.InDelta(t, 0.4*0.7+1.0*0.3, edge.Value, 1e-9, "both orientations must blend into one edge")

	edges, err := e.Store().EdgesTouching(ctx, "bob", EdgeInteracted)
	require.NoError(t, err)
	require.Len(t, edges, 1)
}

func TestBlendEdgeStaysInRange(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	key := EdgeKey{Source: "a", Target: "b", Kind: EdgeInteracted}

	v, err := e.BlendEdge(ctx, key, 5.0) // out-of-range input
	require.NoError(t, err)
	require.LessOrEqual(t, v, 1.0)
	require.GreaterOrEqual(t, v, -1.0)

	for i := 0; i < 20; i++ {
		v, err = e.BlendEdge(ctx, key, 1.0)
		require.NoError(t, err)
		require.LessOrEqual(t, v, 1.0)
	}
}

func TestApplyProfileDeltaPerRunClamp(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	applied, err := e.ApplyProfileDelta(ctx, "u1", 40)
	require.NoError(t, err)
	require.Equal(t, 5.0, applied, "positive deltas clamp to +5")

	applied, err = e.ApplyProfileDelta(ctx, "u2", -40)
	require.NoError(t, err)
	require.Equal(t, -10.0, applied, "negative deltas clamp to -10")
}

func TestApplyProfileDeltaDailyCap(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	var total float64
	for i := 0; i < 3; i++ {
		applied, err := e.ApplyProfileDelta(ctx, "u1", 5)
		require.NoError(t, err)
		total += applied
	}
	require.Equal(t, 15.0, total)

	// Fourth run would exceed ±15 in 24h: rejected as a no-op.
	applied, err := e.ApplyProfileDelta(ctx, "u1", 5)
	require.NoError(t, err)
	require.Zero(t, applied)

	sum, err := e.Store().DeltaSumSince(ctx, "u1", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.LessOrEqual(t, math.Abs(sum), 15.0)
}

func TestQueryRecallMergesAndDedups(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	rec, err := e.Store().InsertRecord(ctx, Record{
		ChannelID: "c1", AuthorID: "u1", Text: "the synthwave concert was amazing",
		At: time.Now(), Confidence: 0.8,
	})
	require.NoError(t, err)
	// Same record also lives in the similarity index: recall must not duplicate it.
	require.NoError(t, e.RecordEmbedding(ctx, rec.ID, VectorRecord, Vector{1, 0, 0}))

	bundle := e.QueryRecall(ctx, "c1", "u1", "synthwave concert", Vector{1, 0, 0})
	require.Len(t, bundle.Records, 1)
	require.True(t, bundle.Grounded)
}

func TestQueryRecallKeywordOnlyWithoutVector(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Store().InsertRecord(ctx, Record{
		ChannelID: "c1", AuthorID: "u1", Text: "we argued about pineapple pizza",
		At: time.Now(), Confidence: 0.8,
	})
	require.NoError(t, err)

	bundle := e.QueryRecall(ctx, "c1", "", "pineapple pizza", nil)
	require.Len(t, bundle.Records, 1)
	require.False(t, bundle.Grounded, "keyword-only recall is ungrounded")
}

func TestQueryRecallIncludesInterestEdges(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Store().EnsureNode(ctx, Node{Kind: NodeUser, Key: "u1", Label: "u1"}))
	require.NoError(t, e.Store().EnsureNode(ctx, Node{Kind: NodeTopic, Key: "synthwave", Label: "synthwave"}))
	_, err := e.BlendEdge(ctx, EdgeKey{Source: "u1", Target: "synthwave", Kind: EdgeInterested}, 1)
	require.NoError(t, err)

	bundle := e.QueryRecall(ctx, "c1", "u1", "anything", nil)
	require.Len(t, bundle.Social, 1)
	require.Equal(t, EdgeInterested, bundle.Social[0].Kind)
	require.Equal(t, "synthwave", bundle.Social[0].Target)
	require.True(t, bundle.Grounded)
}

func TestRecordEmbeddingAppendOnly(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.RecordEmbedding(ctx, "t1", VectorTopic, Vector{1, 0}))
	require.NoError(t, e.RecordEmbedding(ctx, "t1", VectorTopic, Vector{0, 1}))

	vec, err := e.Store().VectorByID(ctx, "t1", VectorTopic)
	require.NoError(t, err)
	require.Equal(t, Vector{1, 0}, vec, "second write must not overwrite the first")
}

func TestTextSimilarity(t *testing.T) {
	cases := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"hello world", "hello world", 1, 1},
		{"Hello, WORLD!!", "hello world", 1, 1},
		{"completely different", "nothing shared here", 0, 0},
		{"one two three four", "one two three five", 0.5, 0.7},
	}
	for _, c := range cases {
		got := textSimilarity(normalizeText(c.a), normalizeText(c.b))
		if got < c.min || got > c.max {
			t.Errorf("similarity(%q, %q) = %v, want in [%v, %v]", c.a, c.b, got, c.min, c.max)
		}
	}
}
