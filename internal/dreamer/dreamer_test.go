package dreamer

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lunabot/luna/internal/memory"
)

type fakeStore struct {
	topics []memory.Node
	vecs   map[string]memory.Vector
	shared map[[2]string]bool
}

func (f *fakeStore) NodesByKind(_ context.Context, kind memory.NodeKind) ([]memory.Node, error) {
	if kind != memory.NodeTopic {
		return nil, nil
	}
	return f.topics, nil
}

func (f *fakeStore) HasVector(_ context.Context, id string, _ memory.VectorKind) (bool, error) {
	_, ok := f.vecs[id]
	return ok, nil
}

func (f *fakeStore) VectorByID(_ context.Context, id string, _ memory.VectorKind) (memory.Vector, error) {
	vec, ok := f.vecs[id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	return vec, nil
}

func (f *fakeStore) SharesInterestedUser(_ context.Context, a, b string) (bool, error) {
	return f.shared[[2]string{a, b}] || f.shared[[2]string{b, a}], nil
}

type fakeEngine struct {
	embedded map[string]memory.Vector
	links    []memory.EdgeKey
	values   []float64
}

func (f *fakeEngine) RecordEmbedding(_ context.Context, id string, _ memory.VectorKind, vec memory.Vector) error {
	if f.embedded == nil {
		f.embedded = make(map[string]memory.Vector)
	}
	f.embedded[id] = vec
	return nil
}

func (f *fakeEngine) BlendEdge(_ context.Context, key memory.EdgeKey, value float64) (float64, error) {
	f.links = append(f.links, key)
	f.values = append(f.values, value)
	return value, nil
}

type fakeEmbedder struct {
	byText map[string]memory.Vector
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) (memory.Vector, error) {
	return f.byText[text], nil
}

// vecAt returns a unit vector whose cosine against (1, 0) is sim.
func vecAt(sim float64) memory.Vector {
	return memory.Vector{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

func topic(key string) memory.Node {
	return memory.Node{Kind: memory.NodeTopic, Key: key, Label: key}
}

func TestRunBackfillsMissingTopicVectors(t *testing.T) {
	store := &fakeStore{
		topics: []memory.Node{topic("jazz"), topic("chess")},
		vecs:   map[string]memory.Vector{"jazz": {1, 0}},
	}
	engine := &fakeEngine{}
	emb := &fakeEmbedder{byText: map[string]memory.Vector{"chess": {0, 1}}}
	d := New(DefaultConfig(), store, engine, emb, zerolog.Nop())

	require.NoError(t, d.Run(context.Background()))

	require.Len(t, engine.embedded, 1)
	require.Equal(t, memory.Vector{0, 1}, engine.embedded["chess"])
}

func TestLinkOnlyInsideBand(t *testing.T) {
	store := &fakeStore{
		topics: []memory.Node{topic("anchor"), topic("near"), topic("twin"), topic("far")},
		vecs: map[string]memory.Vector{
			"anchor": {1, 0},
			"near":   vecAt(0.75), // in band, linked
			"twin":   vecAt(0.9),  // too similar
			"far":    vecAt(-0.5), // too distant
		},
	}
	engine := &fakeEngine{}
	d := New(DefaultConfig(), store, engine, &fakeEmbedder{}, zerolog.Nop())

	require.NoError(t, d.Run(context.Background()))

	require.Len(t, engine.links, 1)
	require.Equal(t, memory.EdgeKey{Source: "anchor", Target: "near", Kind: memory.EdgeChaosLink}, engine.links[0])
	require.InDelta(t, 0.75, engine.values[0], 1e-6)
}

// The 3-4-5 triple yields an exact cosine of 0.6 against (1, 0), so the
// band edges can be tested without rounding slack.
func TestBandEdges(t *testing.T) {
	store := &fakeStore{
		topics: []memory.Node{topic("a"), topic("b")},
		vecs: map[string]memory.Vector{
			"a": {1, 0},
			"b": {3, 4},
		},
	}

	t.Run("lower bound inclusive", func(t *testing.T) {
		engine := &fakeEngine{}
		cfg := Config{BandLow: 0.6, BandHigh: 0.9, MaxLinks: 10}
		d := New(cfg, store, engine, &fakeEmbedder{}, zerolog.Nop())
		require.NoError(t, d.Run(context.Background()))
		require.Len(t, engine.links, 1)
		require.InDelta(t, 0.6, engine.values[0], 1e-12)
	})

	t.Run("upper bound exclusive", func(t *testing.T) {
		engine := &fakeEngine{}
		cfg := Config{BandLow: 0.3, BandHigh: 0.6, MaxLinks: 10}
		d := New(cfg, store, engine, &fakeEmbedder{}, zerolog.Nop())
		require.NoError(t, d.Run(context.Background()))
		require.Empty(t, engine.links)
	})
}

func TestModeratelySimilarPairNotLinked(t *testing.T) {
	store := &fakeStore{
		topics: []memory.Node{topic("a"), topic("b")},
		vecs: map[string]memory.Vector{
			"a": {1, 0},
			"b": vecAt(0.5),
		},
	}
	engine := &fakeEngine{}
	d := New(DefaultConfig(), store, engine, &fakeEmbedder{}, zerolog.Nop())

	require.NoError(t, d.Run(context.Background()))
	require.Empty(t, engine.links)
}

func TestSharedAudienceExcluded(t *testing.T) {
	store := &fakeStore{
		topics: []memory.Node{topic("a"), topic("b")},
		vecs: map[string]memory.Vector{
			"a": {1, 0},
			"b": vecAt(0.75),
		},
		shared: map[[2]string]bool{{"a", "b"}: true},
	}
	engine := &fakeEngine{}
	d := New(DefaultConfig(), store, engine, &fakeEmbedder{}, zerolog.Nop())

	require.NoError(t, d.Run(context.Background()))
	require.Empty(t, engine.links)
}

func TestLinkCapPerRun(t *testing.T) {
	store := &fakeStore{
		topics: []memory.Node{topic("a"), topic("b"), topic("c"), topic("d")},
		vecs: map[string]memory.Vector{
			"a": {1, 0},
			"b": vecAt(0.75),
			"c": vecAt(0.751),
			"d": vecAt(0.752),
		},
	}
	engine := &fakeEngine{}
	cfg := DefaultConfig()
	cfg.MaxLinks = 2
	d := New(cfg, store, engine, &fakeEmbedder{}, zerolog.Nop())

	require.NoError(t, d.Run(context.Background()))
	require.Len(t, engine.links, 2)
}
