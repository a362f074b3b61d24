// Package analyst maintains per-user profiles: every N durable memories
// written about a user, it re-reads their recent history, asks the language
// model for an updated summary, and drifts the relationship accordingly.
package analyst

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lunabot/luna/internal/ai"
	"github.com/lunabot/luna/internal/memory"
)

// DefaultEvery is how many durable writes about a user trigger one analysis.
const DefaultEvery = 50

// profileStore is the slice of the memory store the agent uses.
type profileStore interface {
	RecentByAuthor(ctx context.Context, authorID string, n int) ([]memory.Record, error)
	GetProfile(ctx context.Context, userID string) (memory.Profile, error)
	SaveProfile(ctx context.Context, p memory.Profile) error
	EnsureNode(ctx context.Context, n memory.Node) error
}

// graphWriter enforces the drift limits and edge blending; the agent
// proposes, it disposes.
type graphWriter interface {
	ApplyProfileDelta(ctx context.Context, userID string, delta float64) (float64, error)
	BlendEdge(ctx context.Context, key memory.EdgeKey, value float64) (float64, error)
}

// analysis is the model's expected JSON reply.
type analysis struct {
	Summary       string   `json:"summary"`
	Mood          string   `json:"mood"`
	Topics        []string `json:"topics"`
	Traits        []string `json:"traits"`
	AffinityDelta float64  `json:"affinity_delta"`
}

// Agent counts durable writes per user and runs profile analysis at each
// threshold crossing. Analysis runs off the write path.
type Agent struct {
	every  int
	gen    ai.Generator
	store  profileStore
	engine graphWriter
	log    zerolog.Logger

	mu     sync.Mutex
	counts map[string]int

	wg sync.WaitGroup
}

// New builds the agent. every <= 0 selects the default threshold.
func New(every int, gen ai.Generator, store profileStore, engine graphWriter, log zerolog.Logger) *Agent {
	if every <= 0 {
		every = DefaultEvery
	}
	return &Agent{
		every:  every,
		gen:    gen,
		store:  store,
		engine: engine,
		log:    log,
		counts: make(map[string]int),
	}
}

// OnLTMWrite is the memory engine's write hook. Safe for concurrent use.
func (a *Agent) OnLTMWrite(authorID string) {
	a.mu.Lock()
	a.counts[authorID]++
	due := a.counts[authorID]%a.every == 0
	a.mu.Unlock()
	if !due {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
		defer cancel()
		if err := a.Analyze(ctx, authorID); err != nil {
			a.log.Warn().Err(err).Str("user", authorID).Msg("profile analysis failed")
		}
	}()
}

// Wait blocks until all in-flight analyses finish. Called at shutdown.
func (a *Agent) Wait() {
	a.wg.Wait()
}

// Analyze refreshes one user's profile from their recent durable memories
// and applies the proposed affinity drift through the consistency engine.
func (a *Agent) Analyze(ctx context.Context, userID string) error {
	records, err := a.store.RecentByAuthor(ctx, userID, a.every)
	if err != nil {
		return fmt.Errorf("recent records: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	current, err := a.store.GetProfile(ctx, userID)
	if err != nil && !errors.Is(err, memory.ErrNotFound) {
		return fmt.Errorf("load profile: %w", err)
	}

	gen, err := a.gen.Generate(ctx, analysisSystemPrompt, buildPrompt(current, records))
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	result, err := parseAnalysis(gen.Text)
	if err != nil {
		return fmt.Errorf("parse analysis: %w", err)
	}

	profile := memory.Profile{
		UserID:    userID,
		Summary:   result.Summary,
		Mood:      result.Mood,
		Topics:    result.Topics,
		Traits:    result.Traits,
		UpdatedAt: time.Now(),
	}
	if err := a.store.SaveProfile(ctx, profile); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	a.recordGraph(ctx, userID, result)

	applied, err := a.engine.ApplyProfileDelta(ctx, userID, result.AffinityDelta)
	if err != nil {
		return fmt.Errorf("apply delta: %w", err)
	}
	a.log.Info().Str("user", userID).Float64("proposed", result.AffinityDelta).
		Float64("applied", applied).Msg("profile refreshed")
	return nil
}

// recordGraph mirrors the extracted topics and traits into the relationship
// graph: one node per item, INTERESTED_IN and HAS_TRAIT edges blended toward
// full strength on each fresh extraction. Graph faults are logged, not
// propagated; the profile row is already saved.
func (a *Agent) recordGraph(ctx context.Context, userID string, result analysis) {
	if err := a.store.EnsureNode(ctx, memory.Node{Kind: memory.NodeUser, Key: userID, Label: userID}); err != nil {
		a.log.Warn().Err(err).Str("user", userID).Msg("user node write failed")
		return
	}
	for _, topic := range normalizeTerms(result.Topics) {
		if err := a.store.EnsureNode(ctx, memory.Node{Kind: memory.NodeTopic, Key: topic, Label: topic}); err != nil {
			a.log.Warn().Err(err).Str("topic", topic).Msg("topic node write failed")
			continue
		}
		key := memory.EdgeKey{Source: userID, Target: topic, Kind: memory.EdgeInterested}
		if _, err := a.engine.BlendEdge(ctx, key, 1); err != nil {
			a.log.Warn().Err(err).Str("topic", topic).Msg("interest edge write failed")
		}
	}
	for _, trait := range normalizeTerms(result.Traits) {
		if err := a.store.EnsureNode(ctx, memory.Node{Kind: memory.NodeTrait, Key: trait, Label: trait}); err != nil {
			a.log.Warn().Err(err).Str("trait", trait).Msg("trait node write failed")
			continue
		}
		key := memory.EdgeKey{Source: userID, Target: trait, Kind: memory.EdgeHasTrait}
		if _, err := a.engine.BlendEdge(ctx, key, 1); err != nil {
			a.log.Warn().Err(err).Str("trait", trait).Msg("trait edge write failed")
		}
	}
}

// normalizeTerms lowercases, trims, and deduplicates model-extracted terms so
// "Music" and "music " share one node.
func normalizeTerms(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

const analysisSystemPrompt = `You maintain a social profile for one chat user.
Reply with a single JSON object and nothing else:
{"summary": string, "mood": string, "topics": [string], "traits": [string], "affinity_delta": number}
affinity_delta is how much warmer (positive) or colder (negative) the recent
messages should make you feel about them, between -10 and 5.`

func buildPrompt(current memory.Profile, records []memory.Record) string {
	var b strings.Builder
	if current.Summary != "" {
		b.WriteString("Current profile: ")
		b.WriteString(current.Summary)
		b.WriteString("\n\n")
	}
	b.WriteString("Recent messages, newest first:\n")
	for _, r := range records {
		b.WriteString("- ")
		b.WriteString(r.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// parseAnalysis tolerates prose around the JSON object; models wrap replies
// even when told not to.
func parseAnalysis(text string) (analysis, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return analysis{}, fmt.Errorf("no JSON object in reply")
	}
	var out analysis
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return analysis{}, err
	}
	return out, nil
}
