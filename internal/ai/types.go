// Package ai defines the external collaborator contracts (decision,
// generation, embedding, sentiment extraction) and an OpenAI-compatible HTTP
// provider. Collaborators are thin; all retry and fallback policy lives here
// so callers never see a hard failure.
package ai

import (
	"context"
	"time"

	"github.com/lunabot/luna/internal/memory"
)

// Action is the decision service's chosen response mode.
type Action string

const (
	ActionChat    Action = "CHAT"
	ActionIgnore  Action = "IGNORE"
	ActionSearch  Action = "SEARCH"
	ActionToolUse Action = "TOOL_USE"
)

// Decision is the decision service's output for one aggregated batch.
type Decision struct {
	Intent          string  `json:"intent"`
	Urgency         float64 `json:"urgency"`
	Confidence      float64 `json:"confidence"`
	Action          Action  `json:"action"`
	Mood            string  `json:"mood"`
	Temperature     float64 `json:"temperature"`
	TokenLimit      int     `json:"token_limit"`
	SystemInjection string  `json:"system_injection"`
}

// FallbackDecision is the safe default after retry exhaustion: plain CHAT
// with no injected context.
func FallbackDecision() Decision {
	return Decision{Action: ActionChat, Temperature: 0.8}
}

// Generation is the generation service's output.
type Generation struct {
	Text        string
	EmotionTag  string
	MediaIntent string
}

// InteractionEvent is one observed pairwise interaction, accumulated by the
// gossip batcher.
type InteractionEvent struct {
	ChannelID string
	UserA     string
	UserB     string
	Kind      string // "reply" | "mention" | "co_presence"
	At        time.Time
}

// PairSentiment is the sentiment extractor's verdict on one user pair.
type PairSentiment struct {
	UserA     string  `json:"user_a"`
	UserB     string  `json:"user_b"`
	Sentiment float64 `json:"sentiment"` // [-1, 1]
}

// Decider chooses how to respond to a batch given assembled context.
type Decider interface {
	Decide(ctx context.Context, message string, bundle memory.ContextBundle) (Decision, error)
}

// Generator produces the response text.
type Generator interface {
	Generate(ctx context.Context, system, message string) (Generation, error)
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (memory.Vector, error)
}

// SentimentExtractor scores pairwise sentiment for a batch of interactions.
// Partial or empty results are valid outputs, not failures.
type SentimentExtractor interface {
	Extract(ctx context.Context, events []InteractionEvent) ([]PairSentiment, error)
}
