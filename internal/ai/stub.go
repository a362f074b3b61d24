package ai

import (
	"context"

	"github.com/lunabot/luna/internal/memory"
)

// Stub is a deterministic in-process provider. It satisfies every
// collaborator contract with fixed outputs, for tests and for running the
// bot without a model endpoint.
type Stub struct {
	Decision   Decision
	Reply      string
	Vector     memory.Vector
	Sentiments []PairSentiment

	Err error // returned from every call when set
}

// NewStub returns a stub with benign defaults: always chat, a canned reply,
// a unit vector, no sentiment.
func NewStub() *Stub {
	return &Stub{
		Decision: FallbackDecision(),
		Reply:    "mhm.",
		Vector:   memory.Vector{1, 0, 0},
	}
}

func (s *Stub) Decide(context.Context, string, memory.ContextBundle) (Decision, error) {
	return s.Decision, s.Err
}

func (s *Stub) Generate(context.Context, string, string) (Generation, error) {
	return Generation{Text: s.Reply}, s.Err
}

func (s *Stub) Embed(context.Context, string) (memory.Vector, error) {
	return s.Vector, s.Err
}

func (s *Stub) Extract(context.Context, []InteractionEvent) ([]PairSentiment, error) {
	return s.Sentiments, s.Err
}
