// Package respond turns admitted message batches into actual replies:
// recall, decision, generation, delivery.
package respond

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lunabot/luna/internal/ai"
	"github.com/lunabot/luna/internal/memory"
	"github.com/lunabot/luna/internal/pipeline"
)

// Sender delivers text to a channel.
type Sender interface {
	Send(ctx context.Context, channelID, text string) error
}

// recaller is the slice of the memory engine the responder reads.
type recaller interface {
	QueryRecall(ctx context.Context, channelID, authorID, query string, queryVec memory.Vector) memory.ContextBundle
	RecordMessage(ctx context.Context, msg memory.Message) error
}

// engager feeds social state back into the admission filter.
type engager interface {
	MarkEngaged(authorID string)
	SetFocus(channelID string, on bool)
}

// Focus mode engages when the channel keeps addressing the bot directly.
const (
	focusMentions = 3
	focusWindow   = 2 * time.Minute
)

// Notifier hears about the bot's own replies (silence tracking).
type Notifier interface {
	OnBotSpoke(channelID string, at time.Time)
}

// Responder handles one admitted batch end to end. Collaborator failures
// degrade, never surface: a dead decision service means a plain chat reply,
// a dead generator means silence.
type Responder struct {
	persona  string
	selfID   string
	decider  ai.Decider
	gen      ai.Generator
	embedder ai.Embedder
	mem      recaller
	sender   Sender
	filter   engager
	notify   Notifier
	log      zerolog.Logger

	mu       sync.Mutex
	mentions map[string][]time.Time // channel -> recent direct-address times
}

// Options carries the responder's collaborators.
type Options struct {
	Persona  string
	SelfID   string
	Decider  ai.Decider
	Gen      ai.Generator
	Embedder ai.Embedder
	Memory   recaller
	Sender   Sender
	Filter   engager
	Notify   Notifier
	Log      zerolog.Logger
}

// New builds a responder.
func New(opts Options) *Responder {
	return &Responder{
		persona:  opts.Persona,
		selfID:   opts.SelfID,
		decider:  opts.Decider,
		gen:      opts.Gen,
		embedder: opts.Embedder,
		mem:      opts.Memory,
		sender:   opts.Sender,
		filter:   opts.Filter,
		notify:   opts.Notify,
		log:      opts.Log,
		mentions: make(map[string][]time.Time),
	}
}

// trackFocus flips the channel's focus flag by direct-address density.
func (r *Responder) trackFocus(batch pipeline.Batch, now time.Time) {
	if r.filter == nil {
		return
	}
	mentioned := false
	for _, m := range batch.Messages {
		if m.MentionsBot {
			mentioned = true
			break
		}
	}

	r.mu.Lock()
	times := r.mentions[batch.ChannelID]
	if mentioned {
		times = append(times, now)
	}
	cutoff := now.Add(-focusWindow)
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.mentions[batch.ChannelID] = kept
	focused := len(kept) >= focusMentions
	r.mu.Unlock()

	r.filter.SetFocus(batch.ChannelID, focused)
}

// Handle processes one batch. Wired as the processing queue's handler.
func (r *Responder) Handle(ctx context.Context, batch pipeline.Batch) {
	text := batch.Text()
	if strings.TrimSpace(text) == "" {
		return
	}
	r.trackFocus(batch, time.Now())

	var queryVec memory.Vector
	if r.embedder != nil {
		if vec, err := r.embedder.Embed(ctx, text); err == nil {
			queryVec = vec
		} else {
			r.log.Debug().Err(err).Msg("query embedding unavailable, keyword recall only")
		}
	}

	bundle := r.mem.QueryRecall(ctx, batch.ChannelID, batch.AuthorID, text, queryVec)

	decision, err := r.decider.Decide(ctx, text, bundle)
	if err != nil {
		r.log.Warn().Err(err).Msg("decision failed, falling back to chat")
		decision = ai.FallbackDecision()
	}

	switch decision.Action {
	case ai.ActionIgnore:
		r.log.Debug().Str("channel", batch.ChannelID).Msg("decided to ignore")
		return
	case ai.ActionSearch, ai.ActionToolUse:
		// Not wired to external tools; degrade to a plain reply.
		r.log.Debug().Str("action", string(decision.Action)).Msg("unsupported action, degrading to chat")
		decision.Action = ai.ActionChat
	}

	gen, err := r.gen.Generate(ctx, r.systemPrompt(decision, bundle), text)
	if err != nil {
		r.log.Warn().Err(err).Msg("generation failed, staying quiet")
		return
	}
	reply := strings.TrimSpace(gen.Text)
	if reply == "" {
		return
	}

	if err := r.sender.Send(ctx, batch.ChannelID, reply); err != nil {
		r.log.Warn().Err(err).Str("channel", batch.ChannelID).Msg("send failed")
		return
	}

	now := time.Now()
	if r.filter != nil {
		r.filter.MarkEngaged(batch.AuthorID)
	}
	if r.notify != nil {
		r.notify.OnBotSpoke(batch.ChannelID, now)
	}
	// The bot's own words join short-term context so it can follow itself.
	// Sub-floor confidence keeps them out of the durable log.
	if err := r.mem.RecordMessage(ctx, memory.Message{
		ChannelID:  batch.ChannelID,
		AuthorID:   r.selfID,
		Text:       reply,
		At:         now,
		Confidence: 0.1,
	}); err != nil {
		r.log.Debug().Err(err).Msg("own reply not recorded")
	}
	r.log.Info().Str("channel", batch.ChannelID).Str("mood", decision.Mood).
		Int("len", len(reply)).Msg("replied")
}

// systemPrompt assembles persona, decision hints, and recalled context.
func (r *Responder) systemPrompt(d ai.Decision, bundle memory.ContextBundle) string {
	var b strings.Builder
	b.WriteString(r.persona)
	if d.Mood != "" {
		b.WriteString("\nCurrent mood: ")
		b.WriteString(d.Mood)
	}
	if d.SystemInjection != "" {
		b.WriteString("\n")
		b.WriteString(d.SystemInjection)
	}
	if len(bundle.Records) > 0 {
		b.WriteString("\n\nThings you remember about this conversation:")
		for _, rec := range bundle.Records {
			b.WriteString("\n- ")
			b.WriteString(rec.Text)
		}
		if !bundle.Grounded {
			b.WriteString("\nThese memories are loose associations; hold them lightly.")
		}
	}
	if len(bundle.Recent) > 0 {
		b.WriteString("\n\nRecent channel chatter:")
		for _, e := range bundle.Recent {
			b.WriteString("\n")
			b.WriteString(e.AuthorID)
			b.WriteString(": ")
			b.WriteString(e.Text)
		}
	}
	return b.String()
}
