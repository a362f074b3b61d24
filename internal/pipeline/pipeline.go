package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lunabot/luna/internal/memory"
	"github.com/lunabot/luna/internal/metrics"
)

// Recorder is the slice of the memory engine the pipeline needs for its
// unconditional write side effect.
type Recorder interface {
	RecordMessage(ctx context.Context, msg memory.Message) error
}

// authorState is the per-author filter history: the last normalized text and
// a consecutive spam-repeat counter.
type authorState struct {
	lastText string
	repeats  int
}

// Filter composes the hard filter, interest scorer, and rate limiter into one
// admit/reject decision. Every message, admitted or not, is written to memory
// so profiling data accumulates independent of response behavior.
type Filter struct {
	hard     *HardFilter
	scorer   *Scorer
	limiter  *RateLimiter
	recorder Recorder
	log      zerolog.Logger

	mu      sync.Mutex
	authors map[string]*authorState
	vip     map[string]bool
	engaged map[string]bool
	focus   map[string]bool // per channel
}

// NewFilter wires the filter stack. vipUsers come from config; the engaged
// set grows as the responder marks authors it has answered.
func NewFilter(hard *HardFilter, scorer *Scorer, limiter *RateLimiter, recorder Recorder, vipUsers []string, log zerolog.Logger) *Filter {
	vip := make(map[string]bool, len(vipUsers))
	for _, u := range vipUsers {
		vip[u] = true
	}
	return &Filter{
		hard:     hard,
		scorer:   scorer,
		limiter:  limiter,
		recorder: recorder,
		log:      log,
		authors:  make(map[string]*authorState),
		vip:      vip,
		engaged:  make(map[string]bool),
		focus:    make(map[string]bool),
	}
}

// MarkEngaged flags an author the bot has responded to; future messages from
// them get the prior-engagement bonus.
func (f *Filter) MarkEngaged(authorID string) {
	f.mu.Lock()
	f.engaged[authorID] = true
	f.mu.Unlock()
}

// SetFocus toggles focus mode for a channel.
func (f *Filter) SetFocus(channelID string, on bool) {
	f.mu.Lock()
	f.focus[channelID] = on
	f.mu.Unlock()
}

// Process runs the full admission decision for one message. It never returns
// an error: scorer and filter are pure, any internal fault fails closed, and
// a memory-write failure is logged, never surfaced.
func (f *Filter) Process(ctx context.Context, msg RawMessage) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error().Interface("panic", r).Msg("filter fault, failing closed")
			verdict = Verdict{Reason: ReasonInternal}
			f.writeMemory(ctx, msg)
		}
	}()

	f.mu.Lock()
	st := f.authors[msg.AuthorID]
	if st == nil {
		st = &authorState{}
		f.authors[msg.AuthorID] = st
	}
	norm := strings.Join(strings.Fields(strings.ToLower(msg.Text)), " ")
	if norm != "" && norm == st.lastText {
		st.repeats++
	} else {
		st.repeats = 0
	}
	st.lastText = norm
	repeats := st.repeats
	vip := f.vip[msg.AuthorID]
	engaged := f.engaged[msg.AuthorID]
	focus := f.focus[msg.ChannelID]
	f.mu.Unlock()

	if reason := f.hard.Check(msg, repeats); reason != "" {
		verdict = Verdict{Reason: reason, Tags: []string{reason}}
		f.finish(ctx, msg, verdict)
		return verdict
	}

	score, tags := f.scorer.Score(ScoreInput{Msg: msg, VIP: vip, Engaged: engaged, FocusMode: focus})
	if !f.scorer.Admits(score) {
		verdict = Verdict{Score: score, Tags: tags, Reason: ReasonLowInterest}
		f.finish(ctx, msg, verdict)
		return verdict
	}

	now := msg.At
	if now.IsZero() {
		now = time.Now()
	}
	if !f.limiter.Allow(msg.AuthorID, vip, now) {
		verdict = Verdict{Score: score, Tags: tags, Reason: ReasonRateLimited}
		f.finish(ctx, msg, verdict)
		return verdict
	}
	f.limiter.Record(msg.AuthorID, now)

	verdict = Verdict{Admitted: true, Score: score, Tags: tags}
	f.finish(ctx, msg, verdict)
	return verdict
}

// finish performs the unconditional memory write and counts the outcome.
func (f *Filter) finish(ctx context.Context, msg RawMessage, v Verdict) {
	f.writeMemory(ctx, msg)

	if v.Admitted {
		metrics.MessagesAdmitted.Inc()
		return
	}
	metrics.MessagesRejected.WithLabelValues(v.Reason).Inc()
}

func (f *Filter) writeMemory(ctx context.Context, msg RawMessage) {
	if f.recorder == nil {
		return
	}
	err := f.recorder.RecordMessage(ctx, memory.Message{
		ID:        msg.ID,
		ChannelID: msg.ChannelID,
		AuthorID:  msg.AuthorID,
		Text:      msg.Text,
		At:        msg.At,
	})
	if err != nil {
		f.log.Warn().Err(err).Str("channel", msg.ChannelID).Msg("memory write failed")
	}
}
