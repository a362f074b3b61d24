package respond

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lunabot/luna/internal/ai"
	"github.com/lunabot/luna/internal/memory"
	"github.com/lunabot/luna/internal/pipeline"
)

type fakeMemory struct {
	bundle   memory.ContextBundle
	recorded []memory.Message
}

func (f *fakeMemory) QueryRecall(context.Context, string, string, string, memory.Vector) memory.ContextBundle {
	return f.bundle
}

func (f *fakeMemory) RecordMessage(_ context.Context, msg memory.Message) error {
	f.recorded = append(f.recorded, msg)
	return nil
}

type fakeDecider struct {
	decision ai.Decision
	err      error
}

func (f *fakeDecider) Decide(context.Context, string, memory.ContextBundle) (ai.Decision, error) {
	return f.decision, f.err
}

type fakeRespGen struct {
	text     string
	err      error
	sys      string
	lastTask string
}

func (f *fakeRespGen) Generate(_ context.Context, system, message string) (ai.Generation, error) {
	f.sys = system
	f.lastTask = message
	return ai.Generation{Text: f.text}, f.err
}

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) Send(_ context.Context, _, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

type fakeEngager struct {
	marked []string
	focus  map[string]bool
}

func (f *fakeEngager) MarkEngaged(id string) { f.marked = append(f.marked, id) }

func (f *fakeEngager) SetFocus(channelID string, on bool) {
	if f.focus == nil {
		f.focus = make(map[string]bool)
	}
	f.focus[channelID] = on
}

type fakeNotifier struct{ channels []string }

func (f *fakeNotifier) OnBotSpoke(channelID string, _ time.Time) {
	f.channels = append(f.channels, channelID)
}

func chatDecision() ai.Decision {
	return ai.Decision{Action: ai.ActionChat, Mood: "wry"}
}

func testBatch() pipeline.Batch {
	return pipeline.Batch{
		ChannelID: "c1",
		AuthorID:  "alice",
		Messages:  []pipeline.RawMessage{{Text: "hey luna, what did I say about synths?"}},
	}
}

func newResponder(mem *fakeMemory, dec *fakeDecider, gen *fakeRespGen, snd *fakeSender, eng *fakeEngager, not *fakeNotifier) *Responder {
	return New(Options{
		Persona: "You are Luna.",
		SelfID:  "luna-bot",
		Decider: dec,
		Gen:     gen,
		Memory:  mem,
		Sender:  snd,
		Filter:  eng,
		Notify:  not,
		Log:     zerolog.Nop(),
	})
}

func TestHandleRepliesAndMarksEngaged(t *testing.T) {
	mem := &fakeMemory{}
	snd := &fakeSender{}
	eng := &fakeEngager{}
	not := &fakeNotifier{}
	r := newResponder(mem, &fakeDecider{decision: chatDecision()}, &fakeRespGen{text: "synths, right!"}, snd, eng, not)

	r.Handle(context.Background(), testBatch())

	require.Equal(t, []string{"synths, right!"}, snd.sent)
	require.Equal(t, []string{"alice"}, eng.marked)
	require.Equal(t, []string{"c1"}, not.channels)
	// Own reply lands in short-term context only.
	require.Len(t, mem.recorded, 1)
	require.Equal(t, "luna-bot", mem.recorded[0].AuthorID)
	require.Less(t, mem.recorded[0].Confidence, 0.3)
}

func TestIgnoreDecisionStaysQuiet(t *testing.T) {
	snd := &fakeSender{}
	r := newResponder(&fakeMemory{}, &fakeDecider{decision: ai.Decision{Action: ai.ActionIgnore}},
		&fakeRespGen{text: "should not appear"}, snd, &fakeEngager{}, &fakeNotifier{})

	r.Handle(context.Background(), testBatch())

	require.Empty(t, snd.sent)
}

func TestDecisionFailureFallsBackToChat(t *testing.T) {
	snd := &fakeSender{}
	r := newResponder(&fakeMemory{}, &fakeDecider{err: errors.New("service down")},
		&fakeRespGen{text: "still here"}, snd, &fakeEngager{}, &fakeNotifier{})

	r.Handle(context.Background(), testBatch())

	require.Equal(t, []string{"still here"}, snd.sent)
}

func TestUnsupportedActionsDegradeToChat(t *testing.T) {
	for _, action := range []ai.Action{ai.ActionSearch, ai.ActionToolUse} {
		snd := &fakeSender{}
		r := newResponder(&fakeMemory{}, &fakeDecider{decision: ai.Decision{Action: action}},
			&fakeRespGen{text: "plain reply"}, snd, &fakeEngager{}, &fakeNotifier{})

		r.Handle(context.Background(), testBatch())

		require.Equal(t, []string{"plain reply"}, snd.sent, "action %s", action)
	}
}

func TestGenerationFailureStaysQuiet(t *testing.T) {
	snd := &fakeSender{}
	eng := &fakeEngager{}
	r := newResponder(&fakeMemory{}, &fakeDecider{decision: chatDecision()},
		&fakeRespGen{err: errors.New("model offline")}, snd, eng, &fakeNotifier{})

	r.Handle(context.Background(), testBatch())

	require.Empty(t, snd.sent)
	require.Empty(t, eng.marked)
}

func TestRecalledContextReachesPrompt(t *testing.T) {
	mem := &fakeMemory{bundle: memory.ContextBundle{
		Records:  []memory.Record{{Text: "alice loves modular synths"}},
		Grounded: true,
	}}
	gen := &fakeRespGen{text: "ok"}
	r := newResponder(mem, &fakeDecider{decision: chatDecision()}, gen, &fakeSender{}, &fakeEngager{}, &fakeNotifier{})

	r.Handle(context.Background(), testBatch())

	require.Contains(t, gen.sys, "alice loves modular synths")
	require.NotContains(t, gen.sys, "loose associations")
}

func TestUngroundedRecallIsHedged(t *testing.T) {
	mem := &fakeMemory{bundle: memory.ContextBundle{
		Records:  []memory.Record{{Text: "something half remembered"}},
		Grounded: false,
	}}
	gen := &fakeRespGen{text: "ok"}
	r := newResponder(mem, &fakeDecider{decision: chatDecision()}, gen, &fakeSender{}, &fakeEngager{}, &fakeNotifier{})

	r.Handle(context.Background(), testBatch())

	require.Contains(t, gen.sys, "loose associations")
}

func TestEmptyBatchSkipped(t *testing.T) {
	dec := &fakeDecider{decision: chatDecision()}
	snd := &fakeSender{}
	r := newResponder(&fakeMemory{}, dec, &fakeRespGen{text: "hm"}, snd, &fakeEngager{}, &fakeNotifier{})

	r.Handle(context.Background(), pipeline.Batch{ChannelID: "c1", AuthorID: "alice",
		Messages: []pipeline.RawMessage{{Text: "   "}}})

	require.Empty(t, snd.sent)
}

func TestFocusModeFollowsMentionDensity(t *testing.T) {
	eng := &fakeEngager{}
	r := newResponder(&fakeMemory{}, &fakeDecider{decision: chatDecision()},
		&fakeRespGen{text: "ok"}, &fakeSender{}, eng, &fakeNotifier{})

	mentionBatch := pipeline.Batch{ChannelID: "c1", AuthorID: "alice",
		Messages: []pipeline.RawMessage{{Text: "luna!", MentionsBot: true}}}

	now := time.Now()
	r.trackFocus(mentionBatch, now)
	r.trackFocus(mentionBatch, now.Add(10*time.Second))
	require.False(t, eng.focus["c1"])

	r.trackFocus(mentionBatch, now.Add(20*time.Second))
	require.True(t, eng.focus["c1"])

	// Mentions age out of the window and focus drops.
	quiet := pipeline.Batch{ChannelID: "c1", AuthorID: "alice",
		Messages: []pipeline.RawMessage{{Text: "anyway"}}}
	r.trackFocus(quiet, now.Add(5*time.Minute))
	require.False(t, eng.focus["c1"])
}

func TestAnticsResurfaceUsesOldRecord(t *testing.T) {
	gen := &fakeRespGen{text: "remember the synth incident?"}
	plat := &fakePlatform{}
	a := NewAntics(gen, &fakeRecords{records: []memory.Record{{Text: "the synth incident"}}}, plat, "persona", nil, zerolog.Nop())

	require.NoError(t, a.resurface(context.Background(), "c1"))
	require.Len(t, plat.sent, 1)
	require.True(t, strings.Contains(gen.lastTask, "the synth incident"))
}
