package pipeline

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lunabot/luna/internal/memory"
)

// fakeRecorder captures memory writes for assertions.
type fakeRecorder struct {
	mu   sync.Mutex
	msgs []memory.Message
}

func (r *fakeRecorder) RecordMessage(_ context.Context, msg memory.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func newTestFilter(rec Recorder, vip []string) *Filter {
	scorer := NewScorer(ScorerConfig{
		BotNames:  []string{"luna"},
		Keywords:  []string{"game", "music"},
		Threshold: 50,
	}, rand.New(rand.NewSource(1)))
	return NewFilter(
		NewHardFilter(DefaultHardFilterConfig()),
		scorer,
		NewRateLimiter(12, 20, time.Minute),
		rec,
		vip,
		zerolog.Nop(),
	)
}

func TestHardRejectStillWritesMemory(t *testing.T) {
	rec := &fakeRecorder{}
	f := newTestFilter(rec, nil)

	v := f.Process(context.Background(), RawMessage{
		ChannelID: "c1", AuthorID: "u1", Text: "!command here", At: time.Now(),
	})
	if v.Admitted {
		t.Fatal("command message must be rejected")
	}
	if v.Reason != ReasonCommand {
		t.Fatalf("reason = %q, want %q", v.Reason, ReasonCommand)
	}
	if rec.count() != 1 {
		t.Fatalf("memory writes = %d, want 1 (unconditional)", rec.count())
	}
}

func TestMentionShortCircuitsAdmission(t *testing.T) {
	rec := &fakeRecorder{}
	f := newTestFilter(rec, nil)

	v := f.Process(context.Background(), RawMessage{
		ChannelID: "c1", AuthorID: "u1", Text: "hey you", MentionsBot: true, At: time.Now(),
	})
	if !v.Admitted {
		t.Fatal("mention must admit")
	}
	if v.Score != 100 {
		t.Fatalf("score = %d, want 100", v.Score)
	}
}

func TestBotNameInTextAdmits(t *testing.T) {
	f := newTestFilter(&fakeRecorder{}, nil)
	v := f.Process(context.Background(), RawMessage{
		ChannelID: "c1", AuthorID: "u1", Text: "luna what do you think", At: time.Now(),
	})
	if !v.Admitted || v.Score != 100 {
		t.Fatalf("naming the bot must short-circuit admit, got %+v", v)
	}
}

func TestThirteenthAdmissionRateLimited(t *testing.T) {
	rec := &fakeRecorder{}
	f := newTestFilter(rec, nil)
	now := time.Now()

	for i := 0; i < 12; i++ {
		v := f.Process(context.Background(), RawMessage{
			ChannelID: "c1", AuthorID: "u1", MentionsBot: true,
			Text: msgText(i), At: now.Add(time.Duration(i) * time.Second),
		})
		if !v.Admitted {
			t.Fatalf("admission %d unexpectedly rejected: %+v", i+1, v)
		}
	}

	v := f.Process(context.Background(), RawMessage{
		ChannelID: "c1", AuthorID: "u1", MentionsBot: true,
		Text: "the thirteenth", At: now.Add(13 * time.Second),
	})
	if v.Admitted {
		t.Fatal("13th admission within 60s must be rate limited")
	}
	if v.Reason != ReasonRateLimited {
		t.Fatalf("reason = %q, want %q", v.Reason, ReasonRateLimited)
	}
	if rec.count() != 13 {
		t.Fatalf("memory writes = %d, want 13 (rate-limit rejection still writes)", rec.count())
	}
}

func TestVIPGetsHigherRateLimit(t *testing.T) {
	f := newTestFilter(&fakeRecorder{}, []string{"vip1"})
	now := time.Now()

	for i := 0; i < 20; i++ {
		v := f.Process(context.Background(), RawMessage{
			ChannelID: "c1", AuthorID: "vip1", MentionsBot: true,
			Text: msgText(i), At: now.Add(time.Duration(i) * time.Second),
		})
		if !v.Admitted {
			t.Fatalf("VIP admission %d unexpectedly rejected", i+1)
		}
	}
	v := f.Process(context.Background(), RawMessage{
		ChannelID: "c1", AuthorID: "vip1", MentionsBot: true,
		Text: "twenty one", At: now.Add(21 * time.Second),
	})
	if v.Admitted {
		t.Fatal("21st VIP admission within 60s must be rate limited")
	}
}

func TestSpamRepeatsHardRejected(t *testing.T) {
	f := newTestFilter(&fakeRecorder{}, nil)
	ctx := context.Background()

	msg := RawMessage{ChannelID: "c1", AuthorID: "u1", Text: "buy my mixtape", At: time.Now()}
	f.Process(ctx, msg) // first: scored normally
	f.Process(ctx, msg) // second: repeat count 1
	v := f.Process(ctx, msg)
	if v.Reason != ReasonSpamRepeat {
		t.Fatalf("third identical message: reason = %q, want %q", v.Reason, ReasonSpamRepeat)
	}
}

func TestLowInterestRejected(t *testing.T) {
	f := newTestFilter(&fakeRecorder{}, nil)
	v := f.Process(context.Background(), RawMessage{
		ChannelID: "c1", AuthorID: "u1", Text: "mild remark", At: time.Now(),
	})
	if v.Admitted {
		t.Fatalf("scoreless message must not clear threshold 50, got score %d", v.Score)
	}
	if v.Reason != ReasonLowInterest {
		t.Fatalf("reason = %q, want %q", v.Reason, ReasonLowInterest)
	}
}

func TestFocusModeBonus(t *testing.T) {
	f := newTestFilter(&fakeRecorder{}, nil)
	f.SetFocus("c1", true)

	// keyword (+30) + focus (+30) clears threshold 50 regardless of the random term.
	v := f.Process(context.Background(), RawMessage{
		ChannelID: "c1", AuthorID: "u1", Text: "that game was rough", At: time.Now(),
	})
	if !v.Admitted {
		t.Fatalf("focus + keyword should admit, got %+v", v)
	}
}

func msgText(i int) string {
	return "message variant " + string(rune('a'+i))
}
