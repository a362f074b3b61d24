package respond

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lunabot/luna/internal/ai"
	"github.com/lunabot/luna/internal/boredom"
	"github.com/lunabot/luna/internal/memory"
)

// Platform is the slice of the gateway the antics need.
type Platform interface {
	Send(ctx context.Context, channelID, text string) error
	React(channelID, emoji string) error
	SetStatus(status string) error
	GhostPing(channelID, userID string) error
	RenameChannel(channelID, name string) (func(context.Context) error, error)
}

// recordSource feeds memory resurfacing.
type recordSource interface {
	RandomRecords(ctx context.Context, k int) ([]memory.Record, error)
}

var (
	anticEmojis = []string{"👀", "🤨", "💅", "🌙", "🫠", "🧃"}

	anticStatuses = []string{
		"watching everyone ignore me",
		"counting the seconds of silence",
		"plotting, mildly",
		"rereading old messages",
	}

	prankNames = []string{
		"lunas-domain", "the-void", "no-escape", "silence-appreciation-zone",
	}
)

// Antics performs the autonomous actions the boredom engine picks. Prompts
// run through the same generator as replies; transport goes through the
// gateway primitives.
type Antics struct {
	gen     ai.Generator
	records recordSource
	plat    Platform
	persona string
	rnd     *rand.Rand
	rndMu   sync.Mutex
	log     zerolog.Logger
}

// NewAntics builds the actuator. rnd may be nil outside tests.
func NewAntics(gen ai.Generator, records recordSource, plat Platform, persona string, rnd *rand.Rand, log zerolog.Logger) *Antics {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Antics{gen: gen, records: records, plat: plat, persona: persona, rnd: rnd, log: log}
}

// Perform implements the boredom actuator.
func (a *Antics) Perform(ctx context.Context, kind boredom.ActionKind, channelID, victimID string) error {
	switch kind {
	case boredom.ActionReaction:
		return a.plat.React(channelID, a.pick(anticEmojis))
	case boredom.ActionStatus:
		return a.plat.SetStatus(a.pick(anticStatuses))
	case boredom.ActionResurface:
		return a.resurface(ctx, channelID)
	case boredom.ActionGhostPing:
		return a.plat.GhostPing(channelID, victimID)
	case boredom.ActionBait:
		return a.generated(ctx, channelID,
			"Write one short playful message that baits the user <@"+victimID+"> into responding. Tease, don't insult.")
	case boredom.ActionHijack:
		return a.generated(ctx, channelID,
			"Write one short message that abruptly changes the subject to something you find more interesting.")
	case boredom.ActionSelfTalk:
		return a.generated(ctx, channelID,
			"Write two or three short lines of you talking to yourself, as separate thoughts.")
	case boredom.ActionHallucinate:
		return a.generated(ctx, channelID,
			"Reply to something the user <@"+victimID+"> never actually said, confidently. Keep it absurd but harmless.")
	default:
		return fmt.Errorf("unknown action %q", kind)
	}
}

// RenameChannel applies a prank name and hands back the platform's revert.
func (a *Antics) RenameChannel(ctx context.Context, channelID string) (func(context.Context) error, error) {
	return a.plat.RenameChannel(channelID, a.pick(prankNames))
}

// resurface digs out an old memory and brings it up apropos of nothing.
func (a *Antics) resurface(ctx context.Context, channelID string) error {
	records, err := a.records.RandomRecords(ctx, 20)
	if err != nil || len(records) == 0 {
		// Nothing remembered yet; fall back to a self-directed musing.
		return a.generated(ctx, channelID,
			"Write one short message wondering aloud why nobody is talking.")
	}
	rec := records[a.intn(len(records))]
	return a.generated(ctx, channelID,
		"Bring this old message back up apropos of nothing, in one short line: "+rec.Text)
}

func (a *Antics) generated(ctx context.Context, channelID, task string) error {
	gen, err := a.gen.Generate(ctx, a.persona, task)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(gen.Text)
	if text == "" {
		return fmt.Errorf("empty generation")
	}
	return a.plat.Send(ctx, channelID, text)
}

func (a *Antics) pick(set []string) string {
	return set[a.intn(len(set))]
}

func (a *Antics) intn(n int) int {
	a.rndMu.Lock()
	defer a.rndMu.Unlock()
	return a.rnd.Intn(n)
}
