// Package boredom implements the per-channel autonomous action state machine:
// a continuously evolving meter, a mood tier derived from it, and the
// mischief actions each tier unlocks.
package boredom

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lunabot/luna/internal/metrics"
)

// Tier is the mood derived from the meter by range membership.
type Tier int

const (
	TierObserver Tier = iota // [0, 30)
	TierPoking               // [30, 70)
	TierChaos                // [70, 100]
)

// TierFor maps a meter value to its tier.
func TierFor(meter float64) Tier {
	switch {
	case meter < 30:
		return TierObserver
	case meter < 70:
		return TierPoking
	default:
		return TierChaos
	}
}

// ActionKind enumerates the autonomous actions.
type ActionKind string

const (
	ActionReaction    ActionKind = "reaction"
	ActionStatus      ActionKind = "status_change"
	ActionResurface   ActionKind = "memory_resurface"
	ActionBait        ActionKind = "bait"
	ActionGhostPing   ActionKind = "ghost_ping"
	ActionHijack      ActionKind = "topic_hijack"
	ActionSelfTalk    ActionKind = "self_dialogue"
	ActionHallucinate ActionKind = "hallucinated_reply"
	ActionRename      ActionKind = "channel_rename"
)

// tierActions is the action set unlocked by each tier.
var tierActions = map[Tier][]ActionKind{
	TierObserver: {ActionReaction, ActionStatus},
	TierPoking:   {ActionResurface, ActionBait, ActionGhostPing},
	TierChaos:    {ActionHijack, ActionSelfTalk, ActionHallucinate, ActionRename},
}

// needsVictim marks actions aimed at a specific user.
var needsVictim = map[ActionKind]bool{
	ActionBait:        true,
	ActionGhostPing:   true,
	ActionHallucinate: true,
}

// Meter deltas.
const (
	deltaHeartbeat  = 2.0  // per 60s of channel silence
	deltaLowEffort  = 5.0  // short low-effort reply observed
	deltaMention    = -25.0
	deltaMessage    = -3.0
	deltaLongExtra  = -2.0 // additional when length > 50
	deltaActionDone = -15.0

	lowEffortMaxLen = 10
	longMessageLen  = 50
)

// Actuator performs actions against the messaging platform. RenameChannel
// returns a revert closure restoring the prior name.
type Actuator interface {
	Perform(ctx context.Context, kind ActionKind, channelID, victimID string) error
	RenameChannel(ctx context.Context, channelID string) (revert func(context.Context) error, err error)
}

// Config tunes the engine.
type Config struct {
	Cooldown     time.Duration // min gap between actions per channel
	RenameRevert time.Duration // how long a rename sticks
	ActionProb   map[Tier]float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Cooldown:     180 * time.Second,
		RenameRevert: 300 * time.Second,
		ActionProb: map[Tier]float64{
			TierObserver: 0.15,
			TierPoking:   0.35,
			TierChaos:    0.6,
		},
	}
}

// channelState is one channel's boredom record. Partitioned per channel;
// no cross-channel locking.
type channelState struct {
	mu         sync.Mutex
	meter      float64
	lastAction time.Time
	lastMsgAt  time.Time
}

// Engine drives autonomous actions per channel. The random source is
// injected so tests can pin draws.
type Engine struct {
	cfg      Config
	actuator Actuator
	victims  *VictimSelector
	renames  *Renames
	rnd      *rand.Rand
	rndMu    sync.Mutex
	log      zerolog.Logger

	mu       sync.RWMutex
	channels map[string]*channelState
}

// NewEngine creates the engine. rnd may be nil outside tests.
func NewEngine(cfg Config, actuator Actuator, victims *VictimSelector, rnd *rand.Rand, log zerolog.Logger) *Engine {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 180 * time.Second
	}
	if cfg.RenameRevert <= 0 {
		cfg.RenameRevert = 300 * time.Second
	}
	if cfg.ActionProb == nil {
		cfg.ActionProb = DefaultConfig().ActionProb
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{
		cfg:      cfg,
		actuator: actuator,
		victims:  victims,
		renames:  NewRenames(log),
		rnd:      rnd,
		log:      log,
		channels: make(map[string]*channelState),
	}
}

func (e *Engine) state(channelID string) *channelState {
	e.mu.RLock()
	st := e.channels[channelID]
	e.mu.RUnlock()
	if st != nil {
		return st
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if st = e.channels[channelID]; st != nil {
		return st
	}
	st = &channelState{}
	e.channels[channelID] = st
	return st
}

// Meter returns the channel's current meter value.
func (e *Engine) Meter(channelID string) float64 {
	st := e.state(channelID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.meter
}

// OnMessage updates the meter for an observed channel message. Mentions calm
// the bot sharply; ordinary chatter calms it a little; low-effort one-liners
// feed the boredom.
func (e *Engine) OnMessage(channelID string, length int, mentioned bool, at time.Time) {
	st := e.state(channelID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastMsgAt = at
	switch {
	case mentioned:
		st.meter += deltaMention
	case length <= lowEffortMaxLen:
		st.meter += deltaLowEffort
	default:
		st.meter += deltaMessage
		if length > longMessageLen {
			st.meter += deltaLongExtra
		}
	}
	st.meter = clampMeter(st.meter)
}

// OnBotSpoke resets the silence clock without touching the meter.
func (e *Engine) OnBotSpoke(channelID string, at time.Time) {
	st := e.state(channelID)
	st.mu.Lock()
	st.lastMsgAt = at
	st.mu.Unlock()
}

// Heartbeat bumps the meter for every channel silent for at least a minute,
// then gives each a chance to act. Called on a 60s schedule.
func (e *Engine) Heartbeat(ctx context.Context, now time.Time) {
	e.mu.RLock()
	ids := make([]string, 0, len(e.channels))
	for id := range e.channels {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	for _, id := range ids {
		st := e.state(id)
		st.mu.Lock()
		if !st.lastMsgAt.IsZero() && now.Sub(st.lastMsgAt) >= time.Minute {
			st.meter = clampMeter(st.meter + deltaHeartbeat)
		}
		st.mu.Unlock()
		e.TryAct(ctx, id, now)
	}
}

// TryAct attempts one autonomous action: cooldown first, then a random draw
// against the tier's probability, then the action itself. A successful action
// settles the meter.
func (e *Engine) TryAct(ctx context.Context, channelID string, now time.Time) {
	st := e.state(channelID)

	st.mu.Lock()
	if !st.lastAction.IsZero() && now.Sub(st.lastAction) < e.cfg.Cooldown {
		st.mu.Unlock()
		return
	}
	tier := TierFor(st.meter)
	st.mu.Unlock()

	if e.draw() >= e.cfg.ActionProb[tier] {
		return
	}

	kind := e.pickAction(tier)
	victimID := ""
	if needsVictim[kind] {
		v, ok := e.victims.Pick(ctx, channelID)
		if !ok {
			e.log.Debug().Str("channel", channelID).Msg("no victim candidates, action skipped")
			return
		}
		victimID = v
	}

	var err error
	if kind == ActionRename {
		err = e.performRename(ctx, channelID)
	} else {
		err = e.actuator.Perform(ctx, kind, channelID, victimID)
	}
	if err != nil {
		e.log.Warn().Err(err).Str("action", string(kind)).Str("channel", channelID).Msg("action failed")
		return
	}

	metrics.BoredomActions.WithLabelValues(string(kind)).Inc()
	e.log.Info().Str("action", string(kind)).Str("channel", channelID).Str("victim", victimID).Msg("boredom action")

	st.mu.Lock()
	st.lastAction = now
	st.meter = clampMeter(st.meter + deltaActionDone)
	st.mu.Unlock()
}

// performRename renames the channel and schedules the reversion. Pending
// reverts survive until Shutdown flushes them.
func (e *Engine) performRename(ctx context.Context, channelID string) error {
	revert, err := e.actuator.RenameChannel(ctx, channelID)
	if err != nil {
		return err
	}
	e.renames.Schedule(channelID, revert, e.cfg.RenameRevert)
	return nil
}

// Shutdown restores every pending channel rename. Terminal cleanup, not
// best-effort: all pending reverts run before return.
func (e *Engine) Shutdown(ctx context.Context) {
	e.renames.Flush(ctx)
}

func (e *Engine) draw() float64 {
	e.rndMu.Lock()
	defer e.rndMu.Unlock()
	return e.rnd.Float64()
}

func (e *Engine) pickAction(tier Tier) ActionKind {
	set := tierActions[tier]
	e.rndMu.Lock()
	defer e.rndMu.Unlock()
	return set[e.rnd.Intn(len(set))]
}

func clampMeter(m float64) float64 {
	if m < 0 {
		return 0
	}
	if m > 100 {
		return 100
	}
	return m
}
