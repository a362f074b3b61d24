// Package gateway owns the Discord session: inbound events become plain
// message values, outbound actions stay thin transport primitives. No
// decision logic lives here.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/lunabot/luna/internal/pipeline"
)

// MessageSink receives every inbound message after conversion.
type MessageSink func(msg pipeline.RawMessage)

// InteractionSink receives the social shape of each message for gossip.
type InteractionSink func(channelID, authorID, replyToAuthor string, mentions []string, at time.Time)

// Bot wraps one Discord session.
type Bot struct {
	dg       *discordgo.Session
	presence *Tracker
	log      zerolog.Logger

	sink         MessageSink
	interactions InteractionSink

	mu     sync.RWMutex
	selfID string
}

// New creates the session without opening it.
func New(token string, log zerolog.Logger) (*Bot, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	b := &Bot{dg: dg, presence: NewTracker(), log: log}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildPresences |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onMessageCreate)
	dg.AddHandler(b.onPresenceUpdate)
	dg.AddHandler(b.onGuildCreate)
	return b, nil
}

// Presence exposes the live presence view.
func (b *Bot) Presence() *Tracker { return b.presence }

// OnMessage sets the inbound message sink. Must be set before Open.
func (b *Bot) OnMessage(sink MessageSink) { b.sink = sink }

// OnInteraction sets the gossip observer. Must be set before Open.
func (b *Bot) OnInteraction(sink InteractionSink) { b.interactions = sink }

// Open connects to the gateway.
func (b *Bot) Open() error {
	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	return nil
}

// Close disconnects.
func (b *Bot) Close() error {
	return b.dg.Close()
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.mu.Lock()
	b.selfID = r.User.ID
	b.mu.Unlock()
	b.log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("gateway ready")
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	for _, p := range g.Presences {
		if p.User != nil {
			b.presence.SetOnline(p.User.ID, p.Status != discordgo.StatusOffline)
		}
	}
}

func (b *Bot) onPresenceUpdate(s *discordgo.Session, p *discordgo.PresenceUpdate) {
	if p.User == nil {
		return
	}
	b.presence.SetOnline(p.User.ID, p.Status != discordgo.StatusOffline)
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	b.mu.RLock()
	selfID := b.selfID
	b.mu.RUnlock()

	at := m.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	if m.Author.ID != selfID {
		b.presence.MarkMessage(m.ChannelID, m.Author.ID, m.ID, at)
	}

	mentionsBot := false
	var mentions []string
	for _, u := range m.Mentions {
		if u.ID == selfID {
			mentionsBot = true
			continue
		}
		mentions = append(mentions, u.ID)
	}

	replyToID, replyToAuthor := "", ""
	if m.ReferencedMessage != nil {
		replyToID = m.ReferencedMessage.ID
		if m.ReferencedMessage.Author != nil {
			replyToAuthor = m.ReferencedMessage.Author.ID
			if replyToAuthor == selfID {
				mentionsBot = true
			}
		}
	}

	if b.sink != nil {
		b.sink(pipeline.RawMessage{
			ID:          m.ID,
			ChannelID:   m.ChannelID,
			AuthorID:    m.Author.ID,
			AuthorName:  m.Author.Username,
			Text:        m.Content,
			ReplyToID:   replyToID,
			IsDM:        m.GuildID == "",
			IsBot:       m.Author.Bot || m.Author.ID == selfID,
			IsSelf:      selfID != "" && m.Author.ID == selfID,
			MentionsBot: mentionsBot,
			At:          at,
		})
	}
	if b.interactions != nil && m.Author.ID != selfID && !m.Author.Bot {
		b.interactions(m.ChannelID, m.Author.ID, replyToAuthor, mentions, at)
	}
}

// Send posts text to a channel, split into gateway-sized chunks with a short
// pause between them so multi-part replies read as typing, not spam.
func (b *Bot) Send(ctx context.Context, channelID, text string) error {
	if err := b.dg.ChannelTyping(channelID); err != nil {
		b.log.Debug().Err(err).Str("channel", channelID).Msg("typing indicator failed")
	}
	for _, chunk := range splitMessage(text, 2000) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, err := b.dg.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("send %s: %w", channelID, err)
		}
		time.Sleep(200 * time.Millisecond)
	}
	return nil
}

// React adds an emoji reaction to the channel's newest message.
func (b *Bot) React(channelID, emoji string) error {
	msgID, ok := b.presence.LastMessageID(channelID)
	if !ok {
		return fmt.Errorf("no message to react to in %s", channelID)
	}
	return b.dg.MessageReactionAdd(channelID, msgID, emoji)
}

// SetStatus updates the bot's activity line.
func (b *Bot) SetStatus(status string) error {
	return b.dg.UpdateGameStatus(0, status)
}

// GhostPing mentions a user and deletes the mention moments later.
func (b *Bot) GhostPing(channelID, userID string) error {
	msg, err := b.dg.ChannelMessageSend(channelID, "<@"+userID+">")
	if err != nil {
		return fmt.Errorf("ghost ping: %w", err)
	}
	time.Sleep(1200 * time.Millisecond)
	return b.dg.ChannelMessageDelete(channelID, msg.ID)
}

// RenameChannel applies a new name and returns a closure restoring the
// original. The caller owns reversion timing.
func (b *Bot) RenameChannel(channelID, name string) (revert func(context.Context) error, err error) {
	ch, err := b.dg.Channel(channelID)
	if err != nil {
		return nil, fmt.Errorf("lookup channel: %w", err)
	}
	prev := ch.Name
	if _, err := b.dg.ChannelEdit(channelID, &discordgo.ChannelEdit{Name: name}); err != nil {
		return nil, fmt.Errorf("rename channel: %w", err)
	}
	return func(context.Context) error {
		_, err := b.dg.ChannelEdit(channelID, &discordgo.ChannelEdit{Name: prev})
		return err
	}, nil
}

// splitMessage cuts text at the last newline under the limit, falling back
// to a hard cut for single unbroken runs.
func splitMessage(msg string, limit int) []string {
	var result []string
	for len(msg) > limit {
		cut := strings.LastIndex(msg[:limit], "\n")
		if cut == -1 {
			cut = limit
		}
		result = append(result, strings.TrimSpace(msg[:cut]))
		msg = strings.TrimSpace(msg[cut:])
	}
	if msg != "" {
		result = append(result, msg)
	}
	return result
}
