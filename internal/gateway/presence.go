package gateway

import (
	"sync"
	"time"
)

// Tracker is the in-memory presence view fed by gateway events. It backs
// victim selection and silence detection.
type Tracker struct {
	mu         sync.RWMutex
	online     map[string]bool
	lastActive map[string]time.Time
	byChannel  map[string]map[string]time.Time // channel -> user -> last message
	lastMsgID  map[string]string               // channel -> latest message id
}

func NewTracker() *Tracker {
	return &Tracker{
		online:     make(map[string]bool),
		lastActive: make(map[string]time.Time),
		byChannel:  make(map[string]map[string]time.Time),
		lastMsgID:  make(map[string]string),
	}
}

// SetOnline updates a user's online flag from a presence event.
func (t *Tracker) SetOnline(userID string, online bool) {
	t.mu.Lock()
	t.online[userID] = online
	t.mu.Unlock()
}

// MarkMessage records one observed message.
func (t *Tracker) MarkMessage(channelID, userID, messageID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastActive[userID] = at
	ch := t.byChannel[channelID]
	if ch == nil {
		ch = make(map[string]time.Time)
		t.byChannel[channelID] = ch
	}
	ch[userID] = at
	t.lastMsgID[channelID] = messageID
	// A message is the strongest online signal there is.
	t.online[userID] = true
}

// LastMessageID returns the newest message id seen in the channel.
func (t *Tracker) LastMessageID(channelID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.lastMsgID[channelID]
	return id, ok && id != ""
}

func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online[userID]
}

// MostRecentActive returns the channel's latest speaker since the cutoff.
func (t *Tracker) MostRecentActive(channelID string, since time.Time) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	best := ""
	var bestAt time.Time
	for userID, at := range t.byChannel[channelID] {
		if at.After(since) && at.After(bestAt) {
			best, bestAt = userID, at
		}
	}
	return best, best != ""
}

// OnlineUsers lists online users ever seen speaking in the channel.
func (t *Tracker) OnlineUsers(channelID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for userID := range t.byChannel[channelID] {
		if t.online[userID] {
			out = append(out, userID)
		}
	}
	return out
}

func (t *Tracker) LastActive(userID string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	at, ok := t.lastActive[userID]
	return at, ok
}
