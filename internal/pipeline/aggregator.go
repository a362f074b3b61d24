package pipeline

import (
	"strings"
	"sync"
	"time"
)

// Batch is one debounce window's worth of messages from a single author,
// merged in arrival order.
type Batch struct {
	ChannelID string
	AuthorID  string
	Messages  []RawMessage
	ClosedAt  time.Time
}

// Text concatenates the batched messages in arrival order.
func (b Batch) Text() string {
	parts := make([]string, len(b.Messages))
	for i, m := range b.Messages {
		parts[i] = m.Text
	}
	return strings.Join(parts, "\n")
}

type openBuffer struct {
	messages []RawMessage
	timer    *time.Timer
}

// Aggregator debounces admitted messages per author: the window timer resets
// on each new message, and on expiry the buffer is merged into one batch and
// handed to the sink. A message arriving while the buffer is open folds into
// it rather than creating a second entry.
type Aggregator struct {
	window time.Duration
	sink   func(Batch)

	mu      sync.Mutex
	buffers map[string]*openBuffer
	stopped bool
}

// NewAggregator creates an aggregator that delivers closed batches to sink.
// Sink calls are made in window-close order, one at a time.
func NewAggregator(window time.Duration, sink func(Batch)) *Aggregator {
	if window <= 0 {
		window = 2 * time.Second
	}
	return &Aggregator{
		window:  window,
		sink:    sink,
		buffers: make(map[string]*openBuffer),
	}
}

// Add folds a message into the author's open buffer, or opens one. The
// debounce timer restarts on every message.
func (a *Aggregator) Add(msg RawMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	buf := a.buffers[msg.AuthorID]
	if buf != nil {
		buf.messages = append(buf.messages, msg)
		buf.timer.Reset(a.window)
		return
	}
	buf = &openBuffer{messages: []RawMessage{msg}}
	authorID := msg.AuthorID
	buf.timer = time.AfterFunc(a.window, func() { a.close(authorID) })
	a.buffers[authorID] = buf
}

// close seals the author's buffer and delivers the batch. Holding the lock
// through the sink call keeps delivery in window-close order.
func (a *Aggregator) close(authorID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf := a.buffers[authorID]
	if buf == nil {
		return
	}
	delete(a.buffers, authorID)
	a.deliver(buf)
}

func (a *Aggregator) deliver(buf *openBuffer) {
	if len(buf.messages) == 0 || a.sink == nil {
		return
	}
	last := buf.messages[len(buf.messages)-1]
	a.sink(Batch{
		ChannelID: last.ChannelID,
		AuthorID:  last.AuthorID,
		Messages:  buf.messages,
		ClosedAt:  time.Now(),
	})
}

// Stop cancels all timers and flushes open buffers so no admitted message is
// dropped at shutdown.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.stopped = true
	for author, buf := range a.buffers {
		buf.timer.Stop()
		delete(a.buffers, author)
		a.deliver(buf)
	}
}
