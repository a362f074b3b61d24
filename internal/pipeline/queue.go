package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Queue is the single global FIFO between aggregation and the response path.
// A fixed delay between successive dequeues throttles downstream external
// calls; batches are processed in the order their debounce windows closed.
type Queue struct {
	ch      chan Batch
	limiter *rate.Limiter
	handler func(context.Context, Batch)
	log     zerolog.Logger
}

// NewQueue creates a queue dequeuing at most one batch per delay interval.
func NewQueue(delay time.Duration, buffer int, handler func(context.Context, Batch), log zerolog.Logger) *Queue {
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Queue{
		ch:      make(chan Batch, buffer),
		limiter: rate.NewLimiter(rate.Every(delay), 1),
		handler: handler,
		log:     log,
	}
}

// Enqueue appends a batch. A full queue drops the batch rather than blocking
// the aggregator; the drop is logged.
func (q *Queue) Enqueue(b Batch) {
	select {
	case q.ch <- b:
	default:
		q.log.Warn().Str("author", b.AuthorID).Msg("queue full, batch dropped")
	}
}

// Run consumes batches until ctx is done. Items are not cancellable once
// dequeued; the handler owns its own timeouts.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-q.ch:
			if err := q.limiter.Wait(ctx); err != nil {
				return
			}
			q.handler(ctx, b)
		}
	}
}
