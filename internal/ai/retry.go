package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/lunabot/luna/internal/metrics"
)

// Retry policy for every external collaborator call: 3 attempts with a 10s
// timeout each. After exhaustion the caller falls back to its safe default;
// the error never propagates into the pipeline.
const (
	RetryAttempts  = 3
	AttemptTimeout = 10 * time.Second
)

// withRetry runs fn up to RetryAttempts times, each under AttemptTimeout.
// service labels the retry metric.
func withRetry(ctx context.Context, service string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < RetryAttempts; attempt++ {
		if attempt > 0 {
			metrics.CollaboratorRetries.WithLabelValues(service).Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, AttemptTimeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("%s: retries exhausted: %w", service, lastErr)
}
