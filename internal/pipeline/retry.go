package pipeline

import (
	"context"
	"time"
)

// backoff yields exponentially growing waits, capped at limit.
type backoff struct {
	initial time.Duration
	limit   time.Duration
}

// delay returns the wait before retry number attempt (1-based).
func (b backoff) delay(attempt int) time.Duration {
	wait := b.initial
	for i := 1; i < attempt && wait < b.limit; i++ {
		wait *= 2
	}

	return min(wait, b.limit)
}

// sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
