package ardop

import (
	"context"
	"time"
)

// BackoffWaiter spaces out repeated attempts to reach the TNC. The wait starts
// at initial, jumps to min after the first wait and then doubles up to max.
type BackoffWaiter struct {
	currentBackoff time.Duration
	minBackoff     time.Duration
	maxBackoff     time.Duration
}

// NewBackoffWaiter creates a waiter with the given bounds.
func NewBackoffWaiter(initial, min, max time.Duration) *BackoffWaiter {
	return &BackoffWaiter{
		currentBackoff: initial,
		minBackoff:     min,
		maxBackoff:     max,
	}
}

// Current returns the duration the next Wait will block for.
func (b *BackoffWaiter) Current() time.Duration {
	return b.currentBackoff
}

// Wait blocks for the current backoff or until ctx is done, then grows the
// backoff.
func (b *BackoffWaiter) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.currentBackoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	b.grow()

	return nil
}

func (b *BackoffWaiter) grow() {
	switch {
	case b.currentBackoff < b.minBackoff:
		b.currentBackoff = b.minBackoff

	case b.currentBackoff < b.maxBackoff:
		b.currentBackoff = b.currentBackoff * 2
		if b.currentBackoff > b.maxBackoff {
			b.currentBackoff = b.maxBackoff
		}
	}
}
