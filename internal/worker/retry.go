package worker

import (
	"context"
	"time"
)

// RetryPolicy bounds how often a transiently failing settlement job is
// retried. Waits grow linearly from Start by Step and are capped at Max.
type RetryPolicy struct {
	MaxRetries int
	Start      time.Duration
	Step       time.Duration
	Max        time.Duration
}

// DefaultRetryPolicy waits 3s, 4s, 5s before the three retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Start:      3 * time.Second,
		Step:       time.Second,
		Max:        6 * time.Second,
	}
}

// Backoff returns the wait before the given retry (1-based).
func (p RetryPolicy) Backoff(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := p.Start + time.Duration(retry-1)*p.Step
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// Exhausted reports whether a job that has run attempts times may not run again.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts > p.MaxRetries
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
