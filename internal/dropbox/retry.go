package dropbox

import (
	"context"
	"math/rand/v2"
	"time"
)

// retryPolicy bounds how often and how long a call backs off.
type retryPolicy struct {
	retries int // repeats after the first try
	base    time.Duration
	ceiling time.Duration
}

var defaultRetry = retryPolicy{
	retries: 5,
	base:    time.Second,
	ceiling: time.Minute,
}

// wait returns the pause before repeat n (0-based). A Retry-After from
// Dropbox wins; otherwise the base doubles per repeat up to the ceiling and
// a random half of it is kept so concurrent runs spread out.
func (p retryPolicy) wait(n int, apiErr *APIError) time.Duration {
	if apiErr != nil && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter
	}

	d := p.ceiling
	if n < 32 {
		if step := p.base << n; step > 0 && step < p.ceiling {
			d = step
		}
	}

	half := d / 2

	return half + rand.N(half+1) //nolint:gosec // spread, not secrecy
}

// sleepContext pauses for d unless ctx ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
