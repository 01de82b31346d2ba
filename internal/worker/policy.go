package worker

import "time"

// RetryPolicy controls how failed call attempts are retried.
//
// Delays grow exponentially from BaseDelay, doubling per attempt, capped at
// MaxDelay. With the defaults (5m base, 30m cap, 3 attempts) a patient whose
// phone is busy gets called back at +5m and +10m before the item fails.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Minute,
		MaxDelay:    30 * time.Minute,
	}
}

// NextDelay returns the backoff before the next attempt, given the 1-based
// number of the attempt that just failed.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether the given 1-based attempt was the last allowed.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
