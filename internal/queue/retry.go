package queue

import (
	"math"
	"time"
)

// RetryPolicy defines the delay between attempts. The default policy is a
// fixed 60s delay; a backoff factor above 1 turns it exponential with
// clamping.
type RetryPolicy struct {
	Delay         time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay returns the delay for a given attempt (1-based).
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.Delay <= 0 {
		r.Delay = 60 * time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 1
	}

	delay := float64(r.Delay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	d := time.Duration(delay)
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}
