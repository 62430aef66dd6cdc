package domain

import (
	"math"
	"time"
)

// RetryPolicy defines how the scheduler re-enters a failed execution.
type RetryPolicy struct {
	// MaxRetries is the maximum number of re-entries after the first attempt.
	MaxRetries int
	// BackoffBase is the delay before the first retry.
	BackoffBase time.Duration
	// BackoffCap bounds the exponential growth.
	BackoffCap time.Duration
}

// DefaultRetryPolicy mirrors the platform defaults: three retries starting
// at one minute, never waiting longer than thirty minutes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BackoffBase: time.Minute,
		BackoffCap:  30 * time.Minute,
	}
}

// ShouldRetry reports whether a failed attempt gets another run.
func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if attempt >= p.MaxRetries {
		return false
	}
	return Retryable(err)
}

// Delay returns the wait before re-entering attempt n (zero-based):
// base × 2^n, capped.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := p.BackoffBase
	if base <= 0 {
		base = time.Second
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if p.BackoffCap > 0 && d > p.BackoffCap {
		return p.BackoffCap
	}
	return d
}
