package workflow

import (
	"math"
	"math/rand"
	"time"

	"github.com/JuanCS-Dev/stepflow/types"
)

// RetryPolicy computes backoff delays and retry decisions for failed steps.
// The zero value is not usable; construct with DefaultRetryPolicy and adjust.
type RetryPolicy struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay"`
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`
	// ExponentialBase is the growth factor per attempt.
	ExponentialBase float64 `json:"exponential_base" yaml:"exponential_base"`
	// Jitter widens the delay by a uniform random amount in [0, 0.25*delay].
	// Jitter only ever adds, so concurrent callers spread out without any
	// retry firing earlier than the computed backoff.
	Jitter bool `json:"jitter" yaml:"jitter"`

	// rand returns a uniform float64 in [0, 1). Injectable for tests.
	rand func() float64
}

// DefaultRetryPolicy returns the engine defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}
}

// retryableCategories is a deliberate allow-list: unknown categories default
// to non-retryable so real bugs are not masked behind endless retries.
var retryableCategories = map[types.FailureCategory]bool{
	types.CategoryTransient: true,
}

// DelayFor returns the wait before retrying the given attempt (1-based):
// min(base * expBase^(attempt-1), max), plus jitter when enabled.
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(p.BaseDelay) * math.Pow(p.ExponentialBase, float64(attempt-1))
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && base > max {
		base = max
	}
	delay := time.Duration(base)
	if p.Jitter {
		delay += time.Duration(p.randFloat() * 0.25 * base)
	}
	return delay
}

// ShouldRetry reports whether another attempt is allowed. It is false once
// attempt >= maxAttempts regardless of category, and false for every
// category outside the transient allow-list.
func (p RetryPolicy) ShouldRetry(attempt, maxAttempts int, category types.FailureCategory) bool {
	if attempt >= maxAttempts {
		return false
	}
	return retryableCategories[category]
}

func (p RetryPolicy) randFloat() float64 {
	if p.rand != nil {
		return p.rand()
	}
	return rand.Float64()
}
