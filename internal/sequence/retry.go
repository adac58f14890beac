package sequence

import (
	"time"

	"github.com/mxrc/control-core/internal/coreerr"
)

// RetryPolicy configures exponential backoff for a sequence's steps (spec
// §4.D): max attempts, base delay, max delay, and multiplier. On a step
// failure the engine waits base * multiplier^(attempt-1), capped at max,
// before retrying.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy is the reasonable-default fallback: single attempt,
// no backoff, used when a sequence defines no retry policy of its own.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 1,
	BaseDelay:   0,
	MaxDelay:    0,
	Multiplier:  1,
}

// Validate reports whether the policy's parameters are usable.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return coreerr.ErrInvalidRetryPolicy
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return coreerr.ErrInvalidRetryPolicy
	}
	if p.Multiplier < 1 {
		return coreerr.ErrInvalidRetryPolicy
	}
	return nil
}

// DelayForAttempt returns the backoff delay before the given attempt
// number (1-indexed: the delay before retrying after attempt 1 failed).
func (p RetryPolicy) DelayForAttempt(attempt int) time.Duration {
	if attempt <= 0 || p.BaseDelay <= 0 {
		return 0
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}
