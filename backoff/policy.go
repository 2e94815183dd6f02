// Package backoff decides whether a failed job attempt is retried and
// how long it waits before becoming leasable again.
package backoff

import (
	"math/rand/v2"
	"time"

	"github.com/pressline/conveyor"
)

// Strategy maps a retry attempt number to the delay before that retry.
// Attempt 1 is the first retry after the initial failure. Strategies
// must be safe for concurrent use; the closures below are stateless.
type Strategy func(attempt int) time.Duration

// NewConstant waits the same interval before every retry.
func NewConstant(interval time.Duration) Strategy {
	return func(int) time.Duration { return interval }
}

// NewExponential doubles the base delay each attempt, capped at ceil.
// With jitter enabled the delay is drawn uniformly from [0, capped],
// spreading out retries when many jobs fail at once.
func NewExponential(base, ceil time.Duration, jitter bool) Strategy {
	return func(attempt int) time.Duration {
		d := ceil
		if shift := attempt - 1; shift >= 0 && shift < 62 {
			if raw := base << uint(shift); raw > 0 && raw < ceil {
				d = raw
			}
		}
		if jitter && d > 0 {
			d = time.Duration(rand.Int64N(int64(d) + 1)) //nolint:gosec // jitter does not need crypto rand
		}
		return d
	}
}

// DefaultStrategy is exponential full-jitter backoff from 1s up to 1m.
func DefaultStrategy() Strategy {
	return NewExponential(time.Second, time.Minute, true)
}

// Decision is the retry policy's verdict on a failed attempt.
type Decision struct {
	// Retry is true when the job should be rescheduled.
	Retry bool
	// Delay is how long to wait before the job becomes leasable again.
	// Only meaningful when Retry is true.
	Delay time.Duration
}

// Policy decides whether a failed attempt retries and after how long.
// It is a pure function of the attempt counters and the failure kind;
// it never touches the store.
type Policy struct {
	// Strategy computes the retry delay for attempt n.
	Strategy Strategy

	// TimeoutStreakLimit downgrades a job to permanent failure after
	// this many consecutive timed-out attempts, on the theory that the
	// work itself cannot finish inside its deadline. Zero disables the
	// downgrade.
	TimeoutStreakLimit int
}

// DefaultPolicy returns the policy used by the engine unless
// overridden: exponential backoff with full jitter, no timeout
// downgrade.
func DefaultPolicy() *Policy {
	return &Policy{Strategy: DefaultStrategy()}
}

// Decide returns the verdict for a job that just failed its
// attemptsMade-th attempt. Permanent failures and exhausted budgets
// never retry; a timeout streak at or past the limit is treated as
// permanent.
func (p *Policy) Decide(attemptsMade, maxAttempts int, kind conveyor.Kind, timeoutStreak int) Decision {
	if kind == conveyor.KindPermanent {
		return Decision{}
	}
	if attemptsMade >= maxAttempts {
		return Decision{}
	}
	if p.TimeoutStreakLimit > 0 && kind == conveyor.KindTimeout && timeoutStreak >= p.TimeoutStreakLimit {
		return Decision{}
	}

	strategy := p.Strategy
	if strategy == nil {
		strategy = DefaultStrategy()
	}
	return Decision{Retry: true, Delay: strategy(attemptsMade)}
}
