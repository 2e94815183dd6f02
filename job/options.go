package job

import "time"

// Options configures per-job behavior at enqueue time.
type Options struct {
	// MaxAttempts is the total attempt budget before the job is
	// dead lettered. Zero means use the coordinator default.
	MaxAttempts int

	// Priority determines lease ordering. Lower values are processed
	// first; ties break FIFO.
	Priority int

	// Timeout is the maximum duration a single attempt may run.
	// Zero means use the coordinator default.
	Timeout time.Duration

	// Delay postpones the first lease opportunity. The job starts out
	// delayed and becomes leasable after the delay elapses.
	Delay time.Duration

	// IdempotencyKey deduplicates enqueues. If a non-dead-lettered job
	// with the same key exists on the queue, Enqueue returns it
	// instead of creating a duplicate.
	IdempotencyKey string
}

// Option is a functional option for configuring an enqueue.
type Option func(*Options)

// WithMaxAttempts sets the total attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithPriority sets the job priority. Lower values are processed first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithTimeout sets the per-attempt execution deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithDelay postpones the first lease opportunity.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.Delay = d
	}
}

// WithIdempotencyKey makes the enqueue idempotent per queue.
func WithIdempotencyKey(key string) Option {
	return func(o *Options) {
		o.IdempotencyKey = key
	}
}
