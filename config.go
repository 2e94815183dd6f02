package conveyor

import "time"

// Config holds configuration for the Coordinator.
type Config struct {
	// Concurrency is the maximum number of jobs processed concurrently.
	Concurrency int

	// Queues is the list of queues this coordinator will poll.
	Queues []string

	// PollInterval is how often idle workers poll for new jobs.
	PollInterval time.Duration

	// MaxPollInterval caps the idle poll backoff.
	MaxPollInterval time.Duration

	// LeaseDuration is the visibility timeout granted on lease. A job
	// whose lease expires without an ack, nack, or heartbeat is
	// reclaimed by the reaper.
	LeaseDuration time.Duration

	// HeartbeatInterval is how often the pool extends leases of jobs
	// it is still executing.
	HeartbeatInterval time.Duration

	// ReapInterval is how often the reaper scans for expired leases.
	ReapInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// DefaultMaxAttempts is the attempt cap for jobs enqueued without
	// an explicit limit.
	DefaultMaxAttempts int

	// DefaultJobTimeout is the per-attempt deadline for jobs enqueued
	// without an explicit timeout. Zero means no deadline.
	DefaultJobTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		Queues:             []string{"default"},
		PollInterval:       250 * time.Millisecond,
		MaxPollInterval:    5 * time.Second,
		LeaseDuration:      30 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		ReapInterval:       15 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		DefaultMaxAttempts: 3,
		DefaultJobTimeout:  time.Minute,
	}
}
