package cron

import (
	"encoding/json"
	"time"

	"github.com/pressline/conveyor/job"
)

// Entry is a recurring enqueue schedule.
type Entry struct {
	// Name uniquely identifies the entry and seeds the per-firing
	// idempotency key.
	Name string `json:"name"`

	// Schedule is a cron expression.
	Schedule string `json:"schedule"`

	// Queue is the target queue.
	Queue string `json:"queue"`

	// Payload is enqueued verbatim on every firing.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Enabled entries fire; disabled ones keep their schedule but
	// are skipped.
	Enabled bool `json:"enabled"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt time.Time  `json:"next_run_at"`

	// opts are applied to every enqueued job, priority and timeout
	// for example. The firing idempotency key is appended after.
	opts []job.Option
}
