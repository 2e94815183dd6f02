package dlq

import (
	"time"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/id"
)

// Entry represents a job that was dead lettered, either because its
// attempt budget ran out or because it failed permanently. Entries are
// kept for inspection and replay.
type Entry struct {
	ID             id.DLQID      `json:"id"`
	JobID          id.JobID      `json:"job_id"`
	Queue          string        `json:"queue"`
	Payload        []byte        `json:"payload"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	Reason         string        `json:"reason"`
	Kind           conveyor.Kind `json:"kind"`
	AttemptsMade   int           `json:"attempts_made"`
	MaxAttempts    int           `json:"max_attempts"`
	Priority       int           `json:"priority"`
	Timeout        time.Duration `json:"timeout,omitempty"`
	FailedAt       time.Time     `json:"failed_at"`
	ReplayedAt     *time.Time    `json:"replayed_at,omitempty"`
	ReplayedAs     id.JobID      `json:"replayed_as,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}
