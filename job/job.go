package job

import (
	"time"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job is leasable as soon as AvailableAt elapses.
	StateWaiting State = "waiting"
	// StateActive means a worker holds a lease and is executing the job.
	StateActive State = "active"
	// StateCompleted means the job finished successfully. Terminal.
	StateCompleted State = "completed"
	// StateFailed means the job was cancelled by an operator. It can be
	// re-enqueued with Retry. Terminal until then.
	StateFailed State = "failed"
	// StateDelayed means the job is waiting out a backoff or an enqueue
	// delay. Leasable once AvailableAt elapses.
	StateDelayed State = "delayed"
	// StateDeadLettered means retries are exhausted or the failure was
	// permanent. Terminal; recovery goes through DLQ replay.
	StateDeadLettered State = "dead_lettered"
)

// Terminal reports whether s is a resting state that workers never
// pick up again.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateDeadLettered:
		return true
	default:
		return false
	}
}

// Leasable reports whether a job in this state may be handed to a
// worker once its AvailableAt has elapsed.
func (s State) Leasable() bool {
	return s == StateWaiting || s == StateDelayed
}

// FailureInfo records the most recent failure of a job.
type FailureInfo struct {
	Message string        `json:"message"`
	Kind    conveyor.Kind `json:"kind"`
	At      time.Time     `json:"at"`
}

// Job represents a unit of work owned by a queue.
//
// Priority ordering: lower values lease first; ties break FIFO on
// AvailableAt then CreatedAt.
type Job struct {
	ID             id.JobID      `json:"id"`
	Queue          string        `json:"queue"`
	Payload        []byte        `json:"payload"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	State          State         `json:"state"`
	Priority       int           `json:"priority"`
	MaxAttempts    int           `json:"max_attempts"`
	AttemptsMade   int           `json:"attempts_made"`
	TimeoutStreak  int           `json:"timeout_streak,omitempty"`
	LastError      *FailureInfo  `json:"last_error,omitempty"`
	ReturnValue    []byte        `json:"return_value,omitempty"`
	ReplayOf       id.JobID      `json:"replay_of,omitempty"`
	WorkerID       id.WorkerID   `json:"worker_id,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`
	AvailableAt    time.Time     `json:"available_at"`
	LeaseExpiresAt *time.Time    `json:"lease_expires_at,omitempty"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	FinishedAt     *time.Time    `json:"finished_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// QueueInfo is queue-level metadata tracked by the store. Queues come
// into existence on first enqueue.
type QueueInfo struct {
	Name      string    `json:"name"`
	Paused    bool      `json:"paused"`
	CreatedAt time.Time `json:"created_at"`
}
