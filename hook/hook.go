// Package hook defines the lifecycle hook system for Conveyor.
// Hooks are notified of lifecycle events (job enqueued, completed,
// dead lettered, etc.) and can react to them. The stats aggregator and
// the live stream broker are both hook implementations.
//
// Each lifecycle event is a separate interface so hooks opt in only to
// the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/pressline/conveyor/id"
	"github.com/pressline/conveyor/job"
)

// Hook is the base interface all hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker leases a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called after any failed attempt, whether or not the job
// will retry.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobDelayed is called when a failed job is scheduled for a retry.
type JobDelayed interface {
	OnJobDelayed(ctx context.Context, j *job.Job, attempt int, nextAt time.Time) error
}

// JobDeadLettered is called when a job is moved to the dead letter queue.
type JobDeadLettered interface {
	OnJobDeadLettered(ctx context.Context, j *job.Job, err error) error
}

// JobReplayed is called when a DLQ entry is replayed as a new job.
type JobReplayed interface {
	OnJobReplayed(ctx context.Context, entryID id.DLQID, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Queue lifecycle hooks
// ──────────────────────────────────────────────────

// QueuePaused is called when a queue is paused.
type QueuePaused interface {
	OnQueuePaused(ctx context.Context, queue string) error
}

// QueueResumed is called when a paused queue is resumed.
type QueueResumed interface {
	OnQueueResumed(ctx context.Context, queue string) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
