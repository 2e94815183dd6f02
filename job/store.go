package job

import (
	"context"
	"time"

	"github.com/pressline/conveyor/id"
)

// ListOpts controls filtering and pagination for job list queries.
type ListOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// State filters by job state. Empty means all states.
	State State
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the persistence contract for jobs and queue metadata.
//
// Implementations own atomicity: LeaseJobs must guarantee that no two
// workers ever hold the same job, whatever the concurrency. All state
// semantics above the single-row level (retry decisions, dead
// lettering, idempotent enqueue) live in the queue service.
type Store interface {
	// CreateJob persists a new job. Returns conveyor.ErrJobAlreadyExists
	// if a job with the same ID exists.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID. Returns conveyor.ErrJobNotFound
	// if no such job exists.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// FindJobByIdempotencyKey returns the job on the queue holding the
	// given idempotency key, ignoring dead lettered and cancelled jobs
	// (those release the key). Returns conveyor.ErrJobNotFound when
	// the key is free.
	FindJobByIdempotencyKey(ctx context.Context, queue, key string) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// LeaseJobs atomically claims up to limit leasable jobs from the
	// given queues and returns them as active. A job is leasable when
	// its state is waiting or delayed, its AvailableAt has elapsed,
	// and its queue is not paused. A non-positive limit means no cap.
	// Claimed jobs get WorkerID, StartedAt, and LeaseExpiresAt =
	// now + leaseFor. Ordering is priority ascending, then
	// AvailableAt, then CreatedAt.
	LeaseJobs(ctx context.Context, queues []string, workerID id.WorkerID, limit int, leaseFor time.Duration) ([]*Job, error)

	// ExtendLease pushes the lease expiry of an active job owned by
	// workerID to the given time. Returns conveyor.ErrLeaseLost if the
	// job is no longer active under that worker.
	ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, until time.Time) error

	// ExpiredLeases returns up to limit active jobs whose lease expiry
	// has passed.
	ExpiredLeases(ctx context.Context, limit int) ([]*Job, error)

	// ListJobs returns jobs matching the given options, newest first.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// CountJobsByState returns per-state counts for one queue, or for
	// all queues combined when queue is empty.
	CountJobsByState(ctx context.Context, queue string) (map[State]int64, error)

	// PurgeJobs deletes jobs on the queue in any of the given states
	// that were created at or before cutoff, and returns the number
	// deleted. The cutoff bounds the purge to the set that existed
	// when it was requested.
	PurgeJobs(ctx context.Context, queue string, states []State, cutoff time.Time) (int64, error)

	// TouchQueue records queue metadata on first use. Idempotent.
	TouchQueue(ctx context.Context, name string) error

	// SetQueuePaused pauses or resumes a queue. Paused queues accept
	// enqueues but never hand out leases.
	SetQueuePaused(ctx context.Context, name string, paused bool) error

	// QueuePaused reports whether the queue is paused.
	QueuePaused(ctx context.Context, name string) (bool, error)

	// ListQueues returns metadata for all known queues.
	ListQueues(ctx context.Context) ([]QueueInfo, error)
}
