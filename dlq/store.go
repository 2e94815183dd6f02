package dlq

import (
	"context"
	"time"

	"github.com/pressline/conveyor/id"
)

// SearchOpts controls filtering and pagination for DLQ searches.
type SearchOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// Query is a case-insensitive substring matched against the job
	// ID, the idempotency key, and the failure reason. Empty matches
	// everything.
	Query string
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
}

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// PushDLQ adds a dead lettered job entry.
	PushDLQ(ctx context.Context, entry *Entry) error

	// GetDLQ retrieves an entry by ID. Returns conveyor.ErrDLQNotFound
	// if no such entry exists.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// SearchDLQ returns entries matching the given options, newest
	// failures first.
	SearchDLQ(ctx context.Context, opts SearchOpts) ([]*Entry, error)

	// MarkReplayed records that the entry was replayed as newJobID at
	// the given time. The entry itself stays put as the audit trail.
	MarkReplayed(ctx context.Context, entryID id.DLQID, newJobID id.JobID, at time.Time) error

	// DeleteDLQ removes a single entry.
	DeleteDLQ(ctx context.Context, entryID id.DLQID) error

	// PurgeDLQ removes entries on the queue (all queues when empty)
	// that failed at or before cutoff, and returns the number removed.
	PurgeDLQ(ctx context.Context, queue string, cutoff time.Time) (int64, error)

	// CountDLQ returns the number of entries on the queue, or across
	// all queues when queue is empty.
	CountDLQ(ctx context.Context, queue string) (int64, error)
}
