package dlq

import (
	"context"
	"time"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/id"
	"github.com/pressline/conveyor/job"
)

// replayEmitter is the slice of the hook registry the service needs.
type replayEmitter interface {
	EmitJobReplayed(ctx context.Context, entryID id.DLQID, j *job.Job)
}

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
	hooks    replayEmitter
}

// NewService creates a DLQ service.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// SetHooks wires the lifecycle hook emitter (called by the engine
// package). Replays emit JobReplayed.
func (s *Service) SetHooks(h replayEmitter) { s.hooks = h }

// Push builds a DLQ Entry from a dead lettered job and persists it.
// The failure reason and kind come from the job's last recorded error.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error) error {
	now := time.Now().UTC()
	kind := conveyor.KindOf(jobErr)
	entry := &Entry{
		ID:             id.NewDLQID(),
		JobID:          j.ID,
		Queue:          j.Queue,
		Payload:        j.Payload,
		IdempotencyKey: j.IdempotencyKey,
		Reason:         jobErr.Error(),
		Kind:           kind,
		AttemptsMade:   j.AttemptsMade,
		MaxAttempts:    j.MaxAttempts,
		Priority:       j.Priority,
		Timeout:        j.Timeout,
		FailedAt:       now,
		CreatedAt:      now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// Get retrieves a single entry.
func (s *Service) Get(ctx context.Context, entryID id.DLQID) (*Entry, error) {
	return s.store.GetDLQ(ctx, entryID)
}

// Search returns entries matching the given options.
func (s *Service) Search(ctx context.Context, opts SearchOpts) ([]*Entry, error) {
	return s.store.SearchDLQ(ctx, opts)
}

// Count returns the number of entries for a queue, or all queues when
// queue is empty.
func (s *Service) Count(ctx context.Context, queue string) (int64, error) {
	return s.store.CountDLQ(ctx, queue)
}

// Delete removes a single entry. The original dead lettered job is
// left untouched.
func (s *Service) Delete(ctx context.Context, entryID id.DLQID) error {
	return s.store.DeleteDLQ(ctx, entryID)
}

// Purge removes entries on the queue that failed at or before cutoff.
// A zero cutoff means now, i.e. everything currently in the DLQ.
func (s *Service) Purge(ctx context.Context, queue string, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		cutoff = time.Now().UTC()
	}
	return s.store.PurgeDLQ(ctx, queue, cutoff)
}
