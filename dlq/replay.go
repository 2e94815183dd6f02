package dlq

import (
	"context"
	"time"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/id"
	"github.com/pressline/conveyor/job"
)

// Replay re-enqueues a DLQ entry as a new waiting job and records the
// link on the entry. The new job gets a fresh ID, a zero attempt
// counter, default priority, and is leasable immediately; ReplayOf
// points back at the original job so the audit trail survives. The
// entry itself is never deleted by a replay.
//
// Replaying an entry twice returns conveyor.ErrAlreadyReplayed.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.ReplayedAt != nil {
		return nil, conveyor.ErrAlreadyReplayed
	}

	now := time.Now().UTC()
	j := &job.Job{
		ID:          id.NewJobID(),
		Queue:       entry.Queue,
		Payload:     entry.Payload,
		State:       job.StateWaiting,
		MaxAttempts: entry.MaxAttempts,
		Timeout:     entry.Timeout,
		ReplayOf:    entry.JobID,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.jobStore.CreateJob(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.MarkReplayed(ctx, entryID, j.ID, now); err != nil {
		// The job is already enqueued. Surface the bookkeeping error
		// alongside the job.
		return j, err
	}

	if s.hooks != nil {
		s.hooks.EmitJobReplayed(ctx, entryID, j)
	}

	return j, nil
}

// BatchResult reports the outcome of a batch replay.
type BatchResult struct {
	// Replayed maps entry IDs to the jobs created for them.
	Replayed map[id.DLQID]*job.Job
	// Failed maps entry IDs to the reason their replay was skipped.
	Failed map[id.DLQID]error
}

// ReplayBatch replays each entry independently. One bad entry never
// aborts the rest; per-entry outcomes are reported in the result.
func (s *Service) ReplayBatch(ctx context.Context, entryIDs []id.DLQID) (*BatchResult, error) {
	result := &BatchResult{
		Replayed: make(map[id.DLQID]*job.Job),
		Failed:   make(map[id.DLQID]error),
	}

	for _, entryID := range entryIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		j, err := s.Replay(ctx, entryID)
		if err != nil {
			result.Failed[entryID] = err
			continue
		}
		result.Replayed[entryID] = j
	}

	return result, nil
}
