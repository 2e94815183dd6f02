package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pressline/conveyor"
	conveyorDLQ "github.com/pressline/conveyor/dlq"
	"github.com/pressline/conveyor/id"
	"github.com/pressline/conveyor/job"
	"github.com/pressline/conveyor/store/memory"
)

func newDeadJob(queue string, payload []byte) *job.Job {
	now := time.Now().UTC()
	return &job.Job{
		ID:           id.NewJobID(),
		Queue:        queue,
		Payload:      payload,
		State:        job.StateDeadLettered,
		MaxAttempts:  3,
		AttemptsMade: 3,
		Timeout:      time.Minute,
		AvailableAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestService_Push_BuildsEntryFromJob(t *testing.T) {
	s := memory.New()
	svc := conveyorDLQ.NewService(s, s)
	ctx := context.Background()

	j := newDeadJob("emails", []byte(`{"to":"alice@example.com"}`))
	j.IdempotencyKey = "send-42"

	if err := svc.Push(ctx, j, errors.New("smtp timeout")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := svc.Search(ctx, conveyorDLQ.SearchOpts{Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.JobID != j.ID {
		t.Errorf("JobID = %v, want %v", entry.JobID, j.ID)
	}
	if entry.Queue != "emails" {
		t.Errorf("Queue = %q, want %q", entry.Queue, "emails")
	}
	if string(entry.Payload) != `{"to":"alice@example.com"}` {
		t.Errorf("Payload = %q", entry.Payload)
	}
	if entry.Reason != "smtp timeout" {
		t.Errorf("Reason = %q, want %q", entry.Reason, "smtp timeout")
	}
	if entry.Kind != conveyor.KindTransient {
		t.Errorf("Kind = %q, want %q", entry.Kind, conveyor.KindTransient)
	}
	if entry.AttemptsMade != 3 {
		t.Errorf("AttemptsMade = %d, want 3", entry.AttemptsMade)
	}
	if entry.IdempotencyKey != "send-42" {
		t.Errorf("IdempotencyKey = %q, want %q", entry.IdempotencyKey, "send-42")
	}
	if entry.FailedAt.IsZero() {
		t.Error("expected FailedAt to be set")
	}
}

func TestService_Push_PermanentKindRecorded(t *testing.T) {
	s := memory.New()
	svc := conveyorDLQ.NewService(s, s)
	ctx := context.Background()

	j := newDeadJob("webhooks", nil)
	if err := svc.Push(ctx, j, conveyor.Permanent(errors.New("410 gone"))); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, _ := svc.Search(ctx, conveyorDLQ.SearchOpts{Limit: 1})
	if entries[0].Kind != conveyor.KindPermanent {
		t.Errorf("Kind = %q, want %q", entries[0].Kind, conveyor.KindPermanent)
	}
}

func TestService_Replay_CreatesNewWaitingJob(t *testing.T) {
	s := memory.New()
	svc := conveyorDLQ.NewService(s, s)
	ctx := context.Background()

	original := newDeadJob("emails", []byte(`{"key":"value"}`))
	original.Priority = 9
	if err := svc.Push(ctx, original, errors.New("original error")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, _ := svc.Search(ctx, conveyorDLQ.SearchOpts{Limit: 1})
	entryID := entries[0].ID

	replayed, err := svc.Replay(ctx, entryID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if replayed.ID == original.ID {
		t.Error("replayed job should have a new ID")
	}
	if replayed.State != job.StateWaiting {
		t.Errorf("State = %q, want %q", replayed.State, job.StateWaiting)
	}
	if replayed.AttemptsMade != 0 {
		t.Errorf("AttemptsMade = %d, want 0", replayed.AttemptsMade)
	}
	if replayed.ReplayOf != original.ID {
		t.Errorf("ReplayOf = %v, want %v", replayed.ReplayOf, original.ID)
	}
	if replayed.Priority != 0 {
		t.Errorf("Priority = %d, want default 0 (back of the line)", replayed.Priority)
	}
	if string(replayed.Payload) != `{"key":"value"}` {
		t.Errorf("Payload = %q", replayed.Payload)
	}

	// Verify the job exists in the job store.
	got, err := s.GetJob(ctx, replayed.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateWaiting {
		t.Errorf("stored job State = %q, want %q", got.State, job.StateWaiting)
	}
}

func TestService_Replay_RecordsAuditTrail(t *testing.T) {
	s := memory.New()
	svc := conveyorDLQ.NewService(s, s)
	ctx := context.Background()

	j := newDeadJob("emails", nil)
	if err := svc.Push(ctx, j, errors.New("fail")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, _ := svc.Search(ctx, conveyorDLQ.SearchOpts{Limit: 1})
	entryID := entries[0].ID

	replayed, err := svc.Replay(ctx, entryID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	entry, err := svc.Get(ctx, entryID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.ReplayedAt == nil {
		t.Error("expected ReplayedAt to be set after replay")
	}
	if entry.ReplayedAs != replayed.ID {
		t.Errorf("ReplayedAs = %v, want %v", entry.ReplayedAs, replayed.ID)
	}

	// The original dead lettered job is untouched.
	orig, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob(original): %v", err)
	}
	if orig.State != job.StateDeadLettered {
		t.Errorf("original State = %q, want %q", orig.State, job.StateDeadLettered)
	}
}

func TestService_Replay_SecondReplayRejected(t *testing.T) {
	s := memory.New()
	svc := conveyorDLQ.NewService(s, s)
	ctx := context.Background()

	if err := svc.Push(ctx, newDeadJob("emails", nil), errors.New("fail")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	entries, _ := svc.Search(ctx, conveyorDLQ.SearchOpts{Limit: 1})
	entryID := entries[0].ID

	if _, err := svc.Replay(ctx, entryID); err != nil {
		t.Fatalf("first Replay: %v", err)
	}
	if _, err := svc.Replay(ctx, entryID); !errors.Is(err, conveyor.ErrAlreadyReplayed) {
		t.Errorf("second Replay error = %v, want ErrAlreadyReplayed", err)
	}
}

func TestService_Replay_NotFoundReturnsError(t *testing.T) {
	s := memory.New()
	svc := conveyorDLQ.NewService(s, s)

	_, err := svc.Replay(context.Background(), id.NewDLQID())
	if !errors.Is(err, conveyor.ErrDLQNotFound) {
		t.Fatalf("expected ErrDLQNotFound, got %v", err)
	}
}

func TestService_ReplayBatch_ReportsPerEntryOutcomes(t *testing.T) {
	s := memory.New()
	svc := conveyorDLQ.NewService(s, s)
	ctx := context.Background()

	for range 3 {
		if err := svc.Push(ctx, newDeadJob("emails", nil), errors.New("fail")); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	entries, _ := svc.Search(ctx, conveyorDLQ.SearchOpts{})

	ids := []id.DLQID{entries[0].ID, entries[1].ID, id.NewDLQID()}
	result, err := svc.ReplayBatch(ctx, ids)
	if err != nil {
		t.Fatalf("ReplayBatch: %v", err)
	}

	if len(result.Replayed) != 2 {
		t.Errorf("Replayed = %d, want 2", len(result.Replayed))
	}
	if len(result.Failed) != 1 {
		t.Errorf("Failed = %d, want 1", len(result.Failed))
	}
	if failErr, ok := result.Failed[ids[2]]; !ok || !errors.Is(failErr, conveyor.ErrDLQNotFound) {
		t.Errorf("expected ErrDLQNotFound for unknown entry, got %v", result.Failed)
	}
}

func TestService_SearchByQuery(t *testing.T) {
	s := memory.New()
	svc := conveyorDLQ.NewService(s, s)
	ctx := context.Background()

	a := newDeadJob("emails", nil)
	a.IdempotencyKey = "invoice-7781"
	if err := svc.Push(ctx, a, errors.New("smtp timeout")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	b := newDeadJob("webhooks", nil)
	if err := svc.Push(ctx, b, errors.New("endpoint returned 500")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	tests := []struct {
		name string
		opts conveyorDLQ.SearchOpts
		want int
	}{
		{"by queue", conveyorDLQ.SearchOpts{Queue: "webhooks"}, 1},
		{"by reason substring", conveyorDLQ.SearchOpts{Query: "smtp"}, 1},
		{"by idempotency key", conveyorDLQ.SearchOpts{Query: "invoice-7781"}, 1},
		{"by job id", conveyorDLQ.SearchOpts{Query: b.ID.String()}, 1},
		{"no match", conveyorDLQ.SearchOpts{Query: "nope"}, 0},
		{"all", conveyorDLQ.SearchOpts{}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Search(ctx, tt.opts)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("Search returned %d entries, want %d", len(got), tt.want)
			}
		})
	}
}

func TestService_DeleteAndPurge(t *testing.T) {
	s := memory.New()
	svc := conveyorDLQ.NewService(s, s)
	ctx := context.Background()

	for range 3 {
		if err := svc.Push(ctx, newDeadJob("emails", nil), errors.New("fail")); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	entries, _ := svc.Search(ctx, conveyorDLQ.SearchOpts{})
	if err := svc.Delete(ctx, entries[0].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	count, err := svc.Count(ctx, "emails")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("Count = %d, want 2", count)
	}

	purged, err := svc.Purge(ctx, "emails", time.Time{})
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if purged != 2 {
		t.Errorf("Purge = %d, want 2", purged)
	}

	count, _ = svc.Count(ctx, "")
	if count != 0 {
		t.Errorf("Count after purge = %d, want 0", count)
	}
}
