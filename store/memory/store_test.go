package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/dlq"
	"github.com/pressline/conveyor/id"
	"github.com/pressline/conveyor/job"
	"github.com/pressline/conveyor/store/memory"
)

func newJob(queue string, opts ...func(*job.Job)) *job.Job {
	now := time.Now().UTC()
	j := &job.Job{
		ID:          id.NewJobID(),
		Queue:       queue,
		Payload:     []byte(`{}`),
		State:       job.StateWaiting,
		MaxAttempts: 3,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func TestJobRoundtrip(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newJob("emails")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.CreateJob(ctx, j); !errors.Is(err, conveyor.ErrJobAlreadyExists) {
		t.Fatalf("duplicate create: want ErrJobAlreadyExists, got %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Queue != "emails" || got.State != job.StateWaiting {
		t.Fatalf("unexpected job: %+v", got)
	}

	// Returned copies must not alias store state.
	got.State = job.StateCompleted
	again, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if again.State != job.StateWaiting {
		t.Fatal("mutating a returned job leaked into the store")
	}

	got.State = job.StateCompleted
	if err := s.UpdateJob(ctx, got); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	updated, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if updated.State != job.StateCompleted {
		t.Fatalf("state = %s after update", updated.State)
	}

	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Fatalf("want ErrJobNotFound, got %v", err)
	}
	if err := s.DeleteJob(ctx, j.ID); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Fatalf("double delete: want ErrJobNotFound, got %v", err)
	}
}

func TestIdempotencyKeyLookup(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newJob("renders", func(j *job.Job) { j.IdempotencyKey = "render:doc:7" })
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	found, err := s.FindJobByIdempotencyKey(ctx, "renders", "render:doc:7")
	if err != nil {
		t.Fatalf("FindJobByIdempotencyKey: %v", err)
	}
	if found.ID != j.ID {
		t.Fatalf("found wrong job: %s", found.ID)
	}

	// The key is scoped per queue.
	if _, err := s.FindJobByIdempotencyKey(ctx, "emails", "render:doc:7"); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Fatalf("cross-queue lookup: want ErrJobNotFound, got %v", err)
	}

	// Dead lettered jobs release their key.
	j.State = job.StateDeadLettered
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	if _, err := s.FindJobByIdempotencyKey(ctx, "renders", "render:doc:7"); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Fatalf("dead lettered key: want ErrJobNotFound, got %v", err)
	}
}

func TestLeaseOrdering(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	workerID := id.NewWorkerID()

	low := newJob("emails", func(j *job.Job) { j.Priority = 5 })
	high := newJob("emails", func(j *job.Job) { j.Priority = 1 })
	// A delayed job that is already due leases before later arrivals
	// at the same priority.
	due := newJob("emails", func(j *job.Job) {
		j.State = job.StateDelayed
		j.Priority = 1
		j.AvailableAt = time.Now().UTC().Add(-time.Minute)
	})
	for _, j := range []*job.Job{low, high, due} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	leased, err := s.LeaseJobs(ctx, []string{"emails"}, workerID, 2, 30*time.Second)
	if err != nil {
		t.Fatalf("LeaseJobs: %v", err)
	}
	if len(leased) != 2 {
		t.Fatalf("leased %d jobs, want 2", len(leased))
	}
	if leased[0].ID != due.ID {
		t.Fatalf("first lease = %s, want the due delayed job %s", leased[0].ID, due.ID)
	}
	if leased[1].ID != high.ID {
		t.Fatalf("second lease = %s, want the high priority job %s", leased[1].ID, high.ID)
	}
	for _, l := range leased {
		if l.State != job.StateActive || l.WorkerID != workerID || l.LeaseExpiresAt == nil {
			t.Fatalf("lease fields not set: %+v", l)
		}
	}

	// The remaining job comes on the next lease; leased ones are gone.
	rest, err := s.LeaseJobs(ctx, []string{"emails"}, workerID, 10, 30*time.Second)
	if err != nil {
		t.Fatalf("LeaseJobs: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != low.ID {
		t.Fatalf("second lease batch: %+v", rest)
	}
}

func TestLeaseUnboundedLimit(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	for range 5 {
		if err := s.CreateJob(ctx, newJob("emails")); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	// A non-positive limit claims everything leasable.
	leased, err := s.LeaseJobs(ctx, []string{"emails"}, id.NewWorkerID(), 0, 30*time.Second)
	if err != nil {
		t.Fatalf("LeaseJobs: %v", err)
	}
	if len(leased) != 5 {
		t.Fatalf("leased %d jobs with limit 0, want all 5", len(leased))
	}
}

func TestLeaseSkipsPausedAndFuture(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	future := newJob("emails", func(j *job.Job) {
		j.State = job.StateDelayed
		j.AvailableAt = time.Now().UTC().Add(time.Hour)
	})
	paused := newJob("billing")
	for _, j := range []*job.Job{future, paused} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}
	if err := s.SetQueuePaused(ctx, "billing", true); err != nil {
		t.Fatalf("SetQueuePaused: %v", err)
	}

	leased, err := s.LeaseJobs(ctx, nil, id.NewWorkerID(), 10, 30*time.Second)
	if err != nil {
		t.Fatalf("LeaseJobs: %v", err)
	}
	if len(leased) != 0 {
		t.Fatalf("leased %d jobs from paused/future set", len(leased))
	}

	if err := s.SetQueuePaused(ctx, "billing", false); err != nil {
		t.Fatalf("SetQueuePaused: %v", err)
	}
	leased, err = s.LeaseJobs(ctx, nil, id.NewWorkerID(), 10, 30*time.Second)
	if err != nil {
		t.Fatalf("LeaseJobs: %v", err)
	}
	if len(leased) != 1 || leased[0].ID != paused.ID {
		t.Fatalf("after resume: %+v", leased)
	}
}

func TestExtendLease(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	workerID := id.NewWorkerID()

	j := newJob("emails")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	leased, err := s.LeaseJobs(ctx, []string{"emails"}, workerID, 1, 30*time.Second)
	if err != nil || len(leased) != 1 {
		t.Fatalf("LeaseJobs: %v (%d leased)", err, len(leased))
	}

	until := time.Now().UTC().Add(5 * time.Minute)
	if err := s.ExtendLease(ctx, j.ID, workerID, until); err != nil {
		t.Fatalf("ExtendLease: %v", err)
	}
	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.LeaseExpiresAt == nil || !got.LeaseExpiresAt.Equal(until) {
		t.Fatalf("lease not extended: %v", got.LeaseExpiresAt)
	}

	// A different worker cannot extend the lease.
	if err := s.ExtendLease(ctx, j.ID, id.NewWorkerID(), until); !errors.Is(err, conveyor.ErrLeaseLost) {
		t.Fatalf("want ErrLeaseLost, got %v", err)
	}
	if err := s.ExtendLease(ctx, id.NewJobID(), workerID, until); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Fatalf("want ErrJobNotFound, got %v", err)
	}
}

func TestExpiredLeases(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newJob("emails")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := s.LeaseJobs(ctx, []string{"emails"}, id.NewWorkerID(), 1, -time.Second); err != nil {
		t.Fatalf("LeaseJobs: %v", err)
	}

	expired, err := s.ExpiredLeases(ctx, 10)
	if err != nil {
		t.Fatalf("ExpiredLeases: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != j.ID {
		t.Fatalf("expired = %+v", expired)
	}
}

func TestListAndCount(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		offset := time.Duration(i) * time.Second
		j := newJob("emails", func(j *job.Job) { j.CreatedAt = base.Add(offset) })
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}
	done := newJob("billing", func(j *job.Job) { j.State = job.StateCompleted })
	if err := s.CreateJob(ctx, done); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	jobs, err := s.ListJobs(ctx, job.ListOpts{Queue: "emails"})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("listed %d jobs, want 3", len(jobs))
	}
	for i := 1; i < len(jobs); i++ {
		if jobs[i].CreatedAt.After(jobs[i-1].CreatedAt) {
			t.Fatal("jobs not sorted newest first")
		}
	}

	jobs, err = s.ListJobs(ctx, job.ListOpts{Queue: "emails", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListJobs paged: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("paged list returned %d jobs", len(jobs))
	}

	count, err := s.CountJobs(ctx, job.CountOpts{State: job.StateCompleted})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	byState, err := s.CountJobsByState(ctx, "emails")
	if err != nil {
		t.Fatalf("CountJobsByState: %v", err)
	}
	if byState[job.StateWaiting] != 3 {
		t.Fatalf("waiting count = %d, want 3", byState[job.StateWaiting])
	}
}

func TestPurgeJobsHonorsCutoff(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	old := newJob("emails", func(j *job.Job) {
		j.State = job.StateCompleted
		j.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	})
	fresh := newJob("emails", func(j *job.Job) { j.State = job.StateCompleted })
	waiting := newJob("emails")
	for _, j := range []*job.Job{old, fresh, waiting} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	n, err := s.PurgeJobs(ctx, "emails", []job.State{job.StateCompleted},
		time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeJobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d jobs, want 1", n)
	}
	if _, err := s.GetJob(ctx, old.ID); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Fatal("old completed job should be gone")
	}
	if _, err := s.GetJob(ctx, fresh.ID); err != nil {
		t.Fatal("fresh completed job should remain")
	}
	if _, err := s.GetJob(ctx, waiting.ID); err != nil {
		t.Fatal("waiting job should remain")
	}
}

func TestQueueMetadata(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if err := s.TouchQueue(ctx, "emails"); err != nil {
		t.Fatalf("TouchQueue: %v", err)
	}
	if err := s.TouchQueue(ctx, "emails"); err != nil {
		t.Fatalf("TouchQueue again: %v", err)
	}
	if err := s.TouchQueue(ctx, "billing"); err != nil {
		t.Fatalf("TouchQueue: %v", err)
	}

	paused, err := s.QueuePaused(ctx, "emails")
	if err != nil || paused {
		t.Fatalf("QueuePaused = %v, %v", paused, err)
	}

	queues, err := s.ListQueues(ctx)
	if err != nil {
		t.Fatalf("ListQueues: %v", err)
	}
	if len(queues) != 2 || queues[0].Name != "billing" || queues[1].Name != "emails" {
		t.Fatalf("queues = %+v", queues)
	}
}

func newEntry(queue, reason string) *dlq.Entry {
	now := time.Now().UTC()
	return &dlq.Entry{
		ID:           id.NewDLQID(),
		JobID:        id.NewJobID(),
		Queue:        queue,
		Payload:      []byte(`{}`),
		Reason:       reason,
		Kind:         conveyor.KindPermanent,
		AttemptsMade: 3,
		MaxAttempts:  3,
		FailedAt:     now,
		CreatedAt:    now,
	}
}

func TestDLQRoundtrip(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	entry := newEntry("emails", "SMTP 550 mailbox unavailable")
	if err := s.PushDLQ(ctx, entry); err != nil {
		t.Fatalf("PushDLQ: %v", err)
	}

	got, err := s.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.Reason != entry.Reason {
		t.Fatalf("reason = %q", got.Reason)
	}

	newJobID := id.NewJobID()
	at := time.Now().UTC()
	if err := s.MarkReplayed(ctx, entry.ID, newJobID, at); err != nil {
		t.Fatalf("MarkReplayed: %v", err)
	}
	got, err = s.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.ReplayedAt == nil || got.ReplayedAs != newJobID {
		t.Fatalf("replay link not recorded: %+v", got)
	}

	if err := s.DeleteDLQ(ctx, entry.ID); err != nil {
		t.Fatalf("DeleteDLQ: %v", err)
	}
	if _, err := s.GetDLQ(ctx, entry.ID); !errors.Is(err, conveyor.ErrDLQNotFound) {
		t.Fatalf("want ErrDLQNotFound, got %v", err)
	}
	if err := s.MarkReplayed(ctx, entry.ID, newJobID, at); !errors.Is(err, conveyor.ErrDLQNotFound) {
		t.Fatalf("MarkReplayed on missing entry: want ErrDLQNotFound, got %v", err)
	}
}

func TestDLQSearch(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	smtp := newEntry("emails", "SMTP 550 mailbox unavailable")
	timedOut := newEntry("emails", "render timed out")
	billing := newEntry("billing", "card declined")
	for _, e := range []*dlq.Entry{smtp, timedOut, billing} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}

	// Case-insensitive reason match.
	entries, err := s.SearchDLQ(ctx, dlq.SearchOpts{Query: "smtp"})
	if err != nil {
		t.Fatalf("SearchDLQ: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != smtp.ID {
		t.Fatalf("query match = %+v", entries)
	}

	// Queue filter.
	entries, err = s.SearchDLQ(ctx, dlq.SearchOpts{Queue: "emails"})
	if err != nil {
		t.Fatalf("SearchDLQ: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("queue filter returned %d entries", len(entries))
	}

	// Job ID substring match.
	entries, err = s.SearchDLQ(ctx, dlq.SearchOpts{Query: billing.JobID.String()})
	if err != nil {
		t.Fatalf("SearchDLQ: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != billing.ID {
		t.Fatalf("job ID match = %+v", entries)
	}

	count, err := s.CountDLQ(ctx, "")
	if err != nil || count != 3 {
		t.Fatalf("CountDLQ all = %d, %v", count, err)
	}
	count, err = s.CountDLQ(ctx, "billing")
	if err != nil || count != 1 {
		t.Fatalf("CountDLQ billing = %d, %v", count, err)
	}
}

func TestDLQPurge(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	old := newEntry("emails", "stale failure")
	old.FailedAt = time.Now().UTC().Add(-31 * 24 * time.Hour)
	fresh := newEntry("emails", "recent failure")
	for _, e := range []*dlq.Entry{old, fresh} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}

	n, err := s.PurgeDLQ(ctx, "emails", time.Now().UTC().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeDLQ: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d entries, want 1", n)
	}
	if _, err := s.GetDLQ(ctx, fresh.ID); err != nil {
		t.Fatal("fresh entry should remain")
	}
}

func TestLifecycleNoops(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
