//go:build integration

package redis_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/dlq"
	"github.com/pressline/conveyor/id"
	"github.com/pressline/conveyor/job"
	redisstore "github.com/pressline/conveyor/store/redis"
)

// setupTestStore connects to the Redis instance named by
// CONVEYOR_REDIS_ADDR and flushes it. Tests are skipped when the
// variable is unset.
func setupTestStore(t *testing.T) *redisstore.Store {
	t.Helper()

	addr := os.Getenv("CONVEYOR_REDIS_ADDR")
	if addr == "" {
		t.Skip("CONVEYOR_REDIS_ADDR not set")
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: 9})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	return redisstore.New(client)
}

func newJob(queue string, priority int) *job.Job {
	now := time.Now().UTC()
	return &job.Job{
		ID:          id.NewJobID(),
		Queue:       queue,
		Payload:     []byte(`{"n":1}`),
		State:       job.StateWaiting,
		Priority:    priority,
		MaxAttempts: 3,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestJobRoundtrip(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	j := newJob("emails", 5)
	j.IdempotencyKey = "send-1"
	j.Timeout = 30 * time.Second
	j.LastError = &job.FailureInfo{Message: "boom", Kind: conveyor.KindTransient, At: time.Now().UTC()}

	if err := st.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := st.CreateJob(ctx, j); !errors.Is(err, conveyor.ErrJobAlreadyExists) {
		t.Fatalf("duplicate create: got %v, want ErrJobAlreadyExists", err)
	}

	got, err := st.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Queue != "emails" || got.Priority != 5 || got.IdempotencyKey != "send-1" {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
	if got.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", got.Timeout)
	}
	if got.LastError == nil || got.LastError.Kind != conveyor.KindTransient {
		t.Errorf("LastError = %+v", got.LastError)
	}
}

func TestIdempotencyKeyReleasedWhenDeadLettered(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	j := newJob("emails", 0)
	j.IdempotencyKey = "once"
	if err := st.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	found, err := st.FindJobByIdempotencyKey(ctx, "emails", "once")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.ID != j.ID {
		t.Errorf("found %s, want %s", found.ID, j.ID)
	}

	j.State = job.StateDeadLettered
	if err := st.UpdateJob(ctx, j); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := st.FindJobByIdempotencyKey(ctx, "emails", "once"); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Errorf("released key: got %v, want ErrJobNotFound", err)
	}
}

func TestLeaseOrderingAndDelayedPromotion(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	low := newJob("emails", 10)
	high := newJob("emails", 1)
	delayed := newJob("emails", 0)
	delayed.State = job.StateDelayed
	delayed.AvailableAt = time.Now().UTC().Add(-time.Second)
	for _, j := range []*job.Job{low, high, delayed} {
		if err := st.CreateJob(ctx, j); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	w := id.NewWorkerID()
	leased, err := st.LeaseJobs(ctx, []string{"emails"}, w, 1, time.Minute)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	// The delayed job is due and has priority 0, so it leases first.
	if len(leased) != 1 || leased[0].ID != delayed.ID {
		t.Fatalf("leased %v, want the due priority-0 job first", leased)
	}
	if leased[0].State != job.StateActive || leased[0].WorkerID != w {
		t.Errorf("leased job not active: %+v", leased[0])
	}

	rest, err := st.LeaseJobs(ctx, []string{"emails"}, w, 10, time.Minute)
	if err != nil {
		t.Fatalf("lease rest: %v", err)
	}
	if len(rest) != 2 || rest[0].ID != high.ID || rest[1].ID != low.ID {
		t.Errorf("rest order wrong: %v", rest)
	}
}

func TestLeaseUnboundedLimit(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	for i := range 5 {
		if err := st.CreateJob(ctx, newJob("emails", i)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	// A non-positive limit claims everything leasable.
	leased, err := st.LeaseJobs(ctx, []string{"emails"}, id.NewWorkerID(), 0, time.Minute)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(leased) != 5 {
		t.Errorf("leased %d jobs with limit 0, want all 5", len(leased))
	}
}

func TestLeaseSkipsPausedAndFuture(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	future := newJob("emails", 0)
	future.AvailableAt = time.Now().UTC().Add(time.Hour)
	paused := newJob("renders", 0)
	for _, j := range []*job.Job{future, paused} {
		if err := st.CreateJob(ctx, j); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := st.SetQueuePaused(ctx, "renders", true); err != nil {
		t.Fatalf("pause: %v", err)
	}

	leased, err := st.LeaseJobs(ctx, nil, id.NewWorkerID(), 10, time.Minute)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(leased) != 0 {
		t.Errorf("leased %d jobs, want 0", len(leased))
	}

	if err := st.SetQueuePaused(ctx, "renders", false); err != nil {
		t.Fatalf("resume: %v", err)
	}
	leased, err = st.LeaseJobs(ctx, nil, id.NewWorkerID(), 10, time.Minute)
	if err != nil {
		t.Fatalf("lease after resume: %v", err)
	}
	if len(leased) != 1 || leased[0].ID != paused.ID {
		t.Errorf("leased %v after resume", leased)
	}
}

func TestExtendLeaseAndExpiry(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	j := newJob("emails", 0)
	if err := st.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	w := id.NewWorkerID()
	if _, err := st.LeaseJobs(ctx, []string{"emails"}, w, 1, -time.Second); err != nil {
		t.Fatalf("lease: %v", err)
	}

	expired, err := st.ExpiredLeases(ctx, 10)
	if err != nil {
		t.Fatalf("expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != j.ID {
		t.Fatalf("expired = %v, want the leased job", expired)
	}

	// Extending pushes it out of the expired window.
	if err := st.ExtendLease(ctx, j.ID, w, time.Now().UTC().Add(time.Minute)); err != nil {
		t.Fatalf("extend: %v", err)
	}
	expired, err = st.ExpiredLeases(ctx, 10)
	if err != nil {
		t.Fatalf("expired after extend: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("expired = %v after extend, want none", expired)
	}

	if err := st.ExtendLease(ctx, j.ID, id.NewWorkerID(), time.Now().UTC()); !errors.Is(err, conveyor.ErrLeaseLost) {
		t.Errorf("extend with wrong worker: got %v, want ErrLeaseLost", err)
	}
}

func TestCountAndPurge(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	done := newJob("emails", 0)
	done.State = job.StateCompleted
	live := newJob("emails", 0)
	for _, j := range []*job.Job{done, live} {
		if err := st.CreateJob(ctx, j); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	counts, err := st.CountJobsByState(ctx, "emails")
	if err != nil {
		t.Fatalf("count by state: %v", err)
	}
	if counts[job.StateCompleted] != 1 || counts[job.StateWaiting] != 1 {
		t.Errorf("counts = %v", counts)
	}

	n, err := st.PurgeJobs(ctx, "emails", []job.State{job.StateCompleted}, time.Now().UTC())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
}

func TestDLQRoundtrip(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	entry := &dlq.Entry{
		ID:           id.NewDLQID(),
		JobID:        id.NewJobID(),
		Queue:        "emails",
		Payload:      []byte(`{"n":1}`),
		Reason:       "smtp unreachable",
		Kind:         conveyor.KindTransient,
		AttemptsMade: 3,
		MaxAttempts:  3,
		FailedAt:     time.Now().UTC(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := st.PushDLQ(ctx, entry); err != nil {
		t.Fatalf("push: %v", err)
	}

	found, err := st.SearchDLQ(ctx, dlq.SearchOpts{Query: "SMTP"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 {
		t.Errorf("search found %d entries, want 1", len(found))
	}

	newID := id.NewJobID()
	if err := st.MarkReplayed(ctx, entry.ID, newID, time.Now().UTC()); err != nil {
		t.Fatalf("mark replayed: %v", err)
	}
	got, err := st.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ReplayedAt == nil || got.ReplayedAs != newID {
		t.Errorf("replay link not recorded: %+v", got)
	}

	n, err := st.PurgeDLQ(ctx, "", time.Now().UTC())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
}
