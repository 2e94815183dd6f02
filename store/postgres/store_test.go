//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/dlq"
	"github.com/pressline/conveyor/id"
	"github.com/pressline/conveyor/job"
	"github.com/pressline/conveyor/store/postgres"
)

// setupTestStore connects to the database named by CONVEYOR_POSTGRES_DSN
// and returns a migrated store with empty tables. Tests are skipped when
// the variable is unset.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("CONVEYOR_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CONVEYOR_POSTGRES_DSN not set")
	}

	ctx := context.Background()

	st, err := postgres.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	for _, table := range []string{"conveyor_jobs", "conveyor_queues", "conveyor_dlq"} {
		if _, err := st.Pool().Exec(ctx, "TRUNCATE "+table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}

	return st
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

func TestCreateAndGetJob(t *testing.T) {
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

	if _, err := st.GetJob(ctx, id.NewJobID()); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Errorf("get missing: got %v, want ErrJobNotFound", err)
	}
}

func TestIdempotencyKeyLookup(t *testing.T) {
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

	// Dead lettered jobs release the key.
	j.State = job.StateDeadLettered
	if err := st.UpdateJob(ctx, j); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := st.FindJobByIdempotencyKey(ctx, "emails", "once"); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Errorf("released key: got %v, want ErrJobNotFound", err)
	}

	// Unique index allows re-claiming a released key.
	j2 := newJob("emails", 0)
	j2.IdempotencyKey = "once"
	if err := st.CreateJob(ctx, j2); err != nil {
		t.Fatalf("re-claim released key: %v", err)
	}
}

func TestLeaseOrderingAndExclusivity(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	low := newJob("emails", 10)
	high := newJob("emails", 1)
	for _, j := range []*job.Job{low, high} {
		if err := st.CreateJob(ctx, j); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	w1 := id.NewWorkerID()
	leased, err := st.LeaseJobs(ctx, []string{"emails"}, w1, 1, time.Minute)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(leased) != 1 || leased[0].ID != high.ID {
		t.Fatalf("leased %v, want the priority-1 job first", leased)
	}
	if leased[0].State != job.StateActive || leased[0].WorkerID != w1 {
		t.Errorf("leased job not active under w1: %+v", leased[0])
	}
	if leased[0].LeaseExpiresAt == nil {
		t.Error("LeaseExpiresAt not set")
	}

	// The active job must not be leased again.
	again, err := st.LeaseJobs(ctx, []string{"emails"}, id.NewWorkerID(), 10, time.Minute)
	if err != nil {
		t.Fatalf("second lease: %v", err)
	}
	if len(again) != 1 || again[0].ID != low.ID {
		t.Errorf("second lease got %v, want only the priority-10 job", again)
	}
}

func TestLeaseSkipsPausedAndFuture(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	future := newJob("emails", 0)
	future.AvailableAt = time.Now().UTC().Add(time.Hour)
	if err := st.CreateJob(ctx, future); err != nil {
		t.Fatalf("create: %v", err)
	}

	paused := newJob("renders", 0)
	if err := st.CreateJob(ctx, paused); err != nil {
		t.Fatalf("create: %v", err)
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

func TestExtendLease(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	j := newJob("emails", 0)
	if err := st.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	w := id.NewWorkerID()
	if _, err := st.LeaseJobs(ctx, []string{"emails"}, w, 1, time.Minute); err != nil {
		t.Fatalf("lease: %v", err)
	}

	until := time.Now().UTC().Add(5 * time.Minute)
	if err := st.ExtendLease(ctx, j.ID, w, until); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if err := st.ExtendLease(ctx, j.ID, id.NewWorkerID(), until); !errors.Is(err, conveyor.ErrLeaseLost) {
		t.Errorf("extend with wrong worker: got %v, want ErrLeaseLost", err)
	}
	if err := st.ExtendLease(ctx, id.NewJobID(), w, until); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Errorf("extend missing job: got %v, want ErrJobNotFound", err)
	}
}

func TestExpiredLeases(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	j := newJob("emails", 0)
	if err := st.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.LeaseJobs(ctx, []string{"emails"}, id.NewWorkerID(), 1, -time.Second); err != nil {
		t.Fatalf("lease: %v", err)
	}

	expired, err := st.ExpiredLeases(ctx, 10)
	if err != nil {
		t.Fatalf("expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != j.ID {
		t.Errorf("expired = %v, want the leased job", expired)
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
	if _, err := st.GetJob(ctx, live.ID); err != nil {
		t.Errorf("live job purged: %v", err)
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

	got, err := st.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Reason != entry.Reason || got.Kind != conveyor.KindTransient {
		t.Errorf("roundtrip mismatch: %+v", got)
	}

	// Substring search against the reason.
	found, err := st.SearchDLQ(ctx, dlq.SearchOpts{Query: "SMTP"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 {
		t.Errorf("search found %d entries, want 1", len(found))
	}
	none, err := st.SearchDLQ(ctx, dlq.SearchOpts{Query: "nomatch"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("search found %d entries, want 0", len(none))
	}

	newID := id.NewJobID()
	if err := st.MarkReplayed(ctx, entry.ID, newID, time.Now().UTC()); err != nil {
		t.Fatalf("mark replayed: %v", err)
	}
	got, err = st.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get after replay: %v", err)
	}
	if got.ReplayedAt == nil || got.ReplayedAs != newID {
		t.Errorf("replay link not recorded: %+v", got)
	}

	n, err := st.PurgeDLQ(ctx, "emails", time.Now().UTC())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
}
