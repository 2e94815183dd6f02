package cron

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pressline/conveyor/job"
)

type capturedEnqueue struct {
	queue   string
	payload []byte
	options job.Options
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	calls []capturedEnqueue
}

func (f *fakeEnqueuer) EnqueueRaw(_ context.Context, queue string, payload []byte, opts ...job.Option) (*job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var options job.Options
	for _, opt := range opts {
		opt(&options)
	}
	f.calls = append(f.calls, capturedEnqueue{queue: queue, payload: payload, options: options})

	return &job.Job{Queue: queue, Payload: payload}, nil
}

func (f *fakeEnqueuer) snapshot() []capturedEnqueue {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]capturedEnqueue, len(f.calls))
	copy(out, f.calls)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegisterValidation(t *testing.T) {
	s := NewScheduler(&fakeEnqueuer{}, WithLogger(testLogger()))

	if err := s.Register("", "@hourly", "emails", nil); err == nil {
		t.Fatal("want error for empty name")
	}
	if err := s.Register("digest", "@hourly", "", nil); err == nil {
		t.Fatal("want error for empty queue")
	}
	if err := s.Register("digest", "not a schedule", "emails", nil); err == nil {
		t.Fatal("want error for bad schedule")
	}

	if err := s.Register("digest", "0 9 * * *", "emails", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register("digest", "0 9 * * *", "emails", nil); err == nil {
		t.Fatal("want error for duplicate name")
	}
}

func TestTickFiresDueEntries(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := NewScheduler(enq, WithLogger(testLogger()))

	payload := json.RawMessage(`{"report":"daily"}`)
	if err := s.Register("daily-digest", "@every 1m", "emails", payload,
		job.WithPriority(3)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Not due yet.
	s.tick(time.Now().UTC())
	if calls := enq.snapshot(); len(calls) != 0 {
		t.Fatalf("fired %d times before due", len(calls))
	}

	// Jump past the next occurrence.
	s.tick(time.Now().UTC().Add(61 * time.Second))
	calls := enq.snapshot()
	if len(calls) != 1 {
		t.Fatalf("fired %d times, want 1", len(calls))
	}
	if calls[0].queue != "emails" {
		t.Fatalf("fired on queue %q", calls[0].queue)
	}
	if string(calls[0].payload) != string(payload) {
		t.Fatalf("payload = %s", calls[0].payload)
	}
	if calls[0].options.Priority != 3 {
		t.Fatalf("priority = %d, want 3", calls[0].options.Priority)
	}
	if calls[0].options.IdempotencyKey == "" {
		t.Fatal("firing should carry an idempotency key")
	}
}

func TestMissedOccurrencesEachFire(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := NewScheduler(enq, WithLogger(testLogger()))

	if err := s.Register("heartbeat", "@every 1m", "ops", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// One tick three minutes later covers three missed occurrences,
	// each with its own scheduled-instant key.
	s.tick(time.Now().UTC().Add(3*time.Minute + time.Second))
	calls := enq.snapshot()
	if len(calls) != 3 {
		t.Fatalf("fired %d times, want 3", len(calls))
	}
	keys := map[string]bool{}
	for _, call := range calls {
		keys[call.options.IdempotencyKey] = true
	}
	if len(keys) != 3 {
		t.Fatalf("got %d distinct idempotency keys, want 3", len(keys))
	}
}

func TestDisableSkipsFiring(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := NewScheduler(enq, WithLogger(testLogger()))

	if err := s.Register("cleanup", "@every 1m", "ops", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Disable("cleanup"); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	s.tick(time.Now().UTC().Add(2 * time.Minute))
	if calls := enq.snapshot(); len(calls) != 0 {
		t.Fatalf("disabled entry fired %d times", len(calls))
	}

	// Re-enabling re-anchors the schedule instead of backfilling.
	if err := s.Enable("cleanup"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	s.tick(time.Now().UTC())
	if calls := enq.snapshot(); len(calls) != 0 {
		t.Fatalf("re-enabled entry backfilled %d firings", len(calls))
	}

	if err := s.Enable("unknown"); err == nil {
		t.Fatal("want error for unknown entry")
	}
}

func TestEntriesSnapshot(t *testing.T) {
	s := NewScheduler(&fakeEnqueuer{}, WithLogger(testLogger()))

	for _, name := range []string{"b-entry", "a-entry"} {
		if err := s.Register(name, "@hourly", "ops", nil); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	entries := s.Entries()
	if len(entries) != 2 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].Name != "a-entry" || entries[1].Name != "b-entry" {
		t.Fatalf("entries not sorted: %s, %s", entries[0].Name, entries[1].Name)
	}
	if !entries[0].Enabled {
		t.Fatal("entries should default to enabled")
	}
	if entries[0].NextRunAt.IsZero() {
		t.Fatal("NextRunAt should be set on registration")
	}

	s.Deregister("a-entry")
	if entries := s.Entries(); len(entries) != 1 {
		t.Fatalf("got %d entries after Deregister", len(entries))
	}
}

func TestStartStop(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := NewScheduler(enq, WithTickInterval(10*time.Millisecond), WithLogger(testLogger()))

	if err := s.Register("fast", "@every 1s", "ops", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s.Start()
	s.Start() // idempotent
	time.Sleep(50 * time.Millisecond)
	s.Stop()
	s.Stop() // idempotent
}
