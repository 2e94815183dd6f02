package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/backoff"
	"github.com/pressline/conveyor/dlq"
	"github.com/pressline/conveyor/job"
	"github.com/pressline/conveyor/queue"
	"github.com/pressline/conveyor/store/memory"
	"github.com/pressline/conveyor/stream"
)

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()

	cfg := conveyor.DefaultConfig()
	cfg.Queues = []string{"emails", "renders"}
	cfg.Concurrency = 4
	cfg.PollInterval = 5 * time.Millisecond
	cfg.MaxPollInterval = 20 * time.Millisecond
	cfg.ReapInterval = 50 * time.Millisecond

	c, err := conveyor.New(
		conveyor.WithStore(memory.New()),
		conveyor.WithLogger(testLogger()),
		conveyor.WithConfig(cfg),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base := []Option{WithPolicy(&backoff.Policy{Strategy: backoff.NewConstant(10 * time.Millisecond)})}
	eng, err := Build(c, append(base, opts...)...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return eng
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not met before deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestBuildRequiresStore(t *testing.T) {
	t.Parallel()
	c, err := conveyor.New(conveyor.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := Build(c); !errors.Is(err, conveyor.ErrNoStore) {
		t.Errorf("Build without store = %v, want ErrNoStore", err)
	}
}

func TestEngineEndToEnd(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)
	ctx := context.Background()

	done := make(chan emailPayload, 1)
	Register(eng, job.NewDefinition("emails", func(_ context.Context, p emailPayload) (any, error) {
		done <- p
		return map[string]string{"status": "sent"}, nil
	}))

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(ctx)

	enq, err := Enqueue(ctx, eng, "emails", emailPayload{To: "a@b", Subject: "hi"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case p := <-done:
		if p.To != "a@b" || p.Subject != "hi" {
			t.Errorf("payload = %+v", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job never executed")
	}

	waitFor(t, 5*time.Second, func() bool {
		j, err := eng.Queue().Get(ctx, enq.ID)
		return err == nil && j.State == job.StateCompleted
	})
	j, _ := eng.Queue().Get(ctx, enq.ID)
	if string(j.ReturnValue) != `{"status":"sent"}` {
		t.Errorf("ReturnValue = %q", j.ReturnValue)
	}
}

func TestEngineRetriesToDeadLetterAndReplay(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)
	ctx := context.Background()

	Register(eng, job.NewDefinition("renders", func(_ context.Context, _ emailPayload) (any, error) {
		return nil, errors.New("template corrupt")
	}))

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(ctx)

	enq, err := Enqueue(ctx, eng, "renders", emailPayload{}, job.WithMaxAttempts(2))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, 10*time.Second, func() bool {
		j, err := eng.Queue().Get(ctx, enq.ID)
		return err == nil && j.State == job.StateDeadLettered
	})

	entries, err := eng.DLQ().Search(ctx, dlq.SearchOpts{Queue: "renders"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dead letter entries = %d, want 1", len(entries))
	}
	if entries[0].AttemptsMade != 2 {
		t.Errorf("entry.AttemptsMade = %d, want 2", entries[0].AttemptsMade)
	}

	// Replay creates a fresh job that the pool picks up again.
	replayed, err := eng.DLQ().Replay(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.ReplayOf != enq.ID {
		t.Errorf("ReplayOf = %s, want %s", replayed.ReplayOf, enq.ID)
	}
	waitFor(t, 10*time.Second, func() bool {
		j, err := eng.Queue().Get(ctx, replayed.ID)
		return err == nil && j.State == job.StateDeadLettered
	})
}

func TestEngineStatsAndStream(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)
	ctx := context.Background()

	Register(eng, job.NewDefinition("emails", func(_ context.Context, _ emailPayload) (any, error) {
		return nil, nil
	}))

	sub := eng.Broker().Subscribe(stream.NewSubscriberID(), stream.TopicFirehose)

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(ctx)

	if _, err := Enqueue(ctx, eng, "emails", emailPayload{To: "a@b"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// The firehose sees the full lifecycle.
	seen := map[stream.EventType]bool{}
	deadline := time.After(5 * time.Second)
	for !seen[stream.EventJobCompleted] {
		select {
		case evt := <-sub.C():
			seen[evt.Type] = true
		case <-deadline:
			t.Fatalf("firehose incomplete, saw %v", seen)
		}
	}
	if !seen[stream.EventJobEnqueued] || !seen[stream.EventJobStarted] {
		t.Errorf("firehose missing lifecycle events, saw %v", seen)
	}

	s, err := eng.Stats().Snapshot(ctx, "emails")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if s.Enqueued != 1 || s.Completed != 1 {
		t.Errorf("stats = enqueued %d completed %d, want 1/1", s.Enqueued, s.Completed)
	}
}

func TestEngineQueueManagerWiring(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t, WithQueueConfig(queue.Config{Name: "emails", MaxConcurrency: 2}))
	if eng.QueueManager() == nil {
		t.Fatal("QueueManager not built from queue configs")
	}
	if !eng.QueueManager().Acquire("emails") {
		t.Error("Acquire refused below the limit")
	}
	eng.QueueManager().Release("emails")
}
