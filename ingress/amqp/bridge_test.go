package amqp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/id"
	"github.com/pressline/conveyor/job"
)

type fakeAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAcknowledger) Ack(uint64, bool) error { f.acked = true; return nil }
func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}
func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

type fakeEnqueuer struct {
	jobs []*job.Job
	err  error
}

func (f *fakeEnqueuer) EnqueueRaw(_ context.Context, queue string, payload []byte, opts ...job.Option) (*job.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	var o job.Options
	for _, opt := range opts {
		opt(&o)
	}
	j := &job.Job{
		ID:             id.NewJobID(),
		Queue:          queue,
		Payload:        payload,
		State:          job.StateWaiting,
		Priority:       o.Priority,
		MaxAttempts:    o.MaxAttempts,
		IdempotencyKey: o.IdempotencyKey,
	}
	f.jobs = append(f.jobs, j)
	return j, nil
}

func testBridge(enq Enqueuer) *Bridge {
	return New(Config{URL: "amqp://localhost", Queue: "conveyor.ingress"}, enq,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func delivery(t *testing.T, ack *fakeAcknowledger, body any) amqp.Delivery {
	t.Helper()
	raw, ok := body.([]byte)
	if !ok {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: raw}
}

func TestHandleDeliveryEnqueues(t *testing.T) {
	enq := &fakeEnqueuer{}
	b := testBridge(enq)
	ack := &fakeAcknowledger{}

	b.handleDelivery(context.Background(), delivery(t, ack, Envelope{
		Queue:       "emails",
		Payload:     json.RawMessage(`{"to":"news@pressline.dev"}`),
		Priority:    3,
		MaxAttempts: 5,
		TimeoutMs:   int64(30 * time.Second / time.Millisecond),
	}))

	if !ack.acked {
		t.Error("delivery not acked")
	}
	if len(enq.jobs) != 1 {
		t.Fatalf("enqueued %d jobs, want 1", len(enq.jobs))
	}
	j := enq.jobs[0]
	if j.Queue != "emails" || j.Priority != 3 || j.MaxAttempts != 5 {
		t.Errorf("job = %+v", j)
	}
}

func TestHandleDeliveryMalformedRejected(t *testing.T) {
	enq := &fakeEnqueuer{}
	b := testBridge(enq)

	tests := []struct {
		name string
		body any
	}{
		{"invalid json", []byte("{nope")},
		{"missing queue", Envelope{Payload: json.RawMessage(`{}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &fakeAcknowledger{}
			b.handleDelivery(context.Background(), delivery(t, ack, tt.body))

			if !ack.nacked || ack.requeue {
				t.Errorf("acked=%v nacked=%v requeue=%v, want nack without requeue",
					ack.acked, ack.nacked, ack.requeue)
			}
			if len(enq.jobs) != 0 {
				t.Errorf("enqueued %d jobs, want 0", len(enq.jobs))
			}
		})
	}
}

func TestHandleDeliveryStoreFailureRequeues(t *testing.T) {
	b := testBridge(&fakeEnqueuer{err: context.DeadlineExceeded})
	ack := &fakeAcknowledger{}

	b.handleDelivery(context.Background(), delivery(t, ack, Envelope{
		Queue:   "emails",
		Payload: json.RawMessage(`{}`),
	}))

	if !ack.nacked || !ack.requeue {
		t.Errorf("nacked=%v requeue=%v, want nack with requeue", ack.nacked, ack.requeue)
	}
}

func TestHandleDeliveryDuplicateKeySettles(t *testing.T) {
	b := testBridge(&fakeEnqueuer{err: conveyor.ErrJobAlreadyExists})
	ack := &fakeAcknowledger{}

	b.handleDelivery(context.Background(), delivery(t, ack, Envelope{
		Queue:          "emails",
		Payload:        json.RawMessage(`{}`),
		IdempotencyKey: "send-once",
	}))

	if !ack.acked || ack.nacked {
		t.Errorf("acked=%v nacked=%v, want plain ack", ack.acked, ack.nacked)
	}
}
