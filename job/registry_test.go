package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/pressline/conveyor/job"
)

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func TestRegisterDefinition(t *testing.T) {
	t.Parallel()

	r := job.NewRegistry()
	var got emailPayload
	def := job.NewDefinition("emails", func(_ context.Context, p emailPayload) (any, error) {
		got = p
		return map[string]string{"status": "sent"}, nil
	})
	job.RegisterDefinition(r, def)

	h, ok := r.Get("emails")
	if !ok {
		t.Fatal("expected handler for queue emails")
	}

	payload, _ := json.Marshal(emailPayload{To: "a@b.c", Subject: "hi"})
	result, err := h(context.Background(), payload)
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if got.To != "a@b.c" || got.Subject != "hi" {
		t.Errorf("payload not decoded: %+v", got)
	}

	var res map[string]string
	if err := json.Unmarshal(result, &res); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if res["status"] != "sent" {
		t.Errorf("result = %v, want status=sent", res)
	}
}

func TestRegisterDefinitionNilResult(t *testing.T) {
	t.Parallel()

	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("noop", func(_ context.Context, _ struct{}) (any, error) {
		return nil, nil
	}))

	h, _ := r.Get("noop")
	result, err := h(context.Background(), nil)
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result, got %q", result)
	}
}

func TestRegistryBadPayload(t *testing.T) {
	t.Parallel()

	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("emails", func(_ context.Context, _ emailPayload) (any, error) {
		t.Fatal("handler should not run on bad payload")
		return nil, nil
	}))

	h, _ := r.Get("emails")
	if _, err := h(context.Background(), []byte("{not json")); err == nil {
		t.Error("expected unmarshal error")
	}
}

func TestRegistryHandlerError(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("smtp down")
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("emails", func(_ context.Context, _ emailPayload) (any, error) {
		return nil, sentinel
	}))

	h, _ := r.Get("emails")
	_, err := h(context.Background(), nil)
	if !errors.Is(err, sentinel) {
		t.Errorf("expected sentinel error, got %v", err)
	}
}

func TestRegistryMissingQueue(t *testing.T) {
	t.Parallel()

	r := job.NewRegistry()
	if _, ok := r.Get("nope"); ok {
		t.Error("expected no handler for unregistered queue")
	}
}

func TestRegistryQueues(t *testing.T) {
	t.Parallel()

	r := job.NewRegistry()
	r.RegisterFunc("a", func(context.Context, []byte) ([]byte, error) { return nil, nil })
	r.RegisterFunc("b", func(context.Context, []byte) ([]byte, error) { return nil, nil })

	queues := r.Queues()
	if len(queues) != 2 {
		t.Errorf("expected 2 queues, got %v", queues)
	}
}

func TestStateHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state    job.State
		terminal bool
		leasable bool
	}{
		{job.StateWaiting, false, true},
		{job.StateDelayed, false, true},
		{job.StateActive, false, false},
		{job.StateCompleted, true, false},
		{job.StateFailed, true, false},
		{job.StateDeadLettered, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.Terminal(); got != tt.terminal {
				t.Errorf("Terminal() = %v, want %v", got, tt.terminal)
			}
			if got := tt.state.Leasable(); got != tt.leasable {
				t.Errorf("Leasable() = %v, want %v", got, tt.leasable)
			}
		})
	}
}
