package backoff_test

import (
	"testing"
	"time"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/backoff"
)

func TestPolicy_Decide(t *testing.T) {
	p := &backoff.Policy{
		Strategy:           backoff.NewConstant(2 * time.Second),
		TimeoutStreakLimit: 3,
	}

	tests := []struct {
		name          string
		attemptsMade  int
		maxAttempts   int
		kind          conveyor.Kind
		timeoutStreak int
		wantRetry     bool
	}{
		{"first transient failure retries", 1, 3, conveyor.KindTransient, 0, true},
		{"second transient failure retries", 2, 3, conveyor.KindTransient, 0, true},
		{"budget exhausted", 3, 3, conveyor.KindTransient, 0, false},
		{"over budget", 4, 3, conveyor.KindTransient, 0, false},
		{"permanent short-circuits on first attempt", 1, 3, conveyor.KindPermanent, 0, false},
		{"timeout below streak limit retries", 1, 5, conveyor.KindTimeout, 2, true},
		{"timeout at streak limit downgraded", 3, 5, conveyor.KindTimeout, 3, false},
		{"transient ignores timeout streak", 3, 5, conveyor.KindTransient, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Decide(tt.attemptsMade, tt.maxAttempts, tt.kind, tt.timeoutStreak)
			if d.Retry != tt.wantRetry {
				t.Errorf("Decide() retry = %v, want %v", d.Retry, tt.wantRetry)
			}
			if d.Retry && d.Delay != 2*time.Second {
				t.Errorf("Decide() delay = %v, want 2s", d.Delay)
			}
		})
	}
}

func TestPolicy_StreakLimitDisabled(t *testing.T) {
	p := &backoff.Policy{Strategy: backoff.NewConstant(time.Second)}

	d := p.Decide(1, 10, conveyor.KindTimeout, 99)
	if !d.Retry {
		t.Error("timeout streak should be ignored when limit is zero")
	}
}

func TestNewConstant(t *testing.T) {
	s := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := s(attempt); got != 5*time.Second {
			t.Errorf("delay for attempt %d = %v, want 5s", attempt, got)
		}
	}
}

func TestNewExponential(t *testing.T) {
	s := backoff.NewExponential(time.Second, 10*time.Second, false)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{20, 10 * time.Second},
		{500, 10 * time.Second}, // shift past 62 bits must not wrap
	}
	for _, tt := range tests {
		if got := s(tt.attempt); got != tt.want {
			t.Errorf("delay for attempt %d = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestNewExponential_Jitter(t *testing.T) {
	s := backoff.NewExponential(time.Second, 10*time.Second, true)

	seen := make(map[time.Duration]bool)
	for range 100 {
		d := s(3)
		if d < 0 || d > 4*time.Second {
			t.Fatalf("jittered delay for attempt 3 = %v, want [0, 4s]", d)
		}
		seen[d] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected jitter variance, got %d distinct values", len(seen))
	}
}

func TestPolicy_NilStrategyFallsBack(t *testing.T) {
	p := &backoff.Policy{}

	d := p.Decide(1, 3, conveyor.KindTransient, 0)
	if !d.Retry {
		t.Fatal("expected retry")
	}
	if d.Delay < 0 || d.Delay > time.Second {
		t.Errorf("default strategy delay for attempt 1 = %v, want [0, 1s]", d.Delay)
	}
}
