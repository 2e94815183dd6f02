package queue

import (
	"testing"
)

func TestManagerUnlimitedByDefault(t *testing.T) {
	t.Parallel()
	m := NewManager()

	for i := 0; i < 100; i++ {
		if !m.Acquire("anything") {
			t.Fatalf("acquire %d on unconfigured queue refused", i)
		}
	}
}

func TestManagerConcurrencyLimit(t *testing.T) {
	t.Parallel()
	m := NewManager(Config{Name: "renders", MaxConcurrency: 2})

	if !m.Acquire("renders") || !m.Acquire("renders") {
		t.Fatal("first two acquires refused")
	}
	if m.Acquire("renders") {
		t.Error("third acquire allowed past MaxConcurrency=2")
	}
	if got := m.ActiveCount("renders"); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}

	m.Release("renders")
	if !m.Acquire("renders") {
		t.Error("acquire refused after release")
	}
}

func TestManagerRateLimit(t *testing.T) {
	t.Parallel()
	m := NewManager(Config{Name: "emails", RateLimit: 1, RateBurst: 2})

	allowed := 0
	for i := 0; i < 10; i++ {
		if m.Acquire("emails") {
			allowed++
			m.Release("emails")
		}
	}
	if allowed != 2 {
		t.Errorf("burst allowed %d acquires, want 2", allowed)
	}
}

func TestManagerSetQueueConfig(t *testing.T) {
	t.Parallel()
	m := NewManager(Config{Name: "renders", MaxConcurrency: 1})

	if !m.Acquire("renders") {
		t.Fatal("first acquire refused")
	}
	if m.Acquire("renders") {
		t.Fatal("second acquire allowed past MaxConcurrency=1")
	}

	// Raising the limit preserves the active count.
	m.SetQueueConfig(Config{Name: "renders", MaxConcurrency: 3})
	if got := m.ActiveCount("renders"); got != 1 {
		t.Errorf("ActiveCount after reconfigure = %d, want 1", got)
	}
	if !m.Acquire("renders") || !m.Acquire("renders") {
		t.Error("acquires refused after raising the limit")
	}
	if m.Acquire("renders") {
		t.Error("acquire allowed past the new limit")
	}
}

func TestManagerReleaseNeverUnderflows(t *testing.T) {
	t.Parallel()
	m := NewManager(Config{Name: "renders", MaxConcurrency: 1})

	m.Release("renders")
	m.Release("renders")
	if got := m.ActiveCount("renders"); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}
}
