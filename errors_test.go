package conveyor_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/pressline/conveyor"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want conveyor.Kind
	}{
		{"plain error is transient", base, conveyor.KindTransient},
		{"permanent mark", conveyor.Permanent(base), conveyor.KindPermanent},
		{"transient mark", conveyor.Transient(base), conveyor.KindTransient},
		{"timeout mark", conveyor.Timeout(base), conveyor.KindTimeout},
		{"crashed mark", conveyor.Crashed(base), conveyor.KindCrashed},
		{"wrapped crash", fmt.Errorf("worker: %w", conveyor.Crashed(base)), conveyor.KindCrashed},
		{"deadline exceeded", context.DeadlineExceeded, conveyor.KindTimeout},
		{"wrapped permanent", fmt.Errorf("handler: %w", conveyor.Permanent(base)), conveyor.KindPermanent},
		{"wrapped deadline", fmt.Errorf("attempt: %w", context.DeadlineExceeded), conveyor.KindTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := conveyor.KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKindMarksPreserveCause(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	if !errors.Is(conveyor.Permanent(base), base) {
		t.Error("Permanent should wrap the cause")
	}
	if conveyor.Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
	if conveyor.Transient(nil) != nil {
		t.Error("Transient(nil) should be nil")
	}
}
