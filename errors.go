package conveyor

import (
	"context"
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("conveyor: no store configured")
	ErrStoreClosed     = errors.New("conveyor: store closed")
	ErrMigrationFailed = errors.New("conveyor: migration failed")

	// Not found errors.
	ErrJobNotFound   = errors.New("conveyor: job not found")
	ErrQueueNotFound = errors.New("conveyor: queue not found")
	ErrDLQNotFound   = errors.New("conveyor: dlq entry not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("conveyor: job already exists")

	// State errors.
	ErrInvalidState    = errors.New("conveyor: invalid state transition")
	ErrQueuePaused     = errors.New("conveyor: queue is paused")
	ErrLeaseLost       = errors.New("conveyor: lease no longer held")
	ErrAlreadyReplayed = errors.New("conveyor: dlq entry already replayed")

	// Operator errors.
	ErrPurgeLiveStates = errors.New("conveyor: purging non-terminal states requires force")
)

// Kind classifies a job failure for the retry policy.
type Kind string

const (
	// KindTransient failures are retried with backoff. This is the
	// default classification for plain errors.
	KindTransient Kind = "transient"

	// KindPermanent failures skip remaining retries and go straight
	// to the dead letter queue.
	KindPermanent Kind = "permanent"

	// KindTimeout failures are per-attempt deadline or lease
	// expirations. Retried like transient failures, but a streak of
	// them can be downgraded to permanent by the retry policy.
	KindTimeout Kind = "timeout"

	// KindCrashed failures come from a panicking handler. Retried
	// like transient failures; the distinct kind keeps the crash
	// visible in the job's failure record.
	KindCrashed Kind = "crashed"
)

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return fmt.Sprintf("%s: %v", e.kind, e.err) }
func (e *kindError) Unwrap() error { return e.err }

// Permanent marks err as a permanent failure. Handlers return it to
// short-circuit retries and send the job to the dead letter queue.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: KindPermanent, err: err}
}

// Transient explicitly marks err as retryable. Plain errors are
// already treated as transient; use this to override an outer
// classification.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: KindTransient, err: err}
}

// Timeout marks err as a per-attempt timeout.
func Timeout(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: KindTimeout, err: err}
}

// Crashed marks err as a handler crash. The recover middleware applies
// this to panics it converts into errors.
func Crashed(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: KindCrashed, err: err}
}

// KindOf classifies an error. Explicit marks win; deadline errors are
// timeouts; everything else is transient.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransient
}
