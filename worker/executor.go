// Package worker provides the job execution engine: an Executor that
// invokes registered handlers through middleware and reports outcomes
// to the queue, and a Pool that manages concurrent worker goroutines
// leasing jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/id"
	"github.com/pressline/conveyor/job"
	"github.com/pressline/conveyor/middleware"
	"github.com/pressline/conveyor/queue"
)

// Executor runs a single leased job through middleware and the
// registered handler, then reports the outcome with Ack or Nack. The
// queue service owns all state transitions; the executor never touches
// the store.
type Executor struct {
	registry *job.Registry
	queue    *queue.Service
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	queueSvc *queue.Service,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry: registry,
		queue:    queueSvc,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute runs a leased job and reports the outcome.
// On success the job is acked with the handler's return value. On
// failure it is nacked; the queue's retry policy decides what happens
// next. A queue with no registered handler is a permanent failure,
// since retrying cannot make a handler appear.
func (e *Executor) Execute(ctx context.Context, workerID id.WorkerID, j *job.Job) error {
	handler, ok := e.registry.Get(j.Queue)
	if !ok {
		err := conveyor.Permanent(fmt.Errorf("no handler registered for queue %q", j.Queue))
		e.logger.Error("unroutable job",
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
		)
		return e.queue.Nack(ctx, j.ID, workerID, err)
	}

	// The terminal handler that calls the registered job handler.
	terminal := func(ctx context.Context) ([]byte, error) {
		return handler(ctx, j.Payload)
	}

	result, err := e.mw(ctx, j, terminal)

	// Report on a detached context so a cancelled job (shutdown, lease
	// lost) can still record its outcome.
	reportCtx := context.WithoutCancel(ctx)
	if err != nil {
		return e.queue.Nack(reportCtx, j.ID, workerID, err)
	}
	return e.queue.Ack(reportCtx, j.ID, workerID, result)
}
