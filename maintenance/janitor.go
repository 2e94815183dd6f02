// Package maintenance runs the scheduled housekeeping a long-lived
// Conveyor deployment needs: retention purges for finished jobs and
// old dead letter entries.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/pressline/conveyor/dlq"
	"github.com/pressline/conveyor/job"
	"github.com/pressline/conveyor/queue"
)

// Retention controls what the janitor sweeps and how old a record
// must be before it goes.
type Retention struct {
	// CompletedAfter removes completed jobs older than this. Zero
	// disables the sweep.
	CompletedAfter time.Duration
	// FailedAfter removes operator-cancelled and dead lettered jobs
	// older than this. Zero disables the sweep.
	FailedAfter time.Duration
	// DLQAfter removes dead letter entries that failed longer ago
	// than this. Zero disables the sweep.
	DLQAfter time.Duration
	// Schedule is a cron expression (5-field or @every descriptor)
	// for the sweep. Defaults to hourly.
	Schedule string
}

// DefaultRetention keeps completed jobs for a day and failure history
// for a month.
func DefaultRetention() Retention {
	return Retention{
		CompletedAfter: 24 * time.Hour,
		FailedAfter:    30 * 24 * time.Hour,
		DLQAfter:       30 * 24 * time.Hour,
		Schedule:       "@hourly",
	}
}

// Janitor owns the cron runner and the sweep logic.
type Janitor struct {
	queueSvc  *queue.Service
	dlqSvc    *dlq.Service
	retention Retention
	logger    *slog.Logger

	runner *cronlib.Cron
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithLogger sets the janitor logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Janitor) { j.logger = l }
}

// New creates a Janitor. Start schedules the sweeps.
func New(queueSvc *queue.Service, dlqSvc *dlq.Service, retention Retention, opts ...Option) *Janitor {
	if retention.Schedule == "" {
		retention.Schedule = "@hourly"
	}
	j := &Janitor{
		queueSvc:  queueSvc,
		dlqSvc:    dlqSvc,
		retention: retention,
		logger:    slog.Default(),
		runner:    cronlib.New(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start registers the sweep on the configured schedule and launches
// the cron runner.
func (j *Janitor) Start() error {
	_, err := j.runner.AddFunc(j.retention.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		j.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("maintenance: schedule %q: %w", j.retention.Schedule, err)
	}

	j.runner.Start()
	j.logger.Info("janitor started", slog.String("schedule", j.retention.Schedule))
	return nil
}

// Stop halts the cron runner and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.runner.Stop().Done()
	j.logger.Info("janitor stopped")
}

// Sweep runs all enabled retention passes once across all queues.
// Errors are logged, not returned; one failing pass never blocks the
// others.
func (j *Janitor) Sweep(ctx context.Context) {
	if j.retention.CompletedAfter > 0 {
		j.purgeJobs(ctx, []job.State{job.StateCompleted}, j.retention.CompletedAfter)
	}
	if j.retention.FailedAfter > 0 {
		j.purgeJobs(ctx, []job.State{job.StateFailed, job.StateDeadLettered}, j.retention.FailedAfter)
	}
	if j.retention.DLQAfter > 0 {
		n, err := j.dlqSvc.Purge(ctx, "", time.Now().UTC().Add(-j.retention.DLQAfter))
		if err != nil {
			j.logger.Error("dlq retention sweep failed", slog.String("error", err.Error()))
		} else if n > 0 {
			j.logger.Info("dlq retention sweep", slog.Int64("purged", n))
		}
	}
}

func (j *Janitor) purgeJobs(ctx context.Context, states []job.State, olderThan time.Duration) {
	queues, err := j.queueSvc.Queues(ctx)
	if err != nil {
		j.logger.Error("list queues for retention", slog.String("error", err.Error()))
		return
	}

	var total int64
	for _, q := range queues {
		n, err := j.queueSvc.Purge(ctx, q.Name, queue.PurgeOpts{States: states, OlderThan: olderThan})
		if err != nil {
			j.logger.Error("job retention sweep failed",
				slog.String("queue", q.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		total += n
	}
	if total > 0 {
		j.logger.Info("job retention sweep",
			slog.Int64("purged", total),
			slog.String("states", fmt.Sprint(states)),
		)
	}
}
