package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/backoff"
	"github.com/pressline/conveyor/dlq"
	"github.com/pressline/conveyor/id"
	"github.com/pressline/conveyor/job"
)

// lifecycleEmitter is the slice of the hook registry the service needs.
type lifecycleEmitter interface {
	EmitJobEnqueued(ctx context.Context, j *job.Job)
	EmitJobStarted(ctx context.Context, j *job.Job)
	EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration)
	EmitJobFailed(ctx context.Context, j *job.Job, err error)
	EmitJobDelayed(ctx context.Context, j *job.Job, attempt int, nextAt time.Time)
	EmitJobDeadLettered(ctx context.Context, j *job.Job, err error)
	EmitQueuePaused(ctx context.Context, queue string)
	EmitQueueResumed(ctx context.Context, queue string)
}

// Service owns queue semantics: idempotent enqueue, atomic lease,
// ack/nack with retry decisions, pause/resume, purge, and operator
// cancel/retry. The store below it only provides atomic row
// primitives; every state transition decision is made here.
type Service struct {
	store  job.Store
	dlq    *dlq.Service
	policy *backoff.Policy
	hooks  lifecycleEmitter
	logger *slog.Logger

	leaseFor           time.Duration
	defaultMaxAttempts int
	defaultTimeout     time.Duration
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPolicy sets the retry policy.
func WithPolicy(p *backoff.Policy) ServiceOption {
	return func(s *Service) { s.policy = p }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithLeaseDuration sets the visibility timeout granted on lease.
func WithLeaseDuration(d time.Duration) ServiceOption {
	return func(s *Service) { s.leaseFor = d }
}

// WithDefaults sets the attempt budget and per-attempt deadline used
// for jobs enqueued without explicit options.
func WithDefaults(maxAttempts int, timeout time.Duration) ServiceOption {
	return func(s *Service) {
		s.defaultMaxAttempts = maxAttempts
		s.defaultTimeout = timeout
	}
}

// NewService creates a queue service over the given stores.
func NewService(store job.Store, dlqSvc *dlq.Service, opts ...ServiceOption) *Service {
	s := &Service{
		store:              store,
		dlq:                dlqSvc,
		policy:             backoff.DefaultPolicy(),
		logger:             slog.Default(),
		leaseFor:           30 * time.Second,
		defaultMaxAttempts: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetHooks wires the lifecycle hook emitter (called by the engine
// package).
func (s *Service) SetHooks(h lifecycleEmitter) { s.hooks = h }

// ──────────────────────────────────────────────────
// Producer side
// ──────────────────────────────────────────────────

// Enqueue creates a new job on the queue. With an idempotency key, a
// duplicate enqueue returns the existing job instead of creating a
// second one; dead lettered and cancelled jobs release their key.
func (s *Service) Enqueue(ctx context.Context, queue string, payload []byte, opts ...job.Option) (*job.Job, error) {
	if queue == "" {
		return nil, fmt.Errorf("conveyor: enqueue: %w", conveyor.ErrQueueNotFound)
	}

	var o job.Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = s.defaultMaxAttempts
	}
	if o.Timeout <= 0 {
		o.Timeout = s.defaultTimeout
	}

	if o.IdempotencyKey != "" {
		existing, err := s.store.FindJobByIdempotencyKey(ctx, queue, o.IdempotencyKey)
		switch {
		case err == nil:
			return existing, nil
		case !errors.Is(err, conveyor.ErrJobNotFound):
			return nil, err
		}
	}

	now := time.Now().UTC()
	j := &job.Job{
		ID:             id.NewJobID(),
		Queue:          queue,
		Payload:        payload,
		IdempotencyKey: o.IdempotencyKey,
		State:          job.StateWaiting,
		Priority:       o.Priority,
		MaxAttempts:    o.MaxAttempts,
		Timeout:        o.Timeout,
		AvailableAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if o.Delay > 0 {
		j.State = job.StateDelayed
		j.AvailableAt = now.Add(o.Delay)
	}

	if err := s.store.TouchQueue(ctx, queue); err != nil {
		return nil, err
	}
	if err := s.store.CreateJob(ctx, j); err != nil {
		// A concurrent enqueue with the same idempotency key can beat
		// us to the unique index. Resolve to the winner.
		if o.IdempotencyKey != "" && errors.Is(err, conveyor.ErrJobAlreadyExists) {
			return s.store.FindJobByIdempotencyKey(ctx, queue, o.IdempotencyKey)
		}
		return nil, err
	}

	s.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("queue", queue),
		slog.Int("priority", j.Priority),
	)
	if s.hooks != nil {
		s.hooks.EmitJobEnqueued(ctx, j)
	}
	return j, nil
}

// ──────────────────────────────────────────────────
// Worker side
// ──────────────────────────────────────────────────

// Lease atomically claims up to limit leasable jobs for the worker.
// The store guarantees no job is ever handed to two workers.
func (s *Service) Lease(ctx context.Context, queues []string, workerID id.WorkerID, limit int) ([]*job.Job, error) {
	jobs, err := s.store.LeaseJobs(ctx, queues, workerID, limit, s.leaseFor)
	if err != nil {
		return nil, err
	}
	if s.hooks != nil {
		for _, j := range jobs {
			s.hooks.EmitJobStarted(ctx, j)
		}
	}
	return jobs, nil
}

// ExtendLease pushes the lease expiry of an active job out by the
// configured lease duration. Workers call this from their heartbeat.
func (s *Service) ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	return s.store.ExtendLease(ctx, jobID, workerID, time.Now().UTC().Add(s.leaseFor))
}

// Ack marks an active job completed and stores its return value.
// Acking an already completed job is a no-op, so a worker retrying an
// ack after a store hiccup stays safe. Any other state is rejected.
func (s *Service) Ack(ctx context.Context, jobID id.JobID, workerID id.WorkerID, returnValue []byte) error {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	switch j.State {
	case job.StateCompleted:
		return nil
	case job.StateActive:
		// fallthrough to completion below
	default:
		return fmt.Errorf("conveyor: ack %s in state %q: %w", jobID, j.State, conveyor.ErrInvalidState)
	}
	if !workerID.IsNil() && j.WorkerID != workerID {
		return conveyor.ErrLeaseLost
	}

	now := time.Now().UTC()
	j.State = job.StateCompleted
	j.ReturnValue = returnValue
	j.FinishedAt = &now
	j.LeaseExpiresAt = nil
	j.AttemptsMade++
	j.TimeoutStreak = 0
	if err := s.store.UpdateJob(ctx, j); err != nil {
		return err
	}

	elapsed := time.Duration(0)
	if j.StartedAt != nil {
		elapsed = now.Sub(*j.StartedAt)
	}
	s.logger.Debug("job completed",
		slog.String("job_id", j.ID.String()),
		slog.String("queue", j.Queue),
		slog.Duration("elapsed", elapsed),
	)
	if s.hooks != nil {
		s.hooks.EmitJobCompleted(ctx, j, elapsed)
	}
	return nil
}

// Release returns a leased job to the queue without counting an
// attempt. Workers use it when they lease a job they cannot run yet,
// for example when a per-queue concurrency limit is saturated. The
// job becomes leasable again after delay.
func (s *Service) Release(ctx context.Context, jobID id.JobID, workerID id.WorkerID, delay time.Duration) error {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.State != job.StateActive {
		return fmt.Errorf("conveyor: release %s in state %q: %w", jobID, j.State, conveyor.ErrInvalidState)
	}
	if !workerID.IsNil() && j.WorkerID != workerID {
		return conveyor.ErrLeaseLost
	}

	j.State = job.StateWaiting
	j.WorkerID = id.Nil
	j.StartedAt = nil
	j.LeaseExpiresAt = nil
	j.AvailableAt = time.Now().UTC().Add(delay)
	return s.store.UpdateJob(ctx, j)
}

// Nack reports a failed attempt on an active job. The retry policy
// decides between a delayed retry and the dead letter queue. A
// duplicate nack on a job that already left the active state is a
// no-op.
func (s *Service) Nack(ctx context.Context, jobID id.JobID, workerID id.WorkerID, jobErr error) error {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	switch j.State {
	case job.StateActive:
		// fallthrough to failure handling below
	case job.StateWaiting, job.StateDelayed, job.StateDeadLettered:
		return nil
	default:
		return fmt.Errorf("conveyor: nack %s in state %q: %w", jobID, j.State, conveyor.ErrInvalidState)
	}
	if !workerID.IsNil() && j.WorkerID != workerID {
		return conveyor.ErrLeaseLost
	}

	return s.fail(ctx, j, jobErr)
}

// fail applies the retry policy to an active job that just failed.
// Shared by Nack and the reaper.
func (s *Service) fail(ctx context.Context, j *job.Job, jobErr error) error {
	now := time.Now().UTC()
	kind := conveyor.KindOf(jobErr)

	j.AttemptsMade++
	if kind == conveyor.KindTimeout {
		j.TimeoutStreak++
	} else {
		j.TimeoutStreak = 0
	}
	j.LastError = &job.FailureInfo{
		Message: jobErr.Error(),
		Kind:    kind,
		At:      now,
	}
	j.WorkerID = id.Nil
	j.LeaseExpiresAt = nil

	decision := s.policy.Decide(j.AttemptsMade, j.MaxAttempts, kind, j.TimeoutStreak)

	if s.hooks != nil {
		s.hooks.EmitJobFailed(ctx, j, jobErr)
	}

	if decision.Retry {
		j.State = job.StateDelayed
		j.AvailableAt = now.Add(decision.Delay)
		if err := s.store.UpdateJob(ctx, j); err != nil {
			return err
		}
		s.logger.Info("job failed, retry scheduled",
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.Int("attempt", j.AttemptsMade),
			slog.Time("next_at", j.AvailableAt),
			slog.String("error", jobErr.Error()),
		)
		if s.hooks != nil {
			s.hooks.EmitJobDelayed(ctx, j, j.AttemptsMade, j.AvailableAt)
		}
		return nil
	}

	j.State = job.StateDeadLettered
	j.FinishedAt = &now
	if err := s.store.UpdateJob(ctx, j); err != nil {
		return err
	}
	if err := s.dlq.Push(ctx, j, jobErr); err != nil {
		return err
	}
	s.logger.Warn("job dead lettered",
		slog.String("job_id", j.ID.String()),
		slog.String("queue", j.Queue),
		slog.Int("attempts", j.AttemptsMade),
		slog.String("kind", string(kind)),
		slog.String("error", jobErr.Error()),
	)
	if s.hooks != nil {
		s.hooks.EmitJobDeadLettered(ctx, j, jobErr)
	}
	return nil
}

// ReclaimExpired applies nack semantics to active jobs whose lease has
// lapsed. The expiry counts as a timed-out attempt, so a crashing
// handler still burns its budget rather than looping forever.
func (s *Service) ReclaimExpired(ctx context.Context, limit int) (int, error) {
	expired, err := s.store.ExpiredLeases(ctx, limit)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, j := range expired {
		leaseErr := conveyor.Timeout(fmt.Errorf("lease expired on worker %s", j.WorkerID))
		if err := s.fail(ctx, j, leaseErr); err != nil {
			s.logger.Error("reclaim failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}

// ──────────────────────────────────────────────────
// Operator side
// ──────────────────────────────────────────────────

// Pause stops the queue from handing out leases. Enqueues and
// in-flight jobs are unaffected.
func (s *Service) Pause(ctx context.Context, queue string) error {
	if err := s.store.SetQueuePaused(ctx, queue, true); err != nil {
		return err
	}
	s.logger.Info("queue paused", slog.String("queue", queue))
	if s.hooks != nil {
		s.hooks.EmitQueuePaused(ctx, queue)
	}
	return nil
}

// Resume lets a paused queue hand out leases again.
func (s *Service) Resume(ctx context.Context, queue string) error {
	if err := s.store.SetQueuePaused(ctx, queue, false); err != nil {
		return err
	}
	s.logger.Info("queue resumed", slog.String("queue", queue))
	if s.hooks != nil {
		s.hooks.EmitQueueResumed(ctx, queue)
	}
	return nil
}

// PurgeOpts controls which jobs a purge removes.
type PurgeOpts struct {
	// States to remove. Defaults to the terminal states (completed,
	// failed, dead_lettered).
	States []job.State
	// Force permits purging non-terminal states. Active jobs are
	// failed with nack semantics before removal.
	Force bool
	// OlderThan restricts the purge to jobs created at least this
	// long ago. Zero purges everything up to the request time.
	OlderThan time.Duration
}

// Purge removes jobs from a queue. Only jobs that existed when the
// purge was requested are affected; concurrent enqueues survive.
func (s *Service) Purge(ctx context.Context, queue string, opts PurgeOpts) (int64, error) {
	states := opts.States
	if len(states) == 0 {
		states = []job.State{job.StateCompleted, job.StateFailed, job.StateDeadLettered}
	}

	var purgeActive bool
	remaining := make([]job.State, 0, len(states))
	for _, st := range states {
		if !st.Terminal() && !opts.Force {
			return 0, fmt.Errorf("conveyor: purge state %q: %w", st, conveyor.ErrPurgeLiveStates)
		}
		if st == job.StateActive {
			purgeActive = true
			continue
		}
		remaining = append(remaining, st)
	}

	cutoff := time.Now().UTC()
	if opts.OlderThan > 0 {
		cutoff = cutoff.Add(-opts.OlderThan)
	}
	var total int64

	if purgeActive {
		active, err := s.store.ListJobs(ctx, job.ListOpts{Queue: queue, State: job.StateActive})
		if err != nil {
			return 0, err
		}
		for _, j := range active {
			if j.CreatedAt.After(cutoff) {
				continue
			}
			purgeErr := conveyor.Permanent(errors.New("purged by operator"))
			if err := s.fail(ctx, j, purgeErr); err != nil {
				return total, err
			}
			if err := s.store.DeleteJob(ctx, j.ID); err != nil && !errors.Is(err, conveyor.ErrJobNotFound) {
				return total, err
			}
			total++
		}
	}

	n, err := s.store.PurgeJobs(ctx, queue, remaining, cutoff)
	if err != nil {
		return total, err
	}
	total += n

	s.logger.Info("queue purged",
		slog.String("queue", queue),
		slog.Int64("removed", total),
	)
	return total, nil
}

// Cancel moves a waiting or delayed job to the failed state so it will
// never run. Active jobs cannot be cancelled; their attempt finishes
// or times out first.
func (s *Service) Cancel(ctx context.Context, jobID id.JobID) error {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !j.State.Leasable() {
		return fmt.Errorf("conveyor: cancel %s in state %q: %w", jobID, j.State, conveyor.ErrInvalidState)
	}

	now := time.Now().UTC()
	cancelErr := errors.New("cancelled by operator")
	j.State = job.StateFailed
	j.LastError = &job.FailureInfo{Message: cancelErr.Error(), Kind: conveyor.KindPermanent, At: now}
	j.FinishedAt = &now
	if err := s.store.UpdateJob(ctx, j); err != nil {
		return err
	}

	s.logger.Info("job cancelled", slog.String("job_id", jobID.String()))
	if s.hooks != nil {
		s.hooks.EmitJobFailed(ctx, j, cancelErr)
	}
	return nil
}

// Retry re-enqueues a cancelled job. The attempt budget resets; the
// last error stays on the record.
func (s *Service) Retry(ctx context.Context, jobID id.JobID) error {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.State != job.StateFailed {
		return fmt.Errorf("conveyor: retry %s in state %q: %w", jobID, j.State, conveyor.ErrInvalidState)
	}

	j.State = job.StateWaiting
	j.AttemptsMade = 0
	j.TimeoutStreak = 0
	j.FinishedAt = nil
	j.AvailableAt = time.Now().UTC()
	if err := s.store.UpdateJob(ctx, j); err != nil {
		return err
	}

	s.logger.Info("job re-enqueued", slog.String("job_id", jobID.String()))
	if s.hooks != nil {
		s.hooks.EmitJobEnqueued(ctx, j)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Read side
// ──────────────────────────────────────────────────

// Get retrieves a single job.
func (s *Service) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// List returns jobs matching the given options.
func (s *Service) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return s.store.ListJobs(ctx, opts)
}

// Queues returns metadata for all known queues.
func (s *Service) Queues(ctx context.Context) ([]job.QueueInfo, error) {
	return s.store.ListQueues(ctx)
}

// Paused reports whether the queue is paused.
func (s *Service) Paused(ctx context.Context, queue string) (bool, error) {
	return s.store.QueuePaused(ctx, queue)
}
