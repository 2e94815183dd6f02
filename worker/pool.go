package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/id"
	"github.com/pressline/conveyor/queue"
)

// QueueManager gates job execution per queue. Implementations enforce
// rate limits and per-queue concurrency caps.
type QueueManager interface {
	// Acquire returns true if a job from the queue may run now. The
	// caller MUST call Release when the job finishes.
	Acquire(queue string) bool
	// Release signals that a job from the queue has finished.
	Release(queue string)
}

// Pool manages a fixed set of worker goroutines that lease jobs from
// the queue service and execute them. Each pool instance identifies
// itself to the queue with a single worker ID; leases, heartbeats, and
// outcome reports all carry it.
type Pool struct {
	queue    *queue.Service
	executor *Executor
	manager  QueueManager
	logger   *slog.Logger

	workerID          id.WorkerID
	concurrency       int
	queues            []string
	pollInterval      time.Duration
	maxPollInterval   time.Duration
	heartbeatInterval time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	activeMu   sync.Mutex
	activeJobs map[id.JobID]context.CancelFunc

	leaseFailures atomic.Int64
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPoolQueues sets the queues the pool leases from.
func WithPoolQueues(queues ...string) PoolOption {
	return func(p *Pool) {
		if len(queues) > 0 {
			p.queues = queues
		}
	}
}

// WithPollInterval sets the idle sleep between lease attempts. When
// the queue stays empty the sleep doubles up to the maximum poll
// interval, then snaps back on the next leased job.
func WithPollInterval(d, max time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
		if max >= d {
			p.maxPollInterval = max
		}
	}
}

// WithHeartbeatInterval sets how often active leases are extended.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.heartbeatInterval = d
		}
	}
}

// WithQueueManager sets the per-queue rate and concurrency gate.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.manager = m }
}

// NewPool creates a worker pool over the queue service.
func NewPool(queueSvc *queue.Service, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:             queueSvc,
		executor:          executor,
		logger:            logger,
		workerID:          id.NewWorkerID(),
		concurrency:       10,
		queues:            []string{"default"},
		pollInterval:      250 * time.Millisecond,
		maxPollInterval:   5 * time.Second,
		heartbeatInterval: 10 * time.Second,
		stopCh:            make(chan struct{}),
		activeJobs:        make(map[id.JobID]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the identity this pool presents to the queue.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines and the heartbeat loop.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.dequeueLoop()
	}
	p.wg.Add(1)
	go p.heartbeatLoop()

	p.logger.Info("worker pool started",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)
	return nil
}

// Stop drains the pool. New leases stop immediately; in-flight jobs get
// until the context deadline to finish, then their contexts are
// cancelled so handlers can nack and exit.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("shutdown deadline reached, cancelling active jobs",
			slog.Int("active", p.activeCount()),
		)
		p.cancelActiveJobs()
		<-done
	}

	p.logger.Info("worker pool stopped", slog.String("worker_id", p.workerID.String()))
	return nil
}

// Healthy reports whether the pool can reach the queue. It turns false
// after several consecutive lease failures and recovers on the next
// successful lease.
func (p *Pool) Healthy() bool {
	return p.leaseFailures.Load() < 5
}

// ──────────────────────────────────────────────────
// Loops
// ──────────────────────────────────────────────────

func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	idle := p.pollInterval
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		ctx := context.Background()
		jobs, err := p.queue.Lease(ctx, p.queues, p.workerID, 1)
		if err != nil {
			p.leaseFailures.Add(1)
			p.logger.Error("lease error", slog.String("error", err.Error()))
			if !p.sleep(idle) {
				return
			}
			continue
		}
		p.leaseFailures.Store(0)

		if len(jobs) == 0 {
			if !p.sleep(idle) {
				return
			}
			// Empty queue, back off up to the cap.
			idle *= 2
			if idle > p.maxPollInterval {
				idle = p.maxPollInterval
			}
			continue
		}
		idle = p.pollInterval

		j := jobs[0]
		if p.manager != nil && !p.manager.Acquire(j.Queue) {
			// Queue is throttled. Hand the job back without burning
			// an attempt and let another tick pick it up.
			if err := p.queue.Release(ctx, j.ID, p.workerID, p.pollInterval); err != nil {
				p.logger.Error("release error",
					slog.String("job_id", j.ID.String()),
					slog.String("error", err.Error()),
				)
			}
			if !p.sleep(p.pollInterval) {
				return
			}
			continue
		}

		p.runJob(j.ID, func(jobCtx context.Context) {
			if err := p.executor.Execute(jobCtx, p.workerID, j); err != nil {
				p.logger.Error("execute error",
					slog.String("job_id", j.ID.String()),
					slog.String("error", err.Error()),
				)
			}
		})
		if p.manager != nil {
			p.manager.Release(j.Queue)
		}
	}
}

func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.heartbeat()
		}
	}
}

// heartbeat extends the lease of every active job. A job whose lease
// cannot be extended has been reclaimed or removed; its context is
// cancelled so the handler stops doing work nobody will accept.
func (p *Pool) heartbeat() {
	ctx := context.Background()
	for _, jobID := range p.activeIDs() {
		err := p.queue.ExtendLease(ctx, jobID, p.workerID)
		if err == nil {
			continue
		}
		if errors.Is(err, conveyor.ErrLeaseLost) || errors.Is(err, conveyor.ErrJobNotFound) {
			p.logger.Warn("lease lost, cancelling job",
				slog.String("job_id", jobID.String()),
			)
			p.cancelJob(jobID)
			continue
		}
		p.logger.Error("heartbeat error",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// ──────────────────────────────────────────────────
// Active job tracking
// ──────────────────────────────────────────────────

func (p *Pool) runJob(jobID id.JobID, run func(context.Context)) {
	jobCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()

	defer func() {
		p.activeMu.Lock()
		delete(p.activeJobs, jobID)
		p.activeMu.Unlock()
	}()

	run(jobCtx)
}

func (p *Pool) activeIDs() []id.JobID {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	ids := make([]id.JobID, 0, len(p.activeJobs))
	for jobID := range p.activeJobs {
		ids = append(ids, jobID)
	}
	return ids
}

func (p *Pool) activeCount() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.activeJobs)
}

func (p *Pool) cancelJob(jobID id.JobID) {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	if cancel, ok := p.activeJobs[jobID]; ok {
		cancel()
	}
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for _, cancel := range p.activeJobs {
		cancel()
	}
}

// sleep waits for d or until the pool stops. It returns false when the
// pool is stopping.
func (p *Pool) sleep(d time.Duration) bool {
	select {
	case <-p.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}
