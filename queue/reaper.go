package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reaper periodically reclaims active jobs whose lease has expired,
// applying nack semantics through the queue service. It is the queue's
// safety net against workers that died without acking or nacking.
type Reaper struct {
	svc      *Service
	interval time.Duration
	batch    int
	logger   *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithReapInterval sets how often the reaper scans for expired leases.
func WithReapInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) { r.interval = d }
}

// WithReapBatch sets the maximum leases reclaimed per scan.
func WithReapBatch(n int) ReaperOption {
	return func(r *Reaper) { r.batch = n }
}

// NewReaper creates a reaper over the queue service.
func NewReaper(svc *Service, logger *slog.Logger, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		svc:      svc,
		interval: 15 * time.Second,
		batch:    100,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the reap loop. It returns immediately.
func (r *Reaper) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	r.running = true

	r.wg.Add(1)
	go r.loop()
	return nil
}

// Stop signals the loop to stop and waits for it to finish.
func (r *Reaper) Stop(_ context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()
	return nil
}

func (r *Reaper) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.reap()
		}
	}
}

func (r *Reaper) reap() {
	n, err := r.svc.ReclaimExpired(context.Background(), r.batch)
	if err != nil {
		r.logger.Error("reap error", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		r.logger.Info("reclaimed expired leases", slog.Int("count", n))
	}
}
