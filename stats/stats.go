// Package stats aggregates queue health figures from lifecycle hooks.
//
// The Aggregator counts events as they happen, keeps a ring of recent
// execution durations for latency percentiles, and reconciles its view
// of queue depths against the store on a short TTL so snapshots stay
// cheap under polling dashboards.
package stats

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pressline/conveyor/hook"
	"github.com/pressline/conveyor/id"
	"github.com/pressline/conveyor/job"
)

// Compile-time interface checks.
var (
	_ hook.Hook            = (*Aggregator)(nil)
	_ hook.JobEnqueued     = (*Aggregator)(nil)
	_ hook.JobCompleted    = (*Aggregator)(nil)
	_ hook.JobFailed       = (*Aggregator)(nil)
	_ hook.JobDelayed      = (*Aggregator)(nil)
	_ hook.JobDeadLettered = (*Aggregator)(nil)
	_ hook.JobReplayed     = (*Aggregator)(nil)
)

// ringSize is the number of recent durations kept per queue for
// latency percentiles.
const ringSize = 256

// throughputWindow is the trailing window used for the completion rate.
const throughputWindow = time.Minute

// QueueStats is a point-in-time view of one queue.
type QueueStats struct {
	Queue string `json:"queue"`

	// Depths per state, reconciled from the store.
	States map[job.State]int64 `json:"states"`

	// Process-lifetime event counters.
	Enqueued     int64 `json:"enqueued"`
	Completed    int64 `json:"completed"`
	Failed       int64 `json:"failed"`
	Retried      int64 `json:"retried"`
	DeadLettered int64 `json:"dead_lettered"`
	Replayed     int64 `json:"replayed"`

	// Latency over the recent duration ring.
	AvgDuration time.Duration `json:"avg_duration"`
	P95Duration time.Duration `json:"p95_duration"`

	// Completions per minute over the trailing window.
	ThroughputPerMin float64 `json:"throughput_per_min"`
}

type queueCounters struct {
	enqueued     int64
	completed    int64
	failed       int64
	retried      int64
	deadLettered int64
	replayed     int64

	durations []time.Duration // ring buffer, newest overwites oldest
	durIdx    int
	durFull   bool

	completions []time.Time
}

type cachedStates struct {
	states map[job.State]int64
	at     time.Time
}

// Aggregator collects per-queue statistics. Register it on the hook
// registry; read it through Snapshot and Overview.
type Aggregator struct {
	store job.Store
	ttl   time.Duration
	now   func() time.Time

	mu     sync.Mutex
	queues map[string]*queueCounters
	cache  map[string]cachedStates
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithReconcileTTL sets how long store-reconciled depth counts are
// cached between snapshots.
func WithReconcileTTL(d time.Duration) AggregatorOption {
	return func(a *Aggregator) { a.ttl = d }
}

// NewAggregator creates an Aggregator backed by the job store.
func NewAggregator(store job.Store, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		store:  store,
		ttl:    5 * time.Second,
		now:    time.Now,
		queues: make(map[string]*queueCounters),
		cache:  make(map[string]cachedStates),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements hook.Hook.
func (a *Aggregator) Name() string { return "stats" }

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnJobEnqueued implements hook.JobEnqueued.
func (a *Aggregator) OnJobEnqueued(_ context.Context, j *job.Job) error {
	a.withQueue(j.Queue, func(c *queueCounters) { c.enqueued++ })
	return nil
}

// OnJobCompleted implements hook.JobCompleted.
func (a *Aggregator) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	now := a.now()
	a.withQueue(j.Queue, func(c *queueCounters) {
		c.completed++
		c.record(elapsed)
		c.completions = append(c.completions, now)
	})
	return nil
}

// OnJobFailed implements hook.JobFailed.
func (a *Aggregator) OnJobFailed(_ context.Context, j *job.Job, _ error) error {
	a.withQueue(j.Queue, func(c *queueCounters) { c.failed++ })
	return nil
}

// OnJobDelayed implements hook.JobDelayed.
func (a *Aggregator) OnJobDelayed(_ context.Context, j *job.Job, _ int, _ time.Time) error {
	a.withQueue(j.Queue, func(c *queueCounters) { c.retried++ })
	return nil
}

// OnJobDeadLettered implements hook.JobDeadLettered.
func (a *Aggregator) OnJobDeadLettered(_ context.Context, j *job.Job, _ error) error {
	a.withQueue(j.Queue, func(c *queueCounters) { c.deadLettered++ })
	return nil
}

// OnJobReplayed implements hook.JobReplayed.
func (a *Aggregator) OnJobReplayed(_ context.Context, _ id.DLQID, j *job.Job) error {
	a.withQueue(j.Queue, func(c *queueCounters) { c.replayed++ })
	return nil
}

// ──────────────────────────────────────────────────
// Read side
// ──────────────────────────────────────────────────

// Snapshot returns the current statistics for one queue. Depth counts
// come from the store, cached for the reconcile TTL.
func (a *Aggregator) Snapshot(ctx context.Context, queue string) (*QueueStats, error) {
	states, err := a.reconcile(ctx, queue)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	s := &QueueStats{Queue: queue, States: states}
	c := a.queues[queue]
	if c == nil {
		return s, nil
	}

	s.Enqueued = c.enqueued
	s.Completed = c.completed
	s.Failed = c.failed
	s.Retried = c.retried
	s.DeadLettered = c.deadLettered
	s.Replayed = c.replayed
	s.AvgDuration, s.P95Duration = c.latency()
	s.ThroughputPerMin = c.throughput(a.now())
	return s, nil
}

// Overview returns statistics for every queue the store knows about.
func (a *Aggregator) Overview(ctx context.Context) ([]*QueueStats, error) {
	queues, err := a.store.ListQueues(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*QueueStats, 0, len(queues))
	for _, q := range queues {
		s, err := a.Snapshot(ctx, q.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (a *Aggregator) reconcile(ctx context.Context, queue string) (map[job.State]int64, error) {
	a.mu.Lock()
	cached, ok := a.cache[queue]
	a.mu.Unlock()
	if ok && a.now().Sub(cached.at) < a.ttl {
		return cached.states, nil
	}

	states, err := a.store.CountJobsByState(ctx, queue)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.cache[queue] = cachedStates{states: states, at: a.now()}
	a.mu.Unlock()
	return states, nil
}

func (a *Aggregator) withQueue(queue string, fn func(*queueCounters)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c := a.queues[queue]
	if c == nil {
		c = &queueCounters{durations: make([]time.Duration, ringSize)}
		a.queues[queue] = c
	}
	fn(c)
}

func (c *queueCounters) record(d time.Duration) {
	c.durations[c.durIdx] = d
	c.durIdx++
	if c.durIdx == ringSize {
		c.durIdx = 0
		c.durFull = true
	}
}

func (c *queueCounters) latency() (avg, p95 time.Duration) {
	n := c.durIdx
	if c.durFull {
		n = ringSize
	}
	if n == 0 {
		return 0, 0
	}

	sorted := make([]time.Duration, n)
	copy(sorted, c.durations[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	idx := (n * 95) / 100
	if idx >= n {
		idx = n - 1
	}
	return sum / time.Duration(n), sorted[idx]
}

// throughput prunes completions outside the trailing window and
// returns the per-minute rate.
func (c *queueCounters) throughput(now time.Time) float64 {
	cutoff := now.Add(-throughputWindow)
	keep := c.completions[:0]
	for _, t := range c.completions {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	c.completions = keep
	return float64(len(keep)) / throughputWindow.Minutes()
}
