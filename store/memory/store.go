// Package memory provides a fully in-memory store backend.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/dlq"
	"github.com/pressline/conveyor/id"
	"github.com/pressline/conveyor/job"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store = (*Store)(nil)
	_ dlq.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	jobs   map[string]*job.Job
	dlqs   map[string]*dlq.Entry
	queues map[string]*job.QueueInfo
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:   make(map[string]*job.Job),
		dlqs:   make(map[string]*dlq.Entry),
		queues: make(map[string]*job.QueueInfo),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return conveyor.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	m.touchQueueLocked(j.Queue)
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, conveyor.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// FindJobByIdempotencyKey returns the job holding the key on the queue.
// Dead lettered and cancelled jobs release their key.
func (m *Store) FindJobByIdempotencyKey(_ context.Context, queue, key string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, j := range m.jobs {
		if j.Queue != queue || j.IdempotencyKey != key {
			continue
		}
		if j.State == job.StateDeadLettered || j.State == job.StateFailed {
			continue
		}
		cp := *j
		return &cp, nil
	}
	return nil, conveyor.ErrJobNotFound
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return conveyor.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return conveyor.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// LeaseJobs atomically claims up to limit leasable jobs from the given
// queues, sets them to active, and returns them.
func (m *Store) LeaseJobs(_ context.Context, queues []string, workerID id.WorkerID, limit int, leaseFor time.Duration) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queueSet := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		queueSet[q] = struct{}{}
	}

	now := time.Now().UTC()

	// Collect candidates.
	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if !j.State.Leasable() {
			continue
		}
		if j.AvailableAt.After(now) {
			continue
		}
		if len(queueSet) > 0 {
			if _, ok := queueSet[j.Queue]; !ok {
				continue
			}
		}
		if q, ok := m.queues[j.Queue]; ok && q.Paused {
			continue
		}
		candidates = append(candidates, j)
	}

	// Sort: priority ASC (lower first), then AvailableAt, then CreatedAt.
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority < candidates[k].Priority
		}
		if !candidates[i].AvailableAt.Equal(candidates[k].AvailableAt) {
			return candidates[i].AvailableAt.Before(candidates[k].AvailableAt)
		}
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.State = job.StateActive
		j.WorkerID = workerID
		started := now
		j.StartedAt = &started
		expires := now.Add(leaseFor)
		j.LeaseExpiresAt = &expires
		j.UpdatedAt = now
		// Return a copy so callers can mutate without racing with the store.
		cp := *j
		result[i] = &cp
	}

	return result, nil
}

// ExtendLease pushes the lease expiry of an active job owned by workerID.
func (m *Store) ExtendLease(_ context.Context, jobID id.JobID, workerID id.WorkerID, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return conveyor.ErrJobNotFound
	}
	if j.State != job.StateActive || j.WorkerID != workerID {
		return conveyor.ErrLeaseLost
	}
	u := until
	j.LeaseExpiresAt = &u
	return nil
}

// ExpiredLeases returns active jobs whose lease has lapsed.
func (m *Store) ExpiredLeases(_ context.Context, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UTC()
	var expired []*job.Job
	for _, j := range m.jobs {
		if j.State != job.StateActive {
			continue
		}
		if j.LeaseExpiresAt == nil || j.LeaseExpiresAt.After(now) {
			continue
		}
		cp := *j
		expired = append(expired, &cp)
		if limit > 0 && len(expired) >= limit {
			break
		}
	}
	return expired, nil
}

// ListJobs returns jobs matching the given options, newest first.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	// Apply offset / limit.
	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// CountJobsByState returns per-state counts for one queue, or all
// queues combined when queue is empty.
func (m *Store) CountJobsByState(_ context.Context, queue string) (map[job.State]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[job.State]int64)
	for _, j := range m.jobs {
		if queue != "" && j.Queue != queue {
			continue
		}
		counts[j.State]++
	}
	return counts, nil
}

// PurgeJobs deletes jobs on the queue in any of the given states
// created at or before cutoff.
func (m *Store) PurgeJobs(_ context.Context, queue string, states []job.State, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stateSet := make(map[job.State]struct{}, len(states))
	for _, s := range states {
		stateSet[s] = struct{}{}
	}

	var count int64
	for key, j := range m.jobs {
		if queue != "" && j.Queue != queue {
			continue
		}
		if _, ok := stateSet[j.State]; !ok {
			continue
		}
		if j.CreatedAt.After(cutoff) {
			continue
		}
		delete(m.jobs, key)
		count++
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Queue metadata
// ──────────────────────────────────────────────────

// touchQueueLocked records queue metadata on first use. Caller holds mu.
func (m *Store) touchQueueLocked(name string) {
	if _, ok := m.queues[name]; !ok {
		m.queues[name] = &job.QueueInfo{Name: name, CreatedAt: time.Now().UTC()}
	}
}

// TouchQueue records queue metadata on first use. Idempotent.
func (m *Store) TouchQueue(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.touchQueueLocked(name)
	return nil
}

// SetQueuePaused pauses or resumes a queue.
func (m *Store) SetQueuePaused(_ context.Context, name string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.touchQueueLocked(name)
	m.queues[name].Paused = paused
	return nil
}

// QueuePaused reports whether the queue is paused.
func (m *Store) QueuePaused(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.queues[name]
	if !ok {
		return false, nil
	}
	return q.Paused, nil
}

// ListQueues returns metadata for all known queues.
func (m *Store) ListQueues(_ context.Context) ([]job.QueueInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]job.QueueInfo, 0, len(m.queues))
	for _, q := range m.queues {
		result = append(result, *q)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].Name < result[k].Name
	})

	return result, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds a dead lettered job entry.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, conveyor.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// SearchDLQ returns entries matching the given options, newest
// failures first.
func (m *Store) SearchDLQ(_ context.Context, opts dlq.SearchOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := strings.ToLower(opts.Query)

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		if query != "" && !entryMatches(e, query) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.After(result[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// entryMatches reports whether the lowercased query hits the entry's
// job ID, idempotency key, or failure reason.
func entryMatches(e *dlq.Entry, query string) bool {
	if strings.Contains(strings.ToLower(e.JobID.String()), query) {
		return true
	}
	if strings.Contains(strings.ToLower(e.IdempotencyKey), query) {
		return true
	}
	return strings.Contains(strings.ToLower(e.Reason), query)
}

// MarkReplayed records the replay link on an entry.
func (m *Store) MarkReplayed(_ context.Context, entryID id.DLQID, newJobID id.JobID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return conveyor.ErrDLQNotFound
	}
	t := at
	e.ReplayedAt = &t
	e.ReplayedAs = newJobID
	return nil
}

// DeleteDLQ removes a single entry.
func (m *Store) DeleteDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	if _, ok := m.dlqs[key]; !ok {
		return conveyor.ErrDLQNotFound
	}
	delete(m.dlqs, key)
	return nil
}

// PurgeDLQ removes entries that failed at or before cutoff.
func (m *Store) PurgeDLQ(_ context.Context, queue string, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if queue != "" && e.Queue != queue {
			continue
		}
		if e.FailedAt.After(cutoff) {
			continue
		}
		delete(m.dlqs, key)
		count++
	}
	return count, nil
}

// CountDLQ returns the number of entries for a queue, or all queues
// when queue is empty.
func (m *Store) CountDLQ(_ context.Context, queue string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if queue == "" {
		return int64(len(m.dlqs)), nil
	}
	var count int64
	for _, e := range m.dlqs {
		if e.Queue == queue {
			count++
		}
	}
	return count, nil
}
