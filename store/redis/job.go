package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/id"
	"github.com/pressline/conveyor/job"
)

// CreateJob stores the job as a Hash and indexes it for leasing.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	// Check for duplicate.
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: create check exists: %w", err)
	}
	if exists > 0 {
		return conveyor.ErrJobAlreadyExists
	}

	now := time.Now().UTC()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	indexJob(ctx, pipe, j, now)
	if j.IdempotencyKey != "" {
		pipe.HSet(ctx, idempotencyKey(j.Queue), j.IdempotencyKey, jID)
	}
	pipe.SAdd(ctx, queueNamesKey, j.Queue)
	pipe.HSetNX(ctx, queueMetaKey(j.Queue), "paused", "0")
	pipe.HSetNX(ctx, queueMetaKey(j.Queue), "created_at", now.Format(time.RFC3339Nano))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// FindJobByIdempotencyKey returns the job holding the key on the queue.
// Dead lettered and cancelled jobs release their key.
func (s *Store) FindJobByIdempotencyKey(ctx context.Context, queue, key string) (*job.Job, error) {
	jID, err := s.client.HGet(ctx, idempotencyKey(queue), key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/redis: idempotency lookup: %w", err)
	}

	j, err := s.getJobByKey(ctx, jobKey(jID))
	if err != nil {
		if errors.Is(err, conveyor.ErrJobNotFound) {
			// The job is gone; drop the stale mapping.
			s.releaseIdempotency(ctx, queue, key, jID)
		}
		return nil, err
	}
	if j.State == job.StateDeadLettered || j.State == job.StateFailed {
		s.releaseIdempotency(ctx, queue, key, jID)
		return nil, conveyor.ErrJobNotFound
	}
	return j, nil
}

// UpdateJob persists changes to an existing job and reindexes it.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return conveyor.ErrJobNotFound
	}

	now := time.Now().UTC()
	fields := jobToMap(j)
	fields["updated_at"] = now.Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	indexJob(ctx, pipe, j, now)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: update job: %w", err)
	}

	// Dead lettered and cancelled jobs release their idempotency key.
	if j.IdempotencyKey != "" && (j.State == job.StateDeadLettered || j.State == job.StateFailed) {
		s.releaseIdempotency(ctx, j.Queue, j.IdempotencyKey, jID)
	}
	return nil
}

// DeleteJob removes a job and all its index entries.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()

	j, err := s.getJobByKey(ctx, jobKey(jID))
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, jobKey(jID))
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.ZRem(ctx, readyKey(j.Queue), jID)
	pipe.ZRem(ctx, delayedKey(j.Queue), jID)
	pipe.ZRem(ctx, leasesKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: delete job: %w", err)
	}

	if j.IdempotencyKey != "" {
		s.releaseIdempotency(ctx, j.Queue, j.IdempotencyKey, jID)
	}
	return nil
}

// LeaseJobs claims up to limit leasable jobs from the given queues,
// sets them to active, and returns them. Due delayed jobs are promoted
// into the ready set first. Paused queues are skipped. ZPopMin makes
// each claim exclusive.
func (s *Store) LeaseJobs(ctx context.Context, queues []string, workerID id.WorkerID, limit int, leaseFor time.Duration) ([]*job.Job, error) {
	now := time.Now().UTC()

	if len(queues) == 0 {
		var err error
		queues, err = s.client.SMembers(ctx, queueNamesKey).Result()
		if err != nil {
			return nil, fmt.Errorf("conveyor/redis: lease list queues: %w", err)
		}
		sort.Strings(queues)
	}

	var leased []*job.Job
	for _, q := range queues {
		if limit > 0 && len(leased) >= limit {
			break
		}

		paused, err := s.client.HGet(ctx, queueMetaKey(q), "paused").Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("conveyor/redis: lease check paused: %w", err)
		}
		if paused == "1" {
			continue
		}

		if err := s.promoteDelayed(ctx, q, now); err != nil {
			return nil, err
		}

		// A non-positive limit means no cap: drain the ready set.
		remaining := int64(limit - len(leased))
		if limit <= 0 {
			size, err := s.client.ZCard(ctx, readyKey(q)).Result()
			if err != nil {
				return nil, fmt.Errorf("conveyor/redis: lease zcard: %w", err)
			}
			if size == 0 {
				continue
			}
			remaining = size
		}
		members, err := s.client.ZPopMin(ctx, readyKey(q), remaining).Result()
		if err != nil {
			return nil, fmt.Errorf("conveyor/redis: lease zpopmin: %w", err)
		}

		for _, z := range members {
			jID, ok := z.Member.(string)
			if !ok {
				continue
			}

			j, getErr := s.getJobByKey(ctx, jobKey(jID))
			if getErr != nil {
				if errors.Is(getErr, conveyor.ErrJobNotFound) {
					continue // index entry outlived the job
				}
				return nil, getErr
			}
			if !j.State.Leasable() || j.AvailableAt.After(now) {
				// Stale index entry; put the job back where it belongs.
				pipe := s.client.TxPipeline()
				indexJob(ctx, pipe, j, now)
				if _, err := pipe.Exec(ctx); err != nil {
					return nil, fmt.Errorf("conveyor/redis: lease reindex: %w", err)
				}
				continue
			}

			started := now
			expires := now.Add(leaseFor)
			j.State = job.StateActive
			j.WorkerID = workerID
			j.StartedAt = &started
			j.LeaseExpiresAt = &expires
			j.UpdatedAt = now

			pipe := s.client.TxPipeline()
			pipe.HSet(ctx, jobKey(jID),
				"state", string(job.StateActive),
				"worker_id", workerID.String(),
				"started_at", started.Format(time.RFC3339Nano),
				"lease_expires_at", expires.Format(time.RFC3339Nano),
				"updated_at", now.Format(time.RFC3339Nano),
			)
			pipe.ZAdd(ctx, leasesKey, goredis.Z{Score: float64(expires.UnixMilli()), Member: jID})
			if _, err := pipe.Exec(ctx); err != nil {
				return nil, fmt.Errorf("conveyor/redis: lease claim: %w", err)
			}

			leased = append(leased, j)
		}
	}
	return leased, nil
}

// promoteDelayed moves due members of the delayed set into the ready set.
func (s *Store) promoteDelayed(ctx context.Context, queue string, now time.Time) error {
	due, err := s.client.ZRangeByScore(ctx, delayedKey(queue), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: promote delayed: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	for _, jID := range due {
		vals, err := s.client.HMGet(ctx, jobKey(jID), "priority", "available_at").Result()
		if err != nil {
			return fmt.Errorf("conveyor/redis: promote read: %w", err)
		}

		pipe := s.client.TxPipeline()
		pipe.ZRem(ctx, delayedKey(queue), jID)
		if prio, avail, ok := promoScore(vals); ok {
			pipe.ZAdd(ctx, readyKey(queue), goredis.Z{Score: leaseScore(prio, avail), Member: jID})
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("conveyor/redis: promote move: %w", err)
		}
	}
	return nil
}

// promoScore extracts priority and availability from an HMGet result.
func promoScore(vals []interface{}) (int, time.Time, bool) {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return 0, time.Time{}, false
	}
	prioStr, ok1 := vals[0].(string)
	availStr, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return 0, time.Time{}, false
	}
	prio, _ := strconv.Atoi(prioStr)                   //nolint:errcheck // best-effort parse from trusted Redis data
	avail, _ := time.Parse(time.RFC3339Nano, availStr) //nolint:errcheck // best-effort parse from trusted Redis data
	return prio, avail, true
}

// ExtendLease pushes the lease expiry of an active job owned by workerID.
func (s *Store) ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, until time.Time) error {
	j, err := s.getJobByKey(ctx, jobKey(jobID.String()))
	if err != nil {
		return err
	}
	if j.State != job.StateActive || j.WorkerID != workerID {
		return conveyor.ErrLeaseLost
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(jobID.String()),
		"lease_expires_at", until.UTC().Format(time.RFC3339Nano),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	)
	pipe.ZAdd(ctx, leasesKey, goredis.Z{Score: float64(until.UnixMilli()), Member: jobID.String()})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: extend lease: %w", err)
	}
	return nil
}

// ExpiredLeases returns active jobs whose lease has lapsed, soonest
// expired first.
func (s *Store) ExpiredLeases(ctx context.Context, limit int) ([]*job.Job, error) {
	rng := &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(time.Now().UTC().UnixMilli(), 10),
	}
	if limit > 0 {
		rng.Count = int64(limit)
	}

	ids, err := s.client.ZRangeByScore(ctx, leasesKey, rng).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: expired leases: %w", err)
	}

	var expired []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			if errors.Is(getErr, conveyor.ErrJobNotFound) {
				s.client.ZRem(ctx, leasesKey, jID)
				continue
			}
			return nil, getErr
		}
		if j.State != job.StateActive {
			s.client.ZRem(ctx, leasesKey, jID)
			continue
		}
		expired = append(expired, j)
	}
	return expired, nil
}

// ListJobs returns jobs matching the given options, newest first.
// This is a full scan; fine for inspection, not for hot paths.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list jobs smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("conveyor/redis: count smembers: %w", err)
	}

	var count int64
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		count++
	}
	return count, nil
}

// CountJobsByState returns per-state counts for one queue, or all
// queues combined when queue is empty.
func (s *Store) CountJobsByState(ctx context.Context, queue string) (map[job.State]int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: count by state smembers: %w", err)
	}

	counts := make(map[job.State]int64)
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if queue != "" && j.Queue != queue {
			continue
		}
		counts[j.State]++
	}
	return counts, nil
}

// PurgeJobs deletes jobs on the queue in any of the given states
// created at or before cutoff.
func (s *Store) PurgeJobs(ctx context.Context, queue string, states []job.State, cutoff time.Time) (int64, error) {
	stateSet := make(map[job.State]struct{}, len(states))
	for _, st := range states {
		stateSet[st] = struct{}{}
	}

	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("conveyor/redis: purge smembers: %w", err)
	}

	var count int64
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if queue != "" && j.Queue != queue {
			continue
		}
		if _, ok := stateSet[j.State]; !ok {
			continue
		}
		if j.CreatedAt.After(cutoff) {
			continue
		}
		if err := s.DeleteJob(ctx, j.ID); err != nil {
			if errors.Is(err, conveyor.ErrJobNotFound) {
				continue
			}
			return count, err
		}
		count++
	}
	return count, nil
}

// TouchQueue records queue metadata on first use. Idempotent.
func (s *Store) TouchQueue(ctx context.Context, name string) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, queueNamesKey, name)
	pipe.HSetNX(ctx, queueMetaKey(name), "paused", "0")
	pipe.HSetNX(ctx, queueMetaKey(name), "created_at", time.Now().UTC().Format(time.RFC3339Nano))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: touch queue: %w", err)
	}
	return nil
}

// SetQueuePaused pauses or resumes a queue, registering it if unknown.
func (s *Store) SetQueuePaused(ctx context.Context, name string, paused bool) error {
	if err := s.TouchQueue(ctx, name); err != nil {
		return err
	}
	val := "0"
	if paused {
		val = "1"
	}
	if err := s.client.HSet(ctx, queueMetaKey(name), "paused", val).Err(); err != nil {
		return fmt.Errorf("conveyor/redis: set queue paused: %w", err)
	}
	return nil
}

// QueuePaused reports whether the queue is paused. Unknown queues are
// not paused.
func (s *Store) QueuePaused(ctx context.Context, name string) (bool, error) {
	paused, err := s.client.HGet(ctx, queueMetaKey(name), "paused").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("conveyor/redis: queue paused: %w", err)
	}
	return paused == "1", nil
}

// ListQueues returns metadata for all known queues, sorted by name.
func (s *Store) ListQueues(ctx context.Context) ([]job.QueueInfo, error) {
	names, err := s.client.SMembers(ctx, queueNamesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list queues: %w", err)
	}
	sort.Strings(names)

	queues := make([]job.QueueInfo, 0, len(names))
	for _, name := range names {
		meta, err := s.client.HGetAll(ctx, queueMetaKey(name)).Result()
		if err != nil {
			return nil, fmt.Errorf("conveyor/redis: queue meta: %w", err)
		}
		q := job.QueueInfo{Name: name, Paused: meta["paused"] == "1"}
		if v := meta["created_at"]; v != "" {
			q.CreatedAt, _ = time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		}
		queues = append(queues, q)
	}
	return queues, nil
}

// ── helpers ──

// leaseScore computes a sorted-set score for the ready set. Lower
// priority values lease first; a fractional time component keeps FIFO
// order within a priority. The fraction is below float64 resolution
// for jobs due within ~0.2ms of each other, and such ties fall back to
// Redis's lexicographic member ordering. Members are job TypeIDs,
// which sort by creation time, so the tie-break still comes out in
// enqueue order.
func leaseScore(priority int, availableAt time.Time) float64 {
	return float64(priority) + float64(availableAt.UnixMilli())/1e15
}

// indexJob queues the index updates implied by the job's state onto
// the pipeline: ready or delayed for leasable states, leases for
// active, nothing for terminal states.
func indexJob(ctx context.Context, pipe goredis.Pipeliner, j *job.Job, now time.Time) {
	jID := j.ID.String()

	switch {
	case j.State.Leasable() && j.AvailableAt.After(now):
		pipe.ZRem(ctx, readyKey(j.Queue), jID)
		pipe.ZRem(ctx, leasesKey, jID)
		pipe.ZAdd(ctx, delayedKey(j.Queue), goredis.Z{Score: float64(j.AvailableAt.UnixMilli()), Member: jID})
	case j.State.Leasable():
		pipe.ZRem(ctx, delayedKey(j.Queue), jID)
		pipe.ZRem(ctx, leasesKey, jID)
		pipe.ZAdd(ctx, readyKey(j.Queue), goredis.Z{Score: leaseScore(j.Priority, j.AvailableAt), Member: jID})
	case j.State == job.StateActive:
		pipe.ZRem(ctx, readyKey(j.Queue), jID)
		pipe.ZRem(ctx, delayedKey(j.Queue), jID)
		if j.LeaseExpiresAt != nil {
			pipe.ZAdd(ctx, leasesKey, goredis.Z{Score: float64(j.LeaseExpiresAt.UnixMilli()), Member: jID})
		}
	default:
		pipe.ZRem(ctx, readyKey(j.Queue), jID)
		pipe.ZRem(ctx, delayedKey(j.Queue), jID)
		pipe.ZRem(ctx, leasesKey, jID)
	}
}

// releaseIdempotency drops the key mapping if it still points at jID.
func (s *Store) releaseIdempotency(ctx context.Context, queue, key, jID string) {
	current, err := s.client.HGet(ctx, idempotencyKey(queue), key).Result()
	if err != nil || current != jID {
		return
	}
	s.client.HDel(ctx, idempotencyKey(queue), key)
}

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":              j.ID.String(),
		"queue":           j.Queue,
		"payload":         string(j.Payload),
		"idempotency_key": j.IdempotencyKey,
		"state":           string(j.State),
		"priority":        strconv.Itoa(j.Priority),
		"max_attempts":    strconv.Itoa(j.MaxAttempts),
		"attempts_made":   strconv.Itoa(j.AttemptsMade),
		"timeout_streak":  strconv.Itoa(j.TimeoutStreak),
		"return_value":    string(j.ReturnValue),
		"replay_of":       j.ReplayOf.String(),
		"worker_id":       j.WorkerID.String(),
		"timeout":         strconv.FormatInt(int64(j.Timeout), 10),
		"available_at":    j.AvailableAt.Format(time.RFC3339Nano),
		"created_at":      j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":      j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.LastError != nil {
		m["last_error"] = marshalJSON(j.LastError)
	} else {
		m["last_error"] = ""
	}
	if j.LeaseExpiresAt != nil {
		m["lease_expires_at"] = j.LeaseExpiresAt.Format(time.RFC3339Nano)
	} else {
		m["lease_expires_at"] = ""
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	} else {
		m["started_at"] = ""
	}
	if j.FinishedAt != nil {
		m["finished_at"] = j.FinishedAt.Format(time.RFC3339Nano)
	} else {
		m["finished_at"] = ""
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, conveyor.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])            //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])     //nolint:errcheck // best-effort parse from trusted Redis data
	attemptsMade, _ := strconv.Atoi(m["attempts_made"])   //nolint:errcheck // best-effort parse from trusted Redis data
	timeoutStreak, _ := strconv.Atoi(m["timeout_streak"]) //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64)  //nolint:errcheck // best-effort parse from trusted Redis data

	availableAt, _ := time.Parse(time.RFC3339Nano, m["available_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])     //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])     //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		ID:             jID,
		Queue:          m["queue"],
		Payload:        []byte(m["payload"]),
		IdempotencyKey: m["idempotency_key"],
		State:          job.State(m["state"]),
		Priority:       priority,
		MaxAttempts:    maxAttempts,
		AttemptsMade:   attemptsMade,
		TimeoutStreak:  timeoutStreak,
		ReturnValue:    []byte(m["return_value"]),
		Timeout:        time.Duration(timeout),
		AvailableAt:    availableAt,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}
	if len(j.Payload) == 0 {
		j.Payload = nil
	}
	if len(j.ReturnValue) == 0 {
		j.ReturnValue = nil
	}

	if v := m["last_error"]; v != "" {
		var f job.FailureInfo
		if err := json.Unmarshal([]byte(v), &f); err == nil {
			j.LastError = &f
		}
	}
	if v := m["replay_of"]; v != "" {
		j.ReplayOf, _ = id.ParseJobID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["worker_id"]; v != "" {
		j.WorkerID, _ = id.ParseWorkerID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["lease_expires_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.LeaseExpiresAt = &t
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["finished_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.FinishedAt = &t
	}

	return j, nil
}

// marshalJSON is a helper to marshal to JSON string.
func marshalJSON(v interface{}) string {
	b, _ := json.Marshal(v) //nolint:errcheck // marshal should not fail for basic types
	return string(b)
}
