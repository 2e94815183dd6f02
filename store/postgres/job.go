package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/id"
	"github.com/pressline/conveyor/job"
)

// jobColumns is the column list shared by every job query, in scanJob order.
const jobColumns = `
	id, queue, payload, idempotency_key, state, priority,
	max_attempts, attempts_made, timeout_streak,
	last_error, return_value, replay_of, worker_id, timeout_ns,
	available_at, lease_expires_at, started_at, finished_at,
	created_at, updated_at`

// CreateJob persists a new job. The partial unique index on
// (queue, idempotency_key) backstops the service-level duplicate check
// under concurrent enqueues.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	lastErr, err := marshalFailure(j.LastError)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO conveyor_jobs (
			id, queue, payload, idempotency_key, state, priority,
			max_attempts, attempts_made, timeout_streak,
			last_error, return_value, replay_of, worker_id, timeout_ns,
			available_at, lease_expires_at, started_at, finished_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17, $18,
			$19, $20
		)`,
		j.ID, j.Queue, j.Payload, j.IdempotencyKey, string(j.State), j.Priority,
		j.MaxAttempts, j.AttemptsMade, j.TimeoutStreak,
		lastErr, j.ReturnValue, j.ReplayOf, j.WorkerID, j.Timeout.Nanoseconds(),
		j.AvailableAt, j.LeaseExpiresAt, j.StartedAt, j.FinishedAt,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conveyor/postgres: create job: %w", err)
	}

	if err := s.TouchQueue(ctx, j.Queue); err != nil {
		return err
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+jobColumns+` FROM conveyor_jobs WHERE id = $1`,
		jobID,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: get job: %w", err)
	}
	return j, nil
}

// FindJobByIdempotencyKey returns the job holding the key on the queue.
// Dead lettered and cancelled jobs release their key.
func (s *Store) FindJobByIdempotencyKey(ctx context.Context, queue, key string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+jobColumns+`
		FROM conveyor_jobs
		WHERE queue = $1
		  AND idempotency_key = $2
		  AND state NOT IN ('dead_lettered', 'failed')
		ORDER BY created_at DESC
		LIMIT 1`,
		queue, key,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: find job by idempotency key: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	lastErr, err := marshalFailure(j.LastError)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs SET
			queue = $2, payload = $3, idempotency_key = $4, state = $5,
			priority = $6, max_attempts = $7, attempts_made = $8,
			timeout_streak = $9, last_error = $10, return_value = $11,
			replay_of = $12, worker_id = $13, timeout_ns = $14,
			available_at = $15, lease_expires_at = $16,
			started_at = $17, finished_at = $18,
			updated_at = NOW()
		WHERE id = $1`,
		j.ID, j.Queue, j.Payload, j.IdempotencyKey, string(j.State),
		j.Priority, j.MaxAttempts, j.AttemptsMade,
		j.TimeoutStreak, lastErr, j.ReturnValue,
		j.ReplayOf, j.WorkerID, j.Timeout.Nanoseconds(),
		j.AvailableAt, j.LeaseExpiresAt,
		j.StartedAt, j.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conveyor_jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// LeaseJobs atomically claims up to limit leasable jobs from the given
// queues, sets them to active, and returns them. Uses SELECT FOR UPDATE
// SKIP LOCKED so concurrent workers never claim the same job. Paused
// queues are skipped.
func (s *Store) LeaseJobs(ctx context.Context, queues []string, workerID id.WorkerID, limit int, leaseFor time.Duration) ([]*job.Job, error) {
	// A non-positive limit means no cap.
	sqlLimit := any(limit)
	if limit <= 0 {
		sqlLimit = nil // LIMIT NULL
	}

	queueClause := ""
	args := []interface{}{workerID, leaseFor.Seconds(), sqlLimit}
	if len(queues) > 0 {
		queueClause = "AND j.queue = ANY($4)"
		args = append(args, queues)
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		WITH leased AS (
			UPDATE conveyor_jobs
			SET state = 'active',
			    worker_id = $1,
			    started_at = NOW(),
			    lease_expires_at = NOW() + make_interval(secs => $2),
			    updated_at = NOW()
			WHERE id IN (
				SELECT j.id FROM conveyor_jobs j
				WHERE j.state IN ('waiting', 'delayed')
				  AND j.available_at <= NOW()
				  %s
				  AND NOT EXISTS (
					SELECT 1 FROM conveyor_queues q
					WHERE q.name = j.queue AND q.paused
				  )
				ORDER BY j.priority ASC, j.available_at ASC, j.created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $3
			)
			RETURNING`+jobColumns+`
		)
		SELECT * FROM leased ORDER BY priority ASC, available_at ASC, created_at ASC`,
		queueClause,
	), args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: lease jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ExtendLease pushes the lease expiry of an active job owned by workerID.
func (s *Store) ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, until time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs
		SET lease_expires_at = $3, updated_at = NOW()
		WHERE id = $1 AND state = 'active' AND worker_id = $2`,
		jobID, workerID, until,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: extend lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM conveyor_jobs WHERE id = $1)`,
			jobID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("conveyor/postgres: extend lease: %w", err)
		}
		if !exists {
			return conveyor.ErrJobNotFound
		}
		return conveyor.ErrLeaseLost
	}
	return nil
}

// ExpiredLeases returns active jobs whose lease has lapsed, soonest
// expired first.
func (s *Store) ExpiredLeases(ctx context.Context, limit int) ([]*job.Job, error) {
	query := `
		SELECT` + jobColumns + `
		FROM conveyor_jobs
		WHERE state = 'active'
		  AND lease_expires_at IS NOT NULL
		  AND lease_expires_at <= NOW()
		ORDER BY lease_expires_at ASC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: expired leases: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListJobs returns jobs matching the given options, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT` + jobColumns + ` FROM conveyor_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM conveyor_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("conveyor/postgres: count jobs: %w", err)
	}
	return count, nil
}

// CountJobsByState returns per-state counts for one queue, or all
// queues combined when queue is empty.
func (s *Store) CountJobsByState(ctx context.Context, queue string) (map[job.State]int64, error) {
	query := `SELECT state, COUNT(*) FROM conveyor_jobs`
	args := []interface{}{}
	if queue != "" {
		query += ` WHERE queue = $1`
		args = append(args, queue)
	}
	query += ` GROUP BY state`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: count jobs by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[job.State]int64)
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan state count: %w", err)
		}
		counts[job.State(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate state counts: %w", err)
	}
	return counts, nil
}

// PurgeJobs deletes jobs on the queue in any of the given states
// created at or before cutoff.
func (s *Store) PurgeJobs(ctx context.Context, queue string, states []job.State, cutoff time.Time) (int64, error) {
	stateStrs := make([]string, len(states))
	for i, st := range states {
		stateStrs[i] = string(st)
	}

	query := `DELETE FROM conveyor_jobs WHERE state = ANY($1) AND created_at <= $2`
	args := []interface{}{stateStrs, cutoff}
	if queue != "" {
		query += ` AND queue = $3`
		args = append(args, queue)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("conveyor/postgres: purge jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// TouchQueue records queue metadata on first use. Idempotent.
func (s *Store) TouchQueue(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_queues (name) VALUES ($1)
		ON CONFLICT (name) DO NOTHING`,
		name,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: touch queue: %w", err)
	}
	return nil
}

// SetQueuePaused pauses or resumes a queue, registering it if unknown.
func (s *Store) SetQueuePaused(ctx context.Context, name string, paused bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_queues (name, paused) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET paused = EXCLUDED.paused`,
		name, paused,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: set queue paused: %w", err)
	}
	return nil
}

// QueuePaused reports whether the queue is paused. Unknown queues are
// not paused.
func (s *Store) QueuePaused(ctx context.Context, name string) (bool, error) {
	var paused bool
	err := s.pool.QueryRow(ctx,
		`SELECT paused FROM conveyor_queues WHERE name = $1`,
		name,
	).Scan(&paused)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("conveyor/postgres: queue paused: %w", err)
	}
	return paused, nil
}

// ListQueues returns metadata for all known queues, sorted by name.
func (s *Store) ListQueues(ctx context.Context) ([]job.QueueInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, paused, created_at FROM conveyor_queues ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list queues: %w", err)
	}
	defer rows.Close()

	var queues []job.QueueInfo
	for rows.Next() {
		var q job.QueueInfo
		if err := rows.Scan(&q.Name, &q.Paused, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan queue row: %w", err)
		}
		queues = append(queues, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate queue rows: %w", err)
	}
	return queues, nil
}

// marshalFailure encodes a FailureInfo as JSONB, or NULL when absent.
func marshalFailure(f *job.FailureInfo) ([]byte, error) {
	if f == nil {
		return nil, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: marshal failure info: %w", err)
	}
	return data, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		stateStr  string
		lastErr   []byte
		timeoutNs int64
	)
	err := row.Scan(
		&j.ID, &j.Queue, &j.Payload, &j.IdempotencyKey, &stateStr, &j.Priority,
		&j.MaxAttempts, &j.AttemptsMade, &j.TimeoutStreak,
		&lastErr, &j.ReturnValue, &j.ReplayOf, &j.WorkerID, &timeoutNs,
		&j.AvailableAt, &j.LeaseExpiresAt, &j.StartedAt, &j.FinishedAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)

	if len(lastErr) > 0 {
		var f job.FailureInfo
		if err := json.Unmarshal(lastErr, &f); err != nil {
			return nil, fmt.Errorf("conveyor/postgres: unmarshal failure info: %w", err)
		}
		j.LastError = &f
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
