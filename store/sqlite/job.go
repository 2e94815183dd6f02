package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

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

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	lastErr, err := marshalFailure(j.LastError)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conveyor_jobs (
			id, queue, payload, idempotency_key, state, priority,
			max_attempts, attempts_made, timeout_streak,
			last_error, return_value, replay_of, worker_id, timeout_ns,
			available_at, lease_expires_at, started_at, finished_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Queue, j.Payload, j.IdempotencyKey, string(j.State), j.Priority,
		j.MaxAttempts, j.AttemptsMade, j.TimeoutStreak,
		lastErr, j.ReturnValue, j.ReplayOf, j.WorkerID, j.Timeout.Nanoseconds(),
		toNS(j.AvailableAt), toNullNS(j.LeaseExpiresAt), toNullNS(j.StartedAt), toNullNS(j.FinishedAt),
		toNS(j.CreatedAt), toNS(j.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conveyor/sqlite: create job: %w", err)
	}

	return s.TouchQueue(ctx, j.Queue)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+jobColumns+` FROM conveyor_jobs WHERE id = ?`,
		jobID,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/sqlite: get job: %w", err)
	}
	return j, nil
}

// FindJobByIdempotencyKey returns the job holding the key on the queue.
// Dead lettered and cancelled jobs release their key.
func (s *Store) FindJobByIdempotencyKey(ctx context.Context, queue, key string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT`+jobColumns+`
		FROM conveyor_jobs
		WHERE queue = ?
		  AND idempotency_key = ?
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
		return nil, fmt.Errorf("conveyor/sqlite: find job by idempotency key: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	lastErr, err := marshalFailure(j.LastError)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE conveyor_jobs SET
			queue = ?, payload = ?, idempotency_key = ?, state = ?,
			priority = ?, max_attempts = ?, attempts_made = ?,
			timeout_streak = ?, last_error = ?, return_value = ?,
			replay_of = ?, worker_id = ?, timeout_ns = ?,
			available_at = ?, lease_expires_at = ?,
			started_at = ?, finished_at = ?,
			updated_at = ?
		WHERE id = ?`,
		j.Queue, j.Payload, j.IdempotencyKey, string(j.State),
		j.Priority, j.MaxAttempts, j.AttemptsMade,
		j.TimeoutStreak, lastErr, j.ReturnValue,
		j.ReplayOf, j.WorkerID, j.Timeout.Nanoseconds(),
		toNS(j.AvailableAt), toNullNS(j.LeaseExpiresAt),
		toNullNS(j.StartedAt), toNullNS(j.FinishedAt),
		time.Now().UTC().UnixNano(),
		j.ID,
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: update job: %w", err)
	}
	if n == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conveyor_jobs WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: delete job: %w", err)
	}
	if n == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// LeaseJobs atomically claims up to limit leasable jobs from the given
// queues, sets them to active, and returns them. Candidates are
// selected and claimed inside one transaction; each claim re-checks
// the state so a job never goes out twice.
func (s *Store) LeaseJobs(ctx context.Context, queues []string, workerID id.WorkerID, limit int, leaseFor time.Duration) ([]*job.Job, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: begin lease tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		SELECT` + jobColumns + `
		FROM conveyor_jobs j
		WHERE j.state IN ('waiting', 'delayed')
		  AND j.available_at <= ?
		  AND NOT EXISTS (
			SELECT 1 FROM conveyor_queues q
			WHERE q.name = j.queue AND q.paused = 1
		  )`
	args := []interface{}{toNS(now)}
	if len(queues) > 0 {
		query += ` AND j.queue IN (` + placeholders(len(queues)) + `)`
		for _, q := range queues {
			args = append(args, q)
		}
	}
	query += ` ORDER BY j.priority ASC, j.available_at ASC, j.created_at ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: select leasable: %w", err)
	}
	candidates, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}

	expires := now.Add(leaseFor)
	var leased []*job.Job
	for _, j := range candidates {
		res, err := tx.ExecContext(ctx, `
			UPDATE conveyor_jobs
			SET state = 'active', worker_id = ?, started_at = ?,
			    lease_expires_at = ?, updated_at = ?
			WHERE id = ? AND state IN ('waiting', 'delayed')`,
			workerID, toNS(now), toNS(expires), toNS(now), j.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("conveyor/sqlite: claim job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("conveyor/sqlite: claim job: %w", err)
		}
		if n == 0 {
			continue
		}

		j.State = job.StateActive
		j.WorkerID = workerID
		started := now
		j.StartedAt = &started
		exp := expires
		j.LeaseExpiresAt = &exp
		j.UpdatedAt = now
		leased = append(leased, j)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: commit lease tx: %w", err)
	}
	return leased, nil
}

// ExtendLease pushes the lease expiry of an active job owned by workerID.
func (s *Store) ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, until time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conveyor_jobs
		SET lease_expires_at = ?, updated_at = ?
		WHERE id = ? AND state = 'active' AND worker_id = ?`,
		toNS(until), time.Now().UTC().UnixNano(), jobID, workerID,
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: extend lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: extend lease: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM conveyor_jobs WHERE id = ?)`,
			jobID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("conveyor/sqlite: extend lease: %w", err)
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
		  AND lease_expires_at <= ?
		ORDER BY lease_expires_at ASC`
	args := []interface{}{time.Now().UTC().UnixNano()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: expired leases: %w", err)
	}
	return collectJobs(rows)
}

// ListJobs returns jobs matching the given options, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT` + jobColumns + ` FROM conveyor_jobs WHERE 1=1`
	args := []interface{}{}

	if opts.Queue != "" {
		query += ` AND queue = ?`
		args = append(args, opts.Queue)
	}
	if opts.State != "" {
		query += ` AND state = ?`
		args = append(args, string(opts.State))
	}

	query += ` ORDER BY created_at DESC`

	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			query += ` LIMIT -1`
		}
		query += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: list jobs: %w", err)
	}
	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM conveyor_jobs WHERE 1=1`
	args := []interface{}{}

	if opts.Queue != "" {
		query += ` AND queue = ?`
		args = append(args, opts.Queue)
	}
	if opts.State != "" {
		query += ` AND state = ?`
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("conveyor/sqlite: count jobs: %w", err)
	}
	return count, nil
}

// CountJobsByState returns per-state counts for one queue, or all
// queues combined when queue is empty.
func (s *Store) CountJobsByState(ctx context.Context, queue string) (map[job.State]int64, error) {
	query := `SELECT state, COUNT(*) FROM conveyor_jobs`
	args := []interface{}{}
	if queue != "" {
		query += ` WHERE queue = ?`
		args = append(args, queue)
	}
	query += ` GROUP BY state`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: count jobs by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[job.State]int64)
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("conveyor/sqlite: scan state count: %w", err)
		}
		counts[job.State(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: iterate state counts: %w", err)
	}
	return counts, nil
}

// PurgeJobs deletes jobs on the queue in any of the given states
// created at or before cutoff.
func (s *Store) PurgeJobs(ctx context.Context, queue string, states []job.State, cutoff time.Time) (int64, error) {
	query := `DELETE FROM conveyor_jobs WHERE state IN (` + placeholders(len(states)) + `) AND created_at <= ?`
	args := make([]interface{}, 0, len(states)+2)
	for _, st := range states {
		args = append(args, string(st))
	}
	args = append(args, toNS(cutoff))
	if queue != "" {
		query += ` AND queue = ?`
		args = append(args, queue)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("conveyor/sqlite: purge jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("conveyor/sqlite: purge jobs: %w", err)
	}
	return n, nil
}

// TouchQueue records queue metadata on first use. Idempotent.
func (s *Store) TouchQueue(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conveyor_queues (name, created_at) VALUES (?, ?)
		ON CONFLICT (name) DO NOTHING`,
		name, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: touch queue: %w", err)
	}
	return nil
}

// SetQueuePaused pauses or resumes a queue, registering it if unknown.
func (s *Store) SetQueuePaused(ctx context.Context, name string, paused bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conveyor_queues (name, paused, created_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET paused = excluded.paused`,
		name, boolInt(paused), time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: set queue paused: %w", err)
	}
	return nil
}

// QueuePaused reports whether the queue is paused. Unknown queues are
// not paused.
func (s *Store) QueuePaused(ctx context.Context, name string) (bool, error) {
	var paused int
	err := s.db.QueryRowContext(ctx,
		`SELECT paused FROM conveyor_queues WHERE name = ?`,
		name,
	).Scan(&paused)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("conveyor/sqlite: queue paused: %w", err)
	}
	return paused != 0, nil
}

// ListQueues returns metadata for all known queues, sorted by name.
func (s *Store) ListQueues(ctx context.Context) ([]job.QueueInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, paused, created_at FROM conveyor_queues ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: list queues: %w", err)
	}
	defer rows.Close()

	var queues []job.QueueInfo
	for rows.Next() {
		var (
			q         job.QueueInfo
			paused    int
			createdNS int64
		)
		if err := rows.Scan(&q.Name, &paused, &createdNS); err != nil {
			return nil, fmt.Errorf("conveyor/sqlite: scan queue row: %w", err)
		}
		q.Paused = paused != 0
		q.CreatedAt = fromNS(createdNS)
		queues = append(queues, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: iterate queue rows: %w", err)
	}
	return queues, nil
}

// placeholders returns n comma-separated "?" markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// marshalFailure encodes a FailureInfo as JSON text, or NULL when absent.
func marshalFailure(f *job.FailureInfo) (sql.NullString, error) {
	if f == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("conveyor/sqlite: marshal failure info: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJob scans a single job row.
func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j           job.Job
		stateStr    string
		lastErr     sql.NullString
		timeoutNs   int64
		availableNS int64
		leaseNS     sql.NullInt64
		startedNS   sql.NullInt64
		finishedNS  sql.NullInt64
		createdNS   int64
		updatedNS   int64
	)
	err := row.Scan(
		&j.ID, &j.Queue, &j.Payload, &j.IdempotencyKey, &stateStr, &j.Priority,
		&j.MaxAttempts, &j.AttemptsMade, &j.TimeoutStreak,
		&lastErr, &j.ReturnValue, &j.ReplayOf, &j.WorkerID, &timeoutNs,
		&availableNS, &leaseNS, &startedNS, &finishedNS,
		&createdNS, &updatedNS,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)
	j.AvailableAt = fromNS(availableNS)
	j.LeaseExpiresAt = fromNullNS(leaseNS)
	j.StartedAt = fromNullNS(startedNS)
	j.FinishedAt = fromNullNS(finishedNS)
	j.CreatedAt = fromNS(createdNS)
	j.UpdatedAt = fromNS(updatedNS)

	if lastErr.Valid && lastErr.String != "" {
		var f job.FailureInfo
		if err := json.Unmarshal([]byte(lastErr.String), &f); err != nil {
			return nil, fmt.Errorf("conveyor/sqlite: unmarshal failure info: %w", err)
		}
		j.LastError = &f
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows and closes them.
func collectJobs(rows *sql.Rows) ([]*job.Job, error) {
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("conveyor/sqlite: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: iterate job rows: %w", err)
	}
	return jobs, nil
}
