package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/dlq"
	"github.com/pressline/conveyor/id"
)

// dlqColumns is the column list shared by every DLQ query, in scanDLQ order.
const dlqColumns = `
	id, job_id, queue, payload, idempotency_key, reason, kind,
	attempts_made, max_attempts, priority, timeout_ns,
	failed_at, replayed_at, replayed_as, created_at`

// PushDLQ adds a dead lettered job entry.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_dlq (
			id, job_id, queue, payload, idempotency_key, reason, kind,
			attempts_made, max_attempts, priority, timeout_ns,
			failed_at, replayed_at, replayed_as, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		entry.ID, entry.JobID, entry.Queue, entry.Payload,
		entry.IdempotencyKey, entry.Reason, string(entry.Kind),
		entry.AttemptsMade, entry.MaxAttempts, entry.Priority,
		entry.Timeout.Nanoseconds(),
		entry.FailedAt, entry.ReplayedAt, entry.ReplayedAs, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: push dlq: %w", err)
	}
	return nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+dlqColumns+` FROM conveyor_dlq WHERE id = $1`,
		entryID,
	)

	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrDLQNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: get dlq: %w", err)
	}
	return e, nil
}

// SearchDLQ returns entries matching the given options, newest failures
// first. The free-text query is a case-insensitive substring match
// against the job ID, the idempotency key, and the failure reason.
func (s *Store) SearchDLQ(ctx context.Context, opts dlq.SearchOpts) ([]*dlq.Entry, error) {
	query := `SELECT` + dlqColumns + ` FROM conveyor_dlq WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.Query != "" {
		query += fmt.Sprintf(
			" AND (job_id ILIKE $%d OR idempotency_key ILIKE $%d OR reason ILIKE $%d)",
			argIdx, argIdx, argIdx,
		)
		args = append(args, "%"+escapeLike(opts.Query)+"%")
		argIdx++
	}

	query += " ORDER BY failed_at DESC"

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
		return nil, fmt.Errorf("conveyor/postgres: search dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// MarkReplayed records the replay link on an entry.
func (s *Store) MarkReplayed(ctx context.Context, entryID id.DLQID, newJobID id.JobID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conveyor_dlq SET replayed_at = $2, replayed_as = $3 WHERE id = $1`,
		entryID, at, newJobID,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: mark replayed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrDLQNotFound
	}
	return nil
}

// DeleteDLQ removes a single entry.
func (s *Store) DeleteDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conveyor_dlq WHERE id = $1`, entryID)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: delete dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries that failed at or before cutoff.
func (s *Store) PurgeDLQ(ctx context.Context, queue string, cutoff time.Time) (int64, error) {
	query := `DELETE FROM conveyor_dlq WHERE failed_at <= $1`
	args := []interface{}{cutoff}
	if queue != "" {
		query += ` AND queue = $2`
		args = append(args, queue)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("conveyor/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the number of entries for a queue, or all queues
// when queue is empty.
func (s *Store) CountDLQ(ctx context.Context, queue string) (int64, error) {
	query := `SELECT COUNT(*) FROM conveyor_dlq`
	args := []interface{}{}
	if queue != "" {
		query += ` WHERE queue = $1`
		args = append(args, queue)
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("conveyor/postgres: count dlq: %w", err)
	}
	return count, nil
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// scanDLQ scans a single DLQ entry row.
func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e         dlq.Entry
		kindStr   string
		timeoutNs int64
	)
	err := row.Scan(
		&e.ID, &e.JobID, &e.Queue, &e.Payload, &e.IdempotencyKey, &e.Reason, &kindStr,
		&e.AttemptsMade, &e.MaxAttempts, &e.Priority, &timeoutNs,
		&e.FailedAt, &e.ReplayedAt, &e.ReplayedAs, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Kind = conveyor.Kind(kindStr)
	e.Timeout = time.Duration(timeoutNs)

	return &e, nil
}
