package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conveyor_dlq (
			id, job_id, queue, payload, idempotency_key, reason, kind,
			attempts_made, max_attempts, priority, timeout_ns,
			failed_at, replayed_at, replayed_as, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.JobID, entry.Queue, entry.Payload,
		entry.IdempotencyKey, entry.Reason, string(entry.Kind),
		entry.AttemptsMade, entry.MaxAttempts, entry.Priority,
		entry.Timeout.Nanoseconds(),
		toNS(entry.FailedAt), toNullNS(entry.ReplayedAt), entry.ReplayedAs, toNS(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: push dlq: %w", err)
	}
	return nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+dlqColumns+` FROM conveyor_dlq WHERE id = ?`,
		entryID,
	)

	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrDLQNotFound
		}
		return nil, fmt.Errorf("conveyor/sqlite: get dlq: %w", err)
	}
	return e, nil
}

// SearchDLQ returns entries matching the given options, newest failures
// first. The free-text query is a case-insensitive substring match
// against the job ID, the idempotency key, and the failure reason.
func (s *Store) SearchDLQ(ctx context.Context, opts dlq.SearchOpts) ([]*dlq.Entry, error) {
	query := `SELECT` + dlqColumns + ` FROM conveyor_dlq WHERE 1=1`
	args := []interface{}{}

	if opts.Queue != "" {
		query += ` AND queue = ?`
		args = append(args, opts.Queue)
	}
	if opts.Query != "" {
		// SQLite LIKE is case-insensitive for ASCII by default.
		query += ` AND (job_id LIKE ? ESCAPE '\' OR idempotency_key LIKE ? ESCAPE '\' OR reason LIKE ? ESCAPE '\')`
		pattern := "%" + escapeLike(opts.Query) + "%"
		args = append(args, pattern, pattern, pattern)
	}

	query += ` ORDER BY failed_at DESC`

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
		return nil, fmt.Errorf("conveyor/sqlite: search dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/sqlite: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// MarkReplayed records the replay link on an entry.
func (s *Store) MarkReplayed(ctx context.Context, entryID id.DLQID, newJobID id.JobID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conveyor_dlq SET replayed_at = ?, replayed_as = ? WHERE id = ?`,
		toNS(at), newJobID, entryID,
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: mark replayed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: mark replayed: %w", err)
	}
	if n == 0 {
		return conveyor.ErrDLQNotFound
	}
	return nil
}

// DeleteDLQ removes a single entry.
func (s *Store) DeleteDLQ(ctx context.Context, entryID id.DLQID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conveyor_dlq WHERE id = ?`, entryID)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: delete dlq: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: delete dlq: %w", err)
	}
	if n == 0 {
		return conveyor.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries that failed at or before cutoff.
func (s *Store) PurgeDLQ(ctx context.Context, queue string, cutoff time.Time) (int64, error) {
	query := `DELETE FROM conveyor_dlq WHERE failed_at <= ?`
	args := []interface{}{toNS(cutoff)}
	if queue != "" {
		query += ` AND queue = ?`
		args = append(args, queue)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("conveyor/sqlite: purge dlq: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("conveyor/sqlite: purge dlq: %w", err)
	}
	return n, nil
}

// CountDLQ returns the number of entries for a queue, or all queues
// when queue is empty.
func (s *Store) CountDLQ(ctx context.Context, queue string) (int64, error) {
	query := `SELECT COUNT(*) FROM conveyor_dlq`
	args := []interface{}{}
	if queue != "" {
		query += ` WHERE queue = ?`
		args = append(args, queue)
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("conveyor/sqlite: count dlq: %w", err)
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
func scanDLQ(row rowScanner) (*dlq.Entry, error) {
	var (
		e          dlq.Entry
		kindStr    string
		timeoutNs  int64
		failedNS   int64
		replayedNS sql.NullInt64
		createdNS  int64
	)
	err := row.Scan(
		&e.ID, &e.JobID, &e.Queue, &e.Payload, &e.IdempotencyKey, &e.Reason, &kindStr,
		&e.AttemptsMade, &e.MaxAttempts, &e.Priority, &timeoutNs,
		&failedNS, &replayedNS, &e.ReplayedAs, &createdNS,
	)
	if err != nil {
		return nil, err
	}

	e.Kind = conveyor.Kind(kindStr)
	e.Timeout = time.Duration(timeoutNs)
	e.FailedAt = fromNS(failedNS)
	e.ReplayedAt = fromNullNS(replayedNS)
	e.CreatedAt = fromNS(createdNS)

	return &e, nil
}
