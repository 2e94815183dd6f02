package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/dlq"
	"github.com/pressline/conveyor/id"
)

// PushDLQ adds a dead lettered job entry.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, dlqKey(eID), dlqToMap(entry))
	pipe.SAdd(ctx, dlqIDsKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: push dlq: %w", err)
	}
	return nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	return s.getDLQByKey(ctx, dlqKey(entryID.String()))
}

// SearchDLQ returns entries matching the given options, newest failures
// first. This is a full scan; the DLQ is expected to stay small.
func (s *Store) SearchDLQ(ctx context.Context, opts dlq.SearchOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: search dlq smembers: %w", err)
	}

	query := strings.ToLower(opts.Query)

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		e, getErr := s.getDLQByKey(ctx, dlqKey(eID))
		if getErr != nil {
			continue // skip missing
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		if query != "" && !entryMatches(e, query) {
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, k int) bool {
		return entries[i].FailedAt.After(entries[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
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
func (s *Store) MarkReplayed(ctx context.Context, entryID id.DLQID, newJobID id.JobID, at time.Time) error {
	key := dlqKey(entryID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: mark replayed exists: %w", err)
	}
	if exists == 0 {
		return conveyor.ErrDLQNotFound
	}

	err = s.client.HSet(ctx, key,
		"replayed_at", at.UTC().Format(time.RFC3339Nano),
		"replayed_as", newJobID.String(),
	).Err()
	if err != nil {
		return fmt.Errorf("conveyor/redis: mark replayed: %w", err)
	}
	return nil
}

// DeleteDLQ removes a single entry.
func (s *Store) DeleteDLQ(ctx context.Context, entryID id.DLQID) error {
	eID := entryID.String()

	exists, err := s.client.Exists(ctx, dlqKey(eID)).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: delete dlq exists: %w", err)
	}
	if exists == 0 {
		return conveyor.ErrDLQNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, dlqKey(eID))
	pipe.SRem(ctx, dlqIDsKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: delete dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes entries that failed at or before cutoff.
func (s *Store) PurgeDLQ(ctx context.Context, queue string, cutoff time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("conveyor/redis: purge dlq smembers: %w", err)
	}

	var count int64
	for _, eID := range ids {
		e, getErr := s.getDLQByKey(ctx, dlqKey(eID))
		if getErr != nil {
			continue
		}
		if queue != "" && e.Queue != queue {
			continue
		}
		if e.FailedAt.After(cutoff) {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, dlqKey(eID))
		pipe.SRem(ctx, dlqIDsKey, eID)
		if _, err := pipe.Exec(ctx); err != nil {
			return count, fmt.Errorf("conveyor/redis: purge dlq: %w", err)
		}
		count++
	}
	return count, nil
}

// CountDLQ returns the number of entries for a queue, or all queues
// when queue is empty.
func (s *Store) CountDLQ(ctx context.Context, queue string) (int64, error) {
	if queue == "" {
		n, err := s.client.SCard(ctx, dlqIDsKey).Result()
		if err != nil {
			return 0, fmt.Errorf("conveyor/redis: count dlq: %w", err)
		}
		return n, nil
	}

	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("conveyor/redis: count dlq smembers: %w", err)
	}

	var count int64
	for _, eID := range ids {
		e, getErr := s.getDLQByKey(ctx, dlqKey(eID))
		if getErr != nil {
			continue
		}
		if e.Queue == queue {
			count++
		}
	}
	return count, nil
}

// ── helpers ──

func dlqToMap(e *dlq.Entry) map[string]interface{} {
	m := map[string]interface{}{
		"id":              e.ID.String(),
		"job_id":          e.JobID.String(),
		"queue":           e.Queue,
		"payload":         string(e.Payload),
		"idempotency_key": e.IdempotencyKey,
		"reason":          e.Reason,
		"kind":            string(e.Kind),
		"attempts_made":   strconv.Itoa(e.AttemptsMade),
		"max_attempts":    strconv.Itoa(e.MaxAttempts),
		"priority":        strconv.Itoa(e.Priority),
		"timeout":         strconv.FormatInt(int64(e.Timeout), 10),
		"failed_at":       e.FailedAt.Format(time.RFC3339Nano),
		"replayed_as":     e.ReplayedAs.String(),
		"created_at":      e.CreatedAt.Format(time.RFC3339Nano),
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = e.ReplayedAt.Format(time.RFC3339Nano)
	} else {
		m["replayed_at"] = ""
	}
	return m
}

func (s *Store) getDLQByKey(ctx context.Context, key string) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, conveyor.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: parse dlq id: %w", err)
	}
	jID, err := id.ParseJobID(m["job_id"])
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: parse dlq job id: %w", err)
	}

	attemptsMade, _ := strconv.Atoi(m["attempts_made"])  //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])    //nolint:errcheck // best-effort parse from trusted Redis data
	priority, _ := strconv.Atoi(m["priority"])           //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	failedAt, _ := time.Parse(time.RFC3339Nano, m["failed_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &dlq.Entry{
		ID:             eID,
		JobID:          jID,
		Queue:          m["queue"],
		Payload:        []byte(m["payload"]),
		IdempotencyKey: m["idempotency_key"],
		Reason:         m["reason"],
		Kind:           conveyor.Kind(m["kind"]),
		AttemptsMade:   attemptsMade,
		MaxAttempts:    maxAttempts,
		Priority:       priority,
		Timeout:        time.Duration(timeout),
		FailedAt:       failedAt,
		CreatedAt:      createdAt,
	}
	if len(e.Payload) == 0 {
		e.Payload = nil
	}

	if v := m["replayed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.ReplayedAt = &t
	}
	if v := m["replayed_as"]; v != "" {
		e.ReplayedAs, _ = id.ParseJobID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}

	return e, nil
}
