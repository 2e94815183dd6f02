package client

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/pressline/conveyor/dlq"
	"github.com/pressline/conveyor/id"
	"github.com/pressline/conveyor/job"
)

// DLQSearchOpts filters a DLQSearch call.
type DLQSearchOpts struct {
	// Queue restricts results to one origin queue.
	Queue string
	// Query is a case-insensitive substring match against job ID,
	// idempotency key, and failure reason.
	Query  string
	Limit  int
	Offset int
}

// DLQSearch lists dead letter entries, newest failures first.
func (c *Client) DLQSearch(ctx context.Context, opts DLQSearchOpts) ([]*dlq.Entry, error) {
	q := url.Values{}
	if opts.Queue != "" {
		q.Set("queue", opts.Queue)
	}
	if opts.Query != "" {
		q.Set("q", opts.Query)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	var entries []*dlq.Entry
	if err := c.get(ctx, "/v1/dlq", q, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// DLQEntry fetches one dead letter entry.
func (c *Client) DLQEntry(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	var e dlq.Entry
	if err := c.get(ctx, "/v1/dlq/"+entryID.String(), nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// DLQCount counts entries, optionally for one queue. An empty queue
// counts everything.
func (c *Client) DLQCount(ctx context.Context, queue string) (int64, error) {
	q := url.Values{}
	if queue != "" {
		q.Set("queue", queue)
	}

	var result struct {
		Count int64 `json:"count"`
	}
	err := c.get(ctx, "/v1/dlq/count", q, &result)
	return result.Count, err
}

// DLQReplay clones a dead letter entry back onto its origin queue and
// returns the new job. Replaying an already replayed entry fails with
// conveyor.ErrAlreadyReplayed.
func (c *Client) DLQReplay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	var j job.Job
	if err := c.post(ctx, "/v1/dlq/"+entryID.String()+"/replay", nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// DLQBatchResult reports a batch replay. Entries that could not be
// replayed land in Failed with the server's reason; the rest map to
// their new job IDs in Replayed.
type DLQBatchResult struct {
	Replayed map[string]string `json:"replayed"`
	Failed   map[string]string `json:"failed"`
}

// DLQReplayBatch replays several entries in one call. Per-entry
// failures do not fail the batch.
func (c *Client) DLQReplayBatch(ctx context.Context, entryIDs []id.DLQID) (*DLQBatchResult, error) {
	raw := make([]string, 0, len(entryIDs))
	for _, entryID := range entryIDs {
		raw = append(raw, entryID.String())
	}

	var result DLQBatchResult
	if err := c.post(ctx, "/v1/dlq/replay", map[string]any{"entry_ids": raw}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DLQDelete discards a dead letter entry without replaying it.
func (c *Client) DLQDelete(ctx context.Context, entryID id.DLQID) error {
	return c.delete(ctx, "/v1/dlq/"+entryID.String())
}

// DLQPurge bulk deletes entries that failed more than olderThan ago.
// Zero purges everything up to now. An empty queue spans all queues.
func (c *Client) DLQPurge(ctx context.Context, queue string, olderThan time.Duration) (int64, error) {
	body := map[string]any{}
	if queue != "" {
		body["queue"] = queue
	}
	if olderThan > 0 {
		body["older_than_ms"] = olderThan.Milliseconds()
	}

	var result struct {
		Purged int64 `json:"purged"`
	}
	err := c.post(ctx, "/v1/dlq/purge", body, &result)
	return result.Purged, err
}
