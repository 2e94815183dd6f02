package client

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/pressline/conveyor/id"
	"github.com/pressline/conveyor/job"
)

type enqueueRequest struct {
	Payload        json.RawMessage `json:"payload"`
	Priority       int             `json:"priority,omitempty"`
	MaxAttempts    int             `json:"max_attempts,omitempty"`
	TimeoutMs      int64           `json:"timeout_ms,omitempty"`
	DelayMs        int64           `json:"delay_ms,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// EnqueueOption customizes a single enqueue.
type EnqueueOption func(*enqueueRequest)

// WithPriority sets the scheduling priority. Lower runs first.
func WithPriority(p int) EnqueueOption {
	return func(r *enqueueRequest) { r.Priority = p }
}

// WithMaxAttempts caps attempts before dead lettering.
func WithMaxAttempts(n int) EnqueueOption {
	return func(r *enqueueRequest) { r.MaxAttempts = n }
}

// WithTimeout bounds each execution attempt.
func WithTimeout(d time.Duration) EnqueueOption {
	return func(r *enqueueRequest) { r.TimeoutMs = d.Milliseconds() }
}

// WithDelay holds the job back before it becomes leasable.
func WithDelay(d time.Duration) EnqueueOption {
	return func(r *enqueueRequest) { r.DelayMs = d.Milliseconds() }
}

// WithIdempotencyKey deduplicates enqueues. A duplicate key returns
// the existing job instead of creating a new one.
func WithIdempotencyKey(key string) EnqueueOption {
	return func(r *enqueueRequest) { r.IdempotencyKey = key }
}

// Enqueue submits a job to the named queue and returns the stored
// record. With an idempotency key, a repeat submission returns the
// job created by the first one.
func (c *Client) Enqueue(ctx context.Context, queue string, payload json.RawMessage, opts ...EnqueueOption) (*job.Job, error) {
	req := enqueueRequest{Payload: payload}
	for _, opt := range opts {
		opt(&req)
	}

	var j job.Job
	if err := c.post(ctx, "/v1/queues/"+url.PathEscape(queue)+"/jobs", req, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// ListOpts filters a Jobs call.
type ListOpts struct {
	Queue  string
	State  job.State
	Limit  int
	Offset int
}

// Jobs lists jobs, newest first.
func (c *Client) Jobs(ctx context.Context, opts ListOpts) ([]*job.Job, error) {
	q := url.Values{}
	if opts.Queue != "" {
		q.Set("queue", opts.Queue)
	}
	if opts.State != "" {
		q.Set("state", string(opts.State))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	var jobs []*job.Job
	if err := c.get(ctx, "/v1/jobs", q, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Job fetches one job by ID.
func (c *Client) Job(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var j job.Job
	if err := c.get(ctx, "/v1/jobs/"+jobID.String(), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Cancel marks a waiting or delayed job failed so it never runs.
func (c *Client) Cancel(ctx context.Context, jobID id.JobID) error {
	return c.post(ctx, "/v1/jobs/"+jobID.String()+"/cancel", nil, nil)
}

// Retry requeues a failed job for immediate execution.
func (c *Client) Retry(ctx context.Context, jobID id.JobID) error {
	return c.post(ctx, "/v1/jobs/"+jobID.String()+"/retry", nil, nil)
}
