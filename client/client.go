// Package client provides a typed Go client for the Conveyor admin
// API. It covers enqueue and job control, queue administration, dead
// letter operations, statistics, and live event streaming over
// WebSocket.
//
// Usage:
//
//	c := client.New("http://localhost:8180")
//
//	j, err := c.Enqueue(ctx, "emails", payload,
//	    client.WithIdempotencyKey("welcome:usr_42"),
//	)
//
//	events, err := c.Subscribe(ctx, stream.JobTopic(j.ID))
//	for ev := range events {
//	    fmt.Println(ev.Type)
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/job"
	"github.com/pressline/conveyor/stats"
)

// Client talks to a conveyord admin API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client for the API at baseURL, e.g.
// "http://localhost:8180".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the server. Replies that map to
// a known sentinel unwrap to it, so errors.Is(err,
// conveyor.ErrJobNotFound) works across the wire.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("conveyor/client: %s (HTTP %d)", e.Message, e.Status)
}

// Unwrap maps well-known response shapes back to package sentinels.
func (e *APIError) Unwrap() error {
	switch {
	case strings.Contains(e.Message, "job not found"):
		return conveyor.ErrJobNotFound
	case strings.Contains(e.Message, "queue not found"):
		return conveyor.ErrQueueNotFound
	case strings.Contains(e.Message, "dlq entry not found"):
		return conveyor.ErrDLQNotFound
	case strings.Contains(e.Message, "already replayed"):
		return conveyor.ErrAlreadyReplayed
	case strings.Contains(e.Message, "requires force"):
		return conveyor.ErrPurgeLiveStates
	case strings.Contains(e.Message, "queue is paused"):
		return conveyor.ErrQueuePaused
	case strings.Contains(e.Message, "invalid state"):
		return conveyor.ErrInvalidState
	default:
		return nil
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("conveyor/client: encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&e); decodeErr != nil || e.Error == "" {
			e.Error = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// ──────────────────────────────────────────────────
// Queue administration
// ──────────────────────────────────────────────────

// Queues lists all known queues.
func (c *Client) Queues(ctx context.Context) ([]job.QueueInfo, error) {
	var queues []job.QueueInfo
	if err := c.get(ctx, "/v1/queues", nil, &queues); err != nil {
		return nil, err
	}
	return queues, nil
}

// Pause stops new leases from the queue. Enqueues still land.
func (c *Client) Pause(ctx context.Context, queue string) error {
	return c.post(ctx, "/v1/queues/"+url.PathEscape(queue)+"/pause", nil, nil)
}

// Resume lifts a pause.
func (c *Client) Resume(ctx context.Context, queue string) error {
	return c.post(ctx, "/v1/queues/"+url.PathEscape(queue)+"/resume", nil, nil)
}

// PurgeOpts narrows a Purge call.
type PurgeOpts struct {
	// States to remove. Defaults to the terminal states.
	States []job.State
	// Force permits purging non-terminal states.
	Force bool
	// OlderThan restricts the purge to jobs created at least this
	// long ago.
	OlderThan time.Duration
}

// Purge removes jobs from a queue and reports how many went.
func (c *Client) Purge(ctx context.Context, queue string, opts PurgeOpts) (int64, error) {
	body := map[string]any{"states": opts.States, "force": opts.Force}
	if opts.OlderThan > 0 {
		body["older_than_ms"] = opts.OlderThan.Milliseconds()
	}

	var result struct {
		Purged int64 `json:"purged"`
	}
	err := c.post(ctx, "/v1/queues/"+url.PathEscape(queue)+"/purge", body, &result)
	return result.Purged, err
}

// ──────────────────────────────────────────────────
// Statistics
// ──────────────────────────────────────────────────

// Stats returns a statistics snapshot for one queue.
func (c *Client) Stats(ctx context.Context, queue string) (*stats.QueueStats, error) {
	var snap stats.QueueStats
	if err := c.get(ctx, "/v1/queues/"+url.PathEscape(queue)+"/stats", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Overview returns snapshots for every queue.
func (c *Client) Overview(ctx context.Context) ([]*stats.QueueStats, error) {
	var snaps []*stats.QueueStats
	if err := c.get(ctx, "/v1/stats", nil, &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}
