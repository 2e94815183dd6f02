// Package stream provides a real-time broker for Conveyor lifecycle
// events. It bridges the hook system to connected clients via
// topic-based pub/sub with credit-based flow control.
package stream

import (
	"encoding/json"
	"time"

	"github.com/pressline/conveyor/id"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Job events.
	EventJobEnqueued     EventType = "job.enqueued"
	EventJobStarted      EventType = "job.started"
	EventJobCompleted    EventType = "job.completed"
	EventJobFailed       EventType = "job.failed"
	EventJobDelayed      EventType = "job.delayed"
	EventJobDeadLettered EventType = "job.dead_lettered"
	EventJobReplayed     EventType = "job.replayed"

	// Queue events.
	EventQueuePaused  EventType = "queue.paused"
	EventQueueResumed EventType = "queue.resumed"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// ID uniquely identifies the event.
	ID id.EventID `json:"id"`

	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the entity channel this event belongs to.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID     string `json:"job_id"`
	Queue     string `json:"queue"`
	State     string `json:"state"`
	Priority  int    `json:"priority,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	NextAt    string `json:"next_at,omitempty"`
	EntryID   string `json:"entry_id,omitempty"`
	ReplayOf  string `json:"replay_of,omitempty"`
}

// QueueEventData is the payload for queue lifecycle events.
type QueueEventData struct {
	Queue string `json:"queue"`
}
