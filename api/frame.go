package api

import (
	"time"

	"github.com/pressline/conveyor/stream"
)

// FrameType identifies the category of a WebSocket stream frame.
type FrameType string

const (
	// Client to server.
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FrameCredits     FrameType = "credits"
	FramePing        FrameType = "ping"

	// Server to client.
	FrameEvent FrameType = "event"
	FrameErr   FrameType = "error"
	FramePong  FrameType = "pong"
)

// Frame is the message envelope exchanged over the WebSocket stream
// endpoint. Clients subscribe to topics and replenish flow-control
// credits; the server pushes lifecycle events.
type Frame struct {
	// Type categorizes the frame.
	Type FrameType `json:"type" msgpack:"type"`

	// Topics names the topics for subscribe/unsubscribe frames.
	Topics []string `json:"topics,omitempty" msgpack:"topics,omitempty"`

	// Credits replenishes flow-control credits.
	Credits int64 `json:"credits,omitempty" msgpack:"credits,omitempty"`

	// Event carries the lifecycle event for event frames.
	Event *stream.Event `json:"event,omitempty" msgpack:"event,omitempty"`

	// Error carries a human-readable message for error frames.
	Error string `json:"error,omitempty" msgpack:"error,omitempty"`

	// Timestamp records when this frame was created.
	Timestamp time.Time `json:"ts" msgpack:"ts"`
}

func newEventFrame(ev *stream.Event) *Frame {
	return &Frame{Type: FrameEvent, Event: ev, Timestamp: time.Now().UTC()}
}

func newErrorFrame(msg string) *Frame {
	return &Frame{Type: FrameErr, Error: msg, Timestamp: time.Now().UTC()}
}
