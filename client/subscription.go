package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/pressline/conveyor/api"
	"github.com/pressline/conveyor/stream"
)

// subscriptionBuffer is the local event channel depth. The server
// additionally applies per-subscriber credit flow control; the client
// replenishes one credit per consumed event.
const subscriptionBuffer = 64

// Subscription is a live event feed over WebSocket.
type Subscription struct {
	conn   net.Conn
	codec  api.Codec
	events chan *stream.Event
	done   chan struct{}
	logger *slog.Logger
}

// Subscribe opens a WebSocket to the server's stream endpoint and
// subscribes to the given topics. With no topics it follows the
// firehose. The feed stays open until ctx is cancelled, Close is
// called, or the connection drops; C is closed afterwards.
//
// Topics follow the stream convention:
//
//	job:<jobID>   — events for a specific job
//	queue:<name>  — all events touching a queue
//	jobs          — all job lifecycle events
//	dlq           — dead letter and replay events
//	firehose      — everything
func (c *Client) Subscribe(ctx context.Context, topics ...string) (*Subscription, error) {
	for _, topic := range topics {
		if err := stream.ValidateTopic(topic); err != nil {
			return nil, err
		}
	}
	if len(topics) == 0 {
		topics = []string{stream.TopicFirehose}
	}

	wsURL, err := c.streamURL(topics)
	if err != nil {
		return nil, err
	}

	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("conveyor/client: dial stream: %w", err)
	}

	sub := &Subscription{
		conn:   conn,
		codec:  api.GetCodec(api.CodecNameJSON),
		events: make(chan *stream.Event, subscriptionBuffer),
		done:   make(chan struct{}),
		logger: c.logger,
	}

	// A ping round trip confirms the server's read loop is live, so
	// events published after Subscribe returns cannot be missed.
	if err := sub.roundtripPing(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go sub.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// C returns the event channel. It is closed when the subscription
// ends. Consumers that fall far behind lose events server-side rather
// than stalling the engine.
func (s *Subscription) C() <-chan *stream.Event { return s.events }

// Close tears down the connection. Safe to call more than once.
func (s *Subscription) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
		_ = s.conn.Close()
	}
}

// Extend adds topics to a live subscription.
func (s *Subscription) Extend(topics ...string) error {
	return s.writeFrame(&api.Frame{
		Type:      api.FrameSubscribe,
		Topics:    topics,
		Timestamp: time.Now().UTC(),
	})
}

// Drop removes topics from a live subscription.
func (s *Subscription) Drop(topics ...string) error {
	return s.writeFrame(&api.Frame{
		Type:      api.FrameUnsubscribe,
		Topics:    topics,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Subscription) roundtripPing() error {
	if err := s.writeFrame(&api.Frame{Type: api.FramePing, Timestamp: time.Now().UTC()}); err != nil {
		return err
	}

	for {
		frame, err := s.readFrame()
		if err != nil {
			return fmt.Errorf("conveyor/client: stream handshake: %w", err)
		}
		if frame.Type == api.FramePong {
			return nil
		}
	}
}

func (s *Subscription) readLoop() {
	defer close(s.events)
	defer s.Close()

	for {
		frame, err := s.readFrame()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Debug("stream read ended", slog.String("error", err.Error()))
			}
			return
		}

		switch frame.Type {
		case api.FrameEvent:
			if frame.Event == nil {
				continue
			}
			select {
			case s.events <- frame.Event:
				_ = s.writeFrame(&api.Frame{
					Type:      api.FrameCredits,
					Credits:   1,
					Timestamp: time.Now().UTC(),
				})
			case <-s.done:
				return
			}
		case api.FrameErr:
			s.logger.Warn("stream server error", slog.String("error", frame.Error))
		case api.FramePong:
			// Keepalive reply, nothing to do.
		}
	}
}

func (s *Subscription) readFrame() (*api.Frame, error) {
	data, err := wsutil.ReadServerText(s.conn)
	if err != nil {
		return nil, err
	}
	return s.codec.Decode(data)
}

func (s *Subscription) writeFrame(frame *api.Frame) error {
	data, err := s.codec.Encode(frame)
	if err != nil {
		return err
	}
	return wsutil.WriteClientText(s.conn, data)
}

func (c *Client) streamURL(topics []string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("conveyor/client: base URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/stream/ws"

	q := u.Query()
	q.Set("topics", strings.Join(topics, ","))
	q.Set("format", api.CodecNameJSON)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
