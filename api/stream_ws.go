package api

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/pressline/conveyor/stream"
)

// streamWS serves lifecycle events over WebSocket. Unlike SSE this is
// bidirectional: clients manage their topic set with subscribe and
// unsubscribe frames and replenish flow-control credits explicitly.
// The wire format is negotiated with the "format" query parameter
// (json or msgpack); msgpack frames travel as binary messages.
func (a *API) streamWS(w http.ResponseWriter, r *http.Request) {
	codec := GetCodec(r.URL.Query().Get("format"))
	topics := splitTopics(r.URL.Query().Get("topics"))

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		a.logger.Error("websocket upgrade", slog.String("error", err.Error()))
		return
	}

	subID := stream.NewSubscriberID()
	sub := a.eng.Broker().Subscribe(subID, topics...)

	a.logger.Debug("websocket subscriber connected",
		slog.String("subscriber_id", subID),
		slog.String("codec", codec.Name()),
	)

	done := make(chan struct{})
	go a.wsWriteLoop(conn, codec, sub, done)

	a.wsReadLoop(conn, codec, subID, sub)

	close(done)
	a.eng.Broker().RemoveSubscriber(subID)
	_ = conn.Close()
}

// wsReadLoop consumes client frames until the connection drops.
func (a *API) wsReadLoop(conn net.Conn, codec Codec, subID string, sub *stream.Subscriber) {
	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}

		frame, err := codec.Decode(data)
		if err != nil {
			a.wsWrite(conn, codec, newErrorFrame("malformed frame: "+err.Error()))
			continue
		}

		switch frame.Type {
		case FrameSubscribe:
			a.eng.Broker().SubscribeTo(subID, frame.Topics...)
		case FrameUnsubscribe:
			a.eng.Broker().Unsubscribe(subID, frame.Topics...)
		case FrameCredits:
			if frame.Credits > 0 {
				sub.AddCredits(frame.Credits)
			}
		case FramePing:
			a.wsWrite(conn, codec, &Frame{Type: FramePong, Timestamp: time.Now().UTC()})
		default:
			a.wsWrite(conn, codec, newErrorFrame("unsupported frame type: "+string(frame.Type)))
		}
	}
}

// wsWriteLoop pumps broker events to the client until the subscriber
// channel closes or the reader signals done.
func (a *API) wsWriteLoop(conn net.Conn, codec Codec, sub *stream.Subscriber, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, open := <-sub.C():
			if !open {
				return
			}
			if !a.wsWrite(conn, codec, newEventFrame(ev)) {
				return
			}
		}
	}
}

func (a *API) wsWrite(conn net.Conn, codec Codec, frame *Frame) bool {
	data, err := codec.Encode(frame)
	if err != nil {
		a.logger.Error("encode frame", slog.String("error", err.Error()))
		return true
	}

	write := wsutil.WriteServerText
	if codec.Name() == CodecNameMsgpack {
		write = wsutil.WriteServerBinary
	}
	if err := write(conn, data); err != nil {
		return false
	}
	return true
}
