package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pressline/conveyor/stream"
)

// sseHeartbeat is how often a keepalive comment is written when no
// events flow, so proxies do not cut the connection.
const sseHeartbeat = 15 * time.Second

// streamSSE serves lifecycle events over Server-Sent Events. Topics
// come from the comma-separated "topics" query parameter, defaulting
// to the firehose. SSE is read-only, so credits are replenished
// server-side after each delivered event.
func (a *API) streamSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.badRequest(w, "streaming unsupported by connection")
		return
	}

	topics := splitTopics(r.URL.Query().Get("topics"))

	subID := stream.NewSubscriberID()
	sub := a.eng.Broker().Subscribe(subID, topics...)
	defer a.eng.Broker().RemoveSubscriber(subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	a.logger.Debug("sse subscriber connected",
		slog.String("subscriber_id", subID),
		slog.Int("topics", len(topics)),
	)

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-sub.C():
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				a.logger.Error("encode sse event", slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", ev.Type, ev.ID, data); err != nil {
				return
			}
			flusher.Flush()
			sub.AddCredits(1)
		}
	}
}

func splitTopics(raw string) []string {
	if raw == "" {
		return []string{stream.TopicFirehose}
	}
	parts := strings.Split(raw, ",")
	topics := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		return []string{stream.TopicFirehose}
	}
	return topics
}
