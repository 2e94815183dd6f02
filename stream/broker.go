package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/hook"
	"github.com/pressline/conveyor/id"
	"github.com/pressline/conveyor/job"
)

// Compile-time interface checks.
var (
	_ hook.Hook            = (*Broker)(nil)
	_ hook.JobEnqueued     = (*Broker)(nil)
	_ hook.JobStarted      = (*Broker)(nil)
	_ hook.JobCompleted    = (*Broker)(nil)
	_ hook.JobFailed       = (*Broker)(nil)
	_ hook.JobDelayed      = (*Broker)(nil)
	_ hook.JobDeadLettered = (*Broker)(nil)
	_ hook.JobReplayed     = (*Broker)(nil)
	_ hook.QueuePaused     = (*Broker)(nil)
	_ hook.QueueResumed    = (*Broker)(nil)
	_ hook.Shutdown        = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker is the real-time stream broker. It implements the lifecycle
// hook interfaces to receive events and fans them out to subscribers
// via topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	// Subscriber management.
	subscribers sync.Map // subscriberID → *Subscriber

	// Metrics.
	totalPublished atomic.Int64

	// Config.
	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements hook.Hook.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry for external use (e.g., the API's
// websocket server).
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
}

// publishJob fans a job event out to the firehose, the jobs topic, the
// job's queue topic, and the per-job topic. Dead letter and replay
// events additionally hit the dlq topic.
func (b *Broker) publishJob(t EventType, j *job.Job, data JobEventData) {
	data.JobID = j.ID.String()
	data.Queue = j.Queue
	data.State = string(j.State)

	evt := &Event{
		ID:        id.NewEventID(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Data:      mustMarshal(data),
	}

	topics := []string{TopicFirehose, TopicJobs, QueueTopic(j.Queue), evt.Topic}
	if t == EventJobDeadLettered || t == EventJobReplayed {
		topics = append(topics, TopicDLQ)
	}
	delivered := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
}

// publishQueue fans a queue event out to the firehose, the queues
// topic, and the queue's own topic.
func (b *Broker) publishQueue(t EventType, queue string) {
	evt := &Event{
		ID:        id.NewEventID(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Topic:     QueueTopic(queue),
		Data:      mustMarshal(QueueEventData{Queue: queue}),
	}
	delivered := b.topics.Broadcast([]string{TopicFirehose, TopicQueues, evt.Topic}, evt)
	b.totalPublished.Add(int64(delivered))
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

// ── Job lifecycle hooks ─────────────────────────────

func (b *Broker) OnJobEnqueued(_ context.Context, j *job.Job) error {
	b.publishJob(EventJobEnqueued, j, JobEventData{Priority: j.Priority})
	return nil
}

func (b *Broker) OnJobStarted(_ context.Context, j *job.Job) error {
	b.publishJob(EventJobStarted, j, JobEventData{Attempt: j.AttemptsMade + 1})
	return nil
}

func (b *Broker) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	b.publishJob(EventJobCompleted, j, JobEventData{ElapsedMs: elapsed.Milliseconds()})
	return nil
}

func (b *Broker) OnJobFailed(_ context.Context, j *job.Job, jobErr error) error {
	b.publishJob(EventJobFailed, j, JobEventData{
		Error:     jobErr.Error(),
		ErrorKind: string(conveyor.KindOf(jobErr)),
		Attempt:   j.AttemptsMade,
	})
	return nil
}

func (b *Broker) OnJobDelayed(_ context.Context, j *job.Job, attempt int, nextAt time.Time) error {
	b.publishJob(EventJobDelayed, j, JobEventData{
		Attempt: attempt,
		NextAt:  nextAt.Format(time.RFC3339),
	})
	return nil
}

func (b *Broker) OnJobDeadLettered(_ context.Context, j *job.Job, jobErr error) error {
	b.publishJob(EventJobDeadLettered, j, JobEventData{
		Error:     jobErr.Error(),
		ErrorKind: string(conveyor.KindOf(jobErr)),
		Attempt:   j.AttemptsMade,
	})
	return nil
}

func (b *Broker) OnJobReplayed(_ context.Context, entryID id.DLQID, j *job.Job) error {
	b.publishJob(EventJobReplayed, j, JobEventData{
		EntryID:  entryID.String(),
		ReplayOf: j.ReplayOf.String(),
	})
	return nil
}

// ── Queue lifecycle hooks ───────────────────────────

func (b *Broker) OnQueuePaused(_ context.Context, queue string) error {
	b.publishQueue(EventQueuePaused, queue)
	return nil
}

func (b *Broker) OnQueueResumed(_ context.Context, queue string) error {
	b.publishQueue(EventQueueResumed, queue)
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
