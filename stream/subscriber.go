package stream

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// NewSubscriberID returns a fresh unique subscriber identifier.
// Transports that carry their own connection IDs may use those instead.
func NewSubscriberID() string {
	return "sub_" + uuid.NewString()
}

// Subscriber is one consumer of the event stream. Delivery is
// credit-gated: each delivered event spends one credit, and the broker
// skips the subscriber once its credits hit zero. A slow transport
// therefore sheds events instead of stalling publishers.
type Subscriber struct {
	id     string
	events chan *Event

	credits atomic.Int64
	closed  atomic.Bool

	mu     sync.RWMutex
	topics map[string]struct{}
	filter func(*Event) bool
}

// NewSubscriber creates a subscriber with the given channel buffer
// size and starting credit balance.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{
		id:     id,
		events: make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel.
func (s *Subscriber) C() <-chan *Event { return s.events }

// AddCredits replenishes the credit balance by n.
func (s *Subscriber) AddCredits(n int64) { s.credits.Add(n) }

// Credits returns the current credit balance.
func (s *Subscriber) Credits() int64 { return s.credits.Load() }

// SetFilter installs a predicate applied before delivery. Events the
// predicate rejects are dropped without spending a credit.
func (s *Subscriber) SetFilter(fn func(*Event) bool) {
	s.mu.Lock()
	s.filter = fn
	s.mu.Unlock()
}

// Topics returns a snapshot of the subscribed topic names.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// takeCredit spends one credit, or reports that none remain.
func (s *Subscriber) takeCredit() bool {
	for {
		n := s.credits.Load()
		if n <= 0 {
			return false
		}
		if s.credits.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// send delivers evt if the subscriber is open, the filter accepts it,
// a credit is available, and the buffer has room. Any other outcome
// drops the event and reports false.
func (s *Subscriber) send(evt *Event) bool {
	if s.closed.Load() {
		return false
	}

	s.mu.RLock()
	accept := s.filter == nil || s.filter(evt)
	s.mu.RUnlock()
	if !accept {
		return false
	}

	if !s.takeCredit() {
		return false
	}
	select {
	case s.events <- evt:
		return true
	default:
		// Buffer full. Refund the credit so the balance still
		// reflects what the consumer granted.
		s.credits.Add(1)
		return false
	}
}

// Close closes the event channel. Safe to call more than once.
func (s *Subscriber) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.events)
	}
}
