package stream

import (
	"sync"
	"sync/atomic"
)

// Subscriber is one consumer of the broker's event stream. Delivery is
// credit-based: each delivered event costs one credit, and a subscriber
// with no credits left is skipped until the consumer grants more. This
// keeps a slow WebSocket reader from backing up the broker.
type Subscriber struct {
	id string

	// ch carries delivered events. Sends never block; an event that
	// does not fit is dropped and counted.
	ch chan *Event

	credits atomic.Int64
	dropped atomic.Int64
	closed  atomic.Bool

	mu     sync.RWMutex
	topics map[string]struct{}
	filter func(*Event) bool
}

// NewSubscriber creates a subscriber with a buffered channel of the
// given size and an initial credit balance.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	sub := &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
	sub.credits.Store(initialCredits)
	return sub
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the channel the subscriber's events arrive on. The channel
// is closed when the subscriber is closed.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// AddCredits grants n more delivery credits. Non-positive grants are
// ignored so a malformed wire frame cannot revoke credits.
func (s *Subscriber) AddCredits(n int64) {
	if n <= 0 {
		return
	}
	s.credits.Add(n)
}

// Credits returns the remaining credit balance.
func (s *Subscriber) Credits() int64 { return s.credits.Load() }

// Dropped returns how many events were lost to credit exhaustion or a
// full buffer since the subscriber was created.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// SetFilter installs a predicate applied before delivery. Events the
// predicate rejects are skipped without consuming a credit.
func (s *Subscriber) SetFilter(fn func(*Event) bool) {
	s.mu.Lock()
	s.filter = fn
	s.mu.Unlock()
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

// Topics returns the topics the subscriber is currently on.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for topic := range s.topics {
		out = append(out, topic)
	}
	return out
}

// takeCredit atomically consumes one credit. Reports false when the
// balance is already zero.
func (s *Subscriber) takeCredit() bool {
	for {
		cur := s.credits.Load()
		if cur <= 0 {
			return false
		}
		if s.credits.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

// send delivers an event without blocking. It reports whether the event
// reached the channel. Filtered events are not counted as drops; events
// lost to credit exhaustion or a full buffer are.
func (s *Subscriber) send(evt *Event) bool {
	if s.closed.Load() {
		return false
	}

	s.mu.RLock()
	filter := s.filter
	s.mu.RUnlock()
	if filter != nil && !filter(evt) {
		return false
	}

	if !s.takeCredit() {
		s.dropped.Add(1)
		return false
	}

	select {
	case s.ch <- evt:
		return true
	default:
		// Buffer full. Hand the credit back so the consumer's
		// balance reflects only delivered events.
		s.credits.Add(1)
		s.dropped.Add(1)
		return false
	}
}

// Close closes the event channel. Idempotent.
func (s *Subscriber) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
