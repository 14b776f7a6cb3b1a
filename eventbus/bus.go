// Package eventbus fans proxy and analyzer events out to subscribers with
// bounded queues and a drop-oldest overflow policy.
package eventbus

import (
	"sync"

	"go.uber.org/atomic"
)

// Topics published by the core engines.
const (
	TopicNewRequest       = "new_request"
	TopicIntercept        = "intercept"
	TopicProxyStatus      = "proxy_status"
	TopicWebSocketMessage = "websocket_message"
	TopicIntruderResult   = "intruder_result"
	TopicIntruderProgress = "intruder_progress"
	TopicSpiderURL        = "spider_url"
	TopicSpiderProgress   = "spider_progress"
	TopicScanProgress     = "scan_progress"
)

// Event is one published item.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// DefaultQueueSize is the per-subscriber buffer when none is given.
const DefaultQueueSize = 256

// Subscriber receives events for its topics on C. When the queue overflows
// the oldest event is discarded and Drops is incremented; publishers never
// block.
type Subscriber struct {
	bus    *Bus
	topics map[string]bool
	ch     chan Event
	drops  atomic.Uint64
	closed atomic.Bool

	mu sync.Mutex // serializes the enqueue drop-oldest dance
}

// C is the subscriber's receive channel.
func (s *Subscriber) C() <-chan Event {
	return s.ch
}

// Drops returns how many events were discarded due to overflow.
func (s *Subscriber) Drops() uint64 {
	return s.drops.Load()
}

// Close detaches the subscriber from the bus.
func (s *Subscriber) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.bus.remove(s)
}

func (s *Subscriber) wants(topic string) bool {
	if len(s.topics) == 0 {
		return true
	}
	return s.topics[topic]
}

func (s *Subscriber) enqueue(ev Event) {
	if s.closed.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case s.ch <- ev:
		return
	default:
	}
	// Queue full: discard the oldest, then retry once.
	select {
	case <-s.ch:
		s.drops.Inc()
	default:
	}
	select {
	case s.ch <- ev:
	default:
		s.drops.Inc()
	}
}

// Bus is a topic fan-out. Publish order is preserved per subscriber modulo
// drops.
type Bus struct {
	mu   sync.RWMutex
	subs []*Subscriber
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a subscriber for the given topics. No topics means
// all topics. A queue <= 0 uses DefaultQueueSize.
func (b *Bus) Subscribe(queue int, topics ...string) *Subscriber {
	if queue <= 0 {
		queue = DefaultQueueSize
	}
	s := &Subscriber{
		bus:    b,
		ch:     make(chan Event, queue),
		topics: make(map[string]bool, len(topics)),
	}
	for _, t := range topics {
		s.topics[t] = true
	}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s
}

func (b *Bus) remove(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to every matching subscriber without blocking.
func (b *Bus) Publish(topic string, data any) {
	ev := Event{Type: topic, Data: data}

	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if s.wants(topic) {
			s.enqueue(ev)
		}
	}
}

// SubscriberCount reports the number of attached subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
