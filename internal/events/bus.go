// Package events is the in-process notification fabric between the
// engines and the control surface. Delivery is best effort: a
// subscriber that stops draining loses messages, never the publisher.
package events

import "sync"

// Subscription is one listener on one topic. Read from C; call Cancel
// when done. C is closed after Cancel.
type Subscription struct {
	C chan any

	bus   *Bus
	topic Event
	id    uint64

	dropMu  sync.Mutex
	dropped uint64
}

// Dropped counts messages discarded because C was full.
func (s *Subscription) Dropped() uint64 {
	s.dropMu.Lock()
	defer s.dropMu.Unlock()
	return s.dropped
}

// Cancel detaches the subscription and closes C. Safe to call twice.
func (s *Subscription) Cancel() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.topics[s.topic]; ok {
		if _, live := set[s.id]; live {
			delete(set, s.id)
			close(s.C)
		}
	}
}

// Bus fans published payloads out to every subscription on the topic.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[Event]map[uint64]*Subscription
}

func NewBus() *Bus {
	return &Bus{topics: make(map[Event]map[uint64]*Subscription)}
}

// Subscribe attaches a buffered listener to a topic.
func (b *Bus) Subscribe(topic Event, buffer int) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		C:     make(chan any, buffer),
		bus:   b,
		topic: topic,
		id:    b.nextID,
	}
	set, ok := b.topics[topic]
	if !ok {
		set = make(map[uint64]*Subscription)
		b.topics[topic] = set
	}
	set[sub.id] = sub
	return sub
}

// Publish delivers to every subscription without ever blocking the
// caller; the trading loop must not wait on a stuck websocket.
func (b *Bus) Publish(topic Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.topics[topic] {
		select {
		case sub.C <- payload:
		default:
			sub.dropMu.Lock()
			sub.dropped++
			sub.dropMu.Unlock()
		}
	}
}
