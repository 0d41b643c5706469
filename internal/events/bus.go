package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Envelope is one published payload with its topic.
type Envelope struct {
	Topic   Event     `json:"topic"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

type subscriber struct {
	ch     chan Envelope
	topics map[Event]bool // empty means every topic
}

// Bus is a lightweight pub/sub broker using channels. Publish never blocks:
// a subscriber whose buffer is full misses the envelope and Dropped grows.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Int64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a listener for the given topics (all topics when none
// are given) and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(buffer int, topics ...Event) (<-chan Envelope, func()) {
	s := &subscriber{ch: make(chan Envelope, buffer), topics: make(map[Event]bool, len(topics))}
	for _, t := range topics {
		s.topics[t] = true
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}

// Publish fans the payload out to matching subscribers.
func (b *Bus) Publish(e Event, payload any) {
	if b == nil {
		return
	}
	env := Envelope{Topic: e, Payload: payload, At: time.Now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if len(s.topics) > 0 && !s.topics[e] {
			continue
		}
		select {
		case s.ch <- env:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
