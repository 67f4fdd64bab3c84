// Package bus is an in-process pub/sub used to announce local state changes
// (store writes, outbox activity) to the daemon and CLI watchers.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 64

type Event struct {
	Topic   string
	Payload any
}

// Subscription receives events whose topic starts with its prefix.
type Subscription struct {
	id      int
	prefix  string
	ch      chan Event
	dropped atomic.Int64
}

func (s *Subscription) Ch() <-chan Event { return s.ch }

// Dropped counts events discarded because the channel was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

func (s *Subscription) wants(topic string) bool {
	return s.prefix == "" || strings.HasPrefix(topic, s.prefix)
}

// offer hands ev to the subscriber without blocking.
func (s *Subscription) offer(ev Event) bool {
	select {
	case s.ch <- ev:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Bus is a topic-prefix pub/sub. A nil *Bus accepts publishes and drops them,
// so stores can be constructed without one.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscribe registers a subscriber for topicPrefix. An empty prefix matches
// every topic.
func (b *Bus) Subscribe(topicPrefix string) *Subscription {
	sub := &Subscription{prefix: topicPrefix, ch: make(chan Event, defaultBufferSize)}
	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its channel. Repeated calls are no-ops.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if b == nil || sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[sub.id] == sub {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish fans the event out and returns how many subscribers took it.
func (b *Bus) Publish(topic string, payload any) int {
	if b == nil {
		return 0
	}
	ev := Event{Topic: topic, Payload: payload}
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, sub := range b.subs {
		if sub.wants(topic) && sub.offer(ev) {
			n++
		}
	}
	return n
}

func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
