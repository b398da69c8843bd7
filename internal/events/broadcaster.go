// Package events multiplexes typed lifecycle events to subscribed
// observers. Each component owns a Broadcaster instance injected into its
// consumers; there is no ambient singleton.
package events

import (
	"sync"

	"github.com/overseer-dev/overseer/internal/core"
)

// DefaultBuffer is the per-subscriber delivery buffer used when the caller
// does not specify one.
const DefaultBuffer = 256

// Broadcaster delivers events to every live subscriber. Per-subscriber
// FIFO ordering is guaranteed; cross-subscriber ordering is not. The
// producer never blocks: a subscriber whose buffer overflows is dropped.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]*subscriber
}

type subscriber struct {
	id string
	ch chan core.Event

	// mu serializes sends with close so a concurrent unsubscribe can
	// never close the channel mid-send.
	mu     sync.Mutex
	closed bool
}

// send attempts a non-blocking delivery. It reports false only when the
// subscriber is live and its buffer is full; a closed subscriber counts
// as delivered since it is already gone.
func (s *subscriber) send(ev core.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]*subscriber)}
}

// Subscribe registers a bounded delivery channel under the observer ID.
// A previous subscription with the same ID is replaced. The channel is
// closed when the subscriber is dropped or unsubscribed.
func (b *Broadcaster) Subscribe(id string, buffer int) <-chan core.Event {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &subscriber{id: id, ch: make(chan core.Event, buffer)}

	b.mu.Lock()
	if prev, ok := b.subs[id]; ok {
		prev.close()
	}
	b.subs[id] = sub
	b.mu.Unlock()

	return sub.ch
}

// SubscribeFunc registers a callback run in a dedicated delivery worker,
// preserving per-subscriber FIFO order without blocking the producer.
func (b *Broadcaster) SubscribeFunc(id string, buffer int, fn func(core.Event)) {
	ch := b.Subscribe(id, buffer)
	go func() {
		for ev := range ch {
			fn(ev)
		}
	}()
}

// Unsubscribe removes the observer and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Broadcast delivers the event to every live subscriber. Subscribers whose
// buffers are full are dropped, and a subscriber:dropped event is emitted
// to the survivors.
func (b *Broadcaster) Broadcast(ev core.Event) {
	dropped := b.deliver(ev)
	for _, id := range dropped {
		b.deliver(core.NewEvent(core.EventSubscriberDropped, map[string]any{
			"subscriberId": id,
		}))
	}
}

func (b *Broadcaster) deliver(ev core.Event) []string {
	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	var dropped []string
	for _, sub := range targets {
		if sub.send(ev) {
			continue
		}
		// Slow subscriber: drop it rather than block the producer.
		b.mu.Lock()
		if b.subs[sub.id] == sub {
			delete(b.subs, sub.id)
		}
		b.mu.Unlock()
		sub.close()
		dropped = append(dropped, sub.id)
	}
	return dropped
}

// SubscriberCount returns the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close drops every subscriber and closes their channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*subscriber)
	b.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}
