package coordinator

import (
	"sync"

	"github.com/interceptd/interceptd/pkg/flow"
)

// subscriberBuffer is how many events a slow subscriber may lag before
// newer events are dropped for it.
const subscriberBuffer = 64

// Broker fans flow events out to live subscribers. Delivery is best-effort:
// a subscriber that stops draining loses events rather than blocking the
// session.
type Broker struct {
	mu     sync.Mutex
	subs   map[chan flow.Flow]struct{}
	closed bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[chan flow.Flow]struct{})}
}

// Subscribe registers a new listener. The returned cancel func must be
// called when the listener goes away; after cancel the channel is closed.
func (b *Broker) Subscribe() (<-chan flow.Flow, func()) {
	ch := make(chan flow.Flow, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber without blocking.
func (b *Broker) Publish(f flow.Flow) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- f:
		default:
		}
	}
}

// Close shuts the broker; all subscriber channels are closed and further
// publishes are dropped.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
