package journal

import "sync"

// Bus is a non-blocking broadcast sink for live observers (CLI tails,
// future metrics collectors). Subscribers receive entries on buffered
// channels; slow subscribers miss entries rather than blocking the
// loop. Safe to use as one sink in a Fanout alongside durable sinks.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Entry]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so Unsubscribe
	// can accept the caller's view of the channel.
	recvToSend map[<-chan Entry]chan Entry
}

// NewBus creates an empty broadcast bus.
func NewBus() *Bus {
	return &Bus{
		subs:       make(map[chan Entry]struct{}),
		recvToSend: make(map[<-chan Entry]chan Entry),
	}
}

// Append implements Sink. Never blocks: if a subscriber's buffer is
// full the entry is dropped for that subscriber. Safe on nil (no-op).
func (b *Bus) Append(e Entry) error {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full; drop rather than block the run.
		}
	}
	return nil
}

// Subscribe returns a channel receiving appended entries. The caller
// must eventually Unsubscribe to release resources.
func (b *Bus) Subscribe(bufSize int) <-chan Entry {
	if bufSize <= 0 {
		bufSize = 64
	}
	ch := make(chan Entry, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Safe to
// call twice (no-op the second time).
func (b *Bus) Unsubscribe(ch <-chan Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
