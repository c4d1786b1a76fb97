package relay

import (
	"sync"
	"sync/atomic"
)

const subscriberBufSize = 256

// Broker fans worker messages out to subscribers. Streaming subscribers
// drop messages when slow; one-shot listeners always receive the message
// that resolves them.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Reply
	listeners   map[int64]listener
	nextID      atomic.Int64
}

type listener struct {
	match func(Reply) bool
	ch    chan Reply
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Reply),
		listeners:   make(map[int64]listener),
	}
}

// Subscribe registers a streaming client and returns its ID and channel.
func (b *Broker) Subscribe() (int64, <-chan Reply) {
	id := b.nextID.Add(1)
	ch := make(chan Reply, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Once attaches a listener that receives the first published message
// accepted by match and is then removed. Every attached listener sees the
// same message, so concurrent callers resolve on the same terminal reply.
// cancel detaches a listener that is no longer needed.
func (b *Broker) Once(match func(Reply) bool) (<-chan Reply, func()) {
	id := b.nextID.Add(1)
	l := listener{match: match, ch: make(chan Reply, 1)}
	b.mu.Lock()
	b.listeners[id] = l
	b.mu.Unlock()
	return l.ch, func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Publish delivers msg to every subscriber without blocking and resolves
// matching one-shot listeners.
func (b *Broker) Publish(msg Reply) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, l := range b.listeners {
		if l.match != nil && !l.match(msg) {
			continue
		}
		l.ch <- msg
		delete(b.listeners, id)
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
}

// ClientCount returns the number of streaming subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// ListenerCount returns the number of pending one-shot listeners.
func (b *Broker) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
