package broker

import (
	"context"
	"sync"
)

// memoryBuffer is the per-subscriber backlog; publishes beyond it are dropped
const memoryBuffer = 256

// MemoryBroker is an in-process Broker
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[string]map[*memorySubscription]struct{} // Protected by mu
	closed bool
}

// NewMemory creates an empty in-process broker
func NewMemory() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*memorySubscription]struct{})}
}

// Publish delivers a copy of payload to every subscriber with room for it
func (b *MemoryBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	for sub := range b.subs[channel] {
		msg := append([]byte(nil), payload...)
		select {
		case sub.out <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers a new subscriber on channel
func (b *MemoryBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	sub := &memorySubscription{
		broker:  b,
		channel: channel,
		out:     make(chan []byte, memoryBuffer),
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*memorySubscription]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	return sub, nil
}

// Subscribers returns how many subscriptions are open on channel
func (b *MemoryBroker) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

// Disconnect ends every subscription on channel as if the connection
// had dropped.
func (b *MemoryBroker) Disconnect(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs[channel] {
		sub.closeLocked()
	}
	delete(b.subs, channel)
}

// Close ends all subscriptions and rejects further use
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for channel, set := range b.subs {
		for sub := range set {
			sub.closeLocked()
		}
		delete(b.subs, channel)
	}
	b.closed = true
	return nil
}

type memorySubscription struct {
	broker  *MemoryBroker
	channel string
	out     chan []byte
	closed  bool // Protected by broker.mu
}

func (s *memorySubscription) Messages() <-chan []byte {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()

	if set := s.broker.subs[s.channel]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(s.broker.subs, s.channel)
		}
	}
	s.closeLocked()
	return nil
}

func (s *memorySubscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}
