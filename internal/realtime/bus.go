// Package realtime carries the two event streams a collaboration session
// listens on: the row change feed (fired after every committed write to a
// session row) and the ephemeral broadcast channel (presence events that are
// never persisted). The streams are independent; no ordering holds between
// them.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
)

// Subscription is a handle for deterministic teardown. Closing it guarantees
// the callback will not fire again, so a stale handler can never write into a
// torn-down session.
type Subscription interface {
	Close() error
}

type Bus interface {
	// PublishRowChange announces the new value of a session row.
	PublishRowChange(ctx context.Context, sessionID string, row json.RawMessage) error
	// SubscribeRowChanges delivers every row update for the session, in the
	// order the bus observed them, until the subscription is closed.
	SubscribeRowChanges(ctx context.Context, sessionID string, fn func(row json.RawMessage)) (Subscription, error)
	// PublishBroadcast fans an ephemeral event out to all session peers,
	// including the sender.
	PublishBroadcast(ctx context.Context, sessionID, event string, payload json.RawMessage) error
	// SubscribeBroadcast delivers broadcast events of one kind for the session.
	SubscribeBroadcast(ctx context.Context, sessionID, event string, fn func(payload json.RawMessage)) (Subscription, error)
}

func changesChannel(sessionID string) string {
	return "collab:changes:" + sessionID
}

func eventsChannel(sessionID, event string) string {
	return "collab:events:" + sessionID + ":" + event
}

// MemoryBus is an in-process Bus for single-node deployments and tests.
// Fan-out mirrors the usual subscriber-map shape: buffered channels, one
// delivery goroutine per subscriber, messages dropped when a subscriber's
// buffer is full rather than blocking the publisher.
type MemoryBus struct {
	mu     sync.Mutex
	topics map[string]map[uint64]chan json.RawMessage
	nextID uint64
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{topics: make(map[string]map[uint64]chan json.RawMessage)}
}

func (b *MemoryBus) publish(topic string, payload json.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.topics[topic] {
		select {
		case ch <- payload:
		default:
			// subscriber buffer full, drop
		}
	}
}

func (b *MemoryBus) subscribe(topic string, fn func(json.RawMessage)) Subscription {
	b.mu.Lock()
	ch := make(chan json.RawMessage, 64)
	id := b.nextID
	b.nextID++
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[uint64]chan json.RawMessage)
	}
	b.topics[topic][id] = ch
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for payload := range ch {
			fn(payload)
		}
		close(done)
	}()

	return &memorySubscription{bus: b, topic: topic, id: id, ch: ch, done: done}
}

func (b *MemoryBus) PublishRowChange(_ context.Context, sessionID string, row json.RawMessage) error {
	b.publish(changesChannel(sessionID), row)
	return nil
}

func (b *MemoryBus) SubscribeRowChanges(_ context.Context, sessionID string, fn func(json.RawMessage)) (Subscription, error) {
	return b.subscribe(changesChannel(sessionID), fn), nil
}

func (b *MemoryBus) PublishBroadcast(_ context.Context, sessionID, event string, payload json.RawMessage) error {
	b.publish(eventsChannel(sessionID, event), payload)
	return nil
}

func (b *MemoryBus) SubscribeBroadcast(_ context.Context, sessionID, event string, fn func(json.RawMessage)) (Subscription, error) {
	return b.subscribe(eventsChannel(sessionID, event), fn), nil
}

type memorySubscription struct {
	bus   *MemoryBus
	topic string
	id    uint64
	ch    chan json.RawMessage
	done  chan struct{}
	once  sync.Once
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		if subs, ok := s.bus.topics[s.topic]; ok {
			if _, ok := subs[s.id]; ok {
				delete(subs, s.id)
				close(s.ch)
			}
		}
		s.bus.mu.Unlock()
		// Wait for the delivery goroutine so no callback runs after Close.
		<-s.done
	})
	return nil
}
