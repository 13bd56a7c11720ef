package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus over Redis pub/sub, letting multiple API instances
// share one change feed and broadcast channel per session.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(redisURL string) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisBus{client: client}, nil
}

// NewRedisBusWithClient wraps an existing Redis client.
func NewRedisBusWithClient(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) PublishRowChange(ctx context.Context, sessionID string, row json.RawMessage) error {
	if err := b.client.Publish(ctx, changesChannel(sessionID), []byte(row)).Err(); err != nil {
		return fmt.Errorf("publish row change: %w", err)
	}
	return nil
}

func (b *RedisBus) SubscribeRowChanges(ctx context.Context, sessionID string, fn func(json.RawMessage)) (Subscription, error) {
	return b.subscribe(ctx, changesChannel(sessionID), fn)
}

func (b *RedisBus) PublishBroadcast(ctx context.Context, sessionID, event string, payload json.RawMessage) error {
	if err := b.client.Publish(ctx, eventsChannel(sessionID, event), []byte(payload)).Err(); err != nil {
		return fmt.Errorf("publish broadcast: %w", err)
	}
	return nil
}

func (b *RedisBus) SubscribeBroadcast(ctx context.Context, sessionID, event string, fn func(json.RawMessage)) (Subscription, error) {
	return b.subscribe(ctx, eventsChannel(sessionID, event), fn)
}

func (b *RedisBus) subscribe(ctx context.Context, channel string, fn func(json.RawMessage)) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)

	// Force the subscription to be established before returning so a caller
	// cannot miss events published right after Subscribe.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			fn(json.RawMessage(msg.Payload))
		}
	}()

	return &redisSubscription{pubsub: pubsub, done: done}, nil
}

// Ping checks if Redis is reachable.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the underlying Redis connection.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
}

func (s *redisSubscription) Close() error {
	err := s.pubsub.Close()
	<-s.done
	return err
}
