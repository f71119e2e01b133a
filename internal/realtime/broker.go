package realtime

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Broker carries room events to every hub serving the room.
type Broker interface {
	Publish(ctx context.Context, threadID string, payload []byte) error
}

// LocalBroker delivers straight into the process-local hub.
type LocalBroker struct {
	hub *Hub
}

// NewLocalBroker creates a broker for single-instance deployments.
func NewLocalBroker(hub *Hub) *LocalBroker {
	return &LocalBroker{hub: hub}
}

// Publish implements Broker.
func (b *LocalBroker) Publish(_ context.Context, threadID string, payload []byte) error {
	b.hub.Publish(threadID, payload)
	return nil
}

// RedisBroker relays room events through Redis pub/sub so connections held by
// other instances receive them. Each instance runs Run to feed its own hub.
type RedisBroker struct {
	client *redis.Client
	hub    *Hub
	prefix string
	logger *zap.Logger
}

// NewRedisBroker creates a broker publishing on prefix+threadID channels.
func NewRedisBroker(client *redis.Client, hub *Hub, prefix string, logger *zap.Logger) *RedisBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroker{client: client, hub: hub, prefix: prefix, logger: logger}
}

// Publish implements Broker.
func (b *RedisBroker) Publish(ctx context.Context, threadID string, payload []byte) error {
	return b.client.Publish(ctx, b.prefix+threadID, payload).Err()
}

// Run relays subscribed room events into the local hub until ctx ends.
func (b *RedisBroker) Run(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, b.prefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	b.logger.Info("redis room relay subscribed", zap.String("pattern", b.prefix+"*"))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			threadID := strings.TrimPrefix(msg.Channel, b.prefix)
			b.hub.Publish(threadID, []byte(msg.Payload))
		}
	}
}
