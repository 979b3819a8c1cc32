package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

// DefaultChannel is the Redis channel shared by every API instance.
const DefaultChannel = "booking:realtime"

// Broker moves envelopes to the hubs that hold the recipients' connections.
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
}

// LocalBroker delivers straight to the in-process hub. Single-instance only.
type LocalBroker struct {
	hub *Hub
}

func NewLocalBroker(hub *Hub) *LocalBroker {
	return &LocalBroker{hub: hub}
}

func (b *LocalBroker) Publish(_ context.Context, env Envelope) error {
	data, err := json.Marshal(env.Event)
	if err != nil {
		return fmt.Errorf("realtime: marshal event: %w", err)
	}
	b.hub.Deliver(env.Recipients, data)
	return nil
}

// RedisBroker fans envelopes out through Redis pub/sub so every instance's hub
// sees them. Run must be started on each instance.
type RedisBroker struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *logging.Logger
}

func NewRedisBroker(client *redis.Client, channel string, hub *Hub, logger *logging.Logger) *RedisBroker {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisBroker{client: client, channel: channel, hub: hub, logger: logger.Component("realtime.redis")}
}

func (b *RedisBroker) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("realtime: marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("realtime: redis publish: %w", err)
	}
	return nil
}

// Run subscribes to the channel and delivers to the local hub until ctx ends.
func (b *RedisBroker) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("realtime: subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("listening for realtime events", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("discarding malformed realtime envelope", "error", err)
				continue
			}
			data, err := json.Marshal(env.Event)
			if err != nil {
				continue
			}
			b.hub.Deliver(env.Recipients, data)
		}
	}
}
