// Package redis publishes allocation events on Redis pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/config"
	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/notify"
)

// Ensure Publisher implements notify.Subscriber
var _ notify.Subscriber = (*Publisher)(nil)

// Publisher forwards allocation events to a Redis channel so that services
// outside this process can follow placement decisions.
type Publisher struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewPublisher creates a new Redis connection.
func NewPublisher(cfg config.RedisConfig, logger *zap.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", cfg.Address()),
		zap.String("channel", cfg.Channel),
	)

	return &Publisher{client: client, channel: cfg.Channel, logger: logger}, nil
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Health checks if Redis is reachable.
func (p *Publisher) Health(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Channel returns the pub/sub channel events are published on.
func (p *Publisher) Channel() string {
	return p.channel
}

// Deliver publishes event as JSON.
func (p *Publisher) Deliver(ctx context.Context, event domain.AllocationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish error: %w", err)
	}
	return nil
}

// Subscribe returns the events published on the channel until ctx is done.
func (p *Publisher) Subscribe(ctx context.Context) <-chan domain.AllocationEvent {
	pubsub := p.client.Subscribe(ctx, p.channel)
	events := make(chan domain.AllocationEvent, 100)

	go func() {
		defer close(events)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event domain.AllocationEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					p.logger.Warn("Failed to unmarshal event", zap.Error(err))
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events
}
