// internal/notify/redis.go
package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ursuslabs/agent-launchpad/internal/events"
)

// RedisOptions configures the Redis pub/sub sink.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisSink publishes serialized events on a single pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisSink connects to Redis and verifies the connection with a ping.
func NewRedisSink(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*RedisSink, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("empty redis address")
	}
	if opts.Channel == "" {
		return nil, fmt.Errorf("empty redis channel")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisSink{
		client:  client,
		channel: opts.Channel,
		logger:  logger.Named("redis_sink"),
	}, nil
}

func (s *RedisSink) Name() string { return "redis" }

// Deliver publishes the payload on the configured channel. Pub/sub has no
// persistence, so subscribers only see events published while connected.
func (s *RedisSink) Deliver(ctx context.Context, eventType events.EventType, payload []byte) error {
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	s.logger.Debug("Event published",
		zap.String("channel", s.channel),
		zap.String("event_type", string(eventType)))
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
