package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisOptions configure the Redis pub/sub sink.
type RedisOptions struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// RedisSink publishes events as JSON on "<prefix>:<event name>" channels.
type RedisSink struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(ctx context.Context, opts RedisOptions, logger zerolog.Logger) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return newRedisSink(client, opts.ChannelPrefix, logger), nil
}

func newRedisSink(client *redis.Client, prefix string, logger zerolog.Logger) *RedisSink {
	if prefix == "" {
		prefix = "stockwatcher"
	}
	return &RedisSink{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "events_redis").Logger(),
	}
}

// Channel returns the channel an event is published on.
func (s *RedisSink) Channel(name string) string {
	return s.prefix + ":" + name
}

// Publish implements Sink.
func (s *RedisSink) Publish(ctx context.Context, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}
	receivers, err := s.client.Publish(ctx, s.Channel(name), data).Result()
	if err != nil {
		return fmt.Errorf("publish %s event: %w", name, err)
	}
	s.logger.Debug().Str("event", name).Int64("receivers", receivers).Msg("event published")
	return nil
}

// Close releases the Redis connection pool.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

var _ Sink = (*RedisSink)(nil)
