package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"userboard.io/internal/obs"
)

// DefaultChannelPrefix is prepended to the topic to form the Redis channel.
const DefaultChannelPrefix = "userboard.events"

// RedisPublisher is the subset of *redis.Client used by the forwarder.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

// RedisForwarder relays bus events to Redis pub/sub channels.
type RedisForwarder struct {
	client  RedisPublisher
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewRedisForwarder publishes to "<prefix>.<topic>".
func NewRedisForwarder(client RedisPublisher, prefix string, logger *slog.Logger) *RedisForwarder {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if logger == nil {
		logger = obs.Logger()
	}
	return &RedisForwarder{client: client, prefix: prefix, timeout: 3 * time.Second, logger: logger}
}

// Channel returns the Redis channel used for topic.
func (f *RedisForwarder) Channel(topic string) string {
	return f.prefix + "." + topic
}

// Handle is an events.Handler.
func (f *RedisForwarder) Handle(ctx context.Context, evt Event) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	channel := f.Channel(evt.Topic)
	receivers, err := f.client.Publish(ctx, channel, []byte(evt.Payload)).Result()
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	obs.RecordEvent(evt.Topic, "forwarded")
	f.logger.Debug("event forwarded",
		slog.String("channel", channel),
		slog.Int64("receivers", receivers),
	)
	return nil
}
