package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nomidot/valtable/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Default stream configuration
const (
	DefaultStreamMaxLen = 10000 // Default max entries per stream

	// KeyPrefix namespaces every key and channel this service touches.
	KeyPrefix = "nomidot"

	// TableUpdatedEvent is the channel suffix for recomputed validator tables.
	TableUpdatedEvent = "table.updated"
)

// TableUpdatedChannel returns the pub/sub channel for a session's table updates.
func TableUpdatedChannel(session uint32) string {
	return fmt.Sprintf("%s:%d:%s", KeyPrefix, session, TableUpdatedEvent)
}

// TableUpdatedPattern matches table updates of every session.
func TableUpdatedPattern() string {
	return fmt.Sprintf("%s:*:%s", KeyPrefix, TableUpdatedEvent)
}

// SessionFromChannel extracts the session from "nomidot:<session>:table.updated".
func SessionFromChannel(channel string) (uint32, bool) {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[0] != KeyPrefix || parts[2] != TableUpdatedEvent {
		return 0, false
	}
	n, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// Client wraps the Redis client for table notifications (Pub/Sub) and cart storage (Streams, Sets).
type Client struct {
	client       redis.UniversalClient
	logger       *zap.Logger
	streamMaxLen int64 // Max entries per stream (0 = unlimited)
}

// NewClient creates a new Redis client using environment variables for configuration.
// Environment variables:
//   - REDIS_HOST: Redis host (default: "localhost")
//   - REDIS_PORT: Redis port (default: "6379")
//   - REDIS_PASSWORD: Redis password (default: "")
//   - REDIS_DB: Redis database number (default: "0")
//   - REDIS_STREAM_MAXLEN: Max entries per stream (default: 10000, 0 = unlimited)
func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("REDIS_HOST", "localhost")
	port := utils.Env("REDIS_PORT", "6379")
	password := utils.Env("REDIS_PASSWORD", "")
	db := utils.EnvInt("REDIS_DB", 0)
	streamMaxLen := utils.EnvInt64("REDIS_STREAM_MAXLEN", DefaultStreamMaxLen)

	addr := fmt.Sprintf("%s:%s", host, port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		// Connection pool
		PoolSize:     10,
		MinIdleConns: 2,

		// Timeouts
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", addr),
		zap.Int("db", db),
		zap.Int64("streamMaxLen", streamMaxLen))

	return NewFromUniversal(rdb, logger, streamMaxLen), nil
}

// NewFromUniversal wraps an existing go-redis client.
func NewFromUniversal(rdb redis.UniversalClient, logger *zap.Logger, streamMaxLen int64) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{client: rdb, logger: logger, streamMaxLen: streamMaxLen}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Publish publishes a message to a Redis Pub/Sub channel.
// Errors are logged, not returned.
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) {
	if err := c.client.Publish(ctx, channel, message).Err(); err != nil {
		c.logger.Warn("Failed to publish Redis message",
			zap.String("channel", channel),
			zap.Error(err))
	}
}

// PSubscribe subscribes to one or more Redis Pub/Sub channel patterns.
// The caller is responsible for closing the PubSub object when done.
func (c *Client) PSubscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	c.logger.Debug("Subscribing to Redis patterns", zap.Strings("patterns", patterns))
	return c.client.PSubscribe(ctx, patterns...)
}

// Health checks if Redis is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// XAdd adds an entry to a stream, capped with MAXLEN when configured.
// Unlike Publish, failures are returned: stream writes back user actions.
func (c *Client) XAdd(ctx context.Context, stream string, values map[string]interface{}) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}

	// Apply MAXLEN if configured (approximate for performance)
	if c.streamMaxLen > 0 {
		args.MaxLen = c.streamMaxLen
		args.Approx = true
	}

	return c.client.XAdd(ctx, args).Result()
}

// XRange returns entries from a stream between two IDs (inclusive).
// Use "-" for start and "+" for end to read the whole stream.
func (c *Client) XRange(ctx context.Context, stream, start, end string) ([]redis.XMessage, error) {
	return c.client.XRange(ctx, stream, start, end).Result()
}

// XDel removes entries from a stream.
func (c *Client) XDel(ctx context.Context, stream string, ids ...string) error {
	return c.client.XDel(ctx, stream, ids...).Err()
}

// SAdd adds a member to a set and reports whether it was new.
func (c *Client) SAdd(ctx context.Context, key, member string) (bool, error) {
	n, err := c.client.SAdd(ctx, key, member).Result()
	return n > 0, err
}

// SRem removes a member from a set.
func (c *Client) SRem(ctx context.Context, key, member string) error {
	return c.client.SRem(ctx, key, member).Err()
}

// Del removes keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}
