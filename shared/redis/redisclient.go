package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds all configuration for the Redis client
type Config struct {
	Addr     string
	Password string
	DB       int
	// MaxStreamLength caps each stream with approximate trimming; 0 keeps everything
	MaxStreamLength int64
}

// RedisClient wraps go-redis with the stream operations used for member
// change notifications.
type RedisClient struct {
	client *redis.Client
	config *Config
}

// StreamMessage is one entry read from a stream
type StreamMessage struct {
	ID     string
	Values map[string]interface{}
}

// NewClient creates and connects a new RedisClient.
func NewClient(cfg *Config) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisClient{client: rdb, config: cfg}, nil
}

// Close gracefully closes the Redis connection.
func (c *RedisClient) Close() error {
	return c.client.Close()
}

// GetClient returns the underlying go-redis client.
func (c *RedisClient) GetClient() *redis.Client {
	return c.client
}

// MemberStreamName is the per-church stream of member change events
func MemberStreamName(churchID string) string {
	return "faithconnect:members:" + churchID
}

// PublishEvent appends an entry to a stream with XADD and an auto generated id.
func (c *RedisClient) PublishEvent(ctx context.Context, streamName string, data map[string]interface{}) (string, error) {
	args := &redis.XAddArgs{
		Stream: streamName,
		Values: data,
	}
	if c.config != nil && c.config.MaxStreamLength > 0 {
		args.MaxLen = c.config.MaxStreamLength
		args.Approx = true
	}

	msgID, err := c.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to XADD to stream %s: %w", streamName, err)
	}
	return msgID, nil
}

// ReadStream blocks up to block for entries after lastID. "$" reads only
// entries added after the call. An empty slice means the wait timed out.
func (c *RedisClient) ReadStream(ctx context.Context, streamName, lastID string, count int64, block time.Duration) ([]StreamMessage, error) {
	streams, err := c.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{streamName, lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to XREAD from stream %s: %w", streamName, err)
	}

	var out []StreamMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			out = append(out, StreamMessage{ID: msg.ID, Values: msg.Values})
		}
	}
	return out, nil
}

// LastStreamID returns the id of the newest entry, or "0" for an empty stream
func (c *RedisClient) LastStreamID(ctx context.Context, streamName string) (string, error) {
	msgs, err := c.client.XRevRangeN(ctx, streamName, "+", "-", 1).Result()
	if err != nil {
		return "", fmt.Errorf("failed to read stream tail %s: %w", streamName, err)
	}
	if len(msgs) == 0 {
		return "0", nil
	}
	return msgs[0].ID, nil
}

// GetStreamLength returns the current stream length
func (c *RedisClient) GetStreamLength(ctx context.Context, streamName string) (int64, error) {
	return c.client.XLen(ctx, streamName).Result()
}

// HealthCheck verifies Redis connectivity
func (c *RedisClient) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// IsClosedError reports errors caused by the client or subscriber shutting
// down, which readers treat as a normal end of stream.
func IsClosedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, context.Canceled) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}

// IsPermissionError reports ACL denials (NOPERM) and auth failures
func IsPermissionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "NOPERM") || strings.Contains(msg, "NOAUTH") || strings.Contains(msg, "WRONGPASS")
}
