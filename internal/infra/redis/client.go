package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis operations used to export health snapshots.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration. An empty URL disables
// snapshot publishing.
type Config struct {
	URL             string        `yaml:"url"`
	Password        string        `yaml:"password"`
	SnapshotTTL     time.Duration `yaml:"snapshot_ttl"`
	PublishInterval time.Duration `yaml:"publish_interval"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key helpers
func snapshotKey(sessionID string) string {
	return fmt.Sprintf("failover:health:%s", sessionID)
}

// WriteSnapshot replaces the session hash with fields and refreshes its TTL.
func (c *Client) WriteSnapshot(
	ctx context.Context,
	sessionID string,
	fields map[string]string,
	ttl time.Duration,
) error {
	key := snapshotKey(sessionID)
	values := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.HSet(ctx, key, values...)
		}
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", sessionID, err)
	}
	return nil
}

// ReadSnapshot returns the session hash. A missing key yields ErrNoSnapshot.
func (c *Client) ReadSnapshot(ctx context.Context, sessionID string) (map[string]string, error) {
	fields, err := c.rdb.HGetAll(ctx, snapshotKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(fields) == 0) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("hgetall failed: %w", err)
	}
	return fields, nil
}

// DeleteSnapshot removes the session hash.
func (c *Client) DeleteSnapshot(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, snapshotKey(sessionID)).Err()
}

// ListSnapshots returns the session ids that currently have a snapshot.
func (c *Client) ListSnapshots(ctx context.Context) ([]string, error) {
	var (
		ids    []string
		cursor uint64
	)
	prefix := snapshotKey("")
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		for _, k := range keys {
			ids = append(ids, k[len(prefix):])
		}
		if next == 0 {
			return ids, nil
		}
		cursor = next
	}
}
