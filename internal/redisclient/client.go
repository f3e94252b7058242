package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/config"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

type Client struct {
	rdb           *redis.Client
	eventTTL      time.Duration
	lockTTL       time.Duration
	releaseScript *redis.Script
}

// NewClient connects to Redis and verifies the connection
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewClientFromRedis(rdb, cfg.EventTTL, cfg.LockTTL), nil
}

// NewClientFromRedis wraps an existing connection
func NewClientFromRedis(rdb *redis.Client, eventTTL, lockTTL time.Duration) *Client {
	return &Client{
		rdb:           rdb,
		eventTTL:      eventTTL,
		lockTTL:       lockTTL,
		releaseScript: redis.NewScript(releaseLockScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func eventKey(id string) string {
	return fmt.Sprintf("event:%s", id)
}

// CacheEvent stores an encoded event under its id for the event TTL
func (c *Client) CacheEvent(ctx context.Context, id string, data []byte) error {
	if err := c.rdb.Set(ctx, eventKey(id), data, c.eventTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache event %s: %w", id, err)
	}
	return nil
}

// GetCachedEvent returns nil when the event is absent or expired
func (c *Client) GetCachedEvent(ctx context.Context, id string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, eventKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached event %s: %w", id, err)
	}
	return data, nil
}

// AcquireLock takes a distributed lock for the lock TTL. The returned token
// must be passed to ReleaseLock.
func (c *Client) AcquireLock(ctx context.Context, lockKey string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, c.lockTTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock %s: %w", lockKey, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock deletes the lock only if it is still held by token
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
