package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCursorTTL = 10 * time.Minute

// PresenceCache stores the latest ephemeral cursor/selection payload per
// (session, user). Values are fire-and-forget with a TTL; history is never
// retained.
type PresenceCache interface {
	SetCursor(ctx context.Context, sessionID, userID string, payload []byte) error
	GetCursor(ctx context.Context, sessionID, userID string) ([]byte, bool, error)
	DropSession(ctx context.Context, sessionID string) error
}

// RedisConfig captures connection parameters for the Redis presence cache.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	Timeout  time.Duration
	// CursorTTL overrides how long cached cursors remain readable.
	CursorTTL time.Duration
}

// RedisPresenceCache implements PresenceCache on go-redis.
type RedisPresenceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPresenceCache connects eagerly so that misconfiguration surfaces
// during startup rather than on the first cursor update.
func NewRedisPresenceCache(cfg RedisConfig) (*RedisPresenceCache, error) {
	addr := strings.TrimSpace(cfg.Address)
	if addr == "" {
		return nil, errors.New("presence cache: redis address is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ttl := cfg.CursorTTL
	if ttl <= 0 {
		ttl = defaultCursorTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("presence cache: ping redis: %w", err)
	}

	return &RedisPresenceCache{client: client, ttl: ttl}, nil
}

// Close releases the underlying connection pool.
func (c *RedisPresenceCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// SetCursor stores the latest cursor payload for the participant.
func (c *RedisPresenceCache) SetCursor(ctx context.Context, sessionID, userID string, payload []byte) error {
	if c == nil || c.client == nil {
		return errors.New("presence cache: not initialised")
	}
	return c.client.Set(ctx, cursorKey(sessionID, userID), payload, c.ttl).Err()
}

// GetCursor returns the latest cursor payload, if one is cached.
func (c *RedisPresenceCache) GetCursor(ctx context.Context, sessionID, userID string) ([]byte, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, errors.New("presence cache: not initialised")
	}
	payload, err := c.client.Get(ctx, cursorKey(sessionID, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// DropSession removes all cached cursors for an ended session.
func (c *RedisPresenceCache) DropSession(ctx context.Context, sessionID string) error {
	if c == nil || c.client == nil {
		return errors.New("presence cache: not initialised")
	}

	iter := c.client.Scan(ctx, 0, cursorKey(sessionID, "*"), 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func cursorKey(sessionID, userID string) string {
	return fmt.Sprintf("inkwell:presence:cursor:%s:%s", sessionID, userID)
}
