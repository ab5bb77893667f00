package cache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/HMasataka/chathub/internal/config"
	"github.com/HMasataka/chathub/internal/logging"
	"github.com/HMasataka/chathub/pkg/domain"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "cache:user:"

// UserCache is a read-through redis cache in front of a domain.UserStore.
// Only name lookups are cached; misses are never cached so a user created
// later becomes visible immediately.
type UserCache struct {
	next   domain.UserStore
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

var _ domain.UserStore = (*UserCache)(nil)

// NewClient builds a redis client from cfg and checks that it answers
func NewClient(ctx context.Context, cfg config.CacheConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}
	return client, nil
}

// NewUserCache wraps next
func NewUserCache(next domain.UserStore, client *redis.Client, ttl time.Duration, logger *logging.Logger) *UserCache {
	return &UserCache{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger.WithFields(map[string]any{"component": "user_cache"}),
	}
}

// FindByUsername implements domain.UserStore
func (c *UserCache) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	key := userKey(username)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var u domain.User
		if err := json.Unmarshal(raw, &u); err == nil {
			return &u, nil
		}
		c.logger.Warn("dropping corrupt cache entry", "key", key)
		if err := c.Invalidate(ctx, username); err != nil {
			c.logger.Warn("cache delete failed", "key", key, "error", err)
		}
	case !stderrors.Is(err, redis.Nil):
		// fall through to the store
		c.logger.Warn("cache read failed", "key", key, "error", err)
	}

	u, err := c.next.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(u); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("cache write failed", "key", key, "error", err)
		}
	}
	return u, nil
}

// FindByID implements domain.UserStore
func (c *UserCache) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	return c.next.FindByID(ctx, id)
}

// Invalidate drops the cached entry of username
func (c *UserCache) Invalidate(ctx context.Context, username string) error {
	return c.client.Del(ctx, userKey(username)).Err()
}

func userKey(username string) string {
	return keyPrefix + strings.ToLower(strings.TrimSpace(username))
}
