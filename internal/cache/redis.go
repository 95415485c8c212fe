package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/profile"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/metrics"
)

const profileKeyPrefix = "inbox:profile:"

// NewRedisClient connects to the Redis instance at url
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}

// ProfileRedis is a read-through profile cache shared by every session.
// Redis failures degrade to the wrapped resolver.
type ProfileRedis struct {
	client *redis.Client
	next   profile.Resolver
	ttl    time.Duration
	logger *slog.Logger
}

var _ profile.Resolver = (*ProfileRedis)(nil)

// NewProfileRedis wraps next with a Redis cache
func NewProfileRedis(client *redis.Client, next profile.Resolver, ttl time.Duration, logger *slog.Logger) *ProfileRedis {
	return &ProfileRedis{
		client: client,
		next:   next,
		ttl:    ttl,
		logger: logger,
	}
}

// Lookup serves the profile from Redis or falls through to the wrapped
// resolver. Missing profiles are not cached.
func (c *ProfileRedis) Lookup(ctx context.Context, id string) (*entity.ProfileSummary, error) {
	key := profileKeyPrefix + id

	start := time.Now()
	raw, err := c.client.Get(ctx, key).Bytes()
	metrics.RedisLatency.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		var p entity.ProfileSummary
		if err := json.Unmarshal(raw, &p); err == nil {
			return &p, nil
		}
		c.logger.Warn("dropping corrupt cached profile", "profile_id", id)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("profile cache unavailable", "profile_id", id, "error", err)
	}

	p, err := c.next.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(p); err == nil {
		start := time.Now()
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("failed to cache profile", "profile_id", id, "error", err)
		}
		metrics.RedisLatency.Observe(time.Since(start).Seconds())
	}

	return p, nil
}

// Invalidate drops cached profiles, e.g. after a profile update
func (c *ProfileRedis) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = profileKeyPrefix + id
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidating profiles: %w", err)
	}
	return nil
}
