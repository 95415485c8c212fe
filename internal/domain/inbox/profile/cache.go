package profile

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/metrics"
)

// DefaultConcurrency bounds in-flight lookups when no limit is configured
const DefaultConcurrency = 8

// Resolver looks up a single profile. It returns entity.ErrProfileNotFound
// when the identity does not exist.
type Resolver interface {
	Lookup(ctx context.Context, id string) (*entity.ProfileSummary, error)
}

// Cache memoizes partner profiles for the lifetime of one inbox session.
// Entries are append-only; failed lookups are never stored so they are
// retried on the next call.
type Cache struct {
	resolver    Resolver
	concurrency int
	logger      *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entity.ProfileSummary
	flight  singleflight.Group
}

// New creates a profile cache over resolver
func New(resolver Resolver, concurrency int, logger *slog.Logger) *Cache {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Cache{
		resolver:    resolver,
		concurrency: concurrency,
		logger:      logger,
		entries:     make(map[string]*entity.ProfileSummary),
	}
}

// Get returns a profile (or nil) for every requested id. Cached entries are
// answered without I/O; only the missing subset is fetched, at most
// c.concurrency at a time.
func (c *Cache) Get(ctx context.Context, ids []string) map[string]*entity.ProfileSummary {
	out := make(map[string]*entity.ProfileSummary, len(ids))
	missing := make([]string, 0)

	c.mu.RLock()
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, done := out[id]; done {
			continue
		}
		if p, ok := c.entries[id]; ok {
			out[id] = p
			metrics.ProfileLookups.WithLabelValues("hit").Inc()
			continue
		}
		out[id] = nil
		missing = append(missing, id)
	}
	c.mu.RUnlock()

	if len(missing) == 0 {
		return out
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.concurrency)
	for _, id := range missing {
		g.Go(func() error {
			p := c.fetch(ctx, id)
			mu.Lock()
			out[id] = p
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// peek returns a cached profile without fetching
func (c *Cache) peek(id string) (*entity.ProfileSummary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[id]
	return p, ok
}

// Len returns the number of cached profiles
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reset drops every entry. Called when the owning session ends.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]*entity.ProfileSummary)
	c.mu.Unlock()
}

func (c *Cache) fetch(ctx context.Context, id string) *entity.ProfileSummary {
	v, err, _ := c.flight.Do(id, func() (interface{}, error) {
		p, err := c.resolver.Lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, entity.ErrProfileNotFound
		}
		return c.store(id, p), nil
	})
	if err != nil {
		metrics.ProfileLookups.WithLabelValues("miss").Inc()
		if errors.Is(err, entity.ErrProfileNotFound) {
			c.logger.Debug("profile not found", "profile_id", id)
		} else {
			c.logger.Warn("profile lookup failed", "profile_id", id, "error", err)
		}
		return nil
	}

	metrics.ProfileLookups.WithLabelValues("fetched").Inc()
	return v.(*entity.ProfileSummary)
}

// store inserts p unless another fetch won the race, returning the stored value
func (c *Cache) store(id string, p *entity.ProfileSummary) *entity.ProfileSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[id]; ok {
		return existing
	}
	c.entries[id] = p
	return p
}
