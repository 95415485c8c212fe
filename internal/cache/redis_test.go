package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
)

type mapResolver map[string]*entity.ProfileSummary

func (m mapResolver) Lookup(_ context.Context, id string) (*entity.ProfileSummary, error) {
	if p, ok := m[id]; ok {
		return p, nil
	}
	return nil, entity.ErrProfileNotFound
}

// unreachable returns a client whose every command fails fast
func unreachable() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestLookupFallsThroughWhenRedisDown(t *testing.T) {
	client := unreachable()
	defer client.Close()

	c := NewProfileRedis(client, mapResolver{"ada": {ID: "ada", Name: "Ada"}}, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))

	p, err := c.Lookup(context.Background(), "ada")
	if err != nil {
		t.Fatalf("Expected lookup to degrade to the resolver, got %v", err)
	}
	if p.Name != "Ada" {
		t.Fatalf("Expected Ada, got %q", p.Name)
	}
}

func TestLookupPropagatesNotFound(t *testing.T) {
	client := unreachable()
	defer client.Close()

	c := NewProfileRedis(client, mapResolver{}, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := c.Lookup(context.Background(), "ghost"); !errors.Is(err, entity.ErrProfileNotFound) {
		t.Fatalf("Expected ErrProfileNotFound, got %v", err)
	}
}

func TestInvalidateWithoutIDs(t *testing.T) {
	client := unreachable()
	defer client.Close()

	c := NewProfileRedis(client, mapResolver{}, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := c.Invalidate(context.Background()); err != nil {
		t.Fatalf("Expected no-op, got %v", err)
	}
}
