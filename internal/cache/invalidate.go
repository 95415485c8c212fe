package cache

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Notifier streams the payloads published on a notification channel.
// The stream closes when the connection drops.
type Notifier interface {
	Listen(ctx context.Context, channel string) (<-chan string, error)
}

var (
	watchMinBackoff = 500 * time.Millisecond
	watchMaxBackoff = 30 * time.Second
)

// WatchInvalidations drops cached profiles as soon as a notification on
// channel names them. Payloads are comma-separated user ids. Blocks until
// ctx is cancelled.
func (c *ProfileRedis) WatchInvalidations(ctx context.Context, n Notifier, channel string) {
	watch(ctx, n, channel, c.Invalidate, c.logger)
}

func watch(ctx context.Context, n Notifier, channel string, invalidate func(context.Context, ...string) error, logger *slog.Logger) {
	wait := watchMinBackoff
	for {
		payloads, err := n.Listen(ctx, channel)
		if err != nil {
			logger.Warn("profile invalidation unavailable", "channel", channel, "error", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			wait = min(wait*2, watchMaxBackoff)
			continue
		}
		wait = watchMinBackoff

		for payload := range payloads {
			ids := splitIDs(payload)
			if len(ids) == 0 {
				continue
			}
			if err := invalidate(ctx, ids...); err != nil {
				logger.Warn("invalidating cached profiles", "ids", ids, "error", err)
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func splitIDs(payload string) []string {
	var ids []string
	for _, id := range strings.Split(payload, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
