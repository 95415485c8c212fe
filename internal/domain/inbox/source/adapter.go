package source

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/metrics"
)

// Source is a live, user-scoped feed of conversation snapshots
type Source interface {
	Name() entity.Source
	// Subscribe emits a complete snapshot first and again on every
	// upstream change. The channel closes when ctx is cancelled.
	Subscribe(ctx context.Context, userID string) <-chan entity.Snapshot
	// Load fetches one snapshot synchronously
	Load(ctx context.Context, userID string) (entity.Snapshot, error)
}

// Loader queries and normalizes the current records of a source
type Loader interface {
	Load(ctx context.Context, userID string) ([]entity.Conversation, error)
}

// LoaderFunc adapts a function to Loader
type LoaderFunc func(ctx context.Context, userID string) ([]entity.Conversation, error)

// Load calls f
func (f LoaderFunc) Load(ctx context.Context, userID string) ([]entity.Conversation, error) {
	return f(ctx, userID)
}

// Notifier streams change notifications for a channel. Each payload is a
// comma-separated list of affected user ids; an empty payload concerns
// everyone. The returned channel closes when the underlying connection is
// lost or ctx is cancelled.
type Notifier interface {
	Listen(ctx context.Context, channel string) (<-chan string, error)
}

// Config tunes an adapter
type Config struct {
	Channel    string        // notification channel name
	MinBackoff time.Duration // first retry delay after an upstream error
	MaxBackoff time.Duration // retry delay cap
}

// Adapter turns a Loader and a Notifier into a Source
type Adapter struct {
	name     entity.Source
	loader   Loader
	notifier Notifier
	channel  string
	minWait  time.Duration
	maxWait  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewAdapter creates an adapter for the named source
func NewAdapter(name entity.Source, loader Loader, notifier Notifier, cfg Config, logger *slog.Logger) *Adapter {
	if cfg.Channel == "" {
		cfg.Channel = "inbox_" + string(name)
	}
	if cfg.MinBackoff == 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 30 * time.Second
	}

	return &Adapter{
		name:     name,
		loader:   loader,
		notifier: notifier,
		channel:  cfg.Channel,
		minWait:  cfg.MinBackoff,
		maxWait:  cfg.MaxBackoff,
		logger:   logger.With("source", string(name)),
		now:      time.Now,
	}
}

// Name returns the source identifier
func (a *Adapter) Name() entity.Source {
	return a.name
}

// Load queries the source once. ReceivedAt is taken before the query so a
// snapshot never claims to be newer than the data it holds.
func (a *Adapter) Load(ctx context.Context, userID string) (entity.Snapshot, error) {
	asOf := a.now()
	convs, err := a.loader.Load(ctx, userID)
	if err != nil {
		return entity.Snapshot{}, fmt.Errorf("%w: %s: %w", entity.ErrSourceUnavailable, a.name, err)
	}
	if convs == nil {
		convs = []entity.Conversation{}
	}

	return entity.Snapshot{
		Source:        a.name,
		UserID:        userID,
		Conversations: convs,
		ReceivedAt:    asOf,
	}, nil
}

// Subscribe starts the adapter loop for userID
func (a *Adapter) Subscribe(ctx context.Context, userID string) <-chan entity.Snapshot {
	out := make(chan entity.Snapshot, 1)
	go a.run(ctx, userID, out)
	return out
}

// run listens before the first load so no change between the two is lost.
// Upstream errors never end the stream: failed loads are retried with
// backoff and a lost notification connection is re-established.
func (a *Adapter) run(ctx context.Context, userID string, out chan entity.Snapshot) {
	defer close(out)

	notes, err := a.notifier.Listen(ctx, a.channel)
	if err != nil {
		a.fail("subscribing to changes", err)
	}

	wait := a.minWait
	var retry <-chan time.Time
	if !a.reload(ctx, userID, out) {
		retry = time.After(wait)
	}

	for {
		if notes == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			wait = a.next(wait)

			notes, err = a.notifier.Listen(ctx, a.channel)
			if err != nil {
				a.fail("subscribing to changes", err)
				notes = nil
				continue
			}
			a.logger.Info("change subscription restored", "user_id", userID)
			wait = a.minWait
			// catch up on anything missed while disconnected
			if !a.reload(ctx, userID, out) {
				retry = time.After(wait)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return

		case payload, ok := <-notes:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				a.fail("change subscription lost", entity.ErrSourceUnavailable)
				notes = nil
				continue
			}
			if !concerns(payload, userID) {
				continue
			}
			if a.reload(ctx, userID, out) {
				retry = nil
				wait = a.minWait
			} else if retry == nil {
				retry = time.After(wait)
			}

		case <-retry:
			if a.reload(ctx, userID, out) {
				retry = nil
				wait = a.minWait
			} else {
				wait = a.next(wait)
				retry = time.After(wait)
			}
		}
	}
}

// reload loads and emits a snapshot. Failures are logged and swallowed so
// the consumer keeps the last good snapshot.
func (a *Adapter) reload(ctx context.Context, userID string, out chan entity.Snapshot) bool {
	snap, err := a.Load(ctx, userID)
	if err != nil {
		if ctx.Err() == nil {
			a.fail("loading snapshot", err)
		}
		return false
	}

	metrics.SourceSnapshots.WithLabelValues(string(a.name)).Inc()
	emit(ctx, out, snap)
	return true
}

func (a *Adapter) fail(msg string, err error) {
	metrics.SourceErrors.WithLabelValues(string(a.name)).Inc()
	a.logger.Error(msg, "error", err)
}

func (a *Adapter) next(wait time.Duration) time.Duration {
	wait *= 2
	if wait > a.maxWait {
		wait = a.maxWait
	}
	return wait
}

// emit delivers snap, replacing an unconsumed older snapshot if the
// consumer has fallen behind.
func emit(ctx context.Context, out chan entity.Snapshot, snap entity.Snapshot) {
	select {
	case out <- snap:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	select {
	case out <- snap:
	case <-ctx.Done():
	}
}

func concerns(payload, userID string) bool {
	if payload == "" {
		return true
	}
	for _, id := range strings.Split(payload, ",") {
		if strings.TrimSpace(id) == userID {
			return true
		}
	}
	return false
}
