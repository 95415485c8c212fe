package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/merge"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/source"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/metrics"
)

// Merger runs one merge pass
type Merger interface {
	Merge(ctx context.Context, in merge.Input) entity.Feed
}

// Publisher receives every completed pass. It is called from the
// coordinator loop and must not call Stop.
type Publisher func(entity.Feed)

// Config holds coordinator settings
type Config struct {
	// Window is how long the first trigger waits for more emissions
	// before a pass runs.
	Window time.Duration
}

type refreshRequest struct {
	snapshots []entity.Snapshot
	done      chan error
}

// Coordinator keeps one user's sources subscribed and turns their
// emissions into a serialized stream of merge passes.
type Coordinator struct {
	userID  string
	sources []source.Source
	merger  Merger
	publish Publisher
	window  time.Duration
	logger  *slog.Logger

	snapshots chan entity.Snapshot
	refreshes chan refreshRequest
	latest    map[entity.Source]entity.Snapshot // owned by the loop

	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	stopped bool
	last    *entity.Feed
	mu      sync.Mutex
}

// New creates a coordinator for userID
func New(
	userID string,
	sources []source.Source,
	merger Merger,
	publish Publisher,
	cfg Config,
	logger *slog.Logger,
) *Coordinator {
	if cfg.Window == 0 {
		cfg.Window = 75 * time.Millisecond
	}
	if publish == nil {
		publish = func(entity.Feed) {}
	}

	return &Coordinator{
		userID:    userID,
		sources:   sources,
		merger:    merger,
		publish:   publish,
		window:    cfg.Window,
		logger:    logger.With("user_id", userID),
		snapshots: make(chan entity.Snapshot),
		refreshes: make(chan refreshRequest),
		latest:    make(map[entity.Source]entity.Snapshot),
		stopCh:    make(chan struct{}),
	}
}

// Start subscribes to every source. A stopped coordinator cannot be restarted.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running || c.stopped {
		c.mu.Unlock()
		return
	}
	c.running = true

	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	for _, src := range c.sources {
		c.wg.Add(1)
		go c.forward(ctx, src)
	}

	c.wg.Add(1)
	go c.run(ctx)

	c.logger.Info("inbox coordinator started", "sources", len(c.sources), "window", c.window)
}

// Stop cancels all subscriptions and waits for the loop to exit.
// A pass finishing after Stop is discarded.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	close(c.stopCh)
	c.wg.Wait()
	c.logger.Info("inbox coordinator stopped")
}

// Current returns the last published feed
func (c *Coordinator) Current() (entity.Feed, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return entity.Feed{}, false
	}
	return *c.last, true
}

// Refresh reloads every source in parallel and runs a pass without
// waiting for the coalescing window. Successful reloads are merged even
// when another source fails; the failure is still returned.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if !running {
		return entity.ErrSessionClosed
	}

	// A failing source must not cancel the others, so the group has no
	// shared context and every error is kept.
	snaps := make([]entity.Snapshot, len(c.sources))
	ok := make([]bool, len(c.sources))
	errs := make([]error, len(c.sources))
	var g errgroup.Group
	for i, src := range c.sources {
		g.Go(func() error {
			snap, err := src.Load(ctx, c.userID)
			if err != nil {
				metrics.SourceErrors.WithLabelValues(string(src.Name())).Inc()
				errs[i] = err
				return nil
			}
			snaps[i], ok[i] = snap, true
			return nil
		})
	}
	_ = g.Wait()
	loadErr := errors.Join(errs...)

	loaded := make([]entity.Snapshot, 0, len(snaps))
	for i := range snaps {
		if ok[i] {
			loaded = append(loaded, snaps[i])
		}
	}

	req := refreshRequest{snapshots: loaded, done: make(chan error, 1)}
	select {
	case c.refreshes <- req:
	case <-c.stopCh:
		return entity.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	var passErr error
	select {
	case passErr = <-req.done:
	case <-c.stopCh:
		return entity.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	if loadErr != nil {
		return fmt.Errorf("refreshing inbox: %w", loadErr)
	}
	return passErr
}

// forward copies one source's emissions into the loop
func (c *Coordinator) forward(ctx context.Context, src source.Source) {
	defer c.wg.Done()

	for snap := range src.Subscribe(ctx, c.userID) {
		select {
		case c.snapshots <- snap:
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// run is the coordinator loop. It is the only goroutine that merges.
func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case snap := <-c.snapshots:
			c.store(snap)
			if fire != nil {
				metrics.TriggersCoalesced.Inc()
				continue
			}
			timer = time.NewTimer(c.window)
			fire = timer.C

		case <-fire:
			fire = nil
			if err := c.pass(ctx); err != nil {
				c.logger.Debug("merge pass not published", "error", err)
			}

		case req := <-c.refreshes:
			for _, snap := range req.snapshots {
				c.store(snap)
			}
			if fire != nil {
				timer.Stop()
				fire = nil
			}
			req.done <- c.pass(ctx)

		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// store keeps the newest snapshot per source. A slow refresh load never
// overwrites a fresher subscription emission.
func (c *Coordinator) store(snap entity.Snapshot) {
	if prev, ok := c.latest[snap.Source]; ok && prev.ReceivedAt.After(snap.ReceivedAt) {
		return
	}
	c.latest[snap.Source] = snap
}

func (c *Coordinator) pass(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", entity.ErrMergePassFailed, r)
			metrics.MergePasses.WithLabelValues("failed").Inc()
			c.logger.Error("merge pass failed, keeping previous feed", "error", err)
		}
	}()

	in := merge.Input{
		UserID:    c.userID,
		Snapshots: make(map[entity.Source]entity.Snapshot, len(c.latest)),
	}
	for src, snap := range c.latest {
		in.Snapshots[src] = snap
	}

	feed := c.merger.Merge(ctx, in)
	metrics.MergeDuration.Observe(time.Since(start).Seconds())

	c.mu.Lock()
	if !c.running || ctx.Err() != nil {
		c.mu.Unlock()
		metrics.MergePasses.WithLabelValues("discarded").Inc()
		return entity.ErrSessionClosed
	}
	c.last = &feed
	c.mu.Unlock()

	metrics.MergePasses.WithLabelValues("ok").Inc()
	c.logger.Debug("merge pass complete",
		"pass", feed.Pass,
		"conversations", len(feed.All),
		"duration", time.Since(start),
	)
	c.publish(feed)
	return nil
}
