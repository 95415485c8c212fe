package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/inboxtest"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/merge"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/source"
)

type fakeSource struct {
	name    entity.Source
	emits   chan entity.Snapshot
	load    entity.Snapshot
	loadErr error
	delay   time.Duration
}

func newFakeSource(name entity.Source) *fakeSource {
	return &fakeSource{name: name, emits: make(chan entity.Snapshot, 8)}
}

func (s *fakeSource) Name() entity.Source { return s.name }

func (s *fakeSource) Subscribe(ctx context.Context, _ string) <-chan entity.Snapshot {
	out := make(chan entity.Snapshot)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-s.emits:
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (s *fakeSource) Load(ctx context.Context, _ string) (entity.Snapshot, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return entity.Snapshot{}, ctx.Err()
		}
	}
	return s.load, s.loadErr
}

type countingMerger struct {
	calls atomic.Int32
	panic atomic.Bool
	mu    sync.Mutex
	last  merge.Input
	inner *merge.Engine
}

func newCountingMerger() *countingMerger {
	return &countingMerger{inner: merge.New(nil)}
}

func (m *countingMerger) Merge(ctx context.Context, in merge.Input) entity.Feed {
	m.calls.Add(1)
	if m.panic.Load() {
		panic("boom")
	}
	m.mu.Lock()
	m.last = in
	m.mu.Unlock()
	return m.inner.Merge(ctx, in)
}

type feeds struct {
	ch chan entity.Feed
}

func newFeeds() *feeds {
	return &feeds{ch: make(chan entity.Feed, 16)}
}

func (f *feeds) publish(feed entity.Feed) { f.ch <- feed }

func (f *feeds) next(t *testing.T) entity.Feed {
	t.Helper()
	select {
	case feed := <-f.ch:
		return feed
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for merge pass")
	}
	return entity.Feed{}
}

func (f *feeds) none(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case feed := <-f.ch:
		t.Fatalf("Expected no pass, got pass %d", feed.Pass)
	case <-time.After(within):
	}
}

func snapshot(src entity.Source, at time.Time, convs ...entity.Conversation) entity.Snapshot {
	s := inboxtest.Snapshot(src, convs...)
	s.ReceivedAt = at
	return s
}

func TestEmissionsWithinWindowCoalesce(t *testing.T) {
	direct := newFakeSource(entity.SourceDirectChats)
	groups := newFakeSource(entity.SourceGroupChats)
	merger := newCountingMerger()
	out := newFeeds()

	c := New(inboxtest.Self, []source.Source{direct, groups}, merger, out.publish, Config{Window: 50 * time.Millisecond}, inboxtest.Logger())
	c.Start(context.Background())
	defer c.Stop()

	direct.emits <- snapshot(entity.SourceDirectChats, inboxtest.Base, inboxtest.Direct("c1", "ada", nil))
	groups.emits <- snapshot(entity.SourceGroupChats, inboxtest.Base, inboxtest.Group("g1", "Crew", nil))
	direct.emits <- snapshot(entity.SourceDirectChats, inboxtest.Base.Add(time.Second),
		inboxtest.Direct("c1", "ada", nil), inboxtest.Direct("c2", "bob", nil))

	feed := out.next(t)
	out.none(t, 100*time.Millisecond)

	if got := merger.calls.Load(); got != 1 {
		t.Fatalf("Expected 1 merge pass, got %d", got)
	}
	if len(feed.All) != 3 {
		t.Fatalf("Expected latest snapshot of each source merged (3 conversations), got %d", len(feed.All))
	}
	if _, ok := c.Current(); !ok {
		t.Fatal("Expected current feed after a pass")
	}
}

func TestSeparateWindowsRunSeparatePasses(t *testing.T) {
	direct := newFakeSource(entity.SourceDirectChats)
	out := newFeeds()

	c := New(inboxtest.Self, []source.Source{direct}, newCountingMerger(), out.publish, Config{Window: 10 * time.Millisecond}, inboxtest.Logger())
	c.Start(context.Background())
	defer c.Stop()

	direct.emits <- snapshot(entity.SourceDirectChats, inboxtest.Base)
	first := out.next(t)
	direct.emits <- snapshot(entity.SourceDirectChats, inboxtest.Base.Add(time.Second), inboxtest.Direct("c1", "ada", nil))
	second := out.next(t)

	if second.Pass <= first.Pass {
		t.Fatalf("Expected increasing pass numbers, got %d then %d", first.Pass, second.Pass)
	}
	if len(second.All) != 1 {
		t.Fatalf("Expected second pass to see new snapshot, got %d", len(second.All))
	}
}

func TestRefreshRunsImmediately(t *testing.T) {
	direct := newFakeSource(entity.SourceDirectChats)
	direct.load = snapshot(entity.SourceDirectChats, inboxtest.Base, inboxtest.Direct("c1", "ada", nil))
	out := newFeeds()

	c := New(inboxtest.Self, []source.Source{direct}, newCountingMerger(), out.publish, Config{Window: time.Hour}, inboxtest.Logger())
	c.Start(context.Background())
	defer c.Stop()

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if feed := out.next(t); len(feed.All) != 1 {
		t.Fatalf("Expected refreshed snapshot in feed, got %d", len(feed.All))
	}
}

func TestRefreshReportsSourceFailure(t *testing.T) {
	direct := newFakeSource(entity.SourceDirectChats)
	direct.load = snapshot(entity.SourceDirectChats, inboxtest.Base, inboxtest.Direct("c1", "ada", nil))
	events := newFakeSource(entity.SourceEventChats)
	events.loadErr = entity.ErrSourceUnavailable
	out := newFeeds()

	c := New(inboxtest.Self, []source.Source{direct, events}, newCountingMerger(), out.publish, Config{}, inboxtest.Logger())
	c.Start(context.Background())
	defer c.Stop()

	err := c.Refresh(context.Background())
	if !errors.Is(err, entity.ErrSourceUnavailable) {
		t.Fatalf("Expected ErrSourceUnavailable, got %v", err)
	}
	if feed := out.next(t); len(feed.All) != 1 {
		t.Fatalf("Expected healthy source still merged, got %d", len(feed.All))
	}
}

func TestRefreshFailureDoesNotCancelSlowSource(t *testing.T) {
	direct := newFakeSource(entity.SourceDirectChats)
	direct.load = snapshot(entity.SourceDirectChats, inboxtest.Base, inboxtest.Direct("c1", "ada", nil))
	direct.delay = 30 * time.Millisecond
	events := newFakeSource(entity.SourceEventChats)
	events.loadErr = entity.ErrSourceUnavailable
	out := newFeeds()

	c := New(inboxtest.Self, []source.Source{direct, events}, newCountingMerger(), out.publish, Config{}, inboxtest.Logger())
	c.Start(context.Background())
	defer c.Stop()

	err := c.Refresh(context.Background())
	if !errors.Is(err, entity.ErrSourceUnavailable) {
		t.Fatalf("Expected ErrSourceUnavailable, got %v", err)
	}
	if errors.Is(err, context.Canceled) {
		t.Fatalf("Expected slow source not to be cancelled, got %v", err)
	}
	if feed := out.next(t); len(feed.All) != 1 {
		t.Fatalf("Expected slow healthy source merged, got %d", len(feed.All))
	}
}

func TestRefreshKeepsNewerEmission(t *testing.T) {
	direct := newFakeSource(entity.SourceDirectChats)
	direct.load = snapshot(entity.SourceDirectChats, inboxtest.Base)
	merger := newCountingMerger()
	out := newFeeds()

	c := New(inboxtest.Self, []source.Source{direct}, merger, out.publish, Config{Window: 5 * time.Millisecond}, inboxtest.Logger())
	c.Start(context.Background())
	defer c.Stop()

	direct.emits <- snapshot(entity.SourceDirectChats, inboxtest.Base.Add(time.Minute), inboxtest.Direct("c1", "ada", nil))
	out.next(t)

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if feed := out.next(t); len(feed.All) != 1 {
		t.Fatalf("Expected older refresh load not to replace newer emission, got %d", len(feed.All))
	}
}

func TestPanickingPassKeepsPreviousFeed(t *testing.T) {
	direct := newFakeSource(entity.SourceDirectChats)
	direct.load = snapshot(entity.SourceDirectChats, inboxtest.Base, inboxtest.Direct("c1", "ada", nil))
	merger := newCountingMerger()
	out := newFeeds()

	c := New(inboxtest.Self, []source.Source{direct}, merger, out.publish, Config{}, inboxtest.Logger())
	c.Start(context.Background())
	defer c.Stop()

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	before := out.next(t)

	merger.panic.Store(true)
	err := c.Refresh(context.Background())
	if !errors.Is(err, entity.ErrMergePassFailed) {
		t.Fatalf("Expected ErrMergePassFailed, got %v", err)
	}

	current, _ := c.Current()
	if current.Pass != before.Pass {
		t.Fatalf("Expected previous feed retained (pass %d), got %d", before.Pass, current.Pass)
	}

	// the loop survives the panic
	merger.panic.Store(false)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Expected coordinator to recover, got %v", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	c := New(inboxtest.Self, []source.Source{newFakeSource(entity.SourceDirectChats)}, newCountingMerger(), nil, Config{}, inboxtest.Logger())
	c.Start(context.Background())
	c.Stop()
	c.Stop()

	if err := c.Refresh(context.Background()); !errors.Is(err, entity.ErrSessionClosed) {
		t.Fatalf("Expected ErrSessionClosed after stop, got %v", err)
	}

	c.Start(context.Background())
	if err := c.Refresh(context.Background()); !errors.Is(err, entity.ErrSessionClosed) {
		t.Fatal("Expected stopped coordinator to stay stopped")
	}
}

func TestNoPassAfterStop(t *testing.T) {
	direct := newFakeSource(entity.SourceDirectChats)
	out := newFeeds()

	c := New(inboxtest.Self, []source.Source{direct}, newCountingMerger(), out.publish, Config{Window: 20 * time.Millisecond}, inboxtest.Logger())
	c.Start(context.Background())

	direct.emits <- snapshot(entity.SourceDirectChats, inboxtest.Base)
	time.Sleep(5 * time.Millisecond)
	c.Stop()

	out.none(t, 50*time.Millisecond)
}
