package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/coordinator"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/merge"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/optimistic"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/profile"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/source"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/view"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/metrics"
)

// Mutator performs the authoritative writes behind optimistic mutations.
// Both operations must be idempotent.
type Mutator interface {
	SetPinned(ctx context.Context, userID, conversationID string, pinned bool) error
	Accept(ctx context.Context, userID, conversationID string) error
}

// Config holds session settings
type Config struct {
	CoalesceWindow     time.Duration
	ProfileConcurrency int
	WriteTimeout       time.Duration
}

// Deps are the shared collaborators a session is built from
type Deps struct {
	Sources  []source.Source
	Profiles profile.Resolver
	Mutator  Mutator
}

type writeJob struct {
	patch entity.Patch
	do    func(ctx context.Context) error
}

// Session is one user's live inbox. It owns the coordinator, the
// optimistic layer, the query and the subscriber set.
type Session struct {
	id      string
	userID  string
	mutator Mutator
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	profiles *profile.Cache
	coord    *coordinator.Coordinator
	layer    *optimistic.Layer

	mu            sync.Mutex
	authoritative entity.Feed
	shown         entity.Feed
	query         view.Query
	result        view.Result
	subscribers   map[uint64]chan view.Result
	nextSub       uint64

	// writeMu keeps patch creation and enqueueing in one order
	writeMu sync.Mutex
	writes  chan writeJob

	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	stopped bool
	life    sync.Mutex
}

// NewSession builds a session for userID
func NewSession(userID string, deps Deps, cfg Config, logger *slog.Logger) *Session {
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	id := uuid.NewString()
	logger = logger.With("user_id", userID, "session_id", id)
	empty := entity.Regroup(entity.Feed{}, nil)

	s := &Session{
		id:            id,
		userID:        userID,
		mutator:       deps.Mutator,
		timeout:       cfg.WriteTimeout,
		logger:        logger,
		now:           time.Now,
		profiles:      profile.New(deps.Profiles, cfg.ProfileConcurrency, logger),
		layer:         optimistic.New(userID, logger),
		authoritative: empty,
		shown:         empty,
		query:         view.Query{Filter: view.FilterAll},
		subscribers:   make(map[uint64]chan view.Result),
		writes:        make(chan writeJob, 64),
		stopCh:        make(chan struct{}),
	}
	s.result = view.Apply(empty, s.query)
	s.coord = coordinator.New(
		userID,
		deps.Sources,
		merge.New(s.profiles),
		s.onFeed,
		coordinator.Config{Window: cfg.CoalesceWindow},
		logger,
	)

	return s
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Start subscribes to all sources and starts the write worker
func (s *Session) Start(ctx context.Context) {
	s.life.Lock()
	if s.running || s.stopped {
		s.life.Unlock()
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.life.Unlock()

	s.wg.Add(1)
	go s.writer(ctx)
	s.coord.Start(ctx)

	metrics.ActiveSessions.Inc()
	s.logger.Info("inbox session started")
}

// Stop tears the session down: subscriptions are cancelled, queued writes
// are flushed, subscribers are closed and the profile cache is dropped.
func (s *Session) Stop() {
	s.life.Lock()
	if !s.running {
		s.life.Unlock()
		return
	}
	s.running = false
	s.stopped = true
	cancel := s.cancel
	s.life.Unlock()

	s.coord.Stop()
	// Closing under writeMu orders every accepted write before the flush
	s.writeMu.Lock()
	close(s.stopCh)
	s.writeMu.Unlock()
	s.wg.Wait()
	if cancel != nil {
		cancel()
	}

	s.mu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.mu.Unlock()

	dropped, cached := s.layer.Pending(), s.profiles.Len()
	s.profiles.Reset()
	s.layer.Reset()
	metrics.ActiveSessions.Dec()
	s.logger.Info("inbox session stopped", "unconfirmed_patches", dropped, "cached_profiles", cached)
}

func (s *Session) isRunning() bool {
	s.life.Lock()
	defer s.life.Unlock()
	return s.running
}

// Current returns the latest view
func (s *Session) Current() view.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Subscribe returns a channel receiving the current view and every later
// one. A slow subscriber only ever sees the latest view.
func (s *Session) Subscribe() (<-chan view.Result, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan view.Result, 1)
	ch <- s.result
	if !s.isRunning() {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(ch)
			}
		})
	}
}

// SetFilter changes the displayed category
func (s *Session) SetFilter(name string) (view.Result, error) {
	f, err := view.ParseFilter(name)
	if err != nil {
		return view.Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.query.Filter = f
	s.publishLocked()
	return s.result, nil
}

// SetSearch changes the search text
func (s *Session) SetSearch(text string) view.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query.Search = text
	s.publishLocked()
	return s.result
}

// Pin toggles the pin state of a direct conversation. The new state is
// published before the authoritative write runs.
func (s *Session) Pin(ctx context.Context, conversationID string) (view.Result, error) {
	return s.mutate(ctx, func(current entity.Feed) (entity.Patch, error) {
		return s.layer.Pin(current, conversationID)
	}, func(p entity.Patch) func(context.Context) error {
		return func(ctx context.Context) error {
			return s.mutator.SetPinned(ctx, s.userID, p.ConversationID, p.Pinned)
		}
	})
}

// Accept accepts a received connection request
func (s *Session) Accept(ctx context.Context, conversationID string) (view.Result, error) {
	return s.mutate(ctx, func(current entity.Feed) (entity.Patch, error) {
		return s.layer.Accept(current, conversationID)
	}, func(p entity.Patch) func(context.Context) error {
		return func(ctx context.Context) error {
			return s.mutator.Accept(ctx, s.userID, p.ConversationID)
		}
	})
}

func (s *Session) mutate(
	ctx context.Context,
	patch func(entity.Feed) (entity.Patch, error),
	write func(entity.Patch) func(context.Context) error,
) (view.Result, error) {
	if !s.isRunning() {
		return view.Result{}, entity.ErrSessionClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.stopCh:
		return view.Result{}, entity.ErrSessionClosed
	default:
	}

	s.mu.Lock()
	p, err := patch(s.shown)
	if err != nil {
		s.mu.Unlock()
		return view.Result{}, err
	}
	s.shown = s.layer.Apply(s.authoritative)
	s.publishLocked()
	res := s.result
	s.mu.Unlock()

	select {
	case s.writes <- writeJob{patch: p, do: write(p)}:
	case <-s.stopCh:
		s.revert(p.ID)
		return view.Result{}, entity.ErrSessionClosed
	case <-ctx.Done():
		s.revert(p.ID)
		return view.Result{}, ctx.Err()
	}

	return res, nil
}

// Refresh reloads every source and merges immediately
func (s *Session) Refresh(ctx context.Context) (view.Result, error) {
	if err := s.coord.Refresh(ctx); err != nil {
		return s.Current(), fmt.Errorf("refreshing inbox for %s: %w", s.userID, err)
	}
	return s.Current(), nil
}

// onFeed receives every authoritative merge pass
func (s *Session) onFeed(feed entity.Feed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authoritative = feed
	s.shown = s.layer.Reconcile(feed)
	s.publishLocked()
}

// writer runs authoritative writes one at a time, in submission order.
// Writes still queued at Stop are flushed before the worker exits.
func (s *Session) writer(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case job := <-s.writes:
			s.write(ctx, job)
		case <-s.stopCh:
			flush := context.WithoutCancel(ctx)
			for {
				select {
				case job := <-s.writes:
					s.write(flush, job)
				default:
					return
				}
			}
		}
	}
}

func (s *Session) write(ctx context.Context, job writeJob) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := job.do(ctx); err != nil {
		s.logger.Error("authoritative write failed, reverting",
			"conversation_id", job.patch.ConversationID,
			"field", string(job.patch.Field),
			"error", err,
		)
		s.revert(job.patch.ID)
		return
	}
	s.layer.Ack(job.patch.ID, s.now())
}

func (s *Session) revert(patchID string) {
	if !s.layer.Fail(patchID) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shown = s.layer.Apply(s.authoritative)
	s.publishLocked()
}

// publishLocked recomputes the view and delivers it. Caller holds s.mu.
func (s *Session) publishLocked() {
	s.result = view.Apply(s.shown, s.query)
	for _, ch := range s.subscribers {
		select {
		case ch <- s.result:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s.result:
		default:
		}
	}
}
