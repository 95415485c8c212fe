package policy

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/service"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/view"
)

// SessionFactory builds an unstarted session for a user
type SessionFactory func(userID string) *service.Session

// Policy owns one live session per user. Sessions are activated on first
// use and live until Close or Shutdown.
type Policy struct {
	factory SessionFactory
	base    context.Context
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*service.Session
	closed   bool
}

// New creates a new inbox policy. Sessions run under base, not under the
// request that activated them.
func New(base context.Context, factory SessionFactory, logger *slog.Logger) *Policy {
	return &Policy{
		factory:  factory,
		base:     base,
		logger:   logger,
		sessions: make(map[string]*service.Session),
	}
}

// Session returns the running session for userID, starting one if needed
func (p *Policy) Session(userID string) (*service.Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, entity.ErrUserRequired
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, entity.ErrSessionClosed
	}
	if s, ok := p.sessions[userID]; ok {
		return s, nil
	}

	s := p.factory(userID)
	s.Start(p.base)
	p.sessions[userID] = s
	p.logger.Info("inbox session activated", "user_id", userID, "session_id", s.ID(), "sessions", len(p.sessions))
	return s, nil
}

// Active returns the number of live sessions
func (p *Policy) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// View returns the current inbox view
func (p *Policy) View(userID string) (view.Result, error) {
	s, err := p.Session(userID)
	if err != nil {
		return view.Result{}, err
	}
	return s.Current(), nil
}

// SetFilter changes the displayed category
func (p *Policy) SetFilter(userID, filter string) (view.Result, error) {
	s, err := p.Session(userID)
	if err != nil {
		return view.Result{}, err
	}
	return s.SetFilter(filter)
}

// SetSearch changes the search text
func (p *Policy) SetSearch(userID, search string) (view.Result, error) {
	s, err := p.Session(userID)
	if err != nil {
		return view.Result{}, err
	}
	return s.SetSearch(search), nil
}

// Pin toggles the pin state of a direct conversation
func (p *Policy) Pin(ctx context.Context, userID, conversationID string) (view.Result, error) {
	s, err := p.Session(userID)
	if err != nil {
		return view.Result{}, err
	}
	return s.Pin(ctx, conversationID)
}

// Accept accepts a received connection request
func (p *Policy) Accept(ctx context.Context, userID, conversationID string) (view.Result, error) {
	s, err := p.Session(userID)
	if err != nil {
		return view.Result{}, err
	}
	return s.Accept(ctx, conversationID)
}

// Refresh forces a reload of every source
func (p *Policy) Refresh(ctx context.Context, userID string) (view.Result, error) {
	s, err := p.Session(userID)
	if err != nil {
		return view.Result{}, err
	}
	return s.Refresh(ctx)
}

// Subscribe streams views to a live client
func (p *Policy) Subscribe(userID string) (<-chan view.Result, func(), error) {
	s, err := p.Session(userID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.Subscribe()
	return ch, cancel, nil
}

// Close stops the user's session (logout). Closing an inactive user is a no-op.
func (p *Policy) Close(userID string) bool {
	p.mu.Lock()
	s, ok := p.sessions[userID]
	delete(p.sessions, userID)
	p.mu.Unlock()

	if !ok {
		return false
	}
	s.Stop()
	p.logger.Info("inbox session closed", "user_id", userID)
	return true
}

// Shutdown stops every session and rejects new ones
func (p *Policy) Shutdown() {
	p.mu.Lock()
	p.closed = true
	sessions := p.sessions
	p.sessions = make(map[string]*service.Session)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *service.Session) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()
	p.logger.Info("inbox sessions stopped", "count", len(sessions))
}
