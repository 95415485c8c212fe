package inboxtest

import (
	"context"
	"sync"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
)

// Source is an in-memory source. Push emits to live subscribers and
// becomes the result of Load.
type Source struct {
	name entity.Source

	mu      sync.Mutex
	current entity.Snapshot
	loaded  bool
	subs    []chan entity.Snapshot
	LoadErr error
}

// NewSource creates an empty source that has not emitted yet
func NewSource(name entity.Source) *Source {
	return &Source{name: name}
}

// Name returns the source identifier
func (s *Source) Name() entity.Source { return s.name }

// Push replaces the source contents and notifies subscribers
func (s *Source) Push(snap entity.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.Source = s.name
	s.current, s.loaded = snap, true
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// Subscribe emits the current contents, if any, and every later push
func (s *Source) Subscribe(ctx context.Context, _ string) <-chan entity.Snapshot {
	in := make(chan entity.Snapshot, 1)
	s.mu.Lock()
	if s.loaded {
		in <- s.current
	}
	s.subs = append(s.subs, in)
	s.mu.Unlock()

	out := make(chan entity.Snapshot)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-in:
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

// Load returns the current contents
func (s *Source) Load(context.Context, string) (entity.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return entity.Snapshot{}, s.LoadErr
	}
	snap := s.current
	snap.Source = s.name
	if snap.Conversations == nil {
		snap.Conversations = []entity.Conversation{}
	}
	return snap, nil
}

// Resolver serves profiles from a map
type Resolver map[string]*entity.ProfileSummary

// Lookup returns the profile or entity.ErrProfileNotFound
func (r Resolver) Lookup(_ context.Context, id string) (*entity.ProfileSummary, error) {
	if p, ok := r[id]; ok {
		return p, nil
	}
	return nil, entity.ErrProfileNotFound
}

// Write is one call recorded by Mutator
type Write struct {
	Op             string
	UserID         string
	ConversationID string
	Pinned         bool
}

// Mutator records authoritative writes. Calls wait on Gate when it is
// set and fail after SetErr.
type Mutator struct {
	mu     sync.Mutex
	writes []Write
	err    error
	Gate   chan struct{}
	Done   chan Write
}

// NewMutator creates a mutator reporting every completed write on Done
func NewMutator() *Mutator {
	return &Mutator{Done: make(chan Write, 32)}
}

// SetPinned records a pin write
func (m *Mutator) SetPinned(ctx context.Context, userID, conversationID string, pinned bool) error {
	return m.record(ctx, Write{Op: "pin", UserID: userID, ConversationID: conversationID, Pinned: pinned})
}

// Accept records an accept write
func (m *Mutator) Accept(ctx context.Context, userID, conversationID string) error {
	return m.record(ctx, Write{Op: "accept", UserID: userID, ConversationID: conversationID})
}

func (m *Mutator) record(ctx context.Context, w Write) error {
	m.mu.Lock()
	gate, err := m.Gate, m.err
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	m.writes = append(m.writes, w)
	m.mu.Unlock()
	if m.Done != nil {
		m.Done <- w
	}
	return err
}

// Writes returns the recorded writes in call order
func (m *Mutator) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Write, len(m.writes))
	copy(out, m.writes)
	return out
}

// SetErr makes subsequent writes fail
func (m *Mutator) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
