package optimistic

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/metrics"
)

// Layer holds local-first mutations until an authoritative merge pass
// confirms or supersedes them. It also enforces that a direct conversation
// never goes back to pending once it has been observed active.
type Layer struct {
	self   string
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	patches   map[string]*entity.Patch // conversation key + field
	activated map[string]struct{}      // direct ids observed active
}

// New creates an optimistic layer for the local user self
func New(self string, logger *slog.Logger) *Layer {
	return &Layer{
		self:      self,
		logger:    logger,
		now:       time.Now,
		patches:   make(map[string]*entity.Patch),
		activated: make(map[string]struct{}),
	}
}

func patchSlot(key string, field entity.PatchField) string {
	return key + "|" + string(field)
}

// Pin flips the displayed pin state of an active direct conversation
func (l *Layer) Pin(current entity.Feed, id string) (entity.Patch, error) {
	key := entity.ConversationKey(entity.KindDirect, id)
	c, ok := current.Find(key)
	if !ok {
		return entity.Patch{}, entity.ErrConversationNotFound
	}
	if c.Status != entity.StatusActive {
		return entity.Patch{}, entity.ErrNotPinnable
	}

	return l.put(entity.Patch{
		ConversationKey: key,
		ConversationID:  id,
		Field:           entity.PatchPinned,
		Pinned:          !c.IsPinned,
	}), nil
}

// Accept moves a received pending direct conversation to active
func (l *Layer) Accept(current entity.Feed, id string) (entity.Patch, error) {
	key := entity.ConversationKey(entity.KindDirect, id)
	c, ok := current.Find(key)
	if !ok {
		return entity.Patch{}, entity.ErrConversationNotFound
	}
	if c.Status != entity.StatusPending {
		return entity.Patch{}, entity.ErrNotAcceptable
	}
	if c.IsSent(l.self) {
		return entity.Patch{}, entity.ErrOwnRequest
	}

	return l.put(entity.Patch{
		ConversationKey: key,
		ConversationID:  id,
		Field:           entity.PatchStatus,
		Status:          entity.StatusActive,
	}), nil
}

func (l *Layer) put(p entity.Patch) entity.Patch {
	l.mu.Lock()
	defer l.mu.Unlock()

	p.ID = ulid.Make().String()
	p.AppliedAt = l.now()
	l.patches[patchSlot(p.ConversationKey, p.Field)] = &p
	metrics.Patches.WithLabelValues("applied").Inc()
	return p
}

// Ack records that the authoritative write behind patch id completed.
// Acks for patches already replaced by a newer mutation are ignored.
func (l *Layer) Ack(id string, at time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, p := range l.patches {
		if p.ID == id {
			acked := at
			p.AckedAt = &acked
			return true
		}
	}
	return false
}

// Fail drops the patch because its authoritative write failed; the next
// publish shows the authoritative value again.
func (l *Layer) Fail(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for slot, p := range l.patches {
		if p.ID == id {
			delete(l.patches, slot)
			metrics.Patches.WithLabelValues("failed").Inc()
			return true
		}
	}
	return false
}

// Pending returns the number of unconfirmed patches
func (l *Layer) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.patches)
}

// Reset discards all patches and observations
func (l *Layer) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.patches = make(map[string]*entity.Patch)
	l.activated = make(map[string]struct{})
}

// Reconcile merges an authoritative feed with the outstanding patches.
// A patch is discarded when its target is gone, when the authoritative
// value already matches it, or when the target's source produced a
// snapshot newer than the patch's acknowledged write. Every other patch is
// re-applied.
func (l *Layer) Reconcile(feed entity.Feed) entity.Feed {
	l.mu.Lock()
	defer l.mu.Unlock()

	convs := l.observe(feed.All)
	index := indexByKey(convs)

	for slot, p := range l.patches {
		i, ok := index[p.ConversationKey]
		if !ok {
			delete(l.patches, slot)
			metrics.Patches.WithLabelValues("conflict").Inc()
			l.logger.Debug("discarding optimistic patch",
				"patch_id", p.ID, "conversation", p.ConversationKey,
				"error", entity.ErrMutationConflict)
			continue
		}

		target := convs[i]
		if consistent(target, p) {
			delete(l.patches, slot)
			metrics.Patches.WithLabelValues("confirmed").Inc()
			continue
		}
		if p.AckedAt != nil {
			if v, ok := feed.Versions[target.Source]; ok && v.After(*p.AckedAt) {
				delete(l.patches, slot)
				metrics.Patches.WithLabelValues("superseded").Inc()
				l.logger.Debug("authoritative value supersedes optimistic patch",
					"patch_id", p.ID, "conversation", p.ConversationKey)
				continue
			}
		}

		convs[i] = apply(target, p)
	}

	return entity.Regroup(feed, convs)
}

// Apply overlays the outstanding patches on feed without consuming them
func (l *Layer) Apply(feed entity.Feed) entity.Feed {
	l.mu.Lock()
	defer l.mu.Unlock()

	convs := l.hideRegressed(feed.All)
	index := indexByKey(convs)
	for _, p := range l.patches {
		if i, ok := index[p.ConversationKey]; ok {
			convs[i] = apply(convs[i], p)
		}
	}
	return entity.Regroup(feed, convs)
}

// observe records direct conversations seen active and removes pending
// copies of them. Caller holds l.mu.
func (l *Layer) observe(all []entity.Conversation) []entity.Conversation {
	for _, c := range all {
		if c.IsDirect() && c.Status == entity.StatusActive {
			l.activated[c.ID] = struct{}{}
		}
	}
	return l.hideRegressed(all)
}

// hideRegressed copies all, dropping pending direct conversations that
// were already observed active. Caller holds l.mu.
func (l *Layer) hideRegressed(all []entity.Conversation) []entity.Conversation {
	out := make([]entity.Conversation, 0, len(all))
	for _, c := range all {
		if c.IsDirect() && c.Status == entity.StatusPending {
			if _, ok := l.activated[c.ID]; ok {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

func indexByKey(convs []entity.Conversation) map[string]int {
	index := make(map[string]int, len(convs))
	for i, c := range convs {
		index[c.Key()] = i
	}
	return index
}

func consistent(c entity.Conversation, p *entity.Patch) bool {
	switch p.Field {
	case entity.PatchPinned:
		return c.IsPinned == p.Pinned
	case entity.PatchStatus:
		return c.Status == p.Status
	}
	return true
}

func apply(c entity.Conversation, p *entity.Patch) entity.Conversation {
	switch p.Field {
	case entity.PatchPinned:
		if c.IsDirect() && c.Status == entity.StatusActive {
			c.IsPinned = p.Pinned
		}
	case entity.PatchStatus:
		if c.IsDirect() {
			c.Status = p.Status
		}
	}
	return c
}
