package optimistic

import (
	"errors"
	"testing"
	"time"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/inboxtest"
)

func find(t *testing.T, feed entity.Feed, key string) entity.Conversation {
	t.Helper()
	c, ok := feed.Find(key)
	if !ok {
		t.Fatalf("Expected %s in feed", key)
	}
	return c
}

func versioned(at time.Time, convs ...entity.Conversation) entity.Feed {
	feed := inboxtest.Feed(convs...)
	feed.Versions = map[entity.Source]time.Time{
		entity.SourceDirectChats:        at,
		entity.SourcePendingConnections: at,
	}
	return feed
}

func TestPinIsVisibleBeforeAcknowledgement(t *testing.T) {
	l := New(inboxtest.Self, inboxtest.Logger())
	authoritative := versioned(inboxtest.Base, inboxtest.Direct("c1", "ada", nil))

	if _, err := l.Pin(authoritative, "c1"); err != nil {
		t.Fatalf("Pin failed: %v", err)
	}

	shown := l.Apply(authoritative)
	if !find(t, shown, "direct:c1").IsPinned {
		t.Fatal("Expected optimistic pin to be visible immediately")
	}
	if find(t, authoritative, "direct:c1").IsPinned {
		t.Fatal("Apply must not mutate the authoritative feed")
	}
}

func TestPinUnpinRoundTrip(t *testing.T) {
	l := New(inboxtest.Self, inboxtest.Logger())
	authoritative := versioned(inboxtest.Base, inboxtest.Direct("c1", "ada", nil))

	if _, err := l.Pin(authoritative, "c1"); err != nil {
		t.Fatalf("Pin failed: %v", err)
	}
	shown := l.Apply(authoritative)
	if _, err := l.Pin(shown, "c1"); err != nil {
		t.Fatalf("Unpin failed: %v", err)
	}
	shown = l.Apply(authoritative)

	if find(t, shown, "direct:c1").IsPinned {
		t.Fatal("Expected pin then unpin to restore the original value")
	}
	if l.Pending() != 1 {
		t.Fatalf("Expected the second toggle to replace the first patch, got %d patches", l.Pending())
	}
}

func TestPinRejections(t *testing.T) {
	l := New(inboxtest.Self, inboxtest.Logger())
	feed := versioned(inboxtest.Base,
		inboxtest.Pending("p", "bob", "bob", nil),
		inboxtest.Group("g", "Crew", nil),
	)

	if _, err := l.Pin(feed, "missing"); !errors.Is(err, entity.ErrConversationNotFound) {
		t.Fatalf("Expected ErrConversationNotFound, got %v", err)
	}
	if _, err := l.Pin(feed, "p"); !errors.Is(err, entity.ErrNotPinnable) {
		t.Fatalf("Expected ErrNotPinnable for pending conversation, got %v", err)
	}
	if _, err := l.Pin(feed, "g"); !errors.Is(err, entity.ErrConversationNotFound) {
		t.Fatalf("Expected groups to be unaddressable by pin, got %v", err)
	}
}

func TestAcceptRejections(t *testing.T) {
	l := New(inboxtest.Self, inboxtest.Logger())
	feed := versioned(inboxtest.Base,
		inboxtest.Pending("sent", "bob", inboxtest.Self, nil),
		inboxtest.Direct("active", "cy", nil),
	)

	if _, err := l.Accept(feed, "sent"); !errors.Is(err, entity.ErrOwnRequest) {
		t.Fatalf("Expected ErrOwnRequest, got %v", err)
	}
	if _, err := l.Accept(feed, "active"); !errors.Is(err, entity.ErrNotAcceptable) {
		t.Fatalf("Expected ErrNotAcceptable, got %v", err)
	}
	if _, err := l.Accept(feed, "nope"); !errors.Is(err, entity.ErrConversationNotFound) {
		t.Fatalf("Expected ErrConversationNotFound, got %v", err)
	}
}

func TestAcceptHoldsUntilConfirmed(t *testing.T) {
	l := New(inboxtest.Self, inboxtest.Logger())
	stale := versioned(inboxtest.Base, inboxtest.Pending("p", "bob", "bob", nil))

	patch, err := l.Accept(stale, "p")
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	shown := l.Apply(stale)
	if len(shown.Pending) != 0 || len(shown.Active) != 1 {
		t.Fatalf("Expected conversation moved to active, got pending=%d active=%d", len(shown.Pending), len(shown.Active))
	}

	// An unrelated emission re-merges the same stale pending record.
	l.Ack(patch.ID, inboxtest.Base.Add(time.Second))
	shown = l.Reconcile(stale)
	if len(shown.Pending) != 0 {
		t.Fatal("Accepted conversation must not reappear as pending before confirmation")
	}

	confirmed := inboxtest.Direct("p", "bob", nil)
	shown = l.Reconcile(versioned(inboxtest.Base.Add(2*time.Second), confirmed))
	if find(t, shown, "direct:p").Status != entity.StatusActive {
		t.Fatal("Expected active status after confirmation")
	}
	if l.Pending() != 0 {
		t.Fatalf("Expected patch consumed after confirmation, got %d", l.Pending())
	}
}

func TestReconcileKeepsUnpropagatedPin(t *testing.T) {
	l := New(inboxtest.Self, inboxtest.Logger())
	base := versioned(inboxtest.Base, inboxtest.Direct("c1", "ada", nil))
	if _, err := l.Pin(base, "c1"); err != nil {
		t.Fatalf("Pin failed: %v", err)
	}

	// Fresh snapshot, but the write has not been acknowledged yet.
	shown := l.Reconcile(versioned(inboxtest.Base.Add(time.Minute), inboxtest.Direct("c1", "ada", nil)))
	if !find(t, shown, "direct:c1").IsPinned {
		t.Fatal("Expected optimistic pin kept until the write propagates")
	}
	if l.Pending() != 1 {
		t.Fatalf("Expected patch retained, got %d", l.Pending())
	}
}

func TestReconcileAuthoritativeWinsWhenNewer(t *testing.T) {
	l := New(inboxtest.Self, inboxtest.Logger())
	base := versioned(inboxtest.Base, inboxtest.Direct("c1", "ada", nil))
	patch, err := l.Pin(base, "c1")
	if err != nil {
		t.Fatalf("Pin failed: %v", err)
	}
	l.Ack(patch.ID, inboxtest.Base.Add(time.Second))

	// Someone else unpinned after our write landed.
	shown := l.Reconcile(versioned(inboxtest.Base.Add(time.Minute), inboxtest.Direct("c1", "ada", nil)))
	if find(t, shown, "direct:c1").IsPinned {
		t.Fatal("Expected newer authoritative value to win")
	}
	if l.Pending() != 0 {
		t.Fatalf("Expected patch dropped, got %d", l.Pending())
	}
}

func TestReconcileDiscardsPatchForDeletedConversation(t *testing.T) {
	l := New(inboxtest.Self, inboxtest.Logger())
	base := versioned(inboxtest.Base, inboxtest.Direct("c1", "ada", nil))
	if _, err := l.Pin(base, "c1"); err != nil {
		t.Fatalf("Pin failed: %v", err)
	}

	shown := l.Reconcile(versioned(inboxtest.Base.Add(time.Minute)))
	if len(shown.All) != 0 {
		t.Fatalf("Expected empty feed, got %d", len(shown.All))
	}
	if l.Pending() != 0 {
		t.Fatalf("Expected conflicting patch discarded, got %d", l.Pending())
	}

	// The conversation coming back later does not resurrect the patch.
	shown = l.Reconcile(versioned(inboxtest.Base.Add(2*time.Minute), inboxtest.Direct("c1", "ada", nil)))
	if find(t, shown, "direct:c1").IsPinned {
		t.Fatal("Discarded patch must not be reapplied")
	}
}

func TestFailRevertsPatch(t *testing.T) {
	l := New(inboxtest.Self, inboxtest.Logger())
	base := versioned(inboxtest.Base, inboxtest.Direct("c1", "ada", nil))
	patch, err := l.Pin(base, "c1")
	if err != nil {
		t.Fatalf("Pin failed: %v", err)
	}

	if !l.Fail(patch.ID) {
		t.Fatal("Expected Fail to find the patch")
	}
	if find(t, l.Apply(base), "direct:c1").IsPinned {
		t.Fatal("Expected failed write to revert the optimistic pin")
	}
}

func TestStaleAckIgnored(t *testing.T) {
	l := New(inboxtest.Self, inboxtest.Logger())
	base := versioned(inboxtest.Base, inboxtest.Direct("c1", "ada", nil))
	first, _ := l.Pin(base, "c1")
	if _, err := l.Pin(l.Apply(base), "c1"); err != nil {
		t.Fatalf("Second pin failed: %v", err)
	}

	if l.Ack(first.ID, inboxtest.Base) {
		t.Fatal("Expected ack of a replaced patch to be ignored")
	}
}

func TestDirectStatusIsMonotonic(t *testing.T) {
	l := New(inboxtest.Self, inboxtest.Logger())

	l.Reconcile(versioned(inboxtest.Base, inboxtest.Direct("c1", "ada", nil)))

	// A lagging source still reports the old pending record.
	shown := l.Reconcile(versioned(inboxtest.Base.Add(time.Second), inboxtest.Pending("c1", "ada", "ada", nil)))
	for _, c := range shown.All {
		if c.ID == "c1" && c.Status == entity.StatusPending {
			t.Fatal("Expected conversation never to regress to pending")
		}
	}
}
