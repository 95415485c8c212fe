// Package inboxtest provides conversation builders shared by inbox tests.
package inboxtest

import (
	"io"
	"log/slog"
	"time"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
)

// Self is the local user in fixtures
const Self = "me"

// Base is a fixed reference time for fixtures
var Base = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// At returns Base shifted by the given number of minutes
func At(minutes int) *time.Time {
	t := Base.Add(time.Duration(minutes) * time.Minute)
	return &t
}

// Logger discards all output
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Direct builds an active direct chat with partner
func Direct(id, partner string, lastAt *time.Time) entity.Conversation {
	msg := "hey"
	return entity.Conversation{
		ID:            id,
		Kind:          entity.KindDirect,
		Status:        entity.StatusActive,
		Source:        entity.SourceDirectChats,
		Participants:  []string{Self, partner},
		LastMessage:   &msg,
		LastMessageAt: lastAt,
		InitiatorID:   partner,
	}
}

// Pending builds a pending connection request between Self and partner
func Pending(id, partner, initiator string, lastAt *time.Time) entity.Conversation {
	return entity.Conversation{
		ID:            id,
		Kind:          entity.KindDirect,
		Status:        entity.StatusPending,
		Source:        entity.SourcePendingConnections,
		Participants:  []string{Self, partner},
		LastMessageAt: lastAt,
		InitiatorID:   initiator,
	}
}

// Event builds an event chat starting at start
func Event(id, name string, start time.Time, lastAt *time.Time) entity.Conversation {
	return entity.Conversation{
		ID:            id,
		Kind:          entity.KindEvent,
		Status:        entity.StatusActive,
		Source:        entity.SourceEventChats,
		Participants:  []string{Self},
		LastMessageAt: lastAt,
		Event: &entity.EventInfo{
			Name:      name,
			Category:  "Food",
			Airport:   "SFO",
			StartTime: start,
		},
	}
}

// Group builds a group chat
func Group(id, name string, lastAt *time.Time) entity.Conversation {
	return entity.Conversation{
		ID:            id,
		Kind:          entity.KindGroup,
		Status:        entity.StatusActive,
		Source:        entity.SourceGroupChats,
		Participants:  []string{Self},
		LastMessageAt: lastAt,
		Group: &entity.GroupInfo{
			GroupID:     id,
			Name:        name,
			Description: name + " travellers",
			MemberCount: 3,
		},
	}
}

// JoinRequest builds a pending group join request
func JoinRequest(id, groupName string, lastAt *time.Time) entity.Conversation {
	return entity.Conversation{
		ID:            id,
		Kind:          entity.KindGroupJoinRequest,
		Status:        entity.StatusPending,
		Source:        entity.SourceGroupJoinRequests,
		Participants:  []string{Self},
		LastMessageAt: lastAt,
		Group: &entity.GroupInfo{
			GroupID: "g-" + id,
			Name:    groupName,
		},
	}
}

// Snapshot wraps conversations as a snapshot of src received at Base
func Snapshot(src entity.Source, convs ...entity.Conversation) entity.Snapshot {
	if convs == nil {
		convs = []entity.Conversation{}
	}
	return entity.Snapshot{
		Source:        src,
		UserID:        Self,
		Conversations: convs,
		ReceivedAt:    Base,
	}
}

// Feed regroups conversations into a feed without enrichment
func Feed(convs ...entity.Conversation) entity.Feed {
	return entity.Regroup(entity.Feed{Versions: map[entity.Source]time.Time{}}, convs)
}
