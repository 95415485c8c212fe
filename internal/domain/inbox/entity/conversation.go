package entity

import (
	"time"
)

// Kind is the shape of a conversation-like record in the inbox
type Kind string

const (
	KindDirect           Kind = "direct"
	KindEvent            Kind = "event"
	KindGroup            Kind = "group"
	KindGroupJoinRequest Kind = "groupJoinRequest"
)

// Status is the lifecycle state of a conversation
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
)

// Source identifies the upstream collection a conversation came from
type Source string

const (
	SourceDirectChats        Source = "direct_chats"
	SourcePendingConnections Source = "pending_connections"
	SourceEventChats         Source = "event_chats"
	SourceGroupChats         Source = "group_chats"
	SourceGroupJoinRequests  Source = "group_join_requests"
)

// Sources lists every source the inbox aggregates, in merge order
var Sources = []Source{
	SourcePendingConnections,
	SourceGroupJoinRequests,
	SourceEventChats,
	SourceGroupChats,
	SourceDirectChats,
}

// PlaceholderName is shown for a direct conversation whose partner profile is unresolved
const PlaceholderName = "Traveler"

// Conversation is the uniform inbox entry produced from every source
type Conversation struct {
	ID            string     `json:"id"`
	Kind          Kind       `json:"kind"`
	Status        Status     `json:"status"`
	Source        Source     `json:"source"`
	Participants  []string   `json:"participants"`
	LastMessage   *string    `json:"last_message,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	UnreadCount   int        `json:"unread_count"`
	IsPinned      bool       `json:"is_pinned"`
	InitiatorID   string     `json:"initiator_id,omitempty"`

	Partner *ProfileSummary `json:"partner,omitempty"`
	Event   *EventInfo      `json:"event,omitempty"`
	Group   *GroupInfo      `json:"group,omitempty"`
}

// ProfileSummary is the display data of a direct conversation partner
type ProfileSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Airport   string `json:"airport,omitempty"`
}

// EventInfo is the display data of an event chat
type EventInfo struct {
	Name        string    `json:"name"`
	Category    string    `json:"category,omitempty"`
	Airport     string    `json:"airport,omitempty"`
	StartTime   time.Time `json:"start_time"`
	OrganizerID string    `json:"organizer_id,omitempty"`
}

// GroupInfo is the display data of a group chat or a group join request
type GroupInfo struct {
	GroupID     string `json:"group_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	MemberCount int    `json:"member_count"`
}

// Key returns the merge key. IDs are only unique within a kind,
// so pending and active direct records of the same link share a key.
func (c Conversation) Key() string {
	return ConversationKey(c.Kind, c.ID)
}

// ConversationKey builds a merge key from its parts
func ConversationKey(kind Kind, id string) string {
	return string(kind) + ":" + id
}

// IsDirect reports whether the conversation is a one-to-one chat or connection request
func (c Conversation) IsDirect() bool {
	return c.Kind == KindDirect
}

// IsPending reports whether the conversation is awaiting acceptance
func (c Conversation) IsPending() bool {
	return c.Status == StatusPending
}

// PartnerID returns the non-self participant of a direct conversation
func (c Conversation) PartnerID(self string) string {
	if !c.IsDirect() {
		return ""
	}
	for _, p := range c.Participants {
		if p != self {
			return p
		}
	}
	return ""
}

// IsSent reports whether the local user created the underlying request
func (c Conversation) IsSent(self string) bool {
	return c.IsDirect() && c.InitiatorID == self
}

// IsReceived reports whether the partner created the underlying request
func (c Conversation) IsReceived(self string) bool {
	return c.IsDirect() && c.InitiatorID != "" && c.InitiatorID != self
}

// DisplayName returns the title shown for the conversation
func (c Conversation) DisplayName() string {
	switch c.Kind {
	case KindDirect:
		if c.Partner != nil && c.Partner.Name != "" {
			return c.Partner.Name
		}
		return PlaceholderName
	case KindEvent:
		if c.Event != nil {
			return c.Event.Name
		}
	case KindGroup, KindGroupJoinRequest:
		if c.Group != nil {
			return c.Group.Name
		}
	}
	return ""
}

// ActivityTime returns LastMessageAt, or the zero time when there is none
func (c Conversation) ActivityTime() time.Time {
	if c.LastMessageAt == nil {
		return time.Time{}
	}
	return *c.LastMessageAt
}

// Clone returns a copy that shares no mutable state with c
func (c Conversation) Clone() Conversation {
	out := c
	if c.Participants != nil {
		out.Participants = append([]string(nil), c.Participants...)
	}
	if c.Partner != nil {
		p := *c.Partner
		out.Partner = &p
	}
	if c.Event != nil {
		e := *c.Event
		out.Event = &e
	}
	if c.Group != nil {
		g := *c.Group
		out.Group = &g
	}
	return out
}
