package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
)

var errInvalidRecord = errors.New("invalid record")

// DirectChatRecord is a row of the direct chats collection
type DirectChatRecord struct {
	ID            string
	Participants  []string
	InitiatorID   string
	LastMessage   *string
	LastMessageAt *time.Time
	UnreadCounts  map[string]int
	PinnedBy      []string
	CreatedAt     time.Time
}

// ConnectionRecord is a connection request between two travellers
type ConnectionRecord struct {
	ID           string
	Participants []string
	InitiatorID  string
	Status       string
	IntroMessage *string
	CreatedAt    time.Time
}

// EventRecord is an event chat the user attends
type EventRecord struct {
	ID            string
	Name          string
	Category      string
	Airport       string
	StartTime     time.Time
	OrganizerID   string
	Attendees     []string
	LastMessage   *string
	LastMessageAt *time.Time
	UnreadCount   int
}

// GroupRecord is a group chat the user belongs to
type GroupRecord struct {
	ID            string
	Name          string
	Description   string
	AvatarURL     string
	Members       []string
	LastMessage   *string
	LastMessageAt *time.Time
	UnreadCount   int
}

// GroupJoinRequestRecord is a pending request to join a group, either one
// the user administers or one the user sent
type GroupJoinRequestRecord struct {
	ID             string
	GroupID        string
	GroupName      string
	GroupAvatarURL string
	MemberCount    int
	RequesterID    string
	Message        *string
	CreatedAt      time.Time
}

// Store lists the raw records of one collection visible to a user
type Store[R any] interface {
	ListForUser(ctx context.Context, userID string) ([]R, error)
}

// Normalize converts a raw record into a conversation for userID
type Normalize[R any] func(userID string, r R) (entity.Conversation, error)

// NewLoader builds a Loader that lists records from store and normalizes
// them. Records that fail normalization are dropped and logged.
func NewLoader[R any](store Store[R], normalize Normalize[R], logger *slog.Logger) Loader {
	return LoaderFunc(func(ctx context.Context, userID string) ([]entity.Conversation, error) {
		records, err := store.ListForUser(ctx, userID)
		if err != nil {
			return nil, err
		}

		out := make([]entity.Conversation, 0, len(records))
		dropped := 0
		for _, r := range records {
			c, err := normalize(userID, r)
			if err != nil {
				dropped++
				logger.Debug("dropping record", "user_id", userID, "error", err)
				continue
			}
			out = append(out, c)
		}
		if dropped > 0 {
			logger.Warn("records dropped during normalization", "user_id", userID, "count", dropped)
		}
		return out, nil
	})
}

// NormalizeDirectChat accepts only chats between exactly the user and one other participant
func NormalizeDirectChat(userID string, r DirectChatRecord) (entity.Conversation, error) {
	if err := checkPair(userID, r.ID, r.Participants); err != nil {
		return entity.Conversation{}, err
	}

	return entity.Conversation{
		ID:            r.ID,
		Kind:          entity.KindDirect,
		Status:        entity.StatusActive,
		Source:        entity.SourceDirectChats,
		Participants:  copyIDs(r.Participants),
		LastMessage:   r.LastMessage,
		LastMessageAt: r.LastMessageAt,
		UnreadCount:   clampUnread(r.UnreadCounts[userID]),
		IsPinned:      contains(r.PinnedBy, userID),
		InitiatorID:   r.InitiatorID,
	}, nil
}

// NormalizeConnection maps a pending connection request to a pending direct conversation
func NormalizeConnection(userID string, r ConnectionRecord) (entity.Conversation, error) {
	if r.Status != string(entity.StatusPending) {
		return entity.Conversation{}, fmt.Errorf("%w: connection %s has status %q", errInvalidRecord, r.ID, r.Status)
	}
	if err := checkPair(userID, r.ID, r.Participants); err != nil {
		return entity.Conversation{}, err
	}

	var at *time.Time
	if !r.CreatedAt.IsZero() {
		created := r.CreatedAt
		at = &created
	}

	return entity.Conversation{
		ID:            r.ID,
		Kind:          entity.KindDirect,
		Status:        entity.StatusPending,
		Source:        entity.SourcePendingConnections,
		Participants:  copyIDs(r.Participants),
		LastMessage:   r.IntroMessage,
		LastMessageAt: at,
		InitiatorID:   r.InitiatorID,
	}, nil
}

// NormalizeEvent maps an event chat
func NormalizeEvent(_ string, r EventRecord) (entity.Conversation, error) {
	if r.ID == "" {
		return entity.Conversation{}, fmt.Errorf("%w: event without id", errInvalidRecord)
	}

	return entity.Conversation{
		ID:            r.ID,
		Kind:          entity.KindEvent,
		Status:        entity.StatusActive,
		Source:        entity.SourceEventChats,
		Participants:  copyIDs(r.Attendees),
		LastMessage:   r.LastMessage,
		LastMessageAt: r.LastMessageAt,
		UnreadCount:   clampUnread(r.UnreadCount),
		Event: &entity.EventInfo{
			Name:        r.Name,
			Category:    r.Category,
			Airport:     r.Airport,
			StartTime:   r.StartTime,
			OrganizerID: r.OrganizerID,
		},
	}, nil
}

// NormalizeGroup maps a group chat
func NormalizeGroup(_ string, r GroupRecord) (entity.Conversation, error) {
	if r.ID == "" {
		return entity.Conversation{}, fmt.Errorf("%w: group without id", errInvalidRecord)
	}

	return entity.Conversation{
		ID:            r.ID,
		Kind:          entity.KindGroup,
		Status:        entity.StatusActive,
		Source:        entity.SourceGroupChats,
		Participants:  copyIDs(r.Members),
		LastMessage:   r.LastMessage,
		LastMessageAt: r.LastMessageAt,
		UnreadCount:   clampUnread(r.UnreadCount),
		Group: &entity.GroupInfo{
			GroupID:     r.ID,
			Name:        r.Name,
			Description: r.Description,
			AvatarURL:   r.AvatarURL,
			MemberCount: len(r.Members),
		},
	}, nil
}

// NormalizeGroupJoinRequest maps a pending join request. The requester is
// kept as initiator so outgoing requests can be told apart.
func NormalizeGroupJoinRequest(_ string, r GroupJoinRequestRecord) (entity.Conversation, error) {
	if r.ID == "" || r.RequesterID == "" {
		return entity.Conversation{}, fmt.Errorf("%w: join request %q without requester", errInvalidRecord, r.ID)
	}

	var at *time.Time
	if !r.CreatedAt.IsZero() {
		created := r.CreatedAt
		at = &created
	}

	return entity.Conversation{
		ID:            r.ID,
		Kind:          entity.KindGroupJoinRequest,
		Status:        entity.StatusPending,
		Source:        entity.SourceGroupJoinRequests,
		Participants:  []string{r.RequesterID},
		LastMessage:   r.Message,
		LastMessageAt: at,
		InitiatorID:   r.RequesterID,
		Group: &entity.GroupInfo{
			GroupID:     r.GroupID,
			Name:        r.GroupName,
			AvatarURL:   r.GroupAvatarURL,
			MemberCount: r.MemberCount,
		},
	}, nil
}

func checkPair(userID, id string, participants []string) error {
	if len(participants) != 2 || participants[0] == participants[1] || !contains(participants, userID) {
		return fmt.Errorf("%w: %s participants %v", errInvalidRecord, id, participants)
	}
	return nil
}

func clampUnread(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func copyIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}
