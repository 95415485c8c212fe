package entity

import "time"

// Snapshot is a complete replacement of one source's records for one user
type Snapshot struct {
	Source        Source
	UserID        string
	Conversations []Conversation
	ReceivedAt    time.Time
}

// Feed is the result of one merge pass
type Feed struct {
	Pending []Conversation `json:"pending"`
	Events  []Conversation `json:"events"`
	Groups  []Conversation `json:"groups"`
	Active  []Conversation `json:"active"`

	// All is Pending ++ Events ++ Groups ++ Active. It keeps category
	// grouping and is not sort-final.
	All []Conversation `json:"all"`

	// Versions holds the ReceivedAt of every snapshot the pass consumed
	Versions map[Source]time.Time `json:"-"`
	Pass     uint64               `json:"pass"`
	MergedAt time.Time            `json:"merged_at"`
}

// Find returns the conversation stored under key
func (f Feed) Find(key string) (Conversation, bool) {
	for _, c := range f.All {
		if c.Key() == key {
			return c, true
		}
	}
	return Conversation{}, false
}

// Regroup rebuilds the category partitions and All from a flat list,
// preserving the relative order of the input.
func Regroup(f Feed, convs []Conversation) Feed {
	out := Feed{
		Pending:  make([]Conversation, 0),
		Events:   make([]Conversation, 0),
		Groups:   make([]Conversation, 0),
		Active:   make([]Conversation, 0),
		Versions: f.Versions,
		Pass:     f.Pass,
		MergedAt: f.MergedAt,
	}
	for _, c := range convs {
		switch {
		case c.Status == StatusPending:
			out.Pending = append(out.Pending, c)
		case c.Kind == KindEvent:
			out.Events = append(out.Events, c)
		case c.Kind == KindGroup:
			out.Groups = append(out.Groups, c)
		default:
			out.Active = append(out.Active, c)
		}
	}
	out.All = make([]Conversation, 0, len(convs))
	out.All = append(out.All, out.Pending...)
	out.All = append(out.All, out.Events...)
	out.All = append(out.All, out.Groups...)
	out.All = append(out.All, out.Active...)
	return out
}

// PatchField names the conversation field an optimistic patch overrides
type PatchField string

const (
	PatchPinned PatchField = "pinned"
	PatchStatus PatchField = "status"
)

// Patch is a locally applied mutation awaiting authoritative confirmation
type Patch struct {
	ID              string
	ConversationKey string
	ConversationID  string
	Field           PatchField
	Pinned          bool
	Status          Status
	AppliedAt       time.Time
	AckedAt         *time.Time
}
