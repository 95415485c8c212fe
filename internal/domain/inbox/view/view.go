package view

import (
	"fmt"
	"strings"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
)

// Filter selects an inbox category
type Filter string

const (
	FilterAll     Filter = "all"
	FilterPending Filter = "pending"
	FilterEvents  Filter = "events"
	FilterGroups  Filter = "groups"
	FilterActive  Filter = "active"
)

// ParseFilter validates a filter name. An empty name means FilterAll.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterPending, FilterEvents, FilterGroups, FilterActive:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", entity.ErrInvalidFilter, s)
	}
}

// Query is the user-driven part of the view
type Query struct {
	Filter Filter
	Search string
}

// Counts holds badge counts over the whole inbox, independent of the filter
type Counts struct {
	Pending int `json:"pending"`
	Events  int `json:"events"`
	Groups  int `json:"groups"`
	Active  int `json:"active"`
}

// Result is what the UI renders
type Result struct {
	Items  []entity.Conversation `json:"items"`
	Counts Counts                `json:"counts"`
	Filter Filter                `json:"filter"`
	Search string                `json:"search,omitempty"`
	Pass   uint64                `json:"pass"`
}

// Apply filters, searches and sorts the feed. Counts always come from the
// unfiltered feed.
func Apply(feed entity.Feed, q Query) Result {
	if q.Filter == "" {
		q.Filter = FilterAll
	}

	items := make([]entity.Conversation, 0, len(feed.All))
	for _, c := range feed.All {
		if Matches(c, q.Filter) && MatchesSearch(c, q.Search) {
			items = append(items, c)
		}
	}

	return Result{
		Items:  Sort(items),
		Counts: Count(feed.All),
		Filter: q.Filter,
		Search: q.Search,
		Pass:   feed.Pass,
	}
}

// Count computes badge counts
func Count(convs []entity.Conversation) Counts {
	var out Counts
	for _, c := range convs {
		switch {
		case c.Status == entity.StatusPending:
			out.Pending++
		case c.Kind == entity.KindEvent:
			out.Events++
		case c.Kind == entity.KindGroup:
			out.Groups++
		default:
			out.Active++
		}
	}
	return out
}

// Matches reports whether c belongs to the category f
func Matches(c entity.Conversation, f Filter) bool {
	switch f {
	case FilterPending:
		return c.Status == entity.StatusPending
	case FilterEvents:
		return c.Kind == entity.KindEvent
	case FilterGroups:
		return c.Kind == entity.KindGroup
	case FilterActive:
		return c.Status == entity.StatusActive && c.Kind != entity.KindEvent && c.Kind != entity.KindGroup
	default:
		return c.Status != entity.StatusPending
	}
}

// MatchesSearch performs a case-insensitive substring match against the
// kind-specific display fields
func MatchesSearch(c entity.Conversation, search string) bool {
	needle := strings.ToLower(strings.TrimSpace(search))
	if needle == "" {
		return true
	}

	var fields []string
	switch c.Kind {
	case entity.KindEvent:
		if c.Event != nil {
			fields = []string{c.Event.Name, c.Event.Category, c.Event.Airport}
		}
	case entity.KindGroup, entity.KindGroupJoinRequest:
		if c.Group != nil {
			fields = []string{c.Group.Name, c.Group.Description}
		}
	case entity.KindDirect:
		if c.Partner != nil {
			fields = []string{c.Partner.Name}
		}
	}

	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}
