package view

import (
	"sort"
	"time"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
)

// Sort tiers, lowest first
const (
	tierPending = iota
	tierPinned
	tierRest
)

func tier(c entity.Conversation) int {
	switch {
	case c.Status == entity.StatusPending:
		return tierPending
	case c.Kind == entity.KindDirect && c.IsPinned:
		return tierPinned
	default:
		return tierRest
	}
}

var kindRank = map[entity.Kind]int{
	entity.KindDirect:           0,
	entity.KindGroupJoinRequest: 1,
	entity.KindEvent:            2,
	entity.KindGroup:            3,
}

// Sort returns convs in display order:
//
//	1. pending before everything else
//	2. pinned active direct conversations
//	3. the rest, where events are ordered by StartTime ascending among
//	   themselves and everything else by LastMessageAt descending
//	   (nil sorts as the epoch). The event run is interleaved into the
//	   recency run by LastMessageAt.
//
// Ties fall back to kind, then id, so the order is total and sorting a
// sorted list is a no-op.
func Sort(convs []entity.Conversation) []entity.Conversation {
	var pending, pinned, events, rest []entity.Conversation
	for _, c := range convs {
		switch tier(c) {
		case tierPending:
			pending = append(pending, c)
		case tierPinned:
			pinned = append(pinned, c)
		default:
			if c.Kind == entity.KindEvent {
				events = append(events, c)
			} else {
				rest = append(rest, c)
			}
		}
	}

	sort.SliceStable(pending, func(i, j int) bool { return byRecency(pending[i], pending[j]) })
	sort.SliceStable(pinned, func(i, j int) bool { return byRecency(pinned[i], pinned[j]) })
	sort.SliceStable(events, func(i, j int) bool { return byStartTime(events[i], events[j]) })
	sort.SliceStable(rest, func(i, j int) bool { return byRecency(rest[i], rest[j]) })

	out := make([]entity.Conversation, 0, len(convs))
	out = append(out, pending...)
	out = append(out, pinned...)
	return append(out, interleave(events, rest)...)
}

// interleave merges two individually ordered runs by recency without
// reordering either run.
func interleave(events, rest []entity.Conversation) []entity.Conversation {
	out := make([]entity.Conversation, 0, len(events)+len(rest))
	i, j := 0, 0
	for i < len(events) && j < len(rest) {
		if byRecency(events[i], rest[j]) {
			out = append(out, events[i])
			i++
		} else {
			out = append(out, rest[j])
			j++
		}
	}
	out = append(out, events[i:]...)
	return append(out, rest[j:]...)
}

func byRecency(a, b entity.Conversation) bool {
	at, bt := a.ActivityTime(), b.ActivityTime()
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return tieBreak(a, b)
}

func byStartTime(a, b entity.Conversation) bool {
	as, bs := startTime(a), startTime(b)
	if !as.Equal(bs) {
		return as.Before(bs)
	}
	return byRecency(a, b)
}

func startTime(c entity.Conversation) time.Time {
	if c.Event != nil {
		return c.Event.StartTime
	}
	return time.Time{}
}

func tieBreak(a, b entity.Conversation) bool {
	if ra, rb := kindRank[a.Kind], kindRank[b.Kind]; ra != rb {
		return ra < rb
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.Source < b.Source
}
