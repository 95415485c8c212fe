package merge

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
)

// ProfileSource resolves partner profiles in one batched call
type ProfileSource interface {
	Get(ctx context.Context, ids []string) map[string]*entity.ProfileSummary
}

// Input is the latest snapshot of every source. A source that has not
// emitted yet is simply absent and contributes nothing.
type Input struct {
	UserID    string
	Snapshots map[entity.Source]entity.Snapshot
}

// Engine merges source snapshots into a single feed
type Engine struct {
	profiles ProfileSource
	now      func() time.Time
	pass     atomic.Uint64
}

// New creates a merge engine
func New(profiles ProfileSource) *Engine {
	return &Engine{
		profiles: profiles,
		now:      time.Now,
	}
}

// Merge runs one merge pass. It never fails: unresolved enrichment
// degrades to a placeholder and missing sources count as empty.
func (e *Engine) Merge(ctx context.Context, in Input) entity.Feed {
	versions := make(map[entity.Source]time.Time, len(in.Snapshots))
	merged := make([]entity.Conversation, 0)
	index := make(map[string]int)

	for _, src := range orderedSources(in.Snapshots) {
		snap := in.Snapshots[src]
		versions[src] = snap.ReceivedAt

		for _, c := range snap.Conversations {
			c = c.Clone()
			key := c.Key()
			if i, ok := index[key]; ok {
				merged[i] = pick(merged[i], c)
				continue
			}
			index[key] = len(merged)
			merged = append(merged, c)
		}
	}

	e.enrich(ctx, in.UserID, merged)

	return entity.Regroup(entity.Feed{
		Versions: versions,
		Pass:     e.pass.Add(1),
		MergedAt: e.now(),
	}, merged)
}

// enrich attaches partner profiles to direct conversations
func (e *Engine) enrich(ctx context.Context, self string, convs []entity.Conversation) {
	if e.profiles == nil {
		return
	}

	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, c := range convs {
		id := c.PartnerID(self)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return
	}
	sort.Strings(ids)

	profiles := e.profiles.Get(ctx, ids)
	for i := range convs {
		id := convs[i].PartnerID(self)
		if id == "" {
			continue
		}
		if p := profiles[id]; p != nil {
			pc := *p
			convs[i].Partner = &pc
		}
	}
}

// pick resolves two records sharing a merge key. Active beats pending so a
// direct link never regresses; otherwise the more recent activity wins.
func pick(existing, candidate entity.Conversation) entity.Conversation {
	winner, loser := existing, candidate
	switch {
	case existing.Status == entity.StatusPending && candidate.Status == entity.StatusActive:
		winner, loser = candidate, existing
	case existing.Status == entity.StatusActive && candidate.Status == entity.StatusPending:
	case candidate.ActivityTime().After(existing.ActivityTime()):
		winner, loser = candidate, existing
	}

	if winner.InitiatorID == "" {
		winner.InitiatorID = loser.InitiatorID
	}
	return winner
}

// orderedSources returns the known sources first, in merge order, followed
// by any others sorted by name so the pass is deterministic.
func orderedSources(snaps map[entity.Source]entity.Snapshot) []entity.Source {
	out := make([]entity.Source, 0, len(snaps))
	known := make(map[entity.Source]struct{}, len(entity.Sources))
	for _, src := range entity.Sources {
		known[src] = struct{}{}
		if _, ok := snaps[src]; ok {
			out = append(out, src)
		}
	}

	extra := make([]entity.Source, 0)
	for src := range snaps {
		if _, ok := known[src]; !ok {
			extra = append(extra, src)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })

	return append(out, extra...)
}
