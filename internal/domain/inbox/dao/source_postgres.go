package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/source"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/metrics"
)

func observe(start time.Time) {
	metrics.PostgresLatency.Observe(time.Since(start).Seconds())
}

// DirectChatPostgres lists a user's direct chats
type DirectChatPostgres struct {
	pool *pgxpool.Pool
}

// NewDirectChatPostgres creates a new PostgreSQL direct chat store
func NewDirectChatPostgres(pool *pgxpool.Pool) *DirectChatPostgres {
	return &DirectChatPostgres{pool: pool}
}

// ListForUser returns every direct chat the user participates in
func (r *DirectChatPostgres) ListForUser(ctx context.Context, userID string) ([]source.DirectChatRecord, error) {
	defer observe(time.Now())

	query := `
		SELECT id, participants, COALESCE(initiator_id, ''), last_message, last_message_at,
		       unread_counts, pinned_by, created_at
		FROM direct_chats
		WHERE $1 = ANY(participants)
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying direct chats: %w", err)
	}
	defer rows.Close()

	records := make([]source.DirectChatRecord, 0)
	for rows.Next() {
		var rec source.DirectChatRecord
		err := rows.Scan(
			&rec.ID,
			&rec.Participants,
			&rec.InitiatorID,
			&rec.LastMessage,
			&rec.LastMessageAt,
			&rec.UnreadCounts,
			&rec.PinnedBy,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning direct chat row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating direct chats: %w", err)
	}

	return records, nil
}

// ConnectionPostgres lists pending connection requests
type ConnectionPostgres struct {
	pool *pgxpool.Pool
}

// NewConnectionPostgres creates a new PostgreSQL connection store
func NewConnectionPostgres(pool *pgxpool.Pool) *ConnectionPostgres {
	return &ConnectionPostgres{pool: pool}
}

// ListForUser returns pending requests sent or received by the user
func (r *ConnectionPostgres) ListForUser(ctx context.Context, userID string) ([]source.ConnectionRecord, error) {
	defer observe(time.Now())

	query := `
		SELECT id, participants, initiator_id, status, intro_message, created_at
		FROM connections
		WHERE $1 = ANY(participants) AND status = 'pending'
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying connections: %w", err)
	}
	defer rows.Close()

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (source.ConnectionRecord, error) {
		var rec source.ConnectionRecord
		err := row.Scan(&rec.ID, &rec.Participants, &rec.InitiatorID, &rec.Status, &rec.IntroMessage, &rec.CreatedAt)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning connection rows: %w", err)
	}

	return records, nil
}

// EventPostgres lists event chats
type EventPostgres struct {
	pool *pgxpool.Pool
}

// NewEventPostgres creates a new PostgreSQL event store
func NewEventPostgres(pool *pgxpool.Pool) *EventPostgres {
	return &EventPostgres{pool: pool}
}

// ListForUser returns the events the user attends
func (r *EventPostgres) ListForUser(ctx context.Context, userID string) ([]source.EventRecord, error) {
	defer observe(time.Now())

	query := `
		SELECT id, name, category, airport, start_time, organizer_id, attendees,
		       last_message, last_message_at,
		       COALESCE((unread_counts ->> $1)::int, 0)
		FROM events
		WHERE $1 = ANY(attendees)
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (source.EventRecord, error) {
		var rec source.EventRecord
		err := row.Scan(
			&rec.ID,
			&rec.Name,
			&rec.Category,
			&rec.Airport,
			&rec.StartTime,
			&rec.OrganizerID,
			&rec.Attendees,
			&rec.LastMessage,
			&rec.LastMessageAt,
			&rec.UnreadCount,
		)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning event rows: %w", err)
	}

	return records, nil
}

// GroupPostgres lists group chats
type GroupPostgres struct {
	pool *pgxpool.Pool
}

// NewGroupPostgres creates a new PostgreSQL group store
func NewGroupPostgres(pool *pgxpool.Pool) *GroupPostgres {
	return &GroupPostgres{pool: pool}
}

// ListForUser returns the groups the user is a member of
func (r *GroupPostgres) ListForUser(ctx context.Context, userID string) ([]source.GroupRecord, error) {
	defer observe(time.Now())

	query := `
		SELECT id, name, COALESCE(description, ''), COALESCE(avatar_url, ''), members,
		       last_message, last_message_at,
		       COALESCE((unread_counts ->> $1)::int, 0)
		FROM travel_groups
		WHERE $1 = ANY(members)
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (source.GroupRecord, error) {
		var rec source.GroupRecord
		err := row.Scan(
			&rec.ID,
			&rec.Name,
			&rec.Description,
			&rec.AvatarURL,
			&rec.Members,
			&rec.LastMessage,
			&rec.LastMessageAt,
			&rec.UnreadCount,
		)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning group rows: %w", err)
	}

	return records, nil
}

// GroupJoinRequestPostgres lists join requests awaiting a decision
type GroupJoinRequestPostgres struct {
	pool *pgxpool.Pool
}

// NewGroupJoinRequestPostgres creates a new PostgreSQL join request store
func NewGroupJoinRequestPostgres(pool *pgxpool.Pool) *GroupJoinRequestPostgres {
	return &GroupJoinRequestPostgres{pool: pool}
}

// ListForUser returns pending requests for groups the user administers
// and the user's own outgoing requests
func (r *GroupJoinRequestPostgres) ListForUser(ctx context.Context, userID string) ([]source.GroupJoinRequestRecord, error) {
	defer observe(time.Now())

	query := `
		SELECT r.id, g.id, g.name, COALESCE(g.avatar_url, ''), cardinality(g.members),
		       r.requester_id, r.message, r.created_at
		FROM group_join_requests r
		JOIN travel_groups g ON g.id = r.group_id
		WHERE r.status = 'pending' AND ($1 = ANY(g.admins) OR r.requester_id = $1)
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying group join requests: %w", err)
	}
	defer rows.Close()

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (source.GroupJoinRequestRecord, error) {
		var rec source.GroupJoinRequestRecord
		err := row.Scan(
			&rec.ID,
			&rec.GroupID,
			&rec.GroupName,
			&rec.GroupAvatarURL,
			&rec.MemberCount,
			&rec.RequesterID,
			&rec.Message,
			&rec.CreatedAt,
		)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning group join request rows: %w", err)
	}

	return records, nil
}
