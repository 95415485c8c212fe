package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
)

// MutationPostgres performs the authoritative inbox writes. Both
// operations are idempotent so queued retries are safe.
type MutationPostgres struct {
	pool *pgxpool.Pool
}

// NewMutationPostgres creates a new PostgreSQL mutation store
func NewMutationPostgres(pool *pgxpool.Pool) *MutationPostgres {
	return &MutationPostgres{pool: pool}
}

// SetPinned adds or removes userID from the chat's pinned_by set
func (r *MutationPostgres) SetPinned(ctx context.Context, userID, conversationID string, pinned bool) error {
	defer observe(time.Now())

	query := `
		UPDATE direct_chats
		SET pinned_by = CASE
			WHEN $3 THEN
				CASE WHEN $2 = ANY(COALESCE(pinned_by, '{}')) THEN pinned_by
				     ELSE array_append(COALESCE(pinned_by, '{}'), $2) END
			ELSE array_remove(COALESCE(pinned_by, '{}'), $2)
		END
		WHERE id = $1 AND $2 = ANY(participants)
	`

	tag, err := r.pool.Exec(ctx, query, conversationID, userID, pinned)
	if err != nil {
		return fmt.Errorf("updating pin state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrConversationNotFound
	}

	return nil
}

// Accept marks a received connection request accepted and opens the
// direct chat for it. Accepting an already accepted request succeeds.
func (r *MutationPostgres) Accept(ctx context.Context, userID, conversationID string) error {
	defer observe(time.Now())

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status, initiator string
	err = tx.QueryRow(ctx, `
		SELECT status, initiator_id
		FROM connections
		WHERE id = $1 AND $2 = ANY(participants)
		FOR UPDATE
	`, conversationID, userID).Scan(&status, &initiator)
	if errors.Is(err, pgx.ErrNoRows) {
		return entity.ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("getting connection: %w", err)
	}
	if initiator == userID {
		return entity.ErrOwnRequest
	}

	switch status {
	case "pending":
		if _, err := tx.Exec(ctx, `
			UPDATE connections SET status = 'accepted', updated_at = $2 WHERE id = $1
		`, conversationID, time.Now()); err != nil {
			return fmt.Errorf("accepting connection: %w", err)
		}
	case "accepted":
	default:
		return entity.ErrNotAcceptable
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO direct_chats (id, participants, initiator_id, pinned_by, unread_counts, created_at)
		SELECT id, participants, initiator_id, '{}', '{}'::jsonb, $2
		FROM connections
		WHERE id = $1
		ON CONFLICT (id) DO NOTHING
	`, conversationID, time.Now()); err != nil {
		return fmt.Errorf("opening direct chat: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing accept: %w", err)
	}

	return nil
}
