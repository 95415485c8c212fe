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

// ProfilePostgres resolves traveller profiles from the users table.
// AvatarURL holds the stored object key; callers presign it.
type ProfilePostgres struct {
	pool *pgxpool.Pool
}

// NewProfilePostgres creates a new PostgreSQL profile resolver
func NewProfilePostgres(pool *pgxpool.Pool) *ProfilePostgres {
	return &ProfilePostgres{pool: pool}
}

// Lookup returns a profile summary or entity.ErrProfileNotFound
func (r *ProfilePostgres) Lookup(ctx context.Context, id string) (*entity.ProfileSummary, error) {
	defer observe(time.Now())

	query := `
		SELECT id, COALESCE(name, ''), COALESCE(avatar_key, ''), COALESCE(airport_code, '')
		FROM users
		WHERE id = $1
	`

	var p entity.ProfileSummary
	err := r.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.AvatarURL, &p.Airport)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entity.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting profile %s: %w", id, err)
	}

	return &p, nil
}
