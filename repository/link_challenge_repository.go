package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wealthwars/domain/entities"
	"wealthwars/domain/interfaces"

	"github.com/jackc/pgx/v5"
)

// linkChallengeRepository implements interfaces.LinkChallengeRepository
type linkChallengeRepository struct {
	q Queryable
}

// NewLinkChallengeRepository creates a link challenge repository on a pool or transaction
func NewLinkChallengeRepository(q Queryable) interfaces.LinkChallengeRepository {
	return &linkChallengeRepository{q: q}
}

func (r *linkChallengeRepository) Upsert(ctx context.Context, challenge *entities.LinkChallenge) error {
	query := `
		INSERT INTO link_challenges (identity_id, code, message, claimed_address, platform_handle, username, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (identity_id) DO UPDATE SET
			code = EXCLUDED.code,
			message = EXCLUDED.message,
			claimed_address = EXCLUDED.claimed_address,
			platform_handle = EXCLUDED.platform_handle,
			username = EXCLUDED.username,
			created_at = EXCLUDED.created_at
	`

	_, err := r.q.Exec(ctx, query,
		challenge.IdentityID,
		challenge.Code,
		challenge.Message,
		challenge.ClaimedAddress,
		challenge.PlatformHandle,
		challenge.Username,
		challenge.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert link challenge: %w", err)
	}
	return nil
}

func (r *linkChallengeRepository) GetForUpdate(ctx context.Context, identityID string) (*entities.LinkChallenge, error) {
	query := `
		SELECT identity_id, code, message, claimed_address, platform_handle, username, created_at
		FROM link_challenges
		WHERE identity_id = $1
		FOR UPDATE
	`

	var challenge entities.LinkChallenge
	err := r.q.QueryRow(ctx, query, identityID).Scan(
		&challenge.IdentityID,
		&challenge.Code,
		&challenge.Message,
		&challenge.ClaimedAddress,
		&challenge.PlatformHandle,
		&challenge.Username,
		&challenge.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get link challenge: %w", err)
	}
	return &challenge, nil
}

func (r *linkChallengeRepository) Delete(ctx context.Context, identityID string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM link_challenges WHERE identity_id = $1`, identityID); err != nil {
		return fmt.Errorf("failed to delete link challenge: %w", err)
	}
	return nil
}

func (r *linkChallengeRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM link_challenges WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired link challenges: %w", err)
	}
	return tag.RowsAffected(), nil
}
