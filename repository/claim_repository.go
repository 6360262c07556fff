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

const claimColumns = `
	id, entry_id, round_id, kind, amount, destination, idempotency_key, status,
	lease_expires_at, attempts, tx_signature, created_at, confirmed_at`

// claimRepository implements interfaces.ClaimRepository
type claimRepository struct {
	q Queryable
}

// NewClaimRepository creates a claim repository on a pool or transaction
func NewClaimRepository(q Queryable) interfaces.ClaimRepository {
	return &claimRepository{q: q}
}

func scanClaim(row scanner) (*entities.Claim, error) {
	var claim entities.Claim
	err := row.Scan(
		&claim.ID,
		&claim.EntryID,
		&claim.RoundID,
		&claim.Kind,
		&claim.Amount,
		&claim.Destination,
		&claim.IdempotencyKey,
		&claim.Status,
		&claim.LeaseExpiresAt,
		&claim.Attempts,
		&claim.TxSignature,
		&claim.CreatedAt,
		&claim.ConfirmedAt,
	)
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

func (r *claimRepository) GetByEntryID(ctx context.Context, entryID int64) (*entities.Claim, error) {
	claim, err := scanClaim(r.q.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE entry_id = $1`, entryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	return claim, nil
}

func (r *claimRepository) Create(ctx context.Context, claim *entities.Claim) error {
	query := `
		INSERT INTO claims (entry_id, round_id, kind, amount, destination, idempotency_key, status, lease_expires_at, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	err := r.q.QueryRow(ctx, query,
		claim.EntryID,
		claim.RoundID,
		claim.Kind,
		claim.Amount,
		claim.Destination,
		claim.IdempotencyKey,
		claim.Status,
		claim.LeaseExpiresAt,
		claim.Attempts,
		claim.CreatedAt,
	).Scan(&claim.ID)
	if isUniqueViolation(err, "") {
		return fmt.Errorf("%w: entry %d", entities.ErrAlreadyClaimed, claim.EntryID)
	}
	if err != nil {
		return fmt.Errorf("failed to create claim: %w", err)
	}
	return nil
}

func (r *claimRepository) Update(ctx context.Context, claim *entities.Claim) error {
	query := `
		UPDATE claims
		SET status = $2, lease_expires_at = $3, attempts = $4, tx_signature = $5, confirmed_at = $6
		WHERE id = $1
	`

	tag, err := r.q.Exec(ctx, query,
		claim.ID,
		claim.Status,
		claim.LeaseExpiresAt,
		claim.Attempts,
		claim.TxSignature,
		claim.ConfirmedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("claim %d not found", claim.ID)
	}
	return nil
}

func (r *claimRepository) GetResumable(ctx context.Context, now time.Time) ([]*entities.Claim, error) {
	query := `SELECT ` + claimColumns + `
		FROM claims
		WHERE status = 'PENDING' AND lease_expires_at IS NOT NULL AND lease_expires_at <= $1
		ORDER BY id`

	rows, err := r.q.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query resumable claims: %w", err)
	}
	defer rows.Close()

	var claims []*entities.Claim
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		claims = append(claims, claim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claims: %w", err)
	}
	return claims, nil
}
