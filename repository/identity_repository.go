package repository

import (
	"context"
	"errors"
	"fmt"

	"wealthwars/domain/entities"
	"wealthwars/domain/interfaces"

	"github.com/jackc/pgx/v5"
)

const identityColumns = `id, username, wallet_address, platform_handle, created_at, updated_at`

// identityRepository implements interfaces.IdentityRepository
type identityRepository struct {
	q Queryable
}

// NewIdentityRepository creates an identity repository on a pool or transaction
func NewIdentityRepository(q Queryable) interfaces.IdentityRepository {
	return &identityRepository{q: q}
}

func scanIdentity(row scanner) (*entities.Identity, error) {
	var identity entities.Identity
	err := row.Scan(
		&identity.ID,
		&identity.Username,
		&identity.WalletAddress,
		&identity.PlatformHandle,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r *identityRepository) getOne(ctx context.Context, where string, arg any) (*entities.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE ` + where
	identity, err := scanIdentity(r.q.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return identity, nil
}

func (r *identityRepository) GetByID(ctx context.Context, id string) (*entities.Identity, error) {
	return r.getOne(ctx, `id = $1`, id)
}

func (r *identityRepository) GetByPlatformHandle(ctx context.Context, handle string) (*entities.Identity, error) {
	return r.getOne(ctx, `platform_handle = $1`, handle)
}

func (r *identityRepository) GetByWallet(ctx context.Context, address string) (*entities.Identity, error) {
	return r.getOne(ctx, `wallet_address = $1`, address)
}

// Create inserts the identity. A concurrent insert of the same id returns the stored row.
func (r *identityRepository) Create(ctx context.Context, identity *entities.Identity) (*entities.Identity, error) {
	query := `
		INSERT INTO identities (id, username, platform_handle, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (id) DO NOTHING
		RETURNING ` + identityColumns

	created, err := scanIdentity(r.q.QueryRow(ctx, query, identity.ID, identity.Username, identity.PlatformHandle, identity.CreatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return r.GetByID(ctx, identity.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}
	return created, nil
}

func (r *identityRepository) BindWallet(ctx context.Context, id string, address string) error {
	query := `UPDATE identities SET wallet_address = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.q.Exec(ctx, query, id, address)
	if isUniqueViolation(err, "identities_wallet_address_key") {
		return fmt.Errorf("%w: %s", entities.ErrWalletAlreadyLinked, address)
	}
	if err != nil {
		return fmt.Errorf("failed to bind wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", entities.ErrIdentityNotFound, id)
	}
	return nil
}
