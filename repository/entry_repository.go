package repository

import (
	"context"
	"errors"
	"fmt"

	"wealthwars/domain/entities"
	"wealthwars/domain/interfaces"

	"github.com/jackc/pgx/v5"
)

const entryColumns = `id, round_id, identity_id, wallet_address, stake, tickets, claimed, exclusive, created_at`

const exclusiveEntryConstraint = "idx_entries_one_exclusive_per_identity"

// entryRepository implements interfaces.EntryRepository
type entryRepository struct {
	q Queryable
}

// NewEntryRepository creates an entry repository on a pool or transaction
func NewEntryRepository(q Queryable) interfaces.EntryRepository {
	return &entryRepository{q: q}
}

func scanEntry(row scanner) (*entities.Entry, error) {
	var entry entities.Entry
	err := row.Scan(
		&entry.ID,
		&entry.RoundID,
		&entry.IdentityID,
		&entry.WalletAddress,
		&entry.Stake,
		&entry.Tickets,
		&entry.Claimed,
		&entry.Exclusive,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *entryRepository) Create(ctx context.Context, entry *entities.Entry) error {
	query := `
		INSERT INTO entries (round_id, identity_id, wallet_address, stake, tickets, exclusive, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))
		RETURNING id, created_at
	`

	var createdAt any
	if !entry.CreatedAt.IsZero() {
		createdAt = entry.CreatedAt
	}
	err := r.q.QueryRow(ctx, query,
		entry.RoundID,
		entry.IdentityID,
		entry.WalletAddress,
		entry.Stake,
		entry.Tickets,
		entry.Exclusive,
		createdAt,
	).Scan(&entry.ID, &entry.CreatedAt)
	if isUniqueViolation(err, exclusiveEntryConstraint) {
		return fmt.Errorf("%w: %s in round %d", entities.ErrDuplicateEntry, entry.IdentityID, entry.RoundID)
	}
	if err != nil {
		return fmt.Errorf("failed to create entry: %w", err)
	}
	return nil
}

func (r *entryRepository) getOne(ctx context.Context, query string, id int64) (*entities.Entry, error) {
	entry, err := scanEntry(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return entry, nil
}

func (r *entryRepository) GetByID(ctx context.Context, id int64) (*entities.Entry, error) {
	return r.getOne(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = $1`, id)
}

// GetByIDForUpdate locks the entry row until the transaction ends
func (r *entryRepository) GetByIDForUpdate(ctx context.Context, id int64) (*entities.Entry, error) {
	return r.getOne(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = $1 FOR UPDATE`, id)
}

func (r *entryRepository) GetByRound(ctx context.Context, roundID int64) ([]*entities.Entry, error) {
	rows, err := r.q.Query(ctx, `SELECT `+entryColumns+` FROM entries WHERE round_id = $1 ORDER BY id`, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*entities.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return entries, nil
}

func (r *entryRepository) ExistsForIdentity(ctx context.Context, roundID int64, identityID string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM entries WHERE round_id = $1 AND identity_id = $2)`,
		roundID, identityID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check existing entry: %w", err)
	}
	return exists, nil
}

func (r *entryRepository) SumStakes(ctx context.Context, roundID int64) (int64, error) {
	var sum int64
	err := r.q.QueryRow(ctx, `SELECT COALESCE(SUM(stake), 0)::BIGINT FROM entries WHERE round_id = $1`, roundID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum entry stakes: %w", err)
	}
	return sum, nil
}

// MarkClaimed sets claimed only if it was unset
func (r *entryRepository) MarkClaimed(ctx context.Context, id int64) (bool, error) {
	tag, err := r.q.Exec(ctx, `UPDATE entries SET claimed = TRUE WHERE id = $1 AND NOT claimed`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark entry claimed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
