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

const roundColumns = `
	id, authority, status, ticket_price, pot_total, entry_count, max_entries, min_entries, fee_bps,
	created_at, ends_at, closed_at, close_reason, settled_at,
	winner_identity_id, winning_entry_id, payout_amount, house_fee, void_reason`

// roundRepository implements interfaces.RoundRepository
type roundRepository struct {
	q Queryable
}

// NewRoundRepository creates a round repository on a pool or transaction
func NewRoundRepository(q Queryable) interfaces.RoundRepository {
	return &roundRepository{q: q}
}

func scanRound(row scanner) (*entities.Round, error) {
	var round entities.Round
	err := row.Scan(
		&round.ID,
		&round.Authority,
		&round.Status,
		&round.TicketPrice,
		&round.PotTotal,
		&round.EntryCount,
		&round.MaxEntries,
		&round.MinEntries,
		&round.FeeBps,
		&round.CreatedAt,
		&round.EndsAt,
		&round.ClosedAt,
		&round.CloseReason,
		&round.SettledAt,
		&round.WinnerIdentityID,
		&round.WinningEntryID,
		&round.PayoutAmount,
		&round.HouseFee,
		&round.VoidReason,
	)
	if err != nil {
		return nil, err
	}
	return &round, nil
}

func (r *roundRepository) Create(ctx context.Context, round *entities.Round) error {
	query := `
		INSERT INTO rounds (authority, status, ticket_price, pot_total, entry_count, max_entries, min_entries, fee_bps, created_at, ends_at)
		VALUES ($1, $2, $3, 0, 0, $4, $5, $6, $7, $8)
		RETURNING id
	`

	err := r.q.QueryRow(ctx, query,
		round.Authority,
		round.Status,
		round.TicketPrice,
		round.MaxEntries,
		round.MinEntries,
		round.FeeBps,
		round.CreatedAt,
		round.EndsAt,
	).Scan(&round.ID)
	if isUniqueViolation(err, "idx_rounds_one_open_per_authority") {
		return fmt.Errorf("%w: authority %s", entities.ErrRoundAlreadyOpen, round.Authority)
	}
	if err != nil {
		return fmt.Errorf("failed to create round: %w", err)
	}
	round.PotTotal = 0
	round.EntryCount = 0
	return nil
}

func (r *roundRepository) getOne(ctx context.Context, query string, args ...any) (*entities.Round, error) {
	round, err := scanRound(r.q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return round, nil
}

func (r *roundRepository) getMany(ctx context.Context, query string, args ...any) ([]*entities.Round, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer rows.Close()

	var rounds []*entities.Round
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		rounds = append(rounds, round)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rounds: %w", err)
	}
	return rounds, nil
}

func (r *roundRepository) GetByID(ctx context.Context, id int64) (*entities.Round, error) {
	return r.getOne(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = $1`, id)
}

// GetByIDForUpdate locks the round row until the transaction ends
func (r *roundRepository) GetByIDForUpdate(ctx context.Context, id int64) (*entities.Round, error) {
	return r.getOne(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = $1 FOR UPDATE`, id)
}

func (r *roundRepository) GetOpenByAuthority(ctx context.Context, authority string) (*entities.Round, error) {
	return r.getOne(ctx, `SELECT `+roundColumns+` FROM rounds WHERE authority = $1 AND status = 'OPEN'`, authority)
}

func (r *roundRepository) GetLatestByAuthority(ctx context.Context, authority string) (*entities.Round, error) {
	return r.getOne(ctx, `SELECT `+roundColumns+` FROM rounds WHERE authority = $1 ORDER BY id DESC LIMIT 1`, authority)
}

// IncrementPot is the only statement that changes pot_total
func (r *roundRepository) IncrementPot(ctx context.Context, id int64, amount int64) error {
	query := `
		UPDATE rounds
		SET pot_total = pot_total + $2, entry_count = entry_count + 1
		WHERE id = $1 AND status = 'OPEN' AND entry_count < max_entries
	`

	tag, err := r.q.Exec(ctx, query, id, amount)
	if err != nil {
		return fmt.Errorf("failed to increment pot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: round %d not open or already full", entities.ErrRoundFull, id)
	}
	return nil
}

// Update writes lifecycle fields. Pot and entry count are left to IncrementPot.
func (r *roundRepository) Update(ctx context.Context, round *entities.Round) error {
	query := `
		UPDATE rounds
		SET status = $2, closed_at = $3, close_reason = $4, settled_at = $5,
		    winner_identity_id = $6, winning_entry_id = $7, payout_amount = $8,
		    house_fee = $9, void_reason = $10
		WHERE id = $1
	`

	tag, err := r.q.Exec(ctx, query,
		round.ID,
		round.Status,
		round.ClosedAt,
		round.CloseReason,
		round.SettledAt,
		round.WinnerIdentityID,
		round.WinningEntryID,
		round.PayoutAmount,
		round.HouseFee,
		round.VoidReason,
	)
	if err != nil {
		return fmt.Errorf("failed to update round: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", entities.ErrRoundNotFound, round.ID)
	}
	return nil
}

func (r *roundRepository) GetDueForClose(ctx context.Context, now time.Time) ([]*entities.Round, error) {
	query := `SELECT ` + roundColumns + `
		FROM rounds
		WHERE status = 'OPEN' AND (ends_at <= $1 OR entry_count >= max_entries)
		ORDER BY id`
	return r.getMany(ctx, query, now)
}

func (r *roundRepository) GetByStatus(ctx context.Context, status entities.RoundStatus) ([]*entities.Round, error) {
	return r.getMany(ctx, `SELECT `+roundColumns+` FROM rounds WHERE status = $1 ORDER BY id`, status)
}
