package services

import (
	"context"
	"fmt"

	"wealthwars/domain/entities"
	"wealthwars/domain/interfaces"
)

// EntryLedger is the single writer of round pots and entry counts.
// It runs inside the caller's transaction, which must hold the round row lock.
type EntryLedger struct {
	roundRepo     interfaces.RoundRepository
	entryRepo     interfaces.EntryRepository
	clock         interfaces.Clock
	allowMultiple bool
}

// NewEntryLedger creates a ledger bound to a unit of work's repositories
func NewEntryLedger(roundRepo interfaces.RoundRepository, entryRepo interfaces.EntryRepository, clock interfaces.Clock, allowMultiple bool) *EntryLedger {
	return &EntryLedger{
		roundRepo:     roundRepo,
		entryRepo:     entryRepo,
		clock:         clockOrSystem(clock),
		allowMultiple: allowMultiple,
	}
}

// AddEntry validates and records an entry, growing the pot by exactly its stake.
// The round is updated in place to reflect the new pot and count.
func (l *EntryLedger) AddEntry(ctx context.Context, round *entities.Round, req entities.EntryRequest) (*entities.Entry, error) {
	now := l.clock.Now()

	if !round.AcceptsEntries(now) {
		return nil, fmt.Errorf("%w: round %d is %s, deadline %s", entities.ErrRoundNotOpen, round.ID, round.Status, round.EndsAt.Format("2006-01-02 15:04:05"))
	}

	if !l.allowMultiple {
		exists, err := l.entryRepo.ExistsForIdentity(ctx, round.ID, req.IdentityID)
		if err != nil {
			return nil, entities.Transient("check existing entry", err)
		}
		if exists {
			return nil, fmt.Errorf("%w: %s in round %d", entities.ErrDuplicateEntry, req.IdentityID, round.ID)
		}
	}

	if round.IsFull() {
		return nil, fmt.Errorf("%w: %d of %d entries taken", entities.ErrRoundFull, round.EntryCount, round.MaxEntries)
	}

	if req.Stake < round.TicketPrice {
		return nil, fmt.Errorf("%w: stake %d, ticket price %d", entities.ErrStakeBelowTicketPrice, req.Stake, round.TicketPrice)
	}

	if req.Tickets < 1 {
		return nil, fmt.Errorf("%w: got %d", entities.ErrInvalidTicketCount, req.Tickets)
	}

	// divide rather than multiply so oversized ticket counts cannot overflow
	if req.Stake%round.TicketPrice != 0 || req.Stake/round.TicketPrice != int64(req.Tickets) {
		return nil, fmt.Errorf("%w: stake %d for %d tickets at %d", entities.ErrStakeMismatch, req.Stake, req.Tickets, round.TicketPrice)
	}

	entry := &entities.Entry{
		RoundID:       round.ID,
		IdentityID:    req.IdentityID,
		WalletAddress: req.WalletAddress,
		Stake:         req.Stake,
		Tickets:       req.Tickets,
		Exclusive:     !l.allowMultiple,
		CreatedAt:     now,
	}

	if err := l.entryRepo.Create(ctx, entry); err != nil {
		return nil, entities.Transient("insert entry", err)
	}

	if err := l.roundRepo.IncrementPot(ctx, round.ID, req.Stake); err != nil {
		return nil, entities.Transient("increment pot", err)
	}

	round.PotTotal += req.Stake
	round.EntryCount++

	return entry, nil
}

// VerifyPot checks that the stored pot equals the sum of the round's entry stakes
func (l *EntryLedger) VerifyPot(ctx context.Context, round *entities.Round) error {
	sum, err := l.entryRepo.SumStakes(ctx, round.ID)
	if err != nil {
		return entities.Transient("sum entry stakes", err)
	}
	if sum != round.PotTotal {
		return fmt.Errorf("pot invariant violated for round %d: pot %d, stakes %d", round.ID, round.PotTotal, sum)
	}
	return nil
}

// StakeFor returns the stake required for a ticket count
func StakeFor(round *entities.Round, tickets int) int64 {
	return round.TicketPrice * int64(tickets)
}
