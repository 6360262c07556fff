package repository

import (
	"context"
	"errors"
	"fmt"

	"wealthwars/database"
	"wealthwars/domain/events"
	"wealthwars/domain/interfaces"

	"github.com/jackc/pgx/v5"
)

// unitOfWork implements interfaces.UnitOfWork on a pgx transaction
type unitOfWork struct {
	db                *database.DB
	tx                pgx.Tx
	ctx               context.Context
	identityRepo      interfaces.IdentityRepository
	linkChallengeRepo interfaces.LinkChallengeRepository
	roundRepo         interfaces.RoundRepository
	entryRepo         interfaces.EntryRepository
	claimRepo         interfaces.ClaimRepository
}

type unitOfWorkFactory struct {
	db *database.DB
}

// NewUnitOfWorkFactory creates a factory of postgres-backed units of work.
// Events published on these units are dropped; wrap the factory with
// infrastructure.NewUnitOfWorkFactory to deliver them after commit.
func NewUnitOfWorkFactory(db *database.DB) interfaces.UnitOfWorkFactory {
	return &unitOfWorkFactory{db: db}
}

func (f *unitOfWorkFactory) Create() interfaces.UnitOfWork {
	return &unitOfWork{db: f.db}
}

// Begin starts a new transaction
func (u *unitOfWork) Begin(ctx context.Context) error {
	if u.tx != nil {
		return fmt.Errorf("transaction already started")
	}

	tx, err := u.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	u.tx = tx
	u.ctx = ctx

	u.identityRepo = NewIdentityRepository(tx)
	u.linkChallengeRepo = NewLinkChallengeRepository(tx)
	u.roundRepo = NewRoundRepository(tx)
	u.entryRepo = NewEntryRepository(tx)
	u.claimRepo = NewClaimRepository(tx)

	return nil
}

// Commit commits the transaction
func (u *unitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("no transaction to commit")
	}

	err := u.tx.Commit(u.ctx)
	u.tx = nil
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback rolls back the transaction. It is a no-op after Commit.
func (u *unitOfWork) Rollback() error {
	if u.tx == nil {
		return nil
	}

	// a cancelled request context must not leave the transaction open
	err := u.tx.Rollback(context.WithoutCancel(u.ctx))
	u.tx = nil
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

func (u *unitOfWork) IdentityRepository() interfaces.IdentityRepository {
	if u.identityRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.identityRepo
}

func (u *unitOfWork) LinkChallengeRepository() interfaces.LinkChallengeRepository {
	if u.linkChallengeRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.linkChallengeRepo
}

func (u *unitOfWork) RoundRepository() interfaces.RoundRepository {
	if u.roundRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.roundRepo
}

func (u *unitOfWork) EntryRepository() interfaces.EntryRepository {
	if u.entryRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.entryRepo
}

func (u *unitOfWork) ClaimRepository() interfaces.ClaimRepository {
	if u.claimRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.claimRepo
}

func (u *unitOfWork) EventBus() interfaces.EventPublisher {
	return discardPublisher{}
}

type discardPublisher struct{}

func (discardPublisher) Publish(events.Event) error { return nil }
