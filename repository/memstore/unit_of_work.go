package memstore

import (
	"context"
	"fmt"

	"wealthwars/domain/events"
	"wealthwars/domain/interfaces"
)

// unitOfWork holds the store lock from Begin until Commit or Rollback
type unitOfWork struct {
	store    *Store
	snapshot *state
	active   bool
}

func (u *unitOfWork) Begin(ctx context.Context) error {
	if u.active {
		return fmt.Errorf("memstore: transaction already started")
	}
	if err := u.store.acquire(ctx); err != nil {
		return err
	}
	u.snapshot = u.store.data.clone()
	u.active = true
	return nil
}

func (u *unitOfWork) Commit() error {
	if !u.active {
		return errNoTransaction
	}
	u.snapshot = nil
	u.active = false
	u.store.release()
	return nil
}

// Rollback restores the state from Begin. It is a no-op after Commit.
func (u *unitOfWork) Rollback() error {
	if !u.active {
		return nil
	}
	u.store.data = u.snapshot
	u.snapshot = nil
	u.active = false
	u.store.release()
	return nil
}

func (u *unitOfWork) IdentityRepository() interfaces.IdentityRepository {
	return &identityRepository{uow: u}
}

func (u *unitOfWork) LinkChallengeRepository() interfaces.LinkChallengeRepository {
	return &linkChallengeRepository{uow: u}
}

func (u *unitOfWork) RoundRepository() interfaces.RoundRepository {
	return &roundRepository{uow: u}
}

func (u *unitOfWork) EntryRepository() interfaces.EntryRepository {
	return &entryRepository{uow: u}
}

func (u *unitOfWork) ClaimRepository() interfaces.ClaimRepository {
	return &claimRepository{uow: u}
}

// EventBus drops events. Wrap the factory with infrastructure.NewUnitOfWorkFactory to deliver them.
func (u *unitOfWork) EventBus() interfaces.EventPublisher {
	return discardPublisher{}
}

// data returns the live state, failing outside a transaction
func (u *unitOfWork) data() (*state, error) {
	if !u.active {
		return nil, errNoTransaction
	}
	return u.store.data, nil
}

type discardPublisher struct{}

func (discardPublisher) Publish(events.Event) error { return nil }
