package infrastructure

import (
	"context"

	"wealthwars/domain/interfaces"
)

// unitOfWork wraps a store unit of work and flushes its events after commit
type unitOfWork struct {
	inner     interfaces.UnitOfWork
	publisher *TransactionalPublisher
	ctx       context.Context
}

func (u *unitOfWork) Begin(ctx context.Context) error {
	u.ctx = ctx
	return u.inner.Begin(ctx)
}

// Commit commits the store transaction, then publishes queued events
func (u *unitOfWork) Commit() error {
	if err := u.inner.Commit(); err != nil {
		u.publisher.Discard()
		return err
	}
	// events are best-effort once the state is durable
	_ = u.publisher.Flush(context.WithoutCancel(u.ctx))
	return nil
}

// Rollback discards queued events and rolls back the store transaction
func (u *unitOfWork) Rollback() error {
	u.publisher.Discard()
	return u.inner.Rollback()
}

func (u *unitOfWork) IdentityRepository() interfaces.IdentityRepository {
	return u.inner.IdentityRepository()
}

func (u *unitOfWork) LinkChallengeRepository() interfaces.LinkChallengeRepository {
	return u.inner.LinkChallengeRepository()
}

func (u *unitOfWork) RoundRepository() interfaces.RoundRepository {
	return u.inner.RoundRepository()
}

func (u *unitOfWork) EntryRepository() interfaces.EntryRepository {
	return u.inner.EntryRepository()
}

func (u *unitOfWork) ClaimRepository() interfaces.ClaimRepository {
	return u.inner.ClaimRepository()
}

// EventBus returns the transactional event publisher
func (u *unitOfWork) EventBus() interfaces.EventPublisher {
	return u.publisher
}
