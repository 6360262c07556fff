package infrastructure

import (
	"wealthwars/domain/interfaces"
)

// UnitOfWorkFactory creates units of work that hold both a store
// transaction and a transactional event publisher
type UnitOfWorkFactory struct {
	store          interfaces.UnitOfWorkFactory
	eventPublisher interfaces.EventPublisher
}

var _ interfaces.UnitOfWorkFactory = (*UnitOfWorkFactory)(nil)

// NewUnitOfWorkFactory wraps a store factory, postgres or in-memory
func NewUnitOfWorkFactory(store interfaces.UnitOfWorkFactory, eventPublisher interfaces.EventPublisher) *UnitOfWorkFactory {
	if eventPublisher == nil {
		eventPublisher = NewNoopEventPublisher()
	}
	return &UnitOfWorkFactory{
		store:          store,
		eventPublisher: eventPublisher,
	}
}

// Create creates a new unit of work with its own pending event queue
func (f *UnitOfWorkFactory) Create() interfaces.UnitOfWork {
	return &unitOfWork{
		inner:     f.store.Create(),
		publisher: NewTransactionalPublisher(f.eventPublisher),
	}
}
