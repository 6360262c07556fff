// Package memstore keeps game state in process memory.
// Transactions are serialized by a single store-wide lock, which gives the
// same ordering guarantees as the row locks of the postgres repositories.
package memstore

import (
	"context"
	"fmt"

	"wealthwars/domain/entities"
	"wealthwars/domain/interfaces"
)

type state struct {
	identities  map[string]*entities.Identity
	challenges  map[string]*entities.LinkChallenge
	rounds      map[int64]*entities.Round
	entries     map[int64]*entities.Entry
	claims      map[int64]*entities.Claim // keyed by entry id
	nextRoundID int64
	nextEntryID int64
	nextClaimID int64
}

func newState() *state {
	return &state{
		identities: make(map[string]*entities.Identity),
		challenges: make(map[string]*entities.LinkChallenge),
		rounds:     make(map[int64]*entities.Round),
		entries:    make(map[int64]*entities.Entry),
		claims:     make(map[int64]*entities.Claim),
	}
}

// clone copies every record so a rollback can restore the prior state
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.identities {
		cp := *v
		c.identities[k] = &cp
	}
	for k, v := range s.challenges {
		cp := *v
		c.challenges[k] = &cp
	}
	for k, v := range s.rounds {
		cp := *v
		c.rounds[k] = &cp
	}
	for k, v := range s.entries {
		cp := *v
		c.entries[k] = &cp
	}
	for k, v := range s.claims {
		cp := *v
		c.claims[k] = &cp
	}
	c.nextRoundID = s.nextRoundID
	c.nextEntryID = s.nextEntryID
	c.nextClaimID = s.nextClaimID
	return c
}

// Store is an in-memory database
type Store struct {
	sem  chan struct{}
	data *state
}

// New creates an empty store
func New() *Store {
	return &Store{
		sem:  make(chan struct{}, 1),
		data: newState(),
	}
}

// UnitOfWorkFactory returns a factory whose units share this store
func (s *Store) UnitOfWorkFactory() interfaces.UnitOfWorkFactory {
	return &unitOfWorkFactory{store: s}
}

// acquire waits for exclusive access or for ctx to end
func (s *Store) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to acquire store lock: %w", err)
	}
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to acquire store lock: %w", ctx.Err())
	}
}

func (s *Store) release() {
	<-s.sem
}

type unitOfWorkFactory struct {
	store *Store
}

func (f *unitOfWorkFactory) Create() interfaces.UnitOfWork {
	return &unitOfWork{store: f.store}
}

var errNoTransaction = fmt.Errorf("memstore: transaction not started")

func copyRound(r *entities.Round) *entities.Round {
	cp := *r
	return &cp
}

func copyEntry(e *entities.Entry) *entities.Entry {
	cp := *e
	return &cp
}

func copyClaim(c *entities.Claim) *entities.Claim {
	cp := *c
	return &cp
}

func copyIdentity(i *entities.Identity) *entities.Identity {
	cp := *i
	return &cp
}
