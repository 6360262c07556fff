package interfaces

import (
	"context"
	"time"

	"wealthwars/domain/entities"
)

// Repositories return (nil, nil) when a looked-up row does not exist.

// IdentityRepository defines the interface for identity data access
type IdentityRepository interface {
	GetByID(ctx context.Context, id string) (*entities.Identity, error)
	GetByPlatformHandle(ctx context.Context, handle string) (*entities.Identity, error)
	GetByWallet(ctx context.Context, address string) (*entities.Identity, error)
	// Create inserts the identity, returning the stored row if it already exists
	Create(ctx context.Context, identity *entities.Identity) (*entities.Identity, error)
	// BindWallet sets the verified wallet. Fails with ErrWalletAlreadyLinked if another identity holds it.
	BindWallet(ctx context.Context, id string, address string) error
}

// LinkChallengeRepository defines the interface for pending link challenge storage
type LinkChallengeRepository interface {
	// Upsert stores the challenge, replacing any prior challenge for the identity
	Upsert(ctx context.Context, challenge *entities.LinkChallenge) error
	// GetForUpdate loads the identity's challenge and locks it for the rest of the transaction
	GetForUpdate(ctx context.Context, identityID string) (*entities.LinkChallenge, error)
	Delete(ctx context.Context, identityID string) error
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RoundRepository defines the interface for round data access
type RoundRepository interface {
	// Create inserts the round and sets its ID. Fails with ErrRoundAlreadyOpen on a second open round.
	Create(ctx context.Context, round *entities.Round) error
	GetByID(ctx context.Context, id int64) (*entities.Round, error)
	// GetByIDForUpdate locks the round row, serializing entries, closing and settlement
	GetByIDForUpdate(ctx context.Context, id int64) (*entities.Round, error)
	GetOpenByAuthority(ctx context.Context, authority string) (*entities.Round, error)
	GetLatestByAuthority(ctx context.Context, authority string) (*entities.Round, error)
	// IncrementPot adds amount to the pot and one to the entry count of an open, non-full round
	IncrementPot(ctx context.Context, id int64, amount int64) error
	// Update writes status, close, settlement and void fields
	Update(ctx context.Context, round *entities.Round) error
	// GetDueForClose returns open rounds whose deadline passed or that are full
	GetDueForClose(ctx context.Context, now time.Time) ([]*entities.Round, error)
	GetByStatus(ctx context.Context, status entities.RoundStatus) ([]*entities.Round, error)
}

// EntryRepository defines the interface for entry data access
type EntryRepository interface {
	// Create inserts the entry and sets its ID and CreatedAt
	Create(ctx context.Context, entry *entities.Entry) error
	GetByID(ctx context.Context, id int64) (*entities.Entry, error)
	// GetByIDForUpdate locks the entry row, serializing claims on it
	GetByIDForUpdate(ctx context.Context, id int64) (*entities.Entry, error)
	// GetByRound returns a round's entries in insertion order
	GetByRound(ctx context.Context, roundID int64) ([]*entities.Entry, error)
	ExistsForIdentity(ctx context.Context, roundID int64, identityID string) (bool, error)
	SumStakes(ctx context.Context, roundID int64) (int64, error)
	// MarkClaimed flips claimed to true. Returns false if it was already true.
	MarkClaimed(ctx context.Context, id int64) (bool, error)
}

// ClaimRepository defines the interface for payout and refund claim records
type ClaimRepository interface {
	GetByEntryID(ctx context.Context, entryID int64) (*entities.Claim, error)
	// Create inserts the claim and sets its ID. Fails with ErrAlreadyClaimed if the entry has one.
	Create(ctx context.Context, claim *entities.Claim) error
	// Update writes status, lease, attempts, signature and confirmation time
	Update(ctx context.Context, claim *entities.Claim) error
	// GetResumable returns pending claims whose lease lapsed without being released
	GetResumable(ctx context.Context, now time.Time) ([]*entities.Claim, error)
}
