package interfaces

import (
	"context"
	"errors"
	"time"

	"wealthwars/domain/events"
)

// UnitOfWork binds repositories to a single transaction.
// Events published through EventBus are delivered only after Commit.
type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	IdentityRepository() IdentityRepository
	LinkChallengeRepository() LinkChallengeRepository
	RoundRepository() RoundRepository
	EntryRepository() EntryRepository
	ClaimRepository() ClaimRepository
	EventBus() EventPublisher
}

// UnitOfWorkFactory creates a fresh unit of work per operation
type UnitOfWorkFactory interface {
	Create() UnitOfWork
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	Publish(event events.Event) error
}

// TransactionalEventPublisher holds events until the owning transaction ends
type TransactionalEventPublisher interface {
	EventPublisher
	Flush(ctx context.Context) error
	Discard()
}

// BalanceSource queries the external ledger for a wallet's raw balance
type BalanceSource interface {
	QueryBalance(ctx context.Context, address string) (uint64, error)
}

// TransferRequest describes a settlement transfer
type TransferRequest struct {
	Destination    string
	Amount         int64
	IdempotencyKey string
}

// TransferReceipt identifies a confirmed transfer
type TransferReceipt struct {
	TransactionID string
	// Reused is true when the key matched an earlier transfer and nothing new was sent
	Reused bool
}

// ErrTransferOutcomeUnknown marks a failure after the transfer may have been
// submitted. The funds may still move, so the attempt must not be repeated
// until the sink can tell whether it landed.
var ErrTransferOutcomeUnknown = errors.New("transfer outcome unknown")

// TransferSink moves funds out of the treasury.
// Calls repeated with the same idempotency key must not pay twice.
// Errors wrapping ErrTransferOutcomeUnknown leave the transfer possibly in flight;
// any other error means nothing was sent or the transfer definitely failed.
type TransferSink interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferReceipt, error)
}

// Clock abstracts the current time
type Clock interface {
	Now() time.Time
}

// RandomSource draws uniform integers in [0, n)
type RandomSource interface {
	Int63n(n int64) (int64, error)
}

// MetricsRecorder records domain metrics
type MetricsRecorder interface {
	RecordLinkAttempt(outcome string)
	RecordBalanceLookup(source string)
	RecordEntry(roundID int64, stake int64)
	RecordRoundTransition(status string)
	RecordClaim(kind, outcome string)
}
