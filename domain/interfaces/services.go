package interfaces

import (
	"context"
	"time"

	"wealthwars/domain/entities"
)

// StartLinkRequest starts a wallet link for an identity
type StartLinkRequest struct {
	IdentityID     string
	Username       string  // used if the identity has to be created on bind
	PlatformHandle *string // external platform user id, if any
	ClaimedAddress string  // optional; when set, FinishLink must use the same address
}

// WalletLinkService defines the challenge/response wallet linking protocol
type WalletLinkService interface {
	StartLink(ctx context.Context, req StartLinkRequest) (*entities.LinkChallenge, error)
	FinishLink(ctx context.Context, identityID, claimedAddress string, signature []byte) (string, error)
	// SweepExpired deletes challenges older than the expiry window
	SweepExpired(ctx context.Context) (int64, error)
}

// IdentityService defines identity lookups and first-contact creation
type IdentityService interface {
	Get(ctx context.Context, id string) (*entities.Identity, error)
	GetOrCreate(ctx context.Context, id, username string) (*entities.Identity, error)
	GetOrCreateByPlatformHandle(ctx context.Context, handle, username string) (*entities.Identity, error)
}

// BalanceService defines cached wallet balance lookups
type BalanceService interface {
	// GetBalance never fails on source errors; those come back with Source degraded
	GetBalance(ctx context.Context, address string) (*entities.Balance, error)
	Invalidate(address string)
}

// CreateRoundParams configures a new round
type CreateRoundParams struct {
	TicketPrice int64
	MaxEntries  int
	Duration    time.Duration
	FeeBps      int
	MinEntries  int // zero means entities.DefaultMinEntries
}

// RoundService defines the round lifecycle
type RoundService interface {
	CreateRound(ctx context.Context, credential string, params CreateRoundParams) (*entities.Round, error)
	CurrentRound(ctx context.Context) (*entities.Round, error)
	GetRound(ctx context.Context, roundID int64) (*entities.Round, error)
	ListEntries(ctx context.Context, roundID int64) ([]*entities.Entry, error)
	// JoinRound checks the identity's wallet and balance, then adds an entry
	JoinRound(ctx context.Context, roundID int64, identityID string, tickets int) (*entities.Entry, error)
	// AddEntry adds an entry without identity or balance checks
	AddEntry(ctx context.Context, roundID int64, req entities.EntryRequest) (*entities.Entry, error)
	Close(ctx context.Context, credential string, roundID int64, reason entities.CloseReason) (*entities.Round, error)
	// AutoClose closes a round whose deadline passed or that is full
	AutoClose(ctx context.Context, roundID int64) (*entities.Round, error)
	AdminVoid(ctx context.Context, credential string, roundID int64, reason string) (*entities.Round, error)
}

// SettlementResult is the outcome of settling a round
type SettlementResult struct {
	Round        *entities.Round
	WinningEntry *entities.Entry // nil when voided
	Payout       int64
	HouseFee     int64
	Voided       bool
}

// SettlementService defines winner selection for closed rounds
type SettlementService interface {
	Settle(ctx context.Context, credential string, roundID int64) (*SettlementResult, error)
	// SettleDue settles without a credential and voids closed rounds that have no entries
	SettleDue(ctx context.Context, roundID int64) (*SettlementResult, error)
}

// ClaimResult is the outcome of a confirmed claim
type ClaimResult struct {
	Claim *entities.Claim
	Entry *entities.Entry
}

// ClaimService defines idempotent payout and refund claims
type ClaimService interface {
	ClaimPayout(ctx context.Context, entryID int64, callerAddress string) (*ClaimResult, error)
	ClaimRefund(ctx context.Context, entryID int64, callerAddress string) (*ClaimResult, error)
	// ResumeStaleClaims re-drives pending claims whose lease expired
	ResumeStaleClaims(ctx context.Context) (int, error)
}
