package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wealthwars/domain/entities"
	"wealthwars/domain/events"
	"wealthwars/domain/interfaces"

	log "github.com/sirupsen/logrus"
)

// DefaultClaimLease is how long one claim attempt may stay in flight
const DefaultClaimLease = 2 * time.Minute

// claimService implements interfaces.ClaimService.
// Claims are two-phase: a PENDING record is leased before the transfer and
// CONFIRMED, with the entry marked claimed, only after the sink succeeds.
type claimService struct {
	uowFactory interfaces.UnitOfWorkFactory
	sink       interfaces.TransferSink
	balances   interfaces.BalanceService
	clock      interfaces.Clock
	lease      time.Duration
	metrics    interfaces.MetricsRecorder
}

// NewClaimService creates a new claim service. balances may be nil.
func NewClaimService(
	uowFactory interfaces.UnitOfWorkFactory,
	sink interfaces.TransferSink,
	balances interfaces.BalanceService,
	clock interfaces.Clock,
	lease time.Duration,
	metrics interfaces.MetricsRecorder,
) interfaces.ClaimService {
	if lease <= 0 {
		lease = DefaultClaimLease
	}
	return &claimService{
		uowFactory: uowFactory,
		sink:       sink,
		balances:   balances,
		clock:      clockOrSystem(clock),
		lease:      lease,
		metrics:    metricsOrNoop(metrics),
	}
}

// ClaimPayout pays the winning entry of a settled round
func (s *claimService) ClaimPayout(ctx context.Context, entryID int64, callerAddress string) (*interfaces.ClaimResult, error) {
	return s.claim(ctx, entities.ClaimKindPayout, entryID, callerAddress)
}

// ClaimRefund returns the stake of an entry in a void round
func (s *claimService) ClaimRefund(ctx context.Context, entryID int64, callerAddress string) (*interfaces.ClaimResult, error) {
	return s.claim(ctx, entities.ClaimKindRefund, entryID, callerAddress)
}

func (s *claimService) claim(ctx context.Context, kind entities.ClaimKind, entryID int64, callerAddress string) (result *interfaces.ClaimResult, err error) {
	defer func() {
		s.metrics.RecordClaim(string(kind), outcomeOf(err))
	}()

	claim, err := s.reserve(ctx, kind, entryID, strings.TrimSpace(callerAddress))
	if err != nil {
		return nil, err
	}
	return s.drive(ctx, claim)
}

// reserve validates the claim and leases a PENDING record for this attempt
func (s *claimService) reserve(ctx context.Context, kind entities.ClaimKind, entryID int64, callerAddress string) (*entities.Claim, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, entities.Transient("begin transaction", err)
	}
	defer uow.Rollback()

	// the entry row lock serializes concurrent claims on the same entry
	entry, err := uow.EntryRepository().GetByIDForUpdate(ctx, entryID)
	if err != nil {
		return nil, entities.Transient("lock entry", err)
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %d", entities.ErrEntryNotFound, entryID)
	}

	round, err := uow.RoundRepository().GetByID(ctx, entry.RoundID)
	if err != nil {
		return nil, entities.Transient("load round", err)
	}
	if round == nil {
		return nil, fmt.Errorf("%w: %d", entities.ErrRoundNotFound, entry.RoundID)
	}

	amount, err := claimAmount(kind, round, entry)
	if err != nil {
		return nil, err
	}

	claims := uow.ClaimRepository()
	existing, err := claims.GetByEntryID(ctx, entry.ID)
	if err != nil {
		return nil, entities.Transient("load claim", err)
	}

	now := s.clock.Now()
	if entry.Claimed || (existing != nil && (existing.IsConfirmed() || existing.InFlight(now))) {
		return nil, fmt.Errorf("%w: entry %d", entities.ErrAlreadyClaimed, entry.ID)
	}

	if callerAddress != entry.WalletAddress {
		return nil, fmt.Errorf("%w: entry %d", entities.ErrWalletMismatch, entry.ID)
	}

	claim := existing
	if claim == nil {
		claim = &entities.Claim{
			EntryID:        entry.ID,
			RoundID:        round.ID,
			Kind:           kind,
			Amount:         amount,
			Destination:    entry.WalletAddress,
			IdempotencyKey: entities.IdempotencyKeyFor(kind, entry.ID),
			Status:         entities.ClaimStatusPending,
			CreatedAt:      now,
		}
		claim.Lease(now, s.lease)
		if err := claims.Create(ctx, claim); err != nil {
			return nil, entities.Transient("create claim", err)
		}
	} else {
		claim.Lease(now, s.lease)
		if err := claims.Update(ctx, claim); err != nil {
			return nil, entities.Transient("lease claim", err)
		}
	}

	if err := uow.Commit(); err != nil {
		return nil, entities.Transient("commit claim reservation", err)
	}
	return claim, nil
}

// claimAmount checks the round state allows the claim and returns what is owed
func claimAmount(kind entities.ClaimKind, round *entities.Round, entry *entities.Entry) (int64, error) {
	switch kind {
	case entities.ClaimKindPayout:
		if round.Status != entities.RoundStatusSettled || round.PayoutAmount == nil {
			return 0, fmt.Errorf("%w: round %d is %s", entities.ErrRoundNotSettled, round.ID, round.Status)
		}
		if !round.IsWinningEntry(entry.ID) {
			return 0, fmt.Errorf("%w: entry %d", entities.ErrNotWinner, entry.ID)
		}
		return *round.PayoutAmount, nil
	case entities.ClaimKindRefund:
		if round.Status != entities.RoundStatusVoid {
			return 0, fmt.Errorf("%w: round %d is %s", entities.ErrRefundUnavailable, round.ID, round.Status)
		}
		return entry.Stake, nil
	default:
		return 0, fmt.Errorf("unknown claim kind %q", kind)
	}
}

// drive performs the transfer for a leased claim and confirms it
func (s *claimService) drive(ctx context.Context, claim *entities.Claim) (*interfaces.ClaimResult, error) {
	fields := log.Fields{
		"entry_id":        claim.EntryID,
		"kind":            claim.Kind,
		"amount":          claim.Amount,
		"destination":     claim.Destination,
		"idempotency_key": claim.IdempotencyKey,
		"attempt":         claim.Attempts,
	}

	receipt, err := s.sink.Transfer(ctx, interfaces.TransferRequest{
		Destination:    claim.Destination,
		Amount:         claim.Amount,
		IdempotencyKey: claim.IdempotencyKey,
	})
	if err != nil {
		// the transfer may still land: hold the lease so no second transfer starts
		// before the sink can see the first one, then leave it to the resume sweep
		if errors.Is(err, interfaces.ErrTransferOutcomeUnknown) || ctx.Err() != nil {
			log.WithError(err).WithFields(fields).Warn("Claim transfer outcome unknown, holding lease")
			return nil, fmt.Errorf("%w: %w", entities.ErrTransferFailed, err)
		}
		log.WithError(err).WithFields(fields).Warn("Claim transfer failed")
		s.releaseLease(ctx, claim)
		return nil, fmt.Errorf("%w: %w", entities.ErrTransferFailed, err)
	}

	result, err := s.confirm(ctx, claim, receipt)
	if err != nil {
		// the claim stays PENDING; the resume sweep confirms it once the lease lapses
		log.WithError(err).WithFields(fields).Error("Transfer sent but claim confirmation failed")
		return nil, err
	}

	if s.balances != nil {
		s.balances.Invalidate(claim.Destination)
	}

	fields["tx_signature"] = receipt.TransactionID
	fields["reused"] = receipt.Reused
	log.WithFields(fields).Info("Claim confirmed")
	return result, nil
}

func (s *claimService) confirm(ctx context.Context, claim *entities.Claim, receipt *interfaces.TransferReceipt) (*interfaces.ClaimResult, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, entities.Transient("begin transaction", err)
	}
	defer uow.Rollback()

	entryRepo := uow.EntryRepository()
	entry, err := entryRepo.GetByIDForUpdate(ctx, claim.EntryID)
	if err != nil {
		return nil, entities.Transient("lock entry", err)
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %d", entities.ErrEntryNotFound, claim.EntryID)
	}

	marked, err := entryRepo.MarkClaimed(ctx, entry.ID)
	if err != nil {
		return nil, entities.Transient("mark entry claimed", err)
	}
	if !marked {
		return nil, fmt.Errorf("%w: entry %d", entities.ErrAlreadyClaimed, entry.ID)
	}
	entry.Claimed = true

	claim.Confirm(receipt.TransactionID, s.clock.Now())
	if err := uow.ClaimRepository().Update(ctx, claim); err != nil {
		return nil, entities.Transient("confirm claim", err)
	}

	var event events.Event
	if claim.Kind == entities.ClaimKindPayout {
		event = events.PayoutClaimedEvent{RoundID: claim.RoundID, EntryID: claim.EntryID, Destination: claim.Destination, Amount: claim.Amount, TxSignature: receipt.TransactionID}
	} else {
		event = events.RefundClaimedEvent{RoundID: claim.RoundID, EntryID: claim.EntryID, Destination: claim.Destination, Amount: claim.Amount, TxSignature: receipt.TransactionID}
	}
	if err := uow.EventBus().Publish(event); err != nil {
		log.WithError(err).Warn("Failed to queue claim event")
	}

	if err := uow.Commit(); err != nil {
		return nil, entities.Transient("commit claim confirmation", err)
	}

	return &interfaces.ClaimResult{Claim: claim, Entry: entry}, nil
}

// releaseLease lets the caller retry right away after a definite transfer failure.
// Released claims are left for the caller; the resume sweep skips them.
func (s *claimService) releaseLease(ctx context.Context, claim *entities.Claim) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		log.WithError(err).WithField("entry_id", claim.EntryID).Warn("Failed to release claim lease")
		return
	}
	defer uow.Rollback()

	claim.ReleaseLease()
	if err := uow.ClaimRepository().Update(ctx, claim); err != nil {
		log.WithError(err).WithField("entry_id", claim.EntryID).Warn("Failed to release claim lease")
		return
	}
	if err := uow.Commit(); err != nil {
		log.WithError(err).WithField("entry_id", claim.EntryID).Warn("Failed to release claim lease")
	}
}

// ResumeStaleClaims re-drives pending claims whose last attempt ended with an
// unknown outcome (crash, timeout, unconfirmed send) and whose lease has lapsed.
// The sink deduplicates by idempotency key so a transfer that already landed is not repeated.
func (s *claimService) ResumeStaleClaims(ctx context.Context) (int, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return 0, entities.Transient("begin transaction", err)
	}
	stale, err := uow.ClaimRepository().GetResumable(ctx, s.clock.Now())
	uow.Rollback()
	if err != nil {
		return 0, entities.Transient("load resumable claims", err)
	}

	resumed := 0
	for _, candidate := range stale {
		claim, err := s.releaseForResume(ctx, candidate.EntryID)
		if err != nil {
			log.WithError(err).WithField("entry_id", candidate.EntryID).Warn("Skipping stale claim")
			continue
		}
		if claim == nil {
			continue
		}
		if _, err := s.drive(ctx, claim); err != nil {
			log.WithError(err).WithField("entry_id", claim.EntryID).Warn("Stale claim retry failed")
			continue
		}
		s.metrics.RecordClaim(string(claim.Kind), "resumed")
		resumed++
	}

	if len(stale) > 0 {
		log.WithFields(log.Fields{
			"stale":   len(stale),
			"resumed": resumed,
		}).Info("Processed stale claims")
	}
	return resumed, nil
}

// releaseForResume re-leases a stale claim under the entry lock.
// Returns nil if another attempt got there first.
func (s *claimService) releaseForResume(ctx context.Context, entryID int64) (*entities.Claim, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, entities.Transient("begin transaction", err)
	}
	defer uow.Rollback()

	entry, err := uow.EntryRepository().GetByIDForUpdate(ctx, entryID)
	if err != nil {
		return nil, entities.Transient("lock entry", err)
	}
	if entry == nil || entry.Claimed {
		return nil, nil
	}

	claims := uow.ClaimRepository()
	claim, err := claims.GetByEntryID(ctx, entryID)
	if err != nil {
		return nil, entities.Transient("load claim", err)
	}
	now := s.clock.Now()
	if claim == nil || !claim.Abandoned(now) {
		return nil, nil
	}

	claim.Lease(now, s.lease)
	if err := claims.Update(ctx, claim); err != nil {
		return nil, entities.Transient("lease claim", err)
	}
	if err := uow.Commit(); err != nil {
		return nil, entities.Transient("commit claim lease", err)
	}
	return claim, nil
}
