package services

import (
	"context"
	"fmt"

	"wealthwars/domain/entities"
	"wealthwars/domain/events"
	"wealthwars/domain/interfaces"

	log "github.com/sirupsen/logrus"
)

// RoundConfig holds deployment rules for rounds
type RoundConfig struct {
	AllowMultipleEntries bool
	RequireBalance       bool // JoinRound refuses stakes the wallet cannot cover
	MaxTicketsPerEntry   int  // zero means unlimited
}

// roundService implements interfaces.RoundService
type roundService struct {
	uowFactory interfaces.UnitOfWorkFactory
	balances   interfaces.BalanceService
	authority  Authority
	clock      interfaces.Clock
	cfg        RoundConfig
	metrics    interfaces.MetricsRecorder
}

// NewRoundService creates a new round lifecycle service
func NewRoundService(
	uowFactory interfaces.UnitOfWorkFactory,
	balances interfaces.BalanceService,
	authority Authority,
	clock interfaces.Clock,
	cfg RoundConfig,
	metrics interfaces.MetricsRecorder,
) interfaces.RoundService {
	return &roundService{
		uowFactory: uowFactory,
		balances:   balances,
		authority:  authority,
		clock:      clockOrSystem(clock),
		cfg:        cfg,
		metrics:    metricsOrNoop(metrics),
	}
}

// CreateRound opens a new round for the authority
func (s *roundService) CreateRound(ctx context.Context, credential string, params interfaces.CreateRoundParams) (*entities.Round, error) {
	if err := s.authority.Authorize(credential); err != nil {
		return nil, err
	}
	if err := validateRoundParams(&params); err != nil {
		return nil, err
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, entities.Transient("begin transaction", err)
	}
	defer uow.Rollback()

	rounds := uow.RoundRepository()
	open, err := rounds.GetOpenByAuthority(ctx, s.authority.Name)
	if err != nil {
		return nil, entities.Transient("check open round", err)
	}
	if open != nil {
		return nil, fmt.Errorf("%w: round %d", entities.ErrRoundAlreadyOpen, open.ID)
	}

	now := s.clock.Now()
	round := &entities.Round{
		Authority:   s.authority.Name,
		Status:      entities.RoundStatusOpen,
		TicketPrice: params.TicketPrice,
		MaxEntries:  params.MaxEntries,
		MinEntries:  params.MinEntries,
		FeeBps:      params.FeeBps,
		CreatedAt:   now,
		EndsAt:      now.Add(params.Duration),
	}
	if err := rounds.Create(ctx, round); err != nil {
		return nil, entities.Transient("create round", err)
	}

	if err := uow.EventBus().Publish(events.RoundCreatedEvent{
		RoundID:     round.ID,
		Authority:   round.Authority,
		TicketPrice: round.TicketPrice,
		MaxEntries:  round.MaxEntries,
		FeeBps:      round.FeeBps,
		EndsAtUnix:  round.EndsAt.Unix(),
	}); err != nil {
		log.WithError(err).Warn("Failed to queue round created event")
	}

	if err := uow.Commit(); err != nil {
		return nil, entities.Transient("commit round", err)
	}

	s.metrics.RecordRoundTransition(string(entities.RoundStatusOpen))
	log.WithFields(log.Fields{
		"round_id":     round.ID,
		"ticket_price": round.TicketPrice,
		"max_entries":  round.MaxEntries,
		"fee_bps":      round.FeeBps,
		"ends_at":      round.EndsAt,
	}).Info("Round created")

	return round, nil
}

func validateRoundParams(params *interfaces.CreateRoundParams) error {
	if params.TicketPrice <= 0 {
		return fmt.Errorf("%w: got %d", entities.ErrInvalidTicketPrice, params.TicketPrice)
	}
	if params.MaxEntries <= 0 {
		return fmt.Errorf("%w: got %d", entities.ErrInvalidMaxEntries, params.MaxEntries)
	}
	if params.Duration <= 0 {
		return fmt.Errorf("%w: got %s", entities.ErrInvalidDuration, params.Duration)
	}
	if params.FeeBps < 0 || params.FeeBps >= entities.BasisPointsDivisor {
		return fmt.Errorf("%w: got %d", entities.ErrInvalidFee, params.FeeBps)
	}
	if params.MinEntries <= 0 {
		params.MinEntries = entities.DefaultMinEntries
	}
	return nil
}

// CurrentRound returns the authority's open round, or its most recent one
func (s *roundService) CurrentRound(ctx context.Context) (*entities.Round, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, entities.Transient("begin transaction", err)
	}
	defer uow.Rollback()

	rounds := uow.RoundRepository()
	round, err := rounds.GetOpenByAuthority(ctx, s.authority.Name)
	if err != nil {
		return nil, entities.Transient("load open round", err)
	}
	if round == nil {
		round, err = rounds.GetLatestByAuthority(ctx, s.authority.Name)
		if err != nil {
			return nil, entities.Transient("load latest round", err)
		}
	}
	if round == nil {
		return nil, entities.ErrRoundNotFound
	}
	return round, nil
}

// GetRound returns a round by ID
func (s *roundService) GetRound(ctx context.Context, roundID int64) (*entities.Round, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, entities.Transient("begin transaction", err)
	}
	defer uow.Rollback()

	round, err := uow.RoundRepository().GetByID(ctx, roundID)
	if err != nil {
		return nil, entities.Transient("load round", err)
	}
	if round == nil {
		return nil, fmt.Errorf("%w: %d", entities.ErrRoundNotFound, roundID)
	}
	return round, nil
}

// ListEntries returns a round's entries in the order they joined
func (s *roundService) ListEntries(ctx context.Context, roundID int64) ([]*entities.Entry, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, entities.Transient("begin transaction", err)
	}
	defer uow.Rollback()

	round, err := uow.RoundRepository().GetByID(ctx, roundID)
	if err != nil {
		return nil, entities.Transient("load round", err)
	}
	if round == nil {
		return nil, fmt.Errorf("%w: %d", entities.ErrRoundNotFound, roundID)
	}

	entries, err := uow.EntryRepository().GetByRound(ctx, roundID)
	if err != nil {
		return nil, entities.Transient("load entries", err)
	}
	return entries, nil
}

// JoinRound enters a linked identity into a round after checking its balance.
// The balance lookup runs before the round lock is taken.
func (s *roundService) JoinRound(ctx context.Context, roundID int64, identityID string, tickets int) (*entities.Entry, error) {
	if tickets < 1 || (s.cfg.MaxTicketsPerEntry > 0 && tickets > s.cfg.MaxTicketsPerEntry) {
		return nil, fmt.Errorf("%w: got %d", entities.ErrInvalidTicketCount, tickets)
	}

	identity, round, err := s.loadJoinContext(ctx, roundID, identityID)
	if err != nil {
		return nil, err
	}
	if !identity.HasWallet() {
		return nil, fmt.Errorf("%w: %s", entities.ErrWalletNotLinked, identityID)
	}

	stake := StakeFor(round, tickets)
	if stake/int64(tickets) != round.TicketPrice {
		return nil, fmt.Errorf("%w: %d tickets overflow the stake", entities.ErrInvalidTicketCount, tickets)
	}

	if s.cfg.RequireBalance && s.balances != nil {
		balance, err := s.balances.GetBalance(ctx, identity.Wallet())
		if err != nil {
			return nil, err
		}
		if balance.Degraded() {
			return nil, fmt.Errorf("%w: wallet %s", entities.ErrBalanceUnavailable, identity.Wallet())
		}
		if balance.Amount < uint64(stake) {
			return nil, fmt.Errorf("%w: balance %d, stake %d", entities.ErrInsufficientBalance, balance.Amount, stake)
		}
	}

	return s.AddEntry(ctx, roundID, entities.EntryRequest{
		IdentityID:    identity.ID,
		WalletAddress: identity.Wallet(),
		Stake:         stake,
		Tickets:       tickets,
	})
}

func (s *roundService) loadJoinContext(ctx context.Context, roundID int64, identityID string) (*entities.Identity, *entities.Round, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, nil, entities.Transient("begin transaction", err)
	}
	defer uow.Rollback()

	identity, err := uow.IdentityRepository().GetByID(ctx, identityID)
	if err != nil {
		return nil, nil, entities.Transient("load identity", err)
	}
	if identity == nil {
		return nil, nil, fmt.Errorf("%w: %s", entities.ErrIdentityNotFound, identityID)
	}

	round, err := uow.RoundRepository().GetByID(ctx, roundID)
	if err != nil {
		return nil, nil, entities.Transient("load round", err)
	}
	if round == nil {
		return nil, nil, fmt.Errorf("%w: %d", entities.ErrRoundNotFound, roundID)
	}
	return identity, round, nil
}

// AddEntry records an entry under the round lock and closes the round when the last slot fills
func (s *roundService) AddEntry(ctx context.Context, roundID int64, req entities.EntryRequest) (*entities.Entry, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, entities.Transient("begin transaction", err)
	}
	defer uow.Rollback()

	rounds := uow.RoundRepository()
	round, err := rounds.GetByIDForUpdate(ctx, roundID)
	if err != nil {
		return nil, entities.Transient("lock round", err)
	}
	if round == nil {
		return nil, fmt.Errorf("%w: %d", entities.ErrRoundNotFound, roundID)
	}

	ledger := NewEntryLedger(rounds, uow.EntryRepository(), s.clock, s.cfg.AllowMultipleEntries)
	entry, err := ledger.AddEntry(ctx, round, req)
	if err != nil {
		return nil, err
	}

	bus := uow.EventBus()
	if err := bus.Publish(events.EntryAddedEvent{
		RoundID:    round.ID,
		EntryID:    entry.ID,
		IdentityID: entry.IdentityID,
		Stake:      entry.Stake,
		Tickets:    entry.Tickets,
		PotTotal:   round.PotTotal,
		EntryCount: round.EntryCount,
	}); err != nil {
		log.WithError(err).Warn("Failed to queue entry added event")
	}

	if round.IsFull() {
		if err := s.closeLocked(ctx, rounds, bus, round, entities.CloseReasonFull); err != nil {
			return nil, err
		}
	}

	if err := uow.Commit(); err != nil {
		return nil, entities.Transient("commit entry", err)
	}

	s.metrics.RecordEntry(round.ID, entry.Stake)
	if round.Status == entities.RoundStatusClosed {
		s.metrics.RecordRoundTransition(string(entities.RoundStatusClosed))
	}
	log.WithFields(log.Fields{
		"round_id":    round.ID,
		"entry_id":    entry.ID,
		"identity_id": entry.IdentityID,
		"stake":       entry.Stake,
		"tickets":     entry.Tickets,
		"pot_total":   round.PotTotal,
		"entry_count": round.EntryCount,
	}).Info("Entry added")

	return entry, nil
}

// Close closes an open round on behalf of the authority
func (s *roundService) Close(ctx context.Context, credential string, roundID int64, reason entities.CloseReason) (*entities.Round, error) {
	if err := s.authority.Authorize(credential); err != nil {
		return nil, err
	}
	if !reason.Valid() {
		return nil, fmt.Errorf("%w: %q", entities.ErrInvalidCloseReason, reason)
	}
	return s.close(ctx, roundID, func(round *entities.Round) (entities.CloseReason, error) {
		now := s.clock.Now()
		switch reason {
		case entities.CloseReasonExpired:
			if !round.DeadlinePassed(now) {
				return "", fmt.Errorf("%w: ends at %s", entities.ErrRoundStillRunning, round.EndsAt)
			}
		case entities.CloseReasonFull:
			if !round.IsFull() {
				return "", fmt.Errorf("%w: %d of %d entries", entities.ErrRoundNotFull, round.EntryCount, round.MaxEntries)
			}
		}
		return reason, nil
	})
}

// AutoClose closes a round whose deadline passed or that filled up
func (s *roundService) AutoClose(ctx context.Context, roundID int64) (*entities.Round, error) {
	return s.close(ctx, roundID, func(round *entities.Round) (entities.CloseReason, error) {
		switch {
		case round.IsFull():
			return entities.CloseReasonFull, nil
		case round.DeadlinePassed(s.clock.Now()):
			return entities.CloseReasonExpired, nil
		default:
			return "", fmt.Errorf("%w: ends at %s", entities.ErrRoundStillRunning, round.EndsAt)
		}
	})
}

func (s *roundService) close(ctx context.Context, roundID int64, decide func(*entities.Round) (entities.CloseReason, error)) (*entities.Round, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, entities.Transient("begin transaction", err)
	}
	defer uow.Rollback()

	rounds := uow.RoundRepository()
	round, err := rounds.GetByIDForUpdate(ctx, roundID)
	if err != nil {
		return nil, entities.Transient("lock round", err)
	}
	if round == nil {
		return nil, fmt.Errorf("%w: %d", entities.ErrRoundNotFound, roundID)
	}
	if !round.IsOpen() {
		return nil, fmt.Errorf("%w: round %d is %s", entities.ErrRoundNotOpen, round.ID, round.Status)
	}

	reason, err := decide(round)
	if err != nil {
		return nil, err
	}

	if err := s.closeLocked(ctx, rounds, uow.EventBus(), round, reason); err != nil {
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, entities.Transient("commit round close", err)
	}
	s.metrics.RecordRoundTransition(string(entities.RoundStatusClosed))
	return round, nil
}

// closeLocked transitions a locked open round to CLOSED
func (s *roundService) closeLocked(ctx context.Context, rounds interfaces.RoundRepository, bus interfaces.EventPublisher, round *entities.Round, reason entities.CloseReason) error {
	round.Close(reason, s.clock.Now())
	if err := rounds.Update(ctx, round); err != nil {
		return entities.Transient("close round", err)
	}

	if err := bus.Publish(events.RoundClosedEvent{
		RoundID:    round.ID,
		Reason:     string(reason),
		PotTotal:   round.PotTotal,
		EntryCount: round.EntryCount,
	}); err != nil {
		log.WithError(err).Warn("Failed to queue round closed event")
	}

	log.WithFields(log.Fields{
		"round_id":    round.ID,
		"reason":      reason,
		"pot_total":   round.PotTotal,
		"entry_count": round.EntryCount,
	}).Info("Round closed")
	return nil
}

// AdminVoid cancels an open or closed round; every entry becomes refundable
func (s *roundService) AdminVoid(ctx context.Context, credential string, roundID int64, reason string) (*entities.Round, error) {
	if err := s.authority.Authorize(credential); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "voided by authority"
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, entities.Transient("begin transaction", err)
	}
	defer uow.Rollback()

	rounds := uow.RoundRepository()
	round, err := rounds.GetByIDForUpdate(ctx, roundID)
	if err != nil {
		return nil, entities.Transient("lock round", err)
	}
	if round == nil {
		return nil, fmt.Errorf("%w: %d", entities.ErrRoundNotFound, roundID)
	}
	if round.IsTerminal() {
		return nil, fmt.Errorf("%w: round %d is %s", entities.ErrAlreadySettled, round.ID, round.Status)
	}

	if err := voidLocked(ctx, rounds, uow.EventBus(), round, reason, s.clock); err != nil {
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, entities.Transient("commit round void", err)
	}
	s.metrics.RecordRoundTransition(string(entities.RoundStatusVoid))
	return round, nil
}

// voidLocked transitions a locked, non-terminal round to VOID
func voidLocked(ctx context.Context, rounds interfaces.RoundRepository, bus interfaces.EventPublisher, round *entities.Round, reason string, clock interfaces.Clock) error {
	round.Void(reason, clock.Now())
	if err := rounds.Update(ctx, round); err != nil {
		return entities.Transient("void round", err)
	}

	if err := bus.Publish(events.RoundVoidedEvent{
		RoundID:    round.ID,
		Reason:     reason,
		EntryCount: round.EntryCount,
	}); err != nil {
		log.WithError(err).Warn("Failed to queue round voided event")
	}

	log.WithFields(log.Fields{
		"round_id":    round.ID,
		"reason":      reason,
		"entry_count": round.EntryCount,
	}).Info("Round voided")
	return nil
}
