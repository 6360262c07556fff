package services

import (
	"context"
	"fmt"
	"time"

	"wealthwars/domain/entities"
	"wealthwars/domain/events"
	"wealthwars/domain/interfaces"

	log "github.com/sirupsen/logrus"
)

// settlementService implements interfaces.SettlementService
type settlementService struct {
	uowFactory interfaces.UnitOfWorkFactory
	authority  Authority
	clock      interfaces.Clock
	rng        interfaces.RandomSource
	metrics    interfaces.MetricsRecorder
}

// NewSettlementService creates a new settlement service
func NewSettlementService(
	uowFactory interfaces.UnitOfWorkFactory,
	authority Authority,
	clock interfaces.Clock,
	rng interfaces.RandomSource,
	metrics interfaces.MetricsRecorder,
) interfaces.SettlementService {
	if rng == nil {
		rng = CryptoRandom{}
	}
	return &settlementService{
		uowFactory: uowFactory,
		authority:  authority,
		clock:      clockOrSystem(clock),
		rng:        rng,
		metrics:    metricsOrNoop(metrics),
	}
}

// Settle draws the winner of a closed round on behalf of the authority
func (s *settlementService) Settle(ctx context.Context, credential string, roundID int64) (*interfaces.SettlementResult, error) {
	if err := s.authority.Authorize(credential); err != nil {
		return nil, err
	}
	return s.settle(ctx, roundID, false)
}

// SettleDue settles a closed round for the worker, voiding it if nobody entered
func (s *settlementService) SettleDue(ctx context.Context, roundID int64) (*interfaces.SettlementResult, error) {
	return s.settle(ctx, roundID, true)
}

func (s *settlementService) settle(ctx context.Context, roundID int64, voidEmpty bool) (*interfaces.SettlementResult, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, entities.Transient("begin transaction", err)
	}
	defer uow.Rollback()

	rounds := uow.RoundRepository()
	entryRepo := uow.EntryRepository()

	// the row lock excludes concurrent entries and a second settlement
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

	now := s.clock.Now()
	if err := checkSettleable(round, now); err != nil {
		return nil, err
	}

	entries, err := entryRepo.GetByRound(ctx, round.ID)
	if err != nil {
		return nil, entities.Transient("load entries", err)
	}

	if len(entries) == 0 {
		if !voidEmpty {
			return nil, fmt.Errorf("%w: round %d", entities.ErrNoEntries, round.ID)
		}
		return s.void(ctx, uow, round, "no entries")
	}

	if err := NewEntryLedger(rounds, entryRepo, s.clock, true).VerifyPot(ctx, round); err != nil {
		log.WithError(err).WithField("round_id", round.ID).Error("Refusing to settle round")
		return nil, err
	}

	minEntries := round.MinEntries
	if minEntries <= 0 {
		minEntries = entities.DefaultMinEntries
	}
	if len(entries) < minEntries {
		return s.void(ctx, uow, round, fmt.Sprintf("below minimum of %d entries", minEntries))
	}

	winner, err := SelectWinner(entries, s.rng)
	if err != nil {
		return nil, fmt.Errorf("failed to select winner for round %d: %w", round.ID, err)
	}

	payout, houseFee := entities.SplitPot(round.PotTotal, round.FeeBps)
	round.Settle(winner, payout, houseFee, now)

	if err := rounds.Update(ctx, round); err != nil {
		return nil, entities.Transient("record settlement", err)
	}

	if err := uow.EventBus().Publish(events.RoundSettledEvent{
		RoundID:          round.ID,
		WinningEntryID:   winner.ID,
		WinnerIdentityID: winner.IdentityID,
		PotTotal:         round.PotTotal,
		Payout:           payout,
		HouseFee:         houseFee,
	}); err != nil {
		log.WithError(err).Warn("Failed to queue round settled event")
	}

	if err := uow.Commit(); err != nil {
		return nil, entities.Transient("commit settlement", err)
	}

	s.metrics.RecordRoundTransition(string(entities.RoundStatusSettled))
	log.WithFields(log.Fields{
		"round_id":         round.ID,
		"winning_entry_id": winner.ID,
		"winner":           winner.IdentityID,
		"total_tickets":    entities.TotalTickets(entries),
		"pot_total":        round.PotTotal,
		"payout":           payout,
		"house_fee":        houseFee,
	}).Info("Round settled")

	return &interfaces.SettlementResult{
		Round:        round,
		WinningEntry: winner,
		Payout:       payout,
		HouseFee:     houseFee,
	}, nil
}

// checkSettleable requires a genuinely closed round
func checkSettleable(round *entities.Round, now time.Time) error {
	if round.Status != entities.RoundStatusClosed || round.ClosedAt == nil {
		return fmt.Errorf("%w: round %d is %s", entities.ErrRoundNotClosed, round.ID, round.Status)
	}
	if now.Before(*round.ClosedAt) {
		return fmt.Errorf("%w: round %d closes at %s", entities.ErrRoundNotClosed, round.ID, round.ClosedAt)
	}
	if round.CloseReason != nil && *round.CloseReason == entities.CloseReasonExpired && !round.DeadlinePassed(now) {
		return fmt.Errorf("%w: round %d deadline %s not reached", entities.ErrRoundNotClosed, round.ID, round.EndsAt)
	}
	return nil
}

func (s *settlementService) void(ctx context.Context, uow interfaces.UnitOfWork, round *entities.Round, reason string) (*interfaces.SettlementResult, error) {
	if err := voidLocked(ctx, uow.RoundRepository(), uow.EventBus(), round, reason, s.clock); err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, entities.Transient("commit round void", err)
	}
	s.metrics.RecordRoundTransition(string(entities.RoundStatusVoid))
	return &interfaces.SettlementResult{Round: round, Voided: true}, nil
}

