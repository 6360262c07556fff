package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wealthwars/domain/entities"
	"wealthwars/domain/interfaces"

	log "github.com/sirupsen/logrus"
)

// RoundWorkerConfig sets the tick interval and the per-operation deadline
type RoundWorkerConfig struct {
	Interval         time.Duration
	OperationTimeout time.Duration
}

// TickSummary counts what one pass of the worker did
type TickSummary struct {
	Closed  int
	Settled int
	Voided  int
	Resumed int
	Swept   int64
	Failed  int
}

// RoundWorker drives rounds through their deadlines: it closes due rounds,
// settles closed ones, resumes stale claims and sweeps expired link challenges.
type RoundWorker struct {
	uowFactory interfaces.UnitOfWorkFactory
	rounds     interfaces.RoundService
	settlement interfaces.SettlementService
	claims     interfaces.ClaimService
	links      interfaces.WalletLinkService
	clock      interfaces.Clock
	cfg        RoundWorkerConfig
}

// NewRoundWorker creates a new round worker
func NewRoundWorker(
	uowFactory interfaces.UnitOfWorkFactory,
	rounds interfaces.RoundService,
	settlement interfaces.SettlementService,
	claims interfaces.ClaimService,
	links interfaces.WalletLinkService,
	clock interfaces.Clock,
	cfg RoundWorkerConfig,
) *RoundWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 10 * time.Second
	}
	return &RoundWorker{
		uowFactory: uowFactory,
		rounds:     rounds,
		settlement: settlement,
		claims:     claims,
		links:      links,
		clock:      clock,
		cfg:        cfg,
	}
}

// Start runs the worker until ctx ends or the returned stop function is called
func (w *RoundWorker) Start(ctx context.Context) func() {
	stopChan := make(chan struct{})

	go func() {
		log.WithField("interval", w.cfg.Interval).Info("Round worker started")

		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()

		for {
			w.RunOnce(ctx)

			select {
			case <-ctx.Done():
				log.Info("Round worker shutting down (context cancelled)...")
				return
			case <-stopChan:
				log.Info("Round worker shutting down (stop requested)...")
				return
			case <-ticker.C:
			}
		}
	}()

	var stopOnce sync.Once
	return func() {
		stopOnce.Do(func() { close(stopChan) })
	}
}

// RunOnce performs a single pass. Failures are logged and counted, never returned.
func (w *RoundWorker) RunOnce(ctx context.Context) TickSummary {
	var summary TickSummary

	due, closed, err := w.loadWork(ctx)
	if err != nil {
		log.Errorf("Round worker failed to load rounds: %v", err)
		summary.Failed++
	}

	for _, round := range due {
		opCtx, cancel := context.WithTimeout(ctx, w.cfg.OperationTimeout)
		updated, err := w.rounds.AutoClose(opCtx, round.ID)
		cancel()
		if err != nil {
			if !isBenign(err) {
				log.WithField("round_id", round.ID).Errorf("Failed to auto-close round: %v", err)
				summary.Failed++
			}
			continue
		}
		summary.Closed++
		closed = append(closed, updated)
	}

	for _, round := range closed {
		opCtx, cancel := context.WithTimeout(ctx, w.cfg.OperationTimeout)
		result, err := w.settlement.SettleDue(opCtx, round.ID)
		cancel()
		if err != nil {
			if !isBenign(err) {
				log.WithField("round_id", round.ID).Errorf("Failed to settle round: %v", err)
				summary.Failed++
			}
			continue
		}
		if result.Voided {
			summary.Voided++
		} else {
			summary.Settled++
		}
	}

	resumed, err := w.claims.ResumeStaleClaims(ctx)
	summary.Resumed = resumed
	if err != nil {
		log.Errorf("Failed to resume stale claims: %v", err)
		summary.Failed++
	}

	if w.links != nil {
		swept, err := w.links.SweepExpired(ctx)
		summary.Swept = swept
		if err != nil {
			log.Errorf("Failed to sweep expired link challenges: %v", err)
			summary.Failed++
		}
	}

	if summary.Closed+summary.Settled+summary.Voided+summary.Resumed > 0 || summary.Failed > 0 {
		log.WithFields(log.Fields{
			"closed":  summary.Closed,
			"settled": summary.Settled,
			"voided":  summary.Voided,
			"resumed": summary.Resumed,
			"swept":   summary.Swept,
			"failed":  summary.Failed,
		}).Info("Round worker pass complete")
	}
	return summary
}

// loadWork reads due and closed rounds in one short read transaction
func (w *RoundWorker) loadWork(ctx context.Context) ([]*entities.Round, []*entities.Round, error) {
	uow := w.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	repo := uow.RoundRepository()
	due, err := repo.GetDueForClose(ctx, w.clock.Now())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get rounds due for close: %w", err)
	}
	closed, err := repo.GetByStatus(ctx, entities.RoundStatusClosed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get closed rounds: %w", err)
	}
	return due, closed, nil
}

// isBenign reports errors that only mean another actor got there first or the round is not ready
func isBenign(err error) bool {
	return errors.Is(err, entities.ErrRoundNotOpen) ||
		errors.Is(err, entities.ErrRoundStillRunning) ||
		errors.Is(err, entities.ErrRoundNotClosed) ||
		errors.Is(err, entities.ErrAlreadySettled)
}
