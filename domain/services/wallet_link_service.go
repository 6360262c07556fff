package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wealthwars/domain/entities"
	"wealthwars/domain/events"
	"wealthwars/domain/interfaces"
	"wealthwars/domain/utils"

	log "github.com/sirupsen/logrus"
)

// DefaultChallengeWindow is how long a link challenge stays valid
const DefaultChallengeWindow = 10 * time.Minute

// walletLinkService implements interfaces.WalletLinkService
type walletLinkService struct {
	uowFactory interfaces.UnitOfWorkFactory
	clock      interfaces.Clock
	window     time.Duration
	metrics    interfaces.MetricsRecorder
}

// NewWalletLinkService creates a new wallet link service
func NewWalletLinkService(uowFactory interfaces.UnitOfWorkFactory, clock interfaces.Clock, window time.Duration, metrics interfaces.MetricsRecorder) interfaces.WalletLinkService {
	if window <= 0 {
		window = DefaultChallengeWindow
	}
	return &walletLinkService{
		uowFactory: uowFactory,
		clock:      clockOrSystem(clock),
		window:     window,
		metrics:    metricsOrNoop(metrics),
	}
}

// StartLink issues a fresh challenge, replacing any pending one for the identity
func (s *walletLinkService) StartLink(ctx context.Context, req interfaces.StartLinkRequest) (*entities.LinkChallenge, error) {
	identityID := strings.TrimSpace(req.IdentityID)
	if identityID == "" {
		return nil, entities.ErrIdentityRequired
	}

	var claimed *string
	if req.ClaimedAddress != "" {
		if _, err := utils.ParseWalletAddress(req.ClaimedAddress); err != nil {
			return nil, err
		}
		address := strings.TrimSpace(req.ClaimedAddress)
		claimed = &address
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, entities.Transient("begin transaction", err)
	}
	defer uow.Rollback()

	challenges := uow.LinkChallengeRepository()
	previous, err := challenges.GetForUpdate(ctx, identityID)
	if err != nil {
		return nil, entities.Transient("load pending challenge", err)
	}

	code, err := entities.GenerateChallengeCode()
	if err != nil {
		return nil, err
	}
	// a restarted link must never hand out the message it just invalidated
	for previous != nil && code == previous.Code {
		if code, err = entities.GenerateChallengeCode(); err != nil {
			return nil, err
		}
	}

	username := req.Username
	if username == "" {
		username = identityID
	}

	challenge := &entities.LinkChallenge{
		IdentityID:     identityID,
		Code:           code,
		Message:        entities.ChallengeMessage(code, identityID),
		ClaimedAddress: claimed,
		PlatformHandle: req.PlatformHandle,
		Username:       username,
		CreatedAt:      s.clock.Now(),
	}

	if err := challenges.Upsert(ctx, challenge); err != nil {
		return nil, entities.Transient("store link challenge", err)
	}

	if err := uow.Commit(); err != nil {
		return nil, entities.Transient("commit link challenge", err)
	}

	log.WithFields(log.Fields{
		"identity_id": identityID,
		"replaced":    previous != nil,
		"expires_at":  challenge.ExpiresAt(s.window),
	}).Info("Issued wallet link challenge")

	return challenge, nil
}

// FinishLink verifies the signed challenge and binds the wallet.
// Only expiry discards the challenge; other failures leave it for a retry.
func (s *walletLinkService) FinishLink(ctx context.Context, identityID, claimedAddress string, signature []byte) (address string, err error) {
	defer func() {
		s.metrics.RecordLinkAttempt(outcomeOf(err))
	}()

	identityID = strings.TrimSpace(identityID)
	claimedAddress = strings.TrimSpace(claimedAddress)
	if identityID == "" {
		return "", entities.ErrIdentityRequired
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return "", entities.Transient("begin transaction", err)
	}
	defer uow.Rollback()

	challenges := uow.LinkChallengeRepository()
	challenge, err := challenges.GetForUpdate(ctx, identityID)
	if err != nil {
		return "", entities.Transient("load pending challenge", err)
	}
	if challenge == nil {
		return "", entities.ErrNoPendingChallenge
	}

	now := s.clock.Now()
	if challenge.IsExpired(now, s.window) {
		if err := challenges.Delete(ctx, identityID); err != nil {
			return "", entities.Transient("discard expired challenge", err)
		}
		if err := uow.Commit(); err != nil {
			return "", entities.Transient("commit expired challenge removal", err)
		}
		log.WithFields(log.Fields{
			"identity_id": identityID,
			"created_at":  challenge.CreatedAt,
		}).Info("Discarded expired wallet link challenge")
		return "", fmt.Errorf("%w: issued at %s", entities.ErrChallengeExpired, challenge.CreatedAt.Format(time.RFC3339))
	}

	pubkey, err := utils.ParseWalletAddress(claimedAddress)
	if err != nil {
		return "", err
	}
	if challenge.ClaimedAddress != nil && *challenge.ClaimedAddress != claimedAddress {
		return "", fmt.Errorf("%w: challenge was issued for a different wallet", entities.ErrInvalidAddress)
	}

	if !utils.VerifyMessageSignature(pubkey, challenge.Message, signature) {
		log.WithFields(log.Fields{
			"identity_id": identityID,
			"wallet":      claimedAddress,
		}).Warn("Wallet link signature rejected")
		return "", entities.ErrSignatureInvalid
	}

	if err := s.bindWallet(ctx, uow, challenge, claimedAddress); err != nil {
		return "", err
	}

	if err := challenges.Delete(ctx, identityID); err != nil {
		return "", entities.Transient("consume link challenge", err)
	}

	if err := uow.EventBus().Publish(events.WalletLinkedEvent{
		IdentityID:    identityID,
		WalletAddress: claimedAddress,
	}); err != nil {
		log.WithError(err).Warn("Failed to queue wallet linked event")
	}

	if err := uow.Commit(); err != nil {
		return "", entities.Transient("commit wallet link", err)
	}

	log.WithFields(log.Fields{
		"identity_id": identityID,
		"wallet":      claimedAddress,
	}).Info("Wallet linked")

	return claimedAddress, nil
}

// bindWallet upserts the identity and attaches the verified address
func (s *walletLinkService) bindWallet(ctx context.Context, uow interfaces.UnitOfWork, challenge *entities.LinkChallenge, address string) error {
	identities := uow.IdentityRepository()

	identity, err := identities.GetByID(ctx, challenge.IdentityID)
	if err != nil {
		return entities.Transient("load identity", err)
	}
	if identity == nil {
		now := s.clock.Now()
		identity, err = identities.Create(ctx, &entities.Identity{
			ID:             challenge.IdentityID,
			Username:       challenge.Username,
			PlatformHandle: challenge.PlatformHandle,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if err != nil {
			return entities.Transient("create identity", err)
		}
	}

	owner, err := identities.GetByWallet(ctx, address)
	if err != nil {
		return entities.Transient("look up wallet owner", err)
	}
	if owner != nil && owner.ID != identity.ID {
		return fmt.Errorf("%w: held by %s", entities.ErrWalletAlreadyLinked, owner.ID)
	}

	if err := identities.BindWallet(ctx, identity.ID, address); err != nil {
		return entities.Transient("bind wallet", err)
	}
	return nil
}

// SweepExpired deletes challenges that can no longer be finished
func (s *walletLinkService) SweepExpired(ctx context.Context) (int64, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return 0, entities.Transient("begin transaction", err)
	}
	defer uow.Rollback()

	removed, err := uow.LinkChallengeRepository().DeleteCreatedBefore(ctx, s.clock.Now().Add(-s.window))
	if err != nil {
		return 0, entities.Transient("sweep expired challenges", err)
	}

	if err := uow.Commit(); err != nil {
		return 0, entities.Transient("commit challenge sweep", err)
	}

	if removed > 0 {
		log.WithField("removed", removed).Info("Swept expired wallet link challenges")
	}
	return removed, nil
}
