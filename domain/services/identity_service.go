package services

import (
	"context"
	"strings"

	"wealthwars/domain/entities"
	"wealthwars/domain/interfaces"

	log "github.com/sirupsen/logrus"
)

// identityService implements interfaces.IdentityService
type identityService struct {
	uowFactory interfaces.UnitOfWorkFactory
	clock      interfaces.Clock
}

// NewIdentityService creates a new identity service
func NewIdentityService(uowFactory interfaces.UnitOfWorkFactory, clock interfaces.Clock) interfaces.IdentityService {
	return &identityService{
		uowFactory: uowFactory,
		clock:      clockOrSystem(clock),
	}
}

// Get returns an identity or ErrIdentityNotFound
func (s *identityService) Get(ctx context.Context, id string) (*entities.Identity, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, entities.Transient("begin transaction", err)
	}
	defer uow.Rollback()

	identity, err := uow.IdentityRepository().GetByID(ctx, id)
	if err != nil {
		return nil, entities.Transient("load identity", err)
	}
	if identity == nil {
		return nil, entities.ErrIdentityNotFound
	}
	return identity, nil
}

// GetOrCreate returns the identity, creating it on first contact
func (s *identityService) GetOrCreate(ctx context.Context, id, username string) (*entities.Identity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, entities.ErrIdentityRequired
	}
	return s.getOrCreate(ctx, id, username, nil)
}

// GetOrCreateByPlatformHandle resolves an external platform user to an identity
func (s *identityService) GetOrCreateByPlatformHandle(ctx context.Context, handle, username string) (*entities.Identity, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, entities.ErrIdentityRequired
	}
	return s.getOrCreate(ctx, entities.TelegramHandlePrefix+handle, username, &handle)
}

func (s *identityService) getOrCreate(ctx context.Context, id, username string, handle *string) (*entities.Identity, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, entities.Transient("begin transaction", err)
	}
	defer uow.Rollback()

	repo := uow.IdentityRepository()

	var (
		identity *entities.Identity
		err      error
	)
	if handle != nil {
		identity, err = repo.GetByPlatformHandle(ctx, *handle)
	} else {
		identity, err = repo.GetByID(ctx, id)
	}
	if err != nil {
		return nil, entities.Transient("load identity", err)
	}
	if identity != nil {
		return identity, nil
	}

	if username == "" {
		username = id
	}
	now := s.clock.Now()
	identity, err = repo.Create(ctx, &entities.Identity{
		ID:             id,
		Username:       username,
		PlatformHandle: handle,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, entities.Transient("create identity", err)
	}

	if err := uow.Commit(); err != nil {
		return nil, entities.Transient("commit identity", err)
	}

	log.WithFields(log.Fields{
		"identity_id": identity.ID,
		"username":    identity.Username,
	}).Info("Created identity")

	return identity, nil
}
