package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/security"
)

type storeRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Store, error)
	UpdateWebhookSecret(ctx context.Context, id uuid.UUID, sealed *string) error
}

// Service exposes store operations.
type Service interface {
	GetByID(ctx context.Context, id uuid.UUID) (*StoreDTO, error)
	Load(ctx context.Context, id uuid.UUID) (*models.Store, error)
	MerchantWebhookSecret(ctx context.Context, storeID uuid.UUID) (string, error)
	SetWebhookSecret(ctx context.Context, storeID uuid.UUID, secret string) error
}

type service struct {
	repo   storeRepository
	cipher security.Encryptor
}

// NewService builds a store service with the provided repository and cipher.
func NewService(repo storeRepository, cipher security.Encryptor) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("store repository required")
	}
	if cipher == nil {
		return nil, fmt.Errorf("encryptor required")
	}
	return &service{repo: repo, cipher: cipher}, nil
}

func (s *service) Load(ctx context.Context, id uuid.UUID) (*models.Store, error) {
	store, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "store not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load store")
	}
	return store, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*StoreDTO, error) {
	store, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return FromModel(store), nil
}

// MerchantWebhookSecret returns the decrypted signing secret of a store's own
// gateway account. Unknown stores and stores without a secret yield "".
func (s *service) MerchantWebhookSecret(ctx context.Context, storeID uuid.UUID) (string, error) {
	store, err := s.repo.FindByID(ctx, storeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load store")
	}
	if store.WebhookSecret == nil || *store.WebhookSecret == "" {
		return "", nil
	}
	secret, err := s.cipher.Decrypt(*store.WebhookSecret)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decrypt webhook secret")
	}
	return secret, nil
}

// SetWebhookSecret seals and stores the secret. A blank secret clears it.
func (s *service) SetWebhookSecret(ctx context.Context, storeID uuid.UUID, secret string) error {
	if storeID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "store id required")
	}
	var sealed *string
	if trimmed := strings.TrimSpace(secret); trimmed != "" {
		if !strings.HasPrefix(trimmed, "whsec_") {
			return pkgerrors.New(pkgerrors.CodeValidation, "webhook secret must start with whsec_")
		}
		value, err := s.cipher.Encrypt(trimmed)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encrypt webhook secret")
		}
		sealed = &value
	}
	if err := s.repo.UpdateWebhookSecret(ctx, storeID, sealed); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "store not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update webhook secret")
	}
	return nil
}
