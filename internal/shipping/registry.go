// Package shipping owns per-merchant carrier configuration: which providers
// are enabled, their sealed credentials, the default and its rate strategy.
package shipping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/carriers"
	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/security"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type RegistryParams struct {
	Repo     *Repository
	TxRunner txRunner
	Cipher   security.Encryptor
	Factory  AdapterFactory
	Cache    TokenCache
	Logger   *logger.Logger
	Clock    func() time.Time
}

type Registry struct {
	repo    *Repository
	tx      txRunner
	cipher  security.Encryptor
	factory AdapterFactory
	cache   TokenCache
	logg    *logger.Logger
	now     func() time.Time
}

func NewRegistry(params RegistryParams) (*Registry, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("shipping repository required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Cipher == nil {
		return nil, fmt.Errorf("encryptor required")
	}
	if params.Factory == nil {
		return nil, fmt.Errorf("adapter factory required")
	}
	if params.Cache == nil {
		return nil, fmt.Errorf("token cache required")
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &Registry{
		repo:    params.Repo,
		tx:      params.TxRunner,
		cipher:  params.Cipher,
		factory: params.Factory,
		cache:   params.Cache,
		logg:    params.Logger,
		now:     func() time.Time { return now().UTC() },
	}, nil
}

// Resolve picks the adapter for a store. With no preference the default
// config wins, falling back to the oldest active one. No active config, or a
// self default, resolves to manual fulfillment.
func (r *Registry) Resolve(ctx context.Context, storeID uuid.UUID, preference *enums.ShippingProvider) (*Resolution, error) {
	if storeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id required")
	}
	if preference != nil && *preference == enums.ShippingProviderSelf {
		return &Resolution{Manual: true, Provider: enums.ShippingProviderSelf}, nil
	}

	configs, err := r.repo.ListActive(ctx, storeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load shipping providers")
	}

	var chosen *models.ShippingProviderConfig
	if preference != nil {
		for i := range configs {
			if configs[i].Provider == *preference {
				chosen = &configs[i]
				break
			}
		}
		if chosen == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, carriers.ErrNotConfigured,
				fmt.Sprintf("%s is not configured for this store", *preference))
		}
	} else if len(configs) > 0 {
		chosen = &configs[0]
	}

	if chosen == nil || chosen.Provider == enums.ShippingProviderSelf {
		return &Resolution{Manual: true, Provider: enums.ShippingProviderSelf}, nil
	}

	adapter, err := r.adapterFor(*chosen)
	if err != nil {
		return nil, err
	}
	res := &Resolution{
		Provider: chosen.Provider,
		Adapter:  adapter,
		Strategy: chosen.RateStrategy,
	}
	if !res.Strategy.IsValid() {
		res.Strategy = enums.RateStrategyCheapest
	}
	if chosen.PickupLocation != nil {
		res.PickupLocation = *chosen.PickupLocation
	}
	return res, nil
}

// AdapterFor builds the adapter of a specific provider regardless of its
// active flag, for follow-up calls on shipments it already created.
func (r *Registry) AdapterFor(ctx context.Context, storeID uuid.UUID, provider enums.ShippingProvider) (carriers.Adapter, error) {
	cfg, err := r.repo.Find(ctx, storeID, provider)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, carriers.ErrNotConfigured,
				fmt.Sprintf("%s is not configured for this store", provider))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load shipping provider")
	}
	return r.adapterFor(*cfg)
}

// ActiveAdapters builds the adapter of every active carrier of a store, in
// Resolve's order. Self configs are left out. A carrier whose adapter cannot
// be built is skipped and logged so the others can still quote.
func (r *Registry) ActiveAdapters(ctx context.Context, storeID uuid.UUID) ([]carriers.Adapter, error) {
	if storeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id required")
	}
	configs, err := r.repo.ListActive(ctx, storeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load shipping providers")
	}

	adapters := make([]carriers.Adapter, 0, len(configs))
	for _, cfg := range configs {
		if cfg.Provider == enums.ShippingProviderSelf {
			continue
		}
		adapter, err := r.adapterFor(cfg)
		if err != nil {
			if r.logg != nil {
				r.logg.Error(r.logg.WithProvider(r.logg.WithStoreID(ctx, storeID.String()), string(cfg.Provider)), "carrier adapter unavailable", err)
			}
			continue
		}
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}

func (r *Registry) adapterFor(cfg models.ShippingProviderConfig) (carriers.Adapter, error) {
	if cfg.Credentials == "" {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, carriers.ErrNotConfigured,
			fmt.Sprintf("%s has no stored credentials", cfg.Provider))
	}
	plain, err := r.cipher.Decrypt(cfg.Credentials)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decrypt carrier credentials")
	}
	slot := SlotFor(r.cache, CacheKey{
		StoreID:  cfg.StoreID,
		Provider: cfg.Provider,
		Version:  CredentialVersion(cfg.Credentials),
	})
	return r.factory.Build(cfg.Provider, []byte(plain), slot)
}

// Validate calls the carrier with candidate credentials without storing
// them.
func (r *Registry) Validate(ctx context.Context, provider enums.ShippingProvider, credentials []byte) error {
	if !provider.RequiresCredentials() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s does not take credentials", provider))
	}
	adapter, err := r.factory.Build(provider, credentials, &scratchSlot{})
	if err != nil {
		return err
	}
	if !adapter.IsConfigured() {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, carriers.ErrNotConfigured, fmt.Sprintf("%s credentials incomplete", provider))
	}
	if err := adapter.ValidateCredentials(ctx); err != nil {
		return err
	}
	return nil
}

// SaveCredentials validates live, seals and upserts the config. Marking it
// default clears any previous default. The cached session is evicted so
// the next call logs in with the new credentials.
func (r *Registry) SaveCredentials(ctx context.Context, input SaveInput) (*ProviderConfigDTO, error) {
	if input.StoreID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id required")
	}
	if !input.Provider.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown provider %q", input.Provider))
	}
	strategy := input.RateStrategy
	if strategy == "" {
		strategy = enums.RateStrategyCheapest
	}
	if !strategy.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown rate strategy %q", input.RateStrategy))
	}

	sealed := ""
	var validatedAt *time.Time
	if input.Provider.RequiresCredentials() {
		if len(input.Credentials) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "credentials required")
		}
		if err := r.Validate(ctx, input.Provider, input.Credentials); err != nil {
			return nil, err
		}
		var err error
		sealed, err = r.cipher.Encrypt(string(input.Credentials))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encrypt carrier credentials")
		}
		now := r.now()
		validatedAt = &now
	}

	active := true
	if input.IsActive != nil {
		active = *input.IsActive
	}
	if input.IsDefault && !active {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "default provider must be active")
	}
	var pickup *string
	if loc := strings.TrimSpace(input.PickupLocation); loc != "" {
		pickup = &loc
	}

	var saved *models.ShippingProviderConfig
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		if input.IsDefault {
			if err := repo.ClearDefault(ctx, input.StoreID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clear default provider")
			}
		}

		existing, err := repo.Find(ctx, input.StoreID, input.Provider)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load shipping provider")
		}
		if existing == nil {
			cfg := &models.ShippingProviderConfig{
				StoreID:         input.StoreID,
				Provider:        input.Provider,
				IsActive:        active,
				IsDefault:       input.IsDefault,
				Credentials:     sealed,
				PickupLocation:  pickup,
				RateStrategy:    strategy,
				LastValidatedAt: validatedAt,
			}
			if err := repo.Create(ctx, cfg); err != nil {
				if db.IsUniqueViolation(err, "") {
					return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "provider saved concurrently, retry")
				}
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create shipping provider")
			}
		} else {
			if err := repo.Update(ctx, existing.ID, map[string]any{
				"is_active":         active,
				"is_default":        input.IsDefault,
				"credentials":       sealed,
				"pickup_location":   pickup,
				"rate_strategy":     strategy,
				"last_validated_at": validatedAt,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update shipping provider")
			}
		}
		saved, err = repo.Find(ctx, input.StoreID, input.Provider)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload shipping provider")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.cache.Evict(CacheKey{StoreID: input.StoreID, Provider: input.Provider})
	if r.logg != nil {
		logCtx := r.logg.WithProvider(r.logg.WithStoreID(ctx, input.StoreID.String()), string(input.Provider))
		r.logg.Info(logCtx, "shipping provider saved")
	}
	dto := configToDTO(*saved)
	return &dto, nil
}

// Remove deletes the config and drops its cached session.
func (r *Registry) Remove(ctx context.Context, storeID uuid.UUID, provider enums.ShippingProvider) error {
	rows, err := r.repo.Delete(ctx, storeID, provider)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete shipping provider")
	}
	r.cache.Evict(CacheKey{StoreID: storeID, Provider: provider})
	if rows == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("%s is not configured", provider))
	}
	return nil
}

func (r *Registry) List(ctx context.Context, storeID uuid.UUID) ([]ProviderConfigDTO, error) {
	configs, err := r.repo.List(ctx, storeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list shipping providers")
	}
	out := make([]ProviderConfigDTO, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, configToDTO(cfg))
	}
	return out, nil
}
