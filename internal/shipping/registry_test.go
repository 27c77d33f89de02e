package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-backend/pkg/carriers"
	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/dbtest"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

type prefixCipher struct{}

func (prefixCipher) Encrypt(plain string) (string, error) { return "sealed:" + plain, nil }

func (prefixCipher) Decrypt(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, "sealed:") {
		return "", errors.New("not sealed")
	}
	return strings.TrimPrefix(sealed, "sealed:"), nil
}

type fakeAdapter struct {
	provider    enums.ShippingProvider
	credentials string
	slot        carriers.TokenSlot
	validateErr error
}

func (f *fakeAdapter) Provider() enums.ShippingProvider { return f.provider }
func (f *fakeAdapter) IsConfigured() bool               { return f.credentials != "" }
func (f *fakeAdapter) ValidateCredentials(context.Context) error {
	if f.validateErr != nil {
		return f.validateErr
	}
	f.slot.Store("session-" + string(f.provider))
	return nil
}
func (f *fakeAdapter) CheckServiceability(context.Context, string, string) (bool, error) {
	return true, nil
}
func (f *fakeAdapter) GetRates(context.Context, carriers.RateRequest) ([]carriers.Rate, error) {
	return nil, nil
}
func (f *fakeAdapter) CreateShipment(context.Context, carriers.ShipmentRequest) (*carriers.ShipmentResult, error) {
	return &carriers.ShipmentResult{}, nil
}
func (f *fakeAdapter) AssignTrackingID(_ context.Context, s carriers.ShipmentResult, _ carriers.Rate) (*carriers.ShipmentResult, error) {
	return &s, nil
}
func (f *fakeAdapter) TrackShipment(context.Context, carriers.ShipmentRef) (*carriers.TrackingResult, error) {
	return &carriers.TrackingResult{}, nil
}
func (f *fakeAdapter) CancelShipment(context.Context, carriers.ShipmentRef) error { return nil }
func (f *fakeAdapter) GenerateLabel(context.Context, carriers.ShipmentResult) (string, error) {
	return "", nil
}

type fakeFactory struct {
	validateErr error
	built       []*fakeAdapter
}

func (f *fakeFactory) Build(provider enums.ShippingProvider, credentials []byte, slot carriers.TokenSlot) (carriers.Adapter, error) {
	if provider == enums.ShippingProviderSelf {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "self")
	}
	a := &fakeAdapter{provider: provider, credentials: string(credentials), slot: slot, validateErr: f.validateErr}
	f.built = append(f.built, a)
	return a, nil
}

var fixedNow = time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) (*Registry, *fakeFactory, *LRUTokenCache) {
	t.Helper()
	conn := dbtest.Open(t)
	factory := &fakeFactory{}
	cache := NewTokenCache(16, time.Hour)
	reg, err := NewRegistry(RegistryParams{
		Repo:     NewRepository(conn),
		TxRunner: db.NewFromConn(conn),
		Cipher:   prefixCipher{},
		Factory:  factory,
		Cache:    cache,
		Logger:   logger.New(logger.Options{ServiceName: "shipping-test", Output: io.Discard}),
		Clock:    func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return reg, factory, cache
}

func save(t *testing.T, reg *Registry, storeID uuid.UUID, provider enums.ShippingProvider, isDefault bool) *ProviderConfigDTO {
	t.Helper()
	dto, err := reg.SaveCredentials(context.Background(), SaveInput{
		StoreID:     storeID,
		Provider:    provider,
		Credentials: json.RawMessage(`{"token":"abc"}`),
		IsDefault:   isDefault,
	})
	require.NoError(t, err)
	return dto
}

func TestResolveWithoutConfigIsManual(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	res, err := reg.Resolve(context.Background(), uuid.New(), nil)
	require.NoError(t, err)
	assert.True(t, res.Manual)
	assert.Nil(t, res.Adapter)
	assert.Equal(t, enums.ShippingProviderSelf, res.Provider)
}

func TestResolvePrefersDefault(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	storeID := uuid.New()
	save(t, reg, storeID, enums.ShippingProviderShiprocket, false)
	save(t, reg, storeID, enums.ShippingProviderDelhivery, true)

	res, err := reg.Resolve(context.Background(), storeID, nil)
	require.NoError(t, err)
	assert.False(t, res.Manual)
	assert.Equal(t, enums.ShippingProviderDelhivery, res.Provider)
	assert.Equal(t, enums.RateStrategyCheapest, res.Strategy)

	adapter, ok := res.Adapter.(*fakeAdapter)
	require.True(t, ok)
	assert.Equal(t, `{"token":"abc"}`, adapter.credentials, "adapter receives decrypted credentials")
}

func TestSaveDefaultClearsPreviousDefault(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	storeID := uuid.New()
	save(t, reg, storeID, enums.ShippingProviderShiprocket, true)
	save(t, reg, storeID, enums.ShippingProviderShippo, true)

	list, err := reg.List(context.Background(), storeID)
	require.NoError(t, err)
	require.Len(t, list, 2)

	defaults := 0
	for _, cfg := range list {
		if cfg.IsDefault {
			defaults++
			assert.Equal(t, enums.ShippingProviderShippo, cfg.Provider)
		}
		assert.True(t, cfg.HasCredentials)
		require.NotNil(t, cfg.LastValidatedAt)
		assert.True(t, cfg.LastValidatedAt.Equal(fixedNow))
	}
	assert.Equal(t, 1, defaults)
}

func TestResolveWithPreference(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	storeID := uuid.New()
	save(t, reg, storeID, enums.ShippingProviderShiprocket, true)
	save(t, reg, storeID, enums.ShippingProviderShippo, false)

	pref := enums.ShippingProviderShippo
	res, err := reg.Resolve(context.Background(), storeID, &pref)
	require.NoError(t, err)
	assert.Equal(t, enums.ShippingProviderShippo, res.Provider)

	missing := enums.ShippingProviderDelhivery
	_, err = reg.Resolve(context.Background(), storeID, &missing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, carriers.ErrNotConfigured))

	self := enums.ShippingProviderSelf
	res, err = reg.Resolve(context.Background(), storeID, &self)
	require.NoError(t, err)
	assert.True(t, res.Manual)
}

func TestSaveRejectsFailedValidation(t *testing.T) {
	reg, factory, _ := newTestRegistry(t)
	factory.validateErr = carriers.AuthenticationFailed(enums.ShippingProviderShiprocket, "bad password")
	storeID := uuid.New()

	_, err := reg.SaveCredentials(context.Background(), SaveInput{
		StoreID:     storeID,
		Provider:    enums.ShippingProviderShiprocket,
		Credentials: json.RawMessage(`{"email":"a@b.c","password":"x"}`),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, carriers.ErrAuthenticationFailed))

	list, err := reg.List(context.Background(), storeID)
	require.NoError(t, err)
	assert.Empty(t, list, "nothing is stored when validation fails")
}

func TestValidationDoesNotTouchSharedCache(t *testing.T) {
	reg, _, cache := newTestRegistry(t)

	require.NoError(t, reg.Validate(context.Background(), enums.ShippingProviderShiprocket, []byte(`{"email":"a"}`)))
	assert.Equal(t, 0, cache.Len())
}

func TestSaveEvictsCachedSession(t *testing.T) {
	reg, _, cache := newTestRegistry(t)
	storeID := uuid.New()
	key := CacheKey{StoreID: storeID, Provider: enums.ShippingProviderShiprocket}
	save(t, reg, storeID, enums.ShippingProviderShiprocket, true)

	cache.Put(key, "old-session")
	save(t, reg, storeID, enums.ShippingProviderShiprocket, true)

	_, ok := cache.Get(key)
	assert.False(t, ok)
}

func TestLoginRacingCredentialChangeIsNotReused(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	storeID := uuid.New()
	ctx := context.Background()
	_, err := reg.SaveCredentials(ctx, SaveInput{
		StoreID:     storeID,
		Provider:    enums.ShippingProviderShiprocket,
		Credentials: json.RawMessage(`{"email":"old@example.com","password":"x"}`),
		IsDefault:   true,
	})
	require.NoError(t, err)

	before, err := reg.Resolve(ctx, storeID, nil)
	require.NoError(t, err)
	stale := before.Adapter.(*fakeAdapter)

	_, err = reg.SaveCredentials(ctx, SaveInput{
		StoreID:     storeID,
		Provider:    enums.ShippingProviderShiprocket,
		Credentials: json.RawMessage(`{"email":"new@example.com","password":"y"}`),
		IsDefault:   true,
	})
	require.NoError(t, err)
	// the old login finishes after the save evicted the cache
	stale.slot.Store("session-for-old-account")

	after, err := reg.Resolve(ctx, storeID, nil)
	require.NoError(t, err)
	_, ok := after.Adapter.(*fakeAdapter).slot.Load()
	assert.False(t, ok, "new credentials must open their own session")
}

func TestSaveSelfNeedsNoCredentials(t *testing.T) {
	reg, factory, _ := newTestRegistry(t)
	storeID := uuid.New()

	dto, err := reg.SaveCredentials(context.Background(), SaveInput{
		StoreID:   storeID,
		Provider:  enums.ShippingProviderSelf,
		IsDefault: true,
	})
	require.NoError(t, err)
	assert.False(t, dto.HasCredentials)
	assert.Empty(t, factory.built)

	res, err := reg.Resolve(context.Background(), storeID, nil)
	require.NoError(t, err)
	assert.True(t, res.Manual)
}

func TestSaveRejectsInactiveDefault(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	inactive := false

	_, err := reg.SaveCredentials(context.Background(), SaveInput{
		StoreID:     uuid.New(),
		Provider:    enums.ShippingProviderDelhivery,
		Credentials: json.RawMessage(`{"api_token":"t"}`),
		IsDefault:   true,
		IsActive:    &inactive,
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestInactiveConfigIsSkippedByResolveButReachableByAdapterFor(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	storeID := uuid.New()
	inactive := false
	_, err := reg.SaveCredentials(context.Background(), SaveInput{
		StoreID:     storeID,
		Provider:    enums.ShippingProviderDelhivery,
		Credentials: json.RawMessage(`{"api_token":"t"}`),
		IsActive:    &inactive,
	})
	require.NoError(t, err)

	res, err := reg.Resolve(context.Background(), storeID, nil)
	require.NoError(t, err)
	assert.True(t, res.Manual)

	adapter, err := reg.AdapterFor(context.Background(), storeID, enums.ShippingProviderDelhivery)
	require.NoError(t, err)
	assert.Equal(t, enums.ShippingProviderDelhivery, adapter.Provider())
}

func TestActiveAdaptersSkipsSelfAndInactive(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	storeID := uuid.New()
	ctx := context.Background()
	save(t, reg, storeID, enums.ShippingProviderShiprocket, true)
	save(t, reg, storeID, enums.ShippingProviderShippo, false)
	_, err := reg.SaveCredentials(ctx, SaveInput{StoreID: storeID, Provider: enums.ShippingProviderSelf})
	require.NoError(t, err)
	inactive := false
	_, err = reg.SaveCredentials(ctx, SaveInput{
		StoreID:     storeID,
		Provider:    enums.ShippingProviderDelhivery,
		Credentials: json.RawMessage(`{"api_token":"t"}`),
		IsActive:    &inactive,
	})
	require.NoError(t, err)

	adapters, err := reg.ActiveAdapters(ctx, storeID)
	require.NoError(t, err)
	var providers []enums.ShippingProvider
	for _, a := range adapters {
		providers = append(providers, a.Provider())
	}
	assert.Equal(t, []enums.ShippingProvider{enums.ShippingProviderShiprocket, enums.ShippingProviderShippo}, providers)

	none, err := reg.ActiveAdapters(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRemove(t *testing.T) {
	reg, _, cache := newTestRegistry(t)
	storeID := uuid.New()
	save(t, reg, storeID, enums.ShippingProviderShippo, true)
	key := CacheKey{StoreID: storeID, Provider: enums.ShippingProviderShippo}
	cache.Put(key, "session")

	require.NoError(t, reg.Remove(context.Background(), storeID, enums.ShippingProviderShippo))
	_, ok := cache.Get(key)
	assert.False(t, ok)

	err := reg.Remove(context.Background(), storeID, enums.ShippingProviderShippo)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}
