package tracking

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-backend/internal/orders"
	"github.com/angelmondragon/fulfillment-backend/pkg/carriers"
	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/dbtest"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

var fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type trackingAdapter struct {
	carriers.Adapter
	result *carriers.TrackingResult
	err    error
	calls  int
	refs   []carriers.ShipmentRef
}

func (a *trackingAdapter) TrackShipment(_ context.Context, ref carriers.ShipmentRef) (*carriers.TrackingResult, error) {
	a.calls++
	a.refs = append(a.refs, ref)
	return a.result, a.err
}

type adapterMap map[uuid.UUID]*trackingAdapter

func (m adapterMap) AdapterFor(_ context.Context, storeID uuid.UUID, _ enums.ShippingProvider) (carriers.Adapter, error) {
	adapter, ok := m[storeID]
	if !ok {
		return nil, carriers.NotConfigured(enums.ShippingProviderShiprocket)
	}
	return adapter, nil
}

type fixture struct {
	svc      Service
	orders   orders.Service
	repo     orders.Repository
	adapters adapterMap
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	repo := orders.NewRepository(conn)
	clock := func() time.Time { return fixedNow }
	ordersSvc, err := orders.NewService(orders.ServiceParams{Repo: repo, TxRunner: db.NewFromConn(conn), Clock: clock})
	require.NoError(t, err)
	adapters := adapterMap{}
	svc, err := NewService(ServiceParams{
		Orders:     ordersSvc,
		Adapters:   adapters,
		Logger:     logger.New(logger.Options{ServiceName: "tracking-test", Output: io.Discard}),
		StaleAfter: time.Hour,
		Clock:      clock,
	})
	require.NoError(t, err)
	return &fixture{svc: svc, orders: ordersSvc, repo: repo, adapters: adapters}
}

// seedShipped creates a paid order carrying a shiprocket shipment.
func (f *fixture) seedShipped(t *testing.T, syncedAt *time.Time) *models.Order {
	t.Helper()
	ctx := context.Background()
	order := &models.Order{
		StoreID:         uuid.New(),
		OrderNumber:     "ORD-" + gofakeit.DigitN(6),
		PaymentStatus:   enums.PaymentStatusPending,
		OrderStatus:     enums.OrderStatusPending,
		SubtotalCents:   1000,
		TotalCents:      1000,
		CustomerName:    gofakeit.Name(),
		CustomerEmail:   "Asha@Example.com",
		ShippingAddress: types.ShippingAddress{Line1: "2 Park St", City: "Kolkata", PostalCode: "700016"},
		Items:           []models.OrderItem{{ProductID: uuid.New(), Name: "Darjeeling", Quantity: 1, UnitPriceCents: 1000}},
	}
	require.NoError(t, f.repo.Create(ctx, order))
	_, err := f.orders.MarkPaid(ctx, order.ID, "pi_"+order.OrderNumber)
	require.NoError(t, err)
	_, err = f.orders.AttachShipment(ctx, orders.ShipmentInput{
		OrderID:            order.ID,
		Provider:           enums.ShippingProviderShiprocket,
		ProviderShipmentID: "sr-1",
		AWBCode:            "AWB-" + order.OrderNumber,
		CourierName:        "Delhivery Surface",
		CourierCode:        "44",
	})
	require.NoError(t, err)
	if syncedAt != nil {
		_, err := f.repo.UpdateWhere(ctx, order.ID, orders.Guard{}, map[string]any{"tracking_synced_at": *syncedAt})
		require.NoError(t, err)
	}
	f.adapters[order.StoreID] = &trackingAdapter{result: &carriers.TrackingResult{
		Status: enums.TrackingStatusInTransit,
		Events: []carriers.TrackingEvent{
			{Status: enums.TrackingStatusPickedUp, Description: "Picked up", Location: "Kolkata", OccurredAt: fixedNow.Add(-5 * time.Hour)},
			{Status: enums.TrackingStatusInTransit, Description: "Left hub", OccurredAt: fixedNow.Add(-2 * time.Hour)},
		},
	}}
	got, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	return got
}

func TestLookupRefreshesStaleTracking(t *testing.T) {
	f := newFixture(t)
	order := f.seedShipped(t, nil)

	view, err := f.svc.Lookup(context.Background(), LookupInput{StoreID: order.StoreID, OrderNumber: order.OrderNumber, Email: "asha@example.com"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, view.OrderStatus)
	require.NotNil(t, view.TrackingStatus)
	assert.Equal(t, enums.TrackingStatusInTransit, *view.TrackingStatus)
	require.Len(t, view.Events, 2)
	assert.Equal(t, "Left hub", view.Events[0].Description, "newest scan first")

	adapter := f.adapters[order.StoreID]
	assert.Equal(t, 1, adapter.calls)
	assert.Equal(t, "44", adapter.refs[0].CourierCode)
	assert.Equal(t, "sr-1", adapter.refs[0].ProviderShipmentID)
}

func TestLookupSkipsCarrierWhenFresh(t *testing.T) {
	f := newFixture(t)
	recent := fixedNow.Add(-10 * time.Minute)
	order := f.seedShipped(t, &recent)

	view, err := f.svc.Lookup(context.Background(), LookupInput{StoreID: order.StoreID, OrderNumber: order.OrderNumber})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusProcessing, view.OrderStatus)
	assert.Empty(t, view.Events)
	assert.Zero(t, f.adapters[order.StoreID].calls)
}

func TestLookupServesStoredDataWhenCarrierFails(t *testing.T) {
	f := newFixture(t)
	order := f.seedShipped(t, nil)
	f.adapters[order.StoreID].err = errors.New("carrier timeout")

	view, err := f.svc.Lookup(context.Background(), LookupInput{StoreID: order.StoreID, OrderNumber: order.OrderNumber})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusProcessing, view.OrderStatus)
}

func TestLookupRejectsWrongEmailAsNotFound(t *testing.T) {
	f := newFixture(t)
	order := f.seedShipped(t, nil)

	_, err := f.svc.Lookup(context.Background(), LookupInput{StoreID: order.StoreID, OrderNumber: order.OrderNumber, Email: "someone@else.com"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = f.svc.Lookup(context.Background(), LookupInput{StoreID: uuid.New(), OrderNumber: order.OrderNumber})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = f.svc.Lookup(context.Background(), LookupInput{StoreID: order.StoreID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestSyncStaleContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	ok := f.seedShipped(t, nil)
	broken := f.seedShipped(t, nil)
	f.adapters[broken.StoreID].err = errors.New("502 from carrier")
	recent := fixedNow.Add(-time.Minute)
	fresh := f.seedShipped(t, &recent)

	report, err := f.svc.SyncStale(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), broken.OrderNumber)
	assert.Equal(t, SyncReport{Checked: 2, Advanced: 1, Failed: 1}, report)
	assert.Zero(t, f.adapters[fresh.StoreID].calls)

	got, err := f.orders.Get(context.Background(), ok.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, got.OrderStatus)
	require.NotNil(t, got.TrackingSyncedAt)
}

func TestSyncRejectsOrderWithoutShipment(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Sync(context.Background(), &models.Order{ID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}
