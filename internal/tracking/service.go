// Package tracking serves public shipment lookups and keeps carrier scans
// in sync with orders.
package tracking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/fulfillment-backend/internal/orders"
	"github.com/angelmondragon/fulfillment-backend/pkg/carriers"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

type adapterSource interface {
	AdapterFor(ctx context.Context, storeID uuid.UUID, provider enums.ShippingProvider) (carriers.Adapter, error)
}

type Service interface {
	Lookup(ctx context.Context, input LookupInput) (*View, error)
	Sync(ctx context.Context, order *models.Order) (*orders.TrackingUpdate, error)
	SyncStale(ctx context.Context, limit int) (SyncReport, error)
}

type ServiceParams struct {
	Orders     orders.Service
	Adapters   adapterSource
	Logger     *logger.Logger
	StaleAfter time.Duration
	Clock      func() time.Time
}

type service struct {
	orders     orders.Service
	adapters   adapterSource
	logg       *logger.Logger
	staleAfter time.Duration
	now        func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Adapters == nil {
		return nil, fmt.Errorf("adapter source required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	stale := params.StaleAfter
	if stale <= 0 {
		stale = 2 * time.Hour
	}
	return &service{
		orders:     params.Orders,
		adapters:   params.Adapters,
		logg:       params.Logger,
		staleAfter: stale,
		now:        func() time.Time { return clock().UTC() },
	}, nil
}

// Lookup finds an order by its public number. A wrong email is reported as
// not found so the endpoint cannot be used to enumerate customers. Stale
// tracking is refreshed on read when the carrier answers.
func (s *service) Lookup(ctx context.Context, input LookupInput) (*View, error) {
	number := strings.TrimSpace(input.OrderNumber)
	if input.StoreID == uuid.Nil || number == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id and order number required")
	}
	order, err := s.orders.GetByNumber(ctx, input.StoreID, number)
	if err != nil {
		return nil, err
	}
	if email := strings.TrimSpace(input.Email); email != "" && !strings.EqualFold(email, order.CustomerEmail) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, orders.ErrOrderNotFound, "order not found")
	}

	if s.stale(order) {
		update, err := s.Sync(ctx, order)
		if err != nil {
			s.logg.Warn(s.logg.WithField(s.logg.WithOrderID(ctx, order.ID.String()), "error", err.Error()), "tracking refresh on read failed")
		} else {
			order = update.Order
		}
	}

	events, err := s.orders.ListShipmentEvents(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return toView(order, events), nil
}

func (s *service) stale(order *models.Order) bool {
	if !order.HasShipment() || order.ShippingProvider == nil {
		return false
	}
	if order.OrderStatus != enums.OrderStatusProcessing && order.OrderStatus != enums.OrderStatusShipped {
		return false
	}
	return order.TrackingSyncedAt == nil || s.now().Sub(*order.TrackingSyncedAt) >= s.staleAfter
}

// Sync pulls the carrier's current view of one shipment and records it.
func (s *service) Sync(ctx context.Context, order *models.Order) (*orders.TrackingUpdate, error) {
	if order == nil || !order.HasShipment() || order.ShippingProvider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no carrier shipment")
	}
	adapter, err := s.adapters.AdapterFor(ctx, order.StoreID, *order.ShippingProvider)
	if err != nil {
		return nil, err
	}

	ref := carriers.ShipmentRef{TrackingID: *order.AWBCode}
	if order.ProviderShipmentID != nil {
		ref.ProviderShipmentID = *order.ProviderShipmentID
	}
	if order.CourierCode != nil {
		ref.CourierCode = *order.CourierCode
	}
	result, err := adapter.TrackShipment(ctx, ref)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "carrier tracking failed")
	}

	input := orders.TrackingInput{
		OrderID: order.ID,
		Status:  result.Status,
		Events:  make([]orders.ShipmentEventInput, 0, len(result.Events)),
	}
	for _, ev := range result.Events {
		input.Events = append(input.Events, orders.ShipmentEventInput{
			Status:      ev.Status,
			Description: ev.Description,
			Location:    ev.Location,
			OccurredAt:  ev.OccurredAt,
		})
	}
	return s.orders.RecordTracking(ctx, input)
}

// SyncStale refreshes up to limit shipments whose last sync is older than
// the stale window. One failing shipment does not stop the batch.
func (s *service) SyncStale(ctx context.Context, limit int) (SyncReport, error) {
	var report SyncReport
	due, err := s.orders.ListTrackable(ctx, s.now().Add(-s.staleAfter), limit)
	if err != nil {
		return report, err
	}

	var errs error
	for i := range due {
		if err := ctx.Err(); err != nil {
			return report, multierr.Append(errs, err)
		}
		order := &due[i]
		report.Checked++
		update, err := s.Sync(ctx, order)
		if err != nil {
			report.Failed++
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.OrderNumber, err))
			continue
		}
		if update.StatusChanged {
			report.Advanced++
		}
	}
	if errs != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"checked": report.Checked,
			"failed":  report.Failed,
		}), "tracking sync finished with failures")
	}
	return report, errs
}
