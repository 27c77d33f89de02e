// Package fulfillment turns verified payment events into order state changes,
// inventory movements and carrier shipments.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/fulfillment-backend/internal/inventory"
	"github.com/angelmondragon/fulfillment-backend/internal/notifier"
	"github.com/angelmondragon/fulfillment-backend/internal/orders"
	"github.com/angelmondragon/fulfillment-backend/internal/shipping"
	"github.com/angelmondragon/fulfillment-backend/internal/webhooks/payments"
	"github.com/angelmondragon/fulfillment-backend/pkg/carriers"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/metrics"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

type providerRegistry interface {
	Resolve(ctx context.Context, storeID uuid.UUID, preference *enums.ShippingProvider) (*shipping.Resolution, error)
	AdapterFor(ctx context.Context, storeID uuid.UUID, provider enums.ShippingProvider) (carriers.Adapter, error)
	ActiveAdapters(ctx context.Context, storeID uuid.UUID) ([]carriers.Adapter, error)
}

type storeLoader interface {
	Load(ctx context.Context, id uuid.UUID) (*models.Store, error)
}

type ServiceParams struct {
	Orders             orders.Service
	Inventory          inventory.Service
	Registry           providerRegistry
	Stores             storeLoader
	Notifier           notifier.Notifier
	Metrics            *metrics.FulfillmentMetrics
	Logger             *logger.Logger
	Background         RetryPolicy
	Interactive        RetryPolicy
	DefaultWeightGrams int
	Sleeper            Sleeper
	Clock              func() time.Time
}

// Service is the fulfillment orchestrator.
type Service struct {
	orders        orders.Service
	inventory     inventory.Service
	registry      providerRegistry
	stores        storeLoader
	notifier      notifier.Notifier
	metrics       *metrics.FulfillmentMetrics
	logg          *logger.Logger
	background    RetryPolicy
	interactive   RetryPolicy
	defaultWeight int
	sleeper       Sleeper
	now           func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("provider registry required")
	}
	if params.Stores == nil {
		return nil, fmt.Errorf("store loader required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	sleeper := params.Sleeper
	if sleeper == nil {
		sleeper = timerSleeper{}
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	weight := params.DefaultWeightGrams
	if weight <= 0 {
		weight = 500
	}
	return &Service{
		orders:        params.Orders,
		inventory:     params.Inventory,
		registry:      params.Registry,
		stores:        params.Stores,
		notifier:      params.Notifier,
		metrics:       params.Metrics,
		logg:          params.Logger,
		background:    params.Background.normalized(),
		interactive:   params.Interactive.normalized(),
		defaultWeight: weight,
		sleeper:       sleeper,
		now:           func() time.Time { return clock().UTC() },
	}, nil
}

// HandleEvent routes a verified payment event. State errors are terminal for
// the delivery and are logged rather than returned so the gateway stops
// redelivering.
func (s *Service) HandleEvent(ctx context.Context, event *payments.Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment event required")
	}
	ctx = s.logg.WithEventID(ctx, event.ID)

	var err error
	switch event.Type {
	case enums.PaymentEventConfirmed:
		err = s.OnPaymentConfirmed(ctx, event)
	case enums.PaymentEventExpired:
		err = s.OnPaymentExpired(ctx, event)
	case enums.PaymentEventRefunded:
		err = s.OnChargeRefunded(ctx, event)
	default:
		return nil
	}
	if err == nil {
		return nil
	}
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeNotFound, pkgerrors.CodeStateConflict, pkgerrors.CodeValidation:
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "payment event not applied")
		return nil
	}
	return err
}

// OnPaymentConfirmed marks the order paid and, only for the call that made
// the transition, commits stock and creates the shipment. Duplicate or
// concurrent deliveries stop at MarkPaid.
func (s *Service) OnPaymentConfirmed(ctx context.Context, event *payments.Event) error {
	orderID, err := s.orderFor(ctx, event)
	if err != nil {
		return err
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	paid, err := s.orders.MarkPaid(ctx, orderID, event.PaymentIntentID)
	if err != nil {
		return err
	}
	if !paid.Fresh {
		s.logg.Info(ctx, "order already paid; confirmation ignored")
		return nil
	}
	order := paid.Order
	ctx = s.logg.WithStoreID(ctx, order.StoreID.String())

	if _, err := s.inventory.Reduce(ctx, inventory.ItemsFromOrder(order)); err != nil {
		s.logg.Error(ctx, "inventory reduce failed after payment", err)
	}
	if _, err := s.inventory.Release(ctx, order.ID); err != nil {
		s.logg.Error(ctx, "reservation release failed after payment", err)
	}
	if err := s.notifier.NotifyOrderConfirmed(ctx, order); err != nil {
		s.logg.Error(ctx, "order confirmed notification failed", err)
	}

	// A failed shipment never un-confirms a paid order.
	if _, err := s.CreateShipmentWithRetry(ctx, order, ShipmentOptions{Policy: s.background}); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "automatic shipment not created")
	}
	return nil
}

// OnPaymentExpired cancels an order whose payment never completed.
func (s *Service) OnPaymentExpired(ctx context.Context, event *payments.Event) error {
	orderID, err := s.orderFor(ctx, event)
	if err != nil {
		return err
	}
	_, err = s.ExpireOrder(ctx, orderID)
	return err
}

// ExpireOrder cancels the order if its payment is still pending and drops
// any hold it still carries. It reports whether this call cancelled it.
func (s *Service) ExpireOrder(ctx context.Context, orderID uuid.UUID) (bool, error) {
	ctx = s.logg.WithOrderID(ctx, orderID.String())
	cancelled, err := s.orders.MarkExpiredOrCancelled(ctx, orderID)
	if err != nil {
		return false, err
	}
	// Holds of a paid order were already released after Reduce, so this is a
	// no-op unless a prior release failed.
	released, err := s.inventory.Release(ctx, orderID)
	if err != nil {
		s.logg.Error(ctx, "reservation release failed", err)
	}
	if !cancelled {
		if released > 0 {
			s.logg.Info(s.logg.WithField(ctx, "released", released), "stale holds released")
		}
		return false, nil
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		s.logg.Error(ctx, "reload cancelled order failed", err)
		return true, nil
	}
	if err := s.notifier.NotifyOrderCancelled(ctx, order); err != nil {
		s.logg.Error(ctx, "order cancelled notification failed", err)
	}
	s.logg.Info(s.logg.WithField(ctx, "released", released), "order cancelled after payment expiry")
	return true, nil
}

// OnChargeRefunded records the refund carried by a charge event. The gateway
// reports the cumulative refunded amount, so this delivery's share is the
// difference from what the order already recorded. Only a full refund moves
// the order to refunded and restores stock.
func (s *Service) OnChargeRefunded(ctx context.Context, event *payments.Event) error {
	orderID, err := s.orderFor(ctx, event)
	if err != nil {
		return err
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	cumulative := event.AmountRefundedCents
	if cumulative <= 0 {
		cumulative = event.AmountCents
	}
	amount := cumulative - order.RefundedCents
	if amount <= 0 {
		s.logg.Info(ctx, "refund already recorded")
		return nil
	}
	isFull := event.FullyRefunded || cumulative >= order.TotalCents

	result, err := s.orders.RecordRefund(ctx, orders.RefundInput{
		OrderID:     orderID,
		AmountCents: amount,
		IsFull:      isFull,
		GatewayRef:  refundRef(event, cumulative),
	})
	if err != nil {
		return err
	}
	if !result.Recorded {
		return nil
	}
	if result.StatusChanged {
		if err := s.inventory.Restore(ctx, inventory.ItemsFromOrder(result.Order)); err != nil {
			s.logg.Error(ctx, "inventory restore failed after refund", err)
		}
	}
	if err := s.notifier.NotifyRefundProcessed(ctx, result.Order, amount, isFull); err != nil {
		s.logg.Error(ctx, "refund notification failed", err)
	}
	return nil
}

func refundRef(event *payments.Event, cumulative int64) string {
	charge := event.ChargeID
	if charge == "" {
		charge = event.ID
	}
	return fmt.Sprintf("%s:%d", charge, cumulative)
}

// orderFor resolves the order named by an event, falling back to the
// payment intent when metadata is missing.
func (s *Service) orderFor(ctx context.Context, event *payments.Event) (uuid.UUID, error) {
	if event.HasOrder() {
		return event.OrderID, nil
	}
	if strings.TrimSpace(event.PaymentIntentID) == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "payment event carries no order reference")
	}
	order, err := s.orders.GetByPaymentIntent(ctx, event.PaymentIntentID)
	if err != nil {
		return uuid.Nil, err
	}
	return order.ID, nil
}

// CreateShipment is the dashboard action. The merchant waits on it, so it
// runs the interactive policy and returns failures instead of escalating.
func (s *Service) CreateShipment(ctx context.Context, cmd ShipmentCommand) (*ShipmentOutcome, error) {
	if cmd.StoreID == uuid.Nil || cmd.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store and order id required")
	}
	if cmd.Strategy != nil && !cmd.Strategy.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "strategy must be cheapest or fastest")
	}
	if cmd.Provider != nil && !cmd.Provider.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown shipping provider")
	}
	if cmd.Package != nil {
		if err := cmd.Package.Validate(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid package")
		}
	}

	order, err := s.ownedOrder(ctx, cmd.StoreID, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if order.HasShipment() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order already has a shipment")
	}
	if order.PaymentStatus != enums.PaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not paid")
	}
	if order.OrderStatus != enums.OrderStatusConfirmed && order.OrderStatus != enums.OrderStatusProcessing {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order in status %s cannot be shipped", order.OrderStatus))
	}

	return s.CreateShipmentWithRetry(ctx, order, ShipmentOptions{
		Policy:      s.interactive,
		Provider:    cmd.Provider,
		Strategy:    cmd.Strategy,
		Package:     cmd.Package,
		Interactive: true,
	})
}

// CreateShipmentWithRetry resolves the store's provider and books a courier,
// retrying carrier failures under opts.Policy. Carrier calls stop at the
// policy's MaxElapsed. A manual store is marked self shipped. When attempts
// run out a background run escalates to the merchant and returns
// ErrShipmentEscalated; the order stays confirmed. Escalation and recording
// a booking outlive ctx, bounded by settleTimeout.
func (s *Service) CreateShipmentWithRetry(ctx context.Context, order *models.Order, opts ShipmentOptions) (*ShipmentOutcome, error) {
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	policy := opts.Policy
	if policy.MaxAttempts == 0 {
		policy = s.background
	}
	policy = policy.normalized()
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	ctx = s.logg.WithStoreID(ctx, order.StoreID.String())

	resolution, err := s.registry.Resolve(ctx, order.StoreID, opts.Provider)
	if err != nil {
		provider := enums.ShippingProvider("")
		if opts.Provider != nil {
			provider = *opts.Provider
		}
		s.metrics.IncShipmentAttempt(string(provider), metrics.ResultNotConfigured)
		return nil, s.fail(ctx, order, opts, provider, 0, err)
	}
	if resolution.Manual {
		if err := s.orders.MarkManualFulfillment(ctx, order.ID); err != nil {
			return nil, err
		}
		s.logg.Info(ctx, "store ships by hand; no carrier booked")
		return &ShipmentOutcome{Order: order, Manual: true, Provider: enums.ShippingProviderSelf}, nil
	}

	provider := resolution.Provider
	ctx = s.logg.WithProvider(ctx, string(provider))
	strategy := resolution.Strategy
	if opts.Strategy != nil && opts.Strategy.IsValid() {
		strategy = *opts.Strategy
	}

	req, err := s.buildRequest(ctx, order, opts, resolution.PickupLocation)
	if err != nil {
		s.metrics.IncShipmentAttempt(string(provider), metrics.ResultFailure)
		return nil, s.fail(ctx, order, opts, provider, 0, err)
	}

	runCtx := ctx
	if policy.MaxElapsed > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, policy.MaxElapsed)
		defer cancel()
	}

	started := s.now()
	var errs error
	attempts := 0
	for attempts < policy.MaxAttempts {
		attempts++
		attemptCtx := s.logg.WithField(runCtx, "attempt", attempts)

		booked, err := s.attempt(attemptCtx, resolution.Adapter, req, strategy)
		if err == nil {
			s.metrics.IncShipmentAttempt(string(provider), metrics.ResultSuccess)
			settleCtx, cancel := settle(attemptCtx)
			defer cancel()
			return s.attach(settleCtx, order, resolution.Adapter, booked, attempts)
		}

		errs = multierr.Append(errs, fmt.Errorf("attempt %d: %w", attempts, err))
		s.metrics.IncShipmentAttempt(string(provider), attemptResult(err))
		s.logg.Warn(s.logg.WithField(attemptCtx, "error", err.Error()), "shipment attempt failed")

		if terminal(err) || attempts >= policy.MaxAttempts {
			break
		}
		delay := policy.Delay(attempts)
		if !policy.fits(s.now().Sub(started), delay) {
			s.logg.Warn(attemptCtx, "retry window exhausted")
			break
		}
		if err := s.sleeper.Sleep(runCtx, delay); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
	}
	return nil, s.fail(ctx, order, opts, provider, attempts, errs)
}

// settleTimeout bounds the writes that follow a carrier round once the
// caller's context may already be gone.
const settleTimeout = 10 * time.Second

// settle keeps ctx's values but not its deadline or cancellation.
func settle(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

// booking is one successful carrier round.
type booking struct {
	provider enums.ShippingProvider
	rate     carriers.Rate
	result   carriers.ShipmentResult
}

// attempt runs one quote, book and tracking-id round against the carrier.
func (s *Service) attempt(ctx context.Context, adapter carriers.Adapter, req carriers.ShipmentRequest, strategy enums.RateStrategy) (*booking, error) {
	if adapter == nil || !adapter.IsConfigured() {
		return nil, carriers.ErrNotConfigured
	}
	rates, err := adapter.GetRates(ctx, carriers.RateRequest{
		Origin:        req.Origin,
		Destination:   req.Destination,
		Package:       req.Package,
		DeclaredValue: req.DeclaredValue,
	})
	if err != nil {
		return nil, err
	}
	rate, ok := carriers.SelectRate(rates, strategy)
	if !ok {
		return nil, ErrNoServiceableRate
	}
	req.Rate = rate

	result, err := adapter.CreateShipment(ctx, req)
	if err != nil {
		return nil, err
	}
	if !result.HasTrackingID() {
		assigned, err := adapter.AssignTrackingID(ctx, *result, rate)
		if err == nil && (assigned == nil || !assigned.HasTrackingID()) {
			err = errors.New("carrier returned no tracking id")
		}
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "tracking id not assigned; cancelling carrier booking")
			s.cancelBooking(ctx, adapter, *result)
			return nil, fmt.Errorf("assign tracking id: %w", err)
		}
		result = assigned
	}
	if result.LabelURL == "" {
		label, err := adapter.GenerateLabel(ctx, *result)
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "label generation failed")
		} else {
			result.LabelURL = label
		}
	}
	if result.CourierName == "" {
		result.CourierName = rate.Courier
	}
	if result.CourierCode == "" {
		result.CourierCode = rate.CourierID
	}
	return &booking{provider: adapter.Provider(), rate: rate, result: *result}, nil
}

// attach records the booked shipment on the order. If the order moved on
// meanwhile the carrier booking is cancelled so it does not linger unpaid.
func (s *Service) attach(ctx context.Context, order *models.Order, adapter carriers.Adapter, b *booking, attempts int) (*ShipmentOutcome, error) {
	cost := b.result.Cost
	if cost.IsZero() {
		cost = b.rate.Amount
	}
	updated, err := s.orders.AttachShipment(ctx, orders.ShipmentInput{
		OrderID:            order.ID,
		Provider:           b.provider,
		ProviderShipmentID: b.result.ProviderShipmentID,
		AWBCode:            b.result.TrackingID,
		CourierName:        b.result.CourierName,
		CourierCode:        b.result.CourierCode,
		LabelURL:           b.result.LabelURL,
		EstimatedDelivery:  b.result.EstimatedDelivery,
		Cost:               &cost,
	})
	if err != nil {
		s.logg.Error(ctx, "attach shipment failed; cancelling carrier booking", err)
		s.cancelBooking(ctx, adapter, b.result)
		return nil, err
	}

	if err := s.notifier.NotifyShipmentCreated(ctx, updated); err != nil {
		s.logg.Error(ctx, "shipment created notification failed", err)
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"tracking_id": b.result.TrackingID,
		"courier":     b.result.CourierName,
		"attempts":    attempts,
	}), "shipment created")

	rate := b.rate
	return &ShipmentOutcome{
		Order:             updated,
		Provider:          b.provider,
		TrackingID:        b.result.TrackingID,
		CourierName:       b.result.CourierName,
		LabelURL:          b.result.LabelURL,
		Rate:              &rate,
		EstimatedDelivery: b.result.EstimatedDelivery,
		Attempts:          attempts,
	}, nil
}

// cancelBooking voids a carrier booking no order will reference.
func (s *Service) cancelBooking(ctx context.Context, adapter carriers.Adapter, result carriers.ShipmentResult) {
	ctx, cancel := settle(ctx)
	defer cancel()
	if err := adapter.CancelShipment(ctx, result.Ref()); err != nil {
		s.logg.Error(ctx, "cancel orphaned carrier booking failed", err)
	}
}

// fail ends a run that booked nothing. Background runs escalate; interactive
// runs hand the error back to the merchant.
func (s *Service) fail(ctx context.Context, order *models.Order, opts ShipmentOptions, provider enums.ShippingProvider, attempts int, cause error) error {
	if cause == nil {
		cause = errors.New("shipment not created")
	}
	if opts.Interactive {
		return classify(cause)
	}

	ctx, cancel := settle(ctx)
	defer cancel()
	s.metrics.IncEscalation(string(provider))
	failure := notifier.ShipmentFailure{
		Provider:  provider,
		Attempts:  attempts,
		LastError: lastError(cause),
	}
	if err := s.notifier.NotifyShipmentFailed(ctx, order, failure); err != nil {
		s.logg.Error(ctx, "shipment failed notification failed", err)
	}
	s.logg.Error(s.logg.WithField(ctx, "attempts", attempts), "shipment escalated to merchant", cause)
	return pkgerrors.Wrap(pkgerrors.CodeDependency, multierr.Append(ErrShipmentEscalated, cause), "shipment creation escalated")
}

// classify maps a failed interactive run onto an API error.
func classify(err error) error {
	switch {
	case errors.Is(err, carriers.ErrNotConfigured):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "shipping provider not configured")
	case errors.Is(err, carriers.ErrAuthenticationFailed):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "carrier rejected the stored credentials")
	case errors.Is(err, ErrNoServiceableRate):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "no courier serves this route")
	case errors.Is(err, ErrPickupAddressMissing):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "store pickup address missing")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "shipment creation timed out")
	case pkgerrors.As(err) != nil:
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "carrier could not create shipment")
}

func lastError(err error) string {
	all := multierr.Errors(err)
	if len(all) == 0 {
		return err.Error()
	}
	return all[len(all)-1].Error()
}

// terminal errors will fail the same way on every attempt.
func terminal(err error) bool {
	return errors.Is(err, carriers.ErrNotConfigured) ||
		errors.Is(err, carriers.ErrAuthenticationFailed) ||
		errors.Is(err, ErrNoServiceableRate) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func attemptResult(err error) string {
	switch {
	case errors.Is(err, ErrNoServiceableRate):
		return metrics.ResultNoRoute
	case errors.Is(err, carriers.ErrNotConfigured), errors.Is(err, carriers.ErrAuthenticationFailed):
		return metrics.ResultNotConfigured
	}
	return metrics.ResultFailure
}

func (s *Service) buildRequest(ctx context.Context, order *models.Order, opts ShipmentOptions, pickupLocation string) (carriers.ShipmentRequest, error) {
	store, err := s.stores.Load(ctx, order.StoreID)
	if err != nil {
		return carriers.ShipmentRequest{}, err
	}
	if store.PickupAddress == nil {
		return carriers.ShipmentRequest{}, ErrPickupAddressMissing
	}
	if err := order.ShippingAddress.Validate(); err != nil {
		return carriers.ShipmentRequest{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "order shipping address incomplete")
	}

	parcel := types.Package{}
	switch {
	case opts.Package != nil:
		parcel = *opts.Package
	case order.Package != nil:
		parcel = *order.Package
	}
	parcel = parcel.WithDefaults(s.defaultWeight)

	destination := order.ShippingAddress
	if destination.Name == "" {
		destination.Name = order.CustomerName
	}
	if destination.Phone == "" && order.CustomerPhone != nil {
		destination.Phone = *order.CustomerPhone
	}

	items := make([]carriers.ShipmentItem, 0, len(order.Items))
	for _, line := range order.Items {
		item := carriers.ShipmentItem{
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: decimal.New(line.UnitPriceCents, -2),
		}
		if line.SKU != nil {
			item.SKU = *line.SKU
		}
		items = append(items, item)
	}

	return carriers.ShipmentRequest{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		OrderDate:      order.CreatedAt,
		PickupLocation: pickupLocation,
		Origin:         *store.PickupAddress,
		Destination:    destination,
		CustomerEmail:  order.CustomerEmail,
		Package:        parcel,
		Items:          items,
		DeclaredValue:  decimal.New(order.TotalCents, -2),
		Currency:       order.Currency,
	}, nil
}

// QuoteRates asks every active carrier of the store to quote the order's
// parcel and merges the answers. Carriers that fail are reported in Failed;
// the call fails only when none of them answered.
func (s *Service) QuoteRates(ctx context.Context, cmd RateQuoteCommand) (*RateQuotes, error) {
	if cmd.StoreID == uuid.Nil || cmd.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store and order id required")
	}
	if cmd.Strategy != nil && !cmd.Strategy.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "strategy must be cheapest or fastest")
	}
	if cmd.Package != nil {
		if err := cmd.Package.Validate(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid package")
		}
	}

	order, err := s.ownedOrder(ctx, cmd.StoreID, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	ctx = s.logg.WithStoreID(ctx, order.StoreID.String())

	adapters, err := s.registry.ActiveAdapters(ctx, cmd.StoreID)
	if err != nil {
		return nil, err
	}
	if len(adapters) == 0 {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, carriers.ErrNotConfigured, "no carrier configured for this store")
	}

	strategy := enums.RateStrategyCheapest
	if cmd.Strategy != nil {
		strategy = *cmd.Strategy
	} else if res, err := s.registry.Resolve(ctx, cmd.StoreID, nil); err == nil && !res.Manual {
		strategy = res.Strategy
	}

	req, err := s.buildRequest(ctx, order, ShipmentOptions{Package: cmd.Package}, "")
	if err != nil {
		return nil, classify(err)
	}
	rateReq := carriers.RateRequest{
		Origin:        req.Origin,
		Destination:   req.Destination,
		Package:       req.Package,
		DeclaredValue: req.DeclaredValue,
	}

	quoteCtx := ctx
	if s.interactive.MaxElapsed > 0 {
		var cancel context.CancelFunc
		quoteCtx, cancel = context.WithTimeout(ctx, s.interactive.MaxElapsed)
		defer cancel()
	}

	lists := make([][]carriers.Rate, len(adapters))
	failures := make([]error, len(adapters))
	var g errgroup.Group
	for i, adapter := range adapters {
		g.Go(func() error {
			rates, err := adapter.GetRates(quoteCtx, rateReq)
			if err != nil {
				failures[i] = fmt.Errorf("%s: %w", adapter.Provider(), err)
				return nil
			}
			lists[i] = rates
			return nil
		})
	}
	_ = g.Wait()

	out := &RateQuotes{Strategy: strategy, Rates: carriers.MergeRates(lists...)}
	for i, err := range failures {
		if err == nil {
			continue
		}
		out.Failed = append(out.Failed, adapters[i].Provider())
		s.logg.Warn(s.logg.WithProvider(s.logg.WithField(ctx, "error", err.Error()), string(adapters[i].Provider())), "carrier quote failed")
	}
	if len(out.Failed) == len(adapters) {
		return nil, classify(multierr.Combine(failures...))
	}
	if best, ok := carriers.SelectRate(out.Rates, strategy); ok {
		out.Best = &best
	}
	return out, nil
}

// CancelShipment cancels the carrier booking of a processing order and
// clears its shipment fields so it can be shipped again.
func (s *Service) CancelShipment(ctx context.Context, storeID, orderID uuid.UUID) (*models.Order, error) {
	if storeID == uuid.Nil || orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store and order id required")
	}
	order, err := s.ownedOrder(ctx, storeID, orderID)
	if err != nil {
		return nil, err
	}
	if !order.HasShipment() || order.ShippingProvider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no carrier shipment")
	}
	if order.OrderStatus != enums.OrderStatusProcessing {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order in status %s cannot cancel its shipment", order.OrderStatus))
	}

	provider := *order.ShippingProvider
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	ctx = s.logg.WithProvider(ctx, string(provider))

	adapter, err := s.registry.AdapterFor(ctx, storeID, provider)
	if err != nil {
		return nil, err
	}
	awb := *order.AWBCode
	ref := carriers.ShipmentRef{TrackingID: awb}
	if order.ProviderShipmentID != nil {
		ref.ProviderShipmentID = *order.ProviderShipmentID
	}
	if order.CourierCode != nil {
		ref.CourierCode = *order.CourierCode
	}
	if err := adapter.CancelShipment(ctx, ref); err != nil {
		return nil, classify(err)
	}

	updated, err := s.orders.DetachShipment(ctx, order.ID, awb)
	if err != nil {
		return nil, err
	}
	if err := s.notifier.NotifyShipmentCancelled(ctx, updated, provider, awb); err != nil {
		s.logg.Error(ctx, "shipment cancelled notification failed", err)
	}
	s.logg.Info(s.logg.WithField(ctx, "tracking_id", awb), "shipment cancelled")
	return updated, nil
}

// ownedOrder hides orders of other stores behind not found.
func (s *Service) ownedOrder(ctx context.Context, storeID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.StoreID != storeID {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, orders.ErrOrderNotFound, "order not found")
	}
	return order, nil
}
