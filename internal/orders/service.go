package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
)

var (
	// ErrOrderNotFound is terminal: retrying a missing order is never correct.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidTransition is returned when the current state forbids the
	// requested change.
	ErrInvalidTransition = errors.New("invalid order transition")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the only writer of order payment and fulfillment status.
type Service interface {
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	GetByNumber(ctx context.Context, storeID uuid.UUID, orderNumber string) (*models.Order, error)
	GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Order, error)
	MarkPaid(ctx context.Context, orderID uuid.UUID, gatewayRef string) (*MarkPaidResult, error)
	MarkExpiredOrCancelled(ctx context.Context, orderID uuid.UUID) (bool, error)
	RecordRefund(ctx context.Context, input RefundInput) (*RefundResult, error)
	AttachShipment(ctx context.Context, input ShipmentInput) (*models.Order, error)
	DetachShipment(ctx context.Context, orderID uuid.UUID, awb string) (*models.Order, error)
	MarkManualFulfillment(ctx context.Context, orderID uuid.UUID) error
	RecordTracking(ctx context.Context, input TrackingInput) (*TrackingUpdate, error)
	ListShipmentEvents(ctx context.Context, orderID uuid.UUID) ([]models.ShipmentEvent, error)
	ListTrackable(ctx context.Context, syncedBefore time.Time, limit int) ([]models.Order, error)
}

type ServiceParams struct {
	Repo     Repository
	TxRunner txRunner
	Clock    func() time.Time
}

type service struct {
	repo Repository
	tx   txRunner
	now  func() time.Time
}

// NewService builds the order state machine.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &service{
		repo: params.Repo,
		tx:   params.TxRunner,
		now:  func() time.Time { return now().UTC() },
	}, nil
}

func notFound(orderID uuid.UUID) error {
	return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrOrderNotFound, fmt.Sprintf("order %s not found", orderID))
}

func invalidTransition(format string, args ...any) error {
	return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrInvalidTransition, fmt.Sprintf(format, args...))
}

func (s *service) load(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(orderID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return order, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	return s.load(ctx, s.repo, orderID)
}

func (s *service) GetByNumber(ctx context.Context, storeID uuid.UUID, orderNumber string) (*models.Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if storeID == uuid.Nil || orderNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id and order number required")
	}
	order, err := s.repo.FindByNumber(ctx, storeID, orderNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrOrderNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return order, nil
}

// GetByPaymentIntent resolves refunds whose charge carries no order metadata.
func (s *service) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Order, error) {
	paymentIntentID = strings.TrimSpace(paymentIntentID)
	if paymentIntentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}
	order, err := s.repo.FindByPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrOrderNotFound, "order not found for payment intent")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return order, nil
}

// MarkPaid moves payment pending -> paid and order -> confirmed. Only the
// caller whose conditional update lands gets Fresh=true; every later call
// for a paid or refunded order is a quiet no-op.
func (s *service) MarkPaid(ctx context.Context, orderID uuid.UUID, gatewayRef string) (*MarkPaidResult, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var result MarkPaidResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		updates := map[string]any{
			"payment_status": enums.PaymentStatusPaid,
			"order_status":   enums.OrderStatusConfirmed,
			"paid_at":        s.now(),
		}
		if ref := strings.TrimSpace(gatewayRef); ref != "" {
			updates["payment_intent_id"] = gorm.Expr("COALESCE(payment_intent_id, ?)", ref)
		}
		rows, err := repo.UpdateWhere(ctx, orderID, Guard{
			PaymentStatuses: []string{string(enums.PaymentStatusPending)},
			OrderStatuses:   []string{string(enums.OrderStatusPending)},
		}, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order paid")
		}

		order, err := s.load(ctx, repo, orderID)
		if err != nil {
			return err
		}
		result.Order = order
		if rows == 1 {
			result.Fresh = true
			return nil
		}

		switch order.PaymentStatus {
		case enums.PaymentStatusPaid, enums.PaymentStatusRefunded:
			return nil
		default:
			return invalidTransition("order %s payment %s cannot become paid", order.OrderNumber, order.PaymentStatus)
		}
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// MarkExpiredOrCancelled only acts on orders whose payment is still pending,
// so a late expiry after confirmation is a no-op.
func (s *service) MarkExpiredOrCancelled(ctx context.Context, orderID uuid.UUID) (bool, error) {
	if orderID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	now := s.now()
	rows, err := s.repo.UpdateWhere(ctx, orderID, Guard{
		PaymentStatuses: []string{string(enums.PaymentStatusPending)},
		OrderStatuses:   []string{string(enums.OrderStatusPending), string(enums.OrderStatusConfirmed)},
	}, map[string]any{
		"payment_status": enums.PaymentStatusFailed,
		"order_status":   enums.OrderStatusCancelled,
		"cancelled_at":   now,
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel order")
	}
	if rows == 1 {
		return true, nil
	}
	if _, err := s.load(ctx, s.repo, orderID); err != nil {
		return false, err
	}
	return false, nil
}

// RecordRefund appends the refund row and, for a full refund of a paid
// order, moves both statuses to refunded. Redelivery of the same gateway
// refund records nothing.
func (s *service) RecordRefund(ctx context.Context, input RefundInput) (*RefundResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	if strings.TrimSpace(input.GatewayRef) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund gateway reference required")
	}

	var result RefundResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}

		inserted, err := repo.InsertRefund(ctx, &models.OrderRefund{
			OrderID:     order.ID,
			AmountCents: input.AmountCents,
			IsFull:      input.IsFull,
			GatewayRef:  input.GatewayRef,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert refund")
		}
		if !inserted {
			result.Order = order
			return nil
		}
		result.Recorded = true

		updates := map[string]any{
			"refunded_cents": gorm.Expr("refunded_cents + ?", input.AmountCents),
		}
		if _, err := repo.UpdateWhere(ctx, order.ID, Guard{}, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "increment refunded amount")
		}

		if input.IsFull {
			rows, err := repo.UpdateWhere(ctx, order.ID, Guard{
				PaymentStatuses: []string{string(enums.PaymentStatusPaid)},
			}, map[string]any{
				"payment_status": enums.PaymentStatusRefunded,
				"order_status":   enums.OrderStatusRefunded,
			})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order refunded")
			}
			result.StatusChanged = rows == 1
		}

		result.Order, err = s.load(ctx, repo, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// AttachShipment writes the carrier fields and moves a confirmed order to
// processing. Attaching the same AWB again returns the order unchanged.
func (s *service) AttachShipment(ctx context.Context, input ShipmentInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Provider.IsValid() || input.Provider == enums.ShippingProviderSelf {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "carrier provider required")
	}
	if strings.TrimSpace(input.AWBCode) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tracking id required")
	}

	var out *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}

		if order.HasShipment() {
			if *order.AWBCode == input.AWBCode && order.ShippingProvider != nil && *order.ShippingProvider == input.Provider {
				out = order
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeConflict, ErrInvalidTransition,
				fmt.Sprintf("order %s already has shipment %s", order.OrderNumber, *order.AWBCode))
		}
		if order.PaymentStatus != enums.PaymentStatusPaid {
			return invalidTransition("order %s is not paid", order.OrderNumber)
		}
		if order.OrderStatus != enums.OrderStatusConfirmed && order.OrderStatus != enums.OrderStatusProcessing {
			return invalidTransition("order %s in status %s cannot take a shipment", order.OrderNumber, order.OrderStatus)
		}

		updates := map[string]any{
			"order_status":         enums.OrderStatusProcessing,
			"shipping_provider":    input.Provider,
			"awb_code":             input.AWBCode,
			"provider_shipment_id": nullable(input.ProviderShipmentID),
			"courier_name":         nullable(input.CourierName),
			"courier_code":         nullable(input.CourierCode),
			"label_url":            nullable(input.LabelURL),
			"tracking_status":      enums.TrackingStatusPending,
		}
		if input.EstimatedDelivery != nil {
			updates["estimated_delivery_date"] = input.EstimatedDelivery.UTC()
		}
		if input.Cost != nil {
			updates["shipping_cost"] = *input.Cost
		}
		rows, err := repo.UpdateWhere(ctx, order.ID, Guard{Version: order.Version}, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "attach shipment")
		}
		if rows == 0 {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, ErrInvalidTransition, "order changed while attaching shipment")
		}
		out, err = s.load(ctx, repo, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DetachShipment clears the carrier fields after a cancellation so the
// merchant can ship again. Shipped orders cannot be detached.
func (s *service) DetachShipment(ctx context.Context, orderID uuid.UUID, awb string) (*models.Order, error) {
	if orderID == uuid.Nil || strings.TrimSpace(awb) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and tracking id required")
	}
	rows, err := s.repo.UpdateWhere(ctx, orderID, Guard{
		OrderStatuses: []string{string(enums.OrderStatusProcessing)},
		AWBCode:       &awb,
	}, map[string]any{
		"awb_code":                nil,
		"provider_shipment_id":    nil,
		"courier_name":            nil,
		"courier_code":            nil,
		"label_url":               nil,
		"shipping_cost":           nil,
		"estimated_delivery_date": nil,
		"tracking_status":         enums.TrackingStatusCancelled,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "detach shipment")
	}
	order, err := s.load(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, invalidTransition("order %s has no cancellable shipment %s", order.OrderNumber, awb)
	}
	return order, nil
}

// MarkManualFulfillment records that the merchant ships by hand.
func (s *service) MarkManualFulfillment(ctx context.Context, orderID uuid.UUID) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if order.HasShipment() {
			return invalidTransition("order %s already has a carrier shipment", order.OrderNumber)
		}
		if order.ShippingProvider != nil && *order.ShippingProvider == enums.ShippingProviderSelf {
			return nil
		}
		_, err = repo.UpdateWhere(ctx, orderID, Guard{Version: order.Version}, map[string]any{
			"shipping_provider": enums.ShippingProviderSelf,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark manual fulfillment")
		}
		return nil
	})
}

// RecordTracking appends new scans and advances the order along
// processing -> shipped -> delivered. Older or off-path scans never move an
// order backwards.
func (s *service) RecordTracking(ctx context.Context, input TrackingInput) (*TrackingUpdate, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var result TrackingUpdate
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}

		events := make([]models.ShipmentEvent, 0, len(input.Events))
		for _, ev := range input.Events {
			if ev.OccurredAt.IsZero() {
				continue
			}
			row := models.ShipmentEvent{
				OrderID:     order.ID,
				Status:      ev.Status,
				Description: ev.Description,
				EventDate:   ev.OccurredAt.UTC(),
			}
			if loc := strings.TrimSpace(ev.Location); loc != "" {
				row.Location = &loc
			}
			events = append(events, row)
		}
		inserted, err := repo.InsertShipmentEvents(ctx, events)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert shipment events")
		}
		result.Inserted = inserted

		now := s.now()
		updates := map[string]any{
			"tracking_status":    input.Status,
			"tracking_synced_at": now,
		}
		if target, ok := input.Status.OrderStatus(); ok && advances(order.OrderStatus, target) {
			updates["order_status"] = target
			if order.ShippedAt == nil {
				updates["shipped_at"] = now
			}
			if target == enums.OrderStatusDelivered {
				updates["delivered_at"] = now
			}
			result.StatusChanged = true
		}

		rows, err := repo.UpdateWhere(ctx, order.ID, Guard{Version: order.Version}, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update tracking status")
		}
		if rows == 0 {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, ErrInvalidTransition, "order changed while recording tracking")
		}
		result.Order, err = s.load(ctx, repo, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// advances reports whether a tracking-driven move from current to target is
// forward along the fulfillment path. Only orders with a shipment in flight
// are eligible.
func advances(current, target enums.OrderStatus) bool {
	if current != enums.OrderStatusProcessing && current != enums.OrderStatusShipped {
		return false
	}
	return target.Rank() > current.Rank()
}

func (s *service) ListShipmentEvents(ctx context.Context, orderID uuid.UUID) ([]models.ShipmentEvent, error) {
	events, err := s.repo.ListShipmentEvents(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list shipment events")
	}
	return events, nil
}

func (s *service) ListTrackable(ctx context.Context, syncedBefore time.Time, limit int) ([]models.Order, error) {
	out, err := s.repo.ListTrackable(ctx, syncedBefore.UTC(), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list trackable orders")
	}
	return out, nil
}

func nullable(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return value
}
