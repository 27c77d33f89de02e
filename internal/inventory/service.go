// Package inventory keeps per-product stock counts in step with the order
// lifecycle. A reservation holds stock (reserved_qty) for an unpaid order;
// payment commits it with Reduce and drops the hold with Release.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Item is one product quantity moving through the ledger.
type Item struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Quantity  int
}

// ItemsFromOrder converts order lines into ledger items.
func ItemsFromOrder(order *models.Order) []Item {
	if order == nil {
		return nil
	}
	items := make([]Item, 0, len(order.Items))
	for _, line := range order.Items {
		items = append(items, Item{ProductID: line.ProductID, VariantID: line.VariantID, Quantity: line.Quantity})
	}
	return items
}

// ReduceResult lists the items whose stock hit the zero floor.
type ReduceResult struct {
	Clamped   []Item
	Untracked []Item
}

type Service interface {
	Reserve(ctx context.Context, orderID uuid.UUID, items []Item, ttl time.Duration) error
	Reduce(ctx context.Context, items []Item) (*ReduceResult, error)
	Release(ctx context.Context, orderID uuid.UUID) (int, error)
	Restore(ctx context.Context, items []Item) error
	ExpiredReservations(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
}

type ServiceParams struct {
	Repo     *Repository
	TxRunner txRunner
	Logger   *logger.Logger
	Clock    func() time.Time
}

type service struct {
	repo *Repository
	tx   txRunner
	logg *logger.Logger
	now  func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("inventory repository required")
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
		logg: params.Logger,
		now:  func() time.Time { return now().UTC() },
	}, nil
}

func validate(items []Item) error {
	for _, item := range items {
		if item.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
		}
		if item.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity for product %s must be positive", item.ProductID))
		}
	}
	return nil
}

// Reserve places checkout holds for an order. Existing active holds for the
// same (order, product, variant) are left as they are.
func (s *service) Reserve(ctx context.Context, orderID uuid.UUID, items []Item, ttl time.Duration) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if ttl <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "reservation ttl must be positive")
	}
	if err := validate(items); err != nil {
		return err
	}

	expiresAt := s.now().Add(ttl)
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		for _, item := range items {
			if _, err := repo.FindActiveReservation(ctx, orderID, item.ProductID, item.VariantID); err == nil {
				continue
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load reservation")
			}

			stock, err := repo.FindItem(ctx, item.ProductID, item.VariantID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no inventory for product %s", item.ProductID))
				}
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load inventory")
			}
			if stock.AvailableQty-stock.ReservedQty < item.Quantity {
				return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("insufficient stock for product %s", item.ProductID))
			}

			if err := repo.CreateReservation(ctx, &models.InventoryReservation{
				OrderID:   orderID,
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				Quantity:  item.Quantity,
				ExpiresAt: expiresAt,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create reservation")
			}
			if _, err := repo.AdjustReserved(ctx, item.ProductID, item.VariantID, item.Quantity); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hold stock")
			}
		}
		return nil
	})
}

// Reduce permanently decrements stock. Shortfalls clamp at zero and are
// logged; they never fail the call.
func (s *service) Reduce(ctx context.Context, items []Item) (*ReduceResult, error) {
	if err := validate(items); err != nil {
		return nil, err
	}

	result := &ReduceResult{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		for _, item := range items {
			stock, err := repo.FindItem(ctx, item.ProductID, item.VariantID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					result.Untracked = append(result.Untracked, item)
					continue
				}
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load inventory")
			}
			if stock.AvailableQty < item.Quantity {
				result.Clamped = append(result.Clamped, item)
			}
			if _, err := repo.DecrementAvailable(ctx, item.ProductID, item.VariantID, item.Quantity); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reduce inventory")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, item := range result.Clamped {
		s.warn(ctx, "inventory clamped at zero", item)
	}
	for _, item := range result.Untracked {
		s.warn(ctx, "inventory row missing; reduce skipped", item)
	}
	return result, nil
}

// Release drops every active hold of the order. A second call finds no
// active holds and releases nothing.
func (s *service) Release(ctx context.Context, orderID uuid.UUID) (int, error) {
	if orderID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	released := 0
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		holds, err := repo.ActiveReservations(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load reservations")
		}
		now := s.now()
		for _, hold := range holds {
			rows, err := repo.MarkReleased(ctx, hold.ID, now)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release reservation")
			}
			if rows == 0 {
				continue
			}
			if _, err := repo.AdjustReserved(ctx, hold.ProductID, hold.VariantID, -hold.Quantity); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "drop hold")
			}
			released++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

// Restore reverses a previous Reduce.
func (s *service) Restore(ctx context.Context, items []Item) error {
	if err := validate(items); err != nil {
		return err
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		for _, item := range items {
			rows, err := repo.IncrementAvailable(ctx, item.ProductID, item.VariantID, item.Quantity)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "restore inventory")
			}
			if rows == 0 {
				s.warn(ctx, "inventory row missing; restore skipped", item)
			}
		}
		return nil
	})
}

func (s *service) ExpiredReservations(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	ids, err := s.repo.ExpiredOrderIDs(ctx, before.UTC(), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list expired reservations")
	}
	return ids, nil
}

func (s *service) warn(ctx context.Context, msg string, item Item) {
	if s.logg == nil {
		return
	}
	fields := map[string]any{
		"product_id": item.ProductID.String(),
		"quantity":   item.Quantity,
	}
	if item.VariantID != nil {
		fields["variant_id"] = item.VariantID.String()
	}
	s.logg.Warn(s.logg.WithFields(ctx, fields), msg)
}
