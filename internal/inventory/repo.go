package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func variantScope(variantID *uuid.UUID) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if variantID == nil {
			return db.Where("variant_id IS NULL")
		}
		return db.Where("variant_id = ?", *variantID)
	}
}

// FindItem loads a stock row. Inside a transaction on Postgres the row is
// locked FOR UPDATE, so concurrent holds on one product serialize between
// the availability check and the reserved_qty bump.
func (r *Repository) FindItem(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (*models.InventoryItem, error) {
	var item models.InventoryItem
	query := r.db.WithContext(ctx)
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := query.
		Scopes(variantScope(variantID)).
		Where("product_id = ?", productID).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) UpsertItem(ctx context.Context, item *models.InventoryItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(item).Error
}

// DecrementAvailable subtracts qty, flooring the stored count at zero.
func (r *Repository) DecrementAvailable(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID, qty int) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.InventoryItem{}).
		Scopes(variantScope(variantID)).
		Where("product_id = ?", productID).
		Update("available_qty", gorm.Expr("CASE WHEN available_qty >= ? THEN available_qty - ? ELSE 0 END", qty, qty))
	return res.RowsAffected, res.Error
}

func (r *Repository) IncrementAvailable(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID, qty int) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.InventoryItem{}).
		Scopes(variantScope(variantID)).
		Where("product_id = ?", productID).
		Update("available_qty", gorm.Expr("available_qty + ?", qty))
	return res.RowsAffected, res.Error
}

func (r *Repository) AdjustReserved(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID, delta int) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.InventoryItem{}).
		Scopes(variantScope(variantID)).
		Where("product_id = ?", productID).
		Update("reserved_qty", gorm.Expr("CASE WHEN reserved_qty + ? >= 0 THEN reserved_qty + ? ELSE 0 END", delta, delta))
	return res.RowsAffected, res.Error
}

func (r *Repository) CreateReservation(ctx context.Context, reservation *models.InventoryReservation) error {
	if reservation.ID == uuid.Nil {
		reservation.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(reservation).Error
}

func (r *Repository) FindActiveReservation(ctx context.Context, orderID, productID uuid.UUID, variantID *uuid.UUID) (*models.InventoryReservation, error) {
	var reservation models.InventoryReservation
	err := r.db.WithContext(ctx).
		Scopes(variantScope(variantID)).
		Where("order_id = ? AND product_id = ? AND released_at IS NULL", orderID, productID).
		First(&reservation).Error
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *Repository) ActiveReservations(ctx context.Context, orderID uuid.UUID) ([]models.InventoryReservation, error) {
	var out []models.InventoryReservation
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND released_at IS NULL", orderID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkReleased stamps released_at only if nobody else released it first.
func (r *Repository) MarkReleased(ctx context.Context, reservationID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.InventoryReservation{}).
		Where("id = ? AND released_at IS NULL", reservationID).
		Update("released_at", at)
	return res.RowsAffected, res.Error
}

// ExpiredOrderIDs lists orders still holding reservations past expiry.
func (r *Repository) ExpiredOrderIDs(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	q := r.db.WithContext(ctx).
		Model(&models.InventoryReservation{}).
		Distinct("order_id").
		Where("released_at IS NULL AND expires_at < ?", before).
		Order("order_id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("order_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
