package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	for i := range order.Items {
		if order.Items[i].ID == uuid.Nil {
			order.Items[i].ID = uuid.New()
		}
		order.Items[i].OrderID = order.ID
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByNumber(ctx context.Context, storeID uuid.UUID, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("store_id = ? AND order_number = ?", storeID, orderNumber).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("payment_intent_id = ?", paymentIntentID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) UpdateWhere(ctx context.Context, id uuid.UUID, guard Guard, updates map[string]any) (int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id)
	if len(guard.PaymentStatuses) > 0 {
		q = q.Where("payment_status IN ?", guard.PaymentStatuses)
	}
	if len(guard.OrderStatuses) > 0 {
		q = q.Where("order_status IN ?", guard.OrderStatuses)
	}
	if guard.Version > 0 {
		q = q.Where("version = ?", guard.Version)
	}
	if guard.AWBCode != nil {
		q = q.Where("awb_code = ?", *guard.AWBCode)
	}
	updates["version"] = gorm.Expr("version + 1")
	res := q.Updates(updates)
	return res.RowsAffected, res.Error
}

// InsertRefund reports false when a refund with the same gateway reference
// already exists.
func (r *repository) InsertRefund(ctx context.Context, refund *models.OrderRefund) (bool, error) {
	if refund.ID == uuid.Nil {
		refund.ID = uuid.New()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "gateway_ref"}}, DoNothing: true}).
		Create(refund)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) InsertShipmentEvents(ctx context.Context, events []models.ShipmentEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}
	for i := range events {
		if events[i].ID == uuid.Nil {
			events[i].ID = uuid.New()
		}
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}, {Name: "event_date"}, {Name: "status"}},
			DoNothing: true,
		}).
		Create(&events)
	return res.RowsAffected, res.Error
}

func (r *repository) ListShipmentEvents(ctx context.Context, orderID uuid.UUID) ([]models.ShipmentEvent, error) {
	var events []models.ShipmentEvent
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("event_date DESC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) ListTrackable(ctx context.Context, syncedBefore time.Time, limit int) ([]models.Order, error) {
	var out []models.Order
	q := r.db.WithContext(ctx).
		Where("awb_code IS NOT NULL AND awb_code <> ''").
		Where("order_status IN ?", []string{string(enums.OrderStatusProcessing), string(enums.OrderStatusShipped)}).
		Where("(tracking_synced_at IS NULL OR tracking_synced_at < ?)", syncedBefore).
		Order("tracking_synced_at ASC NULLS FIRST, created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
