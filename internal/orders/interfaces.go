package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
)

// Repository defines persistence operations for orders and their children.
// Every mutating call is a conditional update; callers read RowsAffected to
// learn whether they won the transition.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByNumber(ctx context.Context, storeID uuid.UUID, orderNumber string) (*models.Order, error)
	FindByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Order, error)
	UpdateWhere(ctx context.Context, id uuid.UUID, guard Guard, updates map[string]any) (int64, error)
	InsertRefund(ctx context.Context, refund *models.OrderRefund) (bool, error)
	InsertShipmentEvents(ctx context.Context, events []models.ShipmentEvent) (int64, error)
	ListShipmentEvents(ctx context.Context, orderID uuid.UUID) ([]models.ShipmentEvent, error)
	ListTrackable(ctx context.Context, syncedBefore time.Time, limit int) ([]models.Order, error)
}

// Guard narrows a conditional update to the state the caller observed.
type Guard struct {
	PaymentStatuses []string
	OrderStatuses   []string
	Version         int
	AWBCode         *string
}
