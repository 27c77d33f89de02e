package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// ShipmentEvent is one append-only tracking scan for an order.
type ShipmentEvent struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID            `gorm:"column:order_id;type:uuid;not null"`
	Status      enums.TrackingStatus `gorm:"column:status;type:text;not null"`
	Description string               `gorm:"column:description;not null;default:''"`
	Location    *string              `gorm:"column:location"`
	EventDate   time.Time            `gorm:"column:event_date;not null"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime"`
}
