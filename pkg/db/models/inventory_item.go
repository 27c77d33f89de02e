package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryItem tracks available/reserved counts per product variant.
type InventoryItem struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID    uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	VariantID    *uuid.UUID `gorm:"column:variant_id;type:uuid"`
	AvailableQty int        `gorm:"column:available_qty;not null;default:0"`
	ReservedQty  int        `gorm:"column:reserved_qty;not null;default:0"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// InventoryReservation holds stock for an unpaid order until it expires or
// is released.
type InventoryReservation struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID    uuid.UUID  `gorm:"column:order_id;type:uuid;not null"`
	ProductID  uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	VariantID  *uuid.UUID `gorm:"column:variant_id;type:uuid"`
	Quantity   int        `gorm:"column:quantity;not null"`
	ExpiresAt  time.Time  `gorm:"column:expires_at;not null"`
	ReleasedAt *time.Time `gorm:"column:released_at"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
}
