package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

// Store is a merchant. WebhookSecret holds the sealed signing secret of the
// merchant's own payment gateway account, when they bring one.
type Store struct {
	ID            uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name          string                 `gorm:"column:name;not null"`
	Email         string                 `gorm:"column:email;not null"`
	Phone         *string                `gorm:"column:phone"`
	PickupAddress *types.ShippingAddress `gorm:"column:pickup_address;type:jsonb;serializer:json"`
	WebhookSecret *string                `gorm:"column:webhook_secret"`
	CreatedAt     time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
