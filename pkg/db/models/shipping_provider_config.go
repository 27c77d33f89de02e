package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// ShippingProviderConfig stores a merchant's carrier account. Credentials is
// the sealed JSON blob produced by the security cipher and never leaves the
// shipping package in clear text.
type ShippingProviderConfig struct {
	ID              uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	StoreID         uuid.UUID              `gorm:"column:store_id;type:uuid;not null"`
	Provider        enums.ShippingProvider `gorm:"column:provider;type:text;not null"`
	IsActive        bool                   `gorm:"column:is_active;not null;default:true"`
	IsDefault       bool                   `gorm:"column:is_default;not null;default:false"`
	Credentials     string                 `gorm:"column:credentials;type:text;not null;default:''"`
	PickupLocation  *string                `gorm:"column:pickup_location"`
	RateStrategy    enums.RateStrategy     `gorm:"column:rate_strategy;type:text;not null;default:'cheapest'"`
	LastValidatedAt *time.Time             `gorm:"column:last_validated_at"`
	CreatedAt       time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
