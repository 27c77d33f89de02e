package shipping

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/carriers"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// Resolution is the outcome of Resolve. Manual means the merchant ships by
// hand and no adapter is returned.
type Resolution struct {
	Manual         bool
	Provider       enums.ShippingProvider
	Adapter        carriers.Adapter
	Strategy       enums.RateStrategy
	PickupLocation string
}

// SaveInput carries a credential write from merchant settings.
type SaveInput struct {
	StoreID        uuid.UUID
	Provider       enums.ShippingProvider
	Credentials    json.RawMessage
	PickupLocation string
	RateStrategy   enums.RateStrategy
	IsDefault      bool
	IsActive       *bool
}

// ProviderConfigDTO never exposes credentials.
type ProviderConfigDTO struct {
	Provider        enums.ShippingProvider `json:"provider"`
	IsActive        bool                   `json:"is_active"`
	IsDefault       bool                   `json:"is_default"`
	HasCredentials  bool                   `json:"has_credentials"`
	PickupLocation  *string                `json:"pickup_location,omitempty"`
	RateStrategy    enums.RateStrategy     `json:"rate_strategy"`
	LastValidatedAt *time.Time             `json:"last_validated_at,omitempty"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

func configToDTO(m models.ShippingProviderConfig) ProviderConfigDTO {
	return ProviderConfigDTO{
		Provider:        m.Provider,
		IsActive:        m.IsActive,
		IsDefault:       m.IsDefault,
		HasCredentials:  m.Credentials != "",
		PickupLocation:  m.PickupLocation,
		RateStrategy:    m.RateStrategy,
		LastValidatedAt: m.LastValidatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
