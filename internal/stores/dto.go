package stores

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

// StoreDTO is the merchant view of a store. Secrets are reduced to a flag.
type StoreDTO struct {
	ID               uuid.UUID              `json:"id"`
	Name             string                 `json:"name"`
	Email            string                 `json:"email"`
	Phone            *string                `json:"phone,omitempty"`
	PickupAddress    *types.ShippingAddress `json:"pickup_address,omitempty"`
	HasWebhookSecret bool                   `json:"has_webhook_secret"`
}

// FromModel maps a store model into the DTO.
func FromModel(m *models.Store) *StoreDTO {
	if m == nil {
		return nil
	}
	return &StoreDTO{
		ID:               m.ID,
		Name:             m.Name,
		Email:            m.Email,
		Phone:            m.Phone,
		PickupAddress:    m.PickupAddress,
		HasWebhookSecret: m.WebhookSecret != nil && *m.WebhookSecret != "",
	}
}
