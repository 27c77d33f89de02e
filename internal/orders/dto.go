package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// MarkPaidResult reports whether this call performed the pending -> paid
// transition. Fresh is true for exactly one caller per order.
type MarkPaidResult struct {
	Order *models.Order
	Fresh bool
}

// RefundInput describes one refund notification from the gateway.
type RefundInput struct {
	OrderID     uuid.UUID
	AmountCents int64
	IsFull      bool
	// GatewayRef identifies the refund at the gateway and dedupes redelivery.
	GatewayRef string
}

type RefundResult struct {
	Order         *models.Order
	Recorded      bool
	StatusChanged bool
}

// ShipmentInput carries the carrier fields written by AttachShipment.
type ShipmentInput struct {
	OrderID            uuid.UUID
	Provider           enums.ShippingProvider
	ProviderShipmentID string
	AWBCode            string
	CourierName        string
	CourierCode        string
	LabelURL           string
	EstimatedDelivery  *time.Time
	Cost               *decimal.Decimal
}

// ShipmentEventInput is one normalized carrier scan.
type ShipmentEventInput struct {
	Status      enums.TrackingStatus
	Description string
	Location    string
	OccurredAt  time.Time
}

type TrackingInput struct {
	OrderID uuid.UUID
	Status  enums.TrackingStatus
	Events  []ShipmentEventInput
}

type TrackingUpdate struct {
	Order         *models.Order
	Inserted      int64
	StatusChanged bool
}
