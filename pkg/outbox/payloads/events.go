package payloads

import (
	"time"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/google/uuid"
)

// OrderConfirmedEvent is emitted once per order when payment first lands.
type OrderConfirmedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	StoreID       uuid.UUID `json:"store_id"`
	OrderNumber   string    `json:"order_number"`
	CustomerEmail string    `json:"customer_email"`
	CustomerName  string    `json:"customer_name"`
	TotalCents    int64     `json:"total_cents"`
	Currency      string    `json:"currency"`
	PaidAt        time.Time `json:"paid_at"`
}

// ShipmentFailedEvent asks the merchant to ship an order by hand.
type ShipmentFailedEvent struct {
	OrderID     uuid.UUID              `json:"order_id"`
	StoreID     uuid.UUID              `json:"store_id"`
	OrderNumber string                 `json:"order_number"`
	Provider    enums.ShippingProvider `json:"provider,omitempty"`
	Attempts    int                    `json:"attempts"`
	LastError   string                 `json:"last_error"`
}

// RefundProcessedEvent reports a recorded refund to the merchant and buyer.
type RefundProcessedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	StoreID       uuid.UUID `json:"store_id"`
	OrderNumber   string    `json:"order_number"`
	CustomerEmail string    `json:"customer_email"`
	AmountCents   int64     `json:"amount_cents"`
	IsFull        bool      `json:"is_full"`
}

// ShipmentCreatedEvent tells the buyer their parcel has a tracking number.
type ShipmentCreatedEvent struct {
	OrderID       uuid.UUID              `json:"order_id"`
	StoreID       uuid.UUID              `json:"store_id"`
	OrderNumber   string                 `json:"order_number"`
	CustomerEmail string                 `json:"customer_email"`
	Provider      enums.ShippingProvider `json:"provider"`
	TrackingID    string                 `json:"tracking_id"`
	CourierName   string                 `json:"courier_name"`
}

// ShipmentCancelledEvent is emitted when a merchant voids a shipment.
type ShipmentCancelledEvent struct {
	OrderID     uuid.UUID              `json:"order_id"`
	StoreID     uuid.UUID              `json:"store_id"`
	OrderNumber string                 `json:"order_number"`
	Provider    enums.ShippingProvider `json:"provider"`
	TrackingID  string                 `json:"tracking_id"`
}

// OrderCancelledEvent reports an unpaid order that expired or was cancelled.
type OrderCancelledEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	StoreID     uuid.UUID `json:"store_id"`
	OrderNumber string    `json:"order_number"`
	CancelledAt time.Time `json:"cancelled_at"`
}
