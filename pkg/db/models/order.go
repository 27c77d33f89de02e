package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

// Order is the merchant order driven through payment and fulfillment.
// PaymentStatus and OrderStatus are only written by the orders package.
type Order struct {
	ID                    uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	StoreID               uuid.UUID               `gorm:"column:store_id;type:uuid;not null"`
	OrderNumber           string                  `gorm:"column:order_number;not null"`
	PaymentStatus         enums.PaymentStatus     `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	OrderStatus           enums.OrderStatus       `gorm:"column:order_status;type:text;not null;default:'pending'"`
	SubtotalCents         int64                   `gorm:"column:subtotal_cents;not null"`
	ShippingCents         int64                   `gorm:"column:shipping_cents;not null;default:0"`
	TaxCents              int64                   `gorm:"column:tax_cents;not null;default:0"`
	TotalCents            int64                   `gorm:"column:total_cents;not null"`
	RefundedCents         int64                   `gorm:"column:refunded_cents;not null;default:0"`
	Currency              string                  `gorm:"column:currency;not null;default:'INR'"`
	CustomerName          string                  `gorm:"column:customer_name;not null"`
	CustomerEmail         string                  `gorm:"column:customer_email;not null"`
	CustomerPhone         *string                 `gorm:"column:customer_phone"`
	ShippingAddress       types.ShippingAddress   `gorm:"column:shipping_address;type:jsonb;serializer:json;not null"`
	Package               *types.Package          `gorm:"column:package;type:jsonb;serializer:json"`
	PaymentIntentID       *string                 `gorm:"column:payment_intent_id"`
	PaidAt                *time.Time              `gorm:"column:paid_at"`
	CancelledAt           *time.Time              `gorm:"column:cancelled_at"`
	ShippingProvider      *enums.ShippingProvider `gorm:"column:shipping_provider;type:text"`
	ProviderShipmentID    *string                 `gorm:"column:provider_shipment_id"`
	AWBCode               *string                 `gorm:"column:awb_code"`
	CourierName           *string                 `gorm:"column:courier_name"`
	CourierCode           *string                 `gorm:"column:courier_code"`
	LabelURL              *string                 `gorm:"column:label_url"`
	ShippingCost          *decimal.Decimal        `gorm:"column:shipping_cost;type:numeric(12,2)"`
	EstimatedDeliveryDate *time.Time              `gorm:"column:estimated_delivery_date"`
	TrackingStatus        *enums.TrackingStatus   `gorm:"column:tracking_status;type:text"`
	TrackingSyncedAt      *time.Time              `gorm:"column:tracking_synced_at"`
	ShippedAt             *time.Time              `gorm:"column:shipped_at"`
	DeliveredAt           *time.Time              `gorm:"column:delivered_at"`
	Version               int                     `gorm:"column:version;not null;default:1"`
	Items                 []OrderItem             `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt             time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// HasShipment reports whether a carrier shipment is already attached.
func (o *Order) HasShipment() bool {
	return o.AWBCode != nil && *o.AWBCode != ""
}

// OrderItem is an immutable order line.
type OrderItem struct {
	ID             uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID  `gorm:"column:order_id;type:uuid;not null"`
	ProductID      uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	VariantID      *uuid.UUID `gorm:"column:variant_id;type:uuid"`
	Name           string     `gorm:"column:name;not null"`
	SKU            *string    `gorm:"column:sku"`
	Quantity       int        `gorm:"column:quantity;not null"`
	UnitPriceCents int64      `gorm:"column:unit_price_cents;not null"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// OrderRefund records one refund notification from the gateway.
type OrderRefund struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID `gorm:"column:order_id;type:uuid;not null"`
	AmountCents int64     `gorm:"column:amount_cents;not null"`
	IsFull      bool      `gorm:"column:is_full;not null;default:false"`
	GatewayRef  string    `gorm:"column:gateway_ref;not null;uniqueIndex"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}
