package tracking

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// LookupInput is the public tracking query. Email is optional; when given it
// must match the order's customer.
type LookupInput struct {
	StoreID     uuid.UUID
	OrderNumber string
	Email       string
}

// View is what a customer sees. It never carries prices or addresses.
type View struct {
	OrderNumber       string                  `json:"order_number"`
	OrderStatus       enums.OrderStatus       `json:"order_status"`
	TrackingStatus    *enums.TrackingStatus   `json:"tracking_status,omitempty"`
	Provider          *enums.ShippingProvider `json:"provider,omitempty"`
	TrackingID        *string                 `json:"tracking_id,omitempty"`
	CourierName       *string                 `json:"courier_name,omitempty"`
	EstimatedDelivery *time.Time              `json:"estimated_delivery_date,omitempty"`
	ShippedAt         *time.Time              `json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time              `json:"delivered_at,omitempty"`
	Events            []EventView             `json:"events"`
}

type EventView struct {
	Status      enums.TrackingStatus `json:"status"`
	Description string               `json:"description"`
	Location    *string              `json:"location,omitempty"`
	OccurredAt  time.Time            `json:"occurred_at"`
}

// SyncReport summarizes one batch refresh.
type SyncReport struct {
	Checked  int
	Advanced int
	Failed   int
}

func toView(order *models.Order, events []models.ShipmentEvent) *View {
	view := &View{
		OrderNumber:       order.OrderNumber,
		OrderStatus:       order.OrderStatus,
		TrackingStatus:    order.TrackingStatus,
		Provider:          order.ShippingProvider,
		TrackingID:        order.AWBCode,
		CourierName:       order.CourierName,
		EstimatedDelivery: order.EstimatedDeliveryDate,
		ShippedAt:         order.ShippedAt,
		DeliveredAt:       order.DeliveredAt,
		Events:            make([]EventView, 0, len(events)),
	}
	for _, ev := range events {
		view.Events = append(view.Events, EventView{
			Status:      ev.Status,
			Description: ev.Description,
			Location:    ev.Location,
			OccurredAt:  ev.EventDate,
		})
	}
	return view
}
