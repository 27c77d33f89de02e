package carriers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

// Rate is one courier quote. Amount and CODCharges are in major currency units.
type Rate struct {
	Provider   enums.ShippingProvider `json:"provider"`
	Courier    string                 `json:"courier"`
	CourierID  string                 `json:"courier_id"`
	Amount     decimal.Decimal        `json:"amount"`
	Currency   string                 `json:"currency"`
	EtaDays    int                    `json:"eta_days"`
	CODCharges decimal.Decimal        `json:"cod_charges"`
}

type RateRequest struct {
	Origin        types.ShippingAddress
	Destination   types.ShippingAddress
	Package       types.Package
	DeclaredValue decimal.Decimal
	COD           bool
}

type ShipmentItem struct {
	Name      string
	SKU       string
	Quantity  int
	UnitPrice decimal.Decimal
}

type ShipmentRequest struct {
	OrderID        uuid.UUID
	OrderNumber    string
	OrderDate      time.Time
	PickupLocation string
	Origin         types.ShippingAddress
	Destination    types.ShippingAddress
	CustomerEmail  string
	Package        types.Package
	Items          []ShipmentItem
	DeclaredValue  decimal.Decimal
	Currency       string
	Rate           Rate
}

// ShipmentResult is what a carrier returned for a created shipment.
// TrackingID may be empty until AssignTrackingID runs.
type ShipmentResult struct {
	ProviderShipmentID string
	// ProviderOrderID is set by carriers that cancel unassigned bookings by
	// their own order id.
	ProviderOrderID    string
	TrackingID         string
	CourierName        string
	CourierCode        string
	LabelURL           string
	EstimatedDelivery  *time.Time
	Cost               decimal.Decimal
}

// HasTrackingID reports whether the carrier already assigned an AWB.
func (r ShipmentResult) HasTrackingID() bool {
	return r.TrackingID != ""
}

// ShipmentRef addresses an existing shipment for tracking or cancellation.
type ShipmentRef struct {
	TrackingID         string
	ProviderShipmentID string
	ProviderOrderID    string
	CourierCode        string
}

// Ref addresses the booked shipment.
func (r ShipmentResult) Ref() ShipmentRef {
	return ShipmentRef{
		TrackingID:         r.TrackingID,
		ProviderShipmentID: r.ProviderShipmentID,
		ProviderOrderID:    r.ProviderOrderID,
		CourierCode:        r.CourierCode,
	}
}

type TrackingEvent struct {
	Status      enums.TrackingStatus
	Description string
	Location    string
	OccurredAt  time.Time
}

type TrackingResult struct {
	TrackingID        string
	Status            enums.TrackingStatus
	RawStatus         string
	EstimatedDelivery *time.Time
	Events            []TrackingEvent
}
