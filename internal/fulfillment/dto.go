package fulfillment

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/carriers"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

var (
	// ErrShipmentEscalated is returned once every attempt failed and the
	// merchant was told to ship by hand.
	ErrShipmentEscalated = errors.New("shipment creation escalated")
	// ErrNoServiceableRate means no courier quoted the route.
	ErrNoServiceableRate = errors.New("no serviceable courier for route")
	// ErrPickupAddressMissing means the store has no origin to ship from.
	ErrPickupAddressMissing = errors.New("store pickup address missing")
)

// ShipmentOptions tunes one CreateShipmentWithRetry run. Zero values fall
// back to the store configuration and the order's parcel.
type ShipmentOptions struct {
	Policy   RetryPolicy
	Provider *enums.ShippingProvider
	Strategy *enums.RateStrategy
	Package  *types.Package
	// Interactive runs report failure to the caller instead of escalating.
	Interactive bool
}

// ShipmentCommand is the merchant dashboard request to ship an order.
type ShipmentCommand struct {
	StoreID  uuid.UUID
	OrderID  uuid.UUID
	Provider *enums.ShippingProvider
	Strategy *enums.RateStrategy
	Package  *types.Package
}

// ShipmentOutcome describes a finished shipment run.
type ShipmentOutcome struct {
	Order             *models.Order
	Manual            bool
	Provider          enums.ShippingProvider
	TrackingID        string
	CourierName       string
	LabelURL          string
	Rate              *carriers.Rate
	EstimatedDelivery *time.Time
	Attempts          int
}

// RateQuoteCommand asks the store's carriers to price an order.
type RateQuoteCommand struct {
	StoreID  uuid.UUID
	OrderID  uuid.UUID
	Strategy *enums.RateStrategy
	Package  *types.Package
}

// RateQuotes holds every carrier's quotes and the one the strategy picks.
// Best is nil when no quote is usable.
type RateQuotes struct {
	Rates    []carriers.Rate
	Best     *carriers.Rate
	Strategy enums.RateStrategy
	Failed   []enums.ShippingProvider
}
