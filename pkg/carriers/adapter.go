// Package carriers defines the capability surface every shipping provider
// implements and the helpers shared by the concrete clients.
package carriers

import (
	"context"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// Adapter is implemented once per shipping provider.
type Adapter interface {
	Provider() enums.ShippingProvider
	IsConfigured() bool
	// ValidateCredentials performs a live round-trip proving the credentials work.
	ValidateCredentials(ctx context.Context) error
	CheckServiceability(ctx context.Context, originPostalCode, destinationPostalCode string) (bool, error)
	// GetRates returns every serviceable quote. An empty slice means no
	// courier serves the route and is not an error.
	GetRates(ctx context.Context, req RateRequest) ([]Rate, error)
	CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResult, error)
	// AssignTrackingID completes a shipment that came back without a tracking id.
	AssignTrackingID(ctx context.Context, shipment ShipmentResult, rate Rate) (*ShipmentResult, error)
	TrackShipment(ctx context.Context, ref ShipmentRef) (*TrackingResult, error)
	CancelShipment(ctx context.Context, ref ShipmentRef) error
	GenerateLabel(ctx context.Context, shipment ShipmentResult) (string, error)
}

// TokenSlot is one (store, provider) entry of the session token cache.
// Providers that authenticate per session read and refresh it.
type TokenSlot interface {
	Load() (string, bool)
	Store(token string)
	Clear()
}
