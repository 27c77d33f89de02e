package shipping

import (
	"fmt"
	"net/http"

	"github.com/angelmondragon/fulfillment-backend/pkg/carriers"
	"github.com/angelmondragon/fulfillment-backend/pkg/carriers/delhivery"
	"github.com/angelmondragon/fulfillment-backend/pkg/carriers/shippo"
	"github.com/angelmondragon/fulfillment-backend/pkg/carriers/shiprocket"
	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
)

// AdapterFactory maps a provider kind and its decrypted credentials to an
// adapter.
type AdapterFactory interface {
	Build(provider enums.ShippingProvider, credentials []byte, slot carriers.TokenSlot) (carriers.Adapter, error)
}

type FactoryOption func(*Factory)

// WithFactoryHTTPClient shares one transport across every adapter.
func WithFactoryHTTPClient(client *http.Client) FactoryOption {
	return func(f *Factory) { f.httpClient = client }
}

// WithFactoryObserver records carrier call latency.
func WithFactoryObserver(fn carriers.CallObserver) FactoryOption {
	return func(f *Factory) { f.observer = fn }
}

// Factory is the closed mapping from enums.ShippingProvider to adapters.
type Factory struct {
	cfg        config.ShippingConfig
	httpClient *http.Client
	observer   carriers.CallObserver
}

func NewFactory(cfg config.ShippingConfig, opts ...FactoryOption) *Factory {
	f := &Factory{cfg: cfg}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Factory) options(baseURL string) []carriers.Option {
	opts := []carriers.Option{
		carriers.WithBaseURL(baseURL),
		carriers.WithRateLimit(f.cfg.CarrierRequestsPerSec, f.cfg.CarrierBurst),
	}
	if f.httpClient != nil {
		opts = append(opts, carriers.WithHTTPClient(f.httpClient))
	}
	if f.observer != nil {
		opts = append(opts, carriers.WithObserver(f.observer))
	}
	return opts
}

func (f *Factory) Build(provider enums.ShippingProvider, credentials []byte, slot carriers.TokenSlot) (carriers.Adapter, error) {
	switch provider {
	case enums.ShippingProviderShiprocket:
		creds, err := shiprocket.ParseCredentials(credentials)
		if err != nil {
			return nil, invalidCredentials(provider, err)
		}
		return shiprocket.New(creds, slot, f.options(f.cfg.ShiprocketBaseURL)...), nil
	case enums.ShippingProviderDelhivery:
		creds, err := delhivery.ParseCredentials(credentials)
		if err != nil {
			return nil, invalidCredentials(provider, err)
		}
		return delhivery.New(creds, f.options(f.cfg.DelhiveryBaseURL)...), nil
	case enums.ShippingProviderShippo:
		creds, err := shippo.ParseCredentials(credentials)
		if err != nil {
			return nil, invalidCredentials(provider, err)
		}
		return shippo.New(creds, f.options(f.cfg.ShippoBaseURL)...), nil
	case enums.ShippingProviderSelf:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "self fulfillment has no carrier adapter")
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported shipping provider %q", provider))
	}
}

func invalidCredentials(provider enums.ShippingProvider, err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("invalid %s credentials", provider))
}
