package enums

import "strings"

// ShippingProvider is the closed set of fulfillment providers a store can use.
type ShippingProvider string

const (
	ShippingProviderShiprocket ShippingProvider = "shiprocket"
	ShippingProviderDelhivery  ShippingProvider = "delhivery"
	ShippingProviderShippo     ShippingProvider = "shippo"
	// ShippingProviderSelf means the merchant ships by hand; it has no adapter.
	ShippingProviderSelf ShippingProvider = "self"
)

var shippingProviders = []ShippingProvider{
	ShippingProviderShiprocket,
	ShippingProviderDelhivery,
	ShippingProviderShippo,
	ShippingProviderSelf,
}

func (p ShippingProvider) String() string { return string(p) }

func (p ShippingProvider) IsValid() bool { return member(shippingProviders, p) }

// RequiresCredentials is false only for self fulfillment.
func (p ShippingProvider) RequiresCredentials() bool {
	return p.IsValid() && p != ShippingProviderSelf
}

// ParseShippingProvider is case and whitespace insensitive.
func ParseShippingProvider(value string) (ShippingProvider, error) {
	return parseMember("shipping provider", shippingProviders, strings.ToLower(strings.TrimSpace(value)))
}
