package types

import (
	"fmt"
	"strings"
)

// ShippingAddress is the structured delivery address stored on an order.
type ShippingAddress struct {
	Name       string  `json:"name"`
	Phone      string  `json:"phone,omitempty"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      string  `json:"state"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
}

// Validate checks the fields every carrier needs.
func (a ShippingAddress) Validate() error {
	if strings.TrimSpace(a.Line1) == "" {
		return fmt.Errorf("address: missing line1")
	}
	if strings.TrimSpace(a.City) == "" {
		return fmt.Errorf("address: missing city")
	}
	if strings.TrimSpace(a.PostalCode) == "" {
		return fmt.Errorf("address: missing postal_code")
	}
	return nil
}

// CountryCode returns the upper-cased country, defaulting to IN.
func (a ShippingAddress) CountryCode() string {
	country := strings.ToUpper(strings.TrimSpace(a.Country))
	if country == "" {
		return "IN"
	}
	return country
}

// SingleLine joins the address parts for carriers that take free text.
func (a ShippingAddress) SingleLine() string {
	parts := []string{strings.TrimSpace(a.Line1)}
	if a.Line2 != nil && strings.TrimSpace(*a.Line2) != "" {
		parts = append(parts, strings.TrimSpace(*a.Line2))
	}
	return strings.Join(parts, ", ")
}
