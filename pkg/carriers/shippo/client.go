// Package shippo implements the multi-carrier US broker adapter. Rates are
// bound to a Shippo shipment object, and purchasing a rate produces a
// transaction that carries the tracking number and label.
package shippo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fulfillment-backend/pkg/carriers"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

const DefaultBaseURL = "https://api.goshippo.com"

const (
	transactionSuccess = "SUCCESS"
	transactionQueued  = "QUEUED"
	transactionWaiting = "WAITING"
)

// Credentials is the decrypted credential blob for a Shippo account.
type Credentials struct {
	APIToken string `json:"api_token"`
}

func ParseCredentials(raw []byte) (Credentials, error) {
	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return Credentials{}, fmt.Errorf("shippo: decode credentials: %w", err)
	}
	creds.APIToken = strings.TrimSpace(creds.APIToken)
	return creds, nil
}

type Client struct {
	http  *carriers.HTTPClient
	creds Credentials
}

var _ carriers.Adapter = (*Client)(nil)

func New(creds Credentials, opts ...carriers.Option) *Client {
	return &Client{
		http:  carriers.NewHTTPClient(enums.ShippingProviderShippo, DefaultBaseURL, opts...),
		creds: creds,
	}
}

func (c *Client) Provider() enums.ShippingProvider {
	return enums.ShippingProviderShippo
}

func (c *Client) IsConfigured() bool {
	return c.creds.APIToken != ""
}

func (c *Client) call(ctx context.Context, req carriers.Request, out any) error {
	if !c.IsConfigured() {
		return carriers.NotConfigured(c.Provider())
	}
	req.Header = http.Header{"Authorization": []string{"ShippoToken " + c.creds.APIToken}}
	return c.http.Do(ctx, req, out)
}

func (c *Client) ValidateCredentials(ctx context.Context) error {
	if !c.IsConfigured() {
		return carriers.NotConfigured(c.Provider())
	}
	return c.call(ctx, carriers.Request{
		Operation: "carrier_accounts",
		Path:      "carrier_accounts/",
		Query:     url.Values{"results": []string{"1"}},
	}, nil)
}

type address struct {
	Name     string `json:"name,omitempty"`
	Street1  string `json:"street1,omitempty"`
	Street2  string `json:"street2,omitempty"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
	Zip      string `json:"zip"`
	Country  string `json:"country"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Validate bool   `json:"validate,omitempty"`
}

func toAddress(a types.ShippingAddress) address {
	out := address{
		Name:    a.Name,
		Street1: a.Line1,
		City:    a.City,
		State:   a.State,
		Zip:     a.PostalCode,
		Country: a.CountryCode(),
		Phone:   a.Phone,
	}
	if a.Line2 != nil {
		out.Street2 = *a.Line2
	}
	return out
}

// CheckServiceability validates the destination through the address API.
func (c *Client) CheckServiceability(ctx context.Context, _ string, destination string) (bool, error) {
	var resp struct {
		ValidationResults struct {
			IsValid bool `json:"is_valid"`
		} `json:"validation_results"`
	}
	if err := c.call(ctx, carriers.Request{
		Operation: "validate_address",
		Method:    http.MethodPost,
		Path:      "addresses/",
		Body:      address{Zip: destination, Country: "US", Validate: true},
	}, &resp); err != nil {
		return false, err
	}
	return resp.ValidationResults.IsValid, nil
}

type parcel struct {
	Length       string `json:"length"`
	Width        string `json:"width"`
	Height       string `json:"height"`
	DistanceUnit string `json:"distance_unit"`
	Weight       string `json:"weight"`
	MassUnit     string `json:"mass_unit"`
}

type shipmentResponse struct {
	ObjectID string `json:"object_id"`
	Rates    []struct {
		ObjectID      string          `json:"object_id"`
		Amount        decimal.Decimal `json:"amount"`
		Currency      string          `json:"currency"`
		Provider      string          `json:"provider"`
		EstimatedDays *int            `json:"estimated_days"`
		Servicelevel  struct {
			Name  string `json:"name"`
			Token string `json:"token"`
		} `json:"servicelevel"`
	} `json:"rates"`
}

// GetRates creates a Shippo shipment and returns its rates. CourierID holds
// the Shippo rate object id that CreateShipment purchases.
func (c *Client) GetRates(ctx context.Context, req carriers.RateRequest) ([]carriers.Rate, error) {
	pkg := req.Package
	body := map[string]any{
		"address_from": toAddress(req.Origin),
		"address_to":   toAddress(req.Destination),
		"parcels": []parcel{{
			Length:       formatFloat(pkg.LengthCM),
			Width:        formatFloat(pkg.WidthCM),
			Height:       formatFloat(pkg.HeightCM),
			DistanceUnit: "cm",
			Weight:       fmt.Sprintf("%d", pkg.WeightGrams),
			MassUnit:     "g",
		}},
		"async": false,
	}

	var resp shipmentResponse
	if err := c.call(ctx, carriers.Request{
		Operation: "get_rates",
		Method:    http.MethodPost,
		Path:      "shipments/",
		Body:      body,
	}, &resp); err != nil {
		return nil, err
	}

	rates := make([]carriers.Rate, 0, len(resp.Rates))
	for _, r := range resp.Rates {
		// Quotes without a transit estimate cannot be ranked for speed.
		if r.EstimatedDays == nil {
			continue
		}
		rates = append(rates, carriers.Rate{
			Provider:  c.Provider(),
			Courier:   strings.TrimSpace(r.Provider + " " + r.Servicelevel.Name),
			CourierID: r.ObjectID,
			Amount:    r.Amount,
			Currency:  r.Currency,
			EtaDays:   *r.EstimatedDays,
		})
	}
	return rates, nil
}

type transaction struct {
	ObjectID       string `json:"object_id"`
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number"`
	LabelURL       string `json:"label_url"`
	ETA            string `json:"eta"`
	Rate           string `json:"rate"`
	Messages       []struct {
		Text string `json:"text"`
	} `json:"messages"`
}

func (t transaction) messageText() string {
	parts := make([]string, 0, len(t.Messages))
	for _, m := range t.Messages {
		parts = append(parts, m.Text)
	}
	return strings.Join(parts, "; ")
}

// CreateShipment purchases the rate chosen from GetRates.
func (c *Client) CreateShipment(ctx context.Context, req carriers.ShipmentRequest) (*carriers.ShipmentResult, error) {
	if req.Rate.CourierID == "" {
		return nil, carriers.NewRemoteError(c.Provider(), "create_shipment", 0, "rate object id required")
	}
	var tx transaction
	if err := c.call(ctx, carriers.Request{
		Operation: "create_shipment",
		Method:    http.MethodPost,
		Path:      "transactions/",
		Body: map[string]any{
			"rate":            req.Rate.CourierID,
			"label_file_type": "PDF",
			"metadata":        req.OrderNumber,
			"async":           false,
		},
	}, &tx); err != nil {
		return nil, err
	}
	return c.transactionResult(tx, req.Rate)
}

func (c *Client) transactionResult(tx transaction, rate carriers.Rate) (*carriers.ShipmentResult, error) {
	switch tx.Status {
	case transactionSuccess, transactionQueued, transactionWaiting:
	default:
		return nil, carriers.NewRemoteError(c.Provider(), "create_shipment", http.StatusOK, fmt.Sprintf("transaction %s: %s", tx.Status, tx.messageText()))
	}
	result := &carriers.ShipmentResult{
		ProviderShipmentID: tx.ObjectID,
		TrackingID:         tx.TrackingNumber,
		CourierName:        rate.Courier,
		CourierCode:        carrierToken(rate.Courier),
		LabelURL:           tx.LabelURL,
		Cost:               rate.Amount,
	}
	if eta, err := time.Parse(time.RFC3339, tx.ETA); err == nil {
		eta = eta.UTC()
		result.EstimatedDelivery = &eta
	}
	return result, nil
}

// AssignTrackingID re-reads a queued transaction until Shippo has issued the
// tracking number.
func (c *Client) AssignTrackingID(ctx context.Context, shipment carriers.ShipmentResult, rate carriers.Rate) (*carriers.ShipmentResult, error) {
	if shipment.HasTrackingID() {
		return &shipment, nil
	}
	var tx transaction
	if err := c.call(ctx, carriers.Request{
		Operation: "get_transaction",
		Path:      "transactions/" + url.PathEscape(shipment.ProviderShipmentID),
	}, &tx); err != nil {
		return nil, err
	}
	result, err := c.transactionResult(tx, rate)
	if err != nil {
		return nil, err
	}
	if !result.HasTrackingID() {
		return nil, carriers.NewRemoteError(c.Provider(), "get_transaction", http.StatusOK, "tracking number not yet issued")
	}
	if result.CourierCode == "" {
		result.CourierCode = shipment.CourierCode
	}
	return result, nil
}

func (c *Client) GenerateLabel(ctx context.Context, shipment carriers.ShipmentResult) (string, error) {
	if shipment.LabelURL != "" {
		return shipment.LabelURL, nil
	}
	var tx transaction
	if err := c.call(ctx, carriers.Request{
		Operation: "generate_label",
		Path:      "transactions/" + url.PathEscape(shipment.ProviderShipmentID),
	}, &tx); err != nil {
		return "", err
	}
	if tx.LabelURL == "" {
		return "", carriers.NewRemoteError(c.Provider(), "generate_label", http.StatusOK, "label not ready")
	}
	return tx.LabelURL, nil
}

type trackingStatus struct {
	Status        string `json:"status"`
	StatusDetails string `json:"status_details"`
	StatusDate    string `json:"status_date"`
	Location      *struct {
		City    string `json:"city"`
		State   string `json:"state"`
		Country string `json:"country"`
	} `json:"location"`
}

func (s trackingStatus) location() string {
	if s.Location == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{s.Location.City, s.Location.State, s.Location.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// TrackShipment needs the carrier token stored as the courier code.
func (c *Client) TrackShipment(ctx context.Context, ref carriers.ShipmentRef) (*carriers.TrackingResult, error) {
	if ref.TrackingID == "" || ref.CourierCode == "" {
		return nil, carriers.NewRemoteError(c.Provider(), "track", 0, "carrier and tracking number required")
	}
	var resp struct {
		TrackingNumber  string           `json:"tracking_number"`
		ETA             string           `json:"eta"`
		TrackingStatus  trackingStatus   `json:"tracking_status"`
		TrackingHistory []trackingStatus `json:"tracking_history"`
	}
	if err := c.call(ctx, carriers.Request{
		Operation: "track",
		Path:      "tracks/" + url.PathEscape(ref.CourierCode) + "/" + url.PathEscape(ref.TrackingID),
	}, &resp); err != nil {
		return nil, err
	}

	result := &carriers.TrackingResult{
		TrackingID: ref.TrackingID,
		RawStatus:  resp.TrackingStatus.Status,
		Status:     enums.NormalizeTrackingStatus(resp.TrackingStatus.Status),
	}
	if eta, err := time.Parse(time.RFC3339, resp.ETA); err == nil {
		eta = eta.UTC()
		result.EstimatedDelivery = &eta
	}
	for _, h := range resp.TrackingHistory {
		at, err := time.Parse(time.RFC3339, h.StatusDate)
		if err != nil {
			continue
		}
		result.Events = append(result.Events, carriers.TrackingEvent{
			Status:      enums.NormalizeTrackingStatus(h.Status),
			Description: h.StatusDetails,
			Location:    h.location(),
			OccurredAt:  at.UTC(),
		})
	}
	return result, nil
}

// CancelShipment requests a label refund for the purchased transaction.
func (c *Client) CancelShipment(ctx context.Context, ref carriers.ShipmentRef) error {
	if ref.ProviderShipmentID == "" {
		return carriers.NewRemoteError(c.Provider(), "cancel", 0, "transaction id required")
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.call(ctx, carriers.Request{
		Operation: "cancel",
		Method:    http.MethodPost,
		Path:      "refunds/",
		Body:      map[string]any{"transaction": ref.ProviderShipmentID, "async": false},
	}, &resp); err != nil {
		return err
	}
	if strings.EqualFold(resp.Status, "ERROR") {
		return carriers.NewRemoteError(c.Provider(), "cancel", http.StatusOK, "refund rejected")
	}
	return nil
}

// carrierToken derives Shippo's carrier slug from "<Provider> <service>".
func carrierToken(courier string) string {
	fields := strings.Fields(courier)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

func formatFloat(v float64) string {
	return decimal.NewFromFloat(v).String()
}
