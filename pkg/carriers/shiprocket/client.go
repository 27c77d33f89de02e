// Package shiprocket implements the aggregator adapter. Shiprocket issues a
// session token from email/password that stays valid for days, so the token
// is kept in the registry's cache slot instead of logging in per call.
package shiprocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fulfillment-backend/pkg/carriers"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

const (
	DefaultBaseURL = "https://apiv2.shiprocket.in/v1/external"
	trackTimeFmt   = "2006-01-02 15:04:05"
	etdTimeFmt     = "2006-01-02 15:04:05"
)

// Credentials is the decrypted credential blob for a Shiprocket account.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func ParseCredentials(raw []byte) (Credentials, error) {
	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return Credentials{}, fmt.Errorf("shiprocket: decode credentials: %w", err)
	}
	creds.Email = strings.TrimSpace(creds.Email)
	return creds, nil
}

type Client struct {
	http  *carriers.HTTPClient
	creds Credentials
	token carriers.TokenSlot
}

var _ carriers.Adapter = (*Client)(nil)

// New builds the adapter. A nil slot disables token reuse.
func New(creds Credentials, slot carriers.TokenSlot, opts ...carriers.Option) *Client {
	if slot == nil {
		slot = &memorySlot{}
	}
	return &Client{
		http:  carriers.NewHTTPClient(enums.ShippingProviderShiprocket, DefaultBaseURL, opts...),
		creds: creds,
		token: slot,
	}
}

func (c *Client) Provider() enums.ShippingProvider {
	return enums.ShippingProviderShiprocket
}

func (c *Client) IsConfigured() bool {
	return c.creds.Email != "" && c.creds.Password != ""
}

func (c *Client) ValidateCredentials(ctx context.Context) error {
	if !c.IsConfigured() {
		return carriers.NotConfigured(c.Provider())
	}
	c.token.Clear()
	_, err := c.login(ctx)
	return err
}

func (c *Client) login(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.http.Do(ctx, carriers.Request{
		Operation: "login",
		Method:    http.MethodPost,
		Path:      "auth/login",
		Body: map[string]string{
			"email":    c.creds.Email,
			"password": c.creds.Password,
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", carriers.AuthenticationFailed(c.Provider(), "empty token")
	}
	c.token.Store(resp.Token)
	return resp.Token, nil
}

// call runs an authenticated request, logging in again once when the cached
// token has been revoked.
func (c *Client) call(ctx context.Context, req carriers.Request, out any) error {
	if !c.IsConfigured() {
		return carriers.NotConfigured(c.Provider())
	}
	token, ok := c.token.Load()
	if !ok {
		var err error
		if token, err = c.login(ctx); err != nil {
			return err
		}
	}
	err := c.http.Do(ctx, withBearer(req, token), out)
	if err == nil || !errors.Is(err, carriers.ErrAuthenticationFailed) || !ok {
		return err
	}
	c.token.Clear()
	if token, err = c.login(ctx); err != nil {
		return err
	}
	return c.http.Do(ctx, withBearer(req, token), out)
}

func withBearer(req carriers.Request, token string) carriers.Request {
	header := http.Header{}
	for k, v := range req.Header {
		header[k] = v
	}
	header.Set("Authorization", "Bearer "+token)
	req.Header = header
	return req
}

type serviceabilityResponse struct {
	Status int `json:"status"`
	Data   struct {
		AvailableCourierCompanies []struct {
			CourierCompanyID      int             `json:"courier_company_id"`
			CourierName           string          `json:"courier_name"`
			Rate                  decimal.Decimal `json:"rate"`
			CODCharges            decimal.Decimal `json:"cod_charges"`
			EstimatedDeliveryDays json.RawMessage `json:"estimated_delivery_days"`
		} `json:"available_courier_companies"`
	} `json:"data"`
}

func (c *Client) serviceability(ctx context.Context, pickup, delivery string, weightKG float64, cod bool) (*serviceabilityResponse, error) {
	query := url.Values{}
	query.Set("pickup_postcode", pickup)
	query.Set("delivery_postcode", delivery)
	query.Set("weight", strconv.FormatFloat(weightKG, 'f', -1, 64))
	query.Set("cod", boolFlag(cod))

	var resp serviceabilityResponse
	if err := c.call(ctx, carriers.Request{
		Operation: "serviceability",
		Path:      "courier/serviceability/",
		Query:     query,
	}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CheckServiceability(ctx context.Context, origin, destination string) (bool, error) {
	resp, err := c.serviceability(ctx, origin, destination, 0.5, false)
	if err != nil {
		return false, err
	}
	return len(resp.Data.AvailableCourierCompanies) > 0, nil
}

func (c *Client) GetRates(ctx context.Context, req carriers.RateRequest) ([]carriers.Rate, error) {
	resp, err := c.serviceability(ctx, req.Origin.PostalCode, req.Destination.PostalCode, req.Package.WeightKG(), req.COD)
	if err != nil {
		return nil, err
	}
	rates := make([]carriers.Rate, 0, len(resp.Data.AvailableCourierCompanies))
	for _, courier := range resp.Data.AvailableCourierCompanies {
		// Quotes without a transit estimate cannot be ranked for speed.
		eta, ok := etaDays(courier.EstimatedDeliveryDays)
		if !ok {
			continue
		}
		rates = append(rates, carriers.Rate{
			Provider:   c.Provider(),
			Courier:    courier.CourierName,
			CourierID:  strconv.Itoa(courier.CourierCompanyID),
			Amount:     courier.Rate,
			Currency:   "INR",
			EtaDays:    eta,
			CODCharges: courier.CODCharges,
		})
	}
	return rates, nil
}

// etaDays reads estimated_delivery_days, which arrives as a number, a quoted
// number or null.
func etaDays(raw json.RawMessage) (int, bool) {
	value := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if value == "" || value == "null" {
		return 0, false
	}
	days, err := strconv.ParseFloat(value, 64)
	if err != nil || days < 0 {
		return 0, false
	}
	return int(math.Ceil(days)), true
}

type orderItem struct {
	Name         string          `json:"name"`
	SKU          string          `json:"sku"`
	Units        int             `json:"units"`
	SellingPrice decimal.Decimal `json:"selling_price"`
}

type createOrderRequest struct {
	OrderID             string          `json:"order_id"`
	OrderDate           string          `json:"order_date"`
	PickupLocation      string          `json:"pickup_location"`
	BillingCustomerName string          `json:"billing_customer_name"`
	BillingLastName     string          `json:"billing_last_name"`
	BillingAddress      string          `json:"billing_address"`
	BillingCity         string          `json:"billing_city"`
	BillingPincode      string          `json:"billing_pincode"`
	BillingState        string          `json:"billing_state"`
	BillingCountry      string          `json:"billing_country"`
	BillingEmail        string          `json:"billing_email"`
	BillingPhone        string          `json:"billing_phone"`
	ShippingIsBilling   bool            `json:"shipping_is_billing"`
	OrderItems          []orderItem     `json:"order_items"`
	PaymentMethod       string          `json:"payment_method"`
	SubTotal            decimal.Decimal `json:"sub_total"`
	Length              float64         `json:"length"`
	Breadth             float64         `json:"breadth"`
	Height              float64         `json:"height"`
	Weight              float64         `json:"weight"`
}

func (c *Client) CreateShipment(ctx context.Context, req carriers.ShipmentRequest) (*carriers.ShipmentResult, error) {
	items := make([]orderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, orderItem{
			Name:         item.Name,
			SKU:          item.SKU,
			Units:        item.Quantity,
			SellingPrice: item.UnitPrice,
		})
	}
	body := createOrderRequest{
		OrderID:             req.OrderNumber,
		OrderDate:           req.OrderDate.Format("2006-01-02 15:04"),
		PickupLocation:      req.PickupLocation,
		BillingCustomerName: req.Destination.Name,
		BillingAddress:      req.Destination.SingleLine(),
		BillingCity:         req.Destination.City,
		BillingPincode:      req.Destination.PostalCode,
		BillingState:        req.Destination.State,
		BillingCountry:      countryName(req.Destination),
		BillingEmail:        req.CustomerEmail,
		BillingPhone:        req.Destination.Phone,
		ShippingIsBilling:   true,
		OrderItems:          items,
		PaymentMethod:       "Prepaid",
		SubTotal:            req.DeclaredValue,
		Length:              req.Package.LengthCM,
		Breadth:             req.Package.WidthCM,
		Height:              req.Package.HeightCM,
		Weight:              req.Package.WeightKG(),
	}

	var resp struct {
		OrderID     json.Number `json:"order_id"`
		ShipmentID  json.Number `json:"shipment_id"`
		Status      string      `json:"status"`
		AWBCode     string      `json:"awb_code"`
		CourierName string      `json:"courier_name"`
	}
	if err := c.call(ctx, carriers.Request{
		Operation: "create_shipment",
		Method:    http.MethodPost,
		Path:      "orders/create/adhoc",
		Body:      body,
	}, &resp); err != nil {
		return nil, err
	}
	if resp.ShipmentID.String() == "" {
		return nil, carriers.NewRemoteError(c.Provider(), "create_shipment", http.StatusOK, "missing shipment_id")
	}
	return &carriers.ShipmentResult{
		ProviderShipmentID: resp.ShipmentID.String(),
		ProviderOrderID:    resp.OrderID.String(),
		TrackingID:         resp.AWBCode,
		CourierName:        resp.CourierName,
		Cost:               req.Rate.Amount,
	}, nil
}

// AssignTrackingID requests an AWB for the chosen courier.
func (c *Client) AssignTrackingID(ctx context.Context, shipment carriers.ShipmentResult, rate carriers.Rate) (*carriers.ShipmentResult, error) {
	if shipment.HasTrackingID() {
		return &shipment, nil
	}
	shipmentID, err := strconv.ParseInt(shipment.ProviderShipmentID, 10, 64)
	if err != nil {
		return nil, carriers.NewRemoteError(c.Provider(), "assign_awb", 0, "invalid shipment id "+shipment.ProviderShipmentID)
	}
	body := map[string]any{"shipment_id": shipmentID}
	if courierID, err := strconv.Atoi(rate.CourierID); err == nil {
		body["courier_id"] = courierID
	}

	var resp struct {
		AWBAssignStatus int `json:"awb_assign_status"`
		Response        struct {
			Data struct {
				AWBCode          string      `json:"awb_code"`
				CourierName      string      `json:"courier_name"`
				CourierCompanyID json.Number `json:"courier_company_id"`
			} `json:"data"`
		} `json:"response"`
		Message string `json:"message"`
	}
	if err := c.call(ctx, carriers.Request{
		Operation: "assign_awb",
		Method:    http.MethodPost,
		Path:      "courier/assign/awb",
		Body:      body,
	}, &resp); err != nil {
		return nil, err
	}
	if resp.AWBAssignStatus != 1 || resp.Response.Data.AWBCode == "" {
		return nil, carriers.NewRemoteError(c.Provider(), "assign_awb", http.StatusOK, resp.Message)
	}

	result := shipment
	result.TrackingID = resp.Response.Data.AWBCode
	result.CourierName = resp.Response.Data.CourierName
	result.CourierCode = resp.Response.Data.CourierCompanyID.String()
	return &result, nil
}

func (c *Client) GenerateLabel(ctx context.Context, shipment carriers.ShipmentResult) (string, error) {
	if shipment.LabelURL != "" {
		return shipment.LabelURL, nil
	}
	shipmentID, err := strconv.ParseInt(shipment.ProviderShipmentID, 10, 64)
	if err != nil {
		return "", carriers.NewRemoteError(c.Provider(), "generate_label", 0, "invalid shipment id "+shipment.ProviderShipmentID)
	}
	var resp struct {
		LabelCreated int    `json:"label_created"`
		LabelURL     string `json:"label_url"`
	}
	if err := c.call(ctx, carriers.Request{
		Operation: "generate_label",
		Method:    http.MethodPost,
		Path:      "courier/generate/label",
		Body:      map[string]any{"shipment_id": []int64{shipmentID}},
	}, &resp); err != nil {
		return "", err
	}
	if resp.LabelCreated != 1 || resp.LabelURL == "" {
		return "", carriers.NewRemoteError(c.Provider(), "generate_label", http.StatusOK, "label not created")
	}
	return resp.LabelURL, nil
}

func (c *Client) TrackShipment(ctx context.Context, ref carriers.ShipmentRef) (*carriers.TrackingResult, error) {
	if ref.TrackingID == "" {
		return nil, carriers.NewRemoteError(c.Provider(), "track", 0, "tracking id required")
	}
	var resp struct {
		TrackingData struct {
			ShipmentTrack []struct {
				CurrentStatus string `json:"current_status"`
				EDD           string `json:"edd"`
			} `json:"shipment_track"`
			Activities []struct {
				Date     string `json:"date"`
				Status   string `json:"status"`
				Activity string `json:"activity"`
				Location string `json:"location"`
			} `json:"shipment_track_activities"`
			ETD string `json:"etd"`
		} `json:"tracking_data"`
	}
	if err := c.call(ctx, carriers.Request{
		Operation: "track",
		Path:      "courier/track/awb/" + url.PathEscape(ref.TrackingID),
	}, &resp); err != nil {
		return nil, err
	}

	result := &carriers.TrackingResult{TrackingID: ref.TrackingID, Status: enums.TrackingStatusPending}
	if len(resp.TrackingData.ShipmentTrack) > 0 {
		result.RawStatus = resp.TrackingData.ShipmentTrack[0].CurrentStatus
		result.Status = enums.NormalizeTrackingStatus(result.RawStatus)
	}
	if etd, err := time.Parse(etdTimeFmt, resp.TrackingData.ETD); err == nil {
		result.EstimatedDelivery = &etd
	}
	for _, activity := range resp.TrackingData.Activities {
		at, err := time.Parse(trackTimeFmt, activity.Date)
		if err != nil {
			continue
		}
		text := activity.Activity
		if text == "" {
			text = activity.Status
		}
		result.Events = append(result.Events, carriers.TrackingEvent{
			Status:      enums.NormalizeTrackingStatus(text),
			Description: text,
			Location:    activity.Location,
			OccurredAt:  at.UTC(),
		})
	}
	return result, nil
}

// CancelShipment cancels by AWB. A booking that never got one is cancelled
// through its Shiprocket order instead.
func (c *Client) CancelShipment(ctx context.Context, ref carriers.ShipmentRef) error {
	if ref.TrackingID == "" {
		if ref.ProviderOrderID == "" {
			return carriers.NewRemoteError(c.Provider(), "cancel", 0, "tracking id required")
		}
		orderID, err := strconv.ParseInt(ref.ProviderOrderID, 10, 64)
		if err != nil {
			return carriers.NewRemoteError(c.Provider(), "cancel", 0, "invalid order id "+ref.ProviderOrderID)
		}
		return c.call(ctx, carriers.Request{
			Operation: "cancel",
			Method:    http.MethodPost,
			Path:      "orders/cancel",
			Body:      map[string][]int64{"ids": {orderID}},
		}, nil)
	}
	return c.call(ctx, carriers.Request{
		Operation: "cancel",
		Method:    http.MethodPost,
		Path:      "orders/cancel/shipment/awbs",
		Body:      map[string][]string{"awbs": {ref.TrackingID}},
	}, nil)
}

func countryName(addr types.ShippingAddress) string {
	if addr.CountryCode() == "IN" {
		return "India"
	}
	return addr.Country
}

func boolFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

type memorySlot struct {
	token string
}

func (m *memorySlot) Load() (string, bool) {
	return m.token, m.token != ""
}

func (m *memorySlot) Store(token string) {
	m.token = token
}

func (m *memorySlot) Clear() {
	m.token = ""
}
