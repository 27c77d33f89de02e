// Package delhivery implements the regional courier adapter. Delhivery
// authenticates every call with a static API token and returns the waybill
// synchronously on manifest.
package delhivery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fulfillment-backend/pkg/carriers"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

const DefaultBaseURL = "https://track.delhivery.com"

// Shipping modes quoted by GetRates.
const (
	ModeExpress = "E"
	ModeSurface = "S"
)

var modeNames = map[string]string{
	ModeExpress: "Delhivery Express",
	ModeSurface: "Delhivery Surface",
}

var scanTimeLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// Credentials is the decrypted credential blob for a Delhivery account.
type Credentials struct {
	APIToken   string `json:"api_token"`
	ClientName string `json:"client_name"`
}

func ParseCredentials(raw []byte) (Credentials, error) {
	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return Credentials{}, fmt.Errorf("delhivery: decode credentials: %w", err)
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
		http:  carriers.NewHTTPClient(enums.ShippingProviderDelhivery, DefaultBaseURL, opts...),
		creds: creds,
	}
}

func (c *Client) Provider() enums.ShippingProvider {
	return enums.ShippingProviderDelhivery
}

func (c *Client) IsConfigured() bool {
	return c.creds.APIToken != ""
}

func (c *Client) call(ctx context.Context, req carriers.Request, out any) error {
	if !c.IsConfigured() {
		return carriers.NotConfigured(c.Provider())
	}
	req.Header = http.Header{"Authorization": []string{"Token " + c.creds.APIToken}}
	return c.http.Do(ctx, req, out)
}

type pincodeResponse struct {
	DeliveryCodes []struct {
		PostalCode struct {
			Pin     json.Number `json:"pin"`
			PrePaid string      `json:"pre_paid"`
			COD     string      `json:"cod"`
		} `json:"postal_code"`
	} `json:"delivery_codes"`
}

func (c *Client) pincode(ctx context.Context, pin string) (*pincodeResponse, error) {
	var resp pincodeResponse
	err := c.call(ctx, carriers.Request{
		Operation: "pincode",
		Path:      "c/api/pin-codes/json/",
		Query:     url.Values{"filter_codes": []string{pin}},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ValidateCredentials queries the pincode directory, which rejects bad tokens.
func (c *Client) ValidateCredentials(ctx context.Context) error {
	if !c.IsConfigured() {
		return carriers.NotConfigured(c.Provider())
	}
	_, err := c.pincode(ctx, "110001")
	return err
}

// CheckServiceability reports whether Delhivery delivers prepaid parcels to
// the destination pincode.
func (c *Client) CheckServiceability(ctx context.Context, _ string, destination string) (bool, error) {
	resp, err := c.pincode(ctx, destination)
	if err != nil {
		return false, err
	}
	for _, code := range resp.DeliveryCodes {
		if strings.EqualFold(code.PostalCode.PrePaid, "Y") {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) GetRates(ctx context.Context, req carriers.RateRequest) ([]carriers.Rate, error) {
	ok, err := c.CheckServiceability(ctx, req.Origin.PostalCode, req.Destination.PostalCode)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []carriers.Rate{}, nil
	}

	rates := make([]carriers.Rate, 0, len(modeNames))
	for _, mode := range []string{ModeExpress, ModeSurface} {
		amount, err := c.charges(ctx, mode, req)
		if err != nil {
			return nil, err
		}
		tat, err := c.expectedTAT(ctx, mode, req.Origin.PostalCode, req.Destination.PostalCode)
		if err != nil {
			return nil, err
		}
		rates = append(rates, carriers.Rate{
			Provider:  c.Provider(),
			Courier:   modeNames[mode],
			CourierID: mode,
			Amount:    amount,
			Currency:  "INR",
			EtaDays:   tat,
		})
	}
	return rates, nil
}

func (c *Client) charges(ctx context.Context, mode string, req carriers.RateRequest) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("md", mode)
	query.Set("ss", "Delivered")
	query.Set("o_pin", req.Origin.PostalCode)
	query.Set("d_pin", req.Destination.PostalCode)
	query.Set("cgm", strconv.Itoa(req.Package.WeightGrams))
	query.Set("pt", "Pre-paid")

	var resp []struct {
		TotalAmount decimal.Decimal `json:"total_amount"`
	}
	if err := c.call(ctx, carriers.Request{
		Operation: "charges",
		Path:      "api/kinko/v1/invoice/charges/.json",
		Query:     query,
	}, &resp); err != nil {
		return decimal.Zero, err
	}
	if len(resp) == 0 {
		return decimal.Zero, carriers.NewRemoteError(c.Provider(), "charges", http.StatusOK, "empty charge list")
	}
	return resp[0].TotalAmount, nil
}

func (c *Client) expectedTAT(ctx context.Context, mode, origin, destination string) (int, error) {
	mot := "S"
	if mode == ModeExpress {
		mot = "E"
	}
	var resp struct {
		Data struct {
			TAT int `json:"tat"`
		} `json:"data"`
	}
	if err := c.call(ctx, carriers.Request{
		Operation: "expected_tat",
		Path:      "api/dc/expected_tat",
		Query: url.Values{
			"origin_pin":      []string{origin},
			"destination_pin": []string{destination},
			"mot":             []string{mot},
		},
	}, &resp); err != nil {
		return 0, err
	}
	return resp.Data.TAT, nil
}

type manifestShipment struct {
	Name         string          `json:"name"`
	Address      string          `json:"add"`
	Pin          string          `json:"pin"`
	City         string          `json:"city"`
	State        string          `json:"state"`
	Country      string          `json:"country"`
	Phone        string          `json:"phone"`
	Order        string          `json:"order"`
	PaymentMode  string          `json:"payment_mode"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Weight       int             `json:"weight"`
	Length       float64         `json:"shipment_length"`
	Width        float64         `json:"shipment_width"`
	Height       float64         `json:"shipment_height"`
	ShippingMode string          `json:"shipping_mode"`
	ProductsDesc string          `json:"products_desc"`
	Quantity     string          `json:"quantity"`
}

type manifest struct {
	Shipments      []manifestShipment `json:"shipments"`
	PickupLocation struct {
		Name string `json:"name"`
	} `json:"pickup_location"`
}

func (c *Client) CreateShipment(ctx context.Context, req carriers.ShipmentRequest) (*carriers.ShipmentResult, error) {
	mode := "Surface"
	if req.Rate.CourierID == ModeExpress {
		mode = "Express"
	}
	names := make([]string, 0, len(req.Items))
	units := 0
	for _, item := range req.Items {
		names = append(names, item.Name)
		units += item.Quantity
	}

	payload := manifest{Shipments: []manifestShipment{{
		Name:         req.Destination.Name,
		Address:      req.Destination.SingleLine(),
		Pin:          req.Destination.PostalCode,
		City:         req.Destination.City,
		State:        req.Destination.State,
		Country:      "India",
		Phone:        req.Destination.Phone,
		Order:        req.OrderNumber,
		PaymentMode:  "Prepaid",
		TotalAmount:  req.DeclaredValue,
		Weight:       req.Package.WeightGrams,
		Length:       req.Package.LengthCM,
		Width:        req.Package.WidthCM,
		Height:       req.Package.HeightCM,
		ShippingMode: mode,
		ProductsDesc: strings.Join(names, ", "),
		Quantity:     strconv.Itoa(units),
	}}}
	payload.PickupLocation.Name = req.PickupLocation
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, carriers.NewRemoteError(c.Provider(), "create_shipment", 0, err.Error())
	}

	var resp struct {
		Success  bool   `json:"success"`
		RMK      string `json:"rmk"`
		Packages []struct {
			Waybill string   `json:"waybill"`
			Status  string   `json:"status"`
			Remarks []string `json:"remarks"`
		} `json:"packages"`
	}
	if err := c.call(ctx, carriers.Request{
		Operation: "create_shipment",
		Method:    http.MethodPost,
		Path:      "api/cmu/create.json",
		Form:      url.Values{"format": []string{"json"}, "data": []string{string(data)}},
	}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || len(resp.Packages) == 0 {
		detail := resp.RMK
		if len(resp.Packages) > 0 && len(resp.Packages[0].Remarks) > 0 {
			detail = strings.Join(resp.Packages[0].Remarks, "; ")
		}
		return nil, carriers.NewRemoteError(c.Provider(), "create_shipment", http.StatusOK, detail)
	}

	waybill := resp.Packages[0].Waybill
	return &carriers.ShipmentResult{
		ProviderShipmentID: waybill,
		TrackingID:         waybill,
		CourierName:        req.Rate.Courier,
		CourierCode:        req.Rate.CourierID,
		Cost:               req.Rate.Amount,
	}, nil
}

// AssignTrackingID is a no-op: the waybill comes back with the manifest.
func (c *Client) AssignTrackingID(_ context.Context, shipment carriers.ShipmentResult, _ carriers.Rate) (*carriers.ShipmentResult, error) {
	if !shipment.HasTrackingID() {
		return nil, carriers.NewRemoteError(c.Provider(), "assign_waybill", 0, "manifest returned no waybill")
	}
	return &shipment, nil
}

func (c *Client) GenerateLabel(ctx context.Context, shipment carriers.ShipmentResult) (string, error) {
	if shipment.LabelURL != "" {
		return shipment.LabelURL, nil
	}
	var resp struct {
		Packages []struct {
			PDFDownloadLink string `json:"pdf_download_link"`
		} `json:"packages"`
	}
	if err := c.call(ctx, carriers.Request{
		Operation: "generate_label",
		Path:      "api/p/packing_slip",
		Query:     url.Values{"wbns": []string{shipment.TrackingID}, "pdf": []string{"true"}},
	}, &resp); err != nil {
		return "", err
	}
	if len(resp.Packages) == 0 || resp.Packages[0].PDFDownloadLink == "" {
		return "", carriers.NewRemoteError(c.Provider(), "generate_label", http.StatusOK, "no packing slip")
	}
	return resp.Packages[0].PDFDownloadLink, nil
}

type scan struct {
	Scan            string `json:"Scan"`
	ScanDateTime    string `json:"ScanDateTime"`
	ScannedLocation string `json:"ScannedLocation"`
	Instructions    string `json:"Instructions"`
}

func (c *Client) TrackShipment(ctx context.Context, ref carriers.ShipmentRef) (*carriers.TrackingResult, error) {
	if ref.TrackingID == "" {
		return nil, carriers.NewRemoteError(c.Provider(), "track", 0, "waybill required")
	}
	var resp struct {
		ShipmentData []struct {
			Shipment struct {
				AWB    string `json:"AWB"`
				Status struct {
					Status string `json:"Status"`
				} `json:"Status"`
				ExpectedDeliveryDate string `json:"ExpectedDeliveryDate"`
				Scans                []struct {
					ScanDetail scan `json:"ScanDetail"`
				} `json:"Scans"`
			} `json:"Shipment"`
		} `json:"ShipmentData"`
	}
	if err := c.call(ctx, carriers.Request{
		Operation: "track",
		Path:      "api/v1/packages/json/",
		Query:     url.Values{"waybill": []string{ref.TrackingID}},
	}, &resp); err != nil {
		return nil, err
	}
	if len(resp.ShipmentData) == 0 {
		return nil, carriers.NewRemoteError(c.Provider(), "track", http.StatusOK, "waybill not found")
	}

	shipment := resp.ShipmentData[0].Shipment
	result := &carriers.TrackingResult{
		TrackingID: ref.TrackingID,
		RawStatus:  shipment.Status.Status,
		Status:     enums.NormalizeTrackingStatus(shipment.Status.Status),
	}
	if eta, ok := parseScanTime(shipment.ExpectedDeliveryDate); ok {
		result.EstimatedDelivery = &eta
	}
	for _, s := range shipment.Scans {
		at, ok := parseScanTime(s.ScanDetail.ScanDateTime)
		if !ok {
			continue
		}
		description := s.ScanDetail.Instructions
		if description == "" {
			description = s.ScanDetail.Scan
		}
		result.Events = append(result.Events, carriers.TrackingEvent{
			Status:      enums.NormalizeTrackingStatus(s.ScanDetail.Scan),
			Description: description,
			Location:    s.ScanDetail.ScannedLocation,
			OccurredAt:  at,
		})
	}
	return result, nil
}

func (c *Client) CancelShipment(ctx context.Context, ref carriers.ShipmentRef) error {
	if ref.TrackingID == "" {
		return carriers.NewRemoteError(c.Provider(), "cancel", 0, "waybill required")
	}
	var resp struct {
		Status bool   `json:"status"`
		Remark string `json:"remark"`
	}
	if err := c.call(ctx, carriers.Request{
		Operation: "cancel",
		Method:    http.MethodPost,
		Path:      "api/p/edit",
		Body:      map[string]string{"waybill": ref.TrackingID, "cancellation": "true"},
	}, &resp); err != nil {
		return err
	}
	if !resp.Status {
		return carriers.NewRemoteError(c.Provider(), "cancel", http.StatusOK, resp.Remark)
	}
	return nil
}

func parseScanTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range scanTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
