package orders

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-backend/api/middleware"
	"github.com/angelmondragon/fulfillment-backend/internal/fulfillment"
	"github.com/angelmondragon/fulfillment-backend/pkg/carriers"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

type stubShipmentService struct {
	createFn func(ctx context.Context, cmd fulfillment.ShipmentCommand) (*fulfillment.ShipmentOutcome, error)
	cancelFn func(ctx context.Context, storeID, orderID uuid.UUID) (*models.Order, error)
	quoteFn  func(ctx context.Context, cmd fulfillment.RateQuoteCommand) (*fulfillment.RateQuotes, error)
}

func (s *stubShipmentService) CreateShipment(ctx context.Context, cmd fulfillment.ShipmentCommand) (*fulfillment.ShipmentOutcome, error) {
	return s.createFn(ctx, cmd)
}

func (s *stubShipmentService) CancelShipment(ctx context.Context, storeID, orderID uuid.UUID) (*models.Order, error) {
	return s.cancelFn(ctx, storeID, orderID)
}

func (s *stubShipmentService) QuoteRates(ctx context.Context, cmd fulfillment.RateQuoteCommand) (*fulfillment.RateQuotes, error) {
	return s.quoteFn(ctx, cmd)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func shipmentRequest(method, path, body string, storeID, orderID uuid.UUID) *http.Request {
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	ctx := req.Context()
	if storeID != uuid.Nil {
		ctx = middleware.WithStoreID(ctx, storeID)
	}
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("orderId", orderID.String())
	return req.WithContext(context.WithValue(ctx, chi.RouteCtxKey, routeCtx))
}

func TestCreateShipmentSuccess(t *testing.T) {
	storeID := uuid.New()
	orderID := uuid.New()
	var got fulfillment.ShipmentCommand
	svc := &stubShipmentService{
		createFn: func(ctx context.Context, cmd fulfillment.ShipmentCommand) (*fulfillment.ShipmentOutcome, error) {
			got = cmd
			return &fulfillment.ShipmentOutcome{
				Provider:    enums.ShippingProviderShiprocket,
				TrackingID:  "AWB123",
				CourierName: "Bluedart",
				LabelURL:    "https://labels.example/awb123.pdf",
				Rate: &carriers.Rate{
					Provider: enums.ShippingProviderShiprocket,
					Courier:  "Bluedart",
					Amount:   decimal.NewFromInt(90),
					Currency: "INR",
					EtaDays:  2,
				},
				Attempts: 1,
			}, nil
		},
	}

	body := `{"provider":"shiprocket","strategy":"fastest","package":{"weight_grams":750,"length_cm":20,"width_cm":15,"height_cm":5}}`
	req := shipmentRequest(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/shipments", body, storeID, orderID)
	rec := httptest.NewRecorder()
	CreateShipment(svc, testLogger())(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, storeID, got.StoreID)
	assert.Equal(t, orderID, got.OrderID)
	require.NotNil(t, got.Provider)
	assert.Equal(t, enums.ShippingProviderShiprocket, *got.Provider)
	require.NotNil(t, got.Strategy)
	assert.Equal(t, enums.RateStrategyFastest, *got.Strategy)
	require.NotNil(t, got.Package)
	assert.Equal(t, 750, got.Package.WeightGrams)

	var envelope struct {
		Data struct {
			TrackingID  string `json:"tracking_id"`
			CourierName string `json:"courier_name"`
			LabelURL    string `json:"label_url"`
			Provider    string `json:"provider"`
			Rate        struct {
				Amount string `json:"amount"`
			} `json:"rate"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "AWB123", envelope.Data.TrackingID)
	assert.Equal(t, "Bluedart", envelope.Data.CourierName)
	assert.Equal(t, "shiprocket", envelope.Data.Provider)
	assert.Equal(t, "90", envelope.Data.Rate.Amount)
}

func TestCreateShipmentEmptyBodyUsesDefaults(t *testing.T) {
	storeID := uuid.New()
	orderID := uuid.New()
	svc := &stubShipmentService{
		createFn: func(ctx context.Context, cmd fulfillment.ShipmentCommand) (*fulfillment.ShipmentOutcome, error) {
			assert.Nil(t, cmd.Provider)
			assert.Nil(t, cmd.Strategy)
			assert.Nil(t, cmd.Package)
			return &fulfillment.ShipmentOutcome{Provider: enums.ShippingProviderSelf, Manual: true}, nil
		},
	}

	req := shipmentRequest(http.MethodPost, "/", "", storeID, orderID)
	rec := httptest.NewRecorder()
	CreateShipment(svc, testLogger())(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCreateShipmentRejectsBadStrategy(t *testing.T) {
	svc := &stubShipmentService{
		createFn: func(ctx context.Context, cmd fulfillment.ShipmentCommand) (*fulfillment.ShipmentOutcome, error) {
			t.Fatal("service must not be called")
			return nil, nil
		},
	}
	req := shipmentRequest(http.MethodPost, "/", `{"strategy":"slowest"}`, uuid.New(), uuid.New())
	rec := httptest.NewRecorder()
	CreateShipment(svc, testLogger())(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateShipmentRequiresStore(t *testing.T) {
	req := shipmentRequest(http.MethodPost, "/", "", uuid.Nil, uuid.New())
	rec := httptest.NewRecorder()
	CreateShipment(&stubShipmentService{}, testLogger())(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateShipmentMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"state", pkgerrors.New(pkgerrors.CodeStateConflict, "order already has a shipment"), http.StatusUnprocessableEntity},
		{"not found", pkgerrors.New(pkgerrors.CodeNotFound, "order not found"), http.StatusNotFound},
		{"carrier", pkgerrors.New(pkgerrors.CodeDependency, "carrier unavailable"), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubShipmentService{
				createFn: func(ctx context.Context, cmd fulfillment.ShipmentCommand) (*fulfillment.ShipmentOutcome, error) {
					return nil, tc.err
				},
			}
			req := shipmentRequest(http.MethodPost, "/", "", uuid.New(), uuid.New())
			rec := httptest.NewRecorder()
			CreateShipment(svc, testLogger())(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestCancelShipment(t *testing.T) {
	storeID := uuid.New()
	orderID := uuid.New()
	svc := &stubShipmentService{
		cancelFn: func(ctx context.Context, sid, oid uuid.UUID) (*models.Order, error) {
			assert.Equal(t, storeID, sid)
			assert.Equal(t, orderID, oid)
			return &models.Order{ID: oid, OrderStatus: enums.OrderStatusConfirmed}, nil
		},
	}

	req := shipmentRequest(http.MethodPost, "/", "", storeID, orderID)
	rec := httptest.NewRecorder()
	CancelShipment(svc, testLogger())(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var envelope struct {
		Data cancelShipmentResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.True(t, envelope.Data.Cancelled)
	assert.Equal(t, enums.OrderStatusConfirmed, envelope.Data.OrderStatus)
}

func TestQuoteRates(t *testing.T) {
	storeID := uuid.New()
	orderID := uuid.New()
	var got fulfillment.RateQuoteCommand
	best := carriers.Rate{Provider: enums.ShippingProviderDelhivery, Courier: "Delhivery Surface", Amount: decimal.NewFromInt(55), EtaDays: 6}
	svc := &stubShipmentService{
		quoteFn: func(ctx context.Context, cmd fulfillment.RateQuoteCommand) (*fulfillment.RateQuotes, error) {
			got = cmd
			return &fulfillment.RateQuotes{
				Strategy: enums.RateStrategyFastest,
				Rates:    []carriers.Rate{best},
				Best:     &best,
				Failed:   []enums.ShippingProvider{enums.ShippingProviderShippo},
			}, nil
		},
	}

	body := `{"strategy":"fastest","package":{"weight_grams":900}}`
	req := shipmentRequest(http.MethodPost, "/", body, storeID, orderID)
	rec := httptest.NewRecorder()
	QuoteRates(svc, testLogger())(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, storeID, got.StoreID)
	require.NotNil(t, got.Strategy)
	assert.Equal(t, enums.RateStrategyFastest, *got.Strategy)
	require.NotNil(t, got.Package)
	assert.Equal(t, 900, got.Package.WeightGrams)

	var envelope struct {
		Data struct {
			Rates []json.RawMessage `json:"rates"`
			Best  struct {
				Courier string `json:"courier"`
			} `json:"best"`
			Failed []string `json:"failed_providers"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Len(t, envelope.Data.Rates, 1)
	assert.Equal(t, "Delhivery Surface", envelope.Data.Best.Courier)
	assert.Equal(t, []string{"shippo"}, envelope.Data.Failed)
}

func TestQuoteRatesRejectsBadStrategy(t *testing.T) {
	svc := &stubShipmentService{
		quoteFn: func(ctx context.Context, cmd fulfillment.RateQuoteCommand) (*fulfillment.RateQuotes, error) {
			t.Fatal("service must not be called")
			return nil, nil
		},
	}
	req := shipmentRequest(http.MethodPost, "/", `{"strategy":"slowest"}`, uuid.New(), uuid.New())
	rec := httptest.NewRecorder()
	QuoteRates(svc, testLogger())(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
