package shippo

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-backend/pkg/carriers"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func newTestClient(rt roundTripFunc) *Client {
	return New(Credentials{APIToken: "shippo_test_key"},
		carriers.WithBaseURL("http://shippo.test"),
		carriers.WithHTTPClient(&http.Client{Transport: rt}),
	)
}

func TestGetRatesSkipsQuotesWithoutEstimate(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "ShippoToken shippo_test_key", req.Header.Get("Authorization"))
		assert.Equal(t, "/shipments/", req.URL.Path)
		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		var parcels []parcel
		require.NoError(t, json.Unmarshal(body["parcels"], &parcels))
		require.Len(t, parcels, 1)
		assert.Equal(t, "1500", parcels[0].Weight)
		assert.Equal(t, "g", parcels[0].MassUnit)
		return respond(http.StatusCreated, `{"object_id":"shp_1","rates":[
			{"object_id":"rate_usps","amount":"7.45","currency":"USD","provider":"USPS","estimated_days":3,"servicelevel":{"name":"Priority Mail","token":"usps_priority"}},
			{"object_id":"rate_ups","amount":"12.10","currency":"USD","provider":"UPS","estimated_days":1,"servicelevel":{"name":"Next Day Air","token":"ups_next_day_air"}},
			{"object_id":"rate_unknown","amount":"5.00","currency":"USD","provider":"Mystery","estimated_days":null,"servicelevel":{"name":"Ground"}}
		]}`), nil
	})

	rates, err := client.GetRates(context.Background(), carriers.RateRequest{
		Origin:      types.ShippingAddress{Line1: "1 Market St", City: "San Francisco", State: "CA", PostalCode: "94105", Country: "US"},
		Destination: types.ShippingAddress{Line1: "5 Main St", City: "Austin", State: "TX", PostalCode: "73301", Country: "US"},
		Package:     types.Package{WeightGrams: 1500, LengthCM: 20, WidthCM: 15, HeightCM: 10},
	})
	require.NoError(t, err)

	want := []carriers.Rate{
		{Provider: enums.ShippingProviderShippo, Courier: "USPS Priority Mail", CourierID: "rate_usps", Amount: decimal.RequireFromString("7.45"), Currency: "USD", EtaDays: 3},
		{Provider: enums.ShippingProviderShippo, Courier: "UPS Next Day Air", CourierID: "rate_ups", Amount: decimal.RequireFromString("12.10"), Currency: "USD", EtaDays: 1},
	}
	if diff := cmp.Diff(want, rates, cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })); diff != "" {
		t.Fatalf("rates mismatch (-want +got):\n%s", diff)
	}

	best, ok := carriers.SelectRate(rates, enums.RateStrategyFastest)
	require.True(t, ok)
	assert.Equal(t, "rate_ups", best.CourierID)
}

func TestCreateShipmentQueuedThenAssigned(t *testing.T) {
	calls := 0
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		calls++
		switch {
		case req.Method == http.MethodPost && req.URL.Path == "/transactions/":
			var body map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "rate_usps", body["rate"])
			return respond(http.StatusCreated, `{"object_id":"txn_1","status":"QUEUED","tracking_number":""}`), nil
		case req.Method == http.MethodGet && req.URL.Path == "/transactions/txn_1":
			return respond(http.StatusOK, `{"object_id":"txn_1","status":"SUCCESS","tracking_number":"9400111","label_url":"https://labels.test/txn_1.pdf","eta":"2026-03-06T12:00:00Z"}`), nil
		}
		t.Fatalf("unexpected %s %s", req.Method, req.URL.Path)
		return nil, nil
	})

	rate := carriers.Rate{Courier: "USPS Priority Mail", CourierID: "rate_usps", Amount: decimal.RequireFromString("7.45")}
	created, err := client.CreateShipment(context.Background(), carriers.ShipmentRequest{OrderNumber: "ORD-5", Rate: rate})
	require.NoError(t, err)
	assert.False(t, created.HasTrackingID())
	assert.Equal(t, "usps", created.CourierCode)

	assigned, err := client.AssignTrackingID(context.Background(), *created, rate)
	require.NoError(t, err)
	assert.Equal(t, "9400111", assigned.TrackingID)
	assert.Equal(t, "https://labels.test/txn_1.pdf", assigned.LabelURL)
	require.NotNil(t, assigned.EstimatedDelivery)
	assert.Equal(t, 2, calls)

	label, err := client.GenerateLabel(context.Background(), *assigned)
	require.NoError(t, err)
	assert.Equal(t, assigned.LabelURL, label)
	assert.Equal(t, 2, calls, "label already present should not call Shippo")
}

func TestCreateShipmentTransactionError(t *testing.T) {
	client := newTestClient(func(*http.Request) (*http.Response, error) {
		return respond(http.StatusCreated, `{"object_id":"txn_2","status":"ERROR","messages":[{"text":"Address not found"}]}`), nil
	})
	_, err := client.CreateShipment(context.Background(), carriers.ShipmentRequest{Rate: carriers.Rate{CourierID: "rate_x"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, carriers.ErrRemote)
	assert.Contains(t, err.Error(), "Address not found")
}

func TestTrackShipmentRequiresCarrier(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/tracks/usps/9400111", req.URL.Path)
		return respond(http.StatusOK, `{"tracking_number":"9400111","eta":"2026-03-06T00:00:00Z",
			"tracking_status":{"status":"TRANSIT","status_details":"In transit"},
			"tracking_history":[
				{"status":"PRE_TRANSIT","status_details":"Label created","status_date":"2026-03-02T08:00:00Z","location":{"city":"San Francisco","state":"CA","country":"US"}},
				{"status":"TRANSIT","status_details":"Departed facility","status_date":"2026-03-03T08:00:00Z"}
			]}`), nil
	})

	_, err := client.TrackShipment(context.Background(), carriers.ShipmentRef{TrackingID: "9400111"})
	require.Error(t, err)

	result, err := client.TrackShipment(context.Background(), carriers.ShipmentRef{TrackingID: "9400111", CourierCode: "usps"})
	require.NoError(t, err)
	assert.Equal(t, enums.TrackingStatusInTransit, result.Status)
	require.Len(t, result.Events, 2)
	assert.Equal(t, enums.TrackingStatusPending, result.Events[0].Status)
	assert.Equal(t, "San Francisco, CA, US", result.Events[0].Location)
}

func TestValidateCredentials(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/carrier_accounts/", req.URL.Path)
		return respond(http.StatusUnauthorized, `{"detail":"Invalid token."}`), nil
	})
	err := client.ValidateCredentials(context.Background())
	assert.ErrorIs(t, err, carriers.ErrAuthenticationFailed)
}

func TestCancelShipmentRefundsTransaction(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "txn_1", body["transaction"])
		return respond(http.StatusCreated, `{"status":"QUEUED"}`), nil
	})
	require.NoError(t, client.CancelShipment(context.Background(), carriers.ShipmentRef{ProviderShipmentID: "txn_1"}))
}
