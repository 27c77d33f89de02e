package orders

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/api/middleware"
	"github.com/angelmondragon/fulfillment-backend/api/responses"
	"github.com/angelmondragon/fulfillment-backend/api/validators"
	"github.com/angelmondragon/fulfillment-backend/internal/fulfillment"
	"github.com/angelmondragon/fulfillment-backend/pkg/carriers"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

// ShipmentService is the slice of the orchestrator the dashboard drives.
type ShipmentService interface {
	CreateShipment(ctx context.Context, cmd fulfillment.ShipmentCommand) (*fulfillment.ShipmentOutcome, error)
	CancelShipment(ctx context.Context, storeID, orderID uuid.UUID) (*models.Order, error)
	QuoteRates(ctx context.Context, cmd fulfillment.RateQuoteCommand) (*fulfillment.RateQuotes, error)
}

type packageRequest struct {
	WeightGrams int     `json:"weight_grams" validate:"required,gt=0"`
	LengthCM    float64 `json:"length_cm" validate:"gte=0"`
	WidthCM     float64 `json:"width_cm" validate:"gte=0"`
	HeightCM    float64 `json:"height_cm" validate:"gte=0"`
}

type createShipmentRequest struct {
	Provider string          `json:"provider" validate:"omitempty,oneof=shiprocket delhivery shippo self"`
	Strategy string          `json:"strategy" validate:"omitempty,oneof=cheapest fastest"`
	Package  *packageRequest `json:"package"`
}

type quoteRatesRequest struct {
	Strategy string          `json:"strategy" validate:"omitempty,oneof=cheapest fastest"`
	Package  *packageRequest `json:"package"`
}

type quoteRatesResponse struct {
	OrderID  uuid.UUID                `json:"order_id"`
	Strategy enums.RateStrategy       `json:"strategy"`
	Rates    []carriers.Rate          `json:"rates"`
	Best     *carriers.Rate           `json:"best,omitempty"`
	Failed   []enums.ShippingProvider `json:"failed_providers,omitempty"`
}

type shipmentResponse struct {
	OrderID               uuid.UUID              `json:"order_id"`
	Provider              enums.ShippingProvider `json:"provider"`
	Manual                bool                   `json:"manual"`
	TrackingID            string                 `json:"tracking_id,omitempty"`
	CourierName           string                 `json:"courier_name,omitempty"`
	Rate                  *carriers.Rate         `json:"rate,omitempty"`
	LabelURL              string                 `json:"label_url,omitempty"`
	EstimatedDeliveryDate *time.Time             `json:"estimated_delivery_date,omitempty"`
	Attempts              int                    `json:"attempts"`
}

type cancelShipmentResponse struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderStatus enums.OrderStatus `json:"order_status"`
	Cancelled   bool              `json:"cancelled"`
}

// CreateShipment books a courier for a paid order of the caller's store.
func CreateShipment(svc ShipmentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment service unavailable"))
			return
		}

		storeID, err := middleware.StoreFromContext(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req createShipmentRequest
		if err := validators.DecodeJSONBody(r, &req, true); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		cmd := fulfillment.ShipmentCommand{StoreID: storeID, OrderID: orderID}
		if req.Provider != "" {
			provider, err := enums.ParseShippingProvider(req.Provider)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provider"))
				return
			}
			cmd.Provider = &provider
		}
		if cmd.Strategy, err = parseStrategy(req.Strategy); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		cmd.Package = req.Package.toPackage()

		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}
		outcome, err := svc.CreateShipment(ctx, cmd)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, shipmentResponse{
			OrderID:               orderID,
			Provider:              outcome.Provider,
			Manual:                outcome.Manual,
			TrackingID:            outcome.TrackingID,
			CourierName:           outcome.CourierName,
			Rate:                  outcome.Rate,
			LabelURL:              outcome.LabelURL,
			EstimatedDeliveryDate: outcome.EstimatedDelivery,
			Attempts:              outcome.Attempts,
		})
	}
}

// CancelShipment voids the carrier booking so the order can be reshipped.
func CancelShipment(svc ShipmentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment service unavailable"))
			return
		}

		storeID, err := middleware.StoreFromContext(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}
		order, err := svc.CancelShipment(ctx, storeID, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, cancelShipmentResponse{
			OrderID:     order.ID,
			OrderStatus: order.OrderStatus,
			Cancelled:   true,
		})
	}
}


// QuoteRates prices an order with every active carrier of the caller's store
// without booking anything.
func QuoteRates(svc ShipmentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment service unavailable"))
			return
		}

		storeID, err := middleware.StoreFromContext(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req quoteRatesRequest
		if err := validators.DecodeJSONBody(r, &req, true); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		cmd := fulfillment.RateQuoteCommand{StoreID: storeID, OrderID: orderID, Package: req.Package.toPackage()}
		if cmd.Strategy, err = parseStrategy(req.Strategy); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}
		quotes, err := svc.QuoteRates(ctx, cmd)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		rates := quotes.Rates
		if rates == nil {
			rates = []carriers.Rate{}
		}
		responses.WriteSuccess(w, quoteRatesResponse{
			OrderID:  orderID,
			Strategy: quotes.Strategy,
			Rates:    rates,
			Best:     quotes.Best,
			Failed:   quotes.Failed,
		})
	}
}

func parseStrategy(raw string) (*enums.RateStrategy, error) {
	if raw == "" {
		return nil, nil
	}
	strategy, err := enums.ParseRateStrategy(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid strategy")
	}
	return &strategy, nil
}

func (p *packageRequest) toPackage() *types.Package {
	if p == nil {
		return nil
	}
	return &types.Package{
		WeightGrams: p.WeightGrams,
		LengthCM:    p.LengthCM,
		WidthCM:     p.WidthCM,
		HeightCM:    p.HeightCM,
	}
}
