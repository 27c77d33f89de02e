package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/api/middleware"
	"github.com/angelmondragon/fulfillment-backend/api/responses"
	"github.com/angelmondragon/fulfillment-backend/api/validators"
	"github.com/angelmondragon/fulfillment-backend/internal/shipping"
	"github.com/angelmondragon/fulfillment-backend/pkg/carriers"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

type ProviderRegistry interface {
	List(ctx context.Context, storeID uuid.UUID) ([]shipping.ProviderConfigDTO, error)
	SaveCredentials(ctx context.Context, input shipping.SaveInput) (*shipping.ProviderConfigDTO, error)
	Remove(ctx context.Context, storeID uuid.UUID, provider enums.ShippingProvider) error
	Validate(ctx context.Context, provider enums.ShippingProvider, credentials []byte) error
}

type saveProviderRequest struct {
	Provider       string          `json:"provider" validate:"required,oneof=shiprocket delhivery shippo self"`
	Credentials    json.RawMessage `json:"credentials"`
	PickupLocation string          `json:"pickup_location" validate:"max=120"`
	RateStrategy   string          `json:"rate_strategy" validate:"omitempty,oneof=cheapest fastest"`
	IsDefault      bool            `json:"is_default"`
	IsActive       *bool           `json:"is_active"`
}

type validateProviderRequest struct {
	Provider    string          `json:"provider" validate:"required,oneof=shiprocket delhivery shippo"`
	Credentials json.RawMessage `json:"credentials" validate:"required"`
}

// ListShippingProviders returns the store's provider configs without secrets.
func ListShippingProviders(reg ProviderRegistry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reg == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shipping registry unavailable"))
			return
		}
		sid, err := middleware.StoreFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		configs, err := reg.List(r.Context(), sid)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, configs)
	}
}

// SaveShippingProvider validates credentials live against the carrier and
// stores them sealed.
func SaveShippingProvider(reg ProviderRegistry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reg == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shipping registry unavailable"))
			return
		}
		sid, err := middleware.StoreFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req saveProviderRequest
		if err := validators.DecodeJSONBody(r, &req, false); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		provider, err := enums.ParseShippingProvider(req.Provider)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provider"))
			return
		}
		var strategy enums.RateStrategy
		if req.RateStrategy != "" {
			if strategy, err = enums.ParseRateStrategy(req.RateStrategy); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid rate strategy"))
				return
			}
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithProvider(ctx, string(provider))
		}
		saved, err := reg.SaveCredentials(ctx, shipping.SaveInput{
			StoreID:        sid,
			Provider:       provider,
			Credentials:    req.Credentials,
			PickupLocation: req.PickupLocation,
			RateStrategy:   strategy,
			IsDefault:      req.IsDefault,
			IsActive:       req.IsActive,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, credentialError(err))
			return
		}
		responses.WriteSuccess(w, saved)
	}
}

// ValidateShippingProvider checks credentials without storing them.
func ValidateShippingProvider(reg ProviderRegistry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reg == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shipping registry unavailable"))
			return
		}
		if _, err := middleware.StoreFromContext(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req validateProviderRequest
		if err := validators.DecodeJSONBody(r, &req, false); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		provider, err := enums.ParseShippingProvider(req.Provider)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provider"))
			return
		}

		if err := reg.Validate(r.Context(), provider, req.Credentials); err != nil {
			responses.WriteError(r.Context(), logg, w, credentialError(err))
			return
		}
		responses.WriteSuccess(w, map[string]any{"provider": provider, "valid": true})
	}
}

func RemoveShippingProvider(reg ProviderRegistry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reg == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shipping registry unavailable"))
			return
		}
		sid, err := middleware.StoreFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		provider, err := enums.ParseShippingProvider(chi.URLParam(r, "provider"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provider"))
			return
		}

		if err := reg.Remove(r.Context(), sid, provider); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"provider": provider, "removed": true})
	}
}

// credentialError turns raw carrier failures into something the merchant
// can act on. Rejected credentials are their problem, an outage is not.
func credentialError(err error) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	switch {
	case errors.Is(err, carriers.ErrAuthenticationFailed):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "carrier rejected the credentials")
	case errors.Is(err, carriers.ErrNotConfigured):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "credentials incomplete")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "carrier validation unavailable")
}
