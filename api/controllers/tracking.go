package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/fulfillment-backend/api/responses"
	"github.com/angelmondragon/fulfillment-backend/api/validators"
	"github.com/angelmondragon/fulfillment-backend/internal/tracking"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

type TrackingLookup interface {
	Lookup(ctx context.Context, input tracking.LookupInput) (*tracking.View, error)
}

// PublicTracking serves the storefront's order tracking page. It takes no
// credentials; store_id scopes the order number and email is an optional
// second factor.
func PublicTracking(svc TrackingLookup, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "tracking service unavailable"))
			return
		}

		number := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
		if number == "" || len(number) > 64 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid order number"))
			return
		}
		storeID, err := validators.ParseQueryUUID(r, "store_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.Lookup(r.Context(), tracking.LookupInput{
			StoreID:     storeID,
			OrderNumber: number,
			Email:       strings.TrimSpace(r.URL.Query().Get("email")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		responses.WriteSuccess(w, view)
	}
}
