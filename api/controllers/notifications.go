package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/api/middleware"
	"github.com/angelmondragon/fulfillment-backend/api/responses"
	"github.com/angelmondragon/fulfillment-backend/api/validators"
	"github.com/angelmondragon/fulfillment-backend/internal/notifications"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

type NotificationsService interface {
	List(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error)
	MarkRead(ctx context.Context, storeID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, storeID uuid.UUID) (int64, error)
}

// storeScoped resolves the caller's store and renders whatever fn returns.
func storeScoped(svc NotificationsService, logg *logger.Logger, fn func(r *http.Request, storeID uuid.UUID) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notifications service unavailable"))
			return
		}
		storeID, err := middleware.StoreFromContext(r.Context())
		if err == nil {
			var out any
			if out, err = fn(r, storeID); err == nil {
				responses.WriteSuccess(w, out)
				return
			}
		}
		responses.WriteError(r.Context(), logg, w, err)
	}
}

// ListNotifications pages the active store's alerts, newest first.
func ListNotifications(svc NotificationsService, logg *logger.Logger) http.HandlerFunc {
	return storeScoped(svc, logg, func(r *http.Request, storeID uuid.UUID) (any, error) {
		limit, err := validators.ParseQueryInt(r, "limit", 0, 1, 100)
		if err != nil {
			return nil, err
		}
		unreadOnly, err := validators.ParseQueryBool(r, "unread_only")
		if err != nil {
			return nil, err
		}
		return svc.List(r.Context(), notifications.ListParams{
			StoreID:    storeID,
			Limit:      limit,
			Cursor:     strings.TrimSpace(r.URL.Query().Get("cursor")),
			UnreadOnly: unreadOnly,
		})
	})
}

func MarkNotificationRead(svc NotificationsService, logg *logger.Logger) http.HandlerFunc {
	return storeScoped(svc, logg, func(r *http.Request, storeID uuid.UUID) (any, error) {
		id, err := validators.ParseUUIDParam(r, "notificationId")
		if err != nil {
			return nil, err
		}
		if err := svc.MarkRead(r.Context(), storeID, id); err != nil {
			return nil, err
		}
		return map[string]bool{"read": true}, nil
	})
}

func MarkAllNotificationsRead(svc NotificationsService, logg *logger.Logger) http.HandlerFunc {
	return storeScoped(svc, logg, func(r *http.Request, storeID uuid.UUID) (any, error) {
		updated, err := svc.MarkAllRead(r.Context(), storeID)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"updated": updated}, nil
	})
}
