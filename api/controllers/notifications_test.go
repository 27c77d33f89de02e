package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-backend/internal/notifications"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
)

// stubNotifications records the last call and replays canned results.
type stubNotifications struct {
	listParams notifications.ListParams
	listResult *notifications.ListResult

	readStore, readID uuid.UUID
	readErr           error

	allStore uuid.UUID
	allCount int64
}

func (s *stubNotifications) List(_ context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
	s.listParams = params
	if s.listResult == nil {
		return &notifications.ListResult{}, nil
	}
	return s.listResult, nil
}

func (s *stubNotifications) MarkRead(_ context.Context, storeID, notificationID uuid.UUID) error {
	s.readStore, s.readID = storeID, notificationID
	return s.readErr
}

func (s *stubNotifications) MarkAllRead(_ context.Context, storeID uuid.UUID) (int64, error) {
	s.allStore = storeID
	return s.allCount, nil
}

func addRouteParam(req *http.Request, key, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	return envelope.Data
}

func TestMarkNotificationRead(t *testing.T) {
	svc := &stubNotifications{}
	storeID, notificationID := uuid.New(), uuid.New()

	req := addRouteParam(storeRequest(http.MethodPost, "/", "", storeID), "notificationId", notificationID.String())
	rec := httptest.NewRecorder()
	MarkNotificationRead(svc, quietLogger())(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, storeID, svc.readStore)
	assert.Equal(t, notificationID, svc.readID)
	assert.True(t, decodeData[map[string]bool](t, rec)["read"])
}

func TestMarkNotificationReadRejections(t *testing.T) {
	cases := []struct {
		name string
		req  func() *http.Request
		svc  *stubNotifications
		want int
	}{
		{
			name: "no store bound",
			req: func() *http.Request {
				return addRouteParam(httptest.NewRequest(http.MethodPost, "/", nil), "notificationId", uuid.NewString())
			},
			svc:  &stubNotifications{},
			want: http.StatusForbidden,
		},
		{
			name: "malformed id",
			req: func() *http.Request {
				return addRouteParam(storeRequest(http.MethodPost, "/", "", uuid.New()), "notificationId", "invalid")
			},
			svc:  &stubNotifications{},
			want: http.StatusBadRequest,
		},
		{
			name: "another store's alert",
			req: func() *http.Request {
				return addRouteParam(storeRequest(http.MethodPost, "/", "", uuid.New()), "notificationId", uuid.NewString())
			},
			svc:  &stubNotifications{readErr: pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")},
			want: http.StatusNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			MarkNotificationRead(tc.svc, quietLogger())(rec, tc.req())
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestMarkAllNotificationsRead(t *testing.T) {
	svc := &stubNotifications{allCount: 5}
	storeID := uuid.New()

	rec := httptest.NewRecorder()
	MarkAllNotificationsRead(svc, quietLogger())(rec, storeRequest(http.MethodPost, "/", "", storeID))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, storeID, svc.allStore)
	assert.EqualValues(t, 5, decodeData[map[string]int64](t, rec)["updated"])
}

func TestListNotificationsPassesFilters(t *testing.T) {
	svc := &stubNotifications{listResult: &notifications.ListResult{Cursor: "next"}}
	storeID := uuid.New()

	rec := httptest.NewRecorder()
	ListNotifications(svc, quietLogger())(rec, storeRequest(http.MethodGet, "/?limit=10&unread_only=true&cursor=abc", "", storeID))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, notifications.ListParams{StoreID: storeID, Limit: 10, UnreadOnly: true, Cursor: "abc"}, svc.listParams)
}

func TestListNotificationsRejectsBadQuery(t *testing.T) {
	for _, query := range []string{"limit=abc", "limit=500", "unread_only=maybe"} {
		rec := httptest.NewRecorder()
		ListNotifications(&stubNotifications{}, quietLogger())(rec, storeRequest(http.MethodGet, "/?"+query, "", uuid.New()))
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}
