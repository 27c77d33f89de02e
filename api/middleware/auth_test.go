package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-backend/pkg/auth"
	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}

func okHandler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(status) })
}

func serve(h http.Handler, authorization string) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestAuthRejects(t *testing.T) {
	foreign := testJWT
	foreign.Issuer = "someone-else"

	cases := map[string]string{
		"missing header": "",
		"empty bearer":   "Bearer   ",
		"garbage token":  "Bearer invalid",
		"foreign issuer": "Bearer " + mintTestToken(t, foreign, enums.MerchantRoleOwner, uuid.New()),
		"other secret":   "Bearer " + mintTestToken(t, config.JWTConfig{Secret: "x", Issuer: "issuer", ExpirationMinutes: 5}, enums.MerchantRoleOwner, uuid.New()),
	}
	h := Auth(testJWT, nil)(okHandler(http.StatusOK))
	for name, header := range cases {
		assert.Equal(t, http.StatusUnauthorized, serve(h, header), name)
	}
}

func TestAuthBindsPrincipal(t *testing.T) {
	storeID := uuid.New()
	token := mintTestToken(t, testJWT, enums.MerchantRoleOwner, storeID)

	var got Principal
	h := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFromContext(r.Context())
		bound, err := StoreFromContext(r.Context())
		require.NoError(t, err)
		assert.Equal(t, storeID, bound)
		w.WriteHeader(http.StatusOK)
	}))

	require.Equal(t, http.StatusOK, serve(h, "bearer "+token))
	assert.NotEqual(t, uuid.Nil, got.UserID)
	assert.Equal(t, storeID, got.StoreID)
	assert.Equal(t, enums.MerchantRoleOwner, got.Role)

	assert.Equal(t, http.StatusOK, serve(h, token), "bare tokens are accepted")
}

func TestStoreFromContextWithoutPrincipal(t *testing.T) {
	_, err := StoreFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.Error(t, err)
}

func TestRequireProviderManager(t *testing.T) {
	h := RequireProviderManager(nil)(okHandler(http.StatusNoContent))

	for role, want := range map[enums.MerchantRole]int{
		enums.MerchantRoleStaff: http.StatusForbidden,
		enums.MerchantRoleOwner: http.StatusNoContent,
		"":                      http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithRole(req.Context(), role))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, "role %q", role)
	}
}

func mintTestToken(t *testing.T, cfg config.JWTConfig, role enums.MerchantRole, storeID uuid.UUID) string {
	t.Helper()
	token, err := auth.MintAccessToken(cfg, time.Now(), auth.AccessTokenPayload{
		UserID:  uuid.New(),
		StoreID: storeID,
		Role:    role,
	})
	require.NoError(t, err)
	return token
}
