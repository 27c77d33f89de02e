package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{Secret: "secret", Issuer: "fulfillment", ExpirationMinutes: 30}
}

func staffPayload() AccessTokenPayload {
	return AccessTokenPayload{UserID: uuid.New(), StoreID: uuid.New(), Role: enums.MerchantRoleStaff}
}

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := testJWTConfig()
	now := time.Now().UTC()
	payload := AccessTokenPayload{UserID: uuid.New(), StoreID: uuid.New(), Role: enums.MerchantRoleOwner, JTI: "jti-1"}

	token, err := MintAccessToken(cfg, now, payload)
	require.NoError(t, err)

	claims, err := ParseAccessToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, payload.UserID, claims.UserID)
	assert.Equal(t, payload.StoreID, claims.StoreID)
	assert.Equal(t, enums.MerchantRoleOwner, claims.Role)
	assert.Equal(t, cfg.Issuer, claims.Issuer)
	assert.Equal(t, "jti-1", claims.ID)
	assert.WithinDuration(t, now.Add(30*time.Minute), claims.ExpiresAt.Time, time.Second)
}

func TestParseAccessTokenRejectsTampering(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAccessToken(cfg, time.Now(), staffPayload())
	require.NoError(t, err)

	_, err = ParseAccessToken(cfg, token+"x")
	assert.Error(t, err)

	other := cfg
	other.Issuer = "someone-else"
	_, err = ParseAccessToken(other, token)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	other = cfg
	other.Secret = "rotated"
	_, err = ParseAccessToken(other, token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestParseAccessTokenRejectsOtherAlgorithms(t *testing.T) {
	cfg := testJWTConfig()
	p := staffPayload()
	claims := &AccessTokenClaims{
		UserID:  p.UserID,
		StoreID: p.StoreID,
		Role:    p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(cfg.Secret))
	require.NoError(t, err)

	_, err = ParseAccessToken(cfg, signed)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestParseAccessTokenExpiry(t *testing.T) {
	cfg := testJWTConfig()
	cfg.ExpirationMinutes = 15

	expired, err := MintAccessToken(cfg, time.Now().Add(-time.Hour), staffPayload())
	require.NoError(t, err)
	_, err = ParseAccessToken(cfg, expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	// expired ten seconds ago: inside the skew allowance
	justExpired, err := MintAccessToken(cfg, time.Now().Add(-15*time.Minute-10*time.Second), staffPayload())
	require.NoError(t, err)
	_, err = ParseAccessToken(cfg, justExpired)
	assert.NoError(t, err)
}

func TestParseAccessTokenRejectsUnknownRole(t *testing.T) {
	cfg := testJWTConfig()
	claims := &AccessTokenClaims{
		UserID:  uuid.New(),
		StoreID: uuid.New(),
		Role:    "superuser",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	require.NoError(t, err)

	_, err = ParseAccessToken(cfg, signed)
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestMintAccessTokenValidatesPayload(t *testing.T) {
	cfg := testJWTConfig()

	_, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), StoreID: uuid.New()})
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.MerchantRoleOwner})
	assert.ErrorIs(t, err, ErrMissingStore)

	_, err = MintAccessToken(config.JWTConfig{Issuer: "x", ExpirationMinutes: 1}, time.Now(), staffPayload())
	assert.Error(t, err)
}
