// Package payments authenticates payment gateway webhooks and turns them
// into routed fulfillment events.
package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

// SignatureChecker is satisfied by the platform gateway client.
type SignatureChecker interface {
	SigningSecret() string
	VerifySignature(payload []byte, header, secret string) error
}

// MerchantSecretSource returns a store's decrypted signing secret, or ""
// when the store has none.
type MerchantSecretSource interface {
	MerchantWebhookSecret(ctx context.Context, storeID uuid.UUID) (string, error)
}

// Verifier tries the platform secret first and falls back to the secret of
// the store named in the payload metadata.
type Verifier struct {
	checker   SignatureChecker
	merchants MerchantSecretSource
	logg      *logger.Logger
}

func NewVerifier(checker SignatureChecker, merchants MerchantSecretSource, logg *logger.Logger) (*Verifier, error) {
	if checker == nil {
		return nil, fmt.Errorf("signature checker required")
	}
	return &Verifier{checker: checker, merchants: merchants, logg: logg}, nil
}

func (v *Verifier) Verify(ctx context.Context, payload []byte, sigHeader string) (*Event, error) {
	if sigHeader == "" {
		return nil, missingSignature()
	}

	platformSecret := v.checker.SigningSecret()
	if platformSecret == "" && v.merchants == nil {
		return nil, noSecretConfigured()
	}

	if platformSecret != "" {
		if err := v.checker.VerifySignature(payload, sigHeader, platformSecret); err == nil {
			return normalize(payload, enums.VerifiedWithPlatform)
		}
	}
	if v.merchants == nil {
		return nil, invalidSignature("signature does not match platform secret")
	}

	rawStoreID, err := storeIDFromPayload(payload)
	if err != nil {
		return nil, err
	}
	if rawStoreID == "" {
		return nil, invalidSignature("signature does not match and payload names no store")
	}
	storeID, err := uuid.Parse(rawStoreID)
	if err != nil {
		return nil, invalidSignature("signature does not match and store id is malformed")
	}

	secret, err := v.merchants.MerchantWebhookSecret(ctx, storeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load merchant webhook secret")
	}
	if secret == "" {
		if platformSecret == "" {
			return nil, noSecretConfigured()
		}
		return nil, invalidSignature("signature does not match and store has no secret")
	}

	if err := v.checker.VerifySignature(payload, sigHeader, secret); err != nil {
		if v.logg != nil {
			v.logg.Warn(v.logg.WithStoreID(ctx, storeID.String()), "merchant webhook signature mismatch")
		}
		return nil, invalidSignature("signature does not match merchant secret")
	}
	return normalize(payload, enums.VerifiedWithMerchant)
}

// IsClientError reports whether err should surface as a 400 to the gateway.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMissingSignature) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrInvalidPayload)
}
