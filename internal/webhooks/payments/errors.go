package payments

import (
	"errors"

	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
)

var (
	ErrMissingSignature   = errors.New("missing webhook signature")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrInvalidPayload     = errors.New("invalid webhook payload")
	ErrNoSecretConfigured = errors.New("no webhook secret configured")
)

func missingSignature() error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, ErrMissingSignature, "missing Stripe-Signature header")
}

func invalidSignature(msg string) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidSignature, msg)
}

func invalidPayload(msg string) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidPayload, msg)
}

func noSecretConfigured() error {
	return pkgerrors.Wrap(pkgerrors.CodeInternal, ErrNoSecretConfigured, "no webhook signing secret configured")
}
