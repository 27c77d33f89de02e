package carriers

import (
	"errors"
	"fmt"

	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

var (
	ErrNotConfigured        = errors.New("carrier not configured")
	ErrAuthenticationFailed = errors.New("carrier authentication failed")
	ErrRemote               = errors.New("carrier request failed")
)

// RemoteError carries the status and truncated body of a failed carrier call.
type RemoteError struct {
	Provider   enums.ShippingProvider
	Operation  string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s: %s", e.Provider, e.Operation, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Operation, e.StatusCode, e.Body)
}

// UpstreamStatus exposes the carrier's HTTP status to error dumps.
func (e *RemoteError) UpstreamStatus() int { return e.StatusCode }

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// NewRemoteError wraps a failed call as a dependency error.
func NewRemoteError(provider enums.ShippingProvider, operation string, status int, body string) error {
	remote := &RemoteError{
		Provider:   provider,
		Operation:  operation,
		StatusCode: status,
		Body:       body,
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, remote, remote.Error())
}

// NotConfigured reports missing credentials for provider.
func NotConfigured(provider enums.ShippingProvider) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, ErrNotConfigured, fmt.Sprintf("%s credentials missing", provider))
}

// AuthenticationFailed reports rejected credentials for provider.
func AuthenticationFailed(provider enums.ShippingProvider, detail string) error {
	msg := fmt.Sprintf("%s rejected credentials", provider)
	if detail != "" {
		msg = msg + ": " + detail
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, ErrAuthenticationFailed, msg)
}
