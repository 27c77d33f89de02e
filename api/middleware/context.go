package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
)

// Principal is the authenticated merchant user behind a request.
type Principal struct {
	UserID  uuid.UUID
	StoreID uuid.UUID
	Role    enums.MerchantRole
}

type principalKey struct{}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, principalKey{}, p)
}

// StoreFromContext returns the store the caller's token is bound to, or a
// forbidden error when the request carries none.
func StoreFromContext(ctx context.Context) (uuid.UUID, error) {
	p, _ := PrincipalFromContext(ctx)
	if p.StoreID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "store context missing")
	}
	return p.StoreID, nil
}

// WithStoreID binds a store for handler tests that skip Auth.
func WithStoreID(ctx context.Context, storeID uuid.UUID) context.Context {
	p, _ := PrincipalFromContext(ctx)
	p.StoreID = storeID
	return withPrincipal(ctx, p)
}

// WithRole binds a merchant role for handler tests that skip Auth.
func WithRole(ctx context.Context, role enums.MerchantRole) context.Context {
	p, _ := PrincipalFromContext(ctx)
	p.Role = role
	return withPrincipal(ctx, p)
}
