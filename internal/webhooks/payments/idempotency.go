package payments

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/fulfillment-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/fulfillment-backend/pkg/redis"
)

// IdempotencyGuard remembers gateway event ids so an exact redelivery skips
// the pipeline. A failed run clears its mark so the gateway retry re-runs.
type IdempotencyGuard struct {
	claims *idempotency.Manager
	scope  string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	claims, err := idempotency.NewManager(store, ttl)
	if err != nil {
		return nil, err
	}
	return &IdempotencyGuard{claims: claims, scope: scope}, nil
}

// CheckAndMark claims eventID. It returns true when the id was already
// claimed by an earlier delivery.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	claimed, err := g.claims.Claim(ctx, g.scope, eventID)
	return !claimed, err
}

func (g *IdempotencyGuard) Delete(ctx context.Context, eventID string) error {
	return g.claims.Release(ctx, g.scope, eventID)
}
