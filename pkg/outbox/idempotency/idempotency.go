// Package idempotency claims event ids in Redis so a redelivered message or
// webhook is handled once. A claim is a SETNX with a TTL; releasing it lets
// the next delivery try again.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store is the slice of the redis client a Manager needs.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

var (
	ErrScopeRequired = errors.New("idempotency scope is required")
	ErrIDRequired    = errors.New("idempotency id is required")
)

type Manager struct {
	store Store
	ttl   time.Duration
}

// NewManager keeps claims for ttl. Zero means no expiry.
func NewManager(store Store, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, fmt.Errorf("ttl must be non-negative, got %s", ttl)
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// Claim marks id as taken within scope. It reports false when an earlier
// delivery already holds the claim.
func (m *Manager) Claim(ctx context.Context, scope, id string) (bool, error) {
	key, err := m.key(scope, id)
	if err != nil {
		return false, err
	}
	claimed, err := m.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), m.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return claimed, nil
}

// Release drops a claim after a failed run.
func (m *Manager) Release(ctx context.Context, scope, id string) error {
	key, err := m.key(scope, id)
	if err != nil {
		return err
	}
	if err := m.store.Del(ctx, key); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// CheckAndMarkProcessed is Claim for a pub/sub consumer: the result is true
// when consumer has already processed eventID.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	if eventID == uuid.Nil {
		return false, ErrIDRequired
	}
	claimed, err := m.Claim(ctx, consumerScope(consumer), eventID.String())
	return !claimed, err
}

// Delete releases the consumer's mark on eventID.
func (m *Manager) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	if eventID == uuid.Nil {
		return ErrIDRequired
	}
	return m.Release(ctx, consumerScope(consumer), eventID.String())
}

func consumerScope(consumer string) string {
	if consumer == "" {
		return ""
	}
	return "evt:processed:" + consumer
}

func (m *Manager) key(scope, id string) (string, error) {
	switch {
	case scope == "":
		return "", ErrScopeRequired
	case id == "":
		return "", ErrIDRequired
	}
	return m.store.IdempotencyKey(scope, id), nil
}
