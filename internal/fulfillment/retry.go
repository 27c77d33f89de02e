package fulfillment

import (
	"context"
	"math"
	"time"

	"github.com/angelmondragon/fulfillment-backend/pkg/config"
)

// RetryPolicy bounds shipment creation. Attempt n (1-based) is followed by a
// pause of BaseDelay * BackoffFactor^(n-1) unless that pause would push the
// run past MaxElapsed.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxElapsed    time.Duration
}

// BackgroundPolicy is used after a payment confirmation.
func BackgroundPolicy(cfg config.ShippingConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   cfg.MaxAttempts,
		BaseDelay:     cfg.BaseDelay,
		BackoffFactor: cfg.BackoffFactor,
		MaxElapsed:    cfg.MaxElapsed,
	}.normalized()
}

// InteractivePolicy is used when a merchant waits on the response. The delay
// stays fixed.
func InteractivePolicy(cfg config.ShippingConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   cfg.MaxAttempts,
		BaseDelay:     cfg.InteractiveBaseDelay,
		BackoffFactor: 1,
		MaxElapsed:    cfg.InteractiveMaxElapsed,
	}.normalized()
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 1
	}
	return p
}

// Delay returns the pause after the given attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	p = p.normalized()
	scaled := float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt-1))
	if scaled >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(scaled)
}

// fits reports whether pausing for delay keeps the run inside MaxElapsed.
// A zero MaxElapsed means no ceiling beyond the context.
func (p RetryPolicy) fits(elapsed, delay time.Duration) bool {
	if p.MaxElapsed <= 0 {
		return true
	}
	return elapsed+delay <= p.MaxElapsed
}

// Sleeper pauses between attempts and returns early when ctx ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
