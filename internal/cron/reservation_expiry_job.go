package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

const defaultExpiryBatch = 200

type expiredReservationSource interface {
	ExpiredReservations(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
}

type orderExpirer interface {
	ExpireOrder(ctx context.Context, orderID uuid.UUID) (bool, error)
}

type ReservationExpiryJobParams struct {
	Logger       *logger.Logger
	Reservations expiredReservationSource
	Orders       orderExpirer
	// Buffer leaves the gateway's own expiry webhook time to arrive first.
	Buffer    time.Duration
	BatchSize int
}

// NewReservationExpiryJob cancels unpaid orders whose stock holds lapsed,
// through the same state-gated path as the payment-expired webhook.
func NewReservationExpiryJob(params ReservationExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservation source required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order expirer required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	return &reservationExpiryJob{
		logg:         params.Logger,
		reservations: params.Reservations,
		orders:       params.Orders,
		buffer:       params.Buffer,
		batch:        batch,
		now:          time.Now,
	}, nil
}

type reservationExpiryJob struct {
	logg         *logger.Logger
	reservations expiredReservationSource
	orders       orderExpirer
	buffer       time.Duration
	batch        int
	now          func() time.Time
}

func (j *reservationExpiryJob) Name() string { return "reservation-expiry" }

func (j *reservationExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.buffer)
	ids, err := j.reservations.ExpiredReservations(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list expired reservations: %w", err)
	}

	var errs error
	cancelled := 0
	for _, id := range ids {
		ok, err := j.orders.ExpireOrder(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", id, err))
			continue
		}
		if ok {
			cancelled++
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":    cutoff,
		"expired":   len(ids),
		"cancelled": cancelled,
	}), "reservation expiry sweep complete")
	return errs
}
