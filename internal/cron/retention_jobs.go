package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

const (
	outboxRetentionDays       = 30
	notificationRetentionDays = 30
	day                       = 24 * time.Hour
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type readNotificationPurger interface {
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxRetentionRepo
	Retention  int
}

type NotificationCleanupJobParams struct {
	Logger     *logger.Logger
	Repository readNotificationPurger
	Retention  int
}

// retentionJob deletes rows older than a cutoff through purge. Both tables it
// serves keep anything still pending: unpublished events and unread alerts.
type retentionJob struct {
	name      string
	logg      *logger.Logger
	purge     func(ctx context.Context, cutoff time.Time) (int64, error)
	retention int
	now       func() time.Time
}

func newRetentionJob(name string, logg *logger.Logger, days, fallback int, purge func(context.Context, time.Time) (int64, error)) *retentionJob {
	if days <= 0 {
		days = fallback
	}
	return &retentionJob{name: name, logg: logg, purge: purge, retention: days, now: time.Now}
}

// NewOutboxRetentionJob drops published outbox rows past the retention window.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	purge := func(ctx context.Context, cutoff time.Time) (deleted int64, err error) {
		err = params.DB.WithTx(ctx, func(tx *gorm.DB) error {
			deleted, err = params.Repository.DeletePublishedBefore(ctx, tx, cutoff)
			return err
		})
		return deleted, err
	}
	return newRetentionJob("outbox-retention", params.Logger, params.Retention, outboxRetentionDays, purge), nil
}

// NewNotificationCleanupJob purges alerts the merchant already read. Unread
// shipment failures stay until someone acknowledges them.
func NewNotificationCleanupJob(params NotificationCleanupJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Repository == nil:
		return nil, errors.New("notifications repository required")
	}
	return newRetentionJob("notification-cleanup", params.Logger, params.Retention, notificationRetentionDays, params.Repository.DeleteReadBefore), nil
}

func (j *retentionJob) Name() string { return j.name }

func (j *retentionJob) Cutoff() time.Time {
	return j.now().UTC().Add(-time.Duration(j.retention) * day)
}

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.Cutoff()
	deleted, err := j.purge(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	}), "retention cleanup complete")
	return nil
}
