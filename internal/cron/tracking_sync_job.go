package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/fulfillment-backend/internal/tracking"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

const defaultTrackingBatch = 100

type staleTracker interface {
	SyncStale(ctx context.Context, limit int) (tracking.SyncReport, error)
}

type TrackingSyncJobParams struct {
	Logger    *logger.Logger
	Tracker   staleTracker
	BatchSize int
}

// NewTrackingSyncJob pulls carrier scans for in-flight shipments.
func NewTrackingSyncJob(params TrackingSyncJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Tracker == nil {
		return nil, fmt.Errorf("tracker required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultTrackingBatch
	}
	return &trackingSyncJob{logg: params.Logger, tracker: params.Tracker, batch: batch}, nil
}

type trackingSyncJob struct {
	logg    *logger.Logger
	tracker staleTracker
	batch   int
}

func (j *trackingSyncJob) Name() string { return "tracking-sync" }

func (j *trackingSyncJob) Run(ctx context.Context) error {
	report, err := j.tracker.SyncStale(ctx, j.batch)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"checked":  report.Checked,
		"advanced": report.Advanced,
		"failed":   report.Failed,
	}), "tracking sync complete")
	// Per-shipment carrier failures are retried next cycle; only a batch
	// where nothing could be synced fails the job.
	if err != nil && (report.Checked == 0 || report.Failed == report.Checked) {
		return fmt.Errorf("tracking sync: %w", err)
	}
	return nil
}
