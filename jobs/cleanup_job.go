package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/collect/internal/jobs"
)

// KeyCleaner deletes idempotency keys older than a retention window.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CleanupJob handles TaskIdempotencyCleanup.
type CleanupJob struct {
	keys      KeyCleaner
	retention time.Duration
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
}

// NewCleanupJob constructs the cleanup job with its default retention.
func NewCleanupJob(keys KeyCleaner, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{keys: keys, retention: retention, logger: logger, metrics: metrics}
}

// Handle prunes keys older than the payload retention, or the job default.
func (j *CleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track("idempotency_cleanup")

	retention := j.retention
	if len(t.Payload()) > 0 {
		var payload CleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return tracker.End(fmt.Errorf("%w: %v", asynq.SkipRetry, err))
		}
		if payload.Retention != "" {
			d, err := time.ParseDuration(payload.Retention)
			if err != nil || d <= 0 {
				return tracker.End(fmt.Errorf("%w: bad retention %q", asynq.SkipRetry, payload.Retention))
			}
			retention = d
		}
	}
	if retention <= 0 {
		return tracker.End(fmt.Errorf("%w: retention not configured", asynq.SkipRetry))
	}

	n, err := j.keys.Cleanup(ctx, retention)
	if err != nil {
		j.logger.Warn("idempotency cleanup", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics.AddCleanedKeys(n)
	j.logger.Info("idempotency keys cleaned",
		slog.String("job", "idempotency_cleanup"),
		slog.Int64("deleted", n),
		slog.Duration("retention", retention))
	return tracker.End(nil)
}
