package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/collect/internal/collection"
	jobmetrics "github.com/odyssey-erp/collect/internal/jobs"
	"github.com/odyssey-erp/collect/internal/receipts"
)

// ReceiptRecorder journals receipts; receipts.Service satisfies it.
type ReceiptRecorder interface {
	Record(ctx context.Context, r collection.Receipt) (bool, error)
}

// ReceiptJob handles TaskCollectionReceipt.
type ReceiptJob struct {
	recorder ReceiptRecorder
	logger   *slog.Logger
	metrics  *jobmetrics.Metrics
}

// NewReceiptJob constructs the receipt journaling job.
func NewReceiptJob(recorder ReceiptRecorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReceiptJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReceiptJob{recorder: recorder, logger: logger, metrics: metrics}
}

// Handle decodes the task and journals its receipt. Malformed payloads are not
// retried.
func (j *ReceiptJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track("collection_receipt")

	var payload ReceiptPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		j.logger.Error("decode receipt task", slog.Any("error", err))
		return tracker.End(fmt.Errorf("%w: %v", asynq.SkipRetry, err))
	}
	receipt, err := payload.Receipt()
	if err != nil {
		return tracker.End(fmt.Errorf("%w: %v", asynq.SkipRetry, err))
	}

	written, err := j.recorder.Record(ctx, receipt)
	if err != nil {
		if errors.Is(err, receipts.ErrInvalidReceipt) {
			j.logger.Error("invalid receipt", slog.String("receipt_id", receipt.ID), slog.Any("error", err))
			return tracker.End(fmt.Errorf("%w: %v", asynq.SkipRetry, err))
		}
		j.logger.Warn("journal receipt", slog.String("receipt_id", receipt.ID), slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics.ReceiptJournaled(!written)
	j.logger.Info("receipt journaled",
		slog.String("job", "collection_receipt"),
		slog.String("receipt_id", receipt.ID),
		slog.Bool("duplicate", !written))
	return tracker.End(nil)
}
