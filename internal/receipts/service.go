package receipts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/collect/internal/collection"
	"github.com/odyssey-erp/collect/internal/shared"
)

const defaultListLimit = 20

// errDuplicate aborts the transaction of an already journaled receipt.
var errDuplicate = errors.New("receipts: already recorded")

// Service journals receipts exactly once.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{store: store, logger: logger}
}

// Record journals r. A receipt that was already journaled is skipped, so
// redelivered jobs are harmless. It reports whether a row was written.
func (s *Service) Record(ctx context.Context, r collection.Receipt) (bool, error) {
	if err := validate(r); err != nil {
		return false, err
	}
	err := s.store.WithTx(ctx, func(tx Tx) error {
		keys := shared.NewIdempotencyStore(tx)
		if err := keys.CheckAndInsert(ctx, shared.ReceiptIdempotencyKey(r.ID), shared.IdempotencyModuleReceipts); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return errDuplicate
			}
			return fmt.Errorf("receipts: idempotency: %w", err)
		}
		return tx.InsertReceipt(ctx, r)
	})
	if errors.Is(err, errDuplicate) {
		s.logger.Info("receipt already recorded", slog.String("receipt_id", r.ID))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListRecent implements collection.ReceiptLister.
func (s *Service) ListRecent(ctx context.Context, collectorID string, limit int) ([]collection.Receipt, error) {
	if collectorID == "" {
		return nil, fmt.Errorf("%w: collector required", ErrInvalidReceipt)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.store.ListRecent(ctx, collectorID, limit)
}

func validate(r collection.Receipt) error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: id required", ErrInvalidReceipt)
	case r.CollectorID == "":
		return fmt.Errorf("%w: collector required", ErrInvalidReceipt)
	case r.InvoiceID == "":
		return fmt.Errorf("%w: invoice required", ErrInvalidReceipt)
	case !r.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrInvalidReceipt)
	case !r.Method.Valid():
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidReceipt, r.Method)
	}
	return nil
}
