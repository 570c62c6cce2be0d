// Package receipts journals confirmed collections in Postgres.
package receipts

import (
	"context"
	"errors"

	"github.com/odyssey-erp/collect/internal/collection"
	"github.com/odyssey-erp/collect/internal/shared"
)

// ErrInvalidReceipt is returned for receipts missing required fields.
var ErrInvalidReceipt = errors.New("receipts: invalid receipt")

// Tx is the transactional view used while journaling one receipt.
type Tx interface {
	shared.Execer
	InsertReceipt(ctx context.Context, r collection.Receipt) error
}

// Store defines data access for receipts.
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
	ListRecent(ctx context.Context, collectorID string, limit int) ([]collection.Receipt, error)
}
