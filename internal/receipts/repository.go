package receipts

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/collect/internal/collection"
	"github.com/odyssey-erp/collect/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for receipts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn in a transaction; returning an error rolls it back.
func (r *Repository) WithTx(ctx context.Context, fn func(Tx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(txStore{tx: tx})
	})
}

// ListRecent returns the newest receipts of collectorID.
func (r *Repository) ListRecent(ctx context.Context, collectorID string, limit int) ([]collection.Receipt, error) {
	query := `
		SELECT id::text, workflow_id, collector_id, COALESCE(payment_id, ''), invoice_id, invoice_number,
			distributor_name, amount::text, payment_method, payment_date, remaining::text, status,
			COALESCE(check_image_url, ''), confirmed_at
		FROM collection_receipts
		WHERE collector_id = $1
		ORDER BY confirmed_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, collectorID, limit)
	if err != nil {
		return nil, fmt.Errorf("receipts: list: %w", err)
	}
	defer rows.Close()

	var out []collection.Receipt
	for rows.Next() {
		var (
			rc                collection.Receipt
			amount, remaining string
			method, status    string
			paymentDate       pgtype.Date
		)
		if err := rows.Scan(
			&rc.ID, &rc.WorkflowID, &rc.CollectorID, &rc.PaymentID, &rc.InvoiceID, &rc.InvoiceNumber,
			&rc.DistributorName, &amount, &method, &paymentDate, &remaining, &status,
			&rc.CheckImageURL, &rc.ConfirmedAt,
		); err != nil {
			return nil, fmt.Errorf("receipts: scan: %w", err)
		}
		if rc.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("receipts: amount: %w", err)
		}
		if rc.Remaining, err = decimal.NewFromString(remaining); err != nil {
			return nil, fmt.Errorf("receipts: remaining: %w", err)
		}
		rc.Method = collection.PaymentMethod(method)
		rc.Status = collection.PaymentStatus(status)
		if paymentDate.Valid {
			rc.PaymentDate = paymentDate.Time
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

type txStore struct {
	tx pgx.Tx
}

func (s txStore) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return s.tx.Exec(ctx, sql, args...)
}

func (s txStore) InsertReceipt(ctx context.Context, rc collection.Receipt) error {
	query := `
		INSERT INTO collection_receipts (
			id, workflow_id, collector_id, payment_id, invoice_id, invoice_number, distributor_name,
			amount, payment_method, payment_date, remaining, status, check_image_url, confirmed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11::numeric, $12, $13, $14)`

	_, err := s.tx.Exec(ctx, query,
		rc.ID,
		rc.WorkflowID,
		rc.CollectorID,
		nullable(rc.PaymentID),
		rc.InvoiceID,
		rc.InvoiceNumber,
		rc.DistributorName,
		rc.Amount.StringFixed(2),
		string(rc.Method),
		pgtype.Date{Time: dateOnly(rc.PaymentDate), Valid: !rc.PaymentDate.IsZero()},
		rc.Remaining.StringFixed(2),
		string(rc.Status),
		nullable(rc.CheckImageURL),
		rc.ConfirmedAt,
	)
	if err != nil {
		return fmt.Errorf("receipts: insert: %w", err)
	}
	return nil
}

func nullable(v string) pgtype.Text {
	return pgtype.Text{String: v, Valid: v != ""}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
