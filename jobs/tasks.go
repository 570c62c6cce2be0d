package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/collect/internal/collection"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueReceipts carries receipt journaling, weighted above maintenance.
	QueueReceipts = "receipts"
	// TaskCollectionReceipt journals a confirmed collection.
	TaskCollectionReceipt = "collection:receipt"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// ReceiptPayload is the wire form of a receipt task.
type ReceiptPayload struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	CollectorID     string          `json:"collector_id"`
	PaymentID       string          `json:"payment_id,omitempty"`
	InvoiceID       string          `json:"invoice_id"`
	InvoiceNumber   string          `json:"invoice_number"`
	DistributorName string          `json:"distributor_name"`
	Amount          decimal.Decimal `json:"amount"`
	Method          string          `json:"payment_method"`
	PaymentDate     string          `json:"payment_date"`
	Remaining       decimal.Decimal `json:"remaining"`
	Status          string          `json:"status"`
	CheckImageURL   string          `json:"check_image_url,omitempty"`
	ConfirmedAt     time.Time       `json:"confirmed_at"`
}

const payloadDateLayout = "2006-01-02"

func receiptPayload(r collection.Receipt) ReceiptPayload {
	return ReceiptPayload{
		ID:              r.ID,
		WorkflowID:      r.WorkflowID,
		CollectorID:     r.CollectorID,
		PaymentID:       r.PaymentID,
		InvoiceID:       r.InvoiceID,
		InvoiceNumber:   r.InvoiceNumber,
		DistributorName: r.DistributorName,
		Amount:          r.Amount,
		Method:          string(r.Method),
		PaymentDate:     r.PaymentDate.Format(payloadDateLayout),
		Remaining:       r.Remaining,
		Status:          string(r.Status),
		CheckImageURL:   r.CheckImageURL,
		ConfirmedAt:     r.ConfirmedAt.UTC(),
	}
}

// Receipt converts the payload back to the domain type.
func (p ReceiptPayload) Receipt() (collection.Receipt, error) {
	date, err := time.Parse(payloadDateLayout, p.PaymentDate)
	if err != nil {
		return collection.Receipt{}, fmt.Errorf("jobs: payment date: %w", err)
	}
	return collection.Receipt{
		ID:              p.ID,
		WorkflowID:      p.WorkflowID,
		CollectorID:     p.CollectorID,
		PaymentID:       p.PaymentID,
		InvoiceID:       p.InvoiceID,
		InvoiceNumber:   p.InvoiceNumber,
		DistributorName: p.DistributorName,
		Amount:          p.Amount,
		Method:          collection.PaymentMethod(p.Method),
		PaymentDate:     date,
		Remaining:       p.Remaining,
		Status:          collection.PaymentStatus(p.Status),
		CheckImageURL:   p.CheckImageURL,
		ConfirmedAt:     p.ConfirmedAt,
	}, nil
}

// NewReceiptTask constructs a receipt task. The receipt id doubles as the task
// id so a double enqueue is rejected by the queue itself.
func NewReceiptTask(r collection.Receipt) (*asynq.Task, error) {
	data, err := json.Marshal(receiptPayload(r))
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCollectionReceipt, data,
		asynq.TaskID(r.ID),
		asynq.Queue(QueueReceipts),
		asynq.MaxRetry(10),
	), nil
}

// CleanupPayload configures one idempotency cleanup run.
type CleanupPayload struct {
	Retention string `json:"retention,omitempty"`
}

// NewIdempotencyCleanupTask constructs a cleanup task. A zero retention defers
// to the worker's configured value.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	payload := CleanupPayload{}
	if retention > 0 {
		payload.Retention = retention.String()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.Queue(QueueDefault)), nil
}
