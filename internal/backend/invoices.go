package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/collect/internal/collection"
)

const dateLayout = "2006-01-02"

type invoiceWire struct {
	ID              wireID          `json:"invoice_id"`
	Number          string          `json:"invoice_number"`
	DistributorName string          `json:"distributor_name"`
	BalanceAmount   decimal.Decimal `json:"balance_amount"`
	DueDate         string          `json:"due_date"`
	DaysOverdue     int             `json:"days_overdue"`
}

func (w invoiceWire) toInvoice() (collection.Invoice, error) {
	inv := collection.Invoice{
		ID:              string(w.ID),
		Number:          w.Number,
		DistributorName: w.DistributorName,
		BalanceAmount:   w.BalanceAmount,
		DaysOverdue:     max(w.DaysOverdue, 0),
	}
	if w.DueDate != "" {
		raw := w.DueDate
		if len(raw) > len(dateLayout) {
			raw = raw[:len(dateLayout)]
		}
		due, err := time.Parse(dateLayout, raw)
		if err != nil {
			return collection.Invoice{}, fmt.Errorf("invoice %s: due date %q: %w", w.ID, w.DueDate, err)
		}
		inv.DueDate = due
	}
	return inv, nil
}

// ListPending implements collection.InvoiceQuery.
func (c *Client) ListPending(ctx context.Context, distributorID string, limit int) ([]collection.Invoice, error) {
	q := url.Values{}
	if distributorID != "" {
		q.Set("distributor_id", distributorID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/invoices/pending"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Data []invoiceWire `json:"data"`
	}
	if err := do(c.httpClient, req, &payload); err != nil {
		return nil, &collection.NetworkError{Op: collection.OpListPending, Err: err}
	}

	invoices := make([]collection.Invoice, 0, len(payload.Data))
	for _, w := range payload.Data {
		inv, err := w.toInvoice()
		if err != nil {
			return nil, &collection.NetworkError{Op: collection.OpListPending, Err: fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)}
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}
