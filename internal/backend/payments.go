package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/odyssey-erp/collect/internal/collection"
)

type paymentWire struct {
	InvoiceID     string      `json:"invoice_id"`
	Amount        json.Number `json:"amount"`
	PaymentMethod string      `json:"payment_method"`
	PaymentDate   string      `json:"payment_date"`
	CheckNumber   *string     `json:"check_number"`
	BankReference *string     `json:"bank_reference"`
	Notes         *string     `json:"notes"`
	CheckImageURL *string     `json:"check_image_url"`
}

type paymentResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		ID wireID `json:"id"`
	} `json:"data"`
}

// SubmitPayment implements collection.PaymentSubmitter. A 4xx answer or an
// unsuccessful 2xx body is a *collection.SubmissionConflict; anything else that
// fails is a *collection.NetworkError.
func (c *Client) SubmitPayment(ctx context.Context, p collection.PaymentRequest) (collection.SubmitResult, error) {
	if !p.Amount.Equal(p.Amount.Truncate(collection.AmountScale)) {
		return collection.SubmitResult{}, fmt.Errorf("backend: submit payment: amount %s has more than %d decimal places", p.Amount, collection.AmountScale)
	}
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/api/payments", paymentWire{
		InvoiceID:     p.InvoiceID,
		Amount:        json.Number(p.Amount.StringFixed(collection.AmountScale)),
		PaymentMethod: string(p.Method),
		PaymentDate:   p.PaymentDate.Format(dateLayout),
		CheckNumber:   p.CheckNumber,
		BankReference: p.BankReference,
		Notes:         p.Notes,
		CheckImageURL: p.CheckImageURL,
	})
	if err != nil {
		return collection.SubmitResult{}, err
	}

	var resp paymentResponse
	if err := do(c.httpClient, req, &resp); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Status >= 400 && statusErr.Status < 500 {
			return collection.SubmitResult{}, &collection.SubmissionConflict{Message: statusErr.Message}
		}
		return collection.SubmitResult{}, &collection.NetworkError{Op: collection.OpSubmit, Err: err}
	}
	if !resp.Success {
		return collection.SubmitResult{}, &collection.SubmissionConflict{Message: resp.Message}
	}
	return collection.SubmitResult{PaymentID: string(resp.Data.ID), Message: resp.Message}, nil
}
