package collection

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod enumerates the ways a collector can receive money.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodCheck        PaymentMethod = "check"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodOnline       PaymentMethod = "online"
)

// Valid reports whether m is one of the supported methods.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCheck, MethodBankTransfer, MethodOnline:
		return true
	}
	return false
}

// Invoice is the backend's view of an unpaid invoice. The workflow never mutates it.
type Invoice struct {
	ID              string
	Number          string
	DistributorName string
	BalanceAmount   decimal.Decimal
	DueDate         time.Time
	DaysOverdue     int
}

// Overdue reports whether the invoice is past its due date.
func (inv Invoice) Overdue() bool {
	return inv.DaysOverdue > 0
}

// PaymentDraft is the in-progress payment composed during EnteringPayment.
type PaymentDraft struct {
	Amount        string
	Method        PaymentMethod
	PaymentDate   time.Time
	CheckNumber   string
	BankReference string
	Notes         string
	CheckImageURL string
}

// DraftPatch carries a partial draft edit; nil fields are left untouched.
type DraftPatch struct {
	Amount        *string
	Method        *PaymentMethod
	PaymentDate   *time.Time
	CheckNumber   *string
	BankReference *string
	Notes         *string
}

func (p DraftPatch) apply(d *PaymentDraft) {
	if p.Amount != nil {
		d.Amount = *p.Amount
	}
	if p.Method != nil {
		d.Method = *p.Method
	}
	if p.PaymentDate != nil {
		d.PaymentDate = *p.PaymentDate
	}
	if p.CheckNumber != nil {
		d.CheckNumber = *p.CheckNumber
	}
	if p.BankReference != nil {
		d.BankReference = *p.BankReference
	}
	if p.Notes != nil {
		d.Notes = *p.Notes
	}
}

// CapturedImage is a photographed check held locally until submit or release.
type CapturedImage struct {
	Blob []byte
	URL  string
}

// PaymentRequest is the payload handed to the PaymentSubmitter.
type PaymentRequest struct {
	InvoiceID     string
	Amount        decimal.Decimal
	Method        PaymentMethod
	PaymentDate   time.Time
	CheckNumber   *string
	BankReference *string
	Notes         *string
	CheckImageURL *string
}

// SubmitResult is the backend acknowledgement of a recorded payment.
type SubmitResult struct {
	PaymentID string
	Message   string
}

// Receipt summarises a confirmed collection for downstream consumers.
type Receipt struct {
	ID              string
	WorkflowID      string
	CollectorID     string
	PaymentID       string
	InvoiceID       string
	InvoiceNumber   string
	DistributorName string
	Amount          decimal.Decimal
	Method          PaymentMethod
	PaymentDate     time.Time
	Remaining       decimal.Decimal
	Status          PaymentStatus
	CheckImageURL   string
	ConfirmedAt     time.Time
}

// newRequest builds the submit payload. Method-specific references are only sent
// for their own method.
func newRequest(inv Invoice, d PaymentDraft, amount decimal.Decimal) PaymentRequest {
	req := PaymentRequest{
		InvoiceID:     inv.ID,
		Amount:        amount,
		Method:        d.Method,
		PaymentDate:   d.PaymentDate,
		Notes:         optional(d.Notes),
		CheckImageURL: optional(d.CheckImageURL),
	}
	switch d.Method {
	case MethodCheck:
		req.CheckNumber = optional(d.CheckNumber)
	case MethodBankTransfer:
		req.BankReference = optional(d.BankReference)
	}
	return req
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
