package collection

import "github.com/shopspring/decimal"

// Step names a workflow state.
type Step string

const (
	StepSelectingInvoice Step = "selecting_invoice"
	StepEnteringPayment  Step = "entering_payment"
	StepConfirmed        Step = "confirmed"
)

// State is the wizard's current step. It is implemented only by SelectingInvoice,
// EnteringPayment and Confirmed.
type State interface {
	Step() Step
	sealed()
}

// SelectingInvoice lists pending invoices for the collector to pick from.
type SelectingInvoice struct {
	Invoices  []Invoice
	Query     string
	Loading   bool
	LoadError error
}

func (SelectingInvoice) Step() Step { return StepSelectingInvoice }
func (SelectingInvoice) sealed()    {}

// Visible returns the invoices matching the active search text.
func (s SelectingInvoice) Visible() []Invoice {
	return FilterInvoices(s.Invoices, s.Query)
}

// EnteringPayment holds the draft for the selected invoice and the check image sub-flow.
type EnteringPayment struct {
	Invoice Invoice
	Draft   PaymentDraft
	Image   *CapturedImage

	CameraHandle string
	CameraError  error

	Uploading      bool
	UploadProgress int
	UploadError    error

	Submitting  bool
	SubmitError error
	Violations  []Violation
}

func (EnteringPayment) Step() Step { return StepEnteringPayment }
func (EnteringPayment) sealed()    {}

// Suggestions returns the quick-pick amounts for the selected invoice.
func (s EnteringPayment) Suggestions() []Suggestion {
	return SuggestAmounts(s.Invoice.BalanceAmount)
}

// CameraOpen reports whether a camera handle is held.
func (s EnteringPayment) CameraOpen() bool {
	return s.CameraHandle != ""
}

// Confirmed is the read-only result of a successful submission.
type Confirmed struct {
	invoice   Invoice
	payment   PaymentDraft
	amount    decimal.Decimal
	paymentID string
	message   string
}

func (Confirmed) Step() Step { return StepConfirmed }
func (Confirmed) sealed()    {}

// Invoice returns the invoice the payment was applied to.
func (c Confirmed) Invoice() Invoice { return c.invoice }

// Payment returns the submitted draft.
func (c Confirmed) Payment() PaymentDraft { return c.payment }

// PaymentID returns the backend identifier of the recorded payment, if any.
func (c Confirmed) PaymentID() string { return c.paymentID }

// Message returns the success message shown to the collector.
func (c Confirmed) Message() string { return c.message }

// Summary derives remaining balance and status.
func (c Confirmed) Summary() Summary {
	return Summarize(c.invoice, c.payment, c.amount)
}
