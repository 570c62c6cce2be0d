package collection

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const dateLayout = "2006-01-02"

// Formatter renders money amounts for display in the collector's locale. The
// amount never leaves decimal form; only the grouping and separators come from
// the locale.
type Formatter struct {
	printer   *message.Printer
	symbol    string
	separator string
	scale     int32
}

// NewFormatter builds a Formatter for an ISO 4217 currency code.
func NewFormatter(lang language.Tag, code string) (*Formatter, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("collection: currency %q: %w", code, err)
	}
	printer := message.NewPrinter(lang)
	scale, _ := currency.Standard.Rounding(unit)
	sample := printer.Sprint(number.Decimal(1, number.Scale(1)))
	return &Formatter{
		printer:   printer,
		symbol:    printer.Sprint(currency.Symbol(unit)),
		separator: strings.TrimFunc(sample, unicode.IsDigit),
		scale:     int32(scale),
	}, nil
}

// Format renders amount with the currency symbol, rounded to the currency's
// minor unit.
func (f *Formatter) Format(amount decimal.Decimal) string {
	if f == nil {
		return amount.StringFixed(2)
	}
	rounded := amount.Round(f.scale)
	abs := rounded.Abs()
	text := f.printer.Sprint(number.Decimal(abs.IntPart()))
	if f.scale > 0 {
		_, frac, _ := strings.Cut(abs.StringFixed(f.scale), ".")
		text += f.separator + frac
	}
	if rounded.IsNegative() {
		text = "-" + text
	}
	return f.symbol + " " + text
}

type invoiceDTO struct {
	ID              string `json:"invoice_id"`
	Number          string `json:"invoice_number"`
	DistributorName string `json:"distributor_name"`
	BalanceAmount   string `json:"balance_amount"`
	BalanceDisplay  string `json:"balance_display,omitempty"`
	DueDate         string `json:"due_date"`
	DaysOverdue     int    `json:"days_overdue"`
	Overdue         bool   `json:"overdue"`
}

type draftDTO struct {
	Amount        string `json:"amount"`
	PaymentMethod string `json:"payment_method"`
	PaymentDate   string `json:"payment_date"`
	CheckNumber   string `json:"check_number,omitempty"`
	BankReference string `json:"bank_reference,omitempty"`
	Notes         string `json:"notes,omitempty"`
	CheckImageURL string `json:"check_image_url,omitempty"`
}

type suggestionDTO struct {
	Label  string `json:"label"`
	Amount string `json:"amount"`
}

type imageDTO struct {
	PreviewURL  string `json:"preview_url"`
	Uploading   bool   `json:"uploading"`
	Progress    int    `json:"progress"`
	UploadError string `json:"upload_error,omitempty"`
}

type cameraDTO struct {
	Open  bool   `json:"open"`
	Error string `json:"error,omitempty"`
}

type selectingView struct {
	Query    string       `json:"query"`
	Loading  bool         `json:"loading"`
	Error    string       `json:"error,omitempty"`
	Total    int          `json:"total"`
	Invoices []invoiceDTO `json:"invoices"`
}

type enteringView struct {
	Invoice     invoiceDTO      `json:"invoice"`
	Draft       draftDTO        `json:"draft"`
	Suggestions []suggestionDTO `json:"suggestions"`
	Camera      cameraDTO       `json:"camera"`
	Image       *imageDTO       `json:"image,omitempty"`
	Submitting  bool            `json:"submitting"`
	SubmitError string          `json:"submit_error,omitempty"`
	Violations  []Violation     `json:"violations,omitempty"`
}

type confirmedView struct {
	PaymentID        string     `json:"payment_id,omitempty"`
	Message          string     `json:"message"`
	Invoice          invoiceDTO `json:"invoice"`
	Payment          draftDTO   `json:"payment"`
	Amount           string     `json:"amount"`
	AmountDisplay    string     `json:"amount_display"`
	Remaining        string     `json:"remaining_balance"`
	RemainingDisplay string     `json:"remaining_display"`
	Status           string     `json:"status"`
}

type workflowView struct {
	ID        string         `json:"id"`
	Step      Step           `json:"step"`
	Selecting *selectingView `json:"selecting,omitempty"`
	Entering  *enteringView  `json:"entering,omitempty"`
	Confirmed *confirmedView `json:"confirmed,omitempty"`
}

type receiptDTO struct {
	ID              string `json:"id"`
	PaymentID       string `json:"payment_id,omitempty"`
	InvoiceID       string `json:"invoice_id"`
	InvoiceNumber   string `json:"invoice_number"`
	DistributorName string `json:"distributor_name"`
	Amount          string `json:"amount"`
	PaymentMethod   string `json:"payment_method"`
	PaymentDate     string `json:"payment_date"`
	Remaining       string `json:"remaining_balance"`
	Status          string `json:"status"`
	CheckImageURL   string `json:"check_image_url,omitempty"`
	ConfirmedAt     string `json:"confirmed_at"`
}

type startRequest struct {
	PreselectedInvoice *invoiceInput `json:"preselected_invoice"`
}

type invoiceInput struct {
	ID              string          `json:"invoice_id"`
	Number          string          `json:"invoice_number"`
	DistributorName string          `json:"distributor_name"`
	BalanceAmount   decimal.Decimal `json:"balance_amount"`
	DueDate         string          `json:"due_date"`
	DaysOverdue     int             `json:"days_overdue"`
}

type searchRequest struct {
	Query string `json:"query"`
}

type selectRequest struct {
	InvoiceID string `json:"invoice_id"`
}

type cameraRequest struct {
	Facing string `json:"facing"`
}

type cameraErrorRequest struct {
	Reason string `json:"reason"`
}

type draftPatchRequest struct {
	Amount        *string `json:"amount"`
	PaymentMethod *string `json:"payment_method"`
	PaymentDate   *string `json:"payment_date"`
	CheckNumber   *string `json:"check_number"`
	BankReference *string `json:"bank_reference"`
	Notes         *string `json:"notes"`
}

func (in invoiceInput) toInvoice(loc *time.Location) (Invoice, error) {
	var violations []Violation
	if in.ID == "" {
		violations = append(violations, Violation{Field: "invoice_id", Message: "Invoice id is required"})
	}
	if in.BalanceAmount.IsNegative() {
		violations = append(violations, Violation{Field: "balance_amount", Message: "Balance cannot be negative"})
	}
	inv := Invoice{
		ID:              in.ID,
		Number:          in.Number,
		DistributorName: in.DistributorName,
		BalanceAmount:   in.BalanceAmount,
		DaysOverdue:     max(in.DaysOverdue, 0),
	}
	if in.DueDate != "" {
		due, err := time.ParseInLocation(dateLayout, in.DueDate, loc)
		if err != nil {
			violations = append(violations, Violation{Field: "due_date", Message: "Due date must be YYYY-MM-DD"})
		}
		inv.DueDate = due
	}
	if len(violations) > 0 {
		return Invoice{}, &ValidationError{Violations: violations}
	}
	return inv, nil
}

func (r draftPatchRequest) toPatch(loc *time.Location) (DraftPatch, error) {
	patch := DraftPatch{
		Amount:        r.Amount,
		CheckNumber:   r.CheckNumber,
		BankReference: r.BankReference,
		Notes:         r.Notes,
	}
	if r.PaymentMethod != nil {
		m := PaymentMethod(*r.PaymentMethod)
		patch.Method = &m
	}
	if r.PaymentDate != nil {
		if *r.PaymentDate == "" {
			zero := time.Time{}
			patch.PaymentDate = &zero
		} else {
			date, err := time.ParseInLocation(dateLayout, *r.PaymentDate, loc)
			if err != nil {
				return DraftPatch{}, &ValidationError{Violations: []Violation{{Field: "payment_date", Message: "Payment date must be YYYY-MM-DD"}}}
			}
			patch.PaymentDate = &date
		}
	}
	return patch, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return UserMessage(err)
}

func (h *Handler) invoiceView(inv Invoice) invoiceDTO {
	return invoiceDTO{
		ID:              inv.ID,
		Number:          inv.Number,
		DistributorName: inv.DistributorName,
		BalanceAmount:   inv.BalanceAmount.StringFixed(2),
		BalanceDisplay:  h.money.Format(inv.BalanceAmount),
		DueDate:         formatDate(inv.DueDate),
		DaysOverdue:     inv.DaysOverdue,
		Overdue:         inv.Overdue(),
	}
}

func draftView(d PaymentDraft) draftDTO {
	return draftDTO{
		Amount:        d.Amount,
		PaymentMethod: string(d.Method),
		PaymentDate:   formatDate(d.PaymentDate),
		CheckNumber:   d.CheckNumber,
		BankReference: d.BankReference,
		Notes:         d.Notes,
		CheckImageURL: d.CheckImageURL,
	}
}

func (h *Handler) view(w *Workflow) workflowView {
	out := workflowView{ID: w.ID()}
	switch st := w.State().(type) {
	case SelectingInvoice:
		visible := st.Visible()
		sv := &selectingView{
			Query:    st.Query,
			Loading:  st.Loading,
			Error:    errorText(st.LoadError),
			Total:    len(st.Invoices),
			Invoices: make([]invoiceDTO, 0, len(visible)),
		}
		for _, inv := range visible {
			sv.Invoices = append(sv.Invoices, h.invoiceView(inv))
		}
		out.Step, out.Selecting = st.Step(), sv
	case EnteringPayment:
		ev := &enteringView{
			Invoice:     h.invoiceView(st.Invoice),
			Draft:       draftView(st.Draft),
			Camera:      cameraDTO{Open: st.CameraOpen(), Error: errorText(st.CameraError)},
			Submitting:  st.Submitting,
			SubmitError: errorText(st.SubmitError),
			Violations:  st.Violations,
		}
		for _, s := range st.Suggestions() {
			ev.Suggestions = append(ev.Suggestions, suggestionDTO{Label: s.Label, Amount: s.Amount.StringFixed(2)})
		}
		if st.Image != nil {
			ev.Image = &imageDTO{
				PreviewURL:  st.Image.URL,
				Uploading:   st.Uploading,
				Progress:    st.UploadProgress,
				UploadError: errorText(st.UploadError),
			}
		}
		out.Step, out.Entering = st.Step(), ev
	case Confirmed:
		s := st.Summary()
		out.Step = st.Step()
		out.Confirmed = &confirmedView{
			PaymentID:        st.PaymentID(),
			Message:          st.Message(),
			Invoice:          h.invoiceView(s.Invoice),
			Payment:          draftView(s.Payment),
			Amount:           s.Amount.StringFixed(2),
			AmountDisplay:    h.money.Format(s.Amount),
			Remaining:        s.Remaining.StringFixed(2),
			RemainingDisplay: h.money.Format(s.Remaining),
			Status:           string(s.Status),
		}
	}
	return out
}

func receiptView(r Receipt) receiptDTO {
	return receiptDTO{
		ID:              r.ID,
		PaymentID:       r.PaymentID,
		InvoiceID:       r.InvoiceID,
		InvoiceNumber:   r.InvoiceNumber,
		DistributorName: r.DistributorName,
		Amount:          r.Amount.StringFixed(2),
		PaymentMethod:   string(r.Method),
		PaymentDate:     formatDate(r.PaymentDate),
		Remaining:       r.Remaining.StringFixed(2),
		Status:          string(r.Status),
		CheckImageURL:   r.CheckImageURL,
		ConfirmedAt:     r.ConfirmedAt.UTC().Format(time.RFC3339),
	}
}
