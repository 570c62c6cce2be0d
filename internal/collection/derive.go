package collection

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// PaymentStatus labels the invoice after a payment has been applied.
type PaymentStatus string

const (
	StatusFullyPaid PaymentStatus = "Fully Paid"
	StatusPartial   PaymentStatus = "Partial Payment"
)

// Suggestion labels.
const (
	SuggestFull    = "Full Amount"
	SuggestHalf    = "50%"
	SuggestQuarter = "25%"
)

var (
	half    = decimal.NewFromFloat(0.5)
	quarter = decimal.NewFromFloat(0.25)
)

// Suggestion is a one-tap amount offered to the collector.
type Suggestion struct {
	Label  string
	Amount decimal.Decimal
}

// SuggestAmounts derives the quick-pick amounts for a balance.
func SuggestAmounts(balance decimal.Decimal) []Suggestion {
	return []Suggestion{
		{Label: SuggestFull, Amount: balance},
		{Label: SuggestHalf, Amount: balance.Mul(half).Round(2)},
		{Label: SuggestQuarter, Amount: balance.Mul(quarter).Round(2)},
	}
}

// RemainingBalance is max(balance-amount, 0).
func RemainingBalance(balance, amount decimal.Decimal) decimal.Decimal {
	remaining := balance.Sub(amount)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// StatusFor labels a remaining balance.
func StatusFor(remaining decimal.Decimal) PaymentStatus {
	if remaining.LessThanOrEqual(decimal.Zero) {
		return StatusFullyPaid
	}
	return StatusPartial
}

// SortPending orders invoices for collection in place: overdue first, most overdue
// first, then the rest by earliest due date. Ties keep their original order.
func SortPending(invoices []Invoice) {
	sort.SliceStable(invoices, func(i, j int) bool {
		a, b := invoices[i], invoices[j]
		if a.Overdue() != b.Overdue() {
			return a.Overdue()
		}
		if a.Overdue() {
			return a.DaysOverdue > b.DaysOverdue
		}
		return a.DueDate.Before(b.DueDate)
	})
}

// FilterInvoices keeps invoices whose distributor name or number contains query,
// ignoring case. An empty query returns the input unchanged.
func FilterInvoices(invoices []Invoice, query string) []Invoice {
	query = strings.ToLower(query)
	if query == "" {
		return invoices
	}
	out := make([]Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if strings.Contains(strings.ToLower(inv.DistributorName), query) ||
			strings.Contains(strings.ToLower(inv.Number), query) {
			out = append(out, inv)
		}
	}
	return out
}

// Summary is the derived confirmation view of a submitted payment.
type Summary struct {
	Invoice   Invoice
	Payment   PaymentDraft
	Amount    decimal.Decimal
	Remaining decimal.Decimal
	Status    PaymentStatus
}

// Summarize derives the confirmation summary for a payment against an invoice.
func Summarize(inv Invoice, payment PaymentDraft, amount decimal.Decimal) Summary {
	remaining := RemainingBalance(inv.BalanceAmount, amount)
	return Summary{
		Invoice:   inv,
		Payment:   payment,
		Amount:    amount,
		Remaining: remaining,
		Status:    StatusFor(remaining),
	}
}
