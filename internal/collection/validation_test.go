package collection

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDraft() PaymentDraft {
	return PaymentDraft{
		Amount:      "400",
		Method:      MethodCash,
		PaymentDate: day(2026, 10, 15),
	}
}

func fields(violations []Violation) []string {
	out := make([]string, 0, len(violations))
	for _, v := range violations {
		out = append(out, v.Field)
	}
	return out
}

func TestValidateDraftAcceptsValidPayment(t *testing.T) {
	amount, violations := ValidateDraft(validDraft(), sampleInvoices()[0], testNow)
	require.Empty(t, violations)
	assert.Equal(t, "400.00", amount.StringFixed(2))
}

func TestValidateDraftAmountBounds(t *testing.T) {
	cases := map[string]string{
		"":        "Amount is required",
		"   ":     "Amount is required",
		"abc":     "Amount must be a number",
		"0":       "Amount must be greater than zero",
		"-5":      "Amount must be greater than zero",
		"1000.01": "Amount cannot exceed the balance of 1000.00",
		"0.004":   "Amount can have at most 2 decimal places",
		"0.015":   "Amount can have at most 2 decimal places",
		"12.345":  "Amount can have at most 2 decimal places",
	}
	for raw, msg := range cases {
		d := validDraft()
		d.Amount = raw
		_, violations := ValidateDraft(d, sampleInvoices()[0], testNow)
		require.Len(t, violations, 1, "amount %q", raw)
		assert.Equal(t, "amount", violations[0].Field)
		assert.Equal(t, msg, violations[0].Message)
	}

	d := validDraft()
	d.Amount = "1000.00"
	_, violations := ValidateDraft(d, sampleInvoices()[0], testNow)
	assert.Empty(t, violations, "full balance is allowed")
}

func TestValidateDraftAcceptsTrailingZeros(t *testing.T) {
	d := validDraft()
	d.Amount = "12.5000"
	amount, violations := ValidateDraft(d, sampleInvoices()[0], testNow)
	assert.Empty(t, violations)
	assert.Equal(t, "12.50", amount.StringFixed(AmountScale))
}

func TestValidateDraftMethodConditionalFields(t *testing.T) {
	inv := sampleInvoices()[0]

	d := validDraft()
	d.Method = MethodCheck
	d.CheckNumber = "   "
	_, violations := ValidateDraft(d, inv, testNow)
	assert.Equal(t, []string{"check_number"}, fields(violations))

	d.CheckNumber = "000123"
	_, violations = ValidateDraft(d, inv, testNow)
	assert.Empty(t, violations)

	d = validDraft()
	d.Method = MethodBankTransfer
	_, violations = ValidateDraft(d, inv, testNow)
	assert.Equal(t, []string{"bank_reference"}, fields(violations))

	d.BankReference = "TRX-9"
	_, violations = ValidateDraft(d, inv, testNow)
	assert.Empty(t, violations)

	d = validDraft()
	d.Method = MethodOnline
	_, violations = ValidateDraft(d, inv, testNow)
	assert.Empty(t, violations, "online needs no reference")
}

func TestValidateDraftRejectsUnknownMethod(t *testing.T) {
	d := validDraft()
	d.Method = "barter"
	_, violations := ValidateDraft(d, sampleInvoices()[0], testNow)
	require.Equal(t, []string{"payment_method"}, fields(violations))

	d.Method = ""
	_, violations = ValidateDraft(d, sampleInvoices()[0], testNow)
	require.Len(t, violations, 1)
	assert.Equal(t, "Payment method is required", violations[0].Message)
}

func TestValidateDraftPaymentDate(t *testing.T) {
	d := validDraft()
	d.PaymentDate = time.Time{}
	_, violations := ValidateDraft(d, sampleInvoices()[0], testNow)
	require.Len(t, violations, 1)
	assert.Equal(t, "Payment date is required", violations[0].Message)

	d.PaymentDate = day(2026, 10, 16)
	_, violations = ValidateDraft(d, sampleInvoices()[0], testNow)
	require.Len(t, violations, 1)
	assert.Equal(t, "Payment date cannot be in the future", violations[0].Message)
}

func TestValidateDraftNotesLength(t *testing.T) {
	d := validDraft()
	d.Notes = strings.Repeat("é", MaxNotesLength)
	_, violations := ValidateDraft(d, sampleInvoices()[0], testNow)
	assert.Empty(t, violations, "limit counts characters")

	d.Notes += "x"
	_, violations = ValidateDraft(d, sampleInvoices()[0], testNow)
	assert.Equal(t, []string{"notes"}, fields(violations))
}

func TestValidateDraftReportsAllViolations(t *testing.T) {
	d := PaymentDraft{Method: MethodCheck}
	_, violations := ValidateDraft(d, sampleInvoices()[0], testNow)
	assert.ElementsMatch(t, []string{"amount", "payment_date", "check_number"}, fields(violations))
}
