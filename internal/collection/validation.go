package collection

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// MaxNotesLength bounds the free-text notes on a payment, in characters.
const MaxNotesLength = 500

// AmountScale is the number of decimal places a payment amount may carry.
const AmountScale = 2

type draftRules struct {
	Method        string     `json:"payment_method" validate:"required,oneof=cash check bank_transfer online"`
	PaymentDate   *time.Time `json:"payment_date" validate:"required"`
	CheckNumber   string     `json:"check_number" validate:"required_if=Method check"`
	BankReference string     `json:"bank_reference" validate:"required_if=Method bank_transfer"`
	Notes         string     `json:"notes" validate:"max=500"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateDraft checks d against inv and returns the parsed amount together with
// every violated rule. today is the collector's current calendar day.
func ValidateDraft(d PaymentDraft, inv Invoice, today time.Time) (decimal.Decimal, []Violation) {
	amount, violations := validateAmount(d.Amount, inv.BalanceAmount)

	rules := draftRules{
		Method:        string(d.Method),
		CheckNumber:   strings.TrimSpace(d.CheckNumber),
		BankReference: strings.TrimSpace(d.BankReference),
		Notes:         d.Notes,
	}
	if !d.PaymentDate.IsZero() {
		date := d.PaymentDate
		rules.PaymentDate = &date
	}
	if err := validate.Struct(rules); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				violations = append(violations, Violation{Field: fe.Field(), Message: ruleMessage(fe)})
			}
		}
	}

	if rules.PaymentDate != nil && dayOf(*rules.PaymentDate).After(dayOf(today)) {
		violations = append(violations, Violation{Field: "payment_date", Message: "Payment date cannot be in the future"})
	}
	return amount, violations
}

func validateAmount(raw string, balance decimal.Decimal) (decimal.Decimal, []Violation) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, []Violation{{Field: "amount", Message: "Amount is required"}}
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, []Violation{{Field: "amount", Message: "Amount must be a number"}}
	}
	if !amount.IsPositive() {
		return amount, []Violation{{Field: "amount", Message: "Amount must be greater than zero"}}
	}
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return amount, []Violation{{Field: "amount", Message: "Amount can have at most 2 decimal places"}}
	}
	if amount.GreaterThan(balance) {
		return amount, []Violation{{Field: "amount", Message: "Amount cannot exceed the balance of " + balance.StringFixed(2)}}
	}
	return amount, nil
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Field() {
	case "payment_method":
		if fe.Tag() == "required" {
			return "Payment method is required"
		}
		return "Payment method must be cash, check, bank_transfer or online"
	case "payment_date":
		return "Payment date is required"
	case "check_number":
		return "Check number is required for check payments"
	case "bank_reference":
		return "Bank reference is required for bank transfers"
	case "notes":
		return "Notes cannot exceed 500 characters"
	}
	return fe.Error()
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
