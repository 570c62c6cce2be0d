package collection

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidTransition is returned when an operation is not legal in the current step.
	ErrInvalidTransition = errors.New("collection: operation not allowed in current step")
	// ErrClosed is returned once the workflow has been torn down.
	ErrClosed = errors.New("collection: workflow closed")
	// ErrBusy is returned when the draft is frozen by an in-flight submit.
	ErrBusy = errors.New("collection: submit in progress")
	// ErrInvoiceNotFound is returned when selecting an invoice missing from the pending list.
	ErrInvoiceNotFound = errors.New("collection: invoice not in pending list")
	// ErrNoImage is returned by image operations when nothing has been captured.
	ErrNoImage = errors.New("collection: no captured image")
	// ErrCameraNotOpen is returned when capturing without an open camera.
	ErrCameraNotOpen = errors.New("collection: camera not open")
	// ErrCheckOnly is returned when the image sub-flow is used with a non-check method.
	ErrCheckOnly = errors.New("collection: check image only applies to check payments")
	// ErrUnknownSuggestion is returned for an amount suggestion label that does not exist.
	ErrUnknownSuggestion = errors.New("collection: unknown amount suggestion")
	// ErrWorkflowNotFound is returned by the manager for unknown or foreign workflow ids.
	ErrWorkflowNotFound = errors.New("collection: workflow not found")
)

// GenericSubmitFailure is shown when the backend gives no message of its own.
const GenericSubmitFailure = "Failed to record payment. Please try again."

// Violation is a single failed validation rule.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports every violated draft rule at once.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Field+": "+v.Message)
	}
	return "collection: validation failed: " + strings.Join(msgs, "; ")
}

// NetworkError wraps a transport failure talking to an external service.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return "collection: " + e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DeviceError wraps a camera failure. It only affects the check image sub-flow.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string {
	return "collection: camera: " + e.Err.Error()
}

func (e *DeviceError) Unwrap() error { return e.Err }

// SubmissionConflict is a server-side rejection of a payment. Message is shown verbatim.
type SubmissionConflict struct {
	Message string
}

func (e *SubmissionConflict) Error() string {
	return "collection: payment rejected: " + e.Message
}

// UserMessage maps an error to text that is safe to show a collector.
func UserMessage(err error) string {
	var (
		conflict   *SubmissionConflict
		validation *ValidationError
		device     *DeviceError
		network    *NetworkError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &conflict):
		if conflict.Message == "" {
			return GenericSubmitFailure
		}
		return conflict.Message
	case errors.As(err, &validation):
		if len(validation.Violations) > 0 {
			return validation.Violations[0].Message
		}
		return "Please check the payment details."
	case errors.As(err, &device):
		return "Camera is unavailable. Check permissions and try again."
	case errors.As(err, &network):
		if network.Op == OpSubmit {
			return GenericSubmitFailure
		}
		return "Could not reach the server. Please retry."
	case errors.Is(err, ErrBusy):
		return "A payment is already being submitted."
	case errors.Is(err, ErrClosed):
		return "This collection has been closed."
	default:
		return "Something went wrong. Please try again."
	}
}

// Operation names carried by NetworkError.
const (
	OpListPending = "list pending invoices"
	OpSubmit      = "submit payment"
	OpUpload      = "upload check image"
)
