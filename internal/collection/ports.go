package collection

import (
	"context"
	"time"
)

// InvoiceQuery lists invoices that still carry a balance.
type InvoiceQuery interface {
	ListPending(ctx context.Context, distributorID string, limit int) ([]Invoice, error)
}

// PaymentSubmitter records a payment with the backend. Rejections are returned as
// *SubmissionConflict, transport failures as *NetworkError.
type PaymentSubmitter interface {
	SubmitPayment(ctx context.Context, req PaymentRequest) (SubmitResult, error)
}

// Camera is the device capability used to photograph checks.
type Camera interface {
	Open(ctx context.Context, facing string) (string, error)
	Capture(ctx context.Context, handle string) ([]byte, error)
	Close(ctx context.Context, handle string) error
}

// Uploader transfers a captured check image and returns its public URL. progress
// receives integer percentages from 0 to 100 and may be nil.
type Uploader interface {
	UploadCheckImage(ctx context.Context, blob []byte, paymentID string, progress func(int)) (string, error)
}

// PreviewStore hands out locally resolvable references for captured blobs.
type PreviewStore interface {
	Put(ctx context.Context, blob []byte) (string, error)
	Revoke(ctx context.Context, url string) error
}

// Hooks are the notifications exposed to the surrounding application.
type Hooks struct {
	OnSuccess func(message string, receipt Receipt)
	OnClose   func()
}

// Timer is the cancellable handle returned by an AfterFunc.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. The default wraps time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
