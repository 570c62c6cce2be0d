package collection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultPendingLimit  = 100
	defaultUploadTimeout = 60 * time.Second
	defaultSuccessText   = "Payment recorded successfully"
)

// Deps are the capabilities injected into a workflow.
type Deps struct {
	Invoices InvoiceQuery
	Payments PaymentSubmitter
	Camera   Camera
	Uploader Uploader
	Previews PreviewStore
}

// Options configure a single workflow instance.
type Options struct {
	ID            string
	CollectorID   string
	DistributorID string
	PendingLimit  int

	// Preselected skips invoice selection.
	Preselected *Invoice

	AutoUpload     bool
	AutoCloseAfter time.Duration
	UploadTimeout  time.Duration

	Location  *time.Location
	Now       func() time.Time
	AfterFunc AfterFunc

	Hooks   Hooks
	Logger  *slog.Logger
	Metrics *Metrics
}

type pendingSuccess struct {
	message string
	receipt Receipt
}

// release collects resources to free once the lock is dropped.
type release struct {
	cameraHandle string
	previewURL   string
}

// Workflow is a single payment collection wizard. All methods are safe for
// concurrent use; operations on one workflow are serialised.
type Workflow struct {
	mu   sync.Mutex
	deps Deps
	opts Options

	state      State
	closed     bool
	lastActive time.Time

	loadGen    uint64
	imageGen   uint64
	confirmSeq uint64

	pending   *pendingSuccess
	autoClose Timer
}

// New builds a workflow. Call Start to enter the first step.
func New(deps Deps, opts Options) *Workflow {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.PendingLimit <= 0 {
		opts.PendingLimit = defaultPendingLimit
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = defaultUploadTimeout
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = realAfterFunc
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	w := &Workflow{deps: deps, opts: opts}
	w.lastActive = opts.Now()
	w.opts.Logger = opts.Logger.With(slog.String("workflow_id", opts.ID))
	return w
}

// ID returns the workflow identifier.
func (w *Workflow) ID() string { return w.opts.ID }

// CollectorID returns the user that owns the workflow.
func (w *Workflow) CollectorID() string { return w.opts.CollectorID }

// State returns the current step. The returned value must not be mutated.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Closed reports whether the workflow has been torn down.
func (w *Workflow) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// IdleSince returns the time of the last operation.
func (w *Workflow) IdleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActive
}

// Start enters the first step: EnteringPayment when an invoice was preselected,
// otherwise SelectingInvoice followed by a pending invoice fetch. A fetch failure
// is recorded on the state and returned; the workflow stays usable.
func (w *Workflow) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.state != nil {
		w.mu.Unlock()
		return ErrInvalidTransition
	}
	if inv := w.opts.Preselected; inv != nil {
		w.state = w.enter(*inv)
		w.mu.Unlock()
		return nil
	}
	w.state = SelectingInvoice{}
	w.mu.Unlock()
	return w.Reload(ctx)
}

// Reload fetches the pending invoices again. It is the retry affordance after a
// failed fetch.
func (w *Workflow) Reload(ctx context.Context) error {
	w.mu.Lock()
	st, err := w.selecting()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	st.Loading = true
	st.LoadError = nil
	w.state = st
	w.loadGen++
	gen := w.loadGen
	w.mu.Unlock()

	invoices, fetchErr := w.deps.Invoices.ListPending(ctx, w.opts.DistributorID, w.opts.PendingLimit)
	w.opts.Metrics.fetch(fetchErr)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	st, ok := w.state.(SelectingInvoice)
	if !ok || gen != w.loadGen {
		return nil
	}
	st.Loading = false
	if fetchErr != nil {
		netErr := asNetworkError(OpListPending, fetchErr)
		w.opts.Logger.Warn("list pending invoices", slog.Any("error", fetchErr))
		st.Invoices = nil
		st.LoadError = netErr
		w.state = st
		return netErr
	}
	pending := make([]Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if inv.BalanceAmount.IsPositive() {
			pending = append(pending, inv)
		}
	}
	SortPending(pending)
	st.Invoices = pending
	w.state = st
	return nil
}

// Search sets the active search text.
func (w *Workflow) Search(query string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, err := w.selecting()
	if err != nil {
		return err
	}
	st.Query = query
	w.state = st
	return nil
}

// Select moves to EnteringPayment for one of the listed invoices.
func (w *Workflow) Select(invoiceID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, err := w.selecting()
	if err != nil {
		return err
	}
	for _, inv := range st.Invoices {
		if inv.ID == invoiceID {
			w.state = w.enter(inv)
			return nil
		}
	}
	return ErrInvoiceNotFound
}

func (w *Workflow) enter(inv Invoice) EnteringPayment {
	return EnteringPayment{
		Invoice: inv,
		Draft: PaymentDraft{
			Amount:      inv.BalanceAmount.StringFixed(2),
			Method:      MethodCash,
			PaymentDate: w.today(),
		},
	}
}

// UpdateDraft applies a partial edit. Switching away from check releases the
// camera and any captured image.
func (w *Workflow) UpdateDraft(ctx context.Context, patch DraftPatch) error {
	w.mu.Lock()
	st, err := w.editable()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	patch.apply(&st.Draft)
	st.Violations = nil
	var rel release
	if st.Draft.Method != MethodCheck {
		rel = w.dropImage(&st, true)
	}
	w.state = st
	w.mu.Unlock()
	w.free(ctx, rel)
	return nil
}

// ApplySuggestion sets the amount to one of the derived suggestions.
func (w *Workflow) ApplySuggestion(label string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, err := w.editable()
	if err != nil {
		return err
	}
	for _, s := range st.Suggestions() {
		if s.Label == label {
			st.Draft.Amount = s.Amount.StringFixed(2)
			st.Violations = nil
			w.state = st
			return nil
		}
	}
	return ErrUnknownSuggestion
}

// Validate runs the draft rules without submitting and records the result.
func (w *Workflow) Validate() ([]Violation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, err := w.entering()
	if err != nil {
		return nil, err
	}
	_, violations := ValidateDraft(st.Draft, st.Invoice, w.today())
	st.Violations = violations
	w.state = st
	return violations, nil
}

// Submit validates the draft and records the payment. Validation failures return
// *ValidationError; backend failures leave the draft intact for a retry.
func (w *Workflow) Submit(ctx context.Context) error {
	w.mu.Lock()
	st, err := w.editable()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	amount, violations := ValidateDraft(st.Draft, st.Invoice, w.today())
	if len(violations) > 0 {
		st.Violations = violations
		st.SubmitError = nil
		w.state = st
		w.mu.Unlock()
		w.opts.Metrics.submission("validation")
		return &ValidationError{Violations: violations}
	}
	st.Violations = nil
	st.SubmitError = nil
	st.Submitting = true
	w.state = st
	submitted := st.Draft
	invoice := st.Invoice
	req := newRequest(invoice, submitted, amount)
	w.mu.Unlock()

	res, submitErr := w.deps.Payments.SubmitPayment(ctx, req)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.opts.Logger.Info("submit result ignored after close", slog.Bool("ok", submitErr == nil))
		return ErrClosed
	}
	st, ok := w.state.(EnteringPayment)
	if !ok {
		w.mu.Unlock()
		return ErrInvalidTransition
	}
	st.Submitting = false
	if submitErr != nil {
		var conflict *SubmissionConflict
		if errors.As(submitErr, &conflict) {
			w.opts.Metrics.submission("conflict")
		} else {
			submitErr = asNetworkError(OpSubmit, submitErr)
			w.opts.Metrics.submission("network")
		}
		w.opts.Logger.Warn("submit payment", slog.String("invoice_id", invoice.ID), slog.Any("error", submitErr))
		st.SubmitError = submitErr
		w.state = st
		w.mu.Unlock()
		return submitErr
	}

	w.opts.Metrics.submission("success")
	message := res.Message
	if message == "" {
		message = defaultSuccessText
	}
	rel := w.dropImage(&st, true)
	w.confirmSeq++
	seq := w.confirmSeq
	conf := Confirmed{invoice: invoice, payment: submitted, amount: amount, paymentID: res.PaymentID, message: message}
	w.state = conf
	w.pending = &pendingSuccess{message: message, receipt: w.receipt(conf)}
	if d := w.opts.AutoCloseAfter; d > 0 {
		w.autoClose = w.opts.AfterFunc(d, func() { w.autoCloseFired(seq) })
	}
	w.mu.Unlock()

	w.opts.Logger.Info("payment recorded",
		slog.String("invoice_id", invoice.ID),
		slog.String("payment_id", res.PaymentID),
		slog.String("amount", amount.StringFixed(2)))
	w.free(ctx, rel)
	return nil
}

func (w *Workflow) receipt(c Confirmed) Receipt {
	summary := c.Summary()
	return Receipt{
		ID:              uuid.NewString(),
		WorkflowID:      w.opts.ID,
		CollectorID:     w.opts.CollectorID,
		PaymentID:       c.paymentID,
		InvoiceID:       c.invoice.ID,
		InvoiceNumber:   c.invoice.Number,
		DistributorName: c.invoice.DistributorName,
		Amount:          summary.Amount,
		Method:          c.payment.Method,
		PaymentDate:     c.payment.PaymentDate,
		Remaining:       summary.Remaining,
		Status:          summary.Status,
		CheckImageURL:   c.payment.CheckImageURL,
		ConfirmedAt:     w.opts.Now(),
	}
}

// RecordAnother leaves the confirmation and starts over with a fresh invoice list.
func (w *Workflow) RecordAnother(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if _, ok := w.state.(Confirmed); !ok {
		w.mu.Unlock()
		return ErrInvalidTransition
	}
	w.touch()
	pending := w.takePending()
	w.state = SelectingInvoice{}
	w.mu.Unlock()

	w.notifySuccess(pending)
	return w.Reload(ctx)
}

// Close tears the workflow down from any step. It releases the camera and image
// preview, delivers a pending success notification and then calls OnClose.
// Closing twice is a no-op.
func (w *Workflow) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	rel, pending := w.closeLocked()
	w.mu.Unlock()

	w.finishClose(ctx, rel, pending)
	return nil
}

// autoCloseFired closes the workflow if it still shows confirmation seq. The
// check and the teardown happen under one hold of mu.
func (w *Workflow) autoCloseFired(seq uint64) {
	w.mu.Lock()
	if w.closed || seq != w.confirmSeq || w.pending == nil {
		w.mu.Unlock()
		return
	}
	rel, pending := w.closeLocked()
	w.mu.Unlock()

	w.opts.Logger.Debug("auto closed confirmed workflow")
	w.finishClose(context.Background(), rel, pending)
}

// closeLocked marks the workflow closed; callers hold mu and must pass the
// result to finishClose once it is released.
func (w *Workflow) closeLocked() (release, *pendingSuccess) {
	rel := w.shutdown()
	return rel, w.takePending()
}

func (w *Workflow) finishClose(ctx context.Context, rel release, pending *pendingSuccess) {
	w.free(ctx, rel)
	w.notifySuccess(pending)
	if w.opts.Hooks.OnClose != nil {
		w.opts.Hooks.OnClose()
	}
}

// shutdown marks the workflow closed; callers hold mu.
func (w *Workflow) shutdown() release {
	w.closed = true
	var rel release
	if st, ok := w.state.(EnteringPayment); ok {
		rel = w.dropImage(&st, true)
		st.Submitting = false
		w.state = st
	}
	return rel
}

func (w *Workflow) takePending() *pendingSuccess {
	if w.autoClose != nil {
		w.autoClose.Stop()
		w.autoClose = nil
	}
	p := w.pending
	w.pending = nil
	return p
}

func (w *Workflow) notifySuccess(p *pendingSuccess) {
	if p == nil || w.opts.Hooks.OnSuccess == nil {
		return
	}
	w.opts.Hooks.OnSuccess(p.message, p.receipt)
}

func (w *Workflow) selecting() (SelectingInvoice, error) {
	if w.closed {
		return SelectingInvoice{}, ErrClosed
	}
	st, ok := w.state.(SelectingInvoice)
	if !ok {
		return SelectingInvoice{}, ErrInvalidTransition
	}
	w.touch()
	return st, nil
}

func (w *Workflow) entering() (EnteringPayment, error) {
	if w.closed {
		return EnteringPayment{}, ErrClosed
	}
	st, ok := w.state.(EnteringPayment)
	if !ok {
		return EnteringPayment{}, ErrInvalidTransition
	}
	w.touch()
	return st, nil
}

// editable is entering() for operations that mutate the draft.
func (w *Workflow) editable() (EnteringPayment, error) {
	st, err := w.entering()
	if err != nil {
		return st, err
	}
	if st.Submitting {
		return st, ErrBusy
	}
	return st, nil
}

func (w *Workflow) touch() {
	w.lastActive = w.opts.Now()
}

func (w *Workflow) today() time.Time {
	return dayOf(w.opts.Now().In(w.opts.Location))
}

// free releases device and preview resources outside the lock. Failures are
// logged only; they never block the workflow.
func (w *Workflow) free(ctx context.Context, rel release) {
	ctx = context.WithoutCancel(ctx)
	if rel.cameraHandle != "" && w.deps.Camera != nil {
		if err := w.deps.Camera.Close(ctx, rel.cameraHandle); err != nil {
			w.opts.Logger.Warn("close camera", slog.Any("error", err))
		}
	}
	if rel.previewURL != "" && w.deps.Previews != nil {
		if err := w.deps.Previews.Revoke(ctx, rel.previewURL); err != nil {
			w.opts.Logger.Warn("revoke preview", slog.Any("error", err))
		}
	}
}

func asNetworkError(op string, err error) error {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return err
	}
	var conflict *SubmissionConflict
	if errors.As(err, &conflict) {
		return err
	}
	return &NetworkError{Op: op, Err: err}
}
