package collection

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleInvoices() []Invoice {
	return []Invoice{
		{ID: "inv-1", Number: "INV-001", DistributorName: "Acme Traders", BalanceAmount: dec("1000.00"), DueDate: day(2026, 11, 1)},
		{ID: "inv-2", Number: "INV-002", DistributorName: "Blue Mart", BalanceAmount: dec("250.50"), DueDate: day(2026, 9, 1), DaysOverdue: 44},
		{ID: "inv-3", Number: "INV-003", DistributorName: "Corner Shop", BalanceAmount: dec("75"), DueDate: day(2026, 10, 20)},
		{ID: "inv-4", Number: "INV-004", DistributorName: "Delta Foods", BalanceAmount: decimal.Zero, DueDate: day(2026, 10, 1)},
		{ID: "inv-5", Number: "INV-005", DistributorName: "Acme Wholesale", BalanceAmount: dec("500"), DueDate: day(2026, 10, 5), DaysOverdue: 10},
	}
}

type fakeInvoices struct {
	mu       sync.Mutex
	invoices []Invoice
	err      error
	calls    int
}

func (f *fakeInvoices) ListPending(ctx context.Context, distributorID string, limit int) ([]Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]Invoice(nil), f.invoices...), nil
}

func (f *fakeInvoices) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeInvoices) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePayments struct {
	mu       sync.Mutex
	requests []PaymentRequest
	result   SubmitResult
	err      error

	entered chan struct{}
	block   chan struct{}
}

func (f *fakePayments) SubmitPayment(ctx context.Context, req PaymentRequest) (SubmitResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	res, err := f.result, f.err
	entered, block := f.entered, f.block
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return res, err
}

func (f *fakePayments) last(t *testing.T) PaymentRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func (f *fakePayments) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeCamera struct {
	mu         sync.Mutex
	openErr    error
	captureErr error
	frame      []byte
	next       int
	open       map[string]bool
	closed     []string
}

func newFakeCamera() *fakeCamera {
	return &fakeCamera{frame: []byte("check-front"), open: map[string]bool{}}
}

func (c *fakeCamera) Open(ctx context.Context, facing string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return "", c.openErr
	}
	c.next++
	h := fmt.Sprintf("cam-%d", c.next)
	c.open[h] = true
	return h, nil
}

func (c *fakeCamera) Capture(ctx context.Context, handle string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.captureErr != nil {
		return nil, c.captureErr
	}
	if !c.open[handle] {
		return nil, fmt.Errorf("camera %s not open", handle)
	}
	return append([]byte(nil), c.frame...), nil
}

func (c *fakeCamera) Close(ctx context.Context, handle string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.open, handle)
	c.closed = append(c.closed, handle)
	return nil
}

func (c *fakeCamera) openCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.open)
}

type fakeUploader struct {
	mu       sync.Mutex
	url      string
	err      error
	calls    int
	finished int
	block    chan struct{}
}

func (u *fakeUploader) UploadCheckImage(ctx context.Context, blob []byte, paymentID string, progress func(int)) (string, error) {
	u.mu.Lock()
	u.calls++
	url, err, block := u.url, u.err, u.block
	u.mu.Unlock()
	if progress != nil {
		progress(30)
		progress(10)
		progress(60)
	}
	if block != nil {
		<-block
	}
	u.mu.Lock()
	u.finished++
	u.mu.Unlock()
	return url, err
}

func (u *fakeUploader) finishedCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.finished
}

type fakePreviews struct {
	mu      sync.Mutex
	next    int
	live    map[string][]byte
	revoked []string
}

func newFakePreviews() *fakePreviews {
	return &fakePreviews{live: map[string][]byte{}}
}

func (p *fakePreviews) Put(ctx context.Context, blob []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	url := fmt.Sprintf("/previews/p-%d", p.next)
	p.live[url] = blob
	return url, nil
}

func (p *fakePreviews) Revoke(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, url)
	p.revoked = append(p.revoked, url)
	return nil
}

func (p *fakePreviews) liveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) timer(t *testing.T) *fakeTimer {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.timers, 1)
	return c.timers[0]
}

type harness struct {
	invoices *fakeInvoices
	payments *fakePayments
	camera   *fakeCamera
	uploader *fakeUploader
	previews *fakePreviews
	clock    *fakeClock

	mu        sync.Mutex
	successes []string
	closes    int
}

func newHarness() *harness {
	return &harness{
		invoices: &fakeInvoices{invoices: sampleInvoices()},
		payments: &fakePayments{result: SubmitResult{PaymentID: "pay-1", Message: "Payment recorded"}},
		camera:   newFakeCamera(),
		uploader: &fakeUploader{url: "https://cdn.example.com/checks/1.jpg"},
		previews: newFakePreviews(),
		clock:    &fakeClock{now: testNow},
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Invoices: h.invoices,
		Payments: h.payments,
		Camera:   h.camera,
		Uploader: h.uploader,
		Previews: h.previews,
	}
}

func (h *harness) workflow(opts ...func(*Options)) *Workflow {
	o := Options{
		CollectorID:    "user-1",
		DistributorID:  "dist-1",
		AutoCloseAfter: 2 * time.Second,
		Now:            h.clock.Now,
		AfterFunc:      h.clock.AfterFunc,
		Hooks: Hooks{
			OnSuccess: func(message string, receipt Receipt) {
				h.mu.Lock()
				h.successes = append(h.successes, message)
				h.mu.Unlock()
			},
			OnClose: func() {
				h.mu.Lock()
				h.closes++
				h.mu.Unlock()
			},
		},
	}
	for _, fn := range opts {
		fn(&o)
	}
	return New(h.deps(), o)
}

func (h *harness) notified() (successes int, closes int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.successes), h.closes
}

func preselect(inv Invoice) func(*Options) {
	return func(o *Options) { o.Preselected = &inv }
}

func autoUpload(o *Options) { o.AutoUpload = true }

func entering(t *testing.T, w *Workflow) EnteringPayment {
	t.Helper()
	st, ok := w.State().(EnteringPayment)
	require.True(t, ok, "expected EnteringPayment, got %T", w.State())
	return st
}

func ptr[T any](v T) *T { return &v }
