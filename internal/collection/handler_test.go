package collection

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/collect/internal/shared"
)

type recordingRelay struct {
	mu       sync.Mutex
	frames   map[string][]byte
	failures map[string]string
}

func (r *recordingRelay) PushFrame(handle string, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames[handle] = frame
	return nil
}

func (r *recordingRelay) Fail(handle, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[handle] = reason
	return nil
}

type stubReceipts struct {
	collector string
	limit     int
	receipts  []Receipt
}

func (s *stubReceipts) ListRecent(ctx context.Context, collectorID string, limit int) ([]Receipt, error) {
	s.collector, s.limit = collectorID, limit
	return s.receipts, nil
}

type apiFixture struct {
	h        *harness
	manager  *Manager
	relay    *recordingRelay
	receipts *stubReceipts
	router   http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	h := newHarness()
	money, err := NewFormatter(language.English, "USD")
	require.NoError(t, err)

	f := &apiFixture{
		h:        h,
		manager:  newTestManager(h, nil, nil),
		relay:    &recordingRelay{frames: map[string][]byte{}, failures: map[string]string{}},
		receipts: &stubReceipts{},
	}
	handler := NewHandler(nil, f.manager, f.relay, f.receipts, money, nil, 1024)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if uid := req.Header.Get("X-Test-User"); uid != "" {
				p := &shared.Principal{UserID: uid, Role: shared.RoleSales, DistributorID: "dist-1"}
				req = req.WithContext(shared.ContextWithPrincipal(req.Context(), p))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/collections", handler.MountRoutes)
	f.router = r
	return f
}

func (f *apiFixture) do(t *testing.T, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeView(t *testing.T, rr *httptest.ResponseRecorder) workflowView {
	t.Helper()
	var v workflowView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (f *apiFixture) startPreselected(t *testing.T) string {
	t.Helper()
	rr := f.do(t, "alice", http.MethodPost, "/collections", map[string]any{
		"preselected_invoice": map[string]any{
			"invoice_id":       "inv-1",
			"invoice_number":   "INV-001",
			"distributor_name": "Acme Traders",
			"balance_amount":   1000,
			"due_date":         "2026-11-01",
		},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	v := decodeView(t, rr)
	require.Equal(t, StepEnteringPayment, v.Step)
	return v.ID
}

func TestAPIRequiresPrincipal(t *testing.T) {
	f := newAPIFixture(t)
	rr := f.do(t, "", http.MethodPost, "/collections", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAPIStartListsSortedInvoices(t *testing.T) {
	f := newAPIFixture(t)
	rr := f.do(t, "alice", http.MethodPost, "/collections", nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	v := decodeView(t, rr)
	require.Equal(t, StepSelectingInvoice, v.Step)
	require.NotNil(t, v.Selecting)
	require.Len(t, v.Selecting.Invoices, 4)
	first := v.Selecting.Invoices[0]
	assert.Equal(t, "inv-2", first.ID)
	assert.Equal(t, "250.50", first.BalanceAmount)
	assert.True(t, first.Overdue)
	assert.Equal(t, "2026-09-01", first.DueDate)

	rr = f.do(t, "alice", http.MethodPost, "/collections/"+v.ID+"/search", map[string]string{"query": "corner"})
	require.Equal(t, http.StatusOK, rr.Code)
	v = decodeView(t, rr)
	require.Len(t, v.Selecting.Invoices, 1)
	assert.Equal(t, 4, v.Selecting.Total)
}

func TestAPIWorkflowIsPrivateToItsCollector(t *testing.T) {
	f := newAPIFixture(t)
	id := f.startPreselected(t)

	rr := f.do(t, "bob", http.MethodGet, "/collections/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAPISubmitConfirmsPartialPayment(t *testing.T) {
	f := newAPIFixture(t)
	id := f.startPreselected(t)

	rr := f.do(t, "alice", http.MethodPatch, "/collections/"+id+"/draft", map[string]any{"amount": "400"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	v := decodeView(t, rr)
	assert.Equal(t, "400", v.Entering.Draft.Amount)
	require.Len(t, v.Entering.Suggestions, 3)
	assert.Equal(t, "500.00", v.Entering.Suggestions[1].Amount)

	rr = f.do(t, "alice", http.MethodPost, "/collections/"+id+"/submit", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	v = decodeView(t, rr)
	require.Equal(t, StepConfirmed, v.Step)
	assert.Equal(t, "600.00", v.Confirmed.Remaining)
	assert.Equal(t, string(StatusPartial), v.Confirmed.Status)
	assert.Contains(t, v.Confirmed.AmountDisplay, "400.00")
	assert.Equal(t, "Payment recorded", v.Confirmed.Message)
}

func TestAPIValidationFailureListsViolations(t *testing.T) {
	f := newAPIFixture(t)
	id := f.startPreselected(t)

	rr := f.do(t, "alice", http.MethodPatch, "/collections/"+id+"/draft", map[string]any{
		"amount":         "0",
		"payment_method": "bank_transfer",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, "alice", http.MethodPost, "/collections/"+id+"/submit", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var body struct {
		Violations []Violation `json:"violations"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.ElementsMatch(t, []string{"amount", "bank_reference"}, fields(body.Violations))
}

func TestAPIRejectsMalformedDate(t *testing.T) {
	f := newAPIFixture(t)
	id := f.startPreselected(t)

	rr := f.do(t, "alice", http.MethodPatch, "/collections/"+id+"/draft", map[string]any{"payment_date": "15/10/2026"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestAPISubmitConflictReturnsServerMessage(t *testing.T) {
	f := newAPIFixture(t)
	f.h.payments.err = &SubmissionConflict{Message: "Invoice already settled"}
	id := f.startPreselected(t)

	rr := f.do(t, "alice", http.MethodPost, "/collections/"+id+"/submit", nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "Invoice already settled")

	rr = f.do(t, "alice", http.MethodGet, "/collections/"+id, nil)
	v := decodeView(t, rr)
	assert.Equal(t, "Invoice already settled", v.Entering.SubmitError)
	assert.Equal(t, "1000.00", v.Entering.Draft.Amount)
}

func TestAPICameraFramesAndFailures(t *testing.T) {
	f := newAPIFixture(t)
	id := f.startPreselected(t)
	base := "/collections/" + id

	rr := f.do(t, "alice", http.MethodPost, base+"/camera/frame", []byte("jpeg"))
	assert.Equal(t, http.StatusConflict, rr.Code, "no camera open")

	rr = f.do(t, "alice", http.MethodPost, base+"/camera", nil)
	assert.Equal(t, http.StatusConflict, rr.Code, "camera only for checks")

	rr = f.do(t, "alice", http.MethodPatch, base+"/draft", map[string]any{"payment_method": "check", "check_number": "77"})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = f.do(t, "alice", http.MethodPost, base+"/camera", map[string]string{"facing": "environment"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, decodeView(t, rr).Entering.Camera.Open)

	rr = f.do(t, "alice", http.MethodPost, base+"/camera/frame", []byte("jpeg"))
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, []byte("jpeg"), f.relay.frames["cam-1"])

	rr = f.do(t, "alice", http.MethodPost, base+"/camera/frame", bytes.Repeat([]byte("x"), 2048))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	rr = f.do(t, "alice", http.MethodPost, base+"/camera/error", map[string]string{"reason": "NotAllowedError"})
	require.Equal(t, http.StatusOK, rr.Code)
	v := decodeView(t, rr)
	assert.False(t, v.Entering.Camera.Open)
	assert.NotEmpty(t, v.Entering.Camera.Error)
	assert.Equal(t, "NotAllowedError", f.relay.failures["cam-1"])

	rr = f.do(t, "alice", http.MethodPatch, base+"/draft", map[string]any{"payment_method": "cash"})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = f.do(t, "alice", http.MethodPost, base+"/submit", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAPIDeviceErrorMapsToFailedDependency(t *testing.T) {
	f := newAPIFixture(t)
	f.h.camera.openErr = stringError("permission denied")
	id := f.startPreselected(t)
	base := "/collections/" + id

	f.do(t, "alice", http.MethodPatch, base+"/draft", map[string]any{"payment_method": "check"})
	rr := f.do(t, "alice", http.MethodPost, base+"/camera", nil)
	assert.Equal(t, http.StatusFailedDependency, rr.Code)
}

func TestAPICloseRemovesWorkflow(t *testing.T) {
	f := newAPIFixture(t)
	id := f.startPreselected(t)

	rr := f.do(t, "alice", http.MethodPost, "/collections/"+id+"/close", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = f.do(t, "alice", http.MethodGet, "/collections/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAPIListReceipts(t *testing.T) {
	f := newAPIFixture(t)
	f.receipts.receipts = []Receipt{{
		ID:          "r-1",
		InvoiceID:   "inv-1",
		Amount:      dec("400"),
		Remaining:   dec("600"),
		Method:      MethodCash,
		Status:      StatusPartial,
		PaymentDate: day(2026, 10, 15),
		ConfirmedAt: testNow,
	}}

	rr := f.do(t, "alice", http.MethodGet, "/collections/receipts?limit=500", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "alice", f.receipts.collector)
	assert.Equal(t, maxReceiptLimit, f.receipts.limit)
	assert.True(t, strings.Contains(rr.Body.String(), `"remaining_balance":"600.00"`), rr.Body.String())

	rr = f.do(t, "alice", http.MethodGet, "/collections/receipts?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

type stringError string

func (e stringError) Error() string { return string(e) }
