package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/collect/internal/collection"
	"github.com/odyssey-erp/collect/internal/shared"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", time.Second, time.Second)
}

func withToken(token string) context.Context {
	return shared.ContextWithPrincipal(context.Background(), &shared.Principal{UserID: "u1", Token: token})
}

func TestListPendingDecodesMixedShapes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/invoices/pending", r.URL.Path)
		assert.Equal(t, "dist-9", r.URL.Query().Get("distributor_id"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"data":[
			{"invoice_id":17,"invoice_number":"INV-17","distributor_name":"Acme","balance_amount":"1250.50","due_date":"2026-09-01","days_overdue":44},
			{"invoice_id":"inv-18","invoice_number":"INV-18","distributor_name":"Blue","balance_amount":99.9,"due_date":"2026-11-01T00:00:00Z","days_overdue":0}
		]}`)
	})

	invoices, err := client.ListPending(withToken("tok-1"), "dist-9", 100)
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, "17", invoices[0].ID)
	assert.True(t, invoices[0].BalanceAmount.Equal(decimal.RequireFromString("1250.50")))
	assert.Equal(t, 44, invoices[0].DaysOverdue)
	assert.Equal(t, "inv-18", invoices[1].ID)
	assert.Equal(t, "99.90", invoices[1].BalanceAmount.StringFixed(2))
	assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), invoices[1].DueDate)
}

func TestListPendingFailureIsNetworkError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.ListPending(context.Background(), "", 10)
	var netErr *collection.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, collection.OpListPending, netErr.Op)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Status)
}

func TestSubmitPaymentSendsWirePayload(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/payments", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"success":true,"message":"Payment recorded","data":{"id":501}}`)
	})

	check := "000123"
	res, err := client.SubmitPayment(withToken("tok"), collection.PaymentRequest{
		InvoiceID:   "inv-1",
		Amount:      decimal.RequireFromString("400"),
		Method:      collection.MethodCheck,
		PaymentDate: time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC),
		CheckNumber: &check,
	})
	require.NoError(t, err)
	assert.Equal(t, "501", res.PaymentID)
	assert.Equal(t, "Payment recorded", res.Message)

	assert.Equal(t, "inv-1", got["invoice_id"])
	assert.Equal(t, 400.0, got["amount"])
	assert.Equal(t, "check", got["payment_method"])
	assert.Equal(t, "2026-10-15", got["payment_date"])
	assert.Equal(t, "000123", got["check_number"])
	for _, key := range []string{"bank_reference", "notes", "check_image_url"} {
		v, ok := got[key]
		assert.True(t, ok, key)
		assert.Nil(t, v, key)
	}
}

func TestSubmitPaymentSendsAmountUnchanged(t *testing.T) {
	for _, raw := range []string{"0.01", "0.02", "1000.5", "999.99"} {
		var got map[string]json.RawMessage
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_, _ = io.WriteString(w, `{"success":true,"data":{"id":"p-1"}}`)
		})
		amount := decimal.RequireFromString(raw)
		_, err := client.SubmitPayment(context.Background(), collection.PaymentRequest{InvoiceID: "inv-1", Amount: amount})
		require.NoError(t, err, raw)
		sent, err := decimal.NewFromString(string(got["amount"]))
		require.NoError(t, err, raw)
		assert.True(t, amount.Equal(sent), "amount %s sent as %s", raw, got["amount"])
	}
}

func TestSubmitPaymentRefusesSubCentAmounts(t *testing.T) {
	for _, raw := range []string{"0.004", "0.015"} {
		calls := 0
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls++
		})
		_, err := client.SubmitPayment(context.Background(), collection.PaymentRequest{Amount: decimal.RequireFromString(raw)})
		require.Error(t, err, raw)
		assert.Contains(t, err.Error(), "decimal places")
		assert.Zero(t, calls, raw)
	}
}

func TestSubmitPaymentClassifiesFailures(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		conflict string
	}{
		{name: "client error", status: http.StatusUnprocessableEntity, body: `{"message":"Amount exceeds balance"}`, conflict: "Amount exceeds balance"},
		{name: "unsuccessful", status: http.StatusOK, body: `{"success":false,"message":"Invoice already settled"}`, conflict: "Invoice already settled"},
		{name: "no message", status: http.StatusBadRequest, body: `oops`, conflict: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			_, err := client.SubmitPayment(context.Background(), collection.PaymentRequest{Amount: decimal.NewFromInt(1)})
			var conflict *collection.SubmissionConflict
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, tc.conflict, conflict.Message)
		})
	}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := client.SubmitPayment(context.Background(), collection.PaymentRequest{Amount: decimal.NewFromInt(1)})
	var netErr *collection.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, collection.GenericSubmitFailure, collection.UserMessage(err))
}

func TestUploadCheckImageReportsProgress(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		raw, _ := io.ReadAll(file)
		assert.Equal(t, "check.jpg", header.Filename)
		assert.Len(t, raw, 64<<10)
		assert.Equal(t, "pay-7", r.FormValue("payment_id"))
		_, _ = io.WriteString(w, `{"image_url":"https://cdn.example.com/c.jpg"}`)
	})

	var mu sync.Mutex
	var seen []int
	url, err := client.UploadCheckImage(context.Background(), make([]byte, 64<<10), "pay-7", func(pct int) {
		mu.Lock()
		seen = append(seen, pct)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/c.jpg", url)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, 100, seen[len(seen)-1])
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
}

func TestUploadCheckImageFailureIsNetworkError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})
	_, err := client.UploadCheckImage(context.Background(), []byte("img"), "", nil)
	var netErr *collection.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestResolveIdentity(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/me", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"id":12,"name":"Sam","role":"sales","distributor_id":"d-3"}`)
	})

	p, err := client.ResolveIdentity(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, shared.Principal{UserID: "12", Name: "Sam", Role: "sales", DistributorID: "d-3", Token: "good"}, p)

	_, err = client.ResolveIdentity(context.Background(), "bad")
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestProgressReaderIsMonotonic(t *testing.T) {
	var seen []int
	pr := newProgressReader(nil, 10, func(p int) { seen = append(seen, p) })
	pr.report(40)
	pr.report(20)
	pr.report(40)
	pr.report(100)
	assert.Equal(t, []int{40, 100}, seen)
}
