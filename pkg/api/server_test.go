package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messmate/messmate/pkg/billing"
	"github.com/messmate/messmate/pkg/ledger"
	"github.com/messmate/messmate/pkg/messes"
	"github.com/messmate/messmate/pkg/middleware"
	"github.com/messmate/messmate/pkg/observability"
	"github.com/messmate/messmate/pkg/payments"
	"github.com/messmate/messmate/pkg/trial"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func TestServer_BalanceRoute(t *testing.T) {
	fl := &fakeLedger{balance: 420}
	srv := NewServer(Options{Logger: testLogger()}, NewLedgerHandlers(fl))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/messes/7/balance", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(420), body["balance"])
	assert.Equal(t, float64(7), body["mess_id"])
}

func TestServer_BalanceNotFound(t *testing.T) {
	fl := &fakeLedger{balanceErr: fmt.Errorf("%w: mess 7", ledger.ErrAccountNotFound)}
	srv := NewServer(Options{Logger: testLogger()}, NewLedgerHandlers(fl))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/messes/7/balance", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_InvalidMessID(t *testing.T) {
	srv := NewServer(Options{Logger: testLogger()}, NewLedgerHandlers(&fakeLedger{}))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/messes/abc/balance", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_TransactionsRejectsBadReason(t *testing.T) {
	srv := NewServer(Options{Logger: testLogger()}, NewLedgerHandlers(&fakeLedger{}))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/v1/messes/7/transactions?reason=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_WebhookStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"signature mismatch", payments.ErrSignatureMismatch, http.StatusUnauthorized},
		{"expired order", payments.ErrOrderExpired, http.StatusGone},
		{"closed order", payments.ErrOrderClosed, http.StatusConflict},
		{"unknown order", payments.ErrOrderNotFound, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fp := &fakePayments{err: tc.err}
			srv := NewServer(Options{Logger: testLogger()},
				NewPaymentHandlers(fp, &fakeCatalog{}))

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, webhookPath, jsonBody(t, payments.WebhookEvent{
				OrderID:      "order-1",
				GatewayTxnID: "T1",
				Status:       "success",
				Signature:    "sig",
			}))
			srv.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestServer_WebhookSuccess(t *testing.T) {
	fp := &fakePayments{verification: &payments.Verification{
		ID: 5, OrderID: "order-1", GatewayTxnID: "T1", Status: payments.VerificationVerified,
	}}
	srv := NewServer(Options{Logger: testLogger()}, NewPaymentHandlers(fp, &fakeCatalog{}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, webhookPath, jsonBody(t, payments.WebhookEvent{
		OrderID:      "order-1",
		GatewayTxnID: "T1",
		Status:       "success",
		Signature:    "sig",
	}))
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var v payments.Verification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, payments.VerificationVerified, v.Status)
}

func TestServer_WebhookMissingFields(t *testing.T) {
	srv := NewServer(Options{Logger: testLogger()},
		NewPaymentHandlers(&fakePayments{}, &fakeCatalog{}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, webhookPath, jsonBody(t, map[string]string{
		"status": "success",
	}))
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_WebhookRateLimited(t *testing.T) {
	fp := &fakePayments{verification: &payments.Verification{Status: payments.VerificationVerified}}
	limiter := middleware.NewRateLimitMiddleware(&middleware.RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
	})
	srv := NewServer(Options{Logger: testLogger(), WebhookLimiter: limiter},
		NewPaymentHandlers(fp, &fakeCatalog{}),
		NewLedgerHandlers(&fakeLedger{}))

	body := payments.WebhookEvent{OrderID: "o", GatewayTxnID: "t", Status: "success", Signature: "s"}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, webhookPath, jsonBody(t, body)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, webhookPath, jsonBody(t, body)))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Other routes bypass the webhook limiter.
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/messes/1/balance", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_WebhookRateLimitedDistributed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	fp := &fakePayments{verification: &payments.Verification{Status: payments.VerificationVerified}}
	limiter := middleware.NewDistributedRateLimitMiddleware(client, &middleware.RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
	}, "webhook")
	srv := NewServer(Options{Logger: testLogger(), WebhookLimiter: limiter},
		NewPaymentHandlers(fp, &fakeCatalog{}))

	body := payments.WebhookEvent{OrderID: "o", GatewayTxnID: "t", Status: "success", Signature: "s"}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, webhookPath, jsonBody(t, body)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, webhookPath, jsonBody(t, body)))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestServer_TrialConflict(t *testing.T) {
	ft := &fakeTrial{err: fmt.Errorf("%w: mess 3", trial.ErrTrialAlreadyUsed)}
	srv := NewServer(Options{Logger: testLogger()}, NewTrialHandlers(ft))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/messes/3/trial", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_TrialActivate(t *testing.T) {
	now := time.Now()
	ft := &fakeTrial{record: &trial.Record{ID: 1, MessID: 3, Credits: 100, ActivatedAt: now}}
	srv := NewServer(Options{Logger: testLogger()}, NewTrialHandlers(ft))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/messes/3/trial", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestServer_BillGenerateExistingReturns200(t *testing.T) {
	window := billing.CycleWindow{
		Start: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
	}

	fresh := &fakeBilling{bill: &billing.Bill{ID: 1, MessID: 2, Status: billing.BillStatusPending}}
	srv := NewServer(Options{Logger: testLogger()}, NewBillingHandlers(fresh, &fakeAuditor{}))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/messes/2/bills",
		jsonBody(t, map[string]interface{}{"cycle_start": window.Start, "cycle_end": window.End})))
	assert.Equal(t, http.StatusCreated, rec.Code)

	existing := &fakeBilling{bill: &billing.Bill{ID: 1, MessID: 2, Status: billing.BillStatusPending, Existing: true}}
	srv = NewServer(Options{Logger: testLogger()}, NewBillingHandlers(existing, &fakeAuditor{}))
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/messes/2/bills",
		jsonBody(t, map[string]interface{}{"cycle_start": window.Start, "cycle_end": window.End})))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RetryDebitInsufficientCredits(t *testing.T) {
	fb := &fakeBilling{err: fmt.Errorf("debit: %w", ledger.ErrInsufficientCredits)}
	srv := NewServer(Options{Logger: testLogger()}, NewBillingHandlers(fb, &fakeAuditor{}))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/bills/4/retry", nil))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestServer_WaiveRecordsAudit(t *testing.T) {
	fb := &fakeBilling{bill: &billing.Bill{ID: 4, MessID: 2, Status: billing.BillStatusWaived}}
	auditor := &fakeAuditor{}
	srv := NewServer(Options{Logger: testLogger()}, NewBillingHandlers(fb, auditor))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bills/4/waive",
		jsonBody(t, map[string]string{"reason": "goodwill"}))
	req.Header.Set("X-Admin-Actor", "ops@messmate")
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, auditor.events, 1)
	assert.Equal(t, "ops@messmate", auditor.events[0].Actor)
	assert.Equal(t, "goodwill", auditor.events[0].Message)
}

func TestServer_LeaveComputeHonorsRequestStatus(t *testing.T) {
	fm := &fakeMesses{mess: &messes.Mess{ID: 2, MaxLeaveDaysPerCycle: 5}, members: 3}
	srv := NewServer(Options{Logger: testLogger()},
		NewLeaveHandlers(&fakeLeave{}, fm, &fakePricing{cost: 300}))

	body := map[string]interface{}{
		"membership_id": 9,
		"status":        "pending",
		"leave_start":   time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		"leave_end":     time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC),
		"cycle_start":   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		"cycle_end":     time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/api/v1/messes/2/leave-adjustments", jsonBody(t, body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body["status"] = "approved"
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/api/v1/messes/2/leave-adjustments", jsonBody(t, body)))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestServer_CreateMess(t *testing.T) {
	fm := &fakeMesses{mess: &messes.Mess{ID: 1, Name: "Hostel A", Status: messes.MessStatusActive}}
	srv := NewServer(Options{Logger: testLogger()}, NewMessHandlers(fm))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/messes",
		jsonBody(t, messes.CreateMessRequest{Name: "Hostel A"})))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestServer_PanicRecovery(t *testing.T) {
	srv := NewServer(Options{Logger: testLogger()})
	srv.Router().HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
