package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.TransactionsTotal.WithLabelValues("purchase").Inc()
	m.TransactionsTotal.WithLabelValues("bill_debit").Add(2)
	m.InsufficientCreditsTotal.Inc()

	if got := testutil.ToFloat64(m.TransactionsTotal.WithLabelValues("purchase")); got != 1 {
		t.Errorf("Expected 1 purchase transaction, got %f", got)
	}
	if got := testutil.ToFloat64(m.TransactionsTotal.WithLabelValues("bill_debit")); got != 2 {
		t.Errorf("Expected 2 bill_debit transactions, got %f", got)
	}
	if got := testutil.ToFloat64(m.InsufficientCreditsTotal); got != 1 {
		t.Errorf("Expected 1 insufficient credit rejection, got %f", got)
	}
}

func TestMetrics_DuplicateRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)

	defer func() {
		if recover() == nil {
			t.Error("Expected panic on duplicate registration")
		}
	}()
	NewMetrics(registry)
}

func TestInstrumentHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := m.InstrumentHandler("/api/v1/bills", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/bills", nil))

	if rec.Code != http.StatusCreated {
		t.Errorf("Expected 201, got %d", rec.Code)
	}

	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/bills", "201"))
	if got != 1 {
		t.Errorf("Expected 1 instrumented request, got %f", got)
	}
}
