package httputil

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messmate/messmate/pkg/observability"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	err := WriteJSON(rec, http.StatusOK, map[string]int64{"balance": 1500})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"balance":1500}`, rec.Body.String())
}

func TestWriteErrorMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorMessage(rec, http.StatusConflict, "trial already used")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"trial already used"}`, rec.Body.String())
}

func TestParseJSON(t *testing.T) {
	body := strings.NewReader(`{"plan_id": 3}`)
	r := httptest.NewRequest(http.MethodPost, "/orders", body)

	var req struct {
		PlanID int64 `json:"plan_id"`
	}
	require.NoError(t, ParseJSON(r, &req))
	assert.Equal(t, int64(3), req.PlanID)
}

func TestParseJSON_Invalid(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader("{not json"))

	var req map[string]interface{}
	err := ParseJSON(r, &req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestParsePathInt64(t *testing.T) {
	var got int64
	var gotErr error
	router := mux.NewRouter()
	router.HandleFunc("/messes/{id}", func(w http.ResponseWriter, r *http.Request) {
		got, gotErr = ParsePathInt64(r, "id")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messes/42", nil))
	require.NoError(t, gotErr)
	assert.Equal(t, int64(42), got)

	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messes/abc", nil))
	assert.Error(t, gotErr)
}

func TestParseQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/bills?limit=10", nil)
	assert.Equal(t, 10, ParseQueryInt(r, "limit", 24))
	assert.Equal(t, 24, ParseQueryInt(r, "missing", 24))

	r = httptest.NewRequest(http.MethodGet, "/bills?limit=abc", nil)
	assert.Equal(t, 24, ParseQueryInt(r, "limit", 24))
}

func TestLoggingMiddleware_RequestID(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	var seen string
	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = observability.GetRequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestLoggingMiddleware_PropagatesHeader(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "req-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	assert.Equal(t, "req-abc", rec.Header().Get("X-Request-ID"))
}

func TestRecoveryMiddleware(t *testing.T) {
	var logBuf bytes.Buffer
	logger := observability.NewLogger(observability.ErrorLevel, &logBuf)
	handler := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, logBuf.String(), "boom")
}
