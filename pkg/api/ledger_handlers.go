package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/messmate/messmate/pkg/httputil"
	"github.com/messmate/messmate/pkg/ledger"
)

// LedgerHandlers exposes credit balances and transaction history.
type LedgerHandlers struct {
	ledger ledger.Service
}

// NewLedgerHandlers creates a new LedgerHandlers.
func NewLedgerHandlers(ledgerSvc ledger.Service) *LedgerHandlers {
	return &LedgerHandlers{ledger: ledgerSvc}
}

// RegisterRoutes registers ledger routes.
func (h *LedgerHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/messes/{id}/balance", h.GetBalance).Methods("GET")
	router.HandleFunc("/api/v1/messes/{id}/account", h.GetAccount).Methods("GET")
	router.HandleFunc("/api/v1/messes/{id}/transactions", h.ListTransactions).Methods("GET")
	router.HandleFunc("/api/v1/messes/{id}/balance/verify", h.VerifyBalance).Methods("GET")
}

// GetBalance handles GET /api/v1/messes/{id}/balance
func (h *LedgerHandlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	messID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	balance, err := h.ledger.Balance(r.Context(), messID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"mess_id": messID,
		"balance": balance,
	})
}

// GetAccount handles GET /api/v1/messes/{id}/account
func (h *LedgerHandlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	messID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	account, err := h.ledger.Account(r.Context(), messID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, account)
}

// ListTransactions handles GET /api/v1/messes/{id}/transactions with
// optional reason, before_id, and limit query parameters.
func (h *LedgerHandlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	messID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	filter := ledger.HistoryFilter{
		Reason: ledger.Reason(r.URL.Query().Get("reason")),
		Limit:  httputil.ParseQueryInt(r, "limit", 50),
	}
	if before := r.URL.Query().Get("before_id"); before != "" {
		beforeID, err := strconv.ParseInt(before, 10, 64)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid before_id")
			return
		}
		filter.BeforeID = beforeID
	}
	if filter.Reason != "" && !filter.Reason.Valid() {
		httputil.WriteBadRequest(w, "invalid reason filter")
		return
	}

	transactions, err := h.ledger.History(r.Context(), messID, filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"mess_id":      messID,
		"transactions": transactions,
	})
}

// VerifyBalance handles GET /api/v1/messes/{id}/balance/verify
func (h *LedgerHandlers) VerifyBalance(w http.ResponseWriter, r *http.Request) {
	messID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	check, err := h.ledger.VerifyBalance(r.Context(), messID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, check)
}
