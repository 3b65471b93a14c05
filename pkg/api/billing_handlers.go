package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/messmate/messmate/pkg/audit"
	"github.com/messmate/messmate/pkg/billing"
	"github.com/messmate/messmate/pkg/httputil"
)

// BillingHandlers exposes bill generation, debit retry, waiver, and the
// auto-renewal toggle.
type BillingHandlers struct {
	billing billing.Service
	auditor audit.Logger
}

// NewBillingHandlers creates a new BillingHandlers.
func NewBillingHandlers(billingSvc billing.Service, auditor audit.Logger) *BillingHandlers {
	return &BillingHandlers{billing: billingSvc, auditor: auditor}
}

// RegisterRoutes registers billing routes.
func (h *BillingHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/messes/{id}/bills/preview", h.Preview).Methods("POST")
	router.HandleFunc("/api/v1/messes/{id}/bills", h.Generate).Methods("POST")
	router.HandleFunc("/api/v1/messes/{id}/bills", h.History).Methods("GET")
	router.HandleFunc("/api/v1/messes/{id}/auto-renewal", h.SetAutoRenewal).Methods("PUT")
	router.HandleFunc("/api/v1/bills/{id}", h.GetBill).Methods("GET")
	router.HandleFunc("/api/v1/bills/{id}/retry", h.RetryDebit).Methods("POST")
	router.HandleFunc("/api/v1/bills/{id}/waive", h.Waive).Methods("POST")
}

type cycleWindowRequest struct {
	CycleStart time.Time `json:"cycle_start"`
	CycleEnd   time.Time `json:"cycle_end"`
}

// Preview handles POST /api/v1/messes/{id}/bills/preview
func (h *BillingHandlers) Preview(w http.ResponseWriter, r *http.Request) {
	messID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req cycleWindowRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	preview, err := h.billing.Preview(r.Context(), messID, billing.CycleWindow{
		Start: req.CycleStart,
		End:   req.CycleEnd,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, preview)
}

// Generate handles POST /api/v1/messes/{id}/bills. Generating an already
// billed cycle returns the stored bill with 200 rather than 201.
func (h *BillingHandlers) Generate(w http.ResponseWriter, r *http.Request) {
	messID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req cycleWindowRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	bill, err := h.billing.Generate(r.Context(), messID, billing.CycleWindow{
		Start: req.CycleStart,
		End:   req.CycleEnd,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if bill.Existing {
		httputil.WriteSuccess(w, bill)
		return
	}
	httputil.WriteCreated(w, bill)
}

// History handles GET /api/v1/messes/{id}/bills
func (h *BillingHandlers) History(w http.ResponseWriter, r *http.Request) {
	messID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	limit := httputil.ParseQueryInt(r, "limit", 24)
	bills, err := h.billing.History(r.Context(), messID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"mess_id": messID,
		"bills":   bills,
	})
}

// SetAutoRenewal handles PUT /api/v1/messes/{id}/auto-renewal
func (h *BillingHandlers) SetAutoRenewal(w http.ResponseWriter, r *http.Request) {
	messID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.billing.SetAutoRenewal(r.Context(), messID, req.Enabled); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"mess_id":      messID,
		"auto_renewal": req.Enabled,
	})
}

// GetBill handles GET /api/v1/bills/{id}
func (h *BillingHandlers) GetBill(w http.ResponseWriter, r *http.Request) {
	billID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	bill, err := h.billing.GetBill(r.Context(), billID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, bill)
}

// RetryDebit handles POST /api/v1/bills/{id}/retry
func (h *BillingHandlers) RetryDebit(w http.ResponseWriter, r *http.Request) {
	billID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	bill, err := h.billing.RetryDebit(r.Context(), billID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, bill)
}

// Waive handles POST /api/v1/bills/{id}/waive
func (h *BillingHandlers) Waive(w http.ResponseWriter, r *http.Request) {
	billID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Reason == "" {
		httputil.WriteBadRequest(w, "reason is required")
		return
	}

	bill, err := h.billing.Waive(r.Context(), billID, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.auditor.Record(r.Context(), audit.Event{
		Type:       audit.EventTypeBillWaived,
		MessID:     &bill.MessID,
		Actor:      actorFrom(r),
		ResourceID: strconv.FormatInt(billID, 10),
		Status:     audit.EventStatusSuccess,
		Message:    req.Reason,
	})
	httputil.WriteSuccess(w, bill)
}
