package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/messmate/messmate/pkg/analytics"
	"github.com/messmate/messmate/pkg/audit"
	"github.com/messmate/messmate/pkg/catalog"
	"github.com/messmate/messmate/pkg/httputil"
	"github.com/messmate/messmate/pkg/ledger"
	"github.com/messmate/messmate/pkg/pricing"
)

// AdminHandlers exposes the operator surface: slab and plan management,
// manual credit adjustments, cross-tenant analytics, and the audit log.
type AdminHandlers struct {
	ledger    ledger.Service
	pricing   pricing.Service
	catalog   catalog.Service
	analytics *analytics.Service
	auditor   audit.Logger
}

// NewAdminHandlers creates a new AdminHandlers.
func NewAdminHandlers(ledgerSvc ledger.Service, pricingSvc pricing.Service,
	catalogSvc catalog.Service, analyticsSvc *analytics.Service, auditor audit.Logger) *AdminHandlers {
	return &AdminHandlers{
		ledger:    ledgerSvc,
		pricing:   pricingSvc,
		catalog:   catalogSvc,
		analytics: analyticsSvc,
		auditor:   auditor,
	}
}

// RegisterRoutes registers admin routes.
func (h *AdminHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/admin/slabs", h.ListSlabs).Methods("GET")
	router.HandleFunc("/api/v1/admin/slabs", h.CreateSlab).Methods("POST")
	router.HandleFunc("/api/v1/admin/slabs/{id}", h.UpdateSlab).Methods("PUT")
	router.HandleFunc("/api/v1/admin/slabs/{id}", h.DeleteSlab).Methods("DELETE")

	router.HandleFunc("/api/v1/admin/plans", h.CreatePlan).Methods("POST")
	router.HandleFunc("/api/v1/admin/plans/{id}", h.UpdatePlan).Methods("PUT")
	router.HandleFunc("/api/v1/admin/plans/{id}", h.DeactivatePlan).Methods("DELETE")

	router.HandleFunc("/api/v1/admin/messes/{id}/adjustments", h.AdjustCredits).Methods("POST")

	router.HandleFunc("/api/v1/admin/analytics/overview", h.AnalyticsOverview).Methods("GET")
	router.HandleFunc("/api/v1/admin/analytics/messes/{id}/usage", h.UsageSeries).Methods("GET")
	router.HandleFunc("/api/v1/admin/analytics/top", h.TopMesses).Methods("GET")

	router.HandleFunc("/api/v1/admin/audit", h.QueryAudit).Methods("GET")
}

// ListSlabs handles GET /api/v1/admin/slabs
func (h *AdminHandlers) ListSlabs(w http.ResponseWriter, r *http.Request) {
	slabs, err := h.pricing.ListSlabs(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"slabs": slabs})
}

// CreateSlab handles POST /api/v1/admin/slabs
func (h *AdminHandlers) CreateSlab(w http.ResponseWriter, r *http.Request) {
	var req pricing.SlabRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	slab, err := h.pricing.CreateSlab(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.recordSlabChange(r, "slab created", slab.ID)
	httputil.WriteCreated(w, slab)
}

// UpdateSlab handles PUT /api/v1/admin/slabs/{id}
func (h *AdminHandlers) UpdateSlab(w http.ResponseWriter, r *http.Request) {
	slabID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req pricing.SlabRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	slab, err := h.pricing.UpdateSlab(r.Context(), slabID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.recordSlabChange(r, "slab updated", slabID)
	httputil.WriteSuccess(w, slab)
}

// DeleteSlab handles DELETE /api/v1/admin/slabs/{id}
func (h *AdminHandlers) DeleteSlab(w http.ResponseWriter, r *http.Request) {
	slabID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.pricing.DeleteSlab(r.Context(), slabID); err != nil {
		writeServiceError(w, err)
		return
	}
	h.recordSlabChange(r, "slab deleted", slabID)
	httputil.WriteNoContent(w)
}

func (h *AdminHandlers) recordSlabChange(r *http.Request, message string, slabID int64) {
	h.auditor.Record(r.Context(), audit.Event{
		Type:       audit.EventTypeSlabChange,
		Actor:      actorFrom(r),
		ResourceID: strconv.FormatInt(slabID, 10),
		Status:     audit.EventStatusSuccess,
		Message:    message,
	})
}

// CreatePlan handles POST /api/v1/admin/plans
func (h *AdminHandlers) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req catalog.PlanRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	plan, err := h.catalog.CreatePlan(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.recordPlanChange(r, "plan created", plan.ID)
	httputil.WriteCreated(w, plan)
}

// UpdatePlan handles PUT /api/v1/admin/plans/{id}
func (h *AdminHandlers) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req catalog.PlanRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	plan, err := h.catalog.UpdatePlan(r.Context(), planID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.recordPlanChange(r, "plan updated", planID)
	httputil.WriteSuccess(w, plan)
}

// DeactivatePlan handles DELETE /api/v1/admin/plans/{id}
func (h *AdminHandlers) DeactivatePlan(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.catalog.DeactivatePlan(r.Context(), planID); err != nil {
		writeServiceError(w, err)
		return
	}
	h.recordPlanChange(r, "plan deactivated", planID)
	httputil.WriteNoContent(w)
}

func (h *AdminHandlers) recordPlanChange(r *http.Request, message string, planID int64) {
	h.auditor.Record(r.Context(), audit.Event{
		Type:       audit.EventTypePlanChange,
		Actor:      actorFrom(r),
		ResourceID: strconv.FormatInt(planID, 10),
		Status:     audit.EventStatusSuccess,
		Message:    message,
	})
}

// AdjustCredits handles POST /api/v1/admin/messes/{id}/adjustments. The
// adjustment may overdraw the balance; it is the operator's escape hatch.
func (h *AdminHandlers) AdjustCredits(w http.ResponseWriter, r *http.Request) {
	messID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Delta       int64  `json:"delta"`
		ReferenceID string `json:"reference_id"`
		Note        string `json:"note"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Delta == 0 {
		httputil.WriteBadRequest(w, "delta must be non-zero")
		return
	}
	if req.ReferenceID == "" {
		httputil.WriteBadRequest(w, "reference_id is required")
		return
	}

	txn, err := h.ledger.AdjustCredits(r.Context(), messID, req.Delta, req.ReferenceID, req.Note)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.auditor.Record(r.Context(), audit.Event{
		Type:       audit.EventTypeCreditAdjustment,
		MessID:     &messID,
		Actor:      actorFrom(r),
		ResourceID: req.ReferenceID,
		Status:     audit.EventStatusSuccess,
		Message:    req.Note,
		Details:    map[string]interface{}{"delta": req.Delta, "transaction_id": txn.ID},
	})
	httputil.WriteCreated(w, txn)
}

// AnalyticsOverview handles GET /api/v1/admin/analytics/overview
func (h *AdminHandlers) AnalyticsOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.analytics.GetOverview(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, overview)
}

// UsageSeries handles GET /api/v1/admin/analytics/messes/{id}/usage
func (h *AdminHandlers) UsageSeries(w http.ResponseWriter, r *http.Request) {
	messID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	days := httputil.ParseQueryInt(r, "days", 30)
	series, err := h.analytics.UsageSeries(r.Context(), messID, days)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"mess_id": messID,
		"series":  series,
	})
}

// TopMesses handles GET /api/v1/admin/analytics/top
func (h *AdminHandlers) TopMesses(w http.ResponseWriter, r *http.Request) {
	days := httputil.ParseQueryInt(r, "days", 30)
	limit := httputil.ParseQueryInt(r, "limit", 10)

	top, err := h.analytics.TopMesses(r.Context(), days, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"messes": top})
}

// QueryAudit handles GET /api/v1/admin/audit
func (h *AdminHandlers) QueryAudit(w http.ResponseWriter, r *http.Request) {
	filter := audit.Filter{
		Type:  audit.EventType(r.URL.Query().Get("type")),
		Limit: httputil.ParseQueryInt(r, "limit", 100),
	}
	if messParam := r.URL.Query().Get("mess_id"); messParam != "" {
		messID, err := strconv.ParseInt(messParam, 10, 64)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid mess_id")
			return
		}
		filter.MessID = messID
	}
	if sinceParam := r.URL.Query().Get("since"); sinceParam != "" {
		since, err := time.Parse(time.RFC3339, sinceParam)
		if err != nil {
			httputil.WriteBadRequest(w, "since must be RFC3339")
			return
		}
		filter.Since = since
	}

	events, err := h.auditor.Query(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"events": events})
}

// actorFrom extracts the acting operator from the request. Identity is
// terminated upstream; the proxy forwards the principal in a header.
func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Admin-Actor"); actor != "" {
		return actor
	}
	return "unknown"
}
