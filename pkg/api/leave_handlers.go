package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/messmate/messmate/pkg/httputil"
	"github.com/messmate/messmate/pkg/leave"
	"github.com/messmate/messmate/pkg/messes"
	"github.com/messmate/messmate/pkg/pricing"
)

// LeaveHandlers exposes leave adjustment computation and application.
type LeaveHandlers struct {
	leave   leave.Service
	messes  messes.Service
	pricing pricing.Service
}

// NewLeaveHandlers creates a new LeaveHandlers.
func NewLeaveHandlers(leaveSvc leave.Service, messSvc messes.Service, pricingSvc pricing.Service) *LeaveHandlers {
	return &LeaveHandlers{leave: leaveSvc, messes: messSvc, pricing: pricingSvc}
}

// RegisterRoutes registers leave routes.
func (h *LeaveHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/messes/{id}/leave-adjustments", h.Compute).Methods("POST")
	router.HandleFunc("/api/v1/messes/{id}/leave-adjustments", h.ListUnapplied).Methods("GET")
	router.HandleFunc("/api/v1/leave-adjustments/{id}", h.Get).Methods("GET")
	router.HandleFunc("/api/v1/leave-adjustments/{id}/apply", h.Apply).Methods("POST")
}

// Compute handles POST /api/v1/messes/{id}/leave-adjustments. It derives
// the cycle cost from the mess's current slab, computes the refund for an
// approved leave request, and records the adjustment unapplied.
func (h *LeaveHandlers) Compute(w http.ResponseWriter, r *http.Request) {
	messID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		MembershipID int64               `json:"membership_id"`
		Status       leave.RequestStatus `json:"status"`
		LeaveStart   time.Time           `json:"leave_start"`
		LeaveEnd     time.Time           `json:"leave_end"`
		CycleStart   time.Time           `json:"cycle_start"`
		CycleEnd     time.Time           `json:"cycle_end"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.MembershipID <= 0 {
		httputil.WriteBadRequest(w, "membership_id is required")
		return
	}

	mess, err := h.messes.GetMess(r.Context(), messID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	activeUsers, err := h.messes.ActiveMemberCount(r.Context(), messID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	cycleCost, err := h.pricing.ResolveCost(r.Context(), activeUsers)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	adjustment, err := leave.ComputeAdjustment(leave.Request{
		MembershipID: req.MembershipID,
		MessID:       messID,
		Start:        req.LeaveStart,
		End:          req.LeaveEnd,
		Status:       req.Status,
	}, leave.CycleInfo{
		Start:                req.CycleStart,
		End:                  req.CycleEnd,
		CycleCost:            cycleCost,
		MaxLeaveDaysPerCycle: mess.MaxLeaveDaysPerCycle,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	recorded, err := h.leave.Record(r.Context(), adjustment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, recorded)
}

// ListUnapplied handles GET /api/v1/messes/{id}/leave-adjustments
func (h *LeaveHandlers) ListUnapplied(w http.ResponseWriter, r *http.Request) {
	messID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	adjustments, err := h.leave.ListUnapplied(r.Context(), messID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"mess_id":     messID,
		"adjustments": adjustments,
	})
}

// Get handles GET /api/v1/leave-adjustments/{id}
func (h *LeaveHandlers) Get(w http.ResponseWriter, r *http.Request) {
	adjustmentID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	adjustment, err := h.leave.Get(r.Context(), adjustmentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, adjustment)
}

// Apply handles POST /api/v1/leave-adjustments/{id}/apply, posting the
// refund to the ledger immediately instead of waiting for the next bill.
func (h *LeaveHandlers) Apply(w http.ResponseWriter, r *http.Request) {
	adjustmentID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	txn, err := h.leave.Apply(r.Context(), adjustmentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, txn)
}
