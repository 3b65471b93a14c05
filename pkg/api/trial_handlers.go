package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/messmate/messmate/pkg/httputil"
	"github.com/messmate/messmate/pkg/trial"
)

// TrialHandlers exposes free trial eligibility and activation.
type TrialHandlers struct {
	trial trial.Service
}

// NewTrialHandlers creates a new TrialHandlers.
func NewTrialHandlers(trialSvc trial.Service) *TrialHandlers {
	return &TrialHandlers{trial: trialSvc}
}

// RegisterRoutes registers trial routes.
func (h *TrialHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/messes/{id}/trial/eligibility", h.CheckEligibility).Methods("GET")
	router.HandleFunc("/api/v1/messes/{id}/trial", h.Activate).Methods("POST")
}

// CheckEligibility handles GET /api/v1/messes/{id}/trial/eligibility
func (h *TrialHandlers) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	messID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	eligibility, err := h.trial.CheckEligibility(r.Context(), messID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, eligibility)
}

// Activate handles POST /api/v1/messes/{id}/trial
func (h *TrialHandlers) Activate(w http.ResponseWriter, r *http.Request) {
	messID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	record, err := h.trial.Activate(r.Context(), messID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, record)
}
