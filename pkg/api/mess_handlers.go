package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/messmate/messmate/pkg/httputil"
	"github.com/messmate/messmate/pkg/messes"
)

// MessHandlers exposes tenant account and member management.
type MessHandlers struct {
	messes messes.Service
}

// NewMessHandlers creates a new MessHandlers.
func NewMessHandlers(messSvc messes.Service) *MessHandlers {
	return &MessHandlers{messes: messSvc}
}

// RegisterRoutes registers mess routes.
func (h *MessHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/messes", h.Create).Methods("POST")
	router.HandleFunc("/api/v1/messes", h.List).Methods("GET")
	router.HandleFunc("/api/v1/messes/{id}", h.Get).Methods("GET")
	router.HandleFunc("/api/v1/messes/{id}/settings", h.UpdateSettings).Methods("PATCH")
	router.HandleFunc("/api/v1/messes/{id}/members", h.AddMember).Methods("POST")
	router.HandleFunc("/api/v1/messes/{id}/members", h.ListMembers).Methods("GET")
	router.HandleFunc("/api/v1/members/{id}", h.DeactivateMember).Methods("DELETE")
}

// Create handles POST /api/v1/messes
func (h *MessHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req messes.CreateMessRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	mess, err := h.messes.CreateMess(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, mess)
}

// List handles GET /api/v1/messes
func (h *MessHandlers) List(w http.ResponseWriter, r *http.Request) {
	limit := httputil.ParseQueryInt(r, "limit", 50)
	offset := httputil.ParseQueryInt(r, "offset", 0)

	list, err := h.messes.ListMesses(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"messes": list})
}

// Get handles GET /api/v1/messes/{id}
func (h *MessHandlers) Get(w http.ResponseWriter, r *http.Request) {
	messID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	mess, err := h.messes.GetMess(r.Context(), messID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, mess)
}

// UpdateSettings handles PATCH /api/v1/messes/{id}/settings
func (h *MessHandlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	messID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req messes.UpdateSettingsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	mess, err := h.messes.UpdateSettings(r.Context(), messID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, mess)
}

// AddMember handles POST /api/v1/messes/{id}/members
func (h *MessHandlers) AddMember(w http.ResponseWriter, r *http.Request) {
	messID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}

	member, err := h.messes.AddMember(r.Context(), messID, req.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, member)
}

// ListMembers handles GET /api/v1/messes/{id}/members
func (h *MessHandlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	messID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	activeOnly := r.URL.Query().Get("active") == "true"
	members, err := h.messes.ListMembers(r.Context(), messID, activeOnly)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"mess_id": messID,
		"members": members,
	})
}

// DeactivateMember handles DELETE /api/v1/members/{id}
func (h *MessHandlers) DeactivateMember(w http.ResponseWriter, r *http.Request) {
	memberID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.messes.DeactivateMember(r.Context(), memberID); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
