package api

import (
	"encoding/base64"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/messmate/messmate/pkg/catalog"
	"github.com/messmate/messmate/pkg/httputil"
	"github.com/messmate/messmate/pkg/payments"
)

const webhookPath = "/api/v1/payments/webhook"

// PaymentHandlers exposes purchase plans, payment orders, the gateway
// webhook, and the manual proof review endpoints.
type PaymentHandlers struct {
	payments payments.Service
	catalog  catalog.Service
}

// NewPaymentHandlers creates a new PaymentHandlers.
func NewPaymentHandlers(paymentSvc payments.Service, catalogSvc catalog.Service) *PaymentHandlers {
	return &PaymentHandlers{payments: paymentSvc, catalog: catalogSvc}
}

// RegisterRoutes registers payment routes.
func (h *PaymentHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/plans", h.ListPlans).Methods("GET")
	router.HandleFunc("/api/v1/messes/{id}/orders", h.CreateOrder).Methods("POST")
	router.HandleFunc("/api/v1/orders/{orderId}", h.GetOrder).Methods("GET")
	router.HandleFunc(webhookPath, h.HandleWebhook).Methods("POST")
	router.HandleFunc("/api/v1/orders/{orderId}/proof", h.SubmitProof).Methods("POST")
	router.HandleFunc("/api/v1/verifications/{id}/approve", h.ApproveProof).Methods("POST")
	router.HandleFunc("/api/v1/verifications/{id}/reject", h.RejectProof).Methods("POST")
}

// ListPlans handles GET /api/v1/plans
func (h *PaymentHandlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.catalog.ListActivePlans(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"plans": plans})
}

// CreateOrder handles POST /api/v1/messes/{id}/orders
func (h *PaymentHandlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	messID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		PlanID int64 `json:"plan_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.PlanID <= 0 {
		httputil.WriteBadRequest(w, "plan_id is required")
		return
	}

	order, err := h.payments.CreateOrder(r.Context(), messID, req.PlanID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, order)
}

// GetOrder handles GET /api/v1/orders/{orderId}
func (h *PaymentHandlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := httputil.ParsePathString(r, "orderId")
	if err != nil {
		httputil.WriteBadRequest(w, "order id is required")
		return
	}

	order, err := h.payments.GetOrder(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, order)
}

// HandleWebhook handles POST /api/v1/payments/webhook. The signature is
// checked inside the service; a mismatch comes back as 401.
func (h *PaymentHandlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var event payments.WebhookEvent
	if !httputil.ParseJSONOrError(w, r, &event) {
		return
	}
	if event.OrderID == "" || event.GatewayTxnID == "" {
		httputil.WriteBadRequest(w, "orderId and gatewayTransactionId are required")
		return
	}

	verification, err := h.payments.VerifyWebhook(r.Context(), event)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, verification)
}

// SubmitProof handles POST /api/v1/orders/{orderId}/proof. The proof
// image travels base64-encoded in the JSON body.
func (h *PaymentHandlers) SubmitProof(w http.ResponseWriter, r *http.Request) {
	orderID, err := httputil.ParsePathString(r, "orderId")
	if err != nil {
		httputil.WriteBadRequest(w, "order id is required")
		return
	}

	var req struct {
		GatewayTxnID string `json:"gateway_txn_id"`
		FileName     string `json:"file_name"`
		ContentType  string `json:"content_type"`
		Data         string `json:"data"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.GatewayTxnID == "" {
		httputil.WriteBadRequest(w, "gateway_txn_id is required")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil || len(data) == 0 {
		httputil.WriteBadRequest(w, "data must be non-empty base64")
		return
	}

	verification, err := h.payments.SubmitProof(r.Context(), orderID, req.GatewayTxnID, payments.ProofUpload{
		FileName:    req.FileName,
		ContentType: req.ContentType,
		Data:        data,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, verification)
}

// ApproveProof handles POST /api/v1/verifications/{id}/approve
func (h *PaymentHandlers) ApproveProof(w http.ResponseWriter, r *http.Request) {
	verificationID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Reviewer string `json:"reviewer"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Reviewer == "" {
		httputil.WriteBadRequest(w, "reviewer is required")
		return
	}

	verification, err := h.payments.ApproveProof(r.Context(), verificationID, req.Reviewer)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, verification)
}

// RejectProof handles POST /api/v1/verifications/{id}/reject
func (h *PaymentHandlers) RejectProof(w http.ResponseWriter, r *http.Request) {
	verificationID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Reviewer string `json:"reviewer"`
		Reason   string `json:"reason"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Reviewer == "" || req.Reason == "" {
		httputil.WriteBadRequest(w, "reviewer and reason are required")
		return
	}

	verification, err := h.payments.RejectProof(r.Context(), verificationID, req.Reviewer, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, verification)
}
