package checkout

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vendly/ordercore/internal/httpx"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type gatewayCheckoutResponse struct {
	Order any    `json:"order"`
	Key   string `json:"key"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	caller, ok := httpx.IdentityFrom(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "authentication required", "unauthenticated")
		return
	}

	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request body", "validation")
		return
	}

	result, err := h.service.PlaceOrder(r.Context(), caller, req)
	if err != nil {
		h.logger.Error("failed to place order", "error", err, "user_id", caller.UserID)
		httpx.WriteAppError(w, err)
		return
	}

	if result.GatewayOrder != nil {
		httpx.WriteJSON(w, http.StatusCreated, gatewayCheckoutResponse{
			Order: result.GatewayOrder,
			Key:   result.GatewayKey,
		})
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]string{"message": "order placed"})
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	caller, ok := httpx.IdentityFrom(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "authentication required", "unauthenticated")
		return
	}

	orders, err := h.service.ListOrders(r.Context(), caller)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err, "user_id", caller.UserID)
		httpx.WriteAppError(w, err)
		return
	}

	httpx.IssueCSRFToken(w, r)
	httpx.WriteJSON(w, http.StatusOK, orders)
}
