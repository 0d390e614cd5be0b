package replacements

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

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	caller, ok := httpx.IdentityFrom(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "authentication required", "unauthenticated")
		return
	}

	var req CreateReplacementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request body", "validation")
		return
	}

	replacement, err := h.service.CreateReplacement(r.Context(), caller, req)
	if err != nil {
		h.logger.Error("failed to create replacement", "error", err, "original_order_id", req.OriginalOrderID, "user_id", caller.UserID)
		httpx.WriteAppError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, replacement)
}
