package payments

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/vendly/ordercore/internal/domain"
	"github.com/vendly/ordercore/internal/httpx"
	"github.com/vendly/ordercore/internal/messaging"
	"github.com/vendly/ordercore/internal/ratelimit"
	"github.com/vendly/ordercore/internal/telemetry"
)

type verifyRequest struct {
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	GatewaySignature string `json:"gatewaySignature"`
}

type verifyResponse struct {
	OrderIDs        []string `json:"orderIds"`
	AlreadyVerified bool     `json:"alreadyVerified,omitempty"`
}

// VerifyHandler is the client-submitted confirmation path. It races the
// webhook for the same gateway order id by design: whichever lands first
// wins, the other takes the idempotent "already verified" branch.
type VerifyHandler struct {
	signer         *Signer
	recon          Reconciler
	limiter        ratelimit.Limiter
	allowedOrigins []string
	events         messaging.Publisher
	logger         *slog.Logger
}

func NewVerifyHandler(signer *Signer, recon Reconciler, limiter ratelimit.Limiter, allowedOrigins []string, events messaging.Publisher, logger *slog.Logger) *VerifyHandler {
	return &VerifyHandler{
		signer:         signer,
		recon:          recon,
		limiter:        limiter,
		allowedOrigins: allowedOrigins,
		events:         events,
		logger:         logger,
	}
}

func (h *VerifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	caller, authed := httpx.IdentityFrom(ctx)

	limitKey := httpx.ClientIP(r)
	if authed {
		limitKey = caller.UserID
	}
	if !allowRequest(ctx, w, h.limiter, limitKey) {
		h.logger.Warn("verification rate limited", "key", limitKey, "latency_ms", msSince(start))
		return
	}

	if !httpx.OriginAllowed(r, h.allowedOrigins) {
		httpx.WriteError(w, http.StatusForbidden, "origin not allowed", "forbidden")
		return
	}

	if !authed {
		httpx.WriteError(w, http.StatusUnauthorized, "authentication required", "unauthenticated")
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request body", "validation")
		return
	}
	if req.GatewayOrderID == "" || req.GatewayPaymentID == "" || req.GatewaySignature == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing verification fields", "validation")
		return
	}

	if !h.signer.VerifyPair(req.GatewayOrderID, req.GatewayPaymentID, req.GatewaySignature) {
		h.logger.Warn("verification signature mismatch",
			"user_id", caller.UserID,
			"gateway_order_id", req.GatewayOrderID,
			"signature", telemetry.RedactSecret(req.GatewaySignature),
			"latency_ms", msSince(start))
		httpx.WriteError(w, http.StatusBadRequest, "invalid payment signature", "bad_signature")
		return
	}

	orders, err := h.recon.GetByGatewayOrderID(ctx, req.GatewayOrderID, caller.UserID)
	if err != nil {
		h.logger.Error("failed to load orders for verification", "error", err, "gateway_order_id", req.GatewayOrderID)
		httpx.WriteError(w, http.StatusInternalServerError, "internal server error", "internal")
		return
	}
	if len(orders) == 0 {
		httpx.WriteError(w, http.StatusNotFound, "no matching orders", "not_found")
		return
	}

	orderIDs := make([]string, len(orders))
	allPaid := true
	for i, o := range orders {
		orderIDs[i] = o.ID
		if !o.Paid {
			allPaid = false
		}
	}

	// The webhook may already have landed; that race is expected and
	// must be silent.
	if allPaid {
		h.logger.Info("payment already verified",
			"user_id", caller.UserID,
			"gateway_order_id", req.GatewayOrderID,
			"latency_ms", msSince(start))
		httpx.WriteJSON(w, http.StatusOK, verifyResponse{OrderIDs: orderIDs, AlreadyVerified: true})
		return
	}

	if _, err := h.recon.SettlePayment(ctx, orderIDs, req.GatewayPaymentID, req.GatewaySignature); err != nil {
		h.logger.Error("verification settlement failed",
			"error", err,
			"gateway_order_id", req.GatewayOrderID,
			"latency_ms", msSince(start))
		httpx.WriteError(w, http.StatusInternalServerError, "settlement failed", "internal")
		return
	}

	if h.events != nil {
		event := domain.OrderPaidEvent{
			GatewayOrderID:   req.GatewayOrderID,
			GatewayPaymentID: req.GatewayPaymentID,
			OrderIDs:         orderIDs,
			UserID:           caller.UserID,
			Timestamp:        time.Now().UTC(),
		}
		if err := h.events.Publish(ctx, messaging.TopicOrderPaid, req.GatewayOrderID, event); err != nil {
			h.logger.Error("failed to publish order paid event", "error", err, "gateway_order_id", req.GatewayOrderID)
		}
	}

	h.logger.Info("payment verified",
		"user_id", caller.UserID,
		"gateway_order_id", req.GatewayOrderID,
		"order_count", len(orderIDs),
		"latency_ms", msSince(start))
	httpx.WriteJSON(w, http.StatusOK, verifyResponse{OrderIDs: orderIDs})
}
