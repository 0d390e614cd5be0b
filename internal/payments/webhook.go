package payments

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vendly/ordercore/internal/domain"
	"github.com/vendly/ordercore/internal/httpx"
	"github.com/vendly/ordercore/internal/messaging"
	"github.com/vendly/ordercore/internal/ratelimit"
	"github.com/vendly/ordercore/internal/telemetry"
)

// maxWebhookBodySize caps webhook payloads. Gateway events are small;
// 1 MB is generous headroom.
const maxWebhookBodySize = 1 << 20

const signatureHeader = "X-Gateway-Signature"

const (
	eventPaymentCaptured = "payment.captured"
	eventPaymentFailed   = "payment.failed"
)

// Reconciler applies payment outcomes across all sub-orders of a
// checkout atomically.
type Reconciler interface {
	SettlePayment(ctx context.Context, orderIDs []string, paymentID, signature string) ([]string, error)
	DeleteOrders(ctx context.Context, orderIDs []string) error
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID, userID string) ([]domain.Order, error)
}

type webhookEnvelope struct {
	Event   string `json:"event"`
	ID      string `json:"id"`
	Payload struct {
		Payment struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity orderEntity `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Method  string `json:"method"`
	Status  string `json:"status"`
}

// orderEntity carries the gateway's copy of our checkout metadata. The
// order-id list and app id are read from the webhook body itself, never
// re-fetched from the gateway.
type orderEntity struct {
	ID    string `json:"id"`
	Notes struct {
		OrderIDs string `json:"orderIds"`
		AppID    string `json:"appId"`
	} `json:"notes"`
}

// WebhookHandler ingests gateway callback events. It is unauthenticated
// by identity and authenticated by signature; every hard gate runs in
// order: raw body read, rate limit, structural validation, constant-time
// HMAC check, then dispatch.
type WebhookHandler struct {
	signer  *Signer
	recon   Reconciler
	limiter ratelimit.Limiter
	appID   string
	events  messaging.Publisher
	logger  *slog.Logger
}

func NewWebhookHandler(signer *Signer, recon Reconciler, limiter ratelimit.Limiter, appID string, events messaging.Publisher, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		signer:  signer,
		recon:   recon,
		limiter: limiter,
		appID:   appID,
		events:  events,
		logger:  logger,
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	// The signature is computed over the raw bytes; read them before
	// anything touches the body.
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "unreadable body", "validation")
		return
	}

	if !allowRequest(ctx, w, h.limiter, httpx.ClientIP(r)) {
		h.logger.Warn("webhook rate limited", "ip", httpx.ClientIP(r), "latency_ms", msSince(start))
		return
	}

	var env webhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.logger.Warn("webhook body malformed", "error", err, "latency_ms", msSince(start))
		httpx.WriteError(w, http.StatusBadRequest, "malformed webhook body", "validation")
		return
	}
	if reason, ok := validateEnvelope(&env); !ok {
		h.logger.Warn("webhook structurally invalid", "event", env.Event, "reason", reason, "latency_ms", msSince(start))
		httpx.WriteError(w, http.StatusBadRequest, reason, "validation")
		return
	}

	signature := r.Header.Get(signatureHeader)
	if !h.signer.Verify(raw, signature) {
		h.logger.Warn("webhook signature mismatch",
			"event", env.Event,
			"signature", telemetry.RedactSecret(signature),
			"latency_ms", msSince(start))
		httpx.WriteError(w, http.StatusUnauthorized, "invalid signature", "bad_signature")
		return
	}

	switch env.Event {
	case eventPaymentCaptured:
		h.handleCaptured(ctx, w, &env, signature, start)
	case eventPaymentFailed:
		h.handleFailed(ctx, w, &env, start)
	default:
		// The gateway retries on non-2xx; unknown event types must be
		// acknowledged without side effects.
		h.logger.Info("webhook event ignored", "event", env.Event, "latency_ms", msSince(start))
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	}
}

func (h *WebhookHandler) handleCaptured(ctx context.Context, w http.ResponseWriter, env *webhookEnvelope, signature string, start time.Time) {
	notes := env.Payload.Order.Entity.Notes
	if notes.AppID != h.appID {
		// Another application's traffic on a shared gateway account:
		// acknowledge and do nothing.
		h.logger.Info("webhook for foreign app ignored",
			"event", env.Event,
			"app_id", notes.AppID,
			"latency_ms", msSince(start))
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	orderIDs := splitOrderIDs(notes.OrderIDs)
	payment := env.Payload.Payment.Entity

	userIDs, err := h.recon.SettlePayment(ctx, orderIDs, payment.ID, signature)
	if err != nil {
		h.logger.Error("webhook settlement failed",
			"event", env.Event,
			"gateway_order_id", payment.OrderID,
			"order_count", len(orderIDs),
			"error", err,
			"latency_ms", msSince(start))
		httpx.WriteError(w, http.StatusInternalServerError, "settlement failed", "internal")
		return
	}

	h.publishPaid(ctx, payment, orderIDs, userIDs)

	h.logger.Info("payment captured",
		"gateway_order_id", payment.OrderID,
		"gateway_payment_id", payment.ID,
		"order_count", len(orderIDs),
		"latency_ms", msSince(start))
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WebhookHandler) handleFailed(ctx context.Context, w http.ResponseWriter, env *webhookEnvelope, start time.Time) {
	notes := env.Payload.Order.Entity.Notes
	if notes.AppID != h.appID {
		h.logger.Info("webhook for foreign app ignored",
			"event", env.Event,
			"app_id", notes.AppID,
			"latency_ms", msSince(start))
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	orderIDs := splitOrderIDs(notes.OrderIDs)

	if err := h.recon.DeleteOrders(ctx, orderIDs); err != nil {
		h.logger.Error("webhook order deletion failed",
			"event", env.Event,
			"order_ids", orderIDs,
			"error", err,
			"latency_ms", msSince(start))
		httpx.WriteError(w, http.StatusInternalServerError, "deletion failed", "internal")
		return
	}

	if h.events != nil {
		event := domain.OrderPaymentFailedEvent{
			GatewayOrderID: env.Payload.Order.Entity.ID,
			OrderIDs:       orderIDs,
			Timestamp:      time.Now().UTC(),
		}
		if err := h.events.Publish(ctx, messaging.TopicOrderPaymentFailed, env.Payload.Order.Entity.ID, event); err != nil {
			h.logger.Error("failed to publish payment failed event", "error", err)
		}
	}

	// The order-id list is logged in full: deletion destroys the rows,
	// and the log stream is the remaining audit trail.
	h.logger.Info("payment failed, orders removed",
		"gateway_order_id", env.Payload.Order.Entity.ID,
		"order_ids", orderIDs,
		"latency_ms", msSince(start))
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WebhookHandler) publishPaid(ctx context.Context, payment paymentEntity, orderIDs, userIDs []string) {
	if h.events == nil {
		return
	}
	event := domain.OrderPaidEvent{
		GatewayOrderID:   payment.OrderID,
		GatewayPaymentID: payment.ID,
		OrderIDs:         orderIDs,
		Timestamp:        time.Now().UTC(),
	}
	if len(userIDs) > 0 {
		event.UserID = userIDs[0]
	}
	if err := h.events.Publish(ctx, messaging.TopicOrderPaid, payment.OrderID, event); err != nil {
		h.logger.Error("failed to publish order paid event", "error", err, "gateway_order_id", payment.OrderID)
	}
}

func validateEnvelope(env *webhookEnvelope) (string, bool) {
	if env.Event == "" {
		return "missing event type", false
	}
	switch env.Event {
	case eventPaymentCaptured:
		payment := env.Payload.Payment.Entity
		if payment.ID == "" || payment.OrderID == "" {
			return "missing payment entity fields", false
		}
		if strings.TrimSpace(env.Payload.Order.Entity.Notes.OrderIDs) == "" {
			return "missing order id notes", false
		}
	case eventPaymentFailed:
		if strings.TrimSpace(env.Payload.Order.Entity.Notes.OrderIDs) == "" {
			return "missing order id notes", false
		}
	}
	return "", true
}

func splitOrderIDs(raw string) []string {
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

// allowRequest consumes one unit of the caller's budget, writing the 429
// response itself on exhaustion. Limiter backend errors fail open: the
// limiter must never block legitimate traffic because Redis is down.
func allowRequest(ctx context.Context, w http.ResponseWriter, limiter ratelimit.Limiter, key string) bool {
	res, err := limiter.Allow(ctx, key)
	if err != nil {
		return true
	}
	if res.Allowed {
		return true
	}

	retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(res.RetryAfter).Unix(), 10))
	httpx.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded", "rate_limited")
	return false
}

func msSince(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
