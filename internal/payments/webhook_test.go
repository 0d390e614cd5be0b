package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vendly/ordercore/internal/domain"
	"github.com/vendly/ordercore/internal/messaging"
	"github.com/vendly/ordercore/internal/ratelimit"
)

type fakeRecon struct {
	orders    []domain.Order
	settled   [][]string
	deleted   [][]string
	settleErr error
}

func (f *fakeRecon) SettlePayment(_ context.Context, orderIDs []string, _, _ string) ([]string, error) {
	if f.settleErr != nil {
		return nil, f.settleErr
	}
	f.settled = append(f.settled, orderIDs)
	return []string{"user-1"}, nil
}

func (f *fakeRecon) DeleteOrders(_ context.Context, orderIDs []string) error {
	f.deleted = append(f.deleted, orderIDs)
	return nil
}

func (f *fakeRecon) GetByGatewayOrderID(_ context.Context, gatewayOrderID, userID string) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range f.orders {
		if o.GatewayOrderID == gatewayOrderID && o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

type fakeLimiter struct {
	allowed bool
	calls   int
}

func (f *fakeLimiter) Allow(context.Context, string) (ratelimit.Result, error) {
	f.calls++
	return ratelimit.Result{Allowed: f.allowed, RetryAfter: 30 * time.Second}, nil
}

type publishedEvent struct {
	topic string
	key   string
	event any
}

type fakePublisher struct {
	events []publishedEvent
}

func (f *fakePublisher) Publish(_ context.Context, topic, key string, event any) error {
	f.events = append(f.events, publishedEvent{topic: topic, key: key, event: event})
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func capturedBody(orderIDs, appID string) []byte {
	body := fmt.Sprintf(`{
		"event": "payment.captured",
		"id": "evt_1",
		"payload": {
			"payment": {"entity": {"id": "pay_1", "order_id": "order_gw1", "method": "card", "status": "captured"}},
			"order": {"entity": {"id": "order_gw1", "notes": {"orderIds": %q, "appId": %q}}}
		}
	}`, orderIDs, appID)
	return []byte(body)
}

func failedBody(orderIDs, appID string) []byte {
	body := fmt.Sprintf(`{
		"event": "payment.failed",
		"id": "evt_2",
		"payload": {
			"payment": {"entity": {"id": "pay_1", "order_id": "order_gw1", "status": "failed"}},
			"order": {"entity": {"id": "order_gw1", "notes": {"orderIds": %q, "appId": %q}}}
		}
	}`, orderIDs, appID)
	return []byte(body)
}

func newWebhookTest(recon *fakeRecon, limiter ratelimit.Limiter, events *fakePublisher) (*WebhookHandler, *Signer) {
	signer := NewSigner([]byte("whsec"))
	var pub messaging.Publisher
	if events != nil {
		pub = events
	}
	h := NewWebhookHandler(signer, recon, limiter, "app-1", pub, discardLogger())
	return h, signer
}

func postWebhook(h *WebhookHandler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(body))
	req.Header.Set(signatureHeader, signature)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookHandler_Captured(t *testing.T) {
	t.Run("marks all referenced orders paid", func(t *testing.T) {
		recon := &fakeRecon{}
		events := &fakePublisher{}
		h, signer := newWebhookTest(recon, &fakeLimiter{allowed: true}, events)

		body := capturedBody("o1,o2", "app-1")
		rec := postWebhook(h, body, signer.Sign(body))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if len(recon.settled) != 1 {
			t.Fatalf("expected one settlement, got %d", len(recon.settled))
		}
		if got := recon.settled[0]; len(got) != 2 || got[0] != "o1" || got[1] != "o2" {
			t.Errorf("unexpected settled order ids: %v", got)
		}
		if len(events.events) != 1 || events.events[0].topic != "order.paid" {
			t.Errorf("expected one order.paid event, got %+v", events.events)
		}
	})

	t.Run("replay is applied again without error", func(t *testing.T) {
		recon := &fakeRecon{}
		h, signer := newWebhookTest(recon, &fakeLimiter{allowed: true}, nil)

		body := capturedBody("o1", "app-1")
		sig := signer.Sign(body)

		first := postWebhook(h, body, sig)
		second := postWebhook(h, body, sig)

		if first.Code != http.StatusOK || second.Code != http.StatusOK {
			t.Errorf("replayed delivery must succeed: %d then %d", first.Code, second.Code)
		}
	})

	t.Run("foreign app id is acknowledged without side effects", func(t *testing.T) {
		recon := &fakeRecon{}
		h, signer := newWebhookTest(recon, &fakeLimiter{allowed: true}, nil)

		body := capturedBody("o1", "someone-elses-app")
		rec := postWebhook(h, body, signer.Sign(body))

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
		if len(recon.settled) != 0 {
			t.Errorf("expected no settlement, got %v", recon.settled)
		}
	})
}

func TestWebhookHandler_Failed(t *testing.T) {
	t.Run("deletes referenced orders", func(t *testing.T) {
		recon := &fakeRecon{}
		h, signer := newWebhookTest(recon, &fakeLimiter{allowed: true}, nil)

		body := failedBody("o1,o2", "app-1")
		rec := postWebhook(h, body, signer.Sign(body))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if len(recon.deleted) != 1 {
			t.Fatalf("expected one deletion, got %d", len(recon.deleted))
		}
		if got := recon.deleted[0]; len(got) != 2 || got[0] != "o1" || got[1] != "o2" {
			t.Errorf("unexpected deleted order ids: %v", got)
		}
	})

	t.Run("redelivery after deletion still succeeds", func(t *testing.T) {
		recon := &fakeRecon{}
		h, signer := newWebhookTest(recon, &fakeLimiter{allowed: true}, nil)

		body := failedBody("o1,o2", "app-1")
		sig := signer.Sign(body)

		postWebhook(h, body, sig)
		rec := postWebhook(h, body, sig)

		if rec.Code != http.StatusOK {
			t.Errorf("redelivered payment.failed must not error, got %d", rec.Code)
		}
	})
}

func TestWebhookHandler_Gates(t *testing.T) {
	t.Run("forged signature is rejected with zero mutation", func(t *testing.T) {
		recon := &fakeRecon{}
		h, signer := newWebhookTest(recon, &fakeLimiter{allowed: true}, nil)

		body := capturedBody("o1", "app-1")
		sig := signer.Sign(body)
		tampered := capturedBody("o1,attacker-order", "app-1")

		rec := postWebhook(h, tampered, sig)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
		if len(recon.settled) != 0 || len(recon.deleted) != 0 {
			t.Error("forged webhook must cause zero state mutation")
		}
	})

	t.Run("malformed body is a 400", func(t *testing.T) {
		h, _ := newWebhookTest(&fakeRecon{}, &fakeLimiter{allowed: true}, nil)
		rec := postWebhook(h, []byte("{not json"), "whatever")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("captured without payment entity is a 400", func(t *testing.T) {
		h, signer := newWebhookTest(&fakeRecon{}, &fakeLimiter{allowed: true}, nil)
		body := []byte(`{"event":"payment.captured","payload":{"order":{"entity":{"notes":{"orderIds":"o1","appId":"app-1"}}}}}`)
		rec := postWebhook(h, body, signer.Sign(body))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("unknown event type is acknowledged", func(t *testing.T) {
		recon := &fakeRecon{}
		h, signer := newWebhookTest(recon, &fakeLimiter{allowed: true}, nil)

		body := []byte(`{"event":"payment.authorized","payload":{}}`)
		rec := postWebhook(h, body, signer.Sign(body))

		if rec.Code != http.StatusOK {
			t.Errorf("unknown event types must never cause a non-2xx, got %d", rec.Code)
		}
		if len(recon.settled) != 0 || len(recon.deleted) != 0 {
			t.Error("unknown event must have no side effects")
		}
	})

	t.Run("rate limit exhaustion is a 429 with retry metadata", func(t *testing.T) {
		h, signer := newWebhookTest(&fakeRecon{}, &fakeLimiter{allowed: false}, nil)

		body := capturedBody("o1", "app-1")
		rec := postWebhook(h, body, signer.Sign(body))

		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", rec.Code)
		}
		if rec.Header().Get("Retry-After") == "" {
			t.Error("expected Retry-After header")
		}
		if rec.Header().Get("X-RateLimit-Reset") == "" {
			t.Error("expected X-RateLimit-Reset header")
		}
	})

	t.Run("settlement failure is a 500", func(t *testing.T) {
		recon := &fakeRecon{settleErr: errors.New("db down")}
		h, signer := newWebhookTest(recon, &fakeLimiter{allowed: true}, nil)

		body := capturedBody("o1", "app-1")
		rec := postWebhook(h, body, signer.Sign(body))

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		var resp map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp["error"] == "db down" {
			t.Error("internal error detail must not be returned to the caller")
		}
	})
}
