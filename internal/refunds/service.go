// Package refunds settles money-back for delivered orders whose return
// request was approved. The gateway is authoritative: money moves first,
// local state follows.
package refunds

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vendly/ordercore/internal/apperr"
	"github.com/vendly/ordercore/internal/domain"
	"github.com/vendly/ordercore/internal/httpx"
	"github.com/vendly/ordercore/internal/messaging"
	"github.com/vendly/ordercore/internal/payments"
)

type CreateRefundRequest struct {
	OrderID string `json:"orderId"`
	Amount  int64  `json:"amount,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// GatewayRefunder issues the refund against the captured payment.
type GatewayRefunder interface {
	Refund(ctx context.Context, paymentID string, amount int64, notes map[string]string) (*payments.GatewayRefund, error)
}

// SettleFunc is called with the order row-locked and preconditions
// verified; it returns the refund to persist. Any error aborts the
// transaction with zero local change.
type SettleFunc func(ctx context.Context, order *domain.Order) (*domain.Refund, error)

// Store runs the refund transaction: lock the order, verify an approved
// return request and the absence of a prior refund, call settle, persist
// the refund and the REFUNDED transition.
type Store interface {
	CreateRefund(ctx context.Context, orderID string, settle SettleFunc) (*domain.Refund, error)
}

type Service struct {
	store   Store
	gateway GatewayRefunder
	events  messaging.Publisher
	logger  *slog.Logger
}

func NewService(store Store, gateway GatewayRefunder, events messaging.Publisher, logger *slog.Logger) *Service {
	return &Service{store: store, gateway: gateway, events: events, logger: logger}
}

// CreateRefund refunds an order once. Admins may refund any order,
// vendors only their own. The gateway call happens inside the row lock
// and before any local mutation, so an upstream failure leaves no trace.
func (s *Service) CreateRefund(ctx context.Context, caller httpx.Identity, req CreateRefundRequest) (*domain.Refund, error) {
	if req.OrderID == "" {
		return nil, apperr.Validation("orderId is required")
	}
	if req.Amount < 0 {
		return nil, apperr.Validation("amount must not be negative")
	}
	if caller.Role != httpx.RoleAdmin && caller.Role != httpx.RoleVendor {
		return nil, apperr.Forbidden("refunds require an admin or vendor caller")
	}

	refund, err := s.store.CreateRefund(ctx, req.OrderID, func(ctx context.Context, order *domain.Order) (*domain.Refund, error) {
		if caller.Role == httpx.RoleVendor && order.VendorID != caller.UserID {
			return nil, apperr.Forbidden("order belongs to another vendor")
		}

		amount := req.Amount
		if amount == 0 {
			amount = order.Total
		}
		if amount > order.Total {
			return nil, apperr.Validation("refund amount exceeds order total")
		}

		refund := &domain.Refund{
			ID:        uuid.New().String(),
			OrderID:   order.ID,
			Amount:    amount,
			Reason:    req.Reason,
			CreatedAt: time.Now().UTC(),
		}

		if order.PaymentMethod.UsesGateway() {
			if !order.Paid || order.GatewayPaymentID == "" {
				return nil, apperr.Conflict("order has no captured payment to refund")
			}
			gwRefund, err := s.gateway.Refund(ctx, order.GatewayPaymentID, amount, map[string]string{
				"orderId": order.ID,
			})
			if err != nil {
				return nil, err
			}
			refund.GatewayRefundID = gwRefund.ID
		}

		return refund, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("refund settled",
		"order_id", refund.OrderID,
		"refund_id", refund.ID,
		"amount", refund.Amount,
		"caller_id", caller.UserID)

	if s.events != nil {
		event := domain.OrderRefundedEvent{
			OrderID:   refund.OrderID,
			RefundID:  refund.ID,
			Amount:    refund.Amount,
			Timestamp: time.Now().UTC(),
		}
		if err := s.events.Publish(ctx, messaging.TopicOrderRefunded, refund.OrderID, event); err != nil {
			s.logger.Error("failed to publish order.refunded", "error", err, "order_id", refund.OrderID)
		}
	}

	return refund, nil
}
