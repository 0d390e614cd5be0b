// Package replacements creates a derived order that resends a subset of
// a delivered order's items at their original unit prices.
package replacements

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vendly/ordercore/internal/apperr"
	"github.com/vendly/ordercore/internal/domain"
	"github.com/vendly/ordercore/internal/httpx"
	"github.com/vendly/ordercore/internal/messaging"
)

type ItemRequest struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

type CreateReplacementRequest struct {
	OriginalOrderID string        `json:"originalOrderId"`
	Reason          string        `json:"reason"`
	Description     string        `json:"description,omitempty"`
	Images          []string      `json:"images,omitempty"`
	Items           []ItemRequest `json:"replacementItems"`
}

// BuildFunc is called with the original order row-locked, items loaded,
// and the no-open-replacement precondition verified; it returns the
// replacement order and its link row to persist.
type BuildFunc func(ctx context.Context, original *domain.Order) (*domain.Order, *domain.Replacement, error)

// Store runs the replacement transaction: lock the original, verify no
// non-rejected replacement exists, call build, persist the new order and
// the link, and transition the original to REPLACEMENT_REQUESTED.
type Store interface {
	CreateReplacement(ctx context.Context, originalOrderID string, build BuildFunc) (*domain.Replacement, error)
}

type Service struct {
	store  Store
	events messaging.Publisher
	logger *slog.Logger
}

func NewService(store Store, events messaging.Publisher, logger *slog.Logger) *Service {
	return &Service{store: store, events: events, logger: logger}
}

// CreateReplacement is owner-only. The requested items must be a subset
// of the original's; totals come from the stored snapshot prices, never
// the live catalog. The new order is cash-on-delivery and unpaid: no
// money moves for a replacement.
func (s *Service) CreateReplacement(ctx context.Context, caller httpx.Identity, req CreateReplacementRequest) (*domain.Replacement, error) {
	if req.OriginalOrderID == "" {
		return nil, apperr.Validation("originalOrderId is required")
	}
	if req.Reason == "" {
		return nil, apperr.Validation("reason is required")
	}
	if len(req.Items) == 0 {
		return nil, apperr.Validation("replacementItems must not be empty")
	}
	for _, item := range req.Items {
		if item.ID == "" {
			return nil, apperr.Validation("item id is required")
		}
		if item.Quantity <= 0 {
			return nil, apperr.Newf(apperr.CodeValidation, "quantity for product %s must be positive", item.ID)
		}
	}

	replacement, err := s.store.CreateReplacement(ctx, req.OriginalOrderID, func(ctx context.Context, original *domain.Order) (*domain.Order, *domain.Replacement, error) {
		if original.UserID != caller.UserID {
			return nil, nil, apperr.NotFound("order not found")
		}
		if original.Status != domain.OrderStatusDelivered {
			return nil, nil, apperr.Conflict("only delivered orders can be replaced")
		}

		now := time.Now().UTC()
		order := &domain.Order{
			ID:            uuid.New().String(),
			UserID:        original.UserID,
			VendorID:      original.VendorID,
			AddressID:     original.AddressID,
			PaymentMethod: domain.PaymentMethodCOD,
			Status:        domain.OrderStatusPlaced,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		for _, item := range req.Items {
			price, ok := original.UnitPrice(item.ID)
			if !ok {
				return nil, nil, apperr.Newf(apperr.CodeValidation, "product %s is not part of the original order", item.ID)
			}
			order.Items = append(order.Items, domain.OrderItem{
				ProductID: item.ID,
				Quantity:  item.Quantity,
				Price:     price,
			})
			order.Total += price * int64(item.Quantity)
		}

		link := &domain.Replacement{
			ID:                 uuid.New().String(),
			OriginalOrderID:    original.ID,
			ReplacementOrderID: order.ID,
			Reason:             req.Reason,
			Description:        req.Description,
			Images:             req.Images,
			Status:             domain.ReplacementStatusRequested,
			CreatedAt:          now,
		}
		return order, link, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("replacement requested",
		"original_order_id", replacement.OriginalOrderID,
		"replacement_order_id", replacement.ReplacementOrderID,
		"user_id", caller.UserID)

	if s.events != nil {
		event := domain.ReplacementRequestedEvent{
			OriginalOrderID:    replacement.OriginalOrderID,
			ReplacementOrderID: replacement.ReplacementOrderID,
			Timestamp:          time.Now().UTC(),
		}
		if err := s.events.Publish(ctx, messaging.TopicReplacementRequested, replacement.OriginalOrderID, event); err != nil {
			s.logger.Error("failed to publish order.replacement_requested", "error", err, "original_order_id", replacement.OriginalOrderID)
		}
	}

	return replacement, nil
}
