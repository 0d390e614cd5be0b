// Package checkout splits a cart into one order per vendor with
// deterministic pricing and opens the correlated gateway transaction.
package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vendly/ordercore/internal/apperr"
	"github.com/vendly/ordercore/internal/catalog"
	"github.com/vendly/ordercore/internal/domain"
	"github.com/vendly/ordercore/internal/httpx"
	"github.com/vendly/ordercore/internal/payments"
)

type ItemRequest struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

type PlaceOrderRequest struct {
	AddressID     string               `json:"addressId"`
	Items         []ItemRequest        `json:"items"`
	CouponCode    string               `json:"couponCode,omitempty"`
	PaymentMethod domain.PaymentMethod `json:"paymentMethod"`
}

// PlaceOrderResult carries the created sub-orders and, for gateway
// payments, the remote transaction handle the client completes in the
// gateway's own UI.
type PlaceOrderResult struct {
	OrderIDs     []string
	GrandTotal   int64
	GatewayOrder *payments.GatewayOrder
	GatewayKey   string
}

// Gateway opens the remote payment transaction for a checkout.
type Gateway interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (*payments.GatewayOrder, error)
	KeyID() string
}

// Store persists checkout state.
type Store interface {
	CreateOrders(ctx context.Context, orders []*domain.Order, clearCartUserID string) error
	DeleteOrders(ctx context.Context, orderIDs []string) error
	SetGatewayOrderID(ctx context.Context, orderIDs []string, gatewayOrderID string) error
	GetCoupon(ctx context.Context, code string) (*domain.Coupon, error)
	CountOrdersByUser(ctx context.Context, userID string) (int, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
}

type Service struct {
	repo        Store
	catalog     catalog.Catalog
	gateway     Gateway
	shippingFee int64
	currency    string
	appID       string
	logger      *slog.Logger
}

func NewService(repo Store, cat catalog.Catalog, gateway Gateway, shippingFee int64, currency, appID string, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		catalog:     cat,
		gateway:     gateway,
		shippingFee: shippingFee,
		currency:    currency,
		appID:       appID,
		logger:      logger,
	}
}

// PlaceOrder validates the checkout, groups its items into per-vendor
// buckets, prices each bucket, and persists one order per vendor. Totals
// are computed once here and never recomputed from mutable inputs.
func (s *Service) PlaceOrder(ctx context.Context, caller httpx.Identity, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		ids[i] = item.ID
	}
	products, err := s.catalog.ResolveProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("checkout: resolve products: %w", err)
	}
	for _, item := range req.Items {
		if _, ok := products[item.ID]; !ok {
			return nil, apperr.Newf(apperr.CodeNotFound, "unknown product %s", item.ID)
		}
	}

	coupon, err := s.resolveCoupon(ctx, caller, req.CouponCode)
	if err != nil {
		return nil, err
	}

	orders, grandTotal := s.buildOrders(caller, req, products, coupon)

	orderIDs := make([]string, len(orders))
	for i, o := range orders {
		orderIDs[i] = o.ID
	}

	// Cash-on-delivery finalizes immediately: orders persisted, cart
	// cleared, no gateway transaction.
	if !req.PaymentMethod.UsesGateway() {
		if err := s.repo.CreateOrders(ctx, orders, caller.UserID); err != nil {
			return nil, err
		}
		s.logger.Info("checkout placed",
			"user_id", caller.UserID,
			"order_count", len(orders),
			"grand_total", grandTotal,
			"payment_method", req.PaymentMethod)
		return &PlaceOrderResult{OrderIDs: orderIDs, GrandTotal: grandTotal}, nil
	}

	if err := s.repo.CreateOrders(ctx, orders, ""); err != nil {
		return nil, err
	}

	gatewayOrder, err := s.gateway.CreateOrder(ctx, grandTotal, s.currency, "rcpt_"+orders[0].ID, map[string]string{
		"orderIds": strings.Join(orderIDs, ","),
		"appId":    s.appID,
	})
	if err != nil {
		// The remote transaction never opened; remove the sub-orders so
		// the checkout fails as a whole.
		if delErr := s.repo.DeleteOrders(ctx, orderIDs); delErr != nil {
			s.logger.Error("failed to clean up orders after gateway failure", "error", delErr, "order_ids", orderIDs)
		}
		return nil, err
	}

	if err := s.repo.SetGatewayOrderID(ctx, orderIDs, gatewayOrder.ID); err != nil {
		return nil, err
	}

	s.logger.Info("checkout opened at gateway",
		"user_id", caller.UserID,
		"order_count", len(orders),
		"grand_total", grandTotal,
		"gateway_order_id", gatewayOrder.ID)

	return &PlaceOrderResult{
		OrderIDs:     orderIDs,
		GrandTotal:   grandTotal,
		GatewayOrder: gatewayOrder,
		GatewayKey:   s.gateway.KeyID(),
	}, nil
}

// ListOrders returns the caller's orders that are visible to them:
// cash-on-delivery, or gateway-paid and reconciled.
func (s *Service) ListOrders(ctx context.Context, caller httpx.Identity) ([]domain.Order, error) {
	return s.repo.ListByUser(ctx, caller.UserID)
}

func validateRequest(req PlaceOrderRequest) error {
	if req.AddressID == "" {
		return apperr.Validation("addressId is required")
	}
	if len(req.Items) == 0 {
		return apperr.Validation("items must not be empty")
	}
	for _, item := range req.Items {
		if item.ID == "" {
			return apperr.Validation("item id is required")
		}
		if item.Quantity <= 0 {
			return apperr.Newf(apperr.CodeValidation, "quantity for product %s must be positive", item.ID)
		}
	}
	switch req.PaymentMethod {
	case domain.PaymentMethodCOD, domain.PaymentMethodCard, domain.PaymentMethodUPI:
	default:
		return apperr.Validation("unsupported payment method")
	}
	return nil
}

func (s *Service) resolveCoupon(ctx context.Context, caller httpx.Identity, code string) (*domain.Coupon, error) {
	if code == "" {
		return nil, nil
	}

	coupon, err := s.repo.GetCoupon(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("checkout: resolve coupon: %w", err)
	}
	if coupon == nil {
		return nil, apperr.NotFound("unknown coupon code")
	}

	if coupon.ForNewUser {
		n, err := s.repo.CountOrdersByUser(ctx, caller.UserID)
		if err != nil {
			return nil, fmt.Errorf("checkout: count prior orders: %w", err)
		}
		if n > 0 {
			return nil, apperr.Conflict("coupon is valid for new users only")
		}
	}
	if coupon.ForMember && !caller.Member {
		return nil, apperr.Conflict("coupon is valid for members only")
	}
	return coupon, nil
}

// buildOrders groups items by vendor in first-seen order, prices each
// bucket, and applies the coupon to every bucket and the shipping fee to
// exactly the first one for non-members.
func (s *Service) buildOrders(caller httpx.Identity, req PlaceOrderRequest, products map[string]catalog.Product, coupon *domain.Coupon) ([]*domain.Order, int64) {
	bucketIndex := make(map[string]int)
	var buckets []*domain.Order
	now := time.Now().UTC()

	for _, item := range req.Items {
		p := products[item.ID]
		idx, ok := bucketIndex[p.VendorID]
		if !ok {
			idx = len(buckets)
			bucketIndex[p.VendorID] = idx
			buckets = append(buckets, &domain.Order{
				ID:            uuid.New().String(),
				UserID:        caller.UserID,
				VendorID:      p.VendorID,
				AddressID:     req.AddressID,
				PaymentMethod: req.PaymentMethod,
				Status:        domain.OrderStatusPlaced,
				CreatedAt:     now,
				UpdatedAt:     now,
			})
		}
		buckets[idx].Items = append(buckets[idx].Items, domain.OrderItem{
			ProductID: p.ID,
			Quantity:  item.Quantity,
			Price:     p.Price,
		})
	}

	var grandTotal int64
	for i, b := range buckets {
		var subtotal int64
		for _, item := range b.Items {
			subtotal += item.Price * int64(item.Quantity)
		}
		if coupon != nil {
			subtotal = coupon.Apply(subtotal)
		}
		if i == 0 && !caller.Member {
			subtotal += s.shippingFee
		}
		b.Total = subtotal
		grandTotal += subtotal
	}

	return buckets, grandTotal
}
