package checkout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/vendly/ordercore/internal/apperr"
	"github.com/vendly/ordercore/internal/catalog"
	"github.com/vendly/ordercore/internal/domain"
	"github.com/vendly/ordercore/internal/httpx"
	"github.com/vendly/ordercore/internal/payments"
)

type fakeStore struct {
	created     []*domain.Order
	clearedCart string
	deleted     []string
	gatewaySet  map[string]string
	coupons     map[string]*domain.Coupon
	priorOrders int
}

func (f *fakeStore) CreateOrders(_ context.Context, orders []*domain.Order, clearCartUserID string) error {
	f.created = append(f.created, orders...)
	if clearCartUserID != "" {
		f.clearedCart = clearCartUserID
	}
	return nil
}

func (f *fakeStore) DeleteOrders(_ context.Context, orderIDs []string) error {
	f.deleted = append(f.deleted, orderIDs...)
	return nil
}

func (f *fakeStore) SetGatewayOrderID(_ context.Context, orderIDs []string, gatewayOrderID string) error {
	if f.gatewaySet == nil {
		f.gatewaySet = make(map[string]string)
	}
	for _, id := range orderIDs {
		f.gatewaySet[id] = gatewayOrderID
	}
	return nil
}

func (f *fakeStore) GetCoupon(_ context.Context, code string) (*domain.Coupon, error) {
	return f.coupons[code], nil
}

func (f *fakeStore) CountOrdersByUser(context.Context, string) (int, error) {
	return f.priorOrders, nil
}

func (f *fakeStore) ListByUser(context.Context, string) ([]domain.Order, error) {
	return nil, nil
}

type fakeCatalog struct {
	products map[string]catalog.Product
}

func (f *fakeCatalog) ResolveProducts(_ context.Context, ids []string) (map[string]catalog.Product, error) {
	out := make(map[string]catalog.Product)
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type fakeGateway struct {
	lastAmount int64
	lastNotes  map[string]string
	err        error
}

func (f *fakeGateway) CreateOrder(_ context.Context, amount int64, currency, receipt string, notes map[string]string) (*payments.GatewayOrder, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastAmount = amount
	f.lastNotes = notes
	return &payments.GatewayOrder{ID: "order_gw1", Amount: amount, Currency: currency, Receipt: receipt, Status: "created"}, nil
}

func (f *fakeGateway) KeyID() string { return "key_test" }

const shippingFee = 4000

func newTestService(store *fakeStore, gateway Gateway) *Service {
	products := map[string]catalog.Product{
		"p1": {ID: "p1", Name: "widget", Price: 10000, VendorID: "vendor-a"},
		"p2": {ID: "p2", Name: "gadget", Price: 2500, VendorID: "vendor-a"},
		"p3": {ID: "p3", Name: "gizmo", Price: 7000, VendorID: "vendor-b"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, &fakeCatalog{products: products}, gateway, shippingFee, "INR", "app-1", logger)
}

func customer(member bool) httpx.Identity {
	return httpx.Identity{UserID: "user-1", Role: httpx.RoleCustomer, Member: member}
}

func TestPlaceOrder_Splitting(t *testing.T) {
	t.Run("two vendors produce two orders and the fee lands once", func(t *testing.T) {
		store := &fakeStore{}
		gateway := &fakeGateway{}
		svc := newTestService(store, gateway)

		result, err := svc.PlaceOrder(context.Background(), customer(false), PlaceOrderRequest{
			AddressID:     "addr-1",
			Items:         []ItemRequest{{ID: "p1", Quantity: 2}, {ID: "p3", Quantity: 1}},
			PaymentMethod: domain.PaymentMethodCard,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(store.created) != 2 {
			t.Fatalf("expected 2 orders, got %d", len(store.created))
		}

		subtotalA := int64(2 * 10000)
		subtotalB := int64(7000)
		wantGrand := subtotalA + subtotalB + shippingFee
		if result.GrandTotal != wantGrand {
			t.Errorf("expected grand total %d, got %d", wantGrand, result.GrandTotal)
		}
		if gateway.lastAmount != wantGrand {
			t.Errorf("gateway amount %d does not match grand total %d", gateway.lastAmount, wantGrand)
		}

		var sum int64
		feeOrders := 0
		for _, o := range store.created {
			sum += o.Total
			switch o.VendorID {
			case "vendor-a":
				if o.Total != subtotalA+shippingFee {
					t.Errorf("first vendor bucket should carry the shipping fee, got %d", o.Total)
				}
				feeOrders++
			case "vendor-b":
				if o.Total != subtotalB {
					t.Errorf("second vendor bucket must not carry the fee, got %d", o.Total)
				}
			}
		}
		if sum != result.GrandTotal {
			t.Errorf("sum of order totals %d != grand total %d", sum, result.GrandTotal)
		}
		if feeOrders != 1 {
			t.Errorf("shipping fee applied to %d orders, want exactly 1", feeOrders)
		}
	})

	t.Run("members pay no shipping fee", func(t *testing.T) {
		store := &fakeStore{}
		svc := newTestService(store, &fakeGateway{})

		result, err := svc.PlaceOrder(context.Background(), customer(true), PlaceOrderRequest{
			AddressID:     "addr-1",
			Items:         []ItemRequest{{ID: "p1", Quantity: 1}},
			PaymentMethod: domain.PaymentMethodCard,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.GrandTotal != 10000 {
			t.Errorf("expected 10000, got %d", result.GrandTotal)
		}
	})

	t.Run("same-vendor items share one bucket", func(t *testing.T) {
		store := &fakeStore{}
		svc := newTestService(store, &fakeGateway{})

		_, err := svc.PlaceOrder(context.Background(), customer(true), PlaceOrderRequest{
			AddressID:     "addr-1",
			Items:         []ItemRequest{{ID: "p1", Quantity: 1}, {ID: "p2", Quantity: 3}},
			PaymentMethod: domain.PaymentMethodCard,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(store.created) != 1 {
			t.Fatalf("expected one order for one vendor, got %d", len(store.created))
		}
		if got := store.created[0].Total; got != 10000+3*2500 {
			t.Errorf("unexpected bucket total %d", got)
		}
		if len(store.created[0].Items) != 2 {
			t.Errorf("expected 2 item snapshots, got %d", len(store.created[0].Items))
		}
	})
}

func TestPlaceOrder_Coupons(t *testing.T) {
	coupons := map[string]*domain.Coupon{
		"WELCOME10": {Code: "WELCOME10", Discount: 10, ForNewUser: true},
		"MEMBER20":  {Code: "MEMBER20", Discount: 20, ForMember: true},
	}

	t.Run("discount applies to every vendor bucket", func(t *testing.T) {
		store := &fakeStore{coupons: coupons}
		svc := newTestService(store, &fakeGateway{})

		result, err := svc.PlaceOrder(context.Background(), customer(true), PlaceOrderRequest{
			AddressID:     "addr-1",
			Items:         []ItemRequest{{ID: "p1", Quantity: 1}, {ID: "p3", Quantity: 1}},
			CouponCode:    "WELCOME10",
			PaymentMethod: domain.PaymentMethodCard,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		wantA := int64(10000 - 10000*10/100)
		wantB := int64(7000 - 7000*10/100)
		if result.GrandTotal != wantA+wantB {
			t.Errorf("expected %d, got %d", wantA+wantB, result.GrandTotal)
		}
	})

	t.Run("new-user coupon rejected when prior orders exist", func(t *testing.T) {
		store := &fakeStore{coupons: coupons, priorOrders: 3}
		svc := newTestService(store, &fakeGateway{})

		_, err := svc.PlaceOrder(context.Background(), customer(true), PlaceOrderRequest{
			AddressID:     "addr-1",
			Items:         []ItemRequest{{ID: "p1", Quantity: 1}},
			CouponCode:    "WELCOME10",
			PaymentMethod: domain.PaymentMethodCard,
		})
		if apperr.CodeOf(err) != apperr.CodeConflict {
			t.Errorf("expected conflict, got %v", err)
		}
		if len(store.created) != 0 {
			t.Error("no rows may be written before coupon rejection")
		}
	})

	t.Run("member coupon rejected for non-members", func(t *testing.T) {
		store := &fakeStore{coupons: coupons}
		svc := newTestService(store, &fakeGateway{})

		_, err := svc.PlaceOrder(context.Background(), customer(false), PlaceOrderRequest{
			AddressID:     "addr-1",
			Items:         []ItemRequest{{ID: "p1", Quantity: 1}},
			CouponCode:    "MEMBER20",
			PaymentMethod: domain.PaymentMethodCard,
		})
		if apperr.CodeOf(err) != apperr.CodeConflict {
			t.Errorf("expected conflict, got %v", err)
		}
	})

	t.Run("unknown coupon is not found", func(t *testing.T) {
		store := &fakeStore{coupons: coupons}
		svc := newTestService(store, &fakeGateway{})

		_, err := svc.PlaceOrder(context.Background(), customer(true), PlaceOrderRequest{
			AddressID:     "addr-1",
			Items:         []ItemRequest{{ID: "p1", Quantity: 1}},
			CouponCode:    "NOPE",
			PaymentMethod: domain.PaymentMethodCard,
		})
		if apperr.CodeOf(err) != apperr.CodeNotFound {
			t.Errorf("expected not_found, got %v", err)
		}
	})
}

func TestPlaceOrder_Validation(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeGateway{})
	caller := customer(true)

	tests := []struct {
		name string
		req  PlaceOrderRequest
		code apperr.Code
	}{
		{"empty items", PlaceOrderRequest{AddressID: "a", PaymentMethod: domain.PaymentMethodCard}, apperr.CodeValidation},
		{"zero quantity", PlaceOrderRequest{AddressID: "a", Items: []ItemRequest{{ID: "p1", Quantity: 0}}, PaymentMethod: domain.PaymentMethodCard}, apperr.CodeValidation},
		{"negative quantity", PlaceOrderRequest{AddressID: "a", Items: []ItemRequest{{ID: "p1", Quantity: -2}}, PaymentMethod: domain.PaymentMethodCard}, apperr.CodeValidation},
		{"missing address", PlaceOrderRequest{Items: []ItemRequest{{ID: "p1", Quantity: 1}}, PaymentMethod: domain.PaymentMethodCard}, apperr.CodeValidation},
		{"bad payment method", PlaceOrderRequest{AddressID: "a", Items: []ItemRequest{{ID: "p1", Quantity: 1}}, PaymentMethod: "barter"}, apperr.CodeValidation},
		{"unknown product", PlaceOrderRequest{AddressID: "a", Items: []ItemRequest{{ID: "p404", Quantity: 1}}, PaymentMethod: domain.PaymentMethodCard}, apperr.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.PlaceOrder(context.Background(), caller, tt.req)
			if apperr.CodeOf(err) != tt.code {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestPlaceOrder_PaymentPaths(t *testing.T) {
	t.Run("cash on delivery finalizes immediately and clears the cart", func(t *testing.T) {
		store := &fakeStore{}
		gateway := &fakeGateway{err: errors.New("gateway must not be called")}
		svc := newTestService(store, gateway)

		result, err := svc.PlaceOrder(context.Background(), customer(false), PlaceOrderRequest{
			AddressID:     "addr-1",
			Items:         []ItemRequest{{ID: "p1", Quantity: 1}},
			PaymentMethod: domain.PaymentMethodCOD,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.GatewayOrder != nil {
			t.Error("cod checkout must not open a gateway transaction")
		}
		if store.clearedCart != "user-1" {
			t.Errorf("expected cart cleared for user-1, got %q", store.clearedCart)
		}
	})

	t.Run("gateway checkout correlates every sub-order", func(t *testing.T) {
		store := &fakeStore{}
		gateway := &fakeGateway{}
		svc := newTestService(store, gateway)

		result, err := svc.PlaceOrder(context.Background(), customer(false), PlaceOrderRequest{
			AddressID:     "addr-1",
			Items:         []ItemRequest{{ID: "p1", Quantity: 1}, {ID: "p3", Quantity: 1}},
			PaymentMethod: domain.PaymentMethodUPI,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.GatewayOrder == nil || result.GatewayKey != "key_test" {
			t.Fatal("expected gateway handle and key")
		}
		if store.clearedCart != "" {
			t.Error("gateway checkout must not clear the cart before reconciliation")
		}
		for _, id := range result.OrderIDs {
			if store.gatewaySet[id] != "order_gw1" {
				t.Errorf("order %s missing gateway correlation id", id)
			}
		}
		if gateway.lastNotes["appId"] != "app-1" {
			t.Errorf("gateway notes missing app id: %v", gateway.lastNotes)
		}
	})

	t.Run("gateway failure removes the created orders", func(t *testing.T) {
		store := &fakeStore{}
		gateway := &fakeGateway{err: apperr.Wrap(apperr.CodeGatewayUpstream, "payment gateway unavailable", errors.New("timeout"))}
		svc := newTestService(store, gateway)

		_, err := svc.PlaceOrder(context.Background(), customer(false), PlaceOrderRequest{
			AddressID:     "addr-1",
			Items:         []ItemRequest{{ID: "p1", Quantity: 1}, {ID: "p3", Quantity: 1}},
			PaymentMethod: domain.PaymentMethodCard,
		})
		if apperr.CodeOf(err) != apperr.CodeGatewayUpstream {
			t.Fatalf("expected gateway_upstream, got %v", err)
		}
		if len(store.deleted) != 2 {
			t.Errorf("expected both sub-orders deleted, got %v", store.deleted)
		}
	})
}
