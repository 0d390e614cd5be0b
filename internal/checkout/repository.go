package checkout

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/vendly/ordercore/internal/cart"
	"github.com/vendly/ordercore/internal/domain"
	"github.com/vendly/ordercore/internal/storage"
)

type Repository struct {
	store *storage.Store
}

func NewRepository(store *storage.Store) *Repository {
	return &Repository{store: store}
}

// CreateOrders persists every sub-order of a checkout, items included, in
// one transaction. For cash-on-delivery checkouts clearCartUserID is set
// and the cart clear joins the same atomic unit.
func (r *Repository) CreateOrders(ctx context.Context, orders []*domain.Order, clearCartUserID string) error {
	return r.store.WithTx(ctx, "checkout.create_orders", func(tx *sql.Tx) error {
		for _, o := range orders {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO orders (id, user_id, vendor_id, address_id, total, payment_method,
				                    paid, status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			`, o.ID, o.UserID, o.VendorID, o.AddressID, o.Total, o.PaymentMethod,
				o.Paid, o.Status, o.CreatedAt, o.UpdatedAt)
			if err != nil {
				return fmt.Errorf("checkout: insert order: %w", err)
			}

			for _, item := range o.Items {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO order_items (order_id, product_id, quantity, price)
					VALUES ($1, $2, $3, $4)
				`, o.ID, item.ProductID, item.Quantity, item.Price)
				if err != nil {
					return fmt.Errorf("checkout: insert order item for order %s: %w", o.ID, err)
				}
			}
		}

		if clearCartUserID != "" {
			return cart.Clear(ctx, tx, clearCartUserID)
		}
		return nil
	})
}

// DeleteOrders removes sub-orders created for a checkout whose gateway
// transaction never opened.
func (r *Repository) DeleteOrders(ctx context.Context, orderIDs []string) error {
	return r.store.WithTx(ctx, "checkout.delete_orders", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM order_items WHERE order_id = ANY($1)
		`, pq.Array(orderIDs)); err != nil {
			return fmt.Errorf("checkout: delete order items: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM orders WHERE id = ANY($1)
		`, pq.Array(orderIDs)); err != nil {
			return fmt.Errorf("checkout: delete orders: %w", err)
		}
		return nil
	})
}

// SetGatewayOrderID writes the gateway's correlation id onto every
// sub-order of the checkout.
func (r *Repository) SetGatewayOrderID(ctx context.Context, orderIDs []string, gatewayOrderID string) error {
	_, err := r.store.DB.ExecContext(ctx, `
		UPDATE orders SET gateway_order_id = $2, updated_at = NOW()
		WHERE id = ANY($1)
	`, pq.Array(orderIDs), gatewayOrderID)
	if err != nil {
		return fmt.Errorf("checkout: set gateway order id: %w", err)
	}
	return nil
}

func (r *Repository) GetCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	var c domain.Coupon
	err := r.store.DB.QueryRowContext(ctx, `
		SELECT code, discount, for_new_user, for_member
		FROM coupons
		WHERE code = $1
	`, code).Scan(&c.Code, &c.Discount, &c.ForNewUser, &c.ForMember)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("checkout: get coupon: %w", err)
	}
	return &c, nil
}

func (r *Repository) CountOrdersByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.store.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders WHERE user_id = $1
	`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("checkout: count orders: %w", err)
	}
	return n, nil
}

// ListByUser returns the caller's visible orders: cash-on-delivery, or
// gateway-paid and reconciled. Unreconciled gateway orders stay hidden.
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	rows, err := r.store.DB.QueryContext(ctx, `
		SELECT id, user_id, vendor_id, address_id, total, payment_method, paid,
		       status, COALESCE(gateway_order_id, ''), COALESCE(gateway_payment_id, ''),
		       created_at, updated_at
		FROM orders
		WHERE user_id = $1 AND (payment_method = 'cod' OR paid = TRUE)
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("checkout: query orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.VendorID, &o.AddressID, &o.Total,
			&o.PaymentMethod, &o.Paid, &o.Status, &o.GatewayOrderID, &o.GatewayPaymentID,
			&o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("checkout: scan order: %w", err)
		}
		o.Items = []domain.OrderItem{}
		orderMap[o.ID] = &o
		orderIDs = append(orderIDs, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("checkout: iterate orders: %w", err)
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.store.DB.QueryContext(ctx, `
		SELECT order_id, product_id, quantity, price
		FROM order_items
		WHERE order_id = ANY($1)
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("checkout: query order items: %w", err)
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.Quantity, &item.Price); err != nil {
			return nil, fmt.Errorf("checkout: scan order item: %w", err)
		}
		orderMap[orderID].Items = append(orderMap[orderID].Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("checkout: iterate order items: %w", err)
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}
	return orders, nil
}
