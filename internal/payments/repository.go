package payments

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/vendly/ordercore/internal/cart"
	"github.com/vendly/ordercore/internal/domain"
	"github.com/vendly/ordercore/internal/storage"
)

// Repository applies payment reconciliation outcomes. Every mutation that
// spans the sub-orders of a checkout runs in one transaction: the webhook
// and the verification endpoint race by design, and the database's
// isolation is the source of mutual exclusion between them.
type Repository struct {
	store *storage.Store
}

func NewRepository(store *storage.Store) *Repository {
	return &Repository{store: store}
}

// SettlePayment marks every referenced order paid with the gateway's
// payment id and signature, moves them to PROCESSING, and clears the
// purchasing users' carts, all in one transaction. Re-applying the same
// settlement is a no-op update, which makes webhook redelivery and the
// webhook/verify race safe. Returns the distinct owning user ids.
func (r *Repository) SettlePayment(ctx context.Context, orderIDs []string, paymentID, signature string) ([]string, error) {
	var userIDs []string

	err := r.store.WithTx(ctx, "payments.settle", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET paid = TRUE,
			    status = $2,
			    gateway_payment_id = $3,
			    gateway_signature = $4,
			    updated_at = NOW()
			WHERE id = ANY($1)
		`, pq.Array(orderIDs), domain.OrderStatusProcessing, paymentID, signature)
		if err != nil {
			return fmt.Errorf("payments: mark orders paid: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT DISTINCT user_id FROM orders WHERE id = ANY($1)
		`, pq.Array(orderIDs))
		if err != nil {
			return fmt.Errorf("payments: load order owners: %w", err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var userID string
			if err := rows.Scan(&userID); err != nil {
				return fmt.Errorf("payments: scan order owner: %w", err)
			}
			userIDs = append(userIDs, userID)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("payments: iterate order owners: %w", err)
		}

		for _, userID := range userIDs {
			if err := cart.Clear(ctx, tx, userID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return userIDs, nil
}

// DeleteOrders removes every referenced order and its items. Orders
// already gone are skipped, so redelivered payment.failed events never
// error.
func (r *Repository) DeleteOrders(ctx context.Context, orderIDs []string) error {
	return r.store.WithTx(ctx, "payments.delete_failed", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM order_items WHERE order_id = ANY($1)
		`, pq.Array(orderIDs)); err != nil {
			return fmt.Errorf("payments: delete order items: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM orders WHERE id = ANY($1)
		`, pq.Array(orderIDs)); err != nil {
			return fmt.Errorf("payments: delete orders: %w", err)
		}
		return nil
	})
}

// GetByGatewayOrderID loads the caller's orders correlated to one gateway
// transaction, items included. The userID scope is the ownership check:
// a caller can only ever see (and verify) their own orders.
func (r *Repository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID, userID string) ([]domain.Order, error) {
	rows, err := r.store.DB.QueryContext(ctx, `
		SELECT id, user_id, vendor_id, address_id, total, payment_method, paid,
		       status, gateway_order_id, gateway_payment_id, created_at, updated_at
		FROM orders
		WHERE gateway_order_id = $1 AND user_id = $2
		ORDER BY created_at
	`, gatewayOrderID, userID)
	if err != nil {
		return nil, fmt.Errorf("payments: query orders by gateway order id: %w", err)
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		var o domain.Order
		var gwPaymentID sql.NullString
		if err := rows.Scan(&o.ID, &o.UserID, &o.VendorID, &o.AddressID, &o.Total,
			&o.PaymentMethod, &o.Paid, &o.Status, &o.GatewayOrderID, &gwPaymentID,
			&o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("payments: scan order: %w", err)
		}
		o.GatewayPaymentID = gwPaymentID.String
		o.Items = []domain.OrderItem{}
		orderMap[o.ID] = &o
		orderIDs = append(orderIDs, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payments: iterate orders: %w", err)
	}

	if len(orderIDs) == 0 {
		return nil, nil
	}

	itemRows, err := r.store.DB.QueryContext(ctx, `
		SELECT order_id, product_id, quantity, price
		FROM order_items
		WHERE order_id = ANY($1)
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("payments: query order items: %w", err)
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.Quantity, &item.Price); err != nil {
			return nil, fmt.Errorf("payments: scan order item: %w", err)
		}
		orderMap[orderID].Items = append(orderMap[orderID].Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("payments: iterate order items: %w", err)
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}
	return orders, nil
}
