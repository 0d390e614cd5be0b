package replacements

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/vendly/ordercore/internal/apperr"
	"github.com/vendly/ordercore/internal/domain"
	"github.com/vendly/ordercore/internal/storage"
)

type Repository struct {
	store *storage.Store
}

func NewRepository(store *storage.Store) *Repository {
	return &Repository{store: store}
}

// CreateReplacement locks the original order, verifies no open
// replacement exists, runs build under the lock, and persists the new
// order with the link row and the original's transition. The partial
// unique index on non-rejected replacements backs the check against
// concurrent writers.
func (r *Repository) CreateReplacement(ctx context.Context, originalOrderID string, build BuildFunc) (*domain.Replacement, error) {
	var replacement *domain.Replacement

	err := r.store.WithTx(ctx, "replacements.create", func(tx *sql.Tx) error {
		var o domain.Order
		err := tx.QueryRowContext(ctx, `
			SELECT id, user_id, vendor_id, address_id, total, payment_method, paid, status
			FROM orders
			WHERE id = $1
			FOR UPDATE
		`, originalOrderID).Scan(&o.ID, &o.UserID, &o.VendorID, &o.AddressID, &o.Total,
			&o.PaymentMethod, &o.Paid, &o.Status)
		if err != nil {
			if err == sql.ErrNoRows {
				return apperr.NotFound("order not found")
			}
			return fmt.Errorf("replacements: load order: %w", err)
		}

		itemRows, err := tx.QueryContext(ctx, `
			SELECT product_id, quantity, price FROM order_items WHERE order_id = $1
		`, originalOrderID)
		if err != nil {
			return fmt.Errorf("replacements: load order items: %w", err)
		}
		defer func() { _ = itemRows.Close() }()
		for itemRows.Next() {
			var item domain.OrderItem
			if err := itemRows.Scan(&item.ProductID, &item.Quantity, &item.Price); err != nil {
				return fmt.Errorf("replacements: scan order item: %w", err)
			}
			o.Items = append(o.Items, item)
		}
		if err := itemRows.Err(); err != nil {
			return fmt.Errorf("replacements: iterate order items: %w", err)
		}

		var open bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM replacements
				WHERE original_order_id = $1 AND status != $2
			)
		`, originalOrderID, domain.ReplacementStatusRejected).Scan(&open); err != nil {
			return fmt.Errorf("replacements: check open replacement: %w", err)
		}
		if open {
			return apperr.Conflict("a replacement is already open for this order")
		}

		order, link, err := build(ctx, &o)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO orders (id, user_id, vendor_id, address_id, total, payment_method,
			                    paid, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, order.ID, order.UserID, order.VendorID, order.AddressID, order.Total,
			order.PaymentMethod, order.Paid, order.Status, order.CreatedAt, order.UpdatedAt)
		if err != nil {
			return fmt.Errorf("replacements: insert replacement order: %w", err)
		}
		for _, item := range order.Items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (order_id, product_id, quantity, price)
				VALUES ($1, $2, $3, $4)
			`, order.ID, item.ProductID, item.Quantity, item.Price)
			if err != nil {
				return fmt.Errorf("replacements: insert replacement item: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO replacements (id, original_order_id, replacement_order_id, reason,
			                          description, images, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, link.ID, link.OriginalOrderID, link.ReplacementOrderID, link.Reason,
			link.Description, pq.Array(link.Images), link.Status, link.CreatedAt)
		if err != nil {
			if storage.IsUniqueViolation(err) {
				return apperr.Conflict("a replacement is already open for this order")
			}
			return fmt.Errorf("replacements: insert replacement: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1
		`, originalOrderID, domain.OrderStatusReplacementRequested); err != nil {
			return fmt.Errorf("replacements: mark original order: %w", err)
		}

		replacement = link
		return nil
	})
	if err != nil {
		return nil, err
	}
	return replacement, nil
}
