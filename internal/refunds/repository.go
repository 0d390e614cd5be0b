package refunds

import (
	"context"
	"database/sql"
	"fmt"

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

// CreateRefund locks the order row, verifies the refund preconditions,
// runs settle under the lock, and persists the refund together with the
// order's REFUNDED transition. The unique constraint on refunds.order_id
// backs the at-most-one check against concurrent writers.
func (r *Repository) CreateRefund(ctx context.Context, orderID string, settle SettleFunc) (*domain.Refund, error) {
	var refund *domain.Refund

	err := r.store.WithTx(ctx, "refunds.create", func(tx *sql.Tx) error {
		var o domain.Order
		err := tx.QueryRowContext(ctx, `
			SELECT id, user_id, vendor_id, total, payment_method, paid, status,
			       COALESCE(gateway_payment_id, '')
			FROM orders
			WHERE id = $1
			FOR UPDATE
		`, orderID).Scan(&o.ID, &o.UserID, &o.VendorID, &o.Total, &o.PaymentMethod,
			&o.Paid, &o.Status, &o.GatewayPaymentID)
		if err != nil {
			if err == sql.ErrNoRows {
				return apperr.NotFound("order not found")
			}
			return fmt.Errorf("refunds: load order: %w", err)
		}

		var refunded bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM refunds WHERE order_id = $1)
		`, orderID).Scan(&refunded); err != nil {
			return fmt.Errorf("refunds: check existing refund: %w", err)
		}
		if refunded {
			return apperr.Conflict("order is already refunded")
		}

		var approved bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM return_requests WHERE order_id = $1 AND status = $2)
		`, orderID, domain.ReturnStatusApproved).Scan(&approved); err != nil {
			return fmt.Errorf("refunds: check return request: %w", err)
		}
		if !approved {
			return apperr.Conflict("order has no approved return request")
		}

		refund, err = settle(ctx, &o)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO refunds (id, order_id, amount, reason, gateway_refund_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, refund.ID, refund.OrderID, refund.Amount, refund.Reason, refund.GatewayRefundID, refund.CreatedAt)
		if err != nil {
			if storage.IsUniqueViolation(err) {
				return apperr.Conflict("order is already refunded")
			}
			return fmt.Errorf("refunds: insert refund: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1
		`, orderID, domain.OrderStatusRefunded); err != nil {
			return fmt.Errorf("refunds: mark order refunded: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return refund, nil
}
