package domain

import "time"

// OrderPaidEvent is published after a payment is reconciled and every
// sub-order of the checkout is marked paid.
type OrderPaidEvent struct {
	GatewayOrderID   string    `json:"gateway_order_id"`
	GatewayPaymentID string    `json:"gateway_payment_id"`
	OrderIDs         []string  `json:"order_ids"`
	UserID           string    `json:"user_id"`
	Timestamp        time.Time `json:"timestamp"`
}

// OrderPaymentFailedEvent is published after a failed payment removes the
// checkout's sub-orders.
type OrderPaymentFailedEvent struct {
	GatewayOrderID string    `json:"gateway_order_id"`
	OrderIDs       []string  `json:"order_ids"`
	Timestamp      time.Time `json:"timestamp"`
}

// OrderRefundedEvent is published after a refund settles and the order
// transitions to REFUNDED.
type OrderRefundedEvent struct {
	OrderID   string    `json:"order_id"`
	RefundID  string    `json:"refund_id"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// ReplacementRequestedEvent is published after a replacement order is
// created for a delivered order.
type ReplacementRequestedEvent struct {
	OriginalOrderID    string    `json:"original_order_id"`
	ReplacementOrderID string    `json:"replacement_order_id"`
	Timestamp          time.Time `json:"timestamp"`
}
