package domain

import "time"

type ReturnStatus string

const (
	ReturnStatusPending  ReturnStatus = "PENDING"
	ReturnStatusApproved ReturnStatus = "APPROVED"
	ReturnStatusRejected ReturnStatus = "REJECTED"
)

// ReturnRequest is a customer-initiated request for deliver-then-refund
// handling. A Refund may only be created once a request is APPROVED.
type ReturnRequest struct {
	ID        string       `json:"id"`
	OrderID   string       `json:"order_id"`
	Reason    string       `json:"reason"`
	Status    ReturnStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// Refund records a completed money-back for an order. At most one Refund
// exists per order, enforced by a unique constraint on OrderID.
type Refund struct {
	ID              string    `json:"id"`
	OrderID         string    `json:"order_id"`
	Amount          int64     `json:"amount"`
	Reason          string    `json:"reason,omitempty"`
	GatewayRefundID string    `json:"gateway_refund_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
