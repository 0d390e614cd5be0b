package domain

import "time"

type ReplacementStatus string

const (
	ReplacementStatusRequested ReplacementStatus = "REQUESTED"
	ReplacementStatusApproved  ReplacementStatus = "APPROVED"
	ReplacementStatusRejected  ReplacementStatus = "REJECTED"
)

// Replacement links a delivered order to the derived order created to
// resend a subset of its items. At most one non-rejected Replacement
// exists per original order.
type Replacement struct {
	ID                 string            `json:"id"`
	OriginalOrderID    string            `json:"original_order_id"`
	ReplacementOrderID string            `json:"replacement_order_id"`
	Reason             string            `json:"reason"`
	Description        string            `json:"description,omitempty"`
	Images             []string          `json:"images,omitempty"`
	Status             ReplacementStatus `json:"status"`
	CreatedAt          time.Time         `json:"created_at"`
}
