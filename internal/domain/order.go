package domain

import "time"

type OrderStatus string

const (
	OrderStatusPlaced               OrderStatus = "ORDER_PLACED"
	OrderStatusProcessing           OrderStatus = "PROCESSING"
	OrderStatusDelivered            OrderStatus = "DELIVERED"
	OrderStatusReplacementRequested OrderStatus = "REPLACEMENT_REQUESTED"
	OrderStatusRefunded             OrderStatus = "REFUNDED"
)

type PaymentMethod string

const (
	PaymentMethodCOD  PaymentMethod = "cod"
	PaymentMethodCard PaymentMethod = "card"
	PaymentMethodUPI  PaymentMethod = "upi"
)

// UsesGateway reports whether the method settles through the payment
// gateway. Cash-on-delivery orders are finalized at checkout with no
// remote transaction.
func (m PaymentMethod) UsesGateway() bool {
	return m != PaymentMethodCOD
}

// OrderItem is an immutable snapshot of a product at order time. Price is
// the unit price in minor currency units; later catalog changes never
// alter placed orders.
type OrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

// Order is one vendor's share of a checkout. A multi-vendor checkout
// produces one Order per vendor, all correlated by GatewayOrderID.
type Order struct {
	ID               string        `json:"id"`
	UserID           string        `json:"user_id"`
	VendorID         string        `json:"vendor_id"`
	AddressID        string        `json:"address_id"`
	Items            []OrderItem   `json:"items"`
	Total            int64         `json:"total"`
	PaymentMethod    PaymentMethod `json:"payment_method"`
	Paid             bool          `json:"paid"`
	Status           OrderStatus   `json:"status"`
	GatewayOrderID   string        `json:"gateway_order_id,omitempty"`
	GatewayPaymentID string        `json:"gateway_payment_id,omitempty"`
	GatewaySignature string        `json:"-"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// HasProduct reports whether the order contains the given product id.
func (o *Order) HasProduct(productID string) bool {
	for _, item := range o.Items {
		if item.ProductID == productID {
			return true
		}
	}
	return false
}

// UnitPrice returns the stored unit price for a product in this order, or
// false if the product is not part of the order.
func (o *Order) UnitPrice(productID string) (int64, bool) {
	for _, item := range o.Items {
		if item.ProductID == productID {
			return item.Price, true
		}
	}
	return 0, false
}
