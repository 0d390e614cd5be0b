package domain

// Coupon applies a percentage discount to every vendor sub-order of a
// checkout, at most once per checkout.
type Coupon struct {
	Code       string `json:"code"`
	Discount   int    `json:"discount"` // percent, 0-100
	ForNewUser bool   `json:"for_new_user"`
	ForMember  bool   `json:"for_member"`
}

// Apply returns the subtotal after the coupon's discount.
func (c *Coupon) Apply(subtotal int64) int64 {
	return subtotal - subtotal*int64(c.Discount)/100
}
