package domain

import "time"

// CartItem is a line in a user's cart.
type CartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Cart is a versioned snapshot of a user's cart. Clearing the cart bumps
// the version and empties the items in a single write.
type Cart struct {
	UserID    string     `json:"user_id"`
	Version   int64      `json:"version"`
	Items     []CartItem `json:"items"`
	UpdatedAt time.Time  `json:"updated_at"`
}
