package cart

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/vendly/ordercore/internal/domain"
)

// Repository stores versioned cart snapshots. Every write bumps the
// version so concurrent readers can detect a stale snapshot.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	c := &domain.Cart{UserID: userID}
	var raw []byte

	err := r.db.QueryRowContext(ctx, `
		SELECT version, items, updated_at
		FROM carts
		WHERE user_id = $1
	`, userID).Scan(&c.Version, &raw, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			c.Items = []domain.CartItem{}
			return c, nil
		}
		return nil, fmt.Errorf("cart: get for user %s: %w", userID, err)
	}

	if err := json.Unmarshal(raw, &c.Items); err != nil {
		return nil, fmt.Errorf("cart: decode items for user %s: %w", userID, err)
	}
	return c, nil
}

func (r *Repository) SetItems(ctx context.Context, userID string, items []domain.CartItem) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("cart: encode items: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO carts (user_id, version, items, updated_at)
		VALUES ($1, 1, $2, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET items = $2, version = carts.version + 1, updated_at = NOW()
	`, userID, raw)
	if err != nil {
		return fmt.Errorf("cart: set items for user %s: %w", userID, err)
	}
	return nil
}

// Clear empties the user's cart inside the caller's transaction. It is a
// single typed write: no row means nothing to clear.
func Clear(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE carts
		SET items = '[]'::jsonb, version = version + 1, updated_at = NOW()
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("cart: clear for user %s: %w", userID, err)
	}
	return nil
}
