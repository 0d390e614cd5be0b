// Package catalog exposes the minimal product facts the checkout needs:
// current price and owning vendor. Browsing, search, and product CRUD are
// external to this core.
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

type Product struct {
	ID       string
	Name     string
	Price    int64 // minor currency units
	VendorID string
}

// Catalog resolves products by id. Missing ids are simply absent from the
// result map; the caller decides whether that is an error.
type Catalog interface {
	ResolveProducts(ctx context.Context, ids []string) (map[string]Product, error)
}

type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) ResolveProducts(ctx context.Context, ids []string) (map[string]Product, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, price, vendor_id
		FROM products
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("catalog: resolve products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	products := make(map[string]Product, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.VendorID); err != nil {
			return nil, fmt.Errorf("catalog: scan product: %w", err)
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate products: %w", err)
	}

	return products, nil
}
