package purchases

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists purchase mirror rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new purchases repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertPurchase writes one purchase mirror row.
func (r *Repository) InsertPurchase(ctx context.Context, p *Purchase) error {
	productsData, err := json.Marshal(p.Products)
	if err != nil {
		return fmt.Errorf("marshal products: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO purchases (purchase_id, deal_id, title, status, products_count, total_amount, products_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.PurchaseID, p.DealID, p.Title, p.Status, p.ProductsCount, p.TotalAmount, productsData)
	if err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}
