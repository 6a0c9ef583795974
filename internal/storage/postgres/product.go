package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/martok-store/internal/domain/product"
)

const (
	getProductsByIDsSQL = `SELECT id, name, image, price, discount_active, discount_percentage, discount_amount,
		stock, sold_count, active
		FROM products WHERE id = ANY($1)`

	adjustStockSQL = `UPDATE products SET stock = stock + $2, sold_count = GREATEST(sold_count + $3, 0)
		WHERE id = $1 AND stock + $2 >= 0`

	productExistsSQL = `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`

	upsertProductSQL = `INSERT INTO products (id, name, image, price, discount_active, discount_percentage,
		discount_amount, stock, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, image = EXCLUDED.image, price = EXCLUDED.price,
		discount_active = EXCLUDED.discount_active, discount_percentage = EXCLUDED.discount_percentage,
		discount_amount = EXCLUDED.discount_amount, stock = EXCLUDED.stock, active = EXCLUDED.active`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// AdjustStock applies the stock and sold count deltas in one conditional
// update. When no row matched it tells a missing product from a stock
// shortfall.
func (r *ProductRepository) AdjustStock(ctx context.Context, id string, deltaQty, deltaSold int) error {
	tag, err := r.pool.Exec(ctx, adjustStockSQL, id, deltaQty, deltaSold)
	if err != nil {
		return fmt.Errorf("adjusting stock of %q: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, productExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking product %q: %w", id, err)
	}
	if !exists {
		return product.ErrNotFound
	}
	return product.ErrInsufficientStock
}

// Upsert inserts or replaces catalog entries in one batch. Sold counts are
// kept.
func (r *ProductRepository) Upsert(ctx context.Context, products []product.Product) error {
	batch := &pgx.Batch{}
	for _, p := range products {
		batch.Queue(upsertProductSQL,
			p.ID, p.Name, p.Image, p.Price,
			p.Discount.Active, p.Discount.Percentage, p.Discount.Amount,
			p.Stock, p.Active,
		)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting products: %w", err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Image, &p.Price,
		&p.Discount.Active, &p.Discount.Percentage, &p.Discount.Amount,
		&p.Stock, &p.SoldCount, &p.Active,
	)
	return p, err
}
