// Package postgres implements the store on pgx. Row locks are taken with
// SELECT ... FOR UPDATE in ascending product-id order; the lock wait is
// bounded by a per-transaction lock_timeout.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lojaops/backend-loja/internal/domain"
	"github.com/lojaops/backend-loja/internal/store"
)

// pgLockNotAvailable is the SQLSTATE Postgres raises when lock_timeout
// expires while waiting on a row lock.
const pgLockNotAvailable = "55P03"

type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func New(pool *pgxpool.Pool, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Store{pool: pool, lockTimeout: lockTimeout}
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable:
			return store.ErrLockTimeout
		case "23505":
			return store.ErrDuplicate
		}
	}
	return err
}

const productColumns = `id, barcode, name, quantity, weighted_avg_cost, sale_price,
	margin_percent, min_stock, backorder_allowed, active, created_at, updated_at`

func scanProduct(row pgx.Row) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Barcode, &p.Name, &p.Quantity, &p.WeightedAvgCost,
		&p.SalePrice, &p.MarginPercent, &p.MinStock, &p.BackorderAllowed,
		&p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Product{}, mapError(err)
	}
	return p, nil
}

func (s *Store) GetProduct(ctx context.Context, id uuid.UUID) (domain.Product, error) {
	return scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (domain.Product, error) {
	return scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE barcode = $1`, barcode))
}

func (s *Store) ListProducts(ctx context.Context, limit, offset int) ([]domain.Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		ORDER BY name
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return collectProducts(rows)
}

func collectProducts(rows pgx.Rows) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 32)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO products (id, barcode, name, quantity, weighted_avg_cost, sale_price,
			margin_percent, min_stock, backorder_allowed, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now(),now())
		RETURNING `+productColumns+`
	`, p.ID, p.Barcode, p.Name, p.Quantity, p.WeightedAvgCost, p.SalePrice,
		p.MarginPercent, p.MinStock, p.BackorderAllowed, p.Active)
	return scanProduct(row)
}

// UpdateProduct writes catalog fields only. Quantity and weighted average
// cost belong to the ledger and are never touched here.
func (s *Store) UpdateProduct(ctx context.Context, p domain.Product) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE products
		SET barcode = $2, name = $3, sale_price = $4, margin_percent = $5,
			min_stock = $6, backorder_allowed = $7, active = $8, updated_at = now()
		WHERE id = $1
	`, p.ID, p.Barcode, p.Name, p.SalePrice, p.MarginPercent, p.MinStock, p.BackorderAllowed, p.Active)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeactivateProduct(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE products SET active = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) LowStockProducts(ctx context.Context, ids []uuid.UUID) ([]domain.Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE active AND min_stock > 0 AND quantity < min_stock`
	args := []any{}
	if len(ids) > 0 {
		query += ` AND id = ANY($1)`
		args = append(args, ids)
	}
	query += ` ORDER BY name`
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return collectProducts(rows)
}

func (s *Store) ProductIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM products ORDER BY id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	ids := make([]uuid.UUID, 0, 64)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, mapError(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return ids, nil
}
