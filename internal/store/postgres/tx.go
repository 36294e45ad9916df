package postgres

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/lojaops/backend-loja/internal/domain"
	"github.com/lojaops/backend-loja/internal/store"
)

// WithinTx runs fn inside one database transaction with the configured
// lock_timeout. Any error from fn rolls everything back; lock-wait expiry
// surfaces as store.ErrLockTimeout.
func (s *Store) WithinTx(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapError(err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return mapError(err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit(ctx))
}

type pgTx struct {
	tx pgx.Tx
}

// LockProducts acquires the row locks one by one, strictly in ascending id
// order. The explicit loop keeps the acquisition order independent of the
// planner; this ordering is what prevents cross-cart deadlocks.
func (t *pgTx) LockProducts(ctx context.Context, ids []uuid.UUID) ([]domain.Product, error) {
	sorted := append([]uuid.UUID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})
	products := make([]domain.Product, 0, len(sorted))
	for _, id := range sorted {
		p, err := scanProduct(t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}

func (t *pgTx) UpdateProductStock(ctx context.Context, id uuid.UUID, quantity, weightedAvgCost decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE products SET quantity = $2, weighted_avg_cost = $3, updated_at = now() WHERE id = $1
	`, id, quantity, weightedAvgCost)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO sale_transactions (id, code, employee_id, customer_id, status,
			subtotal, discount_total, total, payment_method, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, sale.ID, sale.Code, sale.EmployeeID, sale.CustomerID, sale.Status,
		sale.Subtotal, sale.DiscountTotal, sale.Total, sale.PaymentMethod, sale.CreatedAt)
	return mapError(err)
}

func (t *pgTx) InsertSaleLine(ctx context.Context, line domain.SaleLine) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO sale_line_items (id, sale_id, product_id, quantity, unit_price,
			discount_percent, cost_basis_at_sale, real_margin, cost_basis_unknown)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, line.ID, line.SaleID, line.ProductID, line.Quantity, line.UnitPrice,
		line.DiscountPercent, line.CostBasisAtSale, line.RealMargin, line.CostBasisUnknown)
	return mapError(err)
}

func (t *pgTx) InsertMovement(ctx context.Context, mv domain.Movement) (domain.Movement, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO inventory_movements (id, product_id, type, quantity,
			quantity_before, quantity_after, unit_cost, reference_transaction_id, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, clock_timestamp())
		RETURNING created_at
	`, mv.ID, mv.ProductID, mv.Type, mv.Quantity, mv.Before, mv.After, mv.UnitCost, mv.ReferenceID, mv.Reason)
	if err := row.Scan(&mv.CreatedAt); err != nil {
		return domain.Movement{}, mapError(err)
	}
	return mv, nil
}

func (t *pgTx) GetSaleForUpdate(ctx context.Context, id uuid.UUID) (domain.Sale, error) {
	return scanSale(t.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sale_transactions WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) SaleLines(ctx context.Context, saleID uuid.UUID) ([]domain.SaleLine, error) {
	return querySaleLines(ctx, t.tx, saleID)
}

func (t *pgTx) MarkSaleCanceled(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE sale_transactions SET status = $2, canceled_at = $3 WHERE id = $1
	`, id, domain.SaleStatusCanceled, at)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
