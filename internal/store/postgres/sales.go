package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lojaops/backend-loja/internal/domain"
)

const saleColumns = `id, code, employee_id, customer_id, status, subtotal,
	discount_total, total, payment_method, created_at, canceled_at`

func scanSale(row pgx.Row) (domain.Sale, error) {
	var sale domain.Sale
	err := row.Scan(&sale.ID, &sale.Code, &sale.EmployeeID, &sale.CustomerID,
		&sale.Status, &sale.Subtotal, &sale.DiscountTotal, &sale.Total,
		&sale.PaymentMethod, &sale.CreatedAt, &sale.CanceledAt)
	if err != nil {
		return domain.Sale{}, mapError(err)
	}
	return sale, nil
}

func (s *Store) GetSale(ctx context.Context, id uuid.UUID) (domain.Sale, error) {
	return scanSale(s.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sale_transactions WHERE id = $1`, id))
}

func (s *Store) ListSales(ctx context.Context, limit, offset int) ([]domain.Sale, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+saleColumns+`
		FROM sale_transactions
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return sales, nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func querySaleLines(ctx context.Context, q queryer, saleID uuid.UUID) ([]domain.SaleLine, error) {
	rows, err := q.Query(ctx, `
		SELECT id, sale_id, product_id, quantity, unit_price, discount_percent,
			cost_basis_at_sale, real_margin, cost_basis_unknown
		FROM sale_line_items
		WHERE sale_id = $1
		ORDER BY id
	`, saleID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	lines := make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ID, &line.SaleID, &line.ProductID, &line.Quantity,
			&line.UnitPrice, &line.DiscountPercent, &line.CostBasisAtSale,
			&line.RealMargin, &line.CostBasisUnknown); err != nil {
			return nil, mapError(err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return lines, nil
}

func (s *Store) ListSaleLines(ctx context.Context, saleID uuid.UUID) ([]domain.SaleLine, error) {
	return querySaleLines(ctx, s.pool, saleID)
}

func (s *Store) ListMovements(ctx context.Context, productID uuid.UUID, limit, offset int) ([]domain.Movement, error) {
	return s.queryMovements(ctx, productID, `ORDER BY created_at DESC LIMIT $2 OFFSET $3`, limit, offset)
}

func (s *Store) MovementsAsc(ctx context.Context, productID uuid.UUID) ([]domain.Movement, error) {
	return s.queryMovements(ctx, productID, `ORDER BY created_at ASC`)
}

func (s *Store) queryMovements(ctx context.Context, productID uuid.UUID, tail string, extra ...any) ([]domain.Movement, error) {
	args := append([]any{productID}, extra...)
	rows, err := s.pool.Query(ctx, `
		SELECT id, product_id, type, quantity, quantity_before, quantity_after,
			unit_cost, reference_transaction_id, reason, created_at
		FROM inventory_movements
		WHERE product_id = $1
		`+tail, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	movements := make([]domain.Movement, 0, 32)
	for rows.Next() {
		var mv domain.Movement
		var reason *string
		if err := rows.Scan(&mv.ID, &mv.ProductID, &mv.Type, &mv.Quantity, &mv.Before,
			&mv.After, &mv.UnitCost, &mv.ReferenceID, &reason, &mv.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		if reason != nil {
			mv.Reason = *reason
		}
		movements = append(movements, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return movements, nil
}

// CustomerAggregates feeds RFM scoring: recency, frequency and monetary per
// customer over finalized sales since the window start.
func (s *Store) CustomerAggregates(ctx context.Context, since time.Time) ([]domain.CustomerAggregate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT customer_id,
			EXTRACT(DAY FROM now() - MAX(created_at))::int AS recency_days,
			COUNT(*) AS frequency,
			COALESCE(SUM(total), 0) AS monetary
		FROM sale_transactions
		WHERE status = 'finalized' AND customer_id IS NOT NULL AND created_at >= $1
		GROUP BY customer_id
		ORDER BY customer_id
	`, since)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	aggregates := make([]domain.CustomerAggregate, 0, 64)
	for rows.Next() {
		var agg domain.CustomerAggregate
		if err := rows.Scan(&agg.CustomerID, &agg.RecencyDays, &agg.Frequency, &agg.Monetary); err != nil {
			return nil, mapError(err)
		}
		aggregates = append(aggregates, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return aggregates, nil
}

func (s *Store) UpsertRFMScore(ctx context.Context, score domain.RFMScore) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO customer_rfm_scores (customer_id, recency_score, frequency_score,
			monetary_score, segment, computed_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (customer_id) DO UPDATE SET
			recency_score = EXCLUDED.recency_score,
			frequency_score = EXCLUDED.frequency_score,
			monetary_score = EXCLUDED.monetary_score,
			segment = EXCLUDED.segment,
			computed_at = EXCLUDED.computed_at
	`, score.CustomerID, score.RecencyScore, score.FrequencyScore,
		score.MonetaryScore, score.Segment, score.ComputedAt)
	return mapError(err)
}

func (s *Store) GetRFMScore(ctx context.Context, customerID uuid.UUID) (domain.RFMScore, error) {
	var score domain.RFMScore
	err := s.pool.QueryRow(ctx, `
		SELECT customer_id, recency_score, frequency_score, monetary_score, segment, computed_at
		FROM customer_rfm_scores
		WHERE customer_id = $1
	`, customerID).Scan(&score.CustomerID, &score.RecencyScore, &score.FrequencyScore,
		&score.MonetaryScore, &score.Segment, &score.ComputedAt)
	if err != nil {
		return domain.RFMScore{}, mapError(err)
	}
	return score, nil
}
