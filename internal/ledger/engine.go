// Package ledger is the weighted-cost stock engine. It owns the per-product
// quantity and weighted average cost and applies receipts, consumption and
// manual adjustments.
package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lojaops/backend-loja/internal/audit"
	"github.com/lojaops/backend-loja/internal/common"
	"github.com/lojaops/backend-loja/internal/domain"
	"github.com/lojaops/backend-loja/internal/store"
)

// ErrInsufficientStock is returned by Consume when the decrement would make
// quantity negative and the product does not allow backorders.
var ErrInsufficientStock = errors.New("ledger: insufficient stock")

// CostPrecision is the internal scale of weighted average costs. Display
// rounds to two places; the ledger keeps four to limit drift across many
// small receipts.
const CostPrecision = 4

// WeightedAverage recomputes the cost basis after receiving qty units at
// unitCost on top of oldQty units carried at oldAvg.
func WeightedAverage(oldQty, oldAvg, qty, unitCost decimal.Decimal) decimal.Decimal {
	total := oldQty.Add(qty)
	if total.Sign() <= 0 {
		return decimal.Zero
	}
	num := oldQty.Mul(oldAvg).Add(qty.Mul(unitCost))
	return num.DivRound(total, CostPrecision)
}

// Engine applies stock mutations through the store's unit of work. The
// checkout coordinator calls Consume on rows it has already locked; Receive
// and Adjust open their own transaction.
type Engine struct {
	Store store.Store
	Trail audit.Trail
}

// Consume decrements the locked product's quantity in place and returns the
// weighted average cost *before* the decrement as the frozen cost basis for
// the caller's sale line. It does not write the movement record: the caller
// owns the commit so movement and line item land together.
func (e Engine) Consume(product *domain.Product, qty decimal.Decimal) (decimal.Decimal, error) {
	if qty.Sign() <= 0 {
		return decimal.Zero, common.NewValidation("consume quantity must be positive", nil)
	}
	remaining := product.Quantity.Sub(qty)
	if remaining.Sign() < 0 && !product.BackorderAllowed {
		return decimal.Zero, ErrInsufficientStock
	}
	costBasis := product.WeightedAvgCost
	product.Quantity = remaining
	return costBasis, nil
}

// Receive books a stock receipt: quantity increases and the weighted average
// cost is recomputed. One entrada movement is recorded in the same commit.
func (e Engine) Receive(ctx context.Context, productID uuid.UUID, qty, unitCost decimal.Decimal, reference *uuid.UUID) (domain.Product, error) {
	if qty.Sign() <= 0 {
		return domain.Product{}, common.NewValidation("receive quantity must be positive", nil)
	}
	if unitCost.Sign() < 0 {
		return domain.Product{}, common.NewValidation("unit cost must not be negative", nil)
	}
	var updated domain.Product
	err := e.Store.WithinTx(ctx, func(tx store.Tx) error {
		products, err := tx.LockProducts(ctx, []uuid.UUID{productID})
		if err != nil {
			return err
		}
		if len(products) == 0 {
			return store.ErrNotFound
		}
		product := products[0]
		before := product.Quantity
		product.WeightedAvgCost = WeightedAverage(product.Quantity, product.WeightedAvgCost, qty, unitCost)
		product.Quantity = product.Quantity.Add(qty)
		if err := tx.UpdateProductStock(ctx, product.ID, product.Quantity, product.WeightedAvgCost); err != nil {
			return err
		}
		_, err = e.Trail.Record(ctx, tx, domain.Movement{
			ProductID:   product.ID,
			Type:        domain.MovementEntrada,
			Quantity:    qty,
			Before:      before,
			After:       product.Quantity,
			UnitCost:    unitCost,
			ReferenceID: reference,
		})
		if err != nil {
			return err
		}
		updated = product
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return updated, nil
}

// Adjust applies a manual signed correction (shrinkage, recount) outside any
// sale context and records one ajuste movement carrying the reason.
func (e Engine) Adjust(ctx context.Context, productID uuid.UUID, delta decimal.Decimal, reason string) (domain.Product, error) {
	if delta.IsZero() {
		return domain.Product{}, common.NewValidation("adjustment delta must not be zero", nil)
	}
	if reason == "" {
		return domain.Product{}, common.NewValidation("adjustment reason is required", nil)
	}
	var updated domain.Product
	err := e.Store.WithinTx(ctx, func(tx store.Tx) error {
		products, err := tx.LockProducts(ctx, []uuid.UUID{productID})
		if err != nil {
			return err
		}
		if len(products) == 0 {
			return store.ErrNotFound
		}
		product := products[0]
		before := product.Quantity
		after := before.Add(delta)
		if after.Sign() < 0 && !product.BackorderAllowed {
			return ErrInsufficientStock
		}
		product.Quantity = after
		if err := tx.UpdateProductStock(ctx, product.ID, product.Quantity, product.WeightedAvgCost); err != nil {
			return err
		}
		_, err = e.Trail.Record(ctx, tx, domain.Movement{
			ProductID: product.ID,
			Type:      domain.MovementAjuste,
			Quantity:  delta,
			Before:    before,
			After:     after,
			UnitCost:  product.WeightedAvgCost,
			Reason:    reason,
		})
		if err != nil {
			return err
		}
		updated = product
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return updated, nil
}
