// Package audit owns the append-only inventory movement log. Every stock
// mutation has exactly one corresponding movement record, and folding the
// records for a product reproduces its current quantity.
package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lojaops/backend-loja/internal/domain"
	"github.com/lojaops/backend-loja/internal/store"
)

// ErrInconsistentMovement is returned when a movement's before/after
// snapshot does not match its signed delta.
type ErrInconsistentMovement struct {
	Movement domain.Movement
}

func (e ErrInconsistentMovement) Error() string {
	return fmt.Sprintf("audit: movement for product %s is inconsistent: %s + %s != %s",
		e.Movement.ProductID, e.Movement.Before, e.Movement.SignedDelta(), e.Movement.After)
}

// Trail records and replays inventory movements.
type Trail struct {
	Store store.Store
}

// Record stages one movement on the caller's transaction so movement and
// sale line share a single commit. The quantity_after invariant is enforced
// here, before the row ever reaches storage.
func (t Trail) Record(ctx context.Context, tx store.Tx, mv domain.Movement) (domain.Movement, error) {
	if mv.ID == uuid.Nil {
		mv.ID = uuid.New()
	}
	if !mv.Before.Add(mv.SignedDelta()).Equal(mv.After) {
		return domain.Movement{}, ErrInconsistentMovement{Movement: mv}
	}
	return tx.InsertMovement(ctx, mv)
}

// Replay reconstructs a product's current quantity by folding all of its
// movements in timestamp order, starting from the quantity_before of the
// first record. Integrity tooling compares the result against the product
// row to detect drift.
func (t Trail) Replay(ctx context.Context, productID uuid.UUID) (decimal.Decimal, error) {
	movements, err := t.Store.MovementsAsc(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	if len(movements) == 0 {
		product, err := t.Store.GetProduct(ctx, productID)
		if err != nil {
			return decimal.Zero, err
		}
		return product.Quantity, nil
	}
	qty := movements[0].Before
	for _, mv := range movements {
		if !qty.Equal(mv.Before) {
			return decimal.Zero, fmt.Errorf("audit: replay gap for product %s at movement %s: have %s, log says %s",
				productID, mv.ID, qty, mv.Before)
		}
		qty = qty.Add(mv.SignedDelta())
		if !qty.Equal(mv.After) {
			return decimal.Zero, ErrInconsistentMovement{Movement: mv}
		}
	}
	return qty, nil
}

// Movements lists a product's movement history, newest first.
func (t Trail) Movements(ctx context.Context, productID uuid.UUID, limit, offset int) ([]domain.Movement, error) {
	return t.Store.ListMovements(ctx, productID, limit, offset)
}
