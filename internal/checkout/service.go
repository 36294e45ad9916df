// Package checkout is the sale finalization coordinator. It owns the single
// transaction in which stock is locked, consumed, priced and committed, and
// it is the only package allowed to finalize or cancel a sale.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/lojaops/backend-loja/internal/auth"
	"github.com/lojaops/backend-loja/internal/common"
	"github.com/lojaops/backend-loja/internal/config"
	"github.com/lojaops/backend-loja/internal/domain"
	"github.com/lojaops/backend-loja/internal/ledger"
	"github.com/lojaops/backend-loja/internal/margin"
	"github.com/lojaops/backend-loja/internal/obs"
	"github.com/lojaops/backend-loja/internal/store"
)

// Segments resolves a customer's cached RFM segment. It must never be read
// while the checkout transaction holds row locks, so the coordinator asks
// before opening the transaction.
type Segments interface {
	SegmentCached(ctx context.Context, customerID uuid.UUID) string
}

// TaskEnqueuer schedules post-commit background work. Enqueue failures are
// logged, never surfaced: the sale is already durable.
type TaskEnqueuer interface {
	EnqueueRFMRefresh(ctx context.Context, customerID uuid.UUID) error
	EnqueueLowStockCheck(ctx context.Context, productIDs []uuid.UUID) error
}

// CatalogInvalidator drops cached product reads after a stock mutation.
type CatalogInvalidator interface {
	Invalidate(ctx context.Context, ids ...uuid.UUID)
}

// LineInput is one requested sale line. UnitPrice overrides the catalog
// price when set, which requires a manager or admin principal.
type LineInput struct {
	ProductID       uuid.UUID        `json:"productId"`
	Quantity        decimal.Decimal  `json:"quantity"`
	UnitPrice       *decimal.Decimal `json:"unitPrice,omitempty"`
	DiscountPercent decimal.Decimal  `json:"discountPercent"`
}

// SaleInput is the full checkout request.
type SaleInput struct {
	CustomerID    *uuid.UUID       `json:"customerId,omitempty"`
	PaymentMethod string           `json:"paymentMethod"`
	CashTendered  *decimal.Decimal `json:"cashTendered,omitempty"`
	Lines         []LineInput      `json:"lines"`
}

// SaleResult is the committed sale with its lines. Change is set only for
// cash payments.
type SaleResult struct {
	Sale   domain.Sale       `json:"sale"`
	Lines  []domain.SaleLine `json:"lines"`
	Change *decimal.Decimal  `json:"change,omitempty"`
}

// Service coordinates sale finalization and cancellation.
type Service struct {
	Store    store.Store
	Ledger   ledger.Engine
	Segments Segments
	Tasks    TaskEnqueuer
	Cache    CatalogInvalidator
	Discount config.DiscountConfig
	Payment  config.PaymentConfig
	Logger   zerolog.Logger
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// saleCode derives a human-readable receipt code. Uniqueness comes from the
// id, the date prefix exists for the paper trail.
func saleCode(id uuid.UUID, at time.Time) string {
	return fmt.Sprintf("VND-%s-%X", at.Format("20060102"), id[:4])
}

// FinalizeSale validates the cart, then atomically locks stock, consumes it,
// freezes per-line cost basis and margin, and commits the sale with its
// movements. Either everything lands or nothing does.
func (s *Service) FinalizeSale(ctx context.Context, principal auth.Principal, in SaleInput) (SaleResult, error) {
	if err := s.validateInput(principal, in); err != nil {
		return SaleResult{}, err
	}

	ceiling := s.effectiveCeiling(ctx, principal, in.CustomerID)
	for i, line := range in.Lines {
		if line.DiscountPercent.GreaterThan(ceiling) {
			obs.IncCheckout("rejected")
			return SaleResult{}, common.NewValidation(
				fmt.Sprintf("line %d discount %s%% exceeds authorized ceiling %s%%", i, line.DiscountPercent, ceiling),
				map[string]any{"productId": line.ProductID.String(), "ceilingPercent": ceiling},
			)
		}
	}

	var result SaleResult
	err := s.Store.WithinTx(ctx, func(tx store.Tx) error {
		ids := distinctProductIDs(in.Lines)
		products, err := tx.LockProducts(ctx, ids)
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]*domain.Product, len(products))
		for i := range products {
			byID[products[i].ID] = &products[i]
		}

		for _, id := range ids {
			p, ok := byID[id]
			if !ok {
				return common.NewValidation("unknown product in cart", map[string]any{"productId": id.String()})
			}
			if !p.Active {
				return common.NewValidation("product is not sellable", map[string]any{"productId": id.String()})
			}
		}

		// The stock check runs over the whole cart before any consumption so
		// the response names every failing product, not just the first.
		if failing := insufficientProducts(in.Lines, byID); len(failing) > 0 {
			return common.NewInsufficientStock(failing)
		}

		at := s.now()
		sale := domain.Sale{
			ID:         uuid.New(),
			EmployeeID: principal.EmployeeID,
			CustomerID: in.CustomerID,
			Status:     domain.SaleStatusFinalized,
			CreatedAt:  at,
		}
		sale.Code = saleCode(sale.ID, at)
		sale.PaymentMethod = in.PaymentMethod

		subtotal := decimal.Zero
		discountTotal := decimal.Zero
		lines := make([]domain.SaleLine, 0, len(in.Lines))
		for _, line := range in.Lines {
			p := byID[line.ProductID]
			unitPrice := p.SalePrice
			if line.UnitPrice != nil && !line.UnitPrice.Equal(p.SalePrice) {
				if !principal.CanOverridePrice() {
					return common.NewValidation("unit price override requires manager approval",
						map[string]any{"productId": p.ID.String()})
				}
				unitPrice = *line.UnitPrice
			}

			before := p.Quantity
			costBasis, err := s.Ledger.Consume(p, line.Quantity)
			if err != nil {
				return err
			}

			gross := unitPrice.Mul(line.Quantity)
			lineDiscount := gross.Mul(line.DiscountPercent).Div(hundred)
			subtotal = subtotal.Add(gross)
			discountTotal = discountTotal.Add(lineDiscount)

			m := margin.Real(unitPrice, line.DiscountPercent, costBasis, line.Quantity)
			lines = append(lines, domain.SaleLine{
				ID:               uuid.New(),
				SaleID:           sale.ID,
				ProductID:        p.ID,
				Quantity:         line.Quantity,
				UnitPrice:        unitPrice,
				DiscountPercent:  line.DiscountPercent,
				CostBasisAtSale:  costBasis,
				RealMargin:       m.Margin,
				CostBasisUnknown: m.CostBasisUnknown,
			})

			if _, err := s.Ledger.Trail.Record(ctx, tx, domain.Movement{
				ProductID:   p.ID,
				Type:        domain.MovementSaida,
				Quantity:    line.Quantity,
				Before:      before,
				After:       p.Quantity,
				UnitCost:    costBasis,
				ReferenceID: &sale.ID,
			}); err != nil {
				return err
			}
		}

		sale.Subtotal = subtotal.Round(2)
		sale.DiscountTotal = discountTotal.Round(2)
		sale.Total = subtotal.Sub(discountTotal).Round(2)

		var change *decimal.Decimal
		if s.Payment.IsCash(in.PaymentMethod) {
			if in.CashTendered == nil {
				return common.NewValidation("cash payment requires cashTendered", nil)
			}
			if in.CashTendered.LessThan(sale.Total) {
				return common.NewValidation(
					fmt.Sprintf("cash tendered %s is less than total %s", in.CashTendered, sale.Total), nil)
			}
			c := in.CashTendered.Sub(sale.Total).Round(2)
			change = &c
		}

		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		for _, l := range lines {
			if err := tx.InsertSaleLine(ctx, l); err != nil {
				return err
			}
		}
		for _, id := range ids {
			p := byID[id]
			if err := tx.UpdateProductStock(ctx, p.ID, p.Quantity, p.WeightedAvgCost); err != nil {
				return err
			}
		}

		result = SaleResult{Sale: sale, Lines: lines, Change: change}
		return nil
	})
	if err != nil {
		obs.IncCheckout("failed")
		return SaleResult{}, s.mapError(err)
	}

	obs.IncCheckout("success")
	for range result.Lines {
		obs.IncStockMovement(string(domain.MovementSaida))
	}
	s.afterCommit(ctx, result)
	return result, nil
}

// afterCommit runs best-effort side work. The sale is durable by now, so
// failures here are logged and forgotten.
func (s *Service) afterCommit(ctx context.Context, result SaleResult) {
	ids := make([]uuid.UUID, 0, len(result.Lines))
	for _, l := range result.Lines {
		ids = append(ids, l.ProductID)
	}
	if s.Cache != nil {
		s.Cache.Invalidate(ctx, ids...)
	}
	if s.Tasks != nil {
		if err := s.Tasks.EnqueueLowStockCheck(ctx, ids); err != nil {
			s.Logger.Warn().Err(err).Str("sale_id", result.Sale.ID.String()).Msg("enqueue low stock check")
		}
		if result.Sale.CustomerID != nil {
			if err := s.Tasks.EnqueueRFMRefresh(ctx, *result.Sale.CustomerID); err != nil {
				s.Logger.Warn().Err(err).Str("sale_id", result.Sale.ID.String()).Msg("enqueue rfm refresh")
			}
		}
	}
	s.Logger.Info().
		Str("sale_id", result.Sale.ID.String()).
		Str("code", result.Sale.Code).
		Str("total", result.Sale.Total.String()).
		Int("lines", len(result.Lines)).
		Msg("sale finalized")
}

// CancelSale reverses a finalized sale: every line's quantity returns to
// stock through compensating adjustment movements and the sale flips to
// canceled. The weighted average cost is deliberately left untouched.
// Only finalized sales can be canceled, so stock is restored exactly once.
func (s *Service) CancelSale(ctx context.Context, principal auth.Principal, saleID uuid.UUID) (domain.Sale, error) {
	var (
		sale     domain.Sale
		restored []uuid.UUID
	)
	err := s.Store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		sale, err = tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != domain.SaleStatusFinalized {
			return common.NewInvalidState(fmt.Sprintf("sale %s is %s, only finalized sales can be canceled", sale.Code, sale.Status))
		}

		lines, err := tx.SaleLines(ctx, saleID)
		if err != nil {
			return err
		}
		qtyByProduct := make(map[uuid.UUID]decimal.Decimal, len(lines))
		for _, l := range lines {
			qtyByProduct[l.ProductID] = qtyByProduct[l.ProductID].Add(l.Quantity)
		}
		ids := make([]uuid.UUID, 0, len(qtyByProduct))
		for id := range qtyByProduct {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return lessUUID(ids[i], ids[j]) })

		products, err := tx.LockProducts(ctx, ids)
		if err != nil {
			return err
		}
		for i := range products {
			p := &products[i]
			back := qtyByProduct[p.ID]
			before := p.Quantity
			p.Quantity = p.Quantity.Add(back)
			if _, err := s.Ledger.Trail.Record(ctx, tx, domain.Movement{
				ProductID:   p.ID,
				Type:        domain.MovementAjuste,
				Quantity:    back,
				Before:      before,
				After:       p.Quantity,
				UnitCost:    p.WeightedAvgCost,
				ReferenceID: &saleID,
				Reason:      "sale canceled",
			}); err != nil {
				return err
			}
			if err := tx.UpdateProductStock(ctx, p.ID, p.Quantity, p.WeightedAvgCost); err != nil {
				return err
			}
			restored = append(restored, p.ID)
		}

		at := s.now()
		if err := tx.MarkSaleCanceled(ctx, saleID, at); err != nil {
			return err
		}
		sale.Status = domain.SaleStatusCanceled
		sale.CanceledAt = &at
		return nil
	})
	if err != nil {
		obs.IncSaleCancel("failed")
		return domain.Sale{}, s.mapError(err)
	}

	obs.IncSaleCancel("success")
	for range restored {
		obs.IncStockMovement(string(domain.MovementAjuste))
	}
	if s.Cache != nil {
		s.Cache.Invalidate(ctx, restored...)
	}
	s.Logger.Info().
		Str("sale_id", sale.ID.String()).
		Str("code", sale.Code).
		Str("employee_id", principal.EmployeeID.String()).
		Msg("sale canceled")
	return sale, nil
}

// GetSale returns a sale with its lines.
func (s *Service) GetSale(ctx context.Context, id uuid.UUID) (SaleResult, error) {
	sale, err := s.Store.GetSale(ctx, id)
	if err != nil {
		return SaleResult{}, s.mapError(err)
	}
	lines, err := s.Store.ListSaleLines(ctx, id)
	if err != nil {
		return SaleResult{}, s.mapError(err)
	}
	return SaleResult{Sale: sale, Lines: lines}, nil
}

// ListSales returns a page of sales, newest first.
func (s *Service) ListSales(ctx context.Context, limit, offset int) ([]domain.Sale, error) {
	sales, err := s.Store.ListSales(ctx, limit, offset)
	if err != nil {
		return nil, s.mapError(err)
	}
	return sales, nil
}

func (s *Service) validateInput(principal auth.Principal, in SaleInput) error {
	if !principal.Active() {
		return common.NewAppError(common.CodeForbidden, "employee account is not active", http.StatusForbidden, nil)
	}
	if len(in.Lines) == 0 {
		return common.NewValidation("sale requires at least one line", nil)
	}
	if !s.Payment.Accepted(in.PaymentMethod) {
		return common.NewValidation(fmt.Sprintf("payment method %q is not accepted", in.PaymentMethod), nil)
	}
	for i, line := range in.Lines {
		if line.ProductID == uuid.Nil {
			return common.NewValidation(fmt.Sprintf("line %d is missing productId", i), nil)
		}
		if line.Quantity.Sign() <= 0 {
			return common.NewValidation(fmt.Sprintf("line %d quantity must be positive", i), nil)
		}
		if line.DiscountPercent.Sign() < 0 || line.DiscountPercent.GreaterThan(hundred) {
			return common.NewValidation(fmt.Sprintf("line %d discount must be between 0 and 100", i), nil)
		}
		if line.UnitPrice != nil && line.UnitPrice.Sign() < 0 {
			return common.NewValidation(fmt.Sprintf("line %d unit price must not be negative", i), nil)
		}
	}
	return nil
}

// effectiveCeiling combines the principal's own ceiling, the base policy and
// the RFM-extended ceiling for eligible customer segments. The segment read
// hits cache only and happens before any lock is taken.
func (s *Service) effectiveCeiling(ctx context.Context, principal auth.Principal, customerID *uuid.UUID) decimal.Decimal {
	ceiling := principal.DiscountCeiling
	if ceiling.IsZero() {
		ceiling = s.Discount.BaseCeilingPercent
	}
	if customerID == nil || s.Segments == nil {
		return ceiling
	}
	segment := s.Segments.SegmentCached(ctx, *customerID)
	if segment != "" && s.Discount.Eligible(segment) {
		ceiling = decimal.Max(ceiling, s.Discount.ExtendedCeilingPercent)
	}
	return ceiling
}

func (s *Service) mapError(err error) error {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, store.ErrLockTimeout):
		return common.NewConcurrencyTimeout(err)
	case errors.Is(err, store.ErrNotFound):
		return common.NewNotFound("sale not found")
	case errors.Is(err, ledger.ErrInsufficientStock):
		return common.NewInsufficientStock(nil)
	default:
		return common.NewPersistence(err)
	}
}

var hundred = decimal.NewFromInt(100)

func lessUUID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func distinctProductIDs(lines []LineInput) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(lines))
	ids := make([]uuid.UUID, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		ids = append(ids, l.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return lessUUID(ids[i], ids[j]) })
	return ids
}

// insufficientProducts aggregates requested quantity per product across the
// whole cart and returns the ids that cannot be covered.
func insufficientProducts(lines []LineInput, byID map[uuid.UUID]*domain.Product) []string {
	required := make(map[uuid.UUID]decimal.Decimal, len(byID))
	for _, l := range lines {
		required[l.ProductID] = required[l.ProductID].Add(l.Quantity)
	}
	var failing []string
	for id, qty := range required {
		p := byID[id]
		if p == nil {
			continue
		}
		if p.Quantity.Sub(qty).Sign() < 0 && !p.BackorderAllowed {
			failing = append(failing, id.String())
		}
	}
	sort.Strings(failing)
	return failing
}
