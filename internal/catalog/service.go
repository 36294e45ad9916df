// Package catalog owns product records: creation, pricing updates, barcode
// lookup and the read path the point of sale hammers hardest. Stock
// quantities are never edited here directly, they only move through receipts
// and adjustments so every change leaves a movement record.
package catalog

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/lojaops/backend-loja/internal/audit"
	"github.com/lojaops/backend-loja/internal/common"
	"github.com/lojaops/backend-loja/internal/domain"
	"github.com/lojaops/backend-loja/internal/ledger"
	"github.com/lojaops/backend-loja/internal/obs"
	"github.com/lojaops/backend-loja/internal/store"
)

// ProductInput is the create/update payload. Quantity and weighted cost are
// absent on purpose: stock only moves through receipts and adjustments.
type ProductInput struct {
	Barcode          string          `json:"barcode" validate:"required,max=64"`
	Name             string          `json:"name" validate:"required,max=200"`
	SalePrice        decimal.Decimal `json:"salePrice"`
	MarginPercent    decimal.Decimal `json:"marginPercent"`
	MinStock         decimal.Decimal `json:"minStock"`
	BackorderAllowed bool            `json:"backorderAllowed"`
}

// ReceiveInput books a stock receipt.
type ReceiveInput struct {
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unitCost"`
	ReferenceID *uuid.UUID      `json:"referenceId,omitempty"`
}

// AdjustInput applies a manual signed correction.
type AdjustInput struct {
	Delta  decimal.Decimal `json:"delta"`
	Reason string          `json:"reason" validate:"required,max=200"`
}

// Service is the catalog application service.
type Service struct {
	Store    store.Store
	Ledger   ledger.Engine
	Trail    audit.Trail
	Cache    *Cache
	Validate *validator.Validate
	Logger   zerolog.Logger
}

func (s *Service) validateStruct(v any) error {
	if s.Validate == nil {
		return nil
	}
	if err := s.Validate.Struct(v); err != nil {
		return common.NewValidation(err.Error(), nil)
	}
	return nil
}

func (s *Service) validateProduct(in ProductInput) error {
	if err := s.validateStruct(in); err != nil {
		return err
	}
	if in.SalePrice.Sign() < 0 {
		return common.NewValidation("sale price must not be negative", nil)
	}
	if in.MarginPercent.Sign() < 0 {
		return common.NewValidation("margin percent must not be negative", nil)
	}
	if in.MinStock.Sign() < 0 {
		return common.NewValidation("min stock must not be negative", nil)
	}
	return nil
}

// Create registers a new product with zero stock.
func (s *Service) Create(ctx context.Context, in ProductInput) (domain.Product, error) {
	if err := s.validateProduct(in); err != nil {
		return domain.Product{}, err
	}
	p, err := s.Store.CreateProduct(ctx, domain.Product{
		Barcode:          in.Barcode,
		Name:             in.Name,
		SalePrice:        in.SalePrice,
		MarginPercent:    in.MarginPercent,
		MinStock:         in.MinStock,
		BackorderAllowed: in.BackorderAllowed,
		Active:           true,
	})
	if err != nil {
		return domain.Product{}, s.mapError(err)
	}
	s.Logger.Info().Str("product_id", p.ID.String()).Str("barcode", p.Barcode).Msg("product created")
	return p, nil
}

// Update changes the editable attributes of a product. Quantity and
// weighted cost pass through untouched.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in ProductInput) (domain.Product, error) {
	if err := s.validateProduct(in); err != nil {
		return domain.Product{}, err
	}
	p, err := s.Store.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, s.mapError(err)
	}
	p.Barcode = in.Barcode
	p.Name = in.Name
	p.SalePrice = in.SalePrice
	p.MarginPercent = in.MarginPercent
	p.MinStock = in.MinStock
	p.BackorderAllowed = in.BackorderAllowed
	if err := s.Store.UpdateProduct(ctx, p); err != nil {
		return domain.Product{}, s.mapError(err)
	}
	s.Cache.Invalidate(ctx, id)
	return p, nil
}

// Get reads one product, through the cache when available.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Product, error) {
	var cached domain.Product
	if hit, err := s.Cache.GetJSON(ctx, productKey(id), &cached); err == nil && hit {
		return cached, nil
	}
	p, err := s.Store.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, s.mapError(err)
	}
	if err := s.Cache.SetJSON(ctx, productKey(p.ID), p); err != nil {
		s.Logger.Warn().Err(err).Str("product_id", p.ID.String()).Msg("cache product")
	}
	return p, nil
}

// GetByBarcode resolves the scanner's lookup. No cache: barcodes are
// mutable and this path always wants the live row.
func (s *Service) GetByBarcode(ctx context.Context, barcode string) (domain.Product, error) {
	if barcode == "" {
		return domain.Product{}, common.NewValidation("barcode is required", nil)
	}
	p, err := s.Store.GetProductByBarcode(ctx, barcode)
	if err != nil {
		return domain.Product{}, s.mapError(err)
	}
	return p, nil
}

// List returns a page of products.
func (s *Service) List(ctx context.Context, limit, offset int) ([]domain.Product, error) {
	products, err := s.Store.ListProducts(ctx, limit, offset)
	if err != nil {
		return nil, s.mapError(err)
	}
	return products, nil
}

// Deactivate retires a product from sale without deleting its history.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	if err := s.Store.DeactivateProduct(ctx, id); err != nil {
		return s.mapError(err)
	}
	s.Cache.Invalidate(ctx, id)
	return nil
}

// Receive books a stock receipt through the ledger and invalidates the
// cached row.
func (s *Service) Receive(ctx context.Context, id uuid.UUID, in ReceiveInput) (domain.Product, error) {
	p, err := s.Ledger.Receive(ctx, id, in.Quantity, in.UnitCost, in.ReferenceID)
	if err != nil {
		return domain.Product{}, s.mapError(err)
	}
	obs.IncStockMovement(string(domain.MovementEntrada))
	s.Cache.Invalidate(ctx, id)
	s.Logger.Info().
		Str("product_id", id.String()).
		Str("quantity", in.Quantity.String()).
		Str("unit_cost", in.UnitCost.String()).
		Str("new_avg_cost", p.WeightedAvgCost.String()).
		Msg("stock received")
	return p, nil
}

// Adjust applies a manual correction through the ledger.
func (s *Service) Adjust(ctx context.Context, id uuid.UUID, in AdjustInput) (domain.Product, error) {
	if err := s.validateStruct(in); err != nil {
		return domain.Product{}, err
	}
	p, err := s.Ledger.Adjust(ctx, id, in.Delta, in.Reason)
	if err != nil {
		return domain.Product{}, s.mapError(err)
	}
	obs.IncStockMovement(string(domain.MovementAjuste))
	s.Cache.Invalidate(ctx, id)
	return p, nil
}

// Movements lists a product's audit trail, newest first.
func (s *Service) Movements(ctx context.Context, id uuid.UUID, limit, offset int) ([]domain.Movement, error) {
	movements, err := s.Trail.Movements(ctx, id, limit, offset)
	if err != nil {
		return nil, s.mapError(err)
	}
	return movements, nil
}

func (s *Service) mapError(err error) error {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return common.NewNotFound("product not found")
	case errors.Is(err, store.ErrDuplicate):
		return common.NewValidation("barcode already registered", nil)
	case errors.Is(err, store.ErrLockTimeout):
		return common.NewConcurrencyTimeout(err)
	case errors.Is(err, ledger.ErrInsufficientStock):
		return common.NewInvalidState("adjustment would make stock negative")
	default:
		return common.NewPersistence(err)
	}
}
