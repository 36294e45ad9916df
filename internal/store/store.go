package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lojaops/backend-loja/internal/domain"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrLockTimeout indicates a row lock could not be acquired within the
	// configured wait. No mutation occurred.
	ErrLockTimeout = errors.New("store: lock wait timeout")
	// ErrDuplicate indicates a uniqueness violation (barcode, sale code).
	ErrDuplicate = errors.New("store: duplicate")
)

// Tx is the unit-of-work handle passed through the checkout engine. The
// coordinator is the sole owner of commit and rollback; the ledger and the
// audit trail only ever stage writes through this handle.
type Tx interface {
	// LockProducts acquires exclusive row locks on the given products in
	// ascending id order and returns the locked rows. Ascending acquisition
	// is the deadlock-avoidance mechanism for concurrent multi-item carts.
	LockProducts(ctx context.Context, ids []uuid.UUID) ([]domain.Product, error)
	UpdateProductStock(ctx context.Context, id uuid.UUID, quantity, weightedAvgCost decimal.Decimal) error
	InsertSale(ctx context.Context, sale domain.Sale) error
	InsertSaleLine(ctx context.Context, line domain.SaleLine) error
	InsertMovement(ctx context.Context, mv domain.Movement) (domain.Movement, error)
	GetSaleForUpdate(ctx context.Context, id uuid.UUID) (domain.Sale, error)
	SaleLines(ctx context.Context, saleID uuid.UUID) ([]domain.SaleLine, error)
	MarkSaleCanceled(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Store is the persistence boundary of the service. WithinTx runs fn inside
// one storage transaction: if fn returns an error nothing fn staged is
// visible afterwards.
type Store interface {
	WithinTx(ctx context.Context, fn func(Tx) error) error

	GetProduct(ctx context.Context, id uuid.UUID) (domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (domain.Product, error)
	ListProducts(ctx context.Context, limit, offset int) ([]domain.Product, error)
	CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error)
	UpdateProduct(ctx context.Context, p domain.Product) error
	DeactivateProduct(ctx context.Context, id uuid.UUID) error
	LowStockProducts(ctx context.Context, ids []uuid.UUID) ([]domain.Product, error)

	GetSale(ctx context.Context, id uuid.UUID) (domain.Sale, error)
	ListSales(ctx context.Context, limit, offset int) ([]domain.Sale, error)
	ListSaleLines(ctx context.Context, saleID uuid.UUID) ([]domain.SaleLine, error)

	ListMovements(ctx context.Context, productID uuid.UUID, limit, offset int) ([]domain.Movement, error)
	MovementsAsc(ctx context.Context, productID uuid.UUID) ([]domain.Movement, error)
	ProductIDs(ctx context.Context) ([]uuid.UUID, error)

	CustomerAggregates(ctx context.Context, since time.Time) ([]domain.CustomerAggregate, error)
	UpsertRFMScore(ctx context.Context, score domain.RFMScore) error
	GetRFMScore(ctx context.Context, customerID uuid.UUID) (domain.RFMScore, error)
}
