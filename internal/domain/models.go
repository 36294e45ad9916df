package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SaleStatus enumerates the legal states of a sale transaction.
type SaleStatus string

const (
	SaleStatusPending   SaleStatus = "pending"
	SaleStatusFinalized SaleStatus = "finalized"
	SaleStatusCanceled  SaleStatus = "canceled"
)

// MovementType enumerates the kinds of inventory movements.
type MovementType string

const (
	MovementEntrada MovementType = "entrada"
	MovementSaida   MovementType = "saida"
	MovementAjuste  MovementType = "ajuste"
)

// Product is the catalog row owning per-product stock state. Quantity is a
// decimal because weight-sold goods carry fractional stock. WeightedAvgCost
// is mutated only by stock receipts, never by sales.
type Product struct {
	ID               uuid.UUID       `json:"id"`
	Barcode          string          `json:"barcode"`
	Name             string          `json:"name"`
	Quantity         decimal.Decimal `json:"quantity"`
	WeightedAvgCost  decimal.Decimal `json:"weightedAvgCost"`
	SalePrice        decimal.Decimal `json:"salePrice"`
	MarginPercent    decimal.Decimal `json:"marginPercent"`
	MinStock         decimal.Decimal `json:"minStock"`
	BackorderAllowed bool            `json:"backorderAllowed"`
	Active           bool            `json:"active"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Sale is a committed sale transaction. Once finalized it is immutable,
// except for the single transition to canceled.
type Sale struct {
	ID            uuid.UUID       `json:"id"`
	Code          string          `json:"code"`
	EmployeeID    uuid.UUID       `json:"employeeId"`
	CustomerID    *uuid.UUID      `json:"customerId,omitempty"`
	Status        SaleStatus      `json:"status"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	DiscountTotal decimal.Decimal `json:"discountTotal"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"paymentMethod"`
	CreatedAt     time.Time       `json:"createdAt"`
	CanceledAt    *time.Time      `json:"canceledAt,omitempty"`
}

// SaleLine is one line of a sale. CostBasisAtSale is copied from the
// product's weighted average cost at the instant of consumption and never
// recomputed afterwards; RealMargin is derived once and stored.
type SaleLine struct {
	ID               uuid.UUID       `json:"id"`
	SaleID           uuid.UUID       `json:"saleId"`
	ProductID        uuid.UUID       `json:"productId"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unitPrice"`
	DiscountPercent  decimal.Decimal `json:"discountPercent"`
	CostBasisAtSale  decimal.Decimal `json:"costBasisAtSale"`
	RealMargin       decimal.Decimal `json:"realMargin"`
	CostBasisUnknown bool            `json:"costBasisUnknown"`
}

// Movement is one append-only inventory movement. Quantity is the signed
// magnitude of the change; QuantityBefore and QuantityAfter snapshot the
// product quantity around the mutation so the log can be replayed.
type Movement struct {
	ID          uuid.UUID       `json:"id"`
	ProductID   uuid.UUID       `json:"productId"`
	Type        MovementType    `json:"type"`
	Quantity    decimal.Decimal `json:"quantity"`
	Before      decimal.Decimal `json:"quantityBefore"`
	After       decimal.Decimal `json:"quantityAfter"`
	UnitCost    decimal.Decimal `json:"unitCost"`
	ReferenceID *uuid.UUID      `json:"referenceTransactionId,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// SignedDelta returns the quantity change the movement applies to the
// product: positive for entrada, negative for saida, as-recorded for ajuste.
func (m Movement) SignedDelta() decimal.Decimal {
	switch m.Type {
	case MovementEntrada:
		return m.Quantity.Abs()
	case MovementSaida:
		return m.Quantity.Abs().Neg()
	default:
		return m.Quantity
	}
}

// CustomerAggregate is the raw material for RFM scoring: one customer's
// purchase recency, frequency and monetary value over the scoring window.
type CustomerAggregate struct {
	CustomerID  uuid.UUID
	RecencyDays int
	Frequency   int64
	Monetary    decimal.Decimal
}

// RFMScore is the derived, non-authoritative customer classification. It is
// recomputed out of band and never read while checkout holds row locks.
type RFMScore struct {
	CustomerID     uuid.UUID `json:"customerId"`
	RecencyScore   int       `json:"recencyScore"`
	FrequencyScore int       `json:"frequencyScore"`
	MonetaryScore  int       `json:"monetaryScore"`
	Segment        string    `json:"segment"`
	ComputedAt     time.Time `json:"computedAt"`
}
