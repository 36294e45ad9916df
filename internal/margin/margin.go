// Package margin computes true per-line profit from price, discount, frozen
// cost basis and quantity.
package margin

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Result carries the computed margin for one sale line. CostBasisUnknown is
// set when the cost basis was zero: the margin then equals the full net
// revenue of the line rather than pretending an infinite percentage.
type Result struct {
	Margin           decimal.Decimal
	CostBasisUnknown bool
}

// Real computes (unitPrice * (1 - discountPercent/100) - costBasis) * qty.
// Negative margins are valid and returned as-is; selling below cost is a
// business fact, not an arithmetic error.
func Real(unitPrice, discountPercent, costBasis, qty decimal.Decimal) Result {
	netUnit := unitPrice.Mul(decimal.NewFromInt(1).Sub(discountPercent.Div(hundred)))
	m := netUnit.Sub(costBasis).Mul(qty)
	return Result{
		Margin:           m.Round(2),
		CostBasisUnknown: costBasis.IsZero(),
	}
}
