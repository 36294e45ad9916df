package margin

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRealNoDiscount(t *testing.T) {
	res := Real(dec("10.00"), dec("0"), dec("6.00"), dec("2"))
	if !res.Margin.Equal(dec("8.00")) {
		t.Fatalf("expected margin 8.00, got %s", res.Margin)
	}
	if res.CostBasisUnknown {
		t.Fatalf("cost basis was known")
	}
}

func TestRealWithDiscount(t *testing.T) {
	// 10.00 at 10% off nets 9.00; minus 6.00 cost, times 3 units.
	res := Real(dec("10.00"), dec("10"), dec("6.00"), dec("3"))
	if !res.Margin.Equal(dec("9.00")) {
		t.Fatalf("expected margin 9.00, got %s", res.Margin)
	}
}

func TestRealZeroCostBasisFlagged(t *testing.T) {
	res := Real(dec("5.00"), dec("0"), dec("0"), dec("4"))
	if !res.CostBasisUnknown {
		t.Fatalf("expected cost basis unknown flag")
	}
	if !res.Margin.Equal(dec("20.00")) {
		t.Fatalf("expected margin = full net revenue 20.00, got %s", res.Margin)
	}
}

func TestRealNegativeMarginUnclamped(t *testing.T) {
	res := Real(dec("4.00"), dec("0"), dec("6.00"), dec("1"))
	if !res.Margin.Equal(dec("-2.00")) {
		t.Fatalf("expected margin -2.00, got %s", res.Margin)
	}
}

func TestRealFractionalQuantity(t *testing.T) {
	// weight-sold goods: 0.750 kg at 20.00/kg, cost 12.00/kg
	res := Real(dec("20.00"), dec("0"), dec("12.00"), dec("0.750"))
	if !res.Margin.Equal(dec("6.00")) {
		t.Fatalf("expected margin 6.00, got %s", res.Margin)
	}
}
