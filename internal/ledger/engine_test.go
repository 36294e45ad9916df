package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lojaops/backend-loja/internal/audit"
	"github.com/lojaops/backend-loja/internal/domain"
	"github.com/lojaops/backend-loja/internal/store"
	"github.com/lojaops/backend-loja/internal/store/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newEngine(st *memory.Store) Engine {
	return Engine{Store: st, Trail: audit.Trail{Store: st}}
}

func seed(t *testing.T, st *memory.Store, qty, avgCost string) domain.Product {
	t.Helper()
	p, err := st.CreateProduct(context.Background(), domain.Product{
		Barcode:         uuid.NewString(),
		Name:            "ledgered",
		Quantity:        dec(qty),
		WeightedAvgCost: dec(avgCost),
		SalePrice:       dec("1.00"),
		Active:          true,
	})
	require.NoError(t, err)
	return p
}

func TestWeightedAverage(t *testing.T) {
	cases := []struct {
		name                      string
		oldQty, oldAvg, qty, cost string
		want                      string
	}{
		{"first receipt", "0", "0", "10", "5.00", "5.0000"},
		{"blend", "10", "6.00", "5", "9.00", "7.0000"},
		{"repeating decimal rounds to four places", "1", "1.00", "2", "2.00", "1.6667"},
		{"receipt onto negative backorder", "-2", "4.00", "10", "4.00", "4.0000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := WeightedAverage(dec(tc.oldQty), dec(tc.oldAvg), dec(tc.qty), dec(tc.cost))
			require.True(t, got.Equal(dec(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

func TestWeightedAverageZeroTotalIsZero(t *testing.T) {
	got := WeightedAverage(dec("-5"), dec("3.00"), dec("5"), dec("4.00"))
	require.True(t, got.IsZero())
}

func TestConsumeFreezesCostBasisBeforeDecrement(t *testing.T) {
	p := domain.Product{Quantity: dec("10"), WeightedAvgCost: dec("6.5000")}
	e := Engine{}

	basis, err := e.Consume(&p, dec("4"))
	require.NoError(t, err)
	require.True(t, basis.Equal(dec("6.5000")))
	require.True(t, p.Quantity.Equal(dec("6")))
}

func TestConsumeRejectsOversellWithoutBackorder(t *testing.T) {
	p := domain.Product{Quantity: dec("2")}
	e := Engine{}

	_, err := e.Consume(&p, dec("3"))
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.True(t, p.Quantity.Equal(dec("2")), "failed consume must not mutate")
}

func TestConsumeAllowsBackorder(t *testing.T) {
	p := domain.Product{Quantity: dec("2"), BackorderAllowed: true}
	e := Engine{}

	_, err := e.Consume(&p, dec("3"))
	require.NoError(t, err)
	require.True(t, p.Quantity.Equal(dec("-1")))
}

func TestReceiveUpdatesStockAndRecordsEntrada(t *testing.T) {
	st := memory.New()
	e := newEngine(st)
	p := seed(t, st, "10", "6.0000")

	got, err := e.Receive(context.Background(), p.ID, dec("5"), dec("9.00"), nil)
	require.NoError(t, err)
	require.True(t, got.Quantity.Equal(dec("15")))
	require.True(t, got.WeightedAvgCost.Equal(dec("7.0000")))

	movements, err := st.MovementsAsc(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, domain.MovementEntrada, movements[0].Type)
	require.True(t, movements[0].UnitCost.Equal(dec("9.00")))
	require.True(t, movements[0].Before.Equal(dec("10")))
	require.True(t, movements[0].After.Equal(dec("15")))
}

func TestReceiveRejectsBadInput(t *testing.T) {
	st := memory.New()
	e := newEngine(st)
	p := seed(t, st, "0", "0")

	_, err := e.Receive(context.Background(), p.ID, dec("0"), dec("1.00"), nil)
	require.Error(t, err)

	_, err = e.Receive(context.Background(), p.ID, dec("1"), dec("-1.00"), nil)
	require.Error(t, err)

	_, err = e.Receive(context.Background(), uuid.New(), dec("1"), dec("1.00"), nil)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAdjustKeepsWeightedCost(t *testing.T) {
	st := memory.New()
	e := newEngine(st)
	p := seed(t, st, "10", "6.0000")

	got, err := e.Adjust(context.Background(), p.ID, dec("-3"), "recount")
	require.NoError(t, err)
	require.True(t, got.Quantity.Equal(dec("7")))
	require.True(t, got.WeightedAvgCost.Equal(dec("6.0000")))

	movements, err := st.MovementsAsc(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, domain.MovementAjuste, movements[0].Type)
	require.Equal(t, "recount", movements[0].Reason)
}
