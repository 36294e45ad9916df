package checkout

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lojaops/backend-loja/internal/audit"
	"github.com/lojaops/backend-loja/internal/auth"
	"github.com/lojaops/backend-loja/internal/common"
	"github.com/lojaops/backend-loja/internal/config"
	"github.com/lojaops/backend-loja/internal/domain"
	"github.com/lojaops/backend-loja/internal/ledger"
	"github.com/lojaops/backend-loja/internal/store/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newService(st *memory.Store) *Service {
	trail := audit.Trail{Store: st}
	return &Service{
		Store:  st,
		Ledger: ledger.Engine{Store: st, Trail: trail},
		Discount: config.DiscountConfig{
			BaseCeilingPercent:     dec("10"),
			ExtendedCeilingPercent: dec("20"),
			EligibleSegments:       []string{"champion", "loyal"},
		},
		Payment: config.PaymentConfig{
			AcceptedMethods: []string{"cash", "debit", "credit", "pix"},
			CashMethod:      "cash",
		},
		Logger: zerolog.Nop(),
	}
}

func cashier() auth.Principal {
	return auth.Principal{EmployeeID: uuid.New(), Role: auth.RoleCashier, Status: "active"}
}

func seedProduct(t *testing.T, st *memory.Store, qty, avgCost, price string) domain.Product {
	t.Helper()
	p, err := st.CreateProduct(context.Background(), domain.Product{
		Barcode:         uuid.NewString(),
		Name:            "product",
		Quantity:        dec(qty),
		WeightedAvgCost: dec(avgCost),
		SalePrice:       dec(price),
		Active:          true,
	})
	require.NoError(t, err)
	return p
}

func TestFinalizeSaleHappyPath(t *testing.T) {
	st := memory.New()
	svc := newService(st)
	p := seedProduct(t, st, "10", "6.0000", "10.00")

	out, err := svc.FinalizeSale(context.Background(), cashier(), SaleInput{
		PaymentMethod: "debit",
		Lines: []LineInput{
			{ProductID: p.ID, Quantity: dec("2")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, domain.SaleStatusFinalized, out.Sale.Status)
	require.True(t, out.Sale.Total.Equal(dec("20.00")), "total %s", out.Sale.Total)
	require.Len(t, out.Lines, 1)
	require.True(t, out.Lines[0].CostBasisAtSale.Equal(dec("6.0000")))
	require.True(t, out.Lines[0].RealMargin.Equal(dec("8.00")), "margin %s", out.Lines[0].RealMargin)

	got, err := st.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	require.True(t, got.Quantity.Equal(dec("8")))
	require.True(t, got.WeightedAvgCost.Equal(dec("6.0000")), "sales must not move the weighted cost")

	movements, err := st.MovementsAsc(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, domain.MovementSaida, movements[0].Type)
	require.Equal(t, out.Sale.ID, *movements[0].ReferenceID)
	require.True(t, movements[0].Before.Equal(dec("10")))
	require.True(t, movements[0].After.Equal(dec("8")))
}

func TestFinalizeSaleCashChange(t *testing.T) {
	st := memory.New()
	svc := newService(st)
	p := seedProduct(t, st, "5", "3.0000", "7.50")

	tendered := dec("20.00")
	out, err := svc.FinalizeSale(context.Background(), cashier(), SaleInput{
		PaymentMethod: "cash",
		CashTendered:  &tendered,
		Lines:         []LineInput{{ProductID: p.ID, Quantity: dec("2")}},
	})
	require.NoError(t, err)
	require.NotNil(t, out.Change)
	require.True(t, out.Change.Equal(dec("5.00")), "change %s", out.Change)

	short := dec("10.00")
	_, err = svc.FinalizeSale(context.Background(), cashier(), SaleInput{
		PaymentMethod: "cash",
		CashTendered:  &short,
		Lines:         []LineInput{{ProductID: p.ID, Quantity: dec("2")}},
	})
	requireCode(t, err, common.CodeValidation)

	_, err = svc.FinalizeSale(context.Background(), cashier(), SaleInput{
		PaymentMethod: "cash",
		Lines:         []LineInput{{ProductID: p.ID, Quantity: dec("1")}},
	})
	requireCode(t, err, common.CodeValidation)
}

func TestFinalizeSaleNamesEveryFailingProduct(t *testing.T) {
	st := memory.New()
	svc := newService(st)
	short1 := seedProduct(t, st, "1", "2.0000", "4.00")
	short2 := seedProduct(t, st, "0", "2.0000", "4.00")
	fine := seedProduct(t, st, "50", "2.0000", "4.00")

	_, err := svc.FinalizeSale(context.Background(), cashier(), SaleInput{
		PaymentMethod: "debit",
		Lines: []LineInput{
			{ProductID: short1.ID, Quantity: dec("3")},
			{ProductID: fine.ID, Quantity: dec("1")},
			{ProductID: short2.ID, Quantity: dec("1")},
		},
	})
	appErr := requireCode(t, err, common.CodeInsufficientStock)
	details, ok := appErr.Details.(map[string]any)
	require.True(t, ok)
	ids, ok := details["productIds"].([]string)
	require.True(t, ok)
	require.ElementsMatch(t, []string{short1.ID.String(), short2.ID.String()}, ids)

	// Nothing moved.
	got, err := st.GetProduct(context.Background(), fine.ID)
	require.NoError(t, err)
	require.True(t, got.Quantity.Equal(dec("50")))
}

func TestFinalizeSaleAtomicityOnFailure(t *testing.T) {
	st := memory.New()
	svc := newService(st)
	ok := seedProduct(t, st, "10", "1.0000", "2.00")
	missing := uuid.New()

	_, err := svc.FinalizeSale(context.Background(), cashier(), SaleInput{
		PaymentMethod: "debit",
		Lines: []LineInput{
			{ProductID: ok.ID, Quantity: dec("5")},
			{ProductID: missing, Quantity: dec("1")},
		},
	})
	requireCode(t, err, common.CodeValidation)

	got, err := st.GetProduct(context.Background(), ok.ID)
	require.NoError(t, err)
	require.True(t, got.Quantity.Equal(dec("10")), "failed sale must not consume stock")

	sales, err := st.ListSales(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Empty(t, sales)

	movements, err := st.MovementsAsc(context.Background(), ok.ID)
	require.NoError(t, err)
	require.Empty(t, movements)
}

func TestFinalizeSaleConcurrentNoOversell(t *testing.T) {
	st := memory.New()
	svc := newService(st)
	p := seedProduct(t, st, "5", "1.0000", "2.00")

	const workers = 2
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.FinalizeSale(context.Background(), cashier(), SaleInput{
				PaymentMethod: "debit",
				Lines:         []LineInput{{ProductID: p.ID, Quantity: dec("3")}},
			})
		}(i)
	}
	wg.Wait()

	var okCount, stockCount int
	for _, err := range errs {
		if err == nil {
			okCount++
			continue
		}
		requireCode(t, err, common.CodeInsufficientStock)
		stockCount++
	}
	require.Equal(t, 1, okCount)
	require.Equal(t, 1, stockCount)

	got, err := st.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	require.True(t, got.Quantity.Equal(dec("2")), "exactly one sale of 3 must land, got quantity %s", got.Quantity)
}

func TestFinalizeSaleDiscountCeiling(t *testing.T) {
	st := memory.New()
	svc := newService(st)
	p := seedProduct(t, st, "10", "1.0000", "10.00")

	_, err := svc.FinalizeSale(context.Background(), cashier(), SaleInput{
		PaymentMethod: "debit",
		Lines:         []LineInput{{ProductID: p.ID, Quantity: dec("1"), DiscountPercent: dec("15")}},
	})
	requireCode(t, err, common.CodeValidation)

	senior := auth.Principal{EmployeeID: uuid.New(), Role: auth.RoleCashier, Status: "active", DiscountCeiling: dec("15")}
	out, err := svc.FinalizeSale(context.Background(), senior, SaleInput{
		PaymentMethod: "debit",
		Lines:         []LineInput{{ProductID: p.ID, Quantity: dec("1"), DiscountPercent: dec("15")}},
	})
	require.NoError(t, err)
	require.True(t, out.Sale.Total.Equal(dec("8.50")))
}

type staticSegments struct{ segment string }

func (s staticSegments) SegmentCached(context.Context, uuid.UUID) string { return s.segment }

func TestFinalizeSaleExtendedCeilingForEligibleSegment(t *testing.T) {
	st := memory.New()
	svc := newService(st)
	svc.Segments = staticSegments{segment: "champion"}
	p := seedProduct(t, st, "10", "1.0000", "10.00")
	customer := uuid.New()

	out, err := svc.FinalizeSale(context.Background(), cashier(), SaleInput{
		CustomerID:    &customer,
		PaymentMethod: "debit",
		Lines:         []LineInput{{ProductID: p.ID, Quantity: dec("1"), DiscountPercent: dec("18")}},
	})
	require.NoError(t, err)
	require.True(t, out.Sale.DiscountTotal.Equal(dec("1.80")))

	svc.Segments = staticSegments{segment: "regular"}
	_, err = svc.FinalizeSale(context.Background(), cashier(), SaleInput{
		CustomerID:    &customer,
		PaymentMethod: "debit",
		Lines:         []LineInput{{ProductID: p.ID, Quantity: dec("1"), DiscountPercent: dec("18")}},
	})
	requireCode(t, err, common.CodeValidation)
}

func TestFinalizeSalePriceOverrideRequiresManager(t *testing.T) {
	st := memory.New()
	svc := newService(st)
	p := seedProduct(t, st, "10", "1.0000", "10.00")
	override := dec("8.00")

	_, err := svc.FinalizeSale(context.Background(), cashier(), SaleInput{
		PaymentMethod: "debit",
		Lines:         []LineInput{{ProductID: p.ID, Quantity: dec("1"), UnitPrice: &override}},
	})
	requireCode(t, err, common.CodeValidation)

	manager := auth.Principal{EmployeeID: uuid.New(), Role: auth.RoleManager, Status: "active", DiscountCeiling: dec("10")}
	out, err := svc.FinalizeSale(context.Background(), manager, SaleInput{
		PaymentMethod: "debit",
		Lines:         []LineInput{{ProductID: p.ID, Quantity: dec("1"), UnitPrice: &override}},
	})
	require.NoError(t, err)
	require.True(t, out.Sale.Total.Equal(dec("8.00")))
}

func TestFinalizeSaleBackorderAllowed(t *testing.T) {
	st := memory.New()
	svc := newService(st)
	p, err := st.CreateProduct(context.Background(), domain.Product{
		Barcode:          uuid.NewString(),
		Name:             "backorderable",
		Quantity:         dec("1"),
		WeightedAvgCost:  dec("2.0000"),
		SalePrice:        dec("5.00"),
		BackorderAllowed: true,
		Active:           true,
	})
	require.NoError(t, err)

	out, err := svc.FinalizeSale(context.Background(), cashier(), SaleInput{
		PaymentMethod: "debit",
		Lines:         []LineInput{{ProductID: p.ID, Quantity: dec("3")}},
	})
	require.NoError(t, err)
	require.Len(t, out.Lines, 1)

	got, err := st.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	require.True(t, got.Quantity.Equal(dec("-2")))
}

func TestFinalizeSaleZeroCostBasisFlagged(t *testing.T) {
	st := memory.New()
	svc := newService(st)
	p := seedProduct(t, st, "10", "0", "10.00")

	out, err := svc.FinalizeSale(context.Background(), cashier(), SaleInput{
		PaymentMethod: "debit",
		Lines:         []LineInput{{ProductID: p.ID, Quantity: dec("1")}},
	})
	require.NoError(t, err)
	require.True(t, out.Lines[0].CostBasisUnknown)
	require.True(t, out.Lines[0].RealMargin.Equal(dec("10.00")))
}

func TestFinalizeSaleInactiveEmployee(t *testing.T) {
	st := memory.New()
	svc := newService(st)
	p := seedProduct(t, st, "10", "1.0000", "2.00")

	suspended := auth.Principal{EmployeeID: uuid.New(), Role: auth.RoleCashier, Status: "suspended"}
	_, err := svc.FinalizeSale(context.Background(), suspended, SaleInput{
		PaymentMethod: "debit",
		Lines:         []LineInput{{ProductID: p.ID, Quantity: dec("1")}},
	})
	requireCode(t, err, common.CodeForbidden)
}

func TestCancelSaleRestoresStockExactlyOnce(t *testing.T) {
	st := memory.New()
	svc := newService(st)
	p := seedProduct(t, st, "10", "6.0000", "10.00")

	out, err := svc.FinalizeSale(context.Background(), cashier(), SaleInput{
		PaymentMethod: "debit",
		Lines:         []LineInput{{ProductID: p.ID, Quantity: dec("4")}},
	})
	require.NoError(t, err)

	// Bump the weighted cost between sale and cancellation. The restock must
	// not recompute it.
	_, err = svc.Ledger.Receive(context.Background(), p.ID, dec("6"), dec("9.0000"), nil)
	require.NoError(t, err)
	mid, err := st.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	costBeforeCancel := mid.WeightedAvgCost

	canceled, err := svc.CancelSale(context.Background(), cashier(), out.Sale.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SaleStatusCanceled, canceled.Status)
	require.NotNil(t, canceled.CanceledAt)

	got, err := st.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	require.True(t, got.Quantity.Equal(mid.Quantity.Add(dec("4"))))
	require.True(t, got.WeightedAvgCost.Equal(costBeforeCancel), "cancel must not touch the weighted cost")

	movements, err := st.MovementsAsc(context.Background(), p.ID)
	require.NoError(t, err)
	last := movements[len(movements)-1]
	require.Equal(t, domain.MovementAjuste, last.Type)
	require.Equal(t, out.Sale.ID, *last.ReferenceID)

	// A second cancel is an illegal state transition and must not restock.
	_, err = svc.CancelSale(context.Background(), cashier(), out.Sale.ID)
	requireCode(t, err, common.CodeInvalidState)
	after, err := st.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	require.True(t, after.Quantity.Equal(got.Quantity))
}

func TestCancelSaleUnknownID(t *testing.T) {
	st := memory.New()
	svc := newService(st)

	_, err := svc.CancelSale(context.Background(), cashier(), uuid.New())
	requireCode(t, err, common.CodeNotFound)
}

func TestLedgerReplayMatchesAfterSaleAndCancel(t *testing.T) {
	st := memory.New()
	svc := newService(st)
	trail := svc.Ledger.Trail
	p := seedProduct(t, st, "0", "0", "10.00")

	_, err := svc.Ledger.Receive(context.Background(), p.ID, dec("10"), dec("5.00"), nil)
	require.NoError(t, err)

	out, err := svc.FinalizeSale(context.Background(), cashier(), SaleInput{
		PaymentMethod: "pix",
		Lines:         []LineInput{{ProductID: p.ID, Quantity: dec("4")}},
	})
	require.NoError(t, err)

	_, err = svc.CancelSale(context.Background(), cashier(), out.Sale.ID)
	require.NoError(t, err)

	replayed, err := trail.Replay(context.Background(), p.ID)
	require.NoError(t, err)
	got, err := st.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	require.True(t, replayed.Equal(got.Quantity), "replay %s vs stored %s", replayed, got.Quantity)
}

func requireCode(t *testing.T, err error, code string) *common.AppError {
	t.Helper()
	require.Error(t, err)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, code, appErr.Code)
	return appErr
}
