package alerts

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lojaops/backend-loja/internal/common"
	"github.com/lojaops/backend-loja/internal/domain"
	"github.com/lojaops/backend-loja/internal/store/memory"
)

func seed(t *testing.T, st *memory.Store, name, qty, minStock string, active bool) domain.Product {
	t.Helper()
	p, err := st.CreateProduct(context.Background(), domain.Product{
		Barcode:   uuid.NewString(),
		Name:      name,
		Quantity:  decimal.RequireFromString(qty),
		MinStock:  decimal.RequireFromString(minStock),
		SalePrice: decimal.RequireFromString("1.00"),
		Active:    active,
	})
	require.NoError(t, err)
	return p
}

func TestCheckEmailsOnlyBelowMinimum(t *testing.T) {
	st := memory.New()
	outbox := &common.InMemoryEmail{}
	check := LowStock{Store: st, Email: outbox, To: "dono@loja.example", Logger: zerolog.Nop()}

	low := seed(t, st, "Açúcar", "1", "5", true)
	seed(t, st, "Sal", "20", "5", true)
	seed(t, st, "Descontinuado", "0", "5", false)
	seed(t, st, "Sem mínimo", "0", "0", true)

	got, err := check.Check(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, low.ID, got[0].ID)

	require.Len(t, outbox.Outbox, 1)
	require.Equal(t, "dono@loja.example", outbox.Outbox[0].To)
	require.Contains(t, outbox.Outbox[0].Subject, "Açúcar")
	require.Contains(t, outbox.Outbox[0].HTML, low.Barcode)
}

func TestCheckScopedToGivenProducts(t *testing.T) {
	st := memory.New()
	outbox := &common.InMemoryEmail{}
	check := LowStock{Store: st, Email: outbox, To: "dono@loja.example", Logger: zerolog.Nop()}

	inScope := seed(t, st, "Farinha", "1", "4", true)
	seed(t, st, "Leite", "0", "6", true)

	got, err := check.Check(context.Background(), []uuid.UUID{inScope.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, inScope.ID, got[0].ID)
}

func TestCheckNoEmailWhenNothingLow(t *testing.T) {
	st := memory.New()
	outbox := &common.InMemoryEmail{}
	check := LowStock{Store: st, Email: outbox, To: "dono@loja.example", Logger: zerolog.Nop()}

	seed(t, st, "Macarrão", "10", "2", true)

	got, err := check.Check(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, got)
	require.Empty(t, outbox.Outbox)
}
