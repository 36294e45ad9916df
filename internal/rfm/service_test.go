package rfm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lojaops/backend-loja/internal/domain"
	"github.com/lojaops/backend-loja/internal/store"
	"github.com/lojaops/backend-loja/internal/store/memory"
)

func newService(t *testing.T) (*Service, *memory.Store, *miniredis.Miniredis) {
	t.Helper()
	st := memory.New()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := &Service{Store: st, R: client, SegmentTTL: time.Hour, WindowDays: 365}
	return svc, st, mr
}

func insertSale(t *testing.T, st *memory.Store, customerID uuid.UUID, total string, daysAgo int) {
	t.Helper()
	err := st.WithinTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertSale(context.Background(), domain.Sale{
			ID:            uuid.New(),
			Code:          uuid.NewString(),
			EmployeeID:    uuid.New(),
			CustomerID:    &customerID,
			Status:        domain.SaleStatusFinalized,
			Total:         decimal.RequireFromString(total),
			PaymentMethod: "pix",
			CreatedAt:     time.Now().AddDate(0, 0, -daysAgo),
		})
	})
	require.NoError(t, err)
}

func TestScorePersistsAndCachesSegment(t *testing.T) {
	svc, st, mr := newService(t)
	ctx := context.Background()

	heavy := uuid.New()
	for i := 0; i < 5; i++ {
		insertSale(t, st, heavy, "200.00", i+1)
	}
	// Population filler so the quintiles have spread.
	for i := 0; i < 4; i++ {
		insertSale(t, st, uuid.New(), fmt.Sprintf("%d.00", (i+1)*10), 100+30*i)
	}

	score, err := svc.Score(ctx, heavy, 0)
	require.NoError(t, err)
	require.Equal(t, heavy, score.CustomerID)
	require.Equal(t, SegmentChampion, score.Segment)

	persisted, err := st.GetRFMScore(ctx, heavy)
	require.NoError(t, err)
	require.Equal(t, score.Segment, persisted.Segment)

	cached, err := mr.Get("rfm:segment:" + heavy.String())
	require.NoError(t, err)
	require.Equal(t, score.Segment, cached)
}

func TestScoreUnknownCustomer(t *testing.T) {
	svc, st, _ := newService(t)
	insertSale(t, st, uuid.New(), "10.00", 1)

	_, err := svc.Score(context.Background(), uuid.New(), 0)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSegmentCachedPrefersRedis(t *testing.T) {
	svc, _, mr := newService(t)
	customer := uuid.New()
	require.NoError(t, mr.Set("rfm:segment:"+customer.String(), SegmentLoyal))

	require.Equal(t, SegmentLoyal, svc.SegmentCached(context.Background(), customer))
}

func TestSegmentCachedFallsBackToStore(t *testing.T) {
	svc, st, mr := newService(t)
	customer := uuid.New()
	require.NoError(t, st.UpsertRFMScore(context.Background(), domain.RFMScore{
		CustomerID: customer,
		Segment:    SegmentAtRisk,
		ComputedAt: time.Now(),
	}))

	require.Equal(t, SegmentAtRisk, svc.SegmentCached(context.Background(), customer))
	// The fallback warms the cache.
	cached, err := mr.Get("rfm:segment:" + customer.String())
	require.NoError(t, err)
	require.Equal(t, SegmentAtRisk, cached)
}

func TestSegmentCachedUnknownCustomerIsEmpty(t *testing.T) {
	svc, _, _ := newService(t)
	require.Equal(t, "", svc.SegmentCached(context.Background(), uuid.New()))
}
