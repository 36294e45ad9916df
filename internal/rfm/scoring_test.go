package rfm

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lojaops/backend-loja/internal/domain"
)

func TestSegmentMapping(t *testing.T) {
	cases := []struct {
		r, f, m int
		want    string
	}{
		{5, 5, 5, SegmentChampion},
		{4, 4, 4, SegmentChampion},
		{2, 5, 5, SegmentLoyal},
		{5, 1, 3, SegmentAtRisk},
		{1, 1, 1, SegmentLost},
		{2, 2, 2, SegmentLost},
		{3, 3, 3, SegmentRegular},
		{1, 3, 5, SegmentRegular},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Segment(tc.r, tc.f, tc.m),
			"r=%d f=%d m=%d", tc.r, tc.f, tc.m)
	}
}

func TestScoreAllQuintilesAgainstPopulation(t *testing.T) {
	now := time.Now()
	mk := func(days int, freq int64, money string) domain.CustomerAggregate {
		return domain.CustomerAggregate{
			CustomerID:  uuid.New(),
			RecencyDays: days,
			Frequency:   freq,
			Monetary:    decimal.RequireFromString(money),
		}
	}
	aggregates := []domain.CustomerAggregate{
		mk(1, 50, "1000"),
		mk(10, 20, "500"),
		mk(30, 10, "250"),
		mk(90, 5, "100"),
		mk(300, 1, "10"),
	}

	scores := ScoreAll(aggregates, now)
	require.Len(t, scores, 5)

	byID := make(map[uuid.UUID]domain.RFMScore, len(scores))
	for _, s := range scores {
		byID[s.CustomerID] = s
	}

	best := byID[aggregates[0].CustomerID]
	require.Equal(t, 5, best.RecencyScore, "most recent buyer scores highest recency")
	require.Equal(t, 5, best.FrequencyScore)
	require.Equal(t, 5, best.MonetaryScore)
	require.Equal(t, SegmentChampion, best.Segment)

	worst := byID[aggregates[4].CustomerID]
	require.Equal(t, 1, worst.RecencyScore)
	require.Equal(t, 1, worst.FrequencyScore)
	require.Equal(t, 1, worst.MonetaryScore)
	require.Equal(t, SegmentLost, worst.Segment)

	mid := byID[aggregates[2].CustomerID]
	require.Equal(t, SegmentRegular, mid.Segment)

	for _, s := range scores {
		require.GreaterOrEqual(t, s.RecencyScore, 1)
		require.LessOrEqual(t, s.RecencyScore, 5)
		require.True(t, s.ComputedAt.Equal(now))
	}
}

func TestScoreAllEmptyPopulation(t *testing.T) {
	require.Nil(t, ScoreAll(nil, time.Now()))
}
