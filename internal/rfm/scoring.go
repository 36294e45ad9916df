// Package rfm classifies customers by Recency, Frequency and Monetary value
// of past purchases. Scores are derived, non-authoritative, recomputed out
// of band, and never read while checkout holds row locks.
package rfm

import (
	"sort"
	"time"

	"github.com/lojaops/backend-loja/internal/domain"
)

// Segment labels derived from the combined scores.
const (
	SegmentChampion = "champion"
	SegmentLoyal    = "loyal"
	SegmentAtRisk   = "at_risk"
	SegmentLost     = "lost"
	SegmentRegular  = "regular"
)

// Segment maps the three 1..5 scores onto a named segment.
func Segment(recency, frequency, monetary int) string {
	switch {
	case recency >= 4 && frequency >= 4 && monetary >= 4:
		return SegmentChampion
	case frequency >= 4 && monetary >= 4:
		return SegmentLoyal
	case recency >= 4 && frequency <= 2:
		return SegmentAtRisk
	case recency <= 2 && frequency <= 2 && monetary <= 2:
		return SegmentLost
	default:
		return SegmentRegular
	}
}

// ScoreAll buckets every customer 1..5 per dimension by quantile against the
// whole population. Recency is inverted: buying recently scores high.
func ScoreAll(aggregates []domain.CustomerAggregate, now time.Time) []domain.RFMScore {
	if len(aggregates) == 0 {
		return nil
	}
	recency := make([]float64, 0, len(aggregates))
	frequency := make([]float64, 0, len(aggregates))
	monetary := make([]float64, 0, len(aggregates))
	for _, agg := range aggregates {
		recency = append(recency, -float64(agg.RecencyDays))
		frequency = append(frequency, float64(agg.Frequency))
		monetary = append(monetary, agg.Monetary.InexactFloat64())
	}
	sort.Float64s(recency)
	sort.Float64s(frequency)
	sort.Float64s(monetary)

	scores := make([]domain.RFMScore, 0, len(aggregates))
	for _, agg := range aggregates {
		r := quintile(recency, -float64(agg.RecencyDays))
		f := quintile(frequency, float64(agg.Frequency))
		m := quintile(monetary, agg.Monetary.InexactFloat64())
		scores = append(scores, domain.RFMScore{
			CustomerID:     agg.CustomerID,
			RecencyScore:   r,
			FrequencyScore: f,
			MonetaryScore:  m,
			Segment:        Segment(r, f, m),
			ComputedAt:     now,
		})
	}
	return scores
}

// quintile returns 1..5 for v given the sorted population values, based on
// the fraction of the population strictly below v.
func quintile(sorted []float64, v float64) int {
	below := sort.SearchFloat64s(sorted, v)
	score := int(float64(below)/float64(len(sorted))*5) + 1
	if score > 5 {
		score = 5
	}
	return score
}
