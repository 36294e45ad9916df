package rfm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lojaops/backend-loja/internal/domain"
	"github.com/lojaops/backend-loja/internal/store"
)

// Service scores customers and caches the resulting segment. The checkout
// coordinator reads only the cached segment, and only before taking locks.
type Service struct {
	Store      store.Store
	R          *redis.Client
	SegmentTTL time.Duration
	WindowDays int
	Now        func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func segmentKey(customerID uuid.UUID) string {
	return fmt.Sprintf("rfm:segment:%s", customerID)
}

// Score recomputes the population quantiles over the scoring window,
// persists the requested customer's score and refreshes its cached segment.
func (s *Service) Score(ctx context.Context, customerID uuid.UUID, windowDays int) (domain.RFMScore, error) {
	if s == nil || s.Store == nil {
		return domain.RFMScore{}, errors.New("rfm: service not configured")
	}
	if windowDays <= 0 {
		windowDays = s.WindowDays
	}
	if windowDays <= 0 {
		windowDays = 365
	}
	now := s.now()
	since := now.AddDate(0, 0, -windowDays)
	aggregates, err := s.Store.CustomerAggregates(ctx, since)
	if err != nil {
		return domain.RFMScore{}, err
	}
	for _, score := range ScoreAll(aggregates, now) {
		if score.CustomerID != customerID {
			continue
		}
		if err := s.Store.UpsertRFMScore(ctx, score); err != nil {
			return domain.RFMScore{}, err
		}
		s.cacheSegment(ctx, customerID, score.Segment)
		return score, nil
	}
	return domain.RFMScore{}, store.ErrNotFound
}

// SegmentCached returns the customer's segment without touching the sales
// tables: Redis first, then the persisted score cache. An unknown customer
// simply has no segment.
func (s *Service) SegmentCached(ctx context.Context, customerID uuid.UUID) string {
	if s == nil {
		return ""
	}
	if s.R != nil {
		if segment, err := s.R.Get(ctx, segmentKey(customerID)).Result(); err == nil && segment != "" {
			return segment
		}
	}
	if s.Store == nil {
		return ""
	}
	score, err := s.Store.GetRFMScore(ctx, customerID)
	if err != nil {
		return ""
	}
	s.cacheSegment(ctx, customerID, score.Segment)
	return score.Segment
}

func (s *Service) cacheSegment(ctx context.Context, customerID uuid.UUID, segment string) {
	if s.R == nil || segment == "" {
		return
	}
	ttl := s.SegmentTTL
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	_ = s.R.Set(ctx, segmentKey(customerID), segment, ttl).Err()
}
