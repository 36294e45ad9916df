package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/lojaops/backend-loja/internal/alerts"
	"github.com/lojaops/backend-loja/internal/obs"
	"github.com/lojaops/backend-loja/internal/rfm"
	"github.com/lojaops/backend-loja/internal/store"
)

// Handlers processes the background jobs on the worker side.
type Handlers struct {
	RFM      *rfm.Service
	LowStock alerts.LowStock
	Logger   zerolog.Logger
}

// Register attaches the handlers to the asynq mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeRFMRefresh, h.HandleRFMRefresh)
	mux.HandleFunc(TypeLowStockCheck, h.HandleLowStockCheck)
}

func (h *Handlers) HandleRFMRefresh(ctx context.Context, t *asynq.Task) error {
	var payload RFMRefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("%s: decode payload: %w", TypeRFMRefresh, asynq.SkipRetry)
	}
	score, err := h.RFM.Score(ctx, payload.CustomerID, 0)
	if errors.Is(err, store.ErrNotFound) {
		// No purchases inside the scoring window. Nothing to score, and
		// retrying will not change that.
		h.Logger.Debug().Str("customer_id", payload.CustomerID.String()).Msg("customer has no scorable purchases")
		return nil
	}
	if err != nil {
		obs.IncRFMRefresh("failed")
		return fmt.Errorf("rescore customer %s: %w", payload.CustomerID, err)
	}
	obs.IncRFMRefresh("success")
	h.Logger.Info().
		Str("customer_id", payload.CustomerID.String()).
		Str("segment", score.Segment).
		Int("recency", score.RecencyScore).
		Int("frequency", score.FrequencyScore).
		Int("monetary", score.MonetaryScore).
		Msg("rfm score refreshed")
	return nil
}

func (h *Handlers) HandleLowStockCheck(ctx context.Context, t *asynq.Task) error {
	var payload LowStockCheckPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("%s: decode payload: %w", TypeLowStockCheck, asynq.SkipRetry)
	}
	if _, err := h.LowStock.Check(ctx, payload.ProductIDs); err != nil {
		return fmt.Errorf("low stock check: %w", err)
	}
	return nil
}
