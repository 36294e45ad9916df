// Package tasks defines the background jobs the API enqueues after a sale
// commits. The jobs are deliberately cheap to re-run: RFM scoring is a full
// recompute and the low stock check reads current state, so at-least-once
// delivery is safe.
package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	TypeRFMRefresh    = "rfm:refresh"
	TypeLowStockCheck = "stock:lowcheck"
)

// RFMRefreshPayload asks the worker to rescore one customer.
type RFMRefreshPayload struct {
	CustomerID uuid.UUID `json:"customerId"`
}

// LowStockCheckPayload asks the worker to check the given products against
// their minimum stock levels.
type LowStockCheckPayload struct {
	ProductIDs []uuid.UUID `json:"productIds"`
}

// Enqueuer wraps the asynq client with the task vocabulary of this service.
type Enqueuer struct {
	Client *asynq.Client
}

// EnqueueRFMRefresh schedules a rescore for the customer. A short unique
// window collapses bursts from rapid consecutive sales.
func (e Enqueuer) EnqueueRFMRefresh(ctx context.Context, customerID uuid.UUID) error {
	payload, err := json.Marshal(RFMRefreshPayload{CustomerID: customerID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypeRFMRefresh, payload)
	_, err = e.Client.EnqueueContext(ctx, task,
		asynq.MaxRetry(5),
		asynq.Unique(time.Minute),
	)
	if err == asynq.ErrDuplicateTask {
		return nil
	}
	return err
}

// EnqueueLowStockCheck schedules a threshold check for the products touched
// by a sale.
func (e Enqueuer) EnqueueLowStockCheck(ctx context.Context, productIDs []uuid.UUID) error {
	if len(productIDs) == 0 {
		return nil
	}
	payload, err := json.Marshal(LowStockCheckPayload{ProductIDs: productIDs})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypeLowStockCheck, payload)
	_, err = e.Client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
	return err
}
