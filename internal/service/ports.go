package service

import (
	"context"
	"time"

	"pos-service/internal/models"
)

// EventPublisher publishes domain events after a transaction commits.
// Publishing is best effort: failures are logged, never returned to callers.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishOrderRefunded(ctx context.Context, event *models.OrderRefundedEvent) error
	PublishPaymentAdded(ctx context.Context, event *models.PaymentAddedEvent) error
	PublishStockAdjusted(ctx context.Context, event *models.StockAdjustedEvent) error
}

// IdempotencyStore remembers which order a client request key produced
type IdempotencyStore interface {
	// ClaimIdempotencyKey reserves key for a new request. When the key was
	// already completed it returns the order ID; when another request holds
	// it, claimed is false and orderID is 0.
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (orderID int64, claimed bool, err error)
	CompleteIdempotencyKey(ctx context.Context, key string, orderID int64, ttl time.Duration) error
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

type nopPublisher struct{}

func (nopPublisher) PublishOrderCreated(context.Context, *models.OrderCreatedEvent) error { return nil }
func (nopPublisher) PublishOrderStatusChanged(context.Context, *models.OrderStatusChangedEvent) error {
	return nil
}
func (nopPublisher) PublishOrderRefunded(context.Context, *models.OrderRefundedEvent) error { return nil }
func (nopPublisher) PublishPaymentAdded(context.Context, *models.PaymentAddedEvent) error   { return nil }
func (nopPublisher) PublishStockAdjusted(context.Context, *models.StockAdjustedEvent) error { return nil }

func publisherOrNop(p EventPublisher) EventPublisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}
