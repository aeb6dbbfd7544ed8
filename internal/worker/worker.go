package worker

import (
	"context"

	"pos-service/internal/broker"
	"pos-service/internal/models"
	"pos-service/internal/redisclient"
	"pos-service/internal/util"

	"go.uber.org/zap"
)

// StockProjector stores projected counter values
type StockProjector interface {
	ApplyStock(ctx context.Context, level redisclient.StockLevel) (bool, error)
}

// StockProjectionWorker keeps the redis stock projection in step with
// StockAdjusted events. Out-of-order and replayed events are ignored by the
// projector's sequence check.
type StockProjectionWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	projector    StockProjector
	logger       *zap.Logger
}

// NewStockProjectionWorker creates a new stock projection worker
func NewStockProjectionWorker(consumer *broker.Consumer, projector StockProjector) *StockProjectionWorker {
	w := &StockProjectionWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		projector:    projector,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnStockAdjusted(w.HandleStockAdjusted)
	return w
}

// Start starts the worker
func (w *StockProjectionWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting stock projection worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *StockProjectionWorker) Stop() error {
	w.logger.Info("Stopping stock projection worker")
	return w.consumer.Close()
}

// HandleStockAdjusted applies one event to the projection
func (w *StockProjectionWorker) HandleStockAdjusted(ctx context.Context, event *models.StockAdjustedEvent) error {
	applied, err := w.projector.ApplyStock(ctx, redisclient.StockLevel{
		ProductID: event.ProductID,
		BranchID:  event.BranchID,
		SectionID: event.SectionID,
		Quantity:  event.After,
		Seq:       event.MovementID,
	})
	if err != nil {
		util.StockProjectionUpdates.WithLabelValues("error").Inc()
		return err
	}
	if !applied {
		util.StockProjectionUpdates.WithLabelValues("stale").Inc()
		w.logger.Debug("Skipped stale stock event",
			zap.Int64("movement_id", event.MovementID),
			zap.Int64("product_id", event.ProductID))
		return nil
	}
	util.StockProjectionUpdates.WithLabelValues("applied").Inc()
	return nil
}
