package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_orders_created_total",
		Help: "Total number of orders created by initial status",
	}, []string{"status"})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_orders_failed_total",
		Help: "Total number of rejected order creations",
	}, []string{"reason"})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_order_transitions_total",
		Help: "Total number of order status transitions",
	}, []string{"from", "to"})

	RefundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_refunds_total",
		Help: "Total number of refunds",
	}, []string{"kind"})

	PaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_payments_total",
		Help: "Total number of payments recorded",
	}, []string{"method"})

	TableConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_table_conflicts_total",
		Help: "Total number of operations rejected because a table was held",
	})

	IdempotentReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_idempotent_replays_total",
		Help: "Total number of order creations answered from the idempotency cache",
	})

	StockAdjustmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_stock_adjustments_total",
		Help: "Total number of stock movements written",
	}, []string{"reason"})

	InsufficientStockTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_insufficient_stock_total",
		Help: "Total number of decrements rejected for insufficient stock",
	}, []string{"scope"})

	StockAdjustLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pos_stock_adjust_latency_seconds",
		Help:    "Latency of transactional stock adjustments",
		Buckets: prometheus.DefBuckets,
	})

	ReservationUnitsNetted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_reservation_units_netted_total",
		Help: "Total number of reserved units consumed by sales instead of decremented again",
	})

	ReservationsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_reservations_swept_total",
		Help: "Total number of expired reservation units released by the sweeper",
	})

	StockProjectionUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_stock_projection_updates_total",
		Help: "Stock projection writes by outcome",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
