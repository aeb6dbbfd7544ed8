package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeOrderRefunded      = "ORDER_REFUNDED"
	EventTypePaymentAdded       = "PAYMENT_ADDED"
	EventTypeStockAdjusted      = "STOCK_ADJUSTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// Meta returns the envelope shared by every event
func (e BaseEvent) Meta() BaseEvent { return e }

// OrderCreatedEvent published when an order is committed
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	BranchID    int64           `json:"branch_id"`
	SectionID   *int64          `json:"section_id,omitempty"`
	TableID     *int64          `json:"table_id,omitempty"`
	UserID      int64           `json:"user_id"`
	OrderNumber int64           `json:"order_number"`
	Status      OrderStatus     `json:"status"`
	Total       decimal.Decimal `json:"total"`
	Items       []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published on every lifecycle transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID int64       `json:"order_id"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
}

// OrderRefundedEvent published for full refunds and partial counter-orders
type OrderRefundedEvent struct {
	BaseEvent
	OrderID        int64           `json:"order_id"`
	CounterOrderID *int64          `json:"counter_order_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Partial        bool            `json:"partial"`
}

// PaymentAddedEvent published when a payment is appended to an order
type PaymentAddedEvent struct {
	BaseEvent
	OrderID   int64           `json:"order_id"`
	PaymentID int64           `json:"payment_id"`
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
}

// StockAdjustedEvent published for every committed ledger row
type StockAdjustedEvent struct {
	BaseEvent
	MovementID int64          `json:"movement_id"`
	ProductID  int64          `json:"product_id"`
	BranchID   int64          `json:"branch_id"`
	SectionID  *int64         `json:"section_id,omitempty"`
	Delta      int            `json:"delta"`
	After      int            `json:"after"`
	Reason     MovementReason `json:"reason"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}
