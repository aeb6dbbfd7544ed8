package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Branch is a physical venue owning sections, products and orders
type Branch struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	OrderSeq  int64     `db:"order_seq" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Section is an operational sub-area of a branch with its own stock pool
type Section struct {
	ID        int64     `db:"id" json:"id"`
	BranchID  int64     `db:"branch_id" json:"branch_id"`
	Name      string    `db:"name" json:"name"`
	Function  string    `db:"function" json:"function,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Table is a dine-in table; Status/LockedByOrderID mirror the table lock
type Table struct {
	ID              int64     `db:"id" json:"id"`
	BranchID        int64     `db:"branch_id" json:"branch_id"`
	Name            string    `db:"name" json:"name"`
	Status          string    `db:"status" json:"status"`
	LockedByOrderID *int64    `db:"locked_by_order_id" json:"locked_by_order_id,omitempty"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// ProductType restricts which section functions may sell its products
type ProductType struct {
	ID               int64          `db:"id" json:"id"`
	Name             string         `db:"name" json:"name"`
	AllowedFunctions pq.StringArray `db:"allowed_functions" json:"allowed_functions"`
}

// Product represents a sellable item of a branch
type Product struct {
	ID        int64           `db:"id" json:"id"`
	BranchID  int64           `db:"branch_id" json:"branch_id"`
	TypeID    *int64          `db:"type_id" json:"type_id,omitempty"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	TaxRate   decimal.Decimal `db:"tax_rate" json:"tax_rate"`
	Archived  bool            `db:"archived" json:"archived"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Staff is only used to resolve waiter display names
type Staff struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Inventory is the branch-wide on-hand counter of a product
type Inventory struct {
	ProductID int64     `db:"product_id" json:"product_id"`
	BranchID  int64     `db:"branch_id" json:"branch_id"`
	QtyOnHand int       `db:"qty_on_hand" json:"qty_on_hand"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SectionInventory is the section-scoped on-hand counter of a product
type SectionInventory struct {
	ProductID int64     `db:"product_id" json:"product_id"`
	SectionID int64     `db:"section_id" json:"section_id"`
	QtyOnHand int       `db:"qty_on_hand" json:"qty_on_hand"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StockMovement is an immutable ledger row
type StockMovement struct {
	ID          int64          `db:"id" json:"id"`
	ProductID   int64          `db:"product_id" json:"product_id"`
	BranchID    int64          `db:"branch_id" json:"branch_id"`
	SectionFrom *int64         `db:"section_from" json:"section_from,omitempty"`
	SectionTo   *int64         `db:"section_to" json:"section_to,omitempty"`
	Delta       int            `db:"delta" json:"delta"`
	Reason      MovementReason `db:"reason" json:"reason"`
	ReferenceID string         `db:"reference_id" json:"reference_id"`
	UserID      *int64         `db:"user_id" json:"user_id,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

// ScopeSection returns the section whose counter this movement changed,
// or nil when it changed the branch counter. Decrements (and zero-delta
// sale records) apply to SectionFrom, increments to SectionTo.
func (m StockMovement) ScopeSection() *int64 {
	if m.Delta <= 0 {
		return m.SectionFrom
	}
	return m.SectionTo
}

// Order represents a sale (or a refund counter-order)
type Order struct {
	ID              int64           `db:"id" json:"id"`
	BranchID        int64           `db:"branch_id" json:"branch_id"`
	SectionID       *int64          `db:"section_id" json:"section_id,omitempty"`
	TableID         *int64          `db:"table_id" json:"table_id,omitempty"`
	UserID          int64           `db:"user_id" json:"user_id"`
	WaiterID        *int64          `db:"waiter_id" json:"waiter_id,omitempty"`
	WaiterName      string          `db:"waiter_name" json:"waiter_name,omitempty"`
	Status          OrderStatus     `db:"status" json:"status"`
	OrderNumber     int64           `db:"order_number" json:"order_number"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	Discount        decimal.Decimal `db:"discount" json:"discount"`
	Tax             decimal.Decimal `db:"tax" json:"tax"`
	TaxRate         decimal.Decimal `db:"tax_rate" json:"tax_rate"`
	Total           decimal.Decimal `db:"total" json:"total"`
	ServiceType     string          `db:"service_type" json:"service_type,omitempty"`
	Note            string          `db:"note" json:"note,omitempty"`
	ReservationKey  string          `db:"reservation_key" json:"reservation_key,omitempty"`
	RefundOfOrderID *int64          `db:"refund_of_order_id" json:"refund_of_order_id,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`

	Items    []OrderItem `db:"-" json:"items"`
	Payments []Payment   `db:"-" json:"payments"`
}

// PaidAmount sums the payments attached to the order
func (o *Order) PaidAmount() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range o.Payments {
		sum = sum.Add(p.Amount)
	}
	return sum
}

// OrderItem is a line of an order. Negative quantities are return lines.
type OrderItem struct {
	ID             int64           `db:"id" json:"id"`
	OrderID        int64           `db:"order_id" json:"order_id"`
	ProductID      int64           `db:"product_id" json:"product_id"`
	Quantity       int             `db:"quantity" json:"qty"`
	Price          decimal.Decimal `db:"price" json:"price"`
	StockSectionID *int64          `db:"stock_section_id" json:"stock_section_id,omitempty"`
}

// Payment is an append-only payment record
type Payment struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	Method    string          `db:"method" json:"method"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Reference string          `db:"reference" json:"reference,omitempty"`
	Meta      string          `db:"meta" json:"meta,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// SalesReturn is recorded for every refund that posts a negative total
type SalesReturn struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Draft is a persisted cart snapshot
type Draft struct {
	ID             int64       `db:"id" json:"id"`
	BranchID       int64       `db:"branch_id" json:"branch_id"`
	SectionID      *int64      `db:"section_id" json:"section_id,omitempty"`
	TableID        *int64      `db:"table_id" json:"table_id,omitempty"`
	UserID         int64       `db:"user_id" json:"user_id"`
	WaiterID       *int64      `db:"waiter_id" json:"waiter_id,omitempty"`
	WaiterName     string      `db:"waiter_name" json:"waiter_name,omitempty"`
	CustomerName   string      `db:"customer_name" json:"customer_name,omitempty"`
	ReservationKey string      `db:"reservation_key" json:"reservation_key"`
	Cart           DraftCart   `db:"cart" json:"cart"`
	Status         DraftStatus `db:"status" json:"status"`
	OrderID        *int64      `db:"order_id" json:"order_id,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
}

// DraftCart is the client cart as it was last saved
type DraftCart struct {
	Lines       []DraftLine      `json:"lines"`
	Subtotal    *decimal.Decimal `json:"subtotal,omitempty"`
	Tax         *decimal.Decimal `json:"tax,omitempty"`
	Discount    *decimal.Decimal `json:"discount,omitempty"`
	Total       *decimal.Decimal `json:"total,omitempty"`
	ServiceType string           `json:"service_type,omitempty"`
}

// DraftLine is one cart line of a draft
type DraftLine struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"qty"`
	Price     decimal.Decimal `json:"price"`
}

// Value stores the cart as JSON
func (c DraftCart) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads the cart from a JSON column
func (c *DraftCart) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*c = DraftCart{}
		return nil
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return fmt.Errorf("unsupported cart column type %T", src)
	}
}

// OrderStatus is the lifecycle state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusDraft          OrderStatus = "DRAFT"
	OrderStatusActive         OrderStatus = "ACTIVE"
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusSuspended      OrderStatus = "SUSPENDED"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusVoided         OrderStatus = "VOIDED"
	OrderStatusRefunded       OrderStatus = "REFUNDED"
)

// MovementReason classifies a ledger row
type MovementReason string

// Movement reasons
const (
	ReasonSale     MovementReason = "SALE"
	ReasonRefund   MovementReason = "REFUND"
	ReasonAdjust   MovementReason = "ADJUST"
	ReasonTransfer MovementReason = "TRANSFER"
)

// Valid reports whether r is a known reason
func (r MovementReason) Valid() bool {
	switch r {
	case ReasonSale, ReasonRefund, ReasonAdjust, ReasonTransfer:
		return true
	}
	return false
}

// DraftStatus is the state of a persisted cart
type DraftStatus string

// Draft statuses
const (
	DraftStatusActive    DraftStatus = "ACTIVE"
	DraftStatusSuspended DraftStatus = "SUSPENDED"
)

// Table statuses
const (
	TableStatusFree     = "FREE"
	TableStatusOccupied = "OCCUPIED"
)
