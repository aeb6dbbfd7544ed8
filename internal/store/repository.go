package store

import (
	"context"
	"time"

	"pos-service/internal/models"

	"github.com/shopspring/decimal"
)

// Repository is the persistence boundary used by the services. WithTx runs fn
// inside one ACID transaction and rolls back on any error; View runs
// read-only queries outside a transaction.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(q Queries) error) error
}

// Queries are reads available both inside and outside a transaction.
// Lookups of missing rows return errs.NotFound.
type Queries interface {
	GetBranch(ctx context.Context, id int64) (*models.Branch, error)
	FirstBranch(ctx context.Context) (*models.Branch, error)
	GetSection(ctx context.Context, id int64) (*models.Section, error)
	FindSectionByName(ctx context.Context, branchID int64, name string) (*models.Section, error)
	GetTable(ctx context.Context, id int64) (*models.Table, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	GetProductType(ctx context.Context, id int64) (*models.ProductType, error)
	GetStaffName(ctx context.Context, id int64) (string, error)

	// GetInventory returns 0 for counters that were never created
	GetInventory(ctx context.Context, productID, branchID int64) (int, error)
	GetSectionInventory(ctx context.Context, productID, sectionID int64) (int, error)
	ListMovements(ctx context.Context, f MovementFilter) ([]models.StockMovement, error)

	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error)
	ListCounterOrders(ctx context.Context, originalID int64) ([]models.Order, error)
	// FindTableHolder returns the order in a locking status holding tableID,
	// ignoring excludeOrderID, or nil when the table is free.
	FindTableHolder(ctx context.Context, tableID, excludeOrderID int64) (*models.Order, error)
	SumSalesReturns(ctx context.Context, orderID int64) (decimal.Decimal, error)

	GetDraft(ctx context.Context, id int64) (*models.Draft, error)
	// GetDraftByOrder returns nil when no draft is linked to the order
	GetDraftByOrder(ctx context.Context, orderID int64) (*models.Draft, error)
	ListDrafts(ctx context.Context, f DraftFilter) ([]models.Draft, error)
}

// Tx adds the writes that must happen under transactional isolation
type Tx interface {
	Queries

	// LockInventory creates the counter at 0 if absent, row-locks it and
	// returns its quantity.
	LockInventory(ctx context.Context, productID, branchID int64) (int, error)
	LockSectionInventory(ctx context.Context, productID, sectionID int64) (int, error)
	SetInventory(ctx context.Context, productID, branchID int64, qty int) error
	SetSectionInventory(ctx context.Context, productID, sectionID int64, qty int) error
	AppendMovement(ctx context.Context, m *models.StockMovement) error

	LockTable(ctx context.Context, id int64) (*models.Table, error)
	OccupyTable(ctx context.Context, tableID, orderID int64) error
	// ReleaseTable frees the table only if orderID holds it
	ReleaseTable(ctx context.Context, tableID, orderID int64) error

	NextOrderNumber(ctx context.Context, branchID int64) (int64, error)
	LockOrder(ctx context.Context, id int64) (*models.Order, error)
	CreateOrder(ctx context.Context, o *models.Order) error
	UpdateOrder(ctx context.Context, o *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	CreatePayment(ctx context.Context, p *models.Payment) error
	CreateSalesReturn(ctx context.Context, r *models.SalesReturn) error

	SaveDraft(ctx context.Context, d *models.Draft) error
	DeleteDraft(ctx context.Context, id int64) error
}

// MovementFilter restricts ledger scans. SectionID matches either side of a
// movement; BranchOnly keeps rows that touched no section at all.
type MovementFilter struct {
	ProductID  *int64
	BranchID   *int64
	SectionID  *int64
	BranchOnly bool
	Reasons    []models.MovementReason
	RefPrefix  string
	Since      *time.Time
	Limit      int
}

// OrderFilter restricts order listings
type OrderFilter struct {
	BranchID  *int64
	SectionID *int64
	TableID   *int64
	UserID    *int64
	Statuses  []models.OrderStatus
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// DraftFilter restricts draft listings
type DraftFilter struct {
	BranchID *int64
	UserID   *int64
	Status   models.DraftStatus
	Limit    int
}
