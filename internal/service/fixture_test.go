package service

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	created  []*models.OrderCreatedEvent
	statuses []*models.OrderStatusChangedEvent
	refunds  []*models.OrderRefundedEvent
	payments []*models.PaymentAddedEvent
	stock    []*models.StockAdjustedEvent
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return nil
}

func (p *recordingPublisher) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, e)
	return nil
}

func (p *recordingPublisher) PublishOrderRefunded(_ context.Context, e *models.OrderRefundedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refunds = append(p.refunds, e)
	return nil
}

func (p *recordingPublisher) PublishPaymentAdded(_ context.Context, e *models.PaymentAddedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payments = append(p.payments, e)
	return nil
}

func (p *recordingPublisher) PublishStockAdjusted(_ context.Context, e *models.StockAdjustedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stock = append(p.stock, e)
	return nil
}

// memoryIdempotency mimics the redis claim/complete protocol
type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: make(map[string]string)}
}

func (m *memoryIdempotency) ClaimIdempotencyKey(_ context.Context, key string, _ time.Duration) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.keys[key]
	if !ok {
		m.keys[key] = "pending"
		return 0, true, nil
	}
	if v == "pending" {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	return id, false, err
}

func (m *memoryIdempotency) CompleteIdempotencyKey(_ context.Context, key string, orderID int64, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = strconv.FormatInt(orderID, 10)
	return nil
}

func (m *memoryIdempotency) ReleaseIdempotencyKey(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

// fixture is one branch with a BAR and a KITCHEN section, a table, a waiter,
// a bar-only drink and an unrestricted dish.
type fixture struct {
	ctx          context.Context
	repo         *memory.Store
	pub          *recordingPublisher
	idem         *memoryIdempotency
	inventory    *InventoryService
	reservations *ReservationService
	orders       *OrderService
	drafts       *DraftService

	now time.Time

	branch  int64
	bar     int64
	kitchen int64
	table   int64
	waiter  int64
	beer    int64
	burger  int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newWorld()
}

func newWorld() *fixture {
	f := &fixture{
		ctx:  context.Background(),
		repo: memory.New(),
		pub:  &recordingPublisher{},
		idem: newMemoryIdempotency(),
		now:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.repo.SetClock(clock)

	f.branch = f.repo.AddBranch("Main")
	f.bar = f.repo.AddSection(f.branch, "Bar", "BAR")
	f.kitchen = f.repo.AddSection(f.branch, "Kitchen", "KITCHEN")
	f.table = f.repo.AddTable(f.branch, "T1")
	f.waiter = f.repo.AddStaff("Ana")

	drinks := f.repo.AddProductType("Drinks", "BAR")
	f.beer = f.repo.AddProduct(f.branch, "Beer", decimal.RequireFromString("4.00"), drinks)
	f.burger = f.repo.AddProduct(f.branch, "Burger", decimal.RequireFromString("12.50"), 0)

	f.inventory = NewInventoryService(f.repo, f.pub, 4*time.Hour)
	f.inventory.SetClock(clock)
	f.reservations = NewReservationService(f.inventory)
	f.drafts = NewDraftService(f.repo, f.inventory)
	f.orders = NewOrderService(f.repo, f.inventory, f.pub, f.idem, OrderConfig{})
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// stockSection seeds a section counter through the ledger
func (f *fixture) stockSection(t *testing.T, productID, sectionID int64, qty int) {
	t.Helper()
	_, err := f.inventory.Adjust(f.ctx, &AdjustRequest{
		Scope:       Scope{SectionID: &sectionID},
		ProductID:   productID,
		Delta:       qty,
		Reason:      models.ReasonAdjust,
		ReferenceID: "opening",
	})
	require.NoError(t, err)
}

// stockBranch seeds the branch counter through the ledger
func (f *fixture) stockBranch(t *testing.T, productID int64, qty int) {
	t.Helper()
	_, err := f.inventory.Adjust(f.ctx, &AdjustRequest{
		Scope:       Scope{BranchID: f.branch},
		ProductID:   productID,
		Delta:       qty,
		Reason:      models.ReasonAdjust,
		ReferenceID: "opening",
	})
	require.NoError(t, err)
}

func (f *fixture) sectionQty(t *testing.T, productID, sectionID int64) int {
	t.Helper()
	qty, err := f.inventory.GetStock(f.ctx, productID, Scope{SectionID: &sectionID})
	require.NoError(t, err)
	return qty
}

func (f *fixture) branchQty(t *testing.T, productID int64) int {
	t.Helper()
	qty, err := f.inventory.GetStock(f.ctx, productID, Scope{BranchID: f.branch})
	require.NoError(t, err)
	return qty
}

func (f *fixture) reserve(t *testing.T, key string, productID, sectionID int64, qty int, userID *int64) {
	t.Helper()
	_, err := f.reservations.Reserve(f.ctx, &ReserveRequest{
		ReservationLine: ReservationLine{ProductID: productID, SectionID: sectionID, Quantity: qty},
		Key:             key,
		UserID:          userID,
	})
	require.NoError(t, err)
}

func (f *fixture) orderCount(t *testing.T) int {
	t.Helper()
	var n int
	err := f.repo.View(f.ctx, func(q store.Queries) error {
		orders, err := q.ListOrders(f.ctx, store.OrderFilter{})
		n = len(orders)
		return err
	})
	require.NoError(t, err)
	return n
}

func (f *fixture) assertNoDrift(t *testing.T, productID int64, scope Scope) {
	t.Helper()
	rec, err := f.inventory.Reconcile(f.ctx, productID, scope)
	require.NoError(t, err)
	require.Equal(t, 0, rec.Drift, "counter %d vs ledger %d in %s", rec.Counter, rec.LedgerSum, scope)
}

func int64Ptr(v int64) *int64 { return &v }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
