// Package memory is an in-process Repository used by tests and local runs
// without Postgres. Transactions are serialized by one lock and roll back by
// restoring a snapshot.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"pos-service/internal/errs"
	"pos-service/internal/lifecycle"
	"pos-service/internal/models"
	"pos-service/internal/store"

	"github.com/shopspring/decimal"
)

type stockKey struct {
	productID int64
	scopeID   int64
}

type state struct {
	branches     map[int64]models.Branch
	sections     map[int64]models.Section
	tables       map[int64]models.Table
	productTypes map[int64]models.ProductType
	products     map[int64]models.Product
	staff        map[int64]string
	inventory    map[stockKey]int
	sectionInv   map[stockKey]int
	movements    []models.StockMovement
	orders       map[int64]models.Order
	items        []models.OrderItem
	payments     []models.Payment
	returns      []models.SalesReturn
	drafts       map[int64]models.Draft
	nextID       int64
}

func newState() *state {
	return &state{
		branches:     make(map[int64]models.Branch),
		sections:     make(map[int64]models.Section),
		tables:       make(map[int64]models.Table),
		productTypes: make(map[int64]models.ProductType),
		products:     make(map[int64]models.Product),
		staff:        make(map[int64]string),
		inventory:    make(map[stockKey]int),
		sectionInv:   make(map[stockKey]int),
		orders:       make(map[int64]models.Order),
		drafts:       make(map[int64]models.Draft),
	}
}

func (s *state) clone() *state {
	c := &state{
		branches:     make(map[int64]models.Branch, len(s.branches)),
		sections:     make(map[int64]models.Section, len(s.sections)),
		tables:       make(map[int64]models.Table, len(s.tables)),
		productTypes: make(map[int64]models.ProductType, len(s.productTypes)),
		products:     make(map[int64]models.Product, len(s.products)),
		staff:        make(map[int64]string, len(s.staff)),
		inventory:    make(map[stockKey]int, len(s.inventory)),
		sectionInv:   make(map[stockKey]int, len(s.sectionInv)),
		movements:    append([]models.StockMovement(nil), s.movements...),
		orders:       make(map[int64]models.Order, len(s.orders)),
		items:        append([]models.OrderItem(nil), s.items...),
		payments:     append([]models.Payment(nil), s.payments...),
		returns:      append([]models.SalesReturn(nil), s.returns...),
		drafts:       make(map[int64]models.Draft, len(s.drafts)),
		nextID:       s.nextID,
	}
	for k, v := range s.branches {
		c.branches[k] = v
	}
	for k, v := range s.sections {
		c.sections[k] = v
	}
	for k, v := range s.tables {
		c.tables[k] = v
	}
	for k, v := range s.productTypes {
		c.productTypes[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.staff {
		c.staff[k] = v
	}
	for k, v := range s.inventory {
		c.inventory[k] = v
	}
	for k, v := range s.sectionInv {
		c.sectionInv[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.drafts {
		c.drafts[k] = v
	}
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

var _ store.Repository = (*Store)(nil)

// Store is the in-memory Repository
type Store struct {
	mu    sync.RWMutex
	st    *state
	clock func() time.Time
}

// New returns an empty store
func New() *Store {
	return &Store{st: newState(), clock: time.Now}
}

// SetClock replaces the time source used for created/updated timestamps
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// WithTx runs fn with exclusive access and restores the previous state if fn fails
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&view{st: s.st, now: s.clock}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// View runs fn with shared access
func (s *Store) View(ctx context.Context, fn func(q store.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&view{st: s.st, now: s.clock})
}

// view implements store.Tx over the current state
type view struct {
	st  *state
	now func() time.Time
}

func (v *view) GetBranch(ctx context.Context, id int64) (*models.Branch, error) {
	b, ok := v.st.branches[id]
	if !ok {
		return nil, errs.NotFound("branch", id)
	}
	return &b, nil
}

func (v *view) FirstBranch(ctx context.Context) (*models.Branch, error) {
	var first *models.Branch
	for _, b := range v.st.branches {
		b := b
		if first == nil || b.ID < first.ID {
			first = &b
		}
	}
	if first == nil {
		return nil, errs.NotFound("branch", "any")
	}
	return first, nil
}

func (v *view) GetSection(ctx context.Context, id int64) (*models.Section, error) {
	s, ok := v.st.sections[id]
	if !ok {
		return nil, errs.NotFound("section", id)
	}
	return &s, nil
}

func (v *view) FindSectionByName(ctx context.Context, branchID int64, name string) (*models.Section, error) {
	var found *models.Section
	for _, s := range v.st.sections {
		s := s
		if s.BranchID == branchID && strings.EqualFold(s.Name, name) {
			if found == nil || s.ID < found.ID {
				found = &s
			}
		}
	}
	if found == nil {
		return nil, errs.NotFound("section", name)
	}
	return found, nil
}

func (v *view) GetTable(ctx context.Context, id int64) (*models.Table, error) {
	t, ok := v.st.tables[id]
	if !ok {
		return nil, errs.NotFound("table", id)
	}
	return &t, nil
}

func (v *view) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	p, ok := v.st.products[id]
	if !ok {
		return nil, errs.NotFound("product", id)
	}
	return &p, nil
}

func (v *view) GetProductType(ctx context.Context, id int64) (*models.ProductType, error) {
	pt, ok := v.st.productTypes[id]
	if !ok {
		return nil, errs.NotFound("product type", id)
	}
	return &pt, nil
}

func (v *view) GetStaffName(ctx context.Context, id int64) (string, error) {
	name, ok := v.st.staff[id]
	if !ok {
		return "", errs.NotFound("staff", id)
	}
	return name, nil
}

func (v *view) GetInventory(ctx context.Context, productID, branchID int64) (int, error) {
	return v.st.inventory[stockKey{productID, branchID}], nil
}

func (v *view) GetSectionInventory(ctx context.Context, productID, sectionID int64) (int, error) {
	return v.st.sectionInv[stockKey{productID, sectionID}], nil
}

func (v *view) ListMovements(ctx context.Context, f store.MovementFilter) ([]models.StockMovement, error) {
	var out []models.StockMovement
	for _, m := range v.st.movements {
		if f.ProductID != nil && m.ProductID != *f.ProductID {
			continue
		}
		if f.BranchID != nil && m.BranchID != *f.BranchID {
			continue
		}
		if f.SectionID != nil && !sameID(m.SectionFrom, *f.SectionID) && !sameID(m.SectionTo, *f.SectionID) {
			continue
		}
		if f.BranchOnly && (m.SectionFrom != nil || m.SectionTo != nil) {
			continue
		}
		if len(f.Reasons) > 0 && !hasReason(f.Reasons, m.Reason) {
			continue
		}
		if f.RefPrefix != "" && !strings.HasPrefix(m.ReferenceID, f.RefPrefix) {
			continue
		}
		if f.Since != nil && m.CreatedAt.Before(*f.Since) {
			continue
		}
		out = append(out, m)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (v *view) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	o, ok := v.st.orders[id]
	if !ok {
		return nil, errs.NotFound("order", id)
	}
	v.loadLines(&o)
	return &o, nil
}

func (v *view) loadLines(o *models.Order) {
	o.Items = []models.OrderItem{}
	for _, it := range v.st.items {
		if it.OrderID == o.ID {
			o.Items = append(o.Items, it)
		}
	}
	o.Payments = []models.Payment{}
	for _, p := range v.st.payments {
		if p.OrderID == o.ID {
			o.Payments = append(o.Payments, p)
		}
	}
}

func (v *view) ListOrders(ctx context.Context, f store.OrderFilter) ([]models.Order, error) {
	var out []models.Order
	for _, o := range v.st.orders {
		if f.BranchID != nil && o.BranchID != *f.BranchID {
			continue
		}
		if f.SectionID != nil && !sameID(o.SectionID, *f.SectionID) {
			continue
		}
		if f.TableID != nil && !sameID(o.TableID, *f.TableID) {
			continue
		}
		if f.UserID != nil && o.UserID != *f.UserID {
			continue
		}
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, o.Status) {
			continue
		}
		if f.From != nil && o.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !o.CreatedAt.Before(*f.To) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (v *view) ListCounterOrders(ctx context.Context, originalID int64) ([]models.Order, error) {
	var out []models.Order
	for _, o := range v.st.orders {
		if sameID(o.RefundOfOrderID, originalID) {
			v.loadLines(&o)
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) FindTableHolder(ctx context.Context, tableID, excludeOrderID int64) (*models.Order, error) {
	var holder *models.Order
	for _, o := range v.st.orders {
		o := o
		if o.ID == excludeOrderID || !sameID(o.TableID, tableID) || !lifecycle.IsLocking(o.Status) {
			continue
		}
		if holder == nil || o.ID < holder.ID {
			holder = &o
		}
	}
	return holder, nil
}

func (v *view) SumSalesReturns(ctx context.Context, orderID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, r := range v.st.returns {
		if r.OrderID == orderID {
			sum = sum.Add(r.Amount)
		}
	}
	return sum, nil
}

func (v *view) GetDraft(ctx context.Context, id int64) (*models.Draft, error) {
	d, ok := v.st.drafts[id]
	if !ok {
		return nil, errs.NotFound("draft", id)
	}
	return &d, nil
}

func (v *view) GetDraftByOrder(ctx context.Context, orderID int64) (*models.Draft, error) {
	var found *models.Draft
	for _, d := range v.st.drafts {
		d := d
		if !sameID(d.OrderID, orderID) {
			continue
		}
		if found == nil || d.UpdatedAt.After(found.UpdatedAt) ||
			(d.UpdatedAt.Equal(found.UpdatedAt) && d.ID > found.ID) {
			found = &d
		}
	}
	return found, nil
}

func (v *view) ListDrafts(ctx context.Context, f store.DraftFilter) ([]models.Draft, error) {
	var out []models.Draft
	for _, d := range v.st.drafts {
		if f.BranchID != nil && d.BranchID != *f.BranchID {
			continue
		}
		if f.UserID != nil && d.UserID != *f.UserID {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (v *view) LockInventory(ctx context.Context, productID, branchID int64) (int, error) {
	return v.st.inventory[stockKey{productID, branchID}], nil
}

func (v *view) LockSectionInventory(ctx context.Context, productID, sectionID int64) (int, error) {
	return v.st.sectionInv[stockKey{productID, sectionID}], nil
}

func (v *view) SetInventory(ctx context.Context, productID, branchID int64, qty int) error {
	v.st.inventory[stockKey{productID, branchID}] = qty
	return nil
}

func (v *view) SetSectionInventory(ctx context.Context, productID, sectionID int64, qty int) error {
	v.st.sectionInv[stockKey{productID, sectionID}] = qty
	return nil
}

func (v *view) AppendMovement(ctx context.Context, m *models.StockMovement) error {
	m.ID = v.st.id()
	m.CreatedAt = v.now()
	v.st.movements = append(v.st.movements, *m)
	return nil
}

func (v *view) LockTable(ctx context.Context, id int64) (*models.Table, error) {
	return v.GetTable(ctx, id)
}

func (v *view) OccupyTable(ctx context.Context, tableID, orderID int64) error {
	t, ok := v.st.tables[tableID]
	if !ok {
		return errs.NotFound("table", tableID)
	}
	id := orderID
	t.Status = models.TableStatusOccupied
	t.LockedByOrderID = &id
	t.UpdatedAt = v.now()
	v.st.tables[tableID] = t
	return nil
}

func (v *view) ReleaseTable(ctx context.Context, tableID, orderID int64) error {
	t, ok := v.st.tables[tableID]
	if !ok || !sameID(t.LockedByOrderID, orderID) {
		return nil
	}
	t.Status = models.TableStatusFree
	t.LockedByOrderID = nil
	t.UpdatedAt = v.now()
	v.st.tables[tableID] = t
	return nil
}

func (v *view) NextOrderNumber(ctx context.Context, branchID int64) (int64, error) {
	b, ok := v.st.branches[branchID]
	if !ok {
		return 0, errs.NotFound("branch", branchID)
	}
	b.OrderSeq++
	v.st.branches[branchID] = b
	return b.OrderSeq, nil
}

func (v *view) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	return v.GetOrder(ctx, id)
}

func (v *view) CreateOrder(ctx context.Context, o *models.Order) error {
	o.ID = v.st.id()
	o.CreatedAt = v.now()
	o.UpdatedAt = o.CreatedAt
	header := *o
	header.Items, header.Payments = nil, nil
	v.st.orders[o.ID] = header
	return nil
}

func (v *view) UpdateOrder(ctx context.Context, o *models.Order) error {
	cur, ok := v.st.orders[o.ID]
	if !ok {
		return errs.NotFound("order", o.ID)
	}
	cur.Status = o.Status
	cur.Subtotal = o.Subtotal
	cur.Discount = o.Discount
	cur.Tax = o.Tax
	cur.TaxRate = o.TaxRate
	cur.Total = o.Total
	cur.ServiceType = o.ServiceType
	cur.Note = o.Note
	cur.WaiterID = o.WaiterID
	cur.WaiterName = o.WaiterName
	cur.UpdatedAt = v.now()
	o.UpdatedAt = cur.UpdatedAt
	v.st.orders[o.ID] = cur
	return nil
}

func (v *view) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	item.ID = v.st.id()
	v.st.items = append(v.st.items, *item)
	return nil
}

func (v *view) CreatePayment(ctx context.Context, p *models.Payment) error {
	p.ID = v.st.id()
	p.CreatedAt = v.now()
	v.st.payments = append(v.st.payments, *p)
	return nil
}

func (v *view) CreateSalesReturn(ctx context.Context, r *models.SalesReturn) error {
	r.ID = v.st.id()
	r.CreatedAt = v.now()
	v.st.returns = append(v.st.returns, *r)
	return nil
}

func (v *view) SaveDraft(ctx context.Context, d *models.Draft) error {
	now := v.now()
	if d.ID == 0 {
		d.ID = v.st.id()
		d.CreatedAt = now
	} else if cur, ok := v.st.drafts[d.ID]; ok {
		d.CreatedAt = cur.CreatedAt
	} else {
		return errs.NotFound("draft", d.ID)
	}
	d.UpdatedAt = now
	saved := *d
	saved.Cart.Lines = append([]models.DraftLine(nil), d.Cart.Lines...)
	v.st.drafts[d.ID] = saved
	return nil
}

func (v *view) DeleteDraft(ctx context.Context, id int64) error {
	if _, ok := v.st.drafts[id]; !ok {
		return errs.NotFound("draft", id)
	}
	delete(v.st.drafts, id)
	return nil
}

func sameID(p *int64, id int64) bool {
	return p != nil && *p == id
}

func hasReason(rs []models.MovementReason, r models.MovementReason) bool {
	for _, x := range rs {
		if x == r {
			return true
		}
	}
	return false
}

func hasStatus(ss []models.OrderStatus, s models.OrderStatus) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
