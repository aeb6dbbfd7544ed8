package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"pos-service/internal/errs"
	"pos-service/internal/lifecycle"
	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrderConfig holds order policy defaults
type OrderConfig struct {
	DefaultAllowOverselling bool
	IdempotencyTTL          time.Duration
}

// OrderService handles order business logic
type OrderService struct {
	repo        store.Repository
	inventory   *InventoryService
	publisher   EventPublisher
	idempotency IdempotencyStore
	cfg         OrderConfig
	logger      *zap.Logger
}

// NewOrderService creates a new order service. idempotency may be nil, in
// which case Idempotency-Key headers are ignored.
func NewOrderService(
	repo store.Repository,
	inventory *InventoryService,
	publisher EventPublisher,
	idempotency IdempotencyStore,
	cfg OrderConfig,
) *OrderService {
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	return &OrderService{
		repo:        repo,
		inventory:   inventory,
		publisher:   publisherOrNop(publisher),
		idempotency: idempotency,
		cfg:         cfg,
		logger:      util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	BranchID         *int64             `json:"branch_id,omitempty"`
	SectionID        *int64             `json:"section_id,omitempty"`
	SectionName      string             `json:"section_name,omitempty"`
	TableID          *int64             `json:"table_id,omitempty"`
	UserID           int64              `json:"user_id"`
	WaiterID         *int64             `json:"waiter_id,omitempty"`
	DraftID          *int64             `json:"draft_id,omitempty"`
	Items            []OrderLineRequest `json:"items" binding:"required"`
	Payment          *PaymentRequest    `json:"payment,omitempty"`
	Status           models.OrderStatus `json:"status,omitempty"`
	AllowOverselling *bool              `json:"allow_overselling,omitempty"`
	ReservationKey   string             `json:"reservation_key,omitempty"`
	Subtotal         *decimal.Decimal   `json:"subtotal,omitempty"`
	Discount         *decimal.Decimal   `json:"discount,omitempty"`
	Tax              *decimal.Decimal   `json:"tax,omitempty"`
	TaxRate          *decimal.Decimal   `json:"tax_rate,omitempty"`
	Total            *decimal.Decimal   `json:"total,omitempty"`
	ServiceType      string             `json:"service_type,omitempty"`
	Note             string             `json:"note,omitempty"`
	IdempotencyKey   string             `json:"-"`
}

// OrderLineRequest represents an item in an order. A nil price uses the
// product's current price.
type OrderLineRequest struct {
	ProductID int64            `json:"product_id" binding:"required"`
	Quantity  int              `json:"qty" binding:"required"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

// PaymentRequest represents a payment to append to an order
type PaymentRequest struct {
	Method    string          `json:"method" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
	Meta      string          `json:"meta,omitempty"`
}

// RefundLine is a product quantity to return
type RefundLine struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"qty" binding:"required"`
}

// Create commits a cart as an order: resolves location, checks the table,
// allocates the order number, depletes stock net of reservations and
// stores totals and the optional first payment, all in one transaction.
func (s *OrderService) Create(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Create",
		attribute.Int64("user_id", req.UserID),
		attribute.Int("items", len(req.Items)))
	defer span.End()

	if err := validateCreate(req); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	idemKey := ""
	if req.IdempotencyKey != "" && s.idempotency != nil {
		existingID, claimed, err := s.idempotency.ClaimIdempotencyKey(ctx, req.IdempotencyKey, s.cfg.IdempotencyTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existingID != 0 {
			util.IdempotentReplaysTotal.Inc()
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("order_id", existingID))
			return s.Get(ctx, existingID)
		}
		if !claimed {
			return nil, errs.Conflict("a request with idempotency key %q is still in progress", req.IdempotencyKey)
		}
		idemKey = req.IdempotencyKey
	}

	var order *models.Order
	var effects []stockEffect
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		order, effects, err = s.createTx(ctx, tx, req)
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		if idemKey != "" {
			if rerr := s.idempotency.ReleaseIdempotencyKey(ctx, idemKey); rerr != nil {
				s.logger.Warn("Failed to release idempotency key", zap.String("idempotency_key", idemKey), zap.Error(rerr))
			}
		}
		return nil, err
	}

	if idemKey != "" {
		if err := s.idempotency.CompleteIdempotencyKey(ctx, idemKey, order.ID, s.cfg.IdempotencyTTL); err != nil {
			s.logger.Warn("Failed to store idempotency key", zap.String("idempotency_key", idemKey), zap.Error(err))
		}
	}

	util.OrdersCreatedTotal.WithLabelValues(string(order.Status)).Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("order_number", order.OrderNumber),
		zap.Int64("branch_id", order.BranchID),
		zap.String("status", string(order.Status)),
		zap.String("total", order.Total.String()))

	s.inventory.publish(ctx, effects...)
	s.publishCreated(ctx, order)
	for _, p := range order.Payments {
		s.publishPayment(ctx, order.ID, p)
	}
	return order, nil
}

func validateCreate(req *CreateOrderRequest) error {
	if len(req.Items) == 0 {
		return errs.Invalid("order must contain at least one item")
	}
	if req.UserID == 0 {
		return errs.Invalid("user_id is required")
	}
	for i, item := range req.Items {
		if item.ProductID == 0 {
			return errs.Invalid("items[%d]: product_id is required", i)
		}
		if item.Quantity <= 0 {
			return errs.Invalid("items[%d]: qty must be positive", i)
		}
		if item.Price != nil && item.Price.IsNegative() {
			return errs.Invalid("items[%d]: price must not be negative", i)
		}
	}
	if req.Payment != nil {
		if err := validatePayment(req.Payment); err != nil {
			return err
		}
	}
	return nil
}

func validatePayment(p *PaymentRequest) error {
	if p.Method == "" {
		return errs.Invalid("payment method is required")
	}
	if !p.Amount.IsPositive() {
		return errs.Invalid("payment amount must be positive")
	}
	return nil
}

func (s *OrderService) createTx(ctx context.Context, tx store.Tx, req *CreateOrderRequest) (*models.Order, []stockEffect, error) {
	branch, section, err := resolveLocation(ctx, tx, req.BranchID, req.SectionID, req.SectionName)
	if err != nil {
		return nil, nil, err
	}

	status := req.Status
	if status == "" {
		status = models.OrderStatusActive
	}
	if !lifecycle.IsInitial(status) {
		return nil, nil, errs.Invalid("orders cannot be created in status %s", status)
	}

	allowOverselling := s.cfg.DefaultAllowOverselling
	if req.AllowOverselling != nil {
		allowOverselling = *req.AllowOverselling
	}

	if req.TableID != nil {
		table, err := tx.LockTable(ctx, *req.TableID)
		if err != nil {
			return nil, nil, err
		}
		if table.BranchID != branch.ID {
			return nil, nil, errs.Invalid("table %d does not belong to branch %d", table.ID, branch.ID)
		}
		if lifecycle.IsLocking(status) {
			if err := s.checkTableFree(ctx, tx, table.ID, 0); err != nil {
				return nil, nil, err
			}
		}
	}

	var draft *models.Draft
	if req.DraftID != nil {
		if draft, err = tx.GetDraft(ctx, *req.DraftID); err != nil {
			return nil, nil, err
		}
	}
	key := req.ReservationKey
	if key == "" && draft != nil {
		key = draft.ReservationKey
	}

	products := make(map[int64]*models.Product, len(req.Items))
	lines := make([]PricedLine, len(req.Items))
	for i, item := range req.Items {
		p, ok := products[item.ProductID]
		if !ok {
			if p, err = tx.GetProduct(ctx, item.ProductID); err != nil {
				return nil, nil, err
			}
			if p.Archived {
				return nil, nil, errs.Invalid("product %d is archived", p.ID)
			}
			products[p.ID] = p
		}
		price := p.Price
		if item.Price != nil {
			price = *item.Price
		}
		lines[i] = PricedLine{Quantity: item.Quantity, Price: price}
	}

	totals := ComputeTotals(lines, TotalOverrides{
		Subtotal: req.Subtotal,
		Discount: req.Discount,
		Tax:      req.Tax,
		TaxRate:  req.TaxRate,
		Total:    req.Total,
	})

	number, err := tx.NextOrderNumber(ctx, branch.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to allocate order number: %w", err)
	}

	order := &models.Order{
		BranchID:       branch.ID,
		TableID:        req.TableID,
		UserID:         req.UserID,
		WaiterID:       req.WaiterID,
		WaiterName:     s.waiterName(ctx, tx, req.WaiterID),
		Status:         status,
		OrderNumber:    number,
		Subtotal:       totals.Subtotal,
		Discount:       totals.Discount,
		Tax:            totals.Tax,
		TaxRate:        totals.TaxRate,
		Total:          totals.Total,
		ServiceType:    req.ServiceType,
		Note:           req.Note,
		ReservationKey: key,
	}
	if section != nil {
		order.SectionID = &section.ID
	}
	if err := tx.CreateOrder(ctx, order); err != nil {
		return nil, nil, fmt.Errorf("failed to create order: %w", err)
	}

	if req.TableID != nil && lifecycle.IsLocking(status) {
		if err := tx.OccupyTable(ctx, *req.TableID, order.ID); err != nil {
			return nil, nil, fmt.Errorf("failed to occupy table: %w", err)
		}
	}

	allowSets := make(map[int64]AllowSet)
	var effects []stockEffect
	order.Items = make([]models.OrderItem, 0, len(req.Items))
	for i, item := range req.Items {
		p := products[item.ProductID]
		eligible := true
		if section != nil {
			allowed, err := s.allowSet(ctx, tx, allowSets, p.TypeID)
			if err != nil {
				return nil, nil, err
			}
			eligible = Eligible(section.Function, allowed)
		}

		shares, effs, err := s.inventory.sellTx(ctx, tx, saleLine{
			OrderID:          order.ID,
			ProductID:        p.ID,
			BranchID:         branch.ID,
			SectionID:        order.SectionID,
			Eligible:         eligible,
			Quantity:         item.Quantity,
			UserID:           req.UserID,
			Key:              key,
			AllowOverselling: allowOverselling,
		})
		if err != nil {
			return nil, nil, err
		}
		effects = append(effects, effs...)

		// a line sold from two counters is stored as one item per counter
		for _, share := range shares {
			orderItem := models.OrderItem{
				OrderID:        order.ID,
				ProductID:      p.ID,
				Quantity:       share.Quantity,
				Price:          lines[i].Price,
				StockSectionID: share.SectionID,
			}
			if err := tx.CreateOrderItem(ctx, &orderItem); err != nil {
				return nil, nil, fmt.Errorf("failed to create order item: %w", err)
			}
			order.Items = append(order.Items, orderItem)
		}
	}

	order.Payments = []models.Payment{}
	if req.Payment != nil {
		payment := models.Payment{
			OrderID:   order.ID,
			Method:    req.Payment.Method,
			Amount:    req.Payment.Amount,
			Reference: req.Payment.Reference,
			Meta:      req.Payment.Meta,
		}
		if err := tx.CreatePayment(ctx, &payment); err != nil {
			return nil, nil, fmt.Errorf("failed to create payment: %w", err)
		}
		order.Payments = append(order.Payments, payment)
	}
	if status == models.OrderStatusPaid {
		s.checkSettlement(order)
	}

	if draft != nil {
		draft.OrderID = &order.ID
		if err := tx.SaveDraft(ctx, draft); err != nil {
			return nil, nil, fmt.Errorf("failed to link draft: %w", err)
		}
	}

	return order, effects, nil
}

// resolveLocation resolves the branch (explicit, from the section, or the
// first branch) and the optional section (by ID or by name in the branch).
func resolveLocation(ctx context.Context, q store.Queries, branchID, sectionID *int64, sectionName string) (*models.Branch, *models.Section, error) {
	var section *models.Section
	var err error
	if sectionID != nil {
		if section, err = q.GetSection(ctx, *sectionID); err != nil {
			return nil, nil, err
		}
	}

	var branch *models.Branch
	switch {
	case branchID != nil:
		branch, err = q.GetBranch(ctx, *branchID)
	case section != nil:
		branch, err = q.GetBranch(ctx, section.BranchID)
	default:
		branch, err = q.FirstBranch(ctx)
		if errs.Is(err, errs.KindNotFound) {
			return nil, nil, errs.Invalid("no branch could be resolved")
		}
	}
	if err != nil {
		return nil, nil, err
	}

	if section != nil && section.BranchID != branch.ID {
		return nil, nil, errs.Invalid("section %d does not belong to branch %d", section.ID, branch.ID)
	}
	if section == nil && sectionName != "" {
		if section, err = q.FindSectionByName(ctx, branch.ID, sectionName); err != nil {
			return nil, nil, err
		}
	}
	return branch, section, nil
}

func (s *OrderService) allowSet(ctx context.Context, q store.Queries, cache map[int64]AllowSet, typeID *int64) (AllowSet, error) {
	if typeID == nil {
		return nil, nil
	}
	if set, ok := cache[*typeID]; ok {
		return set, nil
	}
	pt, err := q.GetProductType(ctx, *typeID)
	if err != nil {
		return nil, err
	}
	set := NewAllowSet(pt.AllowedFunctions)
	cache[*typeID] = set
	return set, nil
}

// waiterName resolves a display name; failures only cost the enrichment
func (s *OrderService) waiterName(ctx context.Context, q store.Queries, waiterID *int64) string {
	if waiterID == nil {
		return ""
	}
	name, err := q.GetStaffName(ctx, *waiterID)
	if err != nil {
		s.logger.Warn("Failed to resolve waiter name", zap.Int64("waiter_id", *waiterID), zap.Error(err))
		return ""
	}
	return name
}

// checkTableFree fails with a TableConflictError naming the holder
func (s *OrderService) checkTableFree(ctx context.Context, tx store.Tx, tableID, orderID int64) error {
	holder, err := tx.FindTableHolder(ctx, tableID, orderID)
	if err != nil {
		return fmt.Errorf("failed to check table: %w", err)
	}
	if holder == nil {
		return nil
	}
	util.TableConflictsTotal.Inc()
	s.logger.Info("Table is held by another order",
		zap.Int64("table_id", tableID),
		zap.Int64("holder_order_id", holder.ID))
	return &errs.TableConflictError{
		TableID:     tableID,
		OrderID:     holder.ID,
		OrderNumber: holder.OrderNumber,
		Status:      string(holder.Status),
	}
}

func (s *OrderService) checkSettlement(o *models.Order) {
	paid := o.PaidAmount()
	if paid.LessThan(o.Total) {
		s.logger.Warn("Order marked paid before settlement",
			zap.Int64("order_id", o.ID),
			zap.String("paid", paid.String()),
			zap.String("total", o.Total.String()))
	}
}

// UpdateStatus moves an order along the lifecycle and runs the side effects
// of the transition. Setting the current status again is a no-op. Stock
// movements written by the transition are attributed to userID.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID int64, status models.OrderStatus, userID *int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	return s.transition(ctx, orderID, status, userID)
}

// Refund returns every unreturned line to stock, records the sales return
// and marks a paid order REFUNDED.
func (s *OrderService) Refund(ctx context.Context, orderID int64, userID *int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Refund")
	defer span.End()

	return s.transition(ctx, orderID, models.OrderStatusRefunded, userID)
}

type transitionOutcome struct {
	effects  []stockEffect
	returned decimal.Decimal
}

func (s *OrderService) transition(ctx context.Context, orderID int64, status models.OrderStatus, userID *int64) (*models.Order, error) {
	if !lifecycle.Known(status) {
		return nil, errs.Invalid("unknown order status %q", status)
	}

	var order *models.Order
	var from models.OrderStatus
	var outcome transitionOutcome
	changed := false
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		order, from = o, o.Status
		if o.Status == status {
			return nil
		}

		t, err := lifecycle.Plan(o.Status, status)
		if err != nil {
			return err
		}
		if outcome, err = s.applyEffectsTx(ctx, tx, o, t, userID); err != nil {
			return err
		}
		o.Status = status
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return order, nil
	}

	util.OrderTransitionsTotal.WithLabelValues(string(from), string(status)).Inc()
	s.logger.Info("Order status changed",
		zap.Int64("order_id", order.ID),
		zap.String("from", string(from)),
		zap.String("to", string(status)))

	s.inventory.publish(ctx, outcome.effects...)
	s.publishStatusChanged(ctx, order.ID, from, status)
	if status == models.OrderStatusRefunded {
		util.RefundsTotal.WithLabelValues("full").Inc()
		s.publishRefunded(ctx, order.ID, nil, outcome.returned, false)
	}
	return order, nil
}

// applyEffectsTx runs the side effects attached to transition t
func (s *OrderService) applyEffectsTx(ctx context.Context, tx store.Tx, o *models.Order, t lifecycle.Transition, userID *int64) (transitionOutcome, error) {
	var out transitionOutcome
	for _, effect := range t.Effects {
		switch effect {
		case lifecycle.EffectLockTable:
			if o.TableID == nil {
				continue
			}
			if _, err := tx.LockTable(ctx, *o.TableID); err != nil {
				return out, err
			}
			if err := s.checkTableFree(ctx, tx, *o.TableID, o.ID); err != nil {
				return out, err
			}
			if err := tx.OccupyTable(ctx, *o.TableID, o.ID); err != nil {
				return out, fmt.Errorf("failed to occupy table: %w", err)
			}

		case lifecycle.EffectReleaseTable:
			if o.TableID == nil {
				continue
			}
			if err := tx.ReleaseTable(ctx, *o.TableID, o.ID); err != nil {
				return out, fmt.Errorf("failed to release table: %w", err)
			}

		case lifecycle.EffectBackfillFromDraft:
			d, err := tx.GetDraftByOrder(ctx, o.ID)
			if err != nil {
				return out, fmt.Errorf("failed to load draft: %w", err)
			}
			if d != nil && BackfillFromDraft(o, d) {
				s.logger.Info("Order backfilled from draft",
					zap.Int64("order_id", o.ID),
					zap.Int64("draft_id", d.ID))
			}

		case lifecycle.EffectCheckSettlement:
			s.checkSettlement(o)

		case lifecycle.EffectRestock:
			counters, err := tx.ListCounterOrders(ctx, o.ID)
			if err != nil {
				return out, fmt.Errorf("failed to load counter orders: %w", err)
			}
			for _, line := range RemainingLines(o.Items, counters) {
				if line.Quantity <= 0 {
					continue
				}
				eff, err := s.inventory.restockTx(ctx, tx, line, o.BranchID, line.Quantity, strconv.FormatInt(o.ID, 10), userID)
				if err != nil {
					return out, err
				}
				out.effects = append(out.effects, eff)
			}

		case lifecycle.EffectRecordSalesReturn:
			prior, err := tx.SumSalesReturns(ctx, o.ID)
			if err != nil {
				return out, fmt.Errorf("failed to sum sales returns: %w", err)
			}
			amount := o.Total.Abs().Sub(prior)
			if !amount.IsPositive() {
				continue
			}
			if err := tx.CreateSalesReturn(ctx, &models.SalesReturn{OrderID: o.ID, Amount: amount}); err != nil {
				return out, fmt.Errorf("failed to record sales return: %w", err)
			}
			out.returned = amount
		}
	}
	return out, nil
}

// BackfillFromDraft copies totals and display fields the order lacks from
// the draft snapshot. It reports whether anything changed.
func BackfillFromDraft(o *models.Order, d *models.Draft) bool {
	changed := false
	fill := func(dst *decimal.Decimal, src *decimal.Decimal) {
		if src != nil && dst.IsZero() && !src.IsZero() {
			*dst = *src
			changed = true
		}
	}
	fill(&o.Subtotal, d.Cart.Subtotal)
	fill(&o.Tax, d.Cart.Tax)
	fill(&o.Discount, d.Cart.Discount)
	fill(&o.Total, d.Cart.Total)

	if o.ServiceType == "" && d.Cart.ServiceType != "" {
		o.ServiceType = d.Cart.ServiceType
		changed = true
	}
	if o.WaiterID == nil && d.WaiterID != nil {
		o.WaiterID = d.WaiterID
		changed = true
	}
	if o.WaiterName == "" && d.WaiterName != "" {
		o.WaiterName = d.WaiterName
		changed = true
	}
	return changed
}

// RemainingLines returns the sold lines with quantities reduced by what
// counter-orders already returned. Returns are matched to lines of the same
// product and stock scope first, then to any line of the product.
func RemainingLines(items []models.OrderItem, counters []models.Order) []models.OrderItem {
	rem := make([]models.OrderItem, len(items))
	copy(rem, items)
	for i := range rem {
		if rem[i].Quantity < 0 {
			rem[i].Quantity = 0
		}
	}

	deduct := func(productID int64, section *int64, matchScope bool, qty int) int {
		for i := range rem {
			if qty == 0 {
				break
			}
			if rem[i].ProductID != productID || rem[i].Quantity == 0 {
				continue
			}
			if matchScope && !sameSection(rem[i].StockSectionID, section) {
				continue
			}
			n := rem[i].Quantity
			if n > qty {
				n = qty
			}
			rem[i].Quantity -= n
			qty -= n
		}
		return qty
	}

	for _, c := range counters {
		for _, ci := range c.Items {
			qty := -ci.Quantity
			if qty <= 0 {
				continue
			}
			qty = deduct(ci.ProductID, ci.StockSectionID, true, qty)
			deduct(ci.ProductID, nil, false, qty)
		}
	}
	return rem
}

// RefundItems returns part of an order through a new counter-order with
// negative quantities. Requests are clamped to what is still unreturned;
// the original order is not modified.
func (s *OrderService) RefundItems(ctx context.Context, orderID int64, lines []RefundLine, userID *int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.RefundItems", attribute.Int64("order_id", orderID))
	defer span.End()

	if len(lines) == 0 {
		return nil, errs.Invalid("at least one refund line is required")
	}
	requested := make(map[int64]int)
	var productOrder []int64
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		if _, ok := requested[l.ProductID]; !ok {
			productOrder = append(productOrder, l.ProductID)
		}
		requested[l.ProductID] += l.Quantity
	}

	var counter *models.Order
	var effects []stockEffect
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != models.OrderStatusPaid && o.Status != models.OrderStatusSuspended {
			return errs.Illegal("cannot refund items of a %s order", o.Status)
		}

		counters, err := tx.ListCounterOrders(ctx, o.ID)
		if err != nil {
			return fmt.Errorf("failed to load counter orders: %w", err)
		}
		rem := RemainingLines(o.Items, counters)

		var returns []models.OrderItem
		for _, productID := range productOrder {
			want := requested[productID]
			for i := range rem {
				if want == 0 {
					break
				}
				if rem[i].ProductID != productID || rem[i].Quantity == 0 {
					continue
				}
				n := rem[i].Quantity
				if n > want {
					n = want
				}
				rem[i].Quantity -= n
				want -= n
				returns = append(returns, models.OrderItem{
					ProductID:      productID,
					Quantity:       -n,
					Price:          rem[i].Price,
					StockSectionID: rem[i].StockSectionID,
				})
			}
		}
		if len(returns) == 0 {
			return errs.Invalid("nothing left to refund on order %d", o.ID)
		}

		priced := make([]PricedLine, len(returns))
		for i, r := range returns {
			priced[i] = PricedLine{Quantity: r.Quantity, Price: r.Price}
		}
		totals := ComputeTotals(priced, TotalOverrides{})

		number, err := tx.NextOrderNumber(ctx, o.BranchID)
		if err != nil {
			return fmt.Errorf("failed to allocate order number: %w", err)
		}
		cashier := o.UserID
		if userID != nil {
			cashier = *userID
		}
		counter = &models.Order{
			BranchID:        o.BranchID,
			SectionID:       o.SectionID,
			UserID:          cashier,
			WaiterID:        o.WaiterID,
			WaiterName:      o.WaiterName,
			Status:          models.OrderStatusRefunded,
			OrderNumber:     number,
			Subtotal:        totals.Subtotal,
			Discount:        totals.Discount,
			Tax:             totals.Tax,
			Total:           totals.Total,
			ServiceType:     o.ServiceType,
			Note:            fmt.Sprintf("refund of order #%d", o.OrderNumber),
			RefundOfOrderID: &o.ID,
		}
		if err := tx.CreateOrder(ctx, counter); err != nil {
			return fmt.Errorf("failed to create counter order: %w", err)
		}

		ref := strconv.FormatInt(counter.ID, 10)
		counter.Items = make([]models.OrderItem, 0, len(returns))
		for _, r := range returns {
			r.OrderID = counter.ID
			if err := tx.CreateOrderItem(ctx, &r); err != nil {
				return fmt.Errorf("failed to create order item: %w", err)
			}
			eff, err := s.inventory.restockTx(ctx, tx, r, o.BranchID, -r.Quantity, ref, userID)
			if err != nil {
				return err
			}
			effects = append(effects, eff)
			counter.Items = append(counter.Items, r)
		}
		counter.Payments = []models.Payment{}

		return tx.CreateSalesReturn(ctx, &models.SalesReturn{OrderID: o.ID, Amount: counter.Total.Abs()})
	})
	if err != nil {
		return nil, err
	}

	util.RefundsTotal.WithLabelValues("partial").Inc()
	s.logger.Info("Partial refund recorded",
		zap.Int64("order_id", orderID),
		zap.Int64("counter_order_id", counter.ID),
		zap.String("amount", counter.Total.Abs().String()))

	s.inventory.publish(ctx, effects...)
	s.publishRefunded(ctx, orderID, &counter.ID, counter.Total.Abs(), true)
	return counter, nil
}

// AddPayment appends a payment to a non-terminal order
func (s *OrderService) AddPayment(ctx context.Context, orderID int64, req *PaymentRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.AddPayment")
	defer span.End()

	if err := validatePayment(req); err != nil {
		return nil, err
	}

	var order *models.Order
	var payment models.Payment
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if lifecycle.IsTerminal(o.Status) {
			return errs.Illegal("cannot add a payment to a %s order", o.Status)
		}
		payment = models.Payment{
			OrderID:   o.ID,
			Method:    req.Method,
			Amount:    req.Amount,
			Reference: req.Reference,
			Meta:      req.Meta,
		}
		if err := tx.CreatePayment(ctx, &payment); err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}
		o.Payments = append(o.Payments, payment)
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.PaymentsTotal.WithLabelValues(payment.Method).Inc()
	s.logger.Info("Payment added",
		zap.Int64("order_id", orderID),
		zap.String("method", payment.Method),
		zap.String("amount", payment.Amount.String()))
	s.publishPayment(ctx, orderID, payment)
	return order, nil
}

// Get retrieves an order with items and payments, enriched from its draft
func (s *OrderService) Get(ctx context.Context, orderID int64) (*models.Order, error) {
	var order *models.Order
	err := s.repo.View(ctx, func(q store.Queries) error {
		o, err := q.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		s.enrich(ctx, q, o)
		order = o
		return nil
	})
	return order, err
}

// List retrieves order headers matching f, enriched from their drafts
func (s *OrderService) List(ctx context.Context, f store.OrderFilter) ([]models.Order, error) {
	var orders []models.Order
	err := s.repo.View(ctx, func(q store.Queries) error {
		var err error
		if orders, err = q.ListOrders(ctx, f); err != nil {
			return err
		}
		for i := range orders {
			s.enrich(ctx, q, &orders[i])
		}
		return nil
	})
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, err
}

// enrich fills display fields from the linked draft without persisting them
func (s *OrderService) enrich(ctx context.Context, q store.Queries, o *models.Order) {
	d, err := q.GetDraftByOrder(ctx, o.ID)
	if err != nil {
		s.logger.Warn("Failed to load draft for enrichment", zap.Int64("order_id", o.ID), zap.Error(err))
		return
	}
	if d != nil {
		BackfillFromDraft(o, d)
	}
}

func (s *OrderService) publishCreated(ctx context.Context, o *models.Order) {
	items := make([]models.OrderItemData, len(o.Items))
	for i, it := range o.Items {
		items[i] = models.OrderItemData{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price}
	}
	event := &models.OrderCreatedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderCreated),
		OrderID:     o.ID,
		BranchID:    o.BranchID,
		SectionID:   o.SectionID,
		TableID:     o.TableID,
		UserID:      o.UserID,
		OrderNumber: o.OrderNumber,
		Status:      o.Status,
		Total:       o.Total,
		Items:       items,
	}
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Int64("order_id", o.ID), zap.Error(err))
	}
}

func (s *OrderService) publishStatusChanged(ctx context.Context, orderID int64, from, to models.OrderStatus) {
	event := &models.OrderStatusChangedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:   orderID,
		From:      from,
		To:        to,
	}
	if err := s.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

func (s *OrderService) publishRefunded(ctx context.Context, orderID int64, counterID *int64, amount decimal.Decimal, partial bool) {
	event := &models.OrderRefundedEvent{
		BaseEvent:      newBaseEvent(models.EventTypeOrderRefunded),
		OrderID:        orderID,
		CounterOrderID: counterID,
		Amount:         amount,
		Partial:        partial,
	}
	if err := s.publisher.PublishOrderRefunded(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderRefunded event", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

func (s *OrderService) publishPayment(ctx context.Context, orderID int64, p models.Payment) {
	event := &models.PaymentAddedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentAdded),
		OrderID:   orderID,
		PaymentID: p.ID,
		Method:    p.Method,
		Amount:    p.Amount,
	}
	if err := s.publisher.PublishPaymentAdded(ctx, event); err != nil {
		s.logger.Error("Failed to publish PaymentAdded event", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func failureReason(err error) string {
	switch errs.KindOf(err) {
	case errs.KindInvalidRequest:
		return "invalid_request"
	case errs.KindNotFound:
		return "not_found"
	case errs.KindConflict:
		return "table_conflict"
	case errs.KindInsufficientStock:
		return "insufficient_stock"
	case errs.KindIllegalTransition:
		return "illegal_status"
	}
	return "db_error"
}
