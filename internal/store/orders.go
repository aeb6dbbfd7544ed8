package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"pos-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, branch_id, section_id, table_id, user_id, waiter_id, waiter_name, status,
	order_number, subtotal, discount, tax, tax_rate, total, service_type, note, reservation_key,
	refund_of_order_id, created_at, updated_at`

// GetOrder retrieves an order with its items and payments
func (q *queries) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, q.ext, &order,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	if err := q.loadLines(ctx, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (q *queries) loadLines(ctx context.Context, order *models.Order) error {
	order.Items = []models.OrderItem{}
	if err := sqlx.SelectContext(ctx, q.ext, &order.Items, `
		SELECT id, order_id, product_id, quantity, price, stock_section_id
		FROM order_items WHERE order_id = $1 ORDER BY id`, order.ID); err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}
	order.Payments = []models.Payment{}
	if err := sqlx.SelectContext(ctx, q.ext, &order.Payments, `
		SELECT id, order_id, method, amount, reference, meta, created_at
		FROM payments WHERE order_id = $1 ORDER BY id`, order.ID); err != nil {
		return fmt.Errorf("failed to load payments: %w", err)
	}
	return nil
}

// ListOrders retrieves orders matching f, newest first, without lines
func (q *queries) ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.BranchID != nil {
		where = append(where, "branch_id = "+arg(*f.BranchID))
	}
	if f.SectionID != nil {
		where = append(where, "section_id = "+arg(*f.SectionID))
	}
	if f.TableID != nil {
		where = append(where, "table_id = "+arg(*f.TableID))
	}
	if f.UserID != nil {
		where = append(where, "user_id = "+arg(*f.UserID))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		where = append(where, "status = ANY("+arg(pq.Array(statuses))+")")
	}
	if f.From != nil {
		where = append(where, "created_at >= "+arg(*f.From))
	}
	if f.To != nil {
		where = append(where, "created_at < "+arg(*f.To))
	}

	query := "SELECT " + orderColumns + " FROM orders"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	var orders []models.Order
	if err := sqlx.SelectContext(ctx, q.ext, &orders, query, args...); err != nil {
		return nil, err
	}
	return orders, nil
}

// ListCounterOrders returns the refund counter-orders of an order with their lines
func (q *queries) ListCounterOrders(ctx context.Context, originalID int64) ([]models.Order, error) {
	var orders []models.Order
	err := sqlx.SelectContext(ctx, q.ext, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE refund_of_order_id = $1 ORDER BY id", originalID)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if err := q.loadLines(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// FindTableHolder returns the locking order currently assigned to tableID
func (q *queries) FindTableHolder(ctx context.Context, tableID, excludeOrderID int64) (*models.Order, error) {
	locking := []string{
		string(models.OrderStatusDraft),
		string(models.OrderStatusActive),
		string(models.OrderStatusPendingPayment),
	}
	var order models.Order
	err := sqlx.GetContext(ctx, q.ext, &order, "SELECT "+orderColumns+` FROM orders
		WHERE table_id = $1 AND id <> $2 AND status = ANY($3)
		ORDER BY id LIMIT 1`, tableID, excludeOrderID, pq.Array(locking))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// SumSalesReturns totals the sales returns recorded for an order
func (q *queries) SumSalesReturns(ctx context.Context, orderID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := sqlx.GetContext(ctx, q.ext, &sum,
		"SELECT COALESCE(SUM(amount), 0) FROM sales_returns WHERE order_id = $1", orderID)
	return sum, err
}

// NextOrderNumber increments the branch sequence and returns the new value
func (t *pgTx) NextOrderNumber(ctx context.Context, branchID int64) (int64, error) {
	var n int64
	err := sqlx.GetContext(ctx, t.ext, &n,
		"UPDATE branches SET order_seq = order_seq + 1 WHERE id = $1 RETURNING order_seq", branchID)
	if err != nil {
		return 0, notFound(err, "branch", branchID)
	}
	return n, nil
}

// LockOrder row-locks an order and loads its lines
func (t *pgTx) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, t.ext, &order,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	if err := t.loadLines(ctx, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CreateOrder creates a new order
func (t *pgTx) CreateOrder(ctx context.Context, o *models.Order) error {
	query := `
		INSERT INTO orders (branch_id, section_id, table_id, user_id, waiter_id, waiter_name, status,
			order_number, subtotal, discount, tax, tax_rate, total, service_type, note,
			reservation_key, refund_of_order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at`

	row := t.ext.QueryRowxContext(ctx, query,
		o.BranchID, o.SectionID, o.TableID, o.UserID, o.WaiterID, o.WaiterName, o.Status,
		o.OrderNumber, o.Subtotal, o.Discount, o.Tax, o.TaxRate, o.Total, o.ServiceType, o.Note,
		o.ReservationKey, o.RefundOfOrderID)
	return row.Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
}

// UpdateOrder persists the mutable header fields of an order
func (t *pgTx) UpdateOrder(ctx context.Context, o *models.Order) error {
	query := `
		UPDATE orders SET status = $1, subtotal = $2, discount = $3, tax = $4, tax_rate = $5,
			total = $6, service_type = $7, note = $8, waiter_id = $9, waiter_name = $10,
			updated_at = NOW()
		WHERE id = $11
		RETURNING updated_at`

	row := t.ext.QueryRowxContext(ctx, query,
		o.Status, o.Subtotal, o.Discount, o.Tax, o.TaxRate, o.Total, o.ServiceType, o.Note,
		o.WaiterID, o.WaiterName, o.ID)
	return notFound(row.Scan(&o.UpdatedAt), "order", o.ID)
}

// CreateOrderItem creates a new order item
func (t *pgTx) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, quantity, price, stock_section_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return sqlx.GetContext(ctx, t.ext, &item.ID, query,
		item.OrderID, item.ProductID, item.Quantity, item.Price, item.StockSectionID)
}

// CreatePayment appends a payment record
func (t *pgTx) CreatePayment(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, method, amount, reference, meta)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	row := t.ext.QueryRowxContext(ctx, query, p.OrderID, p.Method, p.Amount, p.Reference, p.Meta)
	return row.Scan(&p.ID, &p.CreatedAt)
}

// CreateSalesReturn records a refunded amount
func (t *pgTx) CreateSalesReturn(ctx context.Context, r *models.SalesReturn) error {
	row := t.ext.QueryRowxContext(ctx,
		"INSERT INTO sales_returns (order_id, amount) VALUES ($1, $2) RETURNING id, created_at",
		r.OrderID, r.Amount)
	return row.Scan(&r.ID, &r.CreatedAt)
}
