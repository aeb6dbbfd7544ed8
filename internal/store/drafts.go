package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"pos-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const draftColumns = `id, branch_id, section_id, table_id, user_id, waiter_id, waiter_name,
	customer_name, reservation_key, cart, status, order_id, created_at, updated_at`

// GetDraft retrieves a draft by ID
func (q *queries) GetDraft(ctx context.Context, id int64) (*models.Draft, error) {
	var d models.Draft
	err := sqlx.GetContext(ctx, q.ext, &d, "SELECT "+draftColumns+" FROM drafts WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "draft", id)
	}
	return &d, nil
}

// GetDraftByOrder returns the most recent draft linked to an order
func (q *queries) GetDraftByOrder(ctx context.Context, orderID int64) (*models.Draft, error) {
	var d models.Draft
	err := sqlx.GetContext(ctx, q.ext, &d,
		"SELECT "+draftColumns+" FROM drafts WHERE order_id = $1 ORDER BY updated_at DESC LIMIT 1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDrafts retrieves drafts matching f, most recently updated first
func (q *queries) ListDrafts(ctx context.Context, f DraftFilter) ([]models.Draft, error) {
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
	if f.UserID != nil {
		where = append(where, "user_id = "+arg(*f.UserID))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(f.Status))
	}

	query := "SELECT " + draftColumns + " FROM drafts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	var drafts []models.Draft
	if err := sqlx.SelectContext(ctx, q.ext, &drafts, query, args...); err != nil {
		return nil, err
	}
	return drafts, nil
}

// SaveDraft inserts a new draft (ID 0) or overwrites an existing one
func (t *pgTx) SaveDraft(ctx context.Context, d *models.Draft) error {
	if d.ID == 0 {
		query := `
			INSERT INTO drafts (branch_id, section_id, table_id, user_id, waiter_id, waiter_name,
				customer_name, reservation_key, cart, status, order_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id, created_at, updated_at`
		row := t.ext.QueryRowxContext(ctx, query,
			d.BranchID, d.SectionID, d.TableID, d.UserID, d.WaiterID, d.WaiterName,
			d.CustomerName, d.ReservationKey, d.Cart, d.Status, d.OrderID)
		return row.Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	}

	query := `
		UPDATE drafts SET section_id = $1, table_id = $2, waiter_id = $3, waiter_name = $4,
			customer_name = $5, reservation_key = $6, cart = $7, status = $8, order_id = $9,
			updated_at = NOW()
		WHERE id = $10
		RETURNING created_at, updated_at`
	row := t.ext.QueryRowxContext(ctx, query,
		d.SectionID, d.TableID, d.WaiterID, d.WaiterName, d.CustomerName, d.ReservationKey,
		d.Cart, d.Status, d.OrderID, d.ID)
	return notFound(row.Scan(&d.CreatedAt, &d.UpdatedAt), "draft", d.ID)
}

// DeleteDraft removes a draft
func (t *pgTx) DeleteDraft(ctx context.Context, id int64) error {
	res, err := t.ext.ExecContext(ctx, "DELETE FROM drafts WHERE id = $1", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(sql.ErrNoRows, "draft", id)
	}
	return nil
}
