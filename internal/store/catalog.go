package store

import (
	"context"
	"database/sql"
	"errors"

	"pos-service/internal/errs"
	"pos-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// notFound maps sql.ErrNoRows to a classified NotFound error
func notFound(err error, entity string, id interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFound(entity, id)
	}
	return err
}

// GetBranch retrieves a branch by ID
func (q *queries) GetBranch(ctx context.Context, id int64) (*models.Branch, error) {
	var b models.Branch
	err := sqlx.GetContext(ctx, q.ext, &b,
		"SELECT id, name, order_seq, created_at FROM branches WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "branch", id)
	}
	return &b, nil
}

// FirstBranch returns the branch with the lowest ID
func (q *queries) FirstBranch(ctx context.Context) (*models.Branch, error) {
	var b models.Branch
	err := sqlx.GetContext(ctx, q.ext, &b,
		"SELECT id, name, order_seq, created_at FROM branches ORDER BY id LIMIT 1")
	if err != nil {
		return nil, notFound(err, "branch", "any")
	}
	return &b, nil
}

// GetSection retrieves a section by ID
func (q *queries) GetSection(ctx context.Context, id int64) (*models.Section, error) {
	var s models.Section
	err := sqlx.GetContext(ctx, q.ext, &s,
		"SELECT id, branch_id, name, function, created_at FROM sections WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "section", id)
	}
	return &s, nil
}

// FindSectionByName matches a section of the branch by case-insensitive name
func (q *queries) FindSectionByName(ctx context.Context, branchID int64, name string) (*models.Section, error) {
	var s models.Section
	err := sqlx.GetContext(ctx, q.ext, &s, `
		SELECT id, branch_id, name, function, created_at FROM sections
		WHERE branch_id = $1 AND lower(name) = lower($2)
		ORDER BY id LIMIT 1`, branchID, name)
	if err != nil {
		return nil, notFound(err, "section", name)
	}
	return &s, nil
}

// GetTable retrieves a table by ID
func (q *queries) GetTable(ctx context.Context, id int64) (*models.Table, error) {
	var t models.Table
	err := sqlx.GetContext(ctx, q.ext, &t,
		"SELECT id, branch_id, name, status, locked_by_order_id, updated_at FROM tables WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "table", id)
	}
	return &t, nil
}

// GetProduct retrieves a product by ID
func (q *queries) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	err := sqlx.GetContext(ctx, q.ext, &p, `
		SELECT id, branch_id, type_id, name, price, tax_rate, archived, created_at
		FROM products WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "product", id)
	}
	return &p, nil
}

// GetProductType retrieves a product type by ID
func (q *queries) GetProductType(ctx context.Context, id int64) (*models.ProductType, error) {
	var pt models.ProductType
	err := sqlx.GetContext(ctx, q.ext, &pt,
		"SELECT id, name, allowed_functions FROM product_types WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "product type", id)
	}
	return &pt, nil
}

// GetStaffName resolves a staff member's display name
func (q *queries) GetStaffName(ctx context.Context, id int64) (string, error) {
	var name string
	err := sqlx.GetContext(ctx, q.ext, &name, "SELECT name FROM staff WHERE id = $1", id)
	if err != nil {
		return "", notFound(err, "staff", id)
	}
	return name, nil
}

// LockTable row-locks a table for the rest of the transaction
func (t *pgTx) LockTable(ctx context.Context, id int64) (*models.Table, error) {
	var tbl models.Table
	err := sqlx.GetContext(ctx, t.ext, &tbl, `
		SELECT id, branch_id, name, status, locked_by_order_id, updated_at
		FROM tables WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, notFound(err, "table", id)
	}
	return &tbl, nil
}

// OccupyTable marks the table as held by orderID
func (t *pgTx) OccupyTable(ctx context.Context, tableID, orderID int64) error {
	_, err := t.ext.ExecContext(ctx, `
		UPDATE tables SET status = $1, locked_by_order_id = $2, updated_at = NOW()
		WHERE id = $3`, models.TableStatusOccupied, orderID, tableID)
	return err
}

// ReleaseTable frees the table if orderID is the holder
func (t *pgTx) ReleaseTable(ctx context.Context, tableID, orderID int64) error {
	_, err := t.ext.ExecContext(ctx, `
		UPDATE tables SET status = $1, locked_by_order_id = NULL, updated_at = NOW()
		WHERE id = $2 AND locked_by_order_id = $3`, models.TableStatusFree, tableID, orderID)
	return err
}
