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
)

// GetInventory returns the branch counter of a product
func (q *queries) GetInventory(ctx context.Context, productID, branchID int64) (int, error) {
	var qty int
	err := sqlx.GetContext(ctx, q.ext, &qty,
		"SELECT qty_on_hand FROM inventory WHERE product_id = $1 AND branch_id = $2",
		productID, branchID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return qty, err
}

// GetSectionInventory returns the section counter of a product
func (q *queries) GetSectionInventory(ctx context.Context, productID, sectionID int64) (int, error) {
	var qty int
	err := sqlx.GetContext(ctx, q.ext, &qty,
		"SELECT qty_on_hand FROM section_inventory WHERE product_id = $1 AND section_id = $2",
		productID, sectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return qty, err
}

// ListMovements returns ledger rows matching f, oldest first
func (q *queries) ListMovements(ctx context.Context, f MovementFilter) ([]models.StockMovement, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.ProductID != nil {
		where = append(where, "product_id = "+arg(*f.ProductID))
	}
	if f.BranchID != nil {
		where = append(where, "branch_id = "+arg(*f.BranchID))
	}
	if f.SectionID != nil {
		p := arg(*f.SectionID)
		where = append(where, fmt.Sprintf("(section_from = %s OR section_to = %s)", p, p))
	}
	if f.BranchOnly {
		where = append(where, "section_from IS NULL AND section_to IS NULL")
	}
	if len(f.Reasons) > 0 {
		reasons := make([]string, len(f.Reasons))
		for i, r := range f.Reasons {
			reasons[i] = string(r)
		}
		where = append(where, "reason = ANY("+arg(pq.Array(reasons))+")")
	}
	if f.RefPrefix != "" {
		where = append(where, "reference_id LIKE "+arg(f.RefPrefix+"%"))
	}
	if f.Since != nil {
		where = append(where, "created_at >= "+arg(*f.Since))
	}

	query := `SELECT id, product_id, branch_id, section_from, section_to, delta, reason,
		reference_id, user_id, created_at FROM stock_movements`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	var movs []models.StockMovement
	if err := sqlx.SelectContext(ctx, q.ext, &movs, query, args...); err != nil {
		return nil, err
	}
	return movs, nil
}

// LockInventory creates the branch counter if missing and row-locks it
func (t *pgTx) LockInventory(ctx context.Context, productID, branchID int64) (int, error) {
	_, err := t.ext.ExecContext(ctx, `
		INSERT INTO inventory (product_id, branch_id, qty_on_hand)
		VALUES ($1, $2, 0)
		ON CONFLICT (product_id, branch_id) DO NOTHING`, productID, branchID)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert inventory: %w", err)
	}

	var qty int
	err = sqlx.GetContext(ctx, t.ext, &qty, `
		SELECT qty_on_hand FROM inventory
		WHERE product_id = $1 AND branch_id = $2 FOR UPDATE`, productID, branchID)
	return qty, err
}

// LockSectionInventory creates the section counter if missing and row-locks it
func (t *pgTx) LockSectionInventory(ctx context.Context, productID, sectionID int64) (int, error) {
	_, err := t.ext.ExecContext(ctx, `
		INSERT INTO section_inventory (product_id, section_id, qty_on_hand)
		VALUES ($1, $2, 0)
		ON CONFLICT (product_id, section_id) DO NOTHING`, productID, sectionID)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert section inventory: %w", err)
	}

	var qty int
	err = sqlx.GetContext(ctx, t.ext, &qty, `
		SELECT qty_on_hand FROM section_inventory
		WHERE product_id = $1 AND section_id = $2 FOR UPDATE`, productID, sectionID)
	return qty, err
}

// SetInventory overwrites a locked branch counter
func (t *pgTx) SetInventory(ctx context.Context, productID, branchID int64, qty int) error {
	_, err := t.ext.ExecContext(ctx, `
		UPDATE inventory SET qty_on_hand = $1, updated_at = NOW()
		WHERE product_id = $2 AND branch_id = $3`, qty, productID, branchID)
	return err
}

// SetSectionInventory overwrites a locked section counter
func (t *pgTx) SetSectionInventory(ctx context.Context, productID, sectionID int64, qty int) error {
	_, err := t.ext.ExecContext(ctx, `
		UPDATE section_inventory SET qty_on_hand = $1, updated_at = NOW()
		WHERE product_id = $2 AND section_id = $3`, qty, productID, sectionID)
	return err
}

// AppendMovement inserts a ledger row and fills its ID and timestamp
func (t *pgTx) AppendMovement(ctx context.Context, m *models.StockMovement) error {
	query := `
		INSERT INTO stock_movements
			(product_id, branch_id, section_from, section_to, delta, reason, reference_id, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	row := t.ext.QueryRowxContext(ctx, query,
		m.ProductID, m.BranchID, m.SectionFrom, m.SectionTo, m.Delta, m.Reason, m.ReferenceID, m.UserID)
	return row.Scan(&m.ID, &m.CreatedAt)
}
