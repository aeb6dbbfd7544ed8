package service

import (
	"context"
	"fmt"

	"pos-service/internal/errs"
	"pos-service/internal/models"
	"pos-service/internal/reservation"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"go.uber.org/zap"
)

// SaveDraftRequest creates or replaces a cart snapshot. A zero ID creates a
// new draft; a missing reservation key is generated.
type SaveDraftRequest struct {
	ID             int64            `json:"id,omitempty"`
	BranchID       *int64           `json:"branch_id,omitempty"`
	SectionID      *int64           `json:"section_id,omitempty"`
	TableID        *int64           `json:"table_id,omitempty"`
	UserID         int64            `json:"user_id"`
	WaiterID       *int64           `json:"waiter_id,omitempty"`
	CustomerName   string           `json:"customer_name,omitempty"`
	ReservationKey string           `json:"reservation_key,omitempty"`
	Cart           models.DraftCart `json:"cart"`
}

// DraftService persists carts so a session can be suspended and resumed
type DraftService struct {
	repo      store.Repository
	inventory *InventoryService
	logger    *zap.Logger
}

// NewDraftService creates a new draft service
func NewDraftService(repo store.Repository, inventory *InventoryService) *DraftService {
	return &DraftService{
		repo:      repo,
		inventory: inventory,
		logger:    util.GetLogger(),
	}
}

// Save stores the cart snapshot and returns the persisted draft
func (s *DraftService) Save(ctx context.Context, req *SaveDraftRequest) (*models.Draft, error) {
	ctx, span := util.StartSpan(ctx, "DraftService.Save")
	defer span.End()

	if req.UserID == 0 {
		return nil, errs.Invalid("user_id is required")
	}
	for i, l := range req.Cart.Lines {
		if l.ProductID == 0 || l.Quantity <= 0 {
			return nil, errs.Invalid("cart.lines[%d]: product_id and a positive qty are required", i)
		}
	}

	var draft *models.Draft
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		branch, section, err := resolveLocation(ctx, tx, req.BranchID, req.SectionID, "")
		if err != nil {
			return err
		}

		d := &models.Draft{Status: models.DraftStatusActive}
		if req.ID != 0 {
			if d, err = tx.GetDraft(ctx, req.ID); err != nil {
				return err
			}
			if d.OrderID != nil {
				return errs.Conflict("draft %d was already committed as order %d", d.ID, *d.OrderID)
			}
		}

		d.BranchID = branch.ID
		d.SectionID = nil
		if section != nil {
			d.SectionID = &section.ID
		}
		if req.TableID != nil {
			table, err := tx.GetTable(ctx, *req.TableID)
			if err != nil {
				return err
			}
			if table.BranchID != branch.ID {
				return errs.Invalid("table %d does not belong to branch %d", table.ID, branch.ID)
			}
		}
		d.TableID = req.TableID
		d.UserID = req.UserID
		d.WaiterID = req.WaiterID
		d.WaiterName = ""
		if req.WaiterID != nil {
			if name, err := tx.GetStaffName(ctx, *req.WaiterID); err == nil {
				d.WaiterName = name
			} else {
				s.logger.Warn("Failed to resolve waiter name", zap.Int64("waiter_id", *req.WaiterID), zap.Error(err))
			}
		}
		d.CustomerName = req.CustomerName
		d.Cart = req.Cart
		switch {
		case req.ReservationKey != "":
			d.ReservationKey = req.ReservationKey
		case d.ReservationKey == "":
			d.ReservationKey = reservation.NewKey()
		}

		if err := tx.SaveDraft(ctx, d); err != nil {
			return fmt.Errorf("failed to save draft: %w", err)
		}
		draft = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Draft saved",
		zap.Int64("draft_id", draft.ID),
		zap.Int64("branch_id", draft.BranchID),
		zap.Int("lines", len(draft.Cart.Lines)))
	return draft, nil
}

// Get retrieves a draft by ID
func (s *DraftService) Get(ctx context.Context, id int64) (*models.Draft, error) {
	var draft *models.Draft
	err := s.repo.View(ctx, func(q store.Queries) error {
		var err error
		draft, err = q.GetDraft(ctx, id)
		return err
	})
	return draft, err
}

// List retrieves drafts matching f
func (s *DraftService) List(ctx context.Context, f store.DraftFilter) ([]models.Draft, error) {
	var drafts []models.Draft
	err := s.repo.View(ctx, func(q store.Queries) error {
		var err error
		drafts, err = q.ListDrafts(ctx, f)
		return err
	})
	if drafts == nil {
		drafts = []models.Draft{}
	}
	return drafts, err
}

// Suspend parks a draft; its reservations stay in place
func (s *DraftService) Suspend(ctx context.Context, id int64) (*models.Draft, error) {
	var draft *models.Draft
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		d, err := tx.GetDraft(ctx, id)
		if err != nil {
			return err
		}
		if d.Status == models.DraftStatusSuspended {
			draft = d
			return nil
		}
		d.Status = models.DraftStatusSuspended
		if err := tx.SaveDraft(ctx, d); err != nil {
			return fmt.Errorf("failed to suspend draft: %w", err)
		}
		draft = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Draft suspended", zap.Int64("draft_id", id))
	return draft, nil
}

// Discard deletes a draft and releases every unit its reservation key still
// holds. Drafts linked to an order keep their reservations, which the order
// already consumed.
func (s *DraftService) Discard(ctx context.Context, id int64, userID *int64) (int, error) {
	ctx, span := util.StartSpan(ctx, "DraftService.Discard")
	defer span.End()

	var effects []stockEffect
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		d, err := tx.GetDraft(ctx, id)
		if err != nil {
			return err
		}
		if d.ReservationKey != "" && d.OrderID == nil {
			if effects, err = s.inventory.releaseKeyTx(ctx, tx, d.BranchID, d.ReservationKey, userID, "discard"); err != nil {
				return err
			}
		}
		return tx.DeleteDraft(ctx, d.ID)
	})
	if err != nil {
		return 0, err
	}

	s.inventory.publish(ctx, effects...)
	released := 0
	for _, e := range effects {
		released += e.Movement.Delta
	}
	s.logger.Info("Draft discarded",
		zap.Int64("draft_id", id),
		zap.Int("units_released", released))
	return released, nil
}
