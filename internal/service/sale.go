package service

import (
	"context"

	"pos-service/internal/errs"
	"pos-service/internal/models"
	"pos-service/internal/reservation"
	"pos-service/internal/store"
	"pos-service/internal/util"
)

// saleLine is one order line to be depleted from stock
type saleLine struct {
	OrderID          int64
	ProductID        int64
	BranchID         int64
	SectionID        *int64
	Eligible         bool
	Quantity         int
	UserID           int64
	Key              string
	AllowOverselling bool
}

// soldShare is the part of an order line taken from one counter
type soldShare struct {
	SectionID *int64
	Quantity  int
}

// sellTx depletes stock for one order line and returns the shares it was
// sold from (SectionID nil for the branch counter) plus the movements written.
//
// Lines eligible for their section first consume what the cart already
// reserved there, then take the rest from the section, falling back to the
// branch when the section is short. Ineligible lines always use the branch.
// The section counter is locked before the reservation scan so concurrent
// checkouts on one key cannot both net the same units.
func (s *InventoryService) sellTx(ctx context.Context, tx store.Tx, l saleLine) ([]soldShare, []stockEffect, error) {
	user := userSegment(&l.UserID)
	userID := l.UserID

	fromBranch := func(qty int, oversell bool) (stockEffect, error) {
		return s.applyTx(ctx, tx, stockChange{
			ProductID:        l.ProductID,
			BranchID:         l.BranchID,
			Delta:            -qty,
			Reason:           models.ReasonSale,
			Reference:        reservation.Sale{OrderID: l.OrderID, User: user, Key: l.Key}.String(),
			UserID:           &userID,
			AllowOverselling: oversell,
		})
	}

	if l.SectionID == nil || !l.Eligible {
		eff, err := fromBranch(l.Quantity, l.AllowOverselling)
		if err != nil {
			return nil, nil, err
		}
		return []soldShare{{Quantity: l.Quantity}}, []stockEffect{eff}, nil
	}

	section := *l.SectionID
	sectionQty, err := tx.LockSectionInventory(ctx, l.ProductID, section)
	if err != nil {
		return nil, nil, err
	}

	owner := reservation.Owner{Key: l.Key, User: user}
	outstanding, err := s.outstandingTx(ctx, tx, l.ProductID, l.BranchID, section, owner)
	if err != nil {
		return nil, nil, err
	}
	consumed := outstanding
	if consumed > l.Quantity {
		consumed = l.Quantity
	}
	need := l.Quantity - consumed
	if consumed > 0 {
		util.ReservationUnitsNetted.Add(float64(consumed))
	}

	fromSection := func(delta, consumed int, oversell bool) (stockEffect, error) {
		return s.applyTx(ctx, tx, stockChange{
			ProductID:        l.ProductID,
			BranchID:         l.BranchID,
			SectionID:        &section,
			Delta:            delta,
			Reason:           models.ReasonSale,
			Reference:        reservation.Sale{OrderID: l.OrderID, Consumed: consumed, User: user, Key: l.Key}.String(),
			UserID:           &userID,
			AllowOverselling: oversell,
		})
	}

	if need == 0 || sectionQty >= need {
		eff, err := fromSection(-need, consumed, false)
		if err != nil {
			return nil, nil, err
		}
		return []soldShare{{SectionID: &section, Quantity: l.Quantity}}, []stockEffect{eff}, nil
	}

	branchQty, err := tx.LockInventory(ctx, l.ProductID, l.BranchID)
	if err != nil {
		return nil, nil, err
	}
	if branchQty >= need {
		var shares []soldShare
		var effects []stockEffect
		if consumed > 0 {
			// reserved units already left the section and return there on refund
			eff, err := fromSection(0, consumed, false)
			if err != nil {
				return nil, nil, err
			}
			effects = append(effects, eff)
			shares = append(shares, soldShare{SectionID: &section, Quantity: consumed})
		}
		eff, err := fromBranch(need, false)
		if err != nil {
			return nil, nil, err
		}
		return append(shares, soldShare{Quantity: need}), append(effects, eff), nil
	}

	if l.AllowOverselling {
		eff, err := fromSection(-need, consumed, true)
		if err != nil {
			return nil, nil, err
		}
		return []soldShare{{SectionID: &section, Quantity: l.Quantity}}, []stockEffect{eff}, nil
	}

	util.InsufficientStockTotal.WithLabelValues("section").Inc()
	return nil, nil, &errs.InsufficientStockError{
		ProductID: l.ProductID,
		Scope:     Scope{BranchID: l.BranchID, SectionID: &section}.String(),
		Available: sectionQty,
		Requested: need,
	}
}

// restockTx returns qty units of a sold line to the scope it was sold from
func (s *InventoryService) restockTx(ctx context.Context, tx store.Tx, item models.OrderItem, branchID int64, qty int, ref string, userID *int64) (stockEffect, error) {
	return s.applyTx(ctx, tx, stockChange{
		ProductID: item.ProductID,
		BranchID:  branchID,
		SectionID: item.StockSectionID,
		Delta:     qty,
		Reason:    models.ReasonRefund,
		Reference: reservation.Plain{Value: ref}.String(),
		UserID:    userID,
	})
}
