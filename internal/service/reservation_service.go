package service

import (
	"context"
	"strings"

	"pos-service/internal/errs"
	"pos-service/internal/models"
	"pos-service/internal/reservation"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"go.uber.org/zap"
)

// ReservationLine is one cart line held against section stock
type ReservationLine struct {
	ProductID int64 `json:"product_id" binding:"required"`
	SectionID int64 `json:"section_id" binding:"required"`
	Quantity  int   `json:"qty" binding:"required"`
}

// ReserveRequest reserves or releases units of one cart line
type ReserveRequest struct {
	ReservationLine
	Key              string `json:"reservation_key" binding:"required"`
	UserID           *int64 `json:"user_id,omitempty"`
	AllowOverselling bool   `json:"allow_overselling"`
}

// ReservationService issues the tagged adjustments a cart session makes
// while it is being built.
type ReservationService struct {
	inventory *InventoryService
	logger    *zap.Logger
}

// NewReservationService creates a new reservation service
func NewReservationService(inventory *InventoryService) *ReservationService {
	return &ReservationService{
		inventory: inventory,
		logger:    util.GetLogger(),
	}
}

// NewKey returns a fresh cart reservation key
func (s *ReservationService) NewKey() string {
	return reservation.NewKey()
}

// Reserve decrements section stock by qty tagged with the cart key
func (s *ReservationService) Reserve(ctx context.Context, req *ReserveRequest) (*AdjustResult, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Reserve")
	defer span.End()

	if err := validateReservation(req.Key, req.ReservationLine); err != nil {
		return nil, err
	}
	section := req.SectionID
	return s.inventory.Adjust(ctx, &AdjustRequest{
		Scope:            Scope{SectionID: &section},
		ProductID:        req.ProductID,
		Delta:            -req.Quantity,
		Reason:           models.ReasonAdjust,
		ReferenceID:      reservation.Reserve{Key: req.Key}.String(),
		UserID:           req.UserID,
		AllowOverselling: req.AllowOverselling,
	})
}

// Release gives back up to qty units reserved by the cart key. Requests
// above the outstanding reservation are clamped so stock cannot be inflated.
func (s *ReservationService) Release(ctx context.Context, req *ReserveRequest) (*AdjustResult, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Release")
	defer span.End()

	if err := validateReservation(req.Key, req.ReservationLine); err != nil {
		return nil, err
	}

	var result *AdjustResult
	var eff *stockEffect
	err := s.inventory.repo.WithTx(ctx, func(tx store.Tx) error {
		e, before, err := s.releaseLineTx(ctx, tx, req.Key, req.ReservationLine, req.UserID)
		if err != nil {
			return err
		}
		if e == nil {
			result = &AdjustResult{Before: before, After: before}
			return nil
		}
		eff = e
		result = &AdjustResult{Before: before, After: e.After, Movement: &e.Movement}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if eff != nil {
		s.inventory.publish(ctx, *eff)
	}
	return result, nil
}

// Clear releases every line of a cart in one transaction
func (s *ReservationService) Clear(ctx context.Context, key string, lines []ReservationLine, userID *int64) (int, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Clear")
	defer span.End()

	for _, l := range lines {
		if err := validateReservation(key, l); err != nil {
			return 0, err
		}
	}

	var effects []stockEffect
	err := s.inventory.repo.WithTx(ctx, func(tx store.Tx) error {
		for _, l := range lines {
			e, _, err := s.releaseLineTx(ctx, tx, key, l, userID)
			if err != nil {
				return err
			}
			if e != nil {
				effects = append(effects, *e)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.inventory.publish(ctx, effects...)
	released := 0
	for _, e := range effects {
		released += e.Movement.Delta
	}
	s.logger.Info("Cart cleared",
		zap.String("reservation_key", key),
		zap.Int("lines", len(lines)),
		zap.Int("units", released))
	return released, nil
}

// releaseLineTx releases min(qty, outstanding) units; a nil effect means
// nothing was outstanding.
func (s *ReservationService) releaseLineTx(ctx context.Context, tx store.Tx, key string, line ReservationLine, userID *int64) (*stockEffect, int, error) {
	section, err := tx.GetSection(ctx, line.SectionID)
	if err != nil {
		return nil, 0, err
	}
	before, err := tx.LockSectionInventory(ctx, line.ProductID, section.ID)
	if err != nil {
		return nil, 0, err
	}
	outstanding, err := s.inventory.outstandingTx(ctx, tx, line.ProductID, section.BranchID, section.ID, reservation.Owner{Key: key})
	if err != nil {
		return nil, 0, err
	}
	qty := line.Quantity
	if qty > outstanding {
		s.logger.Warn("Release exceeds outstanding reservation",
			zap.String("reservation_key", key),
			zap.Int64("product_id", line.ProductID),
			zap.Int("requested", qty),
			zap.Int("outstanding", outstanding))
		qty = outstanding
	}
	if qty == 0 {
		return nil, before, nil
	}

	eff, err := s.inventory.releaseUnitsTx(ctx, tx, line.ProductID, section.BranchID, section.ID, key, qty, userID, "")
	if err != nil {
		return nil, 0, err
	}
	return &eff, eff.After - qty, nil
}

func validateReservation(key string, line ReservationLine) error {
	if strings.TrimSpace(key) == "" {
		return errs.Invalid("reservation_key is required")
	}
	if line.ProductID == 0 || line.SectionID == 0 {
		return errs.Invalid("product_id and section_id are required")
	}
	if line.Quantity <= 0 {
		return errs.Invalid("qty must be positive")
	}
	return nil
}
