package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"pos-service/internal/errs"
	"pos-service/internal/models"
	"pos-service/internal/reservation"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Scope addresses one stock counter: the branch counter when SectionID is
// nil, the section counter otherwise. BranchID may be left 0 for section
// scopes; it is then derived from the section.
type Scope struct {
	BranchID  int64  `json:"branch_id,omitempty"`
	SectionID *int64 `json:"section_id,omitempty"`
}

func (s Scope) String() string {
	if s.SectionID != nil {
		return fmt.Sprintf("section %d", *s.SectionID)
	}
	return fmt.Sprintf("branch %d", s.BranchID)
}

// AdjustRequest is a single stock adjustment
type AdjustRequest struct {
	Scope
	ProductID        int64                 `json:"product_id" binding:"required"`
	Delta            int                   `json:"delta" binding:"required"`
	Reason           models.MovementReason `json:"reason" binding:"required"`
	ReferenceID      string                `json:"reference_id"`
	Note             string                `json:"note,omitempty"`
	UserID           *int64                `json:"user_id,omitempty"`
	AllowOverselling bool                  `json:"allow_overselling"`
}

// AdjustResult reports the counter around an adjustment
type AdjustResult struct {
	Before   int                   `json:"before"`
	After    int                   `json:"after"`
	Movement *models.StockMovement `json:"movement,omitempty"`
}

// TransferRequest moves stock between two scopes
type TransferRequest struct {
	ProductID        int64  `json:"product_id" binding:"required"`
	From             Scope  `json:"from"`
	To               Scope  `json:"to"`
	Quantity         int    `json:"qty" binding:"required"`
	UserID           *int64 `json:"user_id,omitempty"`
	AllowOverselling bool   `json:"allow_overselling"`
}

// TransferResult reports both counters touched by a transfer
type TransferResult struct {
	From AdjustResult `json:"from"`
	To   AdjustResult `json:"to"`
}

// Reconciliation compares a cached counter with its ledger sum
type Reconciliation struct {
	ProductID int64 `json:"product_id"`
	Scope     Scope `json:"scope"`
	Counter   int   `json:"counter"`
	LedgerSum int   `json:"ledger_sum"`
	Drift     int   `json:"drift"`
	Movements int   `json:"movements"`
}

// stockChange is one counter mutation plus its ledger row
type stockChange struct {
	ProductID        int64
	BranchID         int64
	SectionID        *int64
	Other            *int64
	Delta            int
	Reason           models.MovementReason
	Reference        string
	UserID           *int64
	AllowOverselling bool
}

// stockEffect is a committed movement waiting to be published
type stockEffect struct {
	Movement models.StockMovement
	After    int
}

// InventoryService owns the two-tier stock counters and their ledger
type InventoryService struct {
	repo      store.Repository
	publisher EventPublisher
	lookback  time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewInventoryService creates a new inventory service. lookback bounds how
// far back reservation movements are netted; 0 selects the default.
func NewInventoryService(repo store.Repository, publisher EventPublisher, lookback time.Duration) *InventoryService {
	if lookback <= 0 {
		lookback = reservation.DefaultLookback
	}
	return &InventoryService{
		repo:      repo,
		publisher: publisherOrNop(publisher),
		lookback:  lookback,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// SetClock replaces the time source used for the lookback window
func (s *InventoryService) SetClock(now func() time.Time) {
	s.now = now
}

// Adjust applies a signed delta to one counter and appends the ledger row in
// the same transaction. The stored reference is the ADJ envelope around
// ReferenceID.
func (s *InventoryService) Adjust(ctx context.Context, req *AdjustRequest) (*AdjustResult, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Adjust")
	defer span.End()

	start := time.Now()
	defer func() {
		util.StockAdjustLatency.Observe(time.Since(start).Seconds())
	}()

	var eff stockEffect
	var before int
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		before, eff, err = s.adjustTx(ctx, tx, req)
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.publish(ctx, eff)
	return &AdjustResult{Before: before, After: eff.After, Movement: &eff.Movement}, nil
}

// adjustTx validates req and applies it inside tx
func (s *InventoryService) adjustTx(ctx context.Context, tx store.Tx, req *AdjustRequest) (int, stockEffect, error) {
	if req.ProductID == 0 {
		return 0, stockEffect{}, errs.Invalid("product_id is required")
	}
	if req.Delta == 0 {
		return 0, stockEffect{}, errs.Invalid("delta must be non-zero")
	}
	if !req.Reason.Valid() {
		return 0, stockEffect{}, errs.Invalid("unknown movement reason %q", req.Reason)
	}

	scope, err := s.resolveScope(ctx, tx, req.Scope)
	if err != nil {
		return 0, stockEffect{}, err
	}
	if _, err := tx.GetProduct(ctx, req.ProductID); err != nil {
		return 0, stockEffect{}, err
	}

	before, err := s.lockCounter(ctx, tx, req.ProductID, scope)
	if err != nil {
		return 0, stockEffect{}, err
	}

	var inner reservation.Tag
	if req.ReferenceID != "" {
		inner = reservation.Parse(req.ReferenceID)
	}
	ref := reservation.Adjust{
		Before:  before,
		After:   before + req.Delta,
		User:    userSegment(req.UserID),
		Note:    req.Note,
		Context: inner,
	}

	eff, err := s.applyTx(ctx, tx, stockChange{
		ProductID:        req.ProductID,
		BranchID:         scope.BranchID,
		SectionID:        scope.SectionID,
		Delta:            req.Delta,
		Reason:           req.Reason,
		Reference:        ref.String(),
		UserID:           req.UserID,
		AllowOverselling: req.AllowOverselling,
	})
	return before, eff, err
}

// resolveScope checks the scope exists and fills BranchID for sections
func (s *InventoryService) resolveScope(ctx context.Context, q store.Queries, scope Scope) (Scope, error) {
	if scope.SectionID != nil {
		section, err := q.GetSection(ctx, *scope.SectionID)
		if err != nil {
			return Scope{}, err
		}
		if scope.BranchID != 0 && scope.BranchID != section.BranchID {
			return Scope{}, errs.Invalid("section %d does not belong to branch %d", section.ID, scope.BranchID)
		}
		return Scope{BranchID: section.BranchID, SectionID: scope.SectionID}, nil
	}
	if scope.BranchID == 0 {
		return Scope{}, errs.Invalid("branch_id or section_id is required")
	}
	if _, err := q.GetBranch(ctx, scope.BranchID); err != nil {
		return Scope{}, err
	}
	return scope, nil
}

func (s *InventoryService) lockCounter(ctx context.Context, tx store.Tx, productID int64, scope Scope) (int, error) {
	if scope.SectionID != nil {
		return tx.LockSectionInventory(ctx, productID, *scope.SectionID)
	}
	return tx.LockInventory(ctx, productID, scope.BranchID)
}

// applyTx is the single write path for counters: lock, check, set, append
func (s *InventoryService) applyTx(ctx context.Context, tx store.Tx, c stockChange) (stockEffect, error) {
	scope := Scope{BranchID: c.BranchID, SectionID: c.SectionID}
	before, err := s.lockCounter(ctx, tx, c.ProductID, scope)
	if err != nil {
		return stockEffect{}, fmt.Errorf("failed to lock %s counter: %w", scope, err)
	}

	after := before + c.Delta
	if c.Delta < 0 && after < 0 && !c.AllowOverselling {
		util.InsufficientStockTotal.WithLabelValues(scopeKind(scope)).Inc()
		return stockEffect{}, &errs.InsufficientStockError{
			ProductID: c.ProductID,
			Scope:     scope.String(),
			Available: before,
			Requested: -c.Delta,
		}
	}

	if c.Delta != 0 {
		if c.SectionID != nil {
			err = tx.SetSectionInventory(ctx, c.ProductID, *c.SectionID, after)
		} else {
			err = tx.SetInventory(ctx, c.ProductID, c.BranchID, after)
		}
		if err != nil {
			return stockEffect{}, fmt.Errorf("failed to update %s counter: %w", scope, err)
		}
	}

	m := &models.StockMovement{
		ProductID:   c.ProductID,
		BranchID:    c.BranchID,
		Delta:       c.Delta,
		Reason:      c.Reason,
		ReferenceID: c.Reference,
		UserID:      c.UserID,
	}
	if c.Delta <= 0 {
		m.SectionFrom, m.SectionTo = c.SectionID, c.Other
	} else {
		m.SectionFrom, m.SectionTo = c.Other, c.SectionID
	}
	if err := tx.AppendMovement(ctx, m); err != nil {
		return stockEffect{}, fmt.Errorf("failed to append stock movement: %w", err)
	}

	util.StockAdjustmentsTotal.WithLabelValues(string(c.Reason)).Inc()
	return stockEffect{Movement: *m, After: after}, nil
}

// Transfer moves qty from one scope to another as two TRANSFER rows
func (s *InventoryService) Transfer(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Transfer")
	defer span.End()

	if req.Quantity <= 0 {
		return nil, errs.Invalid("transfer quantity must be positive")
	}

	var out, in stockEffect
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		from, err := s.resolveScope(ctx, tx, req.From)
		if err != nil {
			return err
		}
		to, err := s.resolveScope(ctx, tx, req.To)
		if err != nil {
			return err
		}
		if from.BranchID == to.BranchID && sameSection(from.SectionID, to.SectionID) {
			return errs.Invalid("transfer source and destination are the same")
		}
		if _, err := tx.GetProduct(ctx, req.ProductID); err != nil {
			return err
		}

		ref := reservation.Transfer{From: from.String(), To: to.String()}.String()
		out, err = s.applyTx(ctx, tx, stockChange{
			ProductID:        req.ProductID,
			BranchID:         from.BranchID,
			SectionID:        from.SectionID,
			Other:            to.SectionID,
			Delta:            -req.Quantity,
			Reason:           models.ReasonTransfer,
			Reference:        ref,
			UserID:           req.UserID,
			AllowOverselling: req.AllowOverselling,
		})
		if err != nil {
			return err
		}
		in, err = s.applyTx(ctx, tx, stockChange{
			ProductID: req.ProductID,
			BranchID:  to.BranchID,
			SectionID: to.SectionID,
			Other:     from.SectionID,
			Delta:     req.Quantity,
			Reason:    models.ReasonTransfer,
			Reference: ref,
			UserID:    req.UserID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, out, in)
	s.logger.Info("Stock transferred",
		zap.Int64("product_id", req.ProductID),
		zap.String("from", req.From.String()),
		zap.String("to", req.To.String()),
		zap.Int("qty", req.Quantity))

	return &TransferResult{
		From: AdjustResult{Before: out.After + req.Quantity, After: out.After, Movement: &out.Movement},
		To:   AdjustResult{Before: in.After - req.Quantity, After: in.After, Movement: &in.Movement},
	}, nil
}

// GetStock returns the current counter for a product in scope
func (s *InventoryService) GetStock(ctx context.Context, productID int64, scope Scope) (int, error) {
	var qty int
	err := s.repo.View(ctx, func(q store.Queries) error {
		resolved, err := s.resolveScope(ctx, q, scope)
		if err != nil {
			return err
		}
		if resolved.SectionID != nil {
			qty, err = q.GetSectionInventory(ctx, productID, *resolved.SectionID)
		} else {
			qty, err = q.GetInventory(ctx, productID, resolved.BranchID)
		}
		return err
	})
	return qty, err
}

// Movements lists ledger rows
func (s *InventoryService) Movements(ctx context.Context, f store.MovementFilter) ([]models.StockMovement, error) {
	var movs []models.StockMovement
	err := s.repo.View(ctx, func(q store.Queries) error {
		var err error
		movs, err = q.ListMovements(ctx, f)
		return err
	})
	if movs == nil {
		movs = []models.StockMovement{}
	}
	return movs, err
}

// Reconcile recomputes a counter from the ledger and reports the drift
func (s *InventoryService) Reconcile(ctx context.Context, productID int64, scope Scope) (*Reconciliation, error) {
	var rec *Reconciliation
	err := s.repo.View(ctx, func(q store.Queries) error {
		resolved, err := s.resolveScope(ctx, q, scope)
		if err != nil {
			return err
		}

		var counter int
		if resolved.SectionID != nil {
			counter, err = q.GetSectionInventory(ctx, productID, *resolved.SectionID)
		} else {
			counter, err = q.GetInventory(ctx, productID, resolved.BranchID)
		}
		if err != nil {
			return err
		}

		movs, err := q.ListMovements(ctx, store.MovementFilter{ProductID: &productID, BranchID: &resolved.BranchID})
		if err != nil {
			return err
		}
		rec = &Reconciliation{ProductID: productID, Scope: resolved, Counter: counter}
		for _, m := range movs {
			if !sameSection(m.ScopeSection(), resolved.SectionID) {
				continue
			}
			rec.LedgerSum += m.Delta
			rec.Movements++
		}
		rec.Drift = rec.Counter - rec.LedgerSum
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rec.Drift != 0 {
		s.logger.Warn("Stock counter drift detected",
			zap.Int64("product_id", productID),
			zap.String("scope", rec.Scope.String()),
			zap.Int("counter", rec.Counter),
			zap.Int("ledger_sum", rec.LedgerSum))
	}
	return rec, nil
}

// outstandingTx returns how many units owner still holds reserved in a
// section within the lookback window
func (s *InventoryService) outstandingTx(ctx context.Context, q store.Queries, productID, branchID, sectionID int64, owner reservation.Owner) (int, error) {
	if owner.Empty() {
		return 0, nil
	}
	movs, err := s.recentSectionMovements(ctx, q, &productID, branchID, sectionID)
	if err != nil {
		return 0, err
	}
	return reservation.Count(movs, owner).Outstanding(), nil
}

// recentSectionMovements lists reservation-relevant rows scoped to a section
func (s *InventoryService) recentSectionMovements(ctx context.Context, q store.Queries, productID *int64, branchID, sectionID int64) ([]models.StockMovement, error) {
	since := s.now().Add(-s.lookback)
	movs, err := q.ListMovements(ctx, store.MovementFilter{
		ProductID: productID,
		BranchID:  &branchID,
		SectionID: &sectionID,
		Reasons:   []models.MovementReason{models.ReasonAdjust, models.ReasonSale},
		Since:     &since,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan reservations: %w", err)
	}
	scoped := movs[:0]
	for _, m := range movs {
		if sec := m.ScopeSection(); sec != nil && *sec == sectionID {
			scoped = append(scoped, m)
		}
	}
	return scoped, nil
}

// ReleaseReservations gives back every unit still reserved in a section by
// key, or by the user when key is empty. It returns the units released.
func (s *InventoryService) ReleaseReservations(ctx context.Context, sectionID int64, key string, userID *int64) (int, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.ReleaseReservations")
	defer span.End()

	owner := reservation.Owner{Key: key, User: userSegment(userID)}
	if owner.Empty() {
		return 0, errs.Invalid("reservation key or user is required")
	}

	var effects []stockEffect
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		section, err := tx.GetSection(ctx, sectionID)
		if err != nil {
			return err
		}
		effects, err = s.releaseTx(ctx, tx, section.BranchID, sectionID, owner, userID)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.publish(ctx, effects...)
	released := 0
	for _, e := range effects {
		released += e.Movement.Delta
	}
	if released > 0 {
		s.logger.Info("Reservations released",
			zap.Int64("section_id", sectionID),
			zap.String("reservation_key", key),
			zap.Int("units", released))
	}
	return released, nil
}

// counterKey names one section counter
type counterKey struct {
	SectionID int64
	ProductID int64
}

// scanLockedTx runs scan, row-locks every section counter its movements
// touch, then scans again so the result cannot change before commit.
// Counters are locked in (section, product) order; the scan repeats while
// it keeps finding counters that are not locked yet.
func (s *InventoryService) scanLockedTx(ctx context.Context, tx store.Tx, scan func() ([]models.StockMovement, error)) ([]models.StockMovement, error) {
	locked := make(map[counterKey]bool)
	for {
		movs, err := scan()
		if err != nil {
			return nil, err
		}
		var pending []counterKey
		for _, m := range movs {
			sec := m.ScopeSection()
			if sec == nil {
				continue
			}
			k := counterKey{SectionID: *sec, ProductID: m.ProductID}
			if !locked[k] {
				locked[k] = true
				pending = append(pending, k)
			}
		}
		if len(pending) == 0 {
			return movs, nil
		}
		sort.Slice(pending, func(i, j int) bool {
			if pending[i].SectionID != pending[j].SectionID {
				return pending[i].SectionID < pending[j].SectionID
			}
			return pending[i].ProductID < pending[j].ProductID
		})
		for _, k := range pending {
			if _, err := tx.LockSectionInventory(ctx, k.ProductID, k.SectionID); err != nil {
				return nil, fmt.Errorf("failed to lock section counter: %w", err)
			}
		}
	}
}

// releaseTx writes Release adjustments for everything owner holds in a section
func (s *InventoryService) releaseTx(ctx context.Context, tx store.Tx, branchID, sectionID int64, owner reservation.Owner, userID *int64) ([]stockEffect, error) {
	movs, err := s.scanLockedTx(ctx, tx, func() ([]models.StockMovement, error) {
		return s.recentSectionMovements(ctx, tx, nil, branchID, sectionID)
	})
	if err != nil {
		return nil, err
	}

	byProduct := make(map[int64][]models.StockMovement)
	var order []int64
	for _, m := range movs {
		if _, ok := byProduct[m.ProductID]; !ok {
			order = append(order, m.ProductID)
		}
		byProduct[m.ProductID] = append(byProduct[m.ProductID], m)
	}

	var effects []stockEffect
	for _, productID := range order {
		pm := byProduct[productID]
		outstanding := reservation.Count(pm, owner).Outstanding()
		if outstanding == 0 {
			continue
		}
		if owner.Key != "" {
			eff, err := s.releaseUnitsTx(ctx, tx, productID, branchID, sectionID, owner.Key, outstanding, userID, "release")
			if err != nil {
				return nil, err
			}
			effects = append(effects, eff)
			continue
		}

		// release per cart key so each key's session balance stays exact;
		// decrements made without a key go back under the user's own key
		for _, key := range userKeys(pm, owner.User) {
			n := reservation.Count(pm, reservation.Owner{Key: key}).Outstanding()
			if n > outstanding {
				n = outstanding
			}
			if n == 0 {
				continue
			}
			eff, err := s.releaseUnitsTx(ctx, tx, productID, branchID, sectionID, key, n, userID, "release")
			if err != nil {
				return nil, err
			}
			effects = append(effects, eff)
			outstanding -= n
		}
		if outstanding > 0 {
			eff, err := s.releaseUnitsTx(ctx, tx, productID, branchID, sectionID, reservation.UserKey(owner.User), outstanding, userID, "release")
			if err != nil {
				return nil, err
			}
			effects = append(effects, eff)
		}
	}
	return effects, nil
}

// releaseKeyTx releases everything key still holds in any section of a branch
func (s *InventoryService) releaseKeyTx(ctx context.Context, tx store.Tx, branchID int64, key string, userID *int64, note string) ([]stockEffect, error) {
	since := s.now().Add(-s.lookback)
	movs, err := s.scanLockedTx(ctx, tx, func() ([]models.StockMovement, error) {
		movs, err := tx.ListMovements(ctx, store.MovementFilter{
			BranchID: &branchID,
			Reasons:  []models.MovementReason{models.ReasonAdjust, models.ReasonSale},
			Since:    &since,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservations: %w", err)
		}
		return movs, nil
	})
	if err != nil {
		return nil, err
	}

	sessions := reservation.Sessions(movs)
	keys := make([]reservation.SessionKey, 0, len(sessions))
	for sk := range sessions {
		if sk.Key == key {
			keys = append(keys, sk)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SectionID != keys[j].SectionID {
			return keys[i].SectionID < keys[j].SectionID
		}
		return keys[i].ProductID < keys[j].ProductID
	})

	var effects []stockEffect
	for _, sk := range keys {
		outstanding := sessions[sk].Outstanding()
		if outstanding == 0 {
			continue
		}
		eff, err := s.releaseUnitsTx(ctx, tx, sk.ProductID, sk.BranchID, sk.SectionID, key, outstanding, userID, note)
		if err != nil {
			return nil, err
		}
		effects = append(effects, eff)
	}
	return effects, nil
}

// releaseUnitsTx writes one Release adjustment of qty units
func (s *InventoryService) releaseUnitsTx(ctx context.Context, tx store.Tx, productID, branchID, sectionID int64, key string, qty int, userID *int64, note string) (stockEffect, error) {
	sec := sectionID
	before, err := tx.LockSectionInventory(ctx, productID, sectionID)
	if err != nil {
		return stockEffect{}, err
	}
	ref := reservation.Adjust{
		Before:  before,
		After:   before + qty,
		User:    userSegment(userID),
		Note:    note,
		Context: reservation.Release{Key: key},
	}
	return s.applyTx(ctx, tx, stockChange{
		ProductID: productID,
		BranchID:  branchID,
		SectionID: &sec,
		Delta:     qty,
		Reason:    models.ReasonAdjust,
		Reference: ref.String(),
		UserID:    userID,
	})
}

// SweepExpiredReservations releases reservations whose newest activity is
// older than ttl. Only movements newer than horizon are considered.
func (s *InventoryService) SweepExpiredReservations(ctx context.Context, ttl, horizon time.Duration) (int, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.SweepExpiredReservations")
	defer span.End()

	now := s.now()
	since := now.Add(-horizon)
	cutoff := now.Add(-ttl)

	var effects []stockEffect
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		movs, err := s.scanLockedTx(ctx, tx, func() ([]models.StockMovement, error) {
			movs, err := tx.ListMovements(ctx, store.MovementFilter{
				Reasons: []models.MovementReason{models.ReasonAdjust, models.ReasonSale},
				Since:   &since,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to scan reservations: %w", err)
			}
			return movs, nil
		})
		if err != nil {
			return err
		}

		for sk, session := range reservation.Sessions(movs) {
			outstanding := session.Outstanding()
			if outstanding == 0 || session.LastActivity.After(cutoff) {
				continue
			}
			userID := parseUserSegment(session.User)
			eff, err := s.releaseUnitsTx(ctx, tx, sk.ProductID, sk.BranchID, sk.SectionID, sk.Key, outstanding, userID, "expired")
			if err != nil {
				return err
			}
			effects = append(effects, eff)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.publish(ctx, effects...)
	released := 0
	for _, e := range effects {
		released += e.Movement.Delta
	}
	util.ReservationsSweptTotal.Add(float64(released))
	if released > 0 {
		s.logger.Info("Expired reservations released",
			zap.Int("sessions", len(effects)),
			zap.Int("units", released))
	}
	return released, nil
}

// publish emits StockAdjusted events for committed movements
func (s *InventoryService) publish(ctx context.Context, effects ...stockEffect) {
	for _, e := range effects {
		event := &models.StockAdjustedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeStockAdjusted,
				Timestamp: time.Now(),
			},
			MovementID: e.Movement.ID,
			ProductID:  e.Movement.ProductID,
			BranchID:   e.Movement.BranchID,
			SectionID:  e.Movement.ScopeSection(),
			Delta:      e.Movement.Delta,
			After:      e.After,
			Reason:     e.Movement.Reason,
		}
		if err := s.publisher.PublishStockAdjusted(ctx, event); err != nil {
			s.logger.Error("Failed to publish StockAdjusted event",
				zap.Int64("movement_id", e.Movement.ID),
				zap.Error(err))
		}
	}
}

// userKeys lists the cart keys user reserved under, in first-use order
func userKeys(movs []models.StockMovement, user string) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range movs {
		tag, ok := reservation.Parse(m.ReferenceID).(reservation.Adjust)
		if !ok || tag.User != user || m.Delta >= 0 {
			continue
		}
		if k, ok := reservation.ReservationKey(tag); ok && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

func userSegment(userID *int64) string {
	if userID == nil {
		return ""
	}
	return strconv.FormatInt(*userID, 10)
}

func parseUserSegment(s string) *int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

func scopeKind(s Scope) string {
	if s.SectionID != nil {
		return "section"
	}
	return "branch"
}

func sameSection(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
