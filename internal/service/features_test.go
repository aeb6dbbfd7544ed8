package service

import (
	"context"
	"fmt"
	"testing"

	"pos-service/internal/errs"
	"pos-service/internal/models"
	"pos-service/internal/store"

	"github.com/cucumber/godog"
)

type stockScenario struct {
	f         *fixture
	lastOrder *models.Order
	refund    *models.Order
	orderErr  error
	refundErr error
}

func (s *stockScenario) reset() {
	s.f = newWorld()
	s.lastOrder = nil
	s.refund = nil
	s.orderErr = nil
	s.refundErr = nil
}

func (s *stockScenario) product(name string) (int64, error) {
	switch name {
	case "Beer":
		return s.f.beer, nil
	case "Burger":
		return s.f.burger, nil
	}
	return 0, fmt.Errorf("unknown product %q", name)
}

func (s *stockScenario) section(name string) (int64, error) {
	switch name {
	case "bar":
		return s.f.bar, nil
	case "kitchen":
		return s.f.kitchen, nil
	}
	return 0, fmt.Errorf("unknown section %q", name)
}

func (s *stockScenario) aBranchWithABarAndAKitchen() error {
	return nil
}

func (s *stockScenario) theSectionHolds(sectionName string, qty int, productName string) error {
	sectionID, err := s.section(sectionName)
	if err != nil {
		return err
	}
	productID, err := s.product(productName)
	if err != nil {
		return err
	}
	_, err = s.f.inventory.Adjust(s.f.ctx, &AdjustRequest{
		Scope:       Scope{SectionID: &sectionID},
		ProductID:   productID,
		Delta:       qty,
		Reason:      models.ReasonAdjust,
		ReferenceID: "opening",
	})
	return err
}

func (s *stockScenario) theBranchStoreHolds(qty int, productName string) error {
	productID, err := s.product(productName)
	if err != nil {
		return err
	}
	_, err = s.f.inventory.Adjust(s.f.ctx, &AdjustRequest{
		Scope:       Scope{BranchID: s.f.branch},
		ProductID:   productID,
		Delta:       qty,
		Reason:      models.ReasonAdjust,
		ReferenceID: "opening",
	})
	return err
}

func (s *stockScenario) cartReserves(key string, qty int, productName, sectionName string) error {
	sectionID, err := s.section(sectionName)
	if err != nil {
		return err
	}
	productID, err := s.product(productName)
	if err != nil {
		return err
	}
	_, err = s.f.reservations.Reserve(s.f.ctx, &ReserveRequest{
		ReservationLine: ReservationLine{ProductID: productID, SectionID: sectionID, Quantity: qty},
		Key:             key,
	})
	return err
}

func (s *stockScenario) order(req *CreateOrderRequest) {
	s.lastOrder, s.orderErr = s.f.orders.Create(s.f.ctx, req)
}

func (s *stockScenario) cartOrders(key string, qty int, productName, sectionName string) error {
	sectionID, err := s.section(sectionName)
	if err != nil {
		return err
	}
	productID, err := s.product(productName)
	if err != nil {
		return err
	}
	s.order(&CreateOrderRequest{
		SectionID:      &sectionID,
		UserID:         1,
		ReservationKey: key,
		Items:          []OrderLineRequest{{ProductID: productID, Quantity: qty}},
	})
	return s.orderErr
}

func (s *stockScenario) cartOrdersTwoLines(key string, qtyA int, productA string, qtyB int, productB, sectionName string) error {
	sectionID, err := s.section(sectionName)
	if err != nil {
		return err
	}
	a, err := s.product(productA)
	if err != nil {
		return err
	}
	b, err := s.product(productB)
	if err != nil {
		return err
	}
	s.order(&CreateOrderRequest{
		SectionID:      &sectionID,
		UserID:         1,
		ReservationKey: key,
		Items: []OrderLineRequest{
			{ProductID: a, Quantity: qtyA},
			{ProductID: b, Quantity: qtyB},
		},
	})
	return nil
}

func (s *stockScenario) aPaidOrder(qty int, productName, sectionName string) error {
	sectionID, err := s.section(sectionName)
	if err != nil {
		return err
	}
	productID, err := s.product(productName)
	if err != nil {
		return err
	}
	s.order(&CreateOrderRequest{
		SectionID: &sectionID,
		UserID:    1,
		Status:    models.OrderStatusPaid,
		Items:     []OrderLineRequest{{ProductID: productID, Quantity: qty}},
	})
	return s.orderErr
}

func (s *stockScenario) anOpenOrderAtTheTable(qty int, productName string) error {
	productID, err := s.product(productName)
	if err != nil {
		return err
	}
	s.order(&CreateOrderRequest{
		TableID: &s.f.table,
		UserID:  1,
		Items:   []OrderLineRequest{{ProductID: productID, Quantity: qty}},
	})
	return s.orderErr
}

func (s *stockScenario) anotherOrderAtTheTable(qty int, productName string) error {
	productID, err := s.product(productName)
	if err != nil {
		return err
	}
	_, s.orderErr = s.f.orders.Create(s.f.ctx, &CreateOrderRequest{
		TableID: &s.f.table,
		UserID:  2,
		Items:   []OrderLineRequest{{ProductID: productID, Quantity: qty}},
	})
	return nil
}

func (s *stockScenario) refundedFromThatOrder(qty int, productName string) error {
	if s.lastOrder == nil {
		return fmt.Errorf("no order was placed")
	}
	productID, err := s.product(productName)
	if err != nil {
		return err
	}
	s.refund, s.refundErr = s.f.orders.RefundItems(s.f.ctx, s.lastOrder.ID, []RefundLine{{ProductID: productID, Quantity: qty}}, nil)
	return nil
}

func (s *stockScenario) theSectionHoldsExactly(sectionName string, qty int, productName string) error {
	sectionID, err := s.section(sectionName)
	if err != nil {
		return err
	}
	productID, err := s.product(productName)
	if err != nil {
		return err
	}
	got, err := s.f.inventory.GetStock(s.f.ctx, productID, Scope{SectionID: &sectionID})
	if err != nil {
		return err
	}
	if got != qty {
		return fmt.Errorf("expected %d %s in the %s, got %d", qty, productName, sectionName, got)
	}
	return nil
}

func (s *stockScenario) theBranchStoreHoldsExactly(qty int, productName string) error {
	productID, err := s.product(productName)
	if err != nil {
		return err
	}
	got, err := s.f.inventory.GetStock(s.f.ctx, productID, Scope{BranchID: s.f.branch})
	if err != nil {
		return err
	}
	if got != qty {
		return fmt.Errorf("expected %d %s in the branch store, got %d", qty, productName, got)
	}
	return nil
}

func (s *stockScenario) theLedgerMatches(productName, sectionName string) error {
	sectionID, err := s.section(sectionName)
	if err != nil {
		return err
	}
	productID, err := s.product(productName)
	if err != nil {
		return err
	}
	rec, err := s.f.inventory.Reconcile(s.f.ctx, productID, Scope{SectionID: &sectionID})
	if err != nil {
		return err
	}
	if rec.Drift != 0 {
		return fmt.Errorf("counter %d drifted from ledger %d", rec.Counter, rec.LedgerSum)
	}
	return nil
}

func expectKind(err error, kind string) error {
	if err == nil {
		return fmt.Errorf("expected a %s error, got none", kind)
	}
	if got := errs.KindOf(err).String(); got != kind {
		return fmt.Errorf("expected a %s error, got %s: %v", kind, got, err)
	}
	return nil
}

func (s *stockScenario) theOrderFailsWith(kind string) error {
	return expectKind(s.orderErr, kind)
}

func (s *stockScenario) theRefundFailsWith(kind string) error {
	return expectKind(s.refundErr, kind)
}

func (s *stockScenario) theRefundHas(qty int, productName, total string) error {
	if s.refundErr != nil {
		return s.refundErr
	}
	productID, err := s.product(productName)
	if err != nil {
		return err
	}
	if len(s.refund.Items) != 1 || s.refund.Items[0].ProductID != productID || s.refund.Items[0].Quantity != qty {
		return fmt.Errorf("unexpected refund lines %+v", s.refund.Items)
	}
	if !s.refund.Total.Equal(dec(total)) {
		return fmt.Errorf("expected refund total %s, got %s", total, s.refund.Total)
	}
	return nil
}

func (s *stockScenario) noOrdersExist() error {
	orders, err := s.f.orders.List(s.f.ctx, store.OrderFilter{})
	if err != nil {
		return err
	}
	if len(orders) != 0 {
		return fmt.Errorf("expected no orders, found %d", len(orders))
	}
	return nil
}

func InitializeStockScenario(ctx *godog.ScenarioContext) {
	s := &stockScenario{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		s.reset()
		return ctx, nil
	})

	ctx.Step(`^a branch with a bar and a kitchen$`, s.aBranchWithABarAndAKitchen)
	ctx.Step(`^the (bar|kitchen) is stocked with (\d+) "([^"]*)"$`, s.theSectionHolds)
	ctx.Step(`^the branch store is stocked with (\d+) "([^"]*)"$`, s.theBranchStoreHolds)
	ctx.Step(`^cart "([^"]*)" reserves (\d+) "([^"]*)" in the (bar|kitchen)$`, s.cartReserves)
	ctx.Step(`^a paid order for (\d+) "([^"]*)" in the (bar|kitchen)$`, s.aPaidOrder)
	ctx.Step(`^an open order for (\d+) "([^"]*)" at the table$`, s.anOpenOrderAtTheTable)

	ctx.Step(`^cart "([^"]*)" orders (\d+) "([^"]*)" in the (bar|kitchen)$`, s.cartOrders)
	ctx.Step(`^cart "([^"]*)" orders (\d+) "([^"]*)" and (\d+) "([^"]*)" in the (bar|kitchen)$`, s.cartOrdersTwoLines)
	ctx.Step(`^another order for (\d+) "([^"]*)" is placed at the table$`, s.anotherOrderAtTheTable)
	ctx.Step(`^(\d+) "([^"]*)" are refunded from that order$`, s.refundedFromThatOrder)

	ctx.Step(`^the (bar|kitchen) holds (\d+) "([^"]*)"$`, s.theSectionHoldsExactly)
	ctx.Step(`^the branch store holds (\d+) "([^"]*)"$`, s.theBranchStoreHoldsExactly)
	ctx.Step(`^the order fails with "([^"]*)"$`, s.theOrderFailsWith)
	ctx.Step(`^the refund fails with "([^"]*)"$`, s.theRefundFailsWith)
	ctx.Step(`^the refund has (-?\d+) "([^"]*)" totalling "([^"]*)"$`, s.theRefundHas)
	ctx.Step(`^the ledger matches the counters for "([^"]*)" in the (bar|kitchen)$`, s.theLedgerMatches)
	ctx.Step(`^no orders exist$`, s.noOrdersExist)
}

func TestStockFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeStockScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
