// Package lifecycle is the order state machine. Every legal status change is
// a row of the transition table together with the side effects the order
// service must run inside the same transaction.
package lifecycle

import (
	"pos-service/internal/errs"
	"pos-service/internal/models"
)

// Event drives a transition
type Event string

const (
	EventActivate       Event = "ACTIVATE"
	EventRequestPayment Event = "REQUEST_PAYMENT"
	EventSuspend        Event = "SUSPEND"
	EventPay            Event = "PAY"
	EventCancel         Event = "CANCEL"
	EventVoid           Event = "VOID"
	EventRefund         Event = "REFUND"
)

// Effect is a side effect attached to a transition
type Effect int

const (
	// EffectLockTable re-checks table exclusivity and marks the table occupied
	EffectLockTable Effect = iota + 1
	// EffectReleaseTable frees the table if this order holds it
	EffectReleaseTable
	// EffectBackfillFromDraft copies missing totals/display fields from the linked draft
	EffectBackfillFromDraft
	// EffectCheckSettlement compares payments against the total
	EffectCheckSettlement
	// EffectRestock returns every unreturned line to the scope it was sold from
	EffectRestock
	// EffectRecordSalesReturn records the refunded amount
	EffectRecordSalesReturn
)

// Transition is one row of the state table
type Transition struct {
	From    models.OrderStatus
	To      models.OrderStatus
	Event   Event
	Effects []Effect
}

// Has reports whether the transition carries effect e
func (t Transition) Has(e Effect) bool {
	for _, x := range t.Effects {
		if x == e {
			return true
		}
	}
	return false
}

var (
	lock      = []Effect{EffectLockTable}
	release   = []Effect{EffectReleaseTable}
	pay       = []Effect{EffectReleaseTable, EffectBackfillFromDraft, EffectCheckSettlement}
	abort     = []Effect{EffectReleaseTable, EffectRestock}
	refundAll = []Effect{EffectReleaseTable, EffectRestock, EffectRecordSalesReturn}
)

var table = []Transition{
	{models.OrderStatusDraft, models.OrderStatusActive, EventActivate, lock},
	{models.OrderStatusDraft, models.OrderStatusPendingPayment, EventRequestPayment, lock},
	{models.OrderStatusDraft, models.OrderStatusSuspended, EventSuspend, release},
	{models.OrderStatusDraft, models.OrderStatusPaid, EventPay, pay},
	{models.OrderStatusDraft, models.OrderStatusCancelled, EventCancel, abort},
	{models.OrderStatusDraft, models.OrderStatusVoided, EventVoid, abort},

	{models.OrderStatusActive, models.OrderStatusPendingPayment, EventRequestPayment, lock},
	{models.OrderStatusActive, models.OrderStatusSuspended, EventSuspend, release},
	{models.OrderStatusActive, models.OrderStatusPaid, EventPay, pay},
	{models.OrderStatusActive, models.OrderStatusCancelled, EventCancel, abort},
	{models.OrderStatusActive, models.OrderStatusVoided, EventVoid, abort},

	{models.OrderStatusPendingPayment, models.OrderStatusSuspended, EventSuspend, release},
	{models.OrderStatusPendingPayment, models.OrderStatusPaid, EventPay, pay},
	{models.OrderStatusPendingPayment, models.OrderStatusCancelled, EventCancel, abort},
	{models.OrderStatusPendingPayment, models.OrderStatusVoided, EventVoid, abort},

	{models.OrderStatusSuspended, models.OrderStatusPaid, EventPay, pay},
	{models.OrderStatusSuspended, models.OrderStatusCancelled, EventCancel, abort},
	{models.OrderStatusSuspended, models.OrderStatusVoided, EventVoid, abort},

	{models.OrderStatusPaid, models.OrderStatusRefunded, EventRefund, refundAll},
}

type edge struct {
	from  models.OrderStatus
	event Event
}

var index = func() map[edge]Transition {
	m := make(map[edge]Transition, len(table))
	for _, t := range table {
		m[edge{t.From, t.Event}] = t
	}
	return m
}()

var eventFor = map[models.OrderStatus]Event{
	models.OrderStatusActive:         EventActivate,
	models.OrderStatusPendingPayment: EventRequestPayment,
	models.OrderStatusSuspended:      EventSuspend,
	models.OrderStatusPaid:           EventPay,
	models.OrderStatusCancelled:      EventCancel,
	models.OrderStatusVoided:         EventVoid,
	models.OrderStatusRefunded:       EventRefund,
}

// Lookup returns the transition fired by ev in state from
func Lookup(from models.OrderStatus, ev Event) (Transition, bool) {
	t, ok := index[edge{from, ev}]
	return t, ok
}

// EventFor returns the event that leads into status to
func EventFor(to models.OrderStatus) (Event, bool) {
	ev, ok := eventFor[to]
	return ev, ok
}

// Plan resolves a requested target status into a transition
func Plan(from, to models.OrderStatus) (Transition, error) {
	if !Known(to) {
		return Transition{}, errs.Invalid("unknown order status %q", to)
	}
	ev, ok := EventFor(to)
	if !ok {
		return Transition{}, errs.Illegal("cannot move order from %s to %s", from, to)
	}
	t, ok := Lookup(from, ev)
	if !ok {
		return Transition{}, errs.Illegal("cannot move order from %s to %s", from, to)
	}
	return t, nil
}

// IsLocking reports whether an order in status s holds its table
func IsLocking(s models.OrderStatus) bool {
	switch s {
	case models.OrderStatusDraft, models.OrderStatusActive, models.OrderStatusPendingPayment:
		return true
	}
	return false
}

// LockingStatuses lists the statuses that hold a table
func LockingStatuses() []models.OrderStatus {
	return []models.OrderStatus{
		models.OrderStatusDraft,
		models.OrderStatusActive,
		models.OrderStatusPendingPayment,
	}
}

// IsTerminal reports whether no further transition leaves s
func IsTerminal(s models.OrderStatus) bool {
	switch s {
	case models.OrderStatusCancelled, models.OrderStatusVoided, models.OrderStatusRefunded:
		return true
	}
	return false
}

// IsInitial reports whether an order may be created directly in status s
func IsInitial(s models.OrderStatus) bool {
	switch s {
	case models.OrderStatusDraft, models.OrderStatusActive, models.OrderStatusPendingPayment,
		models.OrderStatusSuspended, models.OrderStatusPaid:
		return true
	}
	return false
}

// Known reports whether s is a defined order status
func Known(s models.OrderStatus) bool {
	return IsInitial(s) || IsTerminal(s)
}
