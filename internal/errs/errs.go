// Package errs defines the error taxonomy shared by the inventory and order
// services. Callers branch on Kind, never on message text.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and transport mapping
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidRequest
	KindNotFound
	KindConflict
	KindInsufficientStock
	KindIllegalTransition
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindInsufficientStock:
		return "InsufficientStock"
	case KindIllegalTransition:
		return "IllegalTransition"
	}
	return "Internal"
}

// Error is a classified error with an optional cause
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Invalid reports a malformed or incomplete request
func Invalid(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidRequest, Msg: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing referenced entity
func NotFound(entity string, id interface{}) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf("%s not found: %v", entity, id)}
}

// Conflict reports a generic conflicting state
func Conflict(format string, args ...interface{}) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// Illegal reports a lifecycle transition that the state table does not allow
func Illegal(format string, args ...interface{}) error {
	return &Error{Kind: KindIllegalTransition, Msg: fmt.Sprintf(format, args...)}
}

// InsufficientStockError is returned when a decrement would take a counter
// below zero and overselling is not allowed.
type InsufficientStockError struct {
	ProductID int64
	Scope     string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d in %s: available=%d, requested=%d",
		e.ProductID, e.Scope, e.Available, e.Requested)
}

// TableConflictError names the order currently holding a table
type TableConflictError struct {
	TableID     int64
	OrderID     int64
	OrderNumber int64
	Status      string
}

func (e *TableConflictError) Error() string {
	return fmt.Sprintf("table %d is held by order %d (#%d, %s)", e.TableID, e.OrderID, e.OrderNumber, e.Status)
}

// KindOf returns the Kind of the first classified error in err's chain
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var stock *InsufficientStockError
	if errors.As(err, &stock) {
		return KindInsufficientStock
	}
	var table *TableConflictError
	if errors.As(err, &table) {
		return KindConflict
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
