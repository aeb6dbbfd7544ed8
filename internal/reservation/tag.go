// Package reservation owns the reference strings stored on stock movements
// and the accounting that decides how much of a cart's stock is already
// reserved. Every reference string is produced and parsed here.
package reservation

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	sep = "|"

	prefixReserve  = "RESV"
	prefixAdjust   = "ADJ"
	prefixSale     = "SALE"
	prefixTransfer = "XFER"

	// KeyPrefix starts every reservation key handed to a cart session
	KeyPrefix = "CART|"
)

// NewKey returns a fresh reservation key of the form CART|<uuid>
func NewKey() string {
	return KeyPrefix + uuid.New().String()
}

// UserKey is the reservation key recorded when a user's reservations are
// released without any cart key to attribute them to
func UserKey(user string) string {
	return "USER|" + user
}

// Tag is a structured movement reference
type Tag interface {
	String() string
	isTag()
}

// Reserve tags a cart decrement. The same encoding is used for releases;
// the sign of the movement delta tells them apart.
type Reserve struct {
	Key string
}

// Release tags a cart increment that gives reserved stock back
type Release struct {
	Key string
}

// Adjust wraps every reference passed through Inventory.Adjust with the
// counter values around the change and the acting user.
type Adjust struct {
	Before  int
	After   int
	User    string
	Note    string
	Context Tag
}

// Sale tags the SALE movement of an order line; Consumed is the number of
// already-reserved units the line absorbed instead of decrementing again.
type Sale struct {
	OrderID  int64
	Consumed int
	User     string
	Key      string
}

// Transfer tags both rows of a stock transfer
type Transfer struct {
	From string
	To   string
}

// Plain is any reference that carries no structure (e.g. a refunded order id)
type Plain struct {
	Value string
}

func (Reserve) isTag()  {}
func (Release) isTag()  {}
func (Adjust) isTag()   {}
func (Sale) isTag()     {}
func (Transfer) isTag() {}
func (Plain) isTag()    {}

func (r Reserve) String() string { return prefixReserve + sep + r.Key }
func (r Release) String() string { return prefixReserve + sep + r.Key }

func (a Adjust) String() string {
	ctx := ""
	if a.Context != nil {
		ctx = a.Context.String()
	}
	return strings.Join([]string{
		prefixAdjust,
		strconv.Itoa(a.Before),
		strconv.Itoa(a.After),
		clean(a.User),
		clean(a.Note),
		ctx,
	}, sep)
}

func (s Sale) String() string {
	return strings.Join([]string{
		prefixSale,
		strconv.FormatInt(s.OrderID, 10),
		strconv.Itoa(s.Consumed),
		clean(s.User),
		s.Key,
	}, sep)
}

func (t Transfer) String() string {
	return strings.Join([]string{prefixTransfer, clean(t.From), clean(t.To)}, sep)
}

func (p Plain) String() string { return p.Value }

// Parse decodes a stored reference. Unknown or malformed input yields Plain.
func Parse(s string) Tag {
	head, rest, ok := strings.Cut(s, sep)
	if !ok {
		return Plain{Value: s}
	}
	switch head {
	case prefixReserve:
		if rest == "" {
			return Plain{Value: s}
		}
		return Reserve{Key: rest}
	case prefixAdjust:
		parts := strings.SplitN(rest, sep, 5)
		if len(parts) != 5 {
			return Plain{Value: s}
		}
		before, err1 := strconv.Atoi(parts[0])
		after, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return Plain{Value: s}
		}
		adj := Adjust{Before: before, After: after, User: parts[2], Note: parts[3]}
		if parts[4] != "" {
			adj.Context = Parse(parts[4])
		}
		return adj
	case prefixSale:
		parts := strings.SplitN(rest, sep, 4)
		if len(parts) != 4 {
			return Plain{Value: s}
		}
		orderID, err1 := strconv.ParseInt(parts[0], 10, 64)
		consumed, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return Plain{Value: s}
		}
		return Sale{OrderID: orderID, Consumed: consumed, User: parts[2], Key: parts[3]}
	case prefixTransfer:
		parts := strings.SplitN(rest, sep, 2)
		if len(parts) != 2 {
			return Plain{Value: s}
		}
		return Transfer{From: parts[0], To: parts[1]}
	}
	return Plain{Value: s}
}

// ReservationKey returns the cart key carried by an adjust envelope, if any
func ReservationKey(t Tag) (string, bool) {
	adj, ok := t.(Adjust)
	if !ok {
		return "", false
	}
	switch ctx := adj.Context.(type) {
	case Reserve:
		return ctx.Key, true
	case Release:
		return ctx.Key, true
	}
	return "", false
}

// clean keeps free-text segments from breaking the separator layout
func clean(s string) string {
	return strings.ReplaceAll(s, sep, "/")
}
