package reservation

import (
	"time"

	"pos-service/internal/models"
)

// DefaultLookback is how far back reservation movements are considered live
const DefaultLookback = 4 * time.Hour

// Owner identifies whose reservations are being netted. A non-empty Key
// wins; otherwise reservations are matched by the user segment.
type Owner struct {
	Key  string
	User string
}

// Empty reports whether the owner can match nothing
func (o Owner) Empty() bool {
	return o.Key == "" && o.User == ""
}

// Tally is the reservation balance of one owner in one scope
type Tally struct {
	Reserved     int
	Released     int
	Consumed     int
	LastActivity time.Time
}

// Outstanding is the reserved quantity not yet released or sold, floored at 0
func (t Tally) Outstanding() int {
	n := t.Reserved - t.Released - t.Consumed
	if n < 0 {
		return 0
	}
	return n
}

// Count tallies movements belonging to owner. Callers pass movements already
// restricted to one product, branch and section within the lookback window.
// With a key only RESV-tagged adjustments match; without one every ADJ
// decrement carrying the user's segment counts as reserved.
func Count(movements []models.StockMovement, owner Owner) Tally {
	var t Tally
	if owner.Empty() {
		return t
	}
	for _, m := range movements {
		switch tag := Parse(m.ReferenceID).(type) {
		case Adjust:
			if m.Reason != models.ReasonAdjust {
				continue
			}
			key, tagged := ReservationKey(tag)
			if owner.Key != "" {
				if !tagged || key != owner.Key {
					continue
				}
			} else {
				if tag.User != owner.User {
					continue
				}
				// any decrement by the user nets; only tagged increments release
				if !tagged && m.Delta > 0 {
					continue
				}
			}
			if m.Delta < 0 {
				t.Reserved += -m.Delta
			} else {
				t.Released += m.Delta
			}
		case Sale:
			if m.Reason != models.ReasonSale {
				continue
			}
			if owner.Key != "" {
				if tag.Key != owner.Key {
					continue
				}
			} else if tag.User != owner.User {
				continue
			}
			t.Consumed += tag.Consumed
		default:
			continue
		}
		if m.CreatedAt.After(t.LastActivity) {
			t.LastActivity = m.CreatedAt
		}
	}
	return t
}

// SessionKey groups reservation activity of one cart key in one scope
type SessionKey struct {
	ProductID int64
	BranchID  int64
	SectionID int64
	Key       string
}

// Session is the tally of one cart key plus the user who reserved last
type Session struct {
	Tally
	User string
}

// Sessions groups section-scoped reservation activity by cart key. Branch
// scoped movements are ignored since reservations are always section scoped.
func Sessions(movements []models.StockMovement) map[SessionKey]*Session {
	out := make(map[SessionKey]*Session)
	for _, m := range movements {
		section := m.ScopeSection()
		if section == nil {
			continue
		}
		var key, user string
		switch tag := Parse(m.ReferenceID).(type) {
		case Adjust:
			k, ok := ReservationKey(tag)
			if !ok || m.Reason != models.ReasonAdjust {
				continue
			}
			key, user = k, tag.User
		case Sale:
			if tag.Key == "" || m.Reason != models.ReasonSale {
				continue
			}
			key = tag.Key
		default:
			continue
		}
		sk := SessionKey{ProductID: m.ProductID, BranchID: m.BranchID, SectionID: *section, Key: key}
		s, ok := out[sk]
		if !ok {
			s = &Session{}
			out[sk] = s
		}
		s.Tally = s.Tally.add(m)
		if user != "" && m.Delta < 0 {
			s.User = user
		}
	}
	return out
}

func (t Tally) add(m models.StockMovement) Tally {
	switch tag := Parse(m.ReferenceID).(type) {
	case Adjust:
		if m.Delta < 0 {
			t.Reserved += -m.Delta
		} else {
			t.Released += m.Delta
		}
	case Sale:
		t.Consumed += tag.Consumed
	}
	if m.CreatedAt.After(t.LastActivity) {
		t.LastActivity = m.CreatedAt
	}
	return t
}
