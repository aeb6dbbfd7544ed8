package service

import (
	"strings"
)

// AllowSet is the set of section functions permitted to sell a product type.
// An empty set places no restriction.
type AllowSet map[string]struct{}

// NewAllowSet builds an AllowSet; blank entries are ignored
func NewAllowSet(functions []string) AllowSet {
	set := make(AllowSet, len(functions))
	for _, f := range functions {
		f = strings.ToUpper(strings.TrimSpace(f))
		if f != "" {
			set[f] = struct{}{}
		}
	}
	return set
}

// Permits reports whether a section with the given function may sell from its
// own stock.
func (a AllowSet) Permits(sectionFunction string) bool {
	return Eligible(sectionFunction, a)
}

// Eligible decides whether a section sells a product from section stock. A
// section without a function, or a product type without restrictions, is
// always eligible.
func Eligible(sectionFunction string, allowed AllowSet) bool {
	fn := strings.ToUpper(strings.TrimSpace(sectionFunction))
	if fn == "" || len(allowed) == 0 {
		return true
	}
	_, ok := allowed[fn]
	return ok
}
