package service

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PricedLine is the part of an order line that takes part in totals
type PricedLine struct {
	Quantity int
	Price    decimal.Decimal
}

// TotalOverrides are caller-supplied financial figures; nil means compute
type TotalOverrides struct {
	Subtotal *decimal.Decimal
	Discount *decimal.Decimal
	Tax      *decimal.Decimal
	TaxRate  *decimal.Decimal
	Total    *decimal.Decimal
}

// Totals are the financial figures stored on an order
type Totals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	TaxRate  decimal.Decimal
	Total    decimal.Decimal
}

// ComputeTotals fills every figure the caller did not supply. Tax falls back
// to subtotal x taxRate / 100 rounded to cents, then to zero.
func ComputeTotals(lines []PricedLine, o TotalOverrides) Totals {
	var t Totals

	if o.Subtotal != nil {
		t.Subtotal = *o.Subtotal
	} else {
		t.Subtotal = decimal.Zero
		for _, l := range lines {
			t.Subtotal = t.Subtotal.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
		}
	}

	t.Discount = decimal.Zero
	if o.Discount != nil {
		t.Discount = *o.Discount
	}

	t.TaxRate = decimal.Zero
	if o.TaxRate != nil {
		t.TaxRate = *o.TaxRate
	}

	switch {
	case o.Tax != nil:
		t.Tax = *o.Tax
	case o.TaxRate != nil:
		t.Tax = t.Subtotal.Mul(t.TaxRate).Div(hundred).Round(2)
	default:
		t.Tax = decimal.Zero
	}

	if o.Total != nil {
		t.Total = *o.Total
	} else {
		t.Total = t.Subtotal.Add(t.Tax).Sub(t.Discount)
	}
	return t
}
