package combo

import "github.com/shopspring/decimal"

type Reconciliation struct {
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
	// AllocationDiscarded is set when unit price x quantity and the
	// allocated amount disagree by more than Tolerance.
	AllocationDiscarded bool
	// UnitPriceDerived is set when the component had no usable unit price
	// and one was derived from the allocated amount.
	UnitPriceDerived bool
}

// Reconcile settles one aggregated component line so that
// round(unit x quantity, 2) == subtotal. The component unit price wins over
// the allocation whenever it is positive.
func Reconcile(unitPrice, quantity, allocated decimal.Decimal) Reconciliation {
	r := Reconciliation{UnitPrice: unitPrice}

	if unitPrice.IsPositive() {
		exact := unitPrice.Mul(quantity)
		r.AllocationDiscarded = exact.Sub(allocated).Abs().GreaterThan(Tolerance)
	} else {
		r.UnitPriceDerived = true
		r.UnitPrice = decimal.Zero
		if quantity.IsPositive() && allocated.IsPositive() {
			r.UnitPrice = allocated.Div(quantity)
		}
	}

	r.Subtotal = r.UnitPrice.Mul(quantity).Round(2)
	return r
}
