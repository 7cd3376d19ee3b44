package combo

import (
	"github.com/shopspring/decimal"

	"combopos/backend/internal/domain"
)

// Tolerance is the largest money difference still treated as equal.
var Tolerance = decimal.New(1, -2)

// Allocation is one component product's share of a sold sub-group.
type Allocation struct {
	ProductID   string
	ProductName string
	// UnitPrice is the component product's list price; it is what the
	// generated line displays and stores.
	UnitPrice decimal.Decimal
	// Quantity is quantity-per-unit times quantity sold.
	Quantity decimal.Decimal
	// BaseValue is list price times quantity-per-unit, the weight for one
	// sub-group unit.
	BaseValue decimal.Decimal
	// Allocated is the share of the charged amount. It is advisory only.
	Allocated    decimal.Decimal
	Proportional bool
}

type Apportionment struct {
	SubGroup       domain.SubGroup
	QuantitySold   decimal.Decimal
	Charged        decimal.Decimal
	TotalBaseValue decimal.Decimal
	Allocations    []Allocation
	// MissingProducts lists component product ids absent from the catalog.
	MissingProducts []string
}

// Empty reports whether the sub-group produced nothing to expand into.
func (a Apportionment) Empty() bool {
	return len(a.Allocations) == 0
}

func (a Apportionment) AllocatedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, alloc := range a.Allocations {
		total = total.Add(alloc.Allocated)
	}
	return total
}

// FullyProportional is true when every allocation was derived from the
// relative list-price weights, so the allocations sum to Charged.
func (a Apportionment) FullyProportional() bool {
	for _, alloc := range a.Allocations {
		if !alloc.Proportional {
			return false
		}
	}
	return len(a.Allocations) > 0
}

// Apportion distributes sub.Price x quantitySold across the sub-group's
// components proportionally to list price x quantity-per-unit. A component
// with no weight, or a sub-group whose total weight is zero, is priced at
// its own list price instead. Components sharing a product are folded into
// a single allocation, kept in first-seen order.
func Apportion(sub domain.SubGroup, products map[string]domain.Product, quantitySold decimal.Decimal) Apportionment {
	result := Apportionment{
		SubGroup:       sub,
		QuantitySold:   quantitySold,
		Charged:        sub.Price.Mul(quantitySold),
		TotalBaseValue: decimal.Zero,
	}

	index := make(map[string]int, len(sub.Components))
	for _, component := range sub.Components {
		product, ok := products[component.ProductID]
		if !ok {
			result.MissingProducts = append(result.MissingProducts, component.ProductID)
			continue
		}
		if !component.Quantity.IsPositive() {
			continue
		}

		listPrice := product.ListPrice
		base := listPrice.Mul(component.Quantity)
		qty := component.Quantity.Mul(quantitySold)
		result.TotalBaseValue = result.TotalBaseValue.Add(base)

		if pos, seen := index[product.ID]; seen {
			existing := &result.Allocations[pos]
			existing.BaseValue = existing.BaseValue.Add(base)
			existing.Quantity = existing.Quantity.Add(qty)
			continue
		}
		index[product.ID] = len(result.Allocations)
		result.Allocations = append(result.Allocations, Allocation{
			ProductID:   product.ID,
			ProductName: product.Name,
			UnitPrice:   listPrice,
			Quantity:    qty,
			BaseValue:   base,
		})
	}

	for i := range result.Allocations {
		alloc := &result.Allocations[i]
		if result.TotalBaseValue.IsPositive() && alloc.BaseValue.IsPositive() {
			alloc.Allocated = alloc.BaseValue.Mul(result.Charged).Div(result.TotalBaseValue)
			alloc.Proportional = true
			continue
		}
		alloc.Allocated = alloc.UnitPrice.Mul(alloc.Quantity)
	}

	return result
}
