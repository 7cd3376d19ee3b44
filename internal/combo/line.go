package combo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"combopos/backend/internal/domain"
)

var (
	ErrMissingProduct   = errors.New("line has no product")
	ErrInvalidQuantity  = errors.New("line quantity must be positive")
	ErrNegativePrice    = errors.New("line unit price must not be negative")
	ErrDiscountOutRange = errors.New("line discount must be between 0 and 100")
	ErrUndecodableLine  = errors.New("line could not be decoded")
)

var hundred = decimal.NewFromInt(100)

// ValidateLine checks the fields the expander relies on. A line that fails
// is kept as submitted and never considered for expansion.
func ValidateLine(line domain.OrderLine) error {
	if line.DecodeError != "" {
		return fmt.Errorf("%w: %s", ErrUndecodableLine, line.DecodeError)
	}
	if strings.TrimSpace(line.ProductID) == "" {
		return ErrMissingProduct
	}
	if !line.Qty.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrInvalidQuantity, line.Qty)
	}
	if line.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: got %s", ErrNegativePrice, line.UnitPrice)
	}
	if line.Discount.IsNegative() || line.Discount.GreaterThan(hundred) {
		return fmt.Errorf("%w: got %s", ErrDiscountOutRange, line.Discount)
	}
	return nil
}

// LineSubtotal is unit x quantity less the percentage discount, rounded to
// cents.
func LineSubtotal(line domain.OrderLine) decimal.Decimal {
	gross := line.UnitPrice.Mul(line.Qty)
	if line.Discount.IsZero() {
		return gross.Round(2)
	}
	factor := hundred.Sub(line.Discount).Div(hundred)
	return gross.Mul(factor).Round(2)
}

func hasTotals(line domain.OrderLine) bool {
	return !line.Subtotal.IsZero() || !line.SubtotalInclTax.IsZero() || !line.Total.IsZero()
}

// FillTotals sets missing subtotal fields on a line from its price,
// quantity and discount. Lines that already carry totals are left alone.
func FillTotals(line domain.OrderLine) domain.OrderLine {
	if hasTotals(line) {
		return line
	}
	subtotal := LineSubtotal(line)
	line.Subtotal = subtotal
	line.SubtotalInclTax = subtotal
	line.Total = subtotal
	return line
}

// OrderTotal sums the total of every line. A line submitted without totals
// counts for its computed subtotal.
func OrderTotal(lines []domain.OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		if !hasTotals(line) && line.DecodeError == "" {
			total = total.Add(LineSubtotal(line))
			continue
		}
		total = total.Add(line.Total)
	}
	return total
}
