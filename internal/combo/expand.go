package combo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"combopos/backend/internal/domain"
	"combopos/backend/internal/store"
)

// Catalog is the read side of the combo catalog the expander needs. Lookups
// that find nothing return an error matching store.ErrNotFound; any other
// error is treated as a backend failure.
type Catalog interface {
	GetSubGroup(ctx context.Context, id string) (domain.SubGroup, error)
	// FindActiveSubGroupsByPrice returns the active sub-groups of groupID
	// whose price equals price, ordered by sequence then creation.
	FindActiveSubGroupsByPrice(ctx context.Context, groupID string, price decimal.Decimal) ([]domain.SubGroup, error)
	// GetProductsByIDs returns the products that exist, keyed by id.
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
}

// DirectLinePolicy decides what happens to a plain purchase of a product
// that a combo in the same order also expands into.
type DirectLinePolicy string

const (
	// PolicySeparate keeps the direct line as its own line.
	PolicySeparate DirectLinePolicy = "separate"
	// PolicyMerge folds the direct line into the generated component line
	// when the prices agree and the direct line carries no discount.
	PolicyMerge DirectLinePolicy = "merge"
)

func ParseDirectLinePolicy(raw string) (DirectLinePolicy, error) {
	switch DirectLinePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicySeparate:
		return PolicySeparate, nil
	case PolicyMerge:
		return PolicyMerge, nil
	default:
		return "", fmt.Errorf("unknown direct line policy %q", raw)
	}
}

type Result struct {
	Lines []domain.OrderLine
	// Expanded is the number of submitted lines replaced by component lines.
	Expanded    int
	Diagnostics []Diagnostic
}

type Expander struct {
	catalog Catalog
	policy  DirectLinePolicy
	newUUID func() string
}

func NewExpander(catalog Catalog, policy DirectLinePolicy) *Expander {
	if policy == "" {
		policy = PolicySeparate
	}
	return &Expander{
		catalog: catalog,
		policy:  policy,
		newUUID: uuid.NewString,
	}
}

func (e *Expander) Policy() DirectLinePolicy {
	return e.policy
}

type lineKind int

const (
	lineInvalid lineKind = iota
	lineGenerated
	lineDirect
	lineCombo
)

type accumulator struct {
	productID   string
	productName string
	unitPrice   decimal.Decimal
	quantity    decimal.Decimal
	allocated   decimal.Decimal
	firstLine   int
	note        string
	groupName   string
	subGroups   []string
	sources     []domain.ComponentSource
	extra       map[string]json.RawMessage
}

// addExtra keeps the first value seen for each submitted key.
func (a *accumulator) addExtra(extra map[string]json.RawMessage) {
	for key, value := range extra {
		if a.extra == nil {
			a.extra = make(map[string]json.RawMessage, len(extra))
		}
		if _, ok := a.extra[key]; !ok {
			a.extra[key] = value
		}
	}
}

func (a *accumulator) addSubGroupName(name string) {
	for _, existing := range a.subGroups {
		if existing == name {
			return
		}
	}
	a.subGroups = append(a.subGroups, name)
}

// Expand replaces every line that sells a sub-group with one line per
// distinct component product across the whole order. Lines that cannot be
// expanded are returned untouched. The returned error is non-nil only when
// the catalog itself fails.
func (e *Expander) Expand(ctx context.Context, lines []domain.OrderLine) (Result, error) {
	rec := &recorder{}
	kinds := make([]lineKind, len(lines))

	var lookupIDs []string
	for i, line := range lines {
		if line.IsComponent {
			kinds[i] = lineGenerated
			continue
		}
		if err := ValidateLine(line); err != nil {
			kinds[i] = lineInvalid
			rec.warn(Diagnostic{
				Kind:       KindMalformedLine,
				Line:       i,
				SubGroupID: line.SubGroupID,
				ProductID:  line.ProductID,
				Message:    err.Error(),
			})
			continue
		}
		if line.SubGroupID != "" {
			kinds[i] = lineCombo
			continue
		}
		kinds[i] = lineDirect
		lookupIDs = append(lookupIDs, line.ProductID)
	}

	lineProducts, err := e.products(ctx, lookupIDs)
	if err != nil {
		return Result{}, err
	}

	resolved := make(map[int]domain.SubGroup)
	byID := make(map[string]domain.SubGroup)
	for i, line := range lines {
		switch kinds[i] {
		case lineCombo:
			sub, ok, err := e.resolveExplicit(ctx, rec, byID, i, line)
			if err != nil {
				return Result{}, err
			}
			if ok {
				resolved[i] = sub
			}
		case lineDirect:
			product, ok := lineProducts[line.ProductID]
			if !ok || !product.IsGroupProduct || product.GroupID == "" {
				continue
			}
			kinds[i] = lineCombo
			sub, ok, err := e.resolveByPrice(ctx, rec, i, line, product)
			if err != nil {
				return Result{}, err
			}
			if ok {
				resolved[i] = sub
			}
		}
	}

	var componentIDs []string
	for _, sub := range resolved {
		for _, component := range sub.Components {
			componentIDs = append(componentIDs, component.ProductID)
		}
	}
	componentProducts, err := e.products(ctx, componentIDs)
	if err != nil {
		return Result{}, err
	}

	result := Result{}
	order := make([]string, 0)
	accs := make(map[string]*accumulator)
	passThrough := make([]int, 0, len(lines))

	for i, line := range lines {
		sub, ok := resolved[i]
		if !ok {
			passThrough = append(passThrough, i)
			continue
		}

		apportionment := Apportion(sub, componentProducts, line.Qty)
		for _, missing := range apportionment.MissingProducts {
			rec.warn(Diagnostic{
				Kind:       KindMissingComponentProduct,
				Line:       i,
				SubGroupID: sub.ID,
				ProductID:  missing,
				Message:    "component product not in catalog; skipped",
			})
		}
		if apportionment.Empty() {
			rec.warn(Diagnostic{
				Kind:       KindDegenerateCombo,
				Line:       i,
				SubGroupID: sub.ID,
				ProductID:  line.ProductID,
				Message:    "sub-group has no usable components; line kept unexpanded",
			})
			passThrough = append(passThrough, i)
			continue
		}

		if line.UnitPrice.Sub(sub.Price).Abs().GreaterThan(Tolerance) {
			rec.warn(Diagnostic{
				Kind:       KindPriceMismatch,
				Line:       i,
				SubGroupID: sub.ID,
				ProductID:  line.ProductID,
				Expected:   sub.Price.StringFixed(2),
				Actual:     line.UnitPrice.StringFixed(2),
				Message:    "entered price differs from sub-group price; sub-group price used",
			})
		}
		if !apportionment.FullyProportional() {
			rec.warn(Diagnostic{
				Kind:       KindUnapportioned,
				Line:       i,
				SubGroupID: sub.ID,
				Expected:   apportionment.Charged.StringFixed(2),
				Actual:     apportionment.AllocatedTotal().StringFixed(2),
				Message:    "components without list price weight priced at their own list price",
			})
		}

		for _, alloc := range apportionment.Allocations {
			acc, seen := accs[alloc.ProductID]
			if !seen {
				acc = &accumulator{
					productID:   alloc.ProductID,
					productName: alloc.ProductName,
					unitPrice:   alloc.UnitPrice,
					quantity:    decimal.Zero,
					allocated:   decimal.Zero,
					firstLine:   i,
					note:        line.Note,
					groupName:   sub.GroupName,
				}
				accs[alloc.ProductID] = acc
				order = append(order, alloc.ProductID)
			} else if acc.unitPrice.Sub(alloc.UnitPrice).Abs().GreaterThan(Tolerance) {
				rec.warn(Diagnostic{
					Kind:       KindUnitPriceConflict,
					Line:       i,
					SubGroupID: sub.ID,
					ProductID:  alloc.ProductID,
					Expected:   acc.unitPrice.StringFixed(2),
					Actual:     alloc.UnitPrice.StringFixed(2),
					Message:    "component unit price differs across sub-groups; first seen kept",
				})
			}
			acc.quantity = acc.quantity.Add(alloc.Quantity)
			acc.allocated = acc.allocated.Add(alloc.Allocated)
			acc.addExtra(line.Extra)
			acc.addSubGroupName(sub.Name)
			acc.sources = append(acc.sources, domain.ComponentSource{
				SubGroupID:    sub.ID,
				SubGroupName:  sub.Name,
				SubGroupPrice: sub.Price,
				QuantitySold:  line.Qty,
				ComponentQty:  alloc.Quantity,
				Allocated:     alloc.Allocated.Round(2),
			})
		}
		result.Expanded++
	}

	kept := make([]domain.OrderLine, 0, len(passThrough))
	for _, i := range passThrough {
		line := lines[i]
		if e.policy == PolicyMerge && kinds[i] == lineDirect {
			if acc, ok := accs[line.ProductID]; ok && e.mergeDirect(rec, acc, i, line) {
				continue
			}
		}
		kept = append(kept, line)
	}

	result.Lines = kept
	for _, productID := range order {
		result.Lines = append(result.Lines, e.flush(rec, accs[productID]))
	}
	result.Diagnostics = rec.diags
	return result, nil
}

func (e *Expander) products(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	if len(ids) == 0 {
		return map[string]domain.Product{}, nil
	}
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	products, err := e.catalog.GetProductsByIDs(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	return products, nil
}

func (e *Expander) resolveExplicit(ctx context.Context, rec *recorder, cache map[string]domain.SubGroup, i int, line domain.OrderLine) (domain.SubGroup, bool, error) {
	sub, ok := cache[line.SubGroupID]
	if !ok {
		loaded, err := e.catalog.GetSubGroup(ctx, line.SubGroupID)
		if errors.Is(err, store.ErrNotFound) {
			rec.warn(Diagnostic{
				Kind:       KindSubGroupNotFound,
				Line:       i,
				SubGroupID: line.SubGroupID,
				ProductID:  line.ProductID,
				Message:    "referenced sub-group does not exist; line kept unexpanded",
			})
			return domain.SubGroup{}, false, nil
		}
		if err != nil {
			return domain.SubGroup{}, false, fmt.Errorf("load sub-group %s: %w", line.SubGroupID, err)
		}
		cache[line.SubGroupID] = loaded
		sub = loaded
	}
	if !sub.Active {
		rec.info(Diagnostic{
			Kind:       KindInactiveSubGroup,
			Line:       i,
			SubGroupID: sub.ID,
			ProductID:  line.ProductID,
			Message:    "expanding inactive sub-group referenced explicitly",
		})
	}
	return sub, true, nil
}

func (e *Expander) resolveByPrice(ctx context.Context, rec *recorder, i int, line domain.OrderLine, product domain.Product) (domain.SubGroup, bool, error) {
	matches, err := e.catalog.FindActiveSubGroupsByPrice(ctx, product.GroupID, line.UnitPrice)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.SubGroup{}, false, fmt.Errorf("find sub-group for group %s: %w", product.GroupID, err)
	}
	if len(matches) == 0 {
		rec.warn(Diagnostic{
			Kind:      KindNoPriceMatch,
			Line:      i,
			ProductID: line.ProductID,
			Actual:    line.UnitPrice.StringFixed(2),
			Message:   fmt.Sprintf("no active sub-group of group %s at this price; line kept unexpanded", product.GroupID),
		})
		return domain.SubGroup{}, false, nil
	}
	if len(matches) > 1 {
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.ID)
		}
		rec.warn(Diagnostic{
			Kind:       KindAmbiguousPriceMatch,
			Line:       i,
			SubGroupID: matches[0].ID,
			ProductID:  line.ProductID,
			Actual:     line.UnitPrice.StringFixed(2),
			Message:    "several sub-groups share this price, using the first: " + strings.Join(ids, ","),
		})
	}
	return matches[0], true, nil
}

func (e *Expander) mergeDirect(rec *recorder, acc *accumulator, i int, line domain.OrderLine) bool {
	if len(line.Extra) > 0 {
		rec.warn(Diagnostic{
			Kind:      KindMergeSkipped,
			Line:      i,
			ProductID: line.ProductID,
			Message:   "direct line kept separate (carries extra fields)",
		})
		return false
	}
	if !line.Discount.IsZero() || line.UnitPrice.Sub(acc.unitPrice).Abs().GreaterThan(Tolerance) {
		rec.warn(Diagnostic{
			Kind:      KindMergeSkipped,
			Line:      i,
			ProductID: line.ProductID,
			Expected:  acc.unitPrice.StringFixed(2),
			Actual:    line.UnitPrice.StringFixed(2),
			Message:   fmt.Sprintf("direct line kept separate (discount %s)", line.Discount.String()),
		})
		return false
	}
	acc.quantity = acc.quantity.Add(line.Qty)
	acc.allocated = acc.allocated.Add(acc.unitPrice.Mul(line.Qty))
	return true
}

func (e *Expander) flush(rec *recorder, acc *accumulator) domain.OrderLine {
	r := Reconcile(acc.unitPrice, acc.quantity, acc.allocated)
	if r.AllocationDiscarded {
		rec.warn(Diagnostic{
			Kind:      KindAllocationDiscarded,
			Line:      acc.firstLine,
			ProductID: acc.productID,
			Expected:  r.Subtotal.StringFixed(2),
			Actual:    acc.allocated.StringFixed(2),
			Message:   "allocated amount replaced by unit price x quantity",
		})
	}
	if r.UnitPriceDerived {
		rec.info(Diagnostic{
			Kind:      KindUnitPriceDerived,
			Line:      acc.firstLine,
			ProductID: acc.productID,
			Actual:    r.UnitPrice.String(),
			Message:   "component has no list price; unit price derived from allocation",
		})
	}

	var origin string
	if len(acc.subGroups) > 0 {
		origin = acc.subGroups[0]
	}
	return domain.OrderLine{
		UUID:            e.newUUID(),
		ProductID:       acc.productID,
		FullProductName: acc.productName,
		Qty:             acc.quantity,
		UnitPrice:       r.UnitPrice,
		Discount:        decimal.Zero,
		Subtotal:        r.Subtotal,
		SubtotalInclTax: r.Subtotal,
		Total:           r.Subtotal,
		IsComponent:     true,
		OriginGroupName: acc.groupName,
		OriginSubGroup:  origin,
		OriginSubGroups: append([]string(nil), acc.subGroups...),
		Note:            acc.note,
		Sources:         acc.sources,
		Extra:           maps.Clone(acc.extra),
	}
}
