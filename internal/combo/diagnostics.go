package combo

import (
	"fmt"
	"log"
	"strings"

	"combopos/backend/internal/domain"
)

type Kind string

const (
	KindMalformedLine           Kind = "malformed_line"
	KindSubGroupNotFound        Kind = "sub_group_not_found"
	KindInactiveSubGroup        Kind = "inactive_sub_group"
	KindNoPriceMatch            Kind = "no_price_match"
	KindAmbiguousPriceMatch     Kind = "ambiguous_price_match"
	KindDegenerateCombo         Kind = "degenerate_combo"
	KindMissingComponentProduct Kind = "missing_component_product"
	KindPriceMismatch           Kind = "price_mismatch"
	KindUnapportioned           Kind = "unapportioned"
	KindUnitPriceConflict       Kind = "unit_price_conflict"
	KindAllocationDiscarded     Kind = "allocation_discarded"
	KindUnitPriceDerived        Kind = "unit_price_derived"
	KindMergeSkipped            Kind = "merge_skipped"
)

type Severity string

const (
	SeverityInfo Severity = "info"
	SeverityWarn Severity = "warn"
)

// Diagnostic is one decision the expander made that a reader may want to
// reconstruct later. Line is the index of the submitted line involved.
type Diagnostic struct {
	Kind       Kind
	Severity   Severity
	Line       int
	SubGroupID string
	ProductID  string
	Expected   string
	Actual     string
	Message    string
}

func (d Diagnostic) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "kind=%s line=%d", d.Kind, d.Line)
	if d.SubGroupID != "" {
		fmt.Fprintf(&b, " sub_group=%s", d.SubGroupID)
	}
	if d.ProductID != "" {
		fmt.Fprintf(&b, " product=%s", d.ProductID)
	}
	if d.Expected != "" {
		fmt.Fprintf(&b, " expected=%s", d.Expected)
	}
	if d.Actual != "" {
		fmt.Fprintf(&b, " actual=%s", d.Actual)
	}
	if d.Message != "" {
		fmt.Fprintf(&b, " %s", d.Message)
	}
	return b.String()
}

// ToDomain converts diagnostics into their wire form.
func ToDomain(diags []Diagnostic) []domain.OrderDiagnostic {
	out := make([]domain.OrderDiagnostic, 0, len(diags))
	for _, d := range diags {
		out = append(out, domain.OrderDiagnostic{
			Kind:       string(d.Kind),
			Line:       d.Line,
			SubGroupID: d.SubGroupID,
			ProductID:  d.ProductID,
			Expected:   d.Expected,
			Actual:     d.Actual,
			Message:    d.Message,
		})
	}
	return out
}

type recorder struct {
	diags []Diagnostic
}

func (r *recorder) warn(d Diagnostic) {
	d.Severity = SeverityWarn
	r.add(d)
}

func (r *recorder) info(d Diagnostic) {
	d.Severity = SeverityInfo
	r.add(d)
}

func (r *recorder) add(d Diagnostic) {
	r.diags = append(r.diags, d)
	log.Printf("[combo] %s: %s", strings.ToUpper(string(d.Severity)), d)
}
