package combo

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"combopos/backend/internal/domain"
	"combopos/backend/internal/store"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]interface{}{fmt.Sprintf("want %s got %s", want, got.String())}, msgAndArgs...)...)
}

type fakeCatalog struct {
	subGroups []domain.SubGroup
	products  map[string]domain.Product
	err       error
	calls     int
}

func (f *fakeCatalog) GetSubGroup(_ context.Context, id string) (domain.SubGroup, error) {
	f.calls++
	if f.err != nil {
		return domain.SubGroup{}, f.err
	}
	for _, sub := range f.subGroups {
		if sub.ID == id {
			return sub, nil
		}
	}
	return domain.SubGroup{}, store.ErrNotFound
}

func (f *fakeCatalog) FindActiveSubGroupsByPrice(_ context.Context, groupID string, price decimal.Decimal) ([]domain.SubGroup, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.SubGroup
	for _, sub := range f.subGroups {
		if sub.GroupID == groupID && sub.Active && sub.Price.Equal(price) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (f *fakeCatalog) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func product(id, name, listPrice string) domain.Product {
	return domain.Product{ID: id, Name: name, ListPrice: d(listPrice), Active: true, AvailableInPOS: true}
}

func component(productID, qty string) domain.Component {
	return domain.Component{ProductID: productID, Quantity: d(qty)}
}

// kikomandoCatalog is a group "Kikomando" with a 1500 variant made of
// chapati (1000) and beans (500), and a 3000 variant with two chapati and
// a soda (1000).
func kikomandoCatalog() *fakeCatalog {
	return &fakeCatalog{
		subGroups: []domain.SubGroup{
			{
				ID: "sg-1500", GroupID: "grp-kiko", GroupName: "Kikomando", Name: "Kikomando 1500",
				Price: d("1500"), Active: true, Sequence: 10,
				Components: []domain.Component{component("prd-chapati", "1"), component("prd-beans", "1")},
			},
			{
				ID: "sg-3000", GroupID: "grp-kiko", GroupName: "Kikomando", Name: "Kikomando 3000",
				Price: d("3000"), Active: true, Sequence: 20,
				Components: []domain.Component{component("prd-chapati", "2"), component("prd-soda", "1")},
			},
		},
		products: map[string]domain.Product{
			"prd-chapati": product("prd-chapati", "Chapati", "1000"),
			"prd-beans":   product("prd-beans", "Beans", "500"),
			"prd-soda":    product("prd-soda", "Soda", "1000"),
			"prd-kiko": {
				ID: "prd-kiko", Name: "Kikomando", ListPrice: decimal.Zero, Active: true,
				AvailableInPOS: true, IsGroupProduct: true, GroupID: "grp-kiko",
			},
		},
	}
}

func newTestExpander(catalog Catalog, policy DirectLinePolicy) *Expander {
	e := NewExpander(catalog, policy)
	n := 0
	e.newUUID = func() string {
		n++
		return fmt.Sprintf("uuid-%d", n)
	}
	return e
}

func comboLine(subGroupID, qty, price string) domain.OrderLine {
	return domain.OrderLine{
		UUID:       "line-" + subGroupID,
		ProductID:  "prd-kiko",
		Qty:        d(qty),
		UnitPrice:  d(price),
		Discount:   decimal.Zero,
		SubGroupID: subGroupID,
		GroupID:    "grp-kiko",
	}
}

func directLine(productID, qty, price string) domain.OrderLine {
	return domain.OrderLine{
		UUID:      "line-direct-" + productID,
		ProductID: productID,
		Qty:       d(qty),
		UnitPrice: d(price),
		Discount:  decimal.Zero,
	}
}

func hasKind(diags []Diagnostic, kind Kind) bool {
	for _, diag := range diags {
		if diag.Kind == kind {
			return true
		}
	}
	return false
}
