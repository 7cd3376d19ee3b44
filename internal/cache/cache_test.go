package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"combopos/backend/internal/domain"
)

func TestNoopCatalogCacheNeverHits(t *testing.T) {
	var c CatalogCache = NoopCatalogCache{}
	ctx := context.Background()

	require.NoError(t, c.SetSubGroup(ctx, domain.SubGroup{ID: "sg-1"}, time.Minute))
	sub, ok, err := c.GetSubGroup(ctx, "sg-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, sub)

	subs, ok, err := c.GetPriceMatches(ctx, "grp-1", decimal.NewFromInt(1500))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, subs)
	assert.NoError(t, c.Invalidate(ctx, "grp-1", "sg-1"))
}

func TestPriceFieldIgnoresTrailingZeros(t *testing.T) {
	assert.Equal(t, PriceField(decimal.RequireFromString("3000")), PriceField(decimal.RequireFromString("3000.000")))
	assert.Equal(t, PriceField(decimal.RequireFromString("1500.5")), PriceField(decimal.RequireFromString("1500.50")))
}

func TestPriceFieldKeepsSubCentPrecision(t *testing.T) {
	assert.NotEqual(t, PriceField(decimal.RequireFromString("1500")), PriceField(decimal.RequireFromString("1500.004")))
	assert.Equal(t, "1500.004", PriceField(decimal.RequireFromString("1500.0040")))
}

func TestKeysAreNamespaced(t *testing.T) {
	assert.Equal(t, "combo:subgroup:sg-1", SubGroupKey("sg-1"))
	assert.Equal(t, "combo:group:grp-1:prices", GroupPricesKey("grp-1"))
}

func TestRedisCatalogCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("COMBOPOS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set COMBOPOS_TEST_REDIS_ADDR to run redis integration test")
	}

	c := NewRedisCatalogCache(addr, "", 0)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	sub := domain.SubGroup{
		ID:      "sg-cache-it",
		GroupID: "grp-cache-it",
		Name:    "Kikomando 1500",
		Price:   decimal.NewFromInt(1500),
		Active:  true,
		Components: []domain.Component{
			{ID: "cmp-1", ProductID: "prd-chapati", Quantity: decimal.NewFromInt(1)},
		},
	}
	require.NoError(t, c.SetSubGroup(ctx, sub, time.Minute))
	require.NoError(t, c.SetPriceMatches(ctx, sub.GroupID, sub.Price, []domain.SubGroup{sub}, time.Minute))

	got, ok, err := c.GetSubGroup(ctx, sub.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sub.Name, got.Name)
	require.Len(t, got.Components, 1)
	assert.True(t, got.Components[0].Quantity.Equal(decimal.NewFromInt(1)))

	matches, ok, err := c.GetPriceMatches(ctx, sub.GroupID, decimal.RequireFromString("1500.00"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, matches, 1)

	require.NoError(t, c.Invalidate(ctx, sub.GroupID, sub.ID))
	_, ok, err = c.GetSubGroup(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = c.GetPriceMatches(ctx, sub.GroupID, sub.Price)
	require.NoError(t, err)
	assert.False(t, ok)
}
