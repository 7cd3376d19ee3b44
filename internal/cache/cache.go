package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"combopos/backend/internal/domain"
)

// CatalogCache holds read-only snapshots of sub-groups with their
// components, keyed by id and by (group, price) lookup.
type CatalogCache interface {
	GetSubGroup(ctx context.Context, id string) (*domain.SubGroup, bool, error)
	SetSubGroup(ctx context.Context, sub domain.SubGroup, ttl time.Duration) error
	GetPriceMatches(ctx context.Context, groupID string, price decimal.Decimal) ([]domain.SubGroup, bool, error)
	SetPriceMatches(ctx context.Context, groupID string, price decimal.Decimal, subs []domain.SubGroup, ttl time.Duration) error
	// Invalidate drops the price lookups of groupID and the given sub-group
	// snapshots. An empty groupID only drops the snapshots.
	Invalidate(ctx context.Context, groupID string, subGroupIDs ...string) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) GetSubGroup(_ context.Context, _ string) (*domain.SubGroup, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) SetSubGroup(_ context.Context, _ domain.SubGroup, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) GetPriceMatches(_ context.Context, _ string, _ decimal.Decimal) ([]domain.SubGroup, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) SetPriceMatches(_ context.Context, _ string, _ decimal.Decimal, _ []domain.SubGroup, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Invalidate(_ context.Context, _ string, _ ...string) error {
	return nil
}

func SubGroupKey(id string) string {
	return fmt.Sprintf("combo:subgroup:%s", id)
}

func GroupPricesKey(groupID string) string {
	return fmt.Sprintf("combo:group:%s:prices", groupID)
}

// PriceField normalises a price so 3000, 3000.0 and 3000.00 share a field
// while 3000.004 keeps its own. Trailing zeros are the only thing dropped.
func PriceField(price decimal.Decimal) string {
	return price.String()
}
