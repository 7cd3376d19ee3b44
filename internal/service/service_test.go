package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"combopos/backend/internal/cache"
	"combopos/backend/internal/combo"
	"combopos/backend/internal/domain"
	"combopos/backend/internal/events"
	"combopos/backend/internal/store"
	"combopos/backend/internal/store/memory"
)

func newTestService() *Service {
	repo := memory.NewSeeded()
	return New(repo, cache.NoopCatalogCache{}, time.Minute, events.NoopPublisher{}, combo.PolicySeparate, "main-store")
}

func adminContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func cashierContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "amina", Role: "cashier"})
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderExpandedEvent
	err    error
}

func (p *recordingPublisher) PublishOrderExpanded(_ context.Context, event domain.OrderExpandedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type mapCatalogCache struct {
	mu          sync.Mutex
	subGroups   map[string]domain.SubGroup
	invalidated []string
}

func newMapCatalogCache() *mapCatalogCache {
	return &mapCatalogCache{subGroups: map[string]domain.SubGroup{}}
}

func (c *mapCatalogCache) GetSubGroup(_ context.Context, id string) (*domain.SubGroup, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subGroups[id]
	if !ok {
		return nil, false, nil
	}
	return &sub, true, nil
}

func (c *mapCatalogCache) SetSubGroup(_ context.Context, sub domain.SubGroup, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subGroups[sub.ID] = sub
	return nil
}

func (c *mapCatalogCache) GetPriceMatches(_ context.Context, _ string, _ decimal.Decimal) ([]domain.SubGroup, bool, error) {
	return nil, false, nil
}

func (c *mapCatalogCache) SetPriceMatches(_ context.Context, _ string, _ decimal.Decimal, _ []domain.SubGroup, _ time.Duration) error {
	return nil
}

func (c *mapCatalogCache) Invalidate(_ context.Context, _ string, subGroupIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range subGroupIDs {
		delete(c.subGroups, id)
		c.invalidated = append(c.invalidated, id)
	}
	return nil
}

// brokenRepo fails selected operations on top of the seeded store.
type brokenRepo struct {
	*memory.Store
	subGroupErr      error
	createProductErr error
}

func (r *brokenRepo) GetSubGroup(ctx context.Context, id string) (*domain.SubGroup, error) {
	if r.subGroupErr != nil {
		return nil, r.subGroupErr
	}
	return r.Store.GetSubGroup(ctx, id)
}

func (r *brokenRepo) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if r.createProductErr != nil {
		return nil, r.createProductErr
	}
	return r.Store.CreateProduct(ctx, product)
}

func comboOrder(key string) domain.OrderSubmitRequest {
	return domain.OrderSubmitRequest{
		StoreID:        "main-store",
		TerminalID:     "T-01",
		IdempotencyKey: key,
		Lines: []domain.OrderLine{
			{ProductID: "prd-grp-kikomando", SubGroupID: "sg-kikomando-1500", Qty: dec("2"), UnitPrice: dec("1500")},
			{ProductID: "prd-soda", Qty: dec("1"), UnitPrice: dec("1000")},
		},
	}
}

func TestSubmitOrderExpandsComboLine(t *testing.T) {
	svc := newTestService()

	resp, err := svc.SubmitOrder(cashierContext(), comboOrder("idem-combo"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if resp.Duplicate {
		t.Fatalf("first submission must not be a duplicate")
	}
	if resp.Expanded != 1 {
		t.Fatalf("expected 1 expanded line, got %d", resp.Expanded)
	}

	lines := resp.Order.Lines
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0].ProductID != "prd-soda" || !lines[0].Total.Equal(dec("1000")) {
		t.Fatalf("expected soda pass-through with filled total, got %s %s", lines[0].ProductID, lines[0].Total)
	}
	if lines[1].ProductID != "prd-chapati" || !lines[1].Subtotal.Equal(dec("2000")) || !lines[1].IsComponent {
		t.Fatalf("unexpected chapati line: %+v", lines[1])
	}
	if lines[2].ProductID != "prd-beans" || !lines[2].Subtotal.Equal(dec("1000")) {
		t.Fatalf("unexpected beans line: %+v", lines[2])
	}
	if !resp.Order.AmountTotal.Equal(dec("4000")) {
		t.Fatalf("expected order total 4000, got %s", resp.Order.AmountTotal)
	}
	if resp.Order.CashierUsername != "amina" {
		t.Fatalf("expected cashier amina, got %s", resp.Order.CashierUsername)
	}

	stored, err := svc.GetOrder(context.Background(), resp.Order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if len(stored.Lines) != 3 {
		t.Fatalf("expected stored order with 3 lines, got %d", len(stored.Lines))
	}
}

func TestSubmitOrderResolvesSubGroupByPrice(t *testing.T) {
	svc := newTestService()

	resp, err := svc.SubmitOrder(cashierContext(), domain.OrderSubmitRequest{
		TerminalID:     "T-01",
		IdempotencyKey: "idem-price",
		Lines: []domain.OrderLine{
			{ProductID: "prd-grp-kikomando", Qty: dec("1"), UnitPrice: dec("1500")},
		},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if resp.Expanded != 1 || len(resp.Order.Lines) != 2 {
		t.Fatalf("expected price match to expand into 2 lines, got expanded=%d lines=%d", resp.Expanded, len(resp.Order.Lines))
	}
	if resp.Order.StoreID != "main-store" {
		t.Fatalf("expected default store id, got %s", resp.Order.StoreID)
	}
}

func TestSubmitOrderReplayReturnsStoredOrder(t *testing.T) {
	svc := newTestService()
	ctx := cashierContext()

	first, err := svc.SubmitOrder(ctx, comboOrder("idem-replay"))
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	second, err := svc.SubmitOrder(ctx, comboOrder("idem-replay"))
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected replay to be flagged duplicate")
	}
	if second.Order.ID != first.Order.ID {
		t.Fatalf("expected replay to return %s, got %s", first.Order.ID, second.Order.ID)
	}

	logs, err := svc.ListAuditLogs(adminContext(), "main-store", "", 100)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	submits := 0
	for _, entry := range logs {
		if entry.Action == "order_submit" {
			submits++
		}
	}
	if submits != 1 {
		t.Fatalf("expected one order_submit audit entry, got %d", submits)
	}
}

func TestSubmitOrderRequiresTerminalAndLines(t *testing.T) {
	svc := newTestService()

	req := comboOrder("idem-no-terminal")
	req.TerminalID = ""
	if _, err := svc.SubmitOrder(cashierContext(), req); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without terminal, got %v", err)
	}

	req = comboOrder("idem-no-lines")
	req.Lines = nil
	if _, err := svc.SubmitOrder(cashierContext(), req); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without lines, got %v", err)
	}
}

func TestSubmitOrderPublishesExpandedEvent(t *testing.T) {
	publisher := &recordingPublisher{}
	svc := New(memory.NewSeeded(), cache.NoopCatalogCache{}, time.Minute, publisher, combo.PolicySeparate, "main-store")

	resp, err := svc.SubmitOrder(cashierContext(), comboOrder("idem-event"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(publisher.events))
	}
	event := publisher.events[0]
	if event.OrderID != resp.Order.ID || event.Expanded != 1 || len(event.Lines) != 3 {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestSubmitOrderSucceedsWhenPublishFails(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("broker down")}
	svc := New(memory.NewSeeded(), cache.NoopCatalogCache{}, time.Minute, publisher, combo.PolicySeparate, "main-store")

	if _, err := svc.SubmitOrder(cashierContext(), comboOrder("idem-publish-fail")); err != nil {
		t.Fatalf("expected submit to succeed when publishing fails, got %v", err)
	}
}

func TestSubmitOrderAbortsOnCatalogFailure(t *testing.T) {
	repo := &brokenRepo{Store: memory.NewSeeded(), subGroupErr: errors.New("connection reset")}
	svc := New(repo, cache.NoopCatalogCache{}, time.Minute, nil, combo.PolicySeparate, "main-store")

	if _, err := svc.SubmitOrder(cashierContext(), comboOrder("idem-broken")); err == nil {
		t.Fatalf("expected catalog failure to abort submission")
	}
	if _, err := repo.FindOrderByIdempotency(context.Background(), "idem-broken"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected nothing persisted, got %v", err)
	}
}

func TestSubmitOrderKeepsUnknownSubGroupLine(t *testing.T) {
	svc := newTestService()

	resp, err := svc.SubmitOrder(cashierContext(), domain.OrderSubmitRequest{
		TerminalID:     "T-01",
		IdempotencyKey: "idem-unknown",
		Lines: []domain.OrderLine{
			{ProductID: "prd-grp-kikomando", SubGroupID: "sg-missing", Qty: dec("1"), UnitPrice: dec("1500")},
		},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if resp.Expanded != 0 || len(resp.Order.Lines) != 1 {
		t.Fatalf("expected line to pass through, got expanded=%d lines=%d", resp.Expanded, len(resp.Order.Lines))
	}
	if len(resp.Diagnostics) == 0 || resp.Diagnostics[0].Kind != string(combo.KindSubGroupNotFound) {
		t.Fatalf("expected sub_group_not_found diagnostic, got %+v", resp.Diagnostics)
	}
}

func TestSubmitOrderStoresUnexpandedLinesAsSubmitted(t *testing.T) {
	svc := newTestService()

	resp, err := svc.SubmitOrder(cashierContext(), domain.OrderSubmitRequest{
		TerminalID:     "T-01",
		IdempotencyKey: "idem-as-submitted",
		Lines: []domain.OrderLine{
			{ProductID: "prd-grp-kikomando", SubGroupID: "sg-missing", Qty: dec("1"), UnitPrice: dec("1500")},
			{ProductID: "prd-soda", Qty: dec("2"), UnitPrice: dec("1000")},
			{Raw: []byte(`{"product_id":"prd-soda","qty":"abc"}`), DecodeError: "invalid qty"},
		},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if len(resp.Order.Lines) != 3 {
		t.Fatalf("expected all three lines kept, got %d", len(resp.Order.Lines))
	}

	var unexpanded, plain, raw domain.OrderLine
	for _, line := range resp.Order.Lines {
		switch {
		case line.DecodeError != "":
			raw = line
		case line.SubGroupID != "":
			unexpanded = line
		default:
			plain = line
		}
	}
	if !unexpanded.Total.IsZero() || !unexpanded.Subtotal.IsZero() {
		t.Fatalf("unexpanded line must keep its submitted totals, got subtotal=%s total=%s", unexpanded.Subtotal, unexpanded.Total)
	}
	if !plain.Total.Equal(dec("2000")) {
		t.Fatalf("expected plain line total 2000, got %s", plain.Total)
	}
	if string(raw.Raw) != `{"product_id":"prd-soda","qty":"abc"}` {
		t.Fatalf("raw line changed: %s", raw.Raw)
	}
	if !resp.Order.AmountTotal.Equal(dec("3500")) {
		t.Fatalf("expected amount total 3500, got %s", resp.Order.AmountTotal)
	}
}

func TestPreviewOrderDoesNotPersist(t *testing.T) {
	svc := newTestService()

	preview, err := svc.PreviewOrder(cashierContext(), comboOrder("idem-preview").Lines)
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if preview.Expanded != 1 || !preview.AmountTotal.Equal(dec("4000")) {
		t.Fatalf("unexpected preview: expanded=%d total=%s", preview.Expanded, preview.AmountTotal)
	}

	resp, err := svc.SubmitOrder(cashierContext(), comboOrder("idem-preview"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if resp.Duplicate {
		t.Fatalf("preview must not store an order")
	}
}

func TestCachedSubGroupServedUntilComponentChanges(t *testing.T) {
	catalogCache := newMapCatalogCache()
	svc := New(memory.NewSeeded(), catalogCache, time.Minute, nil, combo.PolicySeparate, "main-store")
	admin := adminContext()

	if _, err := svc.PreviewOrder(admin, comboOrder("x").Lines); err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if _, ok, _ := catalogCache.GetSubGroup(admin, "sg-kikomando-1500"); !ok {
		t.Fatalf("expected sub-group snapshot to be cached after lookup")
	}

	if _, err := svc.AddComponent(admin, "sg-kikomando-1500", domain.ComponentCreateRequest{ProductID: "prd-water", Quantity: dec("1")}); err != nil {
		t.Fatalf("add component: %v", err)
	}
	if _, ok, _ := catalogCache.GetSubGroup(admin, "sg-kikomando-1500"); ok {
		t.Fatalf("expected component change to invalidate cached snapshot")
	}

	preview, err := svc.PreviewOrder(admin, comboOrder("x").Lines)
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	found := false
	for _, line := range preview.Lines {
		if line.ProductID == "prd-water" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected new component in expansion after invalidation")
	}
}

func TestCreateGroupCreatesRepresentativeProduct(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	resp, err := svc.CreateGroup(ctx, domain.GroupCreateRequest{Name: "Rolex Deal"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if resp.ProductSync.Status != domain.SyncOK {
		t.Fatalf("expected sync ok, got %+v", resp.ProductSync)
	}
	if resp.Group.ProductID == "" {
		t.Fatalf("expected representative product to be linked")
	}

	products, err := svc.ListProducts(ctx, true)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	for _, p := range products {
		if p.ID == resp.Group.ProductID {
			if !p.IsGroupProduct || p.GroupID != resp.Group.ID || !p.AvailableInPOS {
				t.Fatalf("unexpected representative product: %+v", p)
			}
			return
		}
	}
	t.Fatalf("representative product %s not found", resp.Group.ProductID)
}

func TestCreateGroupDegradesWhenProductWriteFails(t *testing.T) {
	repo := &brokenRepo{Store: memory.NewSeeded(), createProductErr: errors.New("disk full")}
	svc := New(repo, nil, time.Minute, nil, combo.PolicySeparate, "main-store")

	resp, err := svc.CreateGroup(adminContext(), domain.GroupCreateRequest{Name: "Rolex Deal"})
	if err != nil {
		t.Fatalf("expected degraded result without error, got %v", err)
	}
	if resp.ProductSync.Status != domain.SyncDegraded {
		t.Fatalf("expected degraded sync, got %+v", resp.ProductSync)
	}
	if _, err := repo.GetGroup(context.Background(), resp.Group.ID); err != nil {
		t.Fatalf("expected group to remain usable: %v", err)
	}
}

func TestSubGroupCompanionProductFollowsPrice(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	created, err := svc.CreateSubGroup(ctx, "grp-kikomando", domain.SubGroupCreateRequest{Name: "Kikomando 2000", Price: dec("2000")})
	if err != nil {
		t.Fatalf("create sub-group: %v", err)
	}
	if created.ProductSync.Status != domain.SyncOK || created.SubGroup.ProductID == "" {
		t.Fatalf("expected linked companion product, got %+v", created.ProductSync)
	}
	if created.SubGroup.Sequence != 10 {
		t.Fatalf("expected default sequence 10, got %d", created.SubGroup.Sequence)
	}

	price := dec("2200")
	if _, err := svc.UpdateSubGroup(ctx, created.SubGroup.ID, domain.SubGroupUpdateRequest{Price: &price}); err != nil {
		t.Fatalf("update sub-group: %v", err)
	}

	products, err := svc.ListProducts(ctx, true)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	for _, p := range products {
		if p.ID != created.SubGroup.ProductID {
			continue
		}
		if !p.ListPrice.Equal(price) || p.AvailableInPOS || !p.IsSubGroupProduct {
			t.Fatalf("companion product out of sync: %+v", p)
		}
		return
	}
	t.Fatalf("companion product %s not found", created.SubGroup.ProductID)
}

func TestAddComponentValidatesProduct(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	if _, err := svc.AddComponent(ctx, "sg-kikomando-1500", domain.ComponentCreateRequest{ProductID: "prd-soda", Quantity: decimal.Zero}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected zero quantity to be rejected, got %v", err)
	}
	if _, err := svc.AddComponent(ctx, "sg-kikomando-1500", domain.ComponentCreateRequest{ProductID: "prd-grp-kikomando", Quantity: dec("1")}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected group product to be rejected, got %v", err)
	}
	if _, err := svc.AddComponent(ctx, "sg-kikomando-1500", domain.ComponentCreateRequest{ProductID: "prd-nope", Quantity: dec("1")}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected unknown product to be rejected, got %v", err)
	}

	component, err := svc.AddComponent(ctx, "sg-kikomando-1500", domain.ComponentCreateRequest{ProductID: "prd-soda", Quantity: dec("2")})
	if err != nil {
		t.Fatalf("add component: %v", err)
	}
	if component.DisplayName != "Soda 300ml - 2 pieces" {
		t.Fatalf("unexpected display name %q", component.DisplayName)
	}
}

func TestDeleteGroupRemovesCompanionProducts(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	sync, err := svc.DeleteGroup(ctx, "grp-kikomando")
	if err != nil {
		t.Fatalf("delete group: %v", err)
	}
	if sync.Status != domain.SyncOK {
		t.Fatalf("expected sync ok, got %+v", sync)
	}

	products, err := svc.ListProducts(ctx, true)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	for _, p := range products {
		if p.IsGroupProduct || p.IsSubGroupProduct {
			t.Fatalf("expected companion product %s to be deleted", p.ID)
		}
	}
}

func TestCatalogWritesRequireAdmin(t *testing.T) {
	svc := newTestService()
	ctx := cashierContext()

	if _, err := svc.CreateGroup(ctx, domain.GroupCreateRequest{Name: "Nope"}); err == nil {
		t.Fatalf("expected cashier group create to fail")
	}
	if _, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Nope", ListPrice: dec("1")}); err == nil {
		t.Fatalf("expected cashier product create to fail")
	}
	if err := svc.DeleteComponent(ctx, "cmp-kikomando-1500-chapati"); err == nil {
		t.Fatalf("expected cashier component delete to fail")
	}
}

func TestDeleteProductRejectsComponentProduct(t *testing.T) {
	svc := newTestService()

	if err := svc.DeleteProduct(adminContext(), "prd-chapati"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for component product, got %v", err)
	}
	if err := svc.DeleteProduct(adminContext(), "prd-rolex"); err != nil {
		t.Fatalf("expected unused product delete to succeed, got %v", err)
	}
}

func TestUpdateProductRejectsComboProduct(t *testing.T) {
	svc := newTestService()
	price := dec("5000")

	if _, err := svc.UpdateProduct(adminContext(), "prd-sg-kikomando-1500", domain.ProductUpdateRequest{ListPrice: &price}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestListAuditLogsRejectsBadDate(t *testing.T) {
	svc := newTestService()

	if _, err := svc.ListAuditLogs(adminContext(), "main-store", "19-10-2026", 10); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
