package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"combopos/backend/internal/cache"
	"combopos/backend/internal/combo"
	"combopos/backend/internal/domain"
	"combopos/backend/internal/events"
	"combopos/backend/internal/store"
	"combopos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo           store.Repository
	catalog        *cachedCatalog
	expander       *combo.Expander
	publisher      events.Publisher
	defaultStoreID string
}

func New(
	repo store.Repository,
	catalogCache cache.CatalogCache,
	cacheTTL time.Duration,
	publisher events.Publisher,
	policy combo.DirectLinePolicy,
	defaultStoreID string,
) *Service {
	if defaultStoreID == "" {
		defaultStoreID = "main-store"
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}

	catalog := newCachedCatalog(repo, catalogCache, cacheTTL)
	return &Service{
		repo:           repo,
		catalog:        catalog,
		expander:       combo.NewExpander(catalog, policy),
		publisher:      publisher,
		defaultStoreID: defaultStoreID,
	}
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Actor{}, fmt.Errorf("admin role required")
	}
	return actor, nil
}

func (s *Service) ListProducts(ctx context.Context, includeHidden bool) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, includeHidden)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.ID = strings.TrimSpace(req.ID)
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: product name is required", store.ErrInvalidInput)
	}
	if req.ListPrice.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: list price must not be negative", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:             req.ID,
		Name:           req.Name,
		Category:       req.Category,
		ListPrice:      req.ListPrice,
		Active:         true,
		AvailableInPOS: true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, s.defaultStoreID, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%s", created.Name, created.ListPrice.StringFixed(2)))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", store.ErrInvalidInput)
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	if existing.IsGroupProduct || existing.IsSubGroupProduct {
		return domain.Product{}, fmt.Errorf("%w: product %s is managed through its combo group", store.ErrConflict, id)
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: product name is required", store.ErrInvalidInput)
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.ListPrice != nil {
		if req.ListPrice.IsNegative() {
			return domain.Product{}, fmt.Errorf("%w: list price must not be negative", store.ErrInvalidInput)
		}
		updated.ListPrice = *req.ListPrice
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	// Cached sub-group snapshots carry component product names.
	if subGroupIDs, err := s.repo.SubGroupIDsUsingProduct(ctx, saved.ID); err != nil {
		log.Printf("[service] WARN: failed to resolve sub-groups for product=%s: %v", saved.ID, err)
	} else {
		for _, subGroupID := range subGroupIDs {
			s.invalidateSubGroup(ctx, subGroupID)
		}
	}

	s.logAudit(ctx, s.defaultStoreID, "product_update", "product", saved.ID, fmt.Sprintf("active=%t,price=%s", saved.Active, saved.ListPrice.StringFixed(2)))
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}

	existing, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if existing.IsGroupProduct || existing.IsSubGroupProduct {
		return fmt.Errorf("%w: product %s is managed through its combo group", store.ErrConflict, existing.ID)
	}
	subGroupIDs, err := s.repo.SubGroupIDsUsingProduct(ctx, existing.ID)
	if err != nil {
		return err
	}
	if len(subGroupIDs) > 0 {
		return fmt.Errorf("%w: product %s is a component of %s", store.ErrConflict, existing.ID, strings.Join(subGroupIDs, ","))
	}

	if err := s.repo.DeleteProduct(ctx, existing.ID); err != nil {
		return err
	}
	s.logAudit(ctx, s.defaultStoreID, "product_delete", "product", existing.ID, fmt.Sprintf("name=%s", existing.Name))
	return nil
}

// SubmitOrder expands combo lines, persists the order and publishes the
// expanded lines. A replayed idempotency key returns the stored order.
func (s *Service) SubmitOrder(ctx context.Context, req domain.OrderSubmitRequest) (domain.OrderSubmitResponse, error) {
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	req.TerminalID = strings.TrimSpace(req.TerminalID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}
	if req.TerminalID == "" {
		return domain.OrderSubmitResponse{}, fmt.Errorf("%w: terminal_id is required", store.ErrInvalidInput)
	}
	if len(req.Lines) == 0 {
		return domain.OrderSubmitResponse{}, fmt.Errorf("%w: order has no lines", store.ErrInvalidInput)
	}

	if existing, err := s.repo.FindOrderByIdempotency(ctx, req.IdempotencyKey); err == nil {
		return toSubmitResponse(existing, 0, nil, true), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.OrderSubmitResponse{}, err
	}

	result, err := s.expander.Expand(ctx, req.Lines)
	if err != nil {
		return domain.OrderSubmitResponse{}, fmt.Errorf("expand order lines: %w", err)
	}
	lines := fillTotals(result.Lines)

	cashier := "system"
	if actor, ok := ActorFromContext(ctx); ok {
		cashier = actor.Username
	}

	order := domain.Order{
		ID:              xid.New("ord"),
		StoreID:         req.StoreID,
		TerminalID:      req.TerminalID,
		IdempotencyKey:  req.IdempotencyKey,
		CashierUsername: cashier,
		AmountTotal:     combo.OrderTotal(lines),
		CreatedAt:       time.Now().UTC(),
		Lines:           lines,
	}

	created, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return domain.OrderSubmitResponse{}, err
	}
	if created.ID != order.ID {
		// Lost a race on the idempotency key.
		return toSubmitResponse(created, 0, nil, true), nil
	}

	if err := s.publisher.PublishOrderExpanded(ctx, domain.OrderExpandedEvent{
		OrderID:     created.ID,
		StoreID:     created.StoreID,
		TerminalID:  created.TerminalID,
		Lines:       created.Lines,
		Expanded:    result.Expanded,
		Diagnostics: len(result.Diagnostics),
		CreatedAt:   created.CreatedAt,
	}); err != nil {
		log.Printf("[service] WARN: failed to publish order event order=%s: %v", created.ID, err)
	}

	s.logAudit(
		ctx,
		created.StoreID,
		"order_submit",
		"order",
		created.ID,
		fmt.Sprintf(
			"lines_in=%d,lines_out=%d,expanded=%d,diagnostics=%d,total=%s",
			len(req.Lines),
			len(created.Lines),
			result.Expanded,
			len(result.Diagnostics),
			created.AmountTotal.StringFixed(2),
		),
	)

	return toSubmitResponse(created, result.Expanded, result.Diagnostics, false), nil
}

// PreviewOrder runs the expansion without persisting anything.
func (s *Service) PreviewOrder(ctx context.Context, lines []domain.OrderLine) (domain.OrderPreviewResponse, error) {
	if len(lines) == 0 {
		return domain.OrderPreviewResponse{}, fmt.Errorf("%w: order has no lines", store.ErrInvalidInput)
	}

	result, err := s.expander.Expand(ctx, lines)
	if err != nil {
		return domain.OrderPreviewResponse{}, fmt.Errorf("expand order lines: %w", err)
	}
	filled := fillTotals(result.Lines)
	return domain.OrderPreviewResponse{
		Lines:       filled,
		Expanded:    result.Expanded,
		AmountTotal: combo.OrderTotal(filled),
		Diagnostics: combo.ToDomain(result.Diagnostics),
	}, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", store.ErrInvalidInput)
	}
	order, err := s.repo.FindOrderByID(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, date string, limit int) ([]domain.AuditLog, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidInput)
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, storeID, from, to, limit)
}

func toSubmitResponse(order *domain.Order, expanded int, diags []combo.Diagnostic, duplicate bool) domain.OrderSubmitResponse {
	return domain.OrderSubmitResponse{
		Order:       *order,
		Expanded:    expanded,
		Duplicate:   duplicate,
		Diagnostics: combo.ToDomain(diags),
	}
}

// fillTotals completes totals on plain lines. A line still naming a
// sub-group was not expanded and an undecodable line is opaque; both are
// stored exactly as submitted.
func fillTotals(lines []domain.OrderLine) []domain.OrderLine {
	filled := make([]domain.OrderLine, len(lines))
	for i, line := range lines {
		if line.SubGroupID != "" || line.DecodeError != "" {
			filled[i] = line
			continue
		}
		filled[i] = combo.FillTotals(line)
	}
	return filled
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
