package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"combopos/backend/internal/domain"
	"combopos/backend/internal/store"
)

const defaultCatalogSequence = 10

// ErrMustReport marks a catalog write that left a row without its companion
// product. The response carries the details.
var ErrMustReport = errors.New("catalog left out of sync")

func syncOK() domain.SyncResult {
	return domain.SyncResult{Status: domain.SyncOK}
}

func syncDegraded(format string, args ...any) domain.SyncResult {
	return domain.SyncResult{Status: domain.SyncDegraded, Detail: fmt.Sprintf(format, args...)}
}

func syncMustReport(format string, args ...any) domain.SyncResult {
	return domain.SyncResult{Status: domain.SyncMustReport, Detail: fmt.Sprintf(format, args...)}
}

func (s *Service) ListGroups(ctx context.Context) ([]domain.Group, error) {
	groups, err := s.repo.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	for i := range groups {
		decorateSubGroups(groups[i].SubGroups)
	}
	return groups, nil
}

func (s *Service) GetGroup(ctx context.Context, id string) (domain.Group, error) {
	group, err := s.repo.GetGroup(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Group{}, err
	}
	decorateSubGroups(group.SubGroups)
	return *group, nil
}

// CreateGroup creates the group and its representative product, the entry
// a cashier picks to sell the combo.
func (s *Service) CreateGroup(ctx context.Context, req domain.GroupCreateRequest) (domain.GroupResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.GroupResponse{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.GroupResponse{}, fmt.Errorf("%w: group name is required", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateGroup(ctx, domain.Group{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Active:      true,
	})
	if err != nil {
		return domain.GroupResponse{}, err
	}

	group, sync, err := s.syncGroupProduct(ctx, *created)
	s.logAudit(ctx, s.defaultStoreID, "group_create", "group", group.ID, fmt.Sprintf("name=%s,product=%s,sync=%s", group.Name, group.ProductID, sync.Status))
	return domain.GroupResponse{Group: group, ProductSync: sync}, err
}

func (s *Service) UpdateGroup(ctx context.Context, id string, req domain.GroupUpdateRequest) (domain.GroupResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.GroupResponse{}, err
	}

	existing, err := s.repo.GetGroup(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.GroupResponse{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.GroupResponse{}, fmt.Errorf("%w: group name is required", store.ErrInvalidInput)
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateGroup(ctx, updated)
	if err != nil {
		return domain.GroupResponse{}, err
	}
	s.catalog.invalidate(ctx, saved.ID, subGroupIDs(existing.SubGroups)...)

	group, sync, err := s.syncGroupProduct(ctx, *saved)
	decorateSubGroups(group.SubGroups)
	s.logAudit(ctx, s.defaultStoreID, "group_update", "group", group.ID, fmt.Sprintf("name=%s,active=%t,sync=%s", group.Name, group.Active, sync.Status))
	return domain.GroupResponse{Group: group, ProductSync: sync}, err
}

// DeleteGroup removes the group with its sub-groups, components and
// companion products.
func (s *Service) DeleteGroup(ctx context.Context, id string) (domain.SyncResult, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.SyncResult{}, err
	}

	existing, err := s.repo.GetGroup(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.SyncResult{}, err
	}
	if err := s.repo.DeleteGroup(ctx, existing.ID); err != nil {
		return domain.SyncResult{}, err
	}
	s.catalog.invalidate(ctx, existing.ID, subGroupIDs(existing.SubGroups)...)

	productIDs := make([]string, 0, len(existing.SubGroups)+1)
	if existing.ProductID != "" {
		productIDs = append(productIDs, existing.ProductID)
	}
	for _, sub := range existing.SubGroups {
		if sub.ProductID != "" {
			productIDs = append(productIDs, sub.ProductID)
		}
	}
	sync := s.deleteCompanionProducts(ctx, productIDs)

	s.logAudit(ctx, s.defaultStoreID, "group_delete", "group", existing.ID, fmt.Sprintf("name=%s,sub_groups=%d,sync=%s", existing.Name, len(existing.SubGroups), sync.Status))
	return sync, nil
}

func (s *Service) ListSubGroups(ctx context.Context, groupID string) ([]domain.SubGroup, error) {
	subs, err := s.repo.ListSubGroups(ctx, strings.TrimSpace(groupID))
	if err != nil {
		return nil, err
	}
	decorateSubGroups(subs)
	return subs, nil
}

func (s *Service) GetSubGroup(ctx context.Context, id string) (domain.SubGroup, error) {
	sub, err := s.repo.GetSubGroup(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.SubGroup{}, err
	}
	decorateComponents(sub.Components)
	return *sub, nil
}

// CreateSubGroup adds a priced variant to a group together with its hidden
// companion product.
func (s *Service) CreateSubGroup(ctx context.Context, groupID string, req domain.SubGroupCreateRequest) (domain.SubGroupResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.SubGroupResponse{}, err
	}

	group, err := s.repo.GetGroup(ctx, strings.TrimSpace(groupID))
	if err != nil {
		return domain.SubGroupResponse{}, err
	}
	if req.Price.IsNegative() {
		return domain.SubGroupResponse{}, fmt.Errorf("%w: sub-group price must not be negative", store.ErrInvalidInput)
	}
	sequence := defaultCatalogSequence
	if req.Sequence != nil {
		sequence = *req.Sequence
	}

	created, err := s.repo.CreateSubGroup(ctx, domain.SubGroup{
		GroupID:  group.ID,
		Name:     defaultString(strings.TrimSpace(req.Name), fmt.Sprintf("%s %s", group.Name, req.Price.String())),
		Price:    req.Price,
		Active:   true,
		Sequence: sequence,
	})
	if err != nil {
		return domain.SubGroupResponse{}, err
	}
	s.catalog.invalidate(ctx, created.GroupID, created.ID)

	sub, sync, err := s.syncSubGroupProduct(ctx, *created)
	s.logAudit(ctx, s.defaultStoreID, "sub_group_create", "sub_group", sub.ID, fmt.Sprintf("group=%s,price=%s,sync=%s", sub.GroupID, sub.Price.StringFixed(2), sync.Status))
	return domain.SubGroupResponse{SubGroup: sub, ProductSync: sync}, err
}

func (s *Service) UpdateSubGroup(ctx context.Context, id string, req domain.SubGroupUpdateRequest) (domain.SubGroupResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.SubGroupResponse{}, err
	}

	existing, err := s.repo.GetSubGroup(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.SubGroupResponse{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.SubGroupResponse{}, fmt.Errorf("%w: sub-group name is required", store.ErrInvalidInput)
		}
		updated.Name = name
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.SubGroupResponse{}, fmt.Errorf("%w: sub-group price must not be negative", store.ErrInvalidInput)
		}
		updated.Price = *req.Price
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	if req.Sequence != nil {
		updated.Sequence = *req.Sequence
	}

	saved, err := s.repo.UpdateSubGroup(ctx, updated)
	if err != nil {
		return domain.SubGroupResponse{}, err
	}
	s.catalog.invalidate(ctx, saved.GroupID, saved.ID)

	sub, sync, err := s.syncSubGroupProduct(ctx, *saved)
	s.logAudit(ctx, s.defaultStoreID, "sub_group_update", "sub_group", sub.ID, fmt.Sprintf("price=%s,active=%t,sync=%s", sub.Price.StringFixed(2), sub.Active, sync.Status))
	return domain.SubGroupResponse{SubGroup: sub, ProductSync: sync}, err
}

func (s *Service) DeleteSubGroup(ctx context.Context, id string) (domain.SyncResult, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.SyncResult{}, err
	}

	existing, err := s.repo.GetSubGroup(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.SyncResult{}, err
	}
	if err := s.repo.DeleteSubGroup(ctx, existing.ID); err != nil {
		return domain.SyncResult{}, err
	}
	s.catalog.invalidate(ctx, existing.GroupID, existing.ID)

	var productIDs []string
	if existing.ProductID != "" {
		productIDs = append(productIDs, existing.ProductID)
	}
	sync := s.deleteCompanionProducts(ctx, productIDs)

	s.logAudit(ctx, s.defaultStoreID, "sub_group_delete", "sub_group", existing.ID, fmt.Sprintf("group=%s,price=%s,sync=%s", existing.GroupID, existing.Price.StringFixed(2), sync.Status))
	return sync, nil
}

func (s *Service) AddComponent(ctx context.Context, subGroupID string, req domain.ComponentCreateRequest) (domain.Component, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Component{}, err
	}

	sub, err := s.repo.GetSubGroup(ctx, strings.TrimSpace(subGroupID))
	if err != nil {
		return domain.Component{}, err
	}
	if !req.Quantity.IsPositive() {
		return domain.Component{}, fmt.Errorf("%w: component quantity must be greater than zero", store.ErrInvalidInput)
	}
	if err := s.validateComponentProduct(ctx, strings.TrimSpace(req.ProductID)); err != nil {
		return domain.Component{}, err
	}
	sequence := defaultCatalogSequence
	if req.Sequence != nil {
		sequence = *req.Sequence
	}

	created, err := s.repo.CreateComponent(ctx, domain.Component{
		SubGroupID: sub.ID,
		ProductID:  strings.TrimSpace(req.ProductID),
		Quantity:   req.Quantity,
		Sequence:   sequence,
	})
	if err != nil {
		return domain.Component{}, err
	}
	s.catalog.invalidate(ctx, sub.GroupID, sub.ID)

	created.DisplayName = componentDisplayName(*created)
	s.logAudit(ctx, s.defaultStoreID, "component_create", "component", created.ID, fmt.Sprintf("sub_group=%s,product=%s,qty=%s", sub.ID, created.ProductID, created.Quantity))
	return *created, nil
}

func (s *Service) UpdateComponent(ctx context.Context, id string, req domain.ComponentUpdateRequest) (domain.Component, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Component{}, err
	}

	existing, err := s.repo.GetComponent(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Component{}, err
	}

	updated := *existing
	if req.Quantity != nil {
		if !req.Quantity.IsPositive() {
			return domain.Component{}, fmt.Errorf("%w: component quantity must be greater than zero", store.ErrInvalidInput)
		}
		updated.Quantity = *req.Quantity
	}
	if req.Sequence != nil {
		updated.Sequence = *req.Sequence
	}

	saved, err := s.repo.UpdateComponent(ctx, updated)
	if err != nil {
		return domain.Component{}, err
	}
	s.invalidateSubGroup(ctx, saved.SubGroupID)

	saved.DisplayName = componentDisplayName(*saved)
	s.logAudit(ctx, s.defaultStoreID, "component_update", "component", saved.ID, fmt.Sprintf("qty=%s,sequence=%d", saved.Quantity, saved.Sequence))
	return *saved, nil
}

func (s *Service) DeleteComponent(ctx context.Context, id string) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}

	existing, err := s.repo.GetComponent(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if err := s.repo.DeleteComponent(ctx, existing.ID); err != nil {
		return err
	}
	s.invalidateSubGroup(ctx, existing.SubGroupID)

	s.logAudit(ctx, s.defaultStoreID, "component_delete", "component", existing.ID, fmt.Sprintf("sub_group=%s,product=%s", existing.SubGroupID, existing.ProductID))
	return nil
}

// syncGroupProduct creates and links the representative product when the
// group has none, otherwise keeps its name and active flag in line.
func (s *Service) syncGroupProduct(ctx context.Context, group domain.Group) (domain.Group, domain.SyncResult, error) {
	if group.ProductID == "" {
		product, err := s.repo.CreateProduct(ctx, domain.Product{
			Name:           group.Name,
			Category:       "combo",
			ListPrice:      decimal.Zero,
			Active:         group.Active,
			AvailableInPOS: true,
			IsGroupProduct: true,
			GroupID:        group.ID,
		})
		if err != nil {
			log.Printf("[service] WARN: failed to create group product group=%s: %v", group.ID, err)
			return group, syncDegraded("representative product not created: %v", err), nil
		}

		group.ProductID = product.ID
		linked, err := s.repo.UpdateGroup(ctx, group)
		if err != nil {
			s.discardOrphanProduct(ctx, product.ID)
			group.ProductID = ""
			return group, syncMustReport("group %s could not be linked to product %s", group.ID, product.ID), fmt.Errorf("%w: link group product: %v", ErrMustReport, err)
		}
		return *linked, syncOK(), nil
	}

	product, err := s.repo.GetProduct(ctx, group.ProductID)
	if err != nil {
		log.Printf("[service] WARN: group product missing group=%s product=%s: %v", group.ID, group.ProductID, err)
		return group, syncDegraded("representative product %s not found", group.ProductID), nil
	}
	if product.Name == group.Name && product.Active == group.Active && product.IsGroupProduct && product.GroupID == group.ID {
		return group, syncOK(), nil
	}
	product.Name = group.Name
	product.Active = group.Active
	product.IsGroupProduct = true
	product.GroupID = group.ID
	if _, err := s.repo.UpdateProduct(ctx, *product); err != nil {
		log.Printf("[service] WARN: failed to sync group product group=%s product=%s: %v", group.ID, product.ID, err)
		return group, syncDegraded("representative product %s not updated: %v", product.ID, err), nil
	}
	return group, syncOK(), nil
}

// syncSubGroupProduct keeps the hidden companion product priced and named
// like its sub-group.
func (s *Service) syncSubGroupProduct(ctx context.Context, sub domain.SubGroup) (domain.SubGroup, domain.SyncResult, error) {
	decorateComponents(sub.Components)

	if sub.ProductID == "" {
		product, err := s.repo.CreateProduct(ctx, domain.Product{
			Name:              sub.Name,
			Category:          "combo",
			ListPrice:         sub.Price,
			Active:            sub.Active,
			AvailableInPOS:    false,
			IsSubGroupProduct: true,
			SubGroupID:        sub.ID,
			GroupID:           sub.GroupID,
		})
		if err != nil {
			log.Printf("[service] WARN: failed to create sub-group product sub_group=%s: %v", sub.ID, err)
			return sub, syncDegraded("companion product not created: %v", err), nil
		}

		sub.ProductID = product.ID
		linked, err := s.repo.UpdateSubGroup(ctx, sub)
		if err != nil {
			s.discardOrphanProduct(ctx, product.ID)
			sub.ProductID = ""
			return sub, syncMustReport("sub-group %s could not be linked to product %s", sub.ID, product.ID), fmt.Errorf("%w: link sub-group product: %v", ErrMustReport, err)
		}
		decorateComponents(linked.Components)
		return *linked, syncOK(), nil
	}

	product, err := s.repo.GetProduct(ctx, sub.ProductID)
	if err != nil {
		log.Printf("[service] WARN: sub-group product missing sub_group=%s product=%s: %v", sub.ID, sub.ProductID, err)
		return sub, syncDegraded("companion product %s not found", sub.ProductID), nil
	}
	if product.Name == sub.Name && product.ListPrice.Equal(sub.Price) && product.Active == sub.Active && !product.AvailableInPOS {
		return sub, syncOK(), nil
	}
	product.Name = sub.Name
	product.ListPrice = sub.Price
	product.Active = sub.Active
	product.AvailableInPOS = false
	product.IsSubGroupProduct = true
	product.SubGroupID = sub.ID
	if _, err := s.repo.UpdateProduct(ctx, *product); err != nil {
		log.Printf("[service] WARN: failed to sync sub-group product sub_group=%s product=%s: %v", sub.ID, product.ID, err)
		return sub, syncDegraded("companion product %s not updated: %v", product.ID, err), nil
	}
	return sub, syncOK(), nil
}

func (s *Service) deleteCompanionProducts(ctx context.Context, productIDs []string) domain.SyncResult {
	failed := make([]string, 0)
	for _, id := range productIDs {
		if err := s.repo.DeleteProduct(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Printf("[service] WARN: failed to delete companion product product=%s: %v", id, err)
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return syncDegraded("companion products not deleted: %s", strings.Join(failed, ","))
	}
	return syncOK()
}

func (s *Service) discardOrphanProduct(ctx context.Context, productID string) {
	if err := s.repo.DeleteProduct(ctx, productID); err != nil {
		log.Printf("[service] WARN: failed to discard orphan product product=%s: %v", productID, err)
	}
}

func (s *Service) validateComponentProduct(ctx context.Context, productID string) error {
	if productID == "" {
		return fmt.Errorf("%w: component product is required", store.ErrInvalidInput)
	}
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: product %s does not exist", store.ErrInvalidInput, productID)
		}
		return err
	}
	if product.IsGroupProduct || product.IsSubGroupProduct {
		return fmt.Errorf("%w: product %s is itself a combo product", store.ErrInvalidInput, productID)
	}
	return nil
}

func (s *Service) invalidateSubGroup(ctx context.Context, subGroupID string) {
	groupID := ""
	if sub, err := s.repo.GetSubGroup(ctx, subGroupID); err == nil {
		groupID = sub.GroupID
	}
	s.catalog.invalidate(ctx, groupID, subGroupID)
}

func subGroupIDs(subs []domain.SubGroup) []string {
	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.ID)
	}
	return ids
}

func decorateSubGroups(subs []domain.SubGroup) {
	for i := range subs {
		decorateComponents(subs[i].Components)
	}
}

func decorateComponents(components []domain.Component) {
	for i := range components {
		components[i].DisplayName = componentDisplayName(components[i])
	}
}

func componentDisplayName(c domain.Component) string {
	return fmt.Sprintf("%s - %s pieces", c.ProductName, c.Quantity.String())
}
