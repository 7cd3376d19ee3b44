package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"combopos/backend/internal/domain"
	"combopos/backend/internal/store"
	"combopos/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	groups          map[string]domain.Group
	subGroups       map[string]domain.SubGroup
	components      map[string]domain.Component
	ordersByID      map[string]*domain.Order
	ordersByIdem    map[string]*domain.Order
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning. These credentials are never used in production (the backend uses
// PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New returns an empty store with the seed users only.
func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		groups:          make(map[string]domain.Group),
		subGroups:       make(map[string]domain.SubGroup),
		components:      make(map[string]domain.Component),
		ordersByID:      make(map[string]*domain.Order),
		ordersByIdem:    make(map[string]*domain.Order),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

// NewSeeded returns a store holding a small food-stall catalog with the
// "Kikomando" combo sold at 1500 and 3000.
func NewSeeded() *Store {
	s := New()
	base := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	money := decimal.RequireFromString

	for _, p := range []domain.Product{
		{ID: "prd-chapati", Name: "Chapati", Category: "food", ListPrice: money("1000")},
		{ID: "prd-beans", Name: "Beans Portion", Category: "food", ListPrice: money("500")},
		{ID: "prd-rolex", Name: "Rolex", Category: "food", ListPrice: money("2500")},
		{ID: "prd-soda", Name: "Soda 300ml", Category: "beverage", ListPrice: money("1000")},
		{ID: "prd-water", Name: "Water 500ml", Category: "beverage", ListPrice: money("800")},
		{ID: "prd-grp-kikomando", Name: "Kikomando", Category: "combo", ListPrice: decimal.Zero, IsGroupProduct: true, GroupID: "grp-kikomando"},
		{ID: "prd-sg-kikomando-1500", Name: "Kikomando 1500", Category: "combo", ListPrice: money("1500"), IsSubGroupProduct: true, SubGroupID: "sg-kikomando-1500"},
		{ID: "prd-sg-kikomando-3000", Name: "Kikomando 3000", Category: "combo", ListPrice: money("3000"), IsSubGroupProduct: true, SubGroupID: "sg-kikomando-3000"},
	} {
		p.Active = true
		p.AvailableInPOS = !p.IsSubGroupProduct
		s.products[p.ID] = p
	}

	s.groups["grp-kikomando"] = domain.Group{
		ID:          "grp-kikomando",
		Name:        "Kikomando",
		Description: "Chapati with beans",
		Active:      true,
		ProductID:   "prd-grp-kikomando",
		CreatedAt:   base,
	}
	for i, sg := range []domain.SubGroup{
		{ID: "sg-kikomando-1500", Name: "Kikomando 1500", Price: money("1500"), Sequence: 10, ProductID: "prd-sg-kikomando-1500"},
		{ID: "sg-kikomando-3000", Name: "Kikomando 3000", Price: money("3000"), Sequence: 20, ProductID: "prd-sg-kikomando-3000"},
	} {
		sg.GroupID = "grp-kikomando"
		sg.Active = true
		sg.CreatedAt = base.Add(time.Duration(i+1) * time.Minute)
		s.subGroups[sg.ID] = sg
	}
	for i, c := range []domain.Component{
		{ID: "cmp-kikomando-1500-chapati", SubGroupID: "sg-kikomando-1500", ProductID: "prd-chapati", Quantity: money("1"), Sequence: 10},
		{ID: "cmp-kikomando-1500-beans", SubGroupID: "sg-kikomando-1500", ProductID: "prd-beans", Quantity: money("1"), Sequence: 20},
		{ID: "cmp-kikomando-3000-chapati", SubGroupID: "sg-kikomando-3000", ProductID: "prd-chapati", Quantity: money("2"), Sequence: 10},
		{ID: "cmp-kikomando-3000-beans", SubGroupID: "sg-kikomando-3000", ProductID: "prd-beans", Quantity: money("1"), Sequence: 20},
		{ID: "cmp-kikomando-3000-soda", SubGroupID: "sg-kikomando-3000", ProductID: "prd-soda", Quantity: money("1"), Sequence: 30},
	} {
		c.CreatedAt = base.Add(time.Duration(i+10) * time.Minute)
		s.components[c.ID] = c
	}
	return s
}

func (s *Store) ListProducts(_ context.Context, includeHidden bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !includeHidden && (!p.Active || !p.AvailableInPOS) {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

// GetProductsByIDs includes archived products; an order may still reference
// them through a combo recipe.
func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, fmt.Errorf("%w: product %s already exists", store.ErrConflict, product.ID)
	}

	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; !exists {
		return nil, store.ErrNotFound
	}
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *Store) ListGroups(_ context.Context) ([]domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]domain.Group, 0, len(s.groups))
	for _, g := range s.groups {
		g.SubGroups = s.subGroupsOfLocked(g.ID)
		groups = append(groups, g)
	}
	slices.SortFunc(groups, func(a, b domain.Group) int {
		return cmpString(a.Name, b.Name)
	})
	return groups, nil
}

func (s *Store) GetGroup(_ context.Context, id string) (*domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, exists := s.groups[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	group.SubGroups = s.subGroupsOfLocked(id)
	return &group, nil
}

func (s *Store) CreateGroup(_ context.Context, group domain.Group) (*domain.Group, error) {
	if strings.TrimSpace(group.Name) == "" {
		return nil, fmt.Errorf("%w: group name is required", store.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if group.ID == "" {
		group.ID = xid.New("grp")
	}
	if _, exists := s.groups[group.ID]; exists {
		return nil, fmt.Errorf("%w: group %s already exists", store.ErrConflict, group.ID)
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	group.SubGroups = nil
	s.groups[group.ID] = group
	created := group
	return &created, nil
}

func (s *Store) UpdateGroup(_ context.Context, group domain.Group) (*domain.Group, error) {
	if strings.TrimSpace(group.Name) == "" {
		return nil, fmt.Errorf("%w: group name is required", store.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.groups[group.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	group.CreatedAt = existing.CreatedAt
	group.SubGroups = nil
	s.groups[group.ID] = group
	updated := group
	updated.SubGroups = s.subGroupsOfLocked(group.ID)
	return &updated, nil
}

func (s *Store) DeleteGroup(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[id]; !exists {
		return store.ErrNotFound
	}
	for subID, sub := range s.subGroups {
		if sub.GroupID == id {
			s.deleteSubGroupLocked(subID)
		}
	}
	delete(s.groups, id)
	return nil
}

func (s *Store) ListSubGroups(_ context.Context, groupID string) ([]domain.SubGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.groups[groupID]; !exists {
		return nil, store.ErrNotFound
	}
	return s.subGroupsOfLocked(groupID), nil
}

func (s *Store) GetSubGroup(_ context.Context, id string) (*domain.SubGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, exists := s.subGroups[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	full := s.hydrateLocked(sub)
	return &full, nil
}

func (s *Store) FindActiveSubGroupsByPrice(_ context.Context, groupID string, price decimal.Decimal) ([]domain.SubGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]domain.SubGroup, 0, 1)
	for _, sub := range s.subGroupsOfLocked(groupID) {
		if sub.Active && sub.Price.Equal(price) {
			matches = append(matches, sub)
		}
	}
	return matches, nil
}

func (s *Store) CreateSubGroup(_ context.Context, sub domain.SubGroup) (*domain.SubGroup, error) {
	if err := validateSubGroup(sub); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[sub.GroupID]; !exists {
		return nil, fmt.Errorf("%w: group %s", store.ErrNotFound, sub.GroupID)
	}
	if sub.ID == "" {
		sub.ID = xid.New("sg")
	}
	if _, exists := s.subGroups[sub.ID]; exists {
		return nil, fmt.Errorf("%w: sub-group %s already exists", store.ErrConflict, sub.ID)
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	sub.Components = nil
	sub.GroupName = ""
	s.subGroups[sub.ID] = sub
	created := s.hydrateLocked(sub)
	return &created, nil
}

func (s *Store) UpdateSubGroup(_ context.Context, sub domain.SubGroup) (*domain.SubGroup, error) {
	if err := validateSubGroup(sub); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.subGroups[sub.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	sub.GroupID = existing.GroupID
	sub.CreatedAt = existing.CreatedAt
	sub.Components = nil
	sub.GroupName = ""
	s.subGroups[sub.ID] = sub
	updated := s.hydrateLocked(sub)
	return &updated, nil
}

func (s *Store) DeleteSubGroup(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subGroups[id]; !exists {
		return store.ErrNotFound
	}
	s.deleteSubGroupLocked(id)
	return nil
}

func (s *Store) GetComponent(_ context.Context, id string) (*domain.Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	component, exists := s.components[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	component.ProductName = s.products[component.ProductID].Name
	return &component, nil
}

func (s *Store) CreateComponent(_ context.Context, component domain.Component) (*domain.Component, error) {
	if !component.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: component quantity must be greater than zero", store.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subGroups[component.SubGroupID]; !exists {
		return nil, fmt.Errorf("%w: sub-group %s", store.ErrNotFound, component.SubGroupID)
	}
	if _, exists := s.products[component.ProductID]; !exists {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, component.ProductID)
	}
	if component.ID == "" {
		component.ID = xid.New("cmp")
	}
	if component.CreatedAt.IsZero() {
		component.CreatedAt = time.Now().UTC()
	}
	component.ProductName = ""
	s.components[component.ID] = component
	created := component
	created.ProductName = s.products[component.ProductID].Name
	return &created, nil
}

func (s *Store) UpdateComponent(_ context.Context, component domain.Component) (*domain.Component, error) {
	if !component.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: component quantity must be greater than zero", store.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.components[component.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	existing.Quantity = component.Quantity
	existing.Sequence = component.Sequence
	s.components[component.ID] = existing
	updated := existing
	updated.ProductName = s.products[existing.ProductID].Name
	return &updated, nil
}

func (s *Store) DeleteComponent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.components[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.components, id)
	return nil
}

func (s *Store) SubGroupIDsUsingProduct(_ context.Context, productID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]struct{}{}
	ids := make([]string, 0)
	for _, c := range s.components {
		if c.ProductID != productID {
			continue
		}
		if _, ok := seen[c.SubGroupID]; ok {
			continue
		}
		seen[c.SubGroupID] = struct{}{}
		ids = append(ids, c.SubGroupID)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) FindOrderByIdempotency(_ context.Context, key string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) FindOrderByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if strings.TrimSpace(order.IdempotencyKey) == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", store.ErrInvalidInput)
	}
	if len(order.Lines) == 0 {
		return nil, fmt.Errorf("%w: order has no lines", store.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.ordersByIdem[order.IdempotencyKey]; ok {
		return cloneOrder(existing), nil
	}
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	stored := cloneOrder(&order)
	s.ordersByID[stored.ID] = stored
	s.ordersByIdem[stored.IdempotencyKey] = stored
	return cloneOrder(stored), nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return fmt.Errorf("%w: username already exists", store.ErrConflict)
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) subGroupsOfLocked(groupID string) []domain.SubGroup {
	subs := make([]domain.SubGroup, 0, 4)
	for _, sub := range s.subGroups {
		if sub.GroupID == groupID {
			subs = append(subs, s.hydrateLocked(sub))
		}
	}
	slices.SortFunc(subs, compareSubGroups)
	return subs
}

func (s *Store) hydrateLocked(sub domain.SubGroup) domain.SubGroup {
	sub.GroupName = s.groups[sub.GroupID].Name
	components := make([]domain.Component, 0, 4)
	for _, c := range s.components {
		if c.SubGroupID != sub.ID {
			continue
		}
		c.ProductName = s.products[c.ProductID].Name
		components = append(components, c)
	}
	slices.SortFunc(components, func(a, b domain.Component) int {
		if a.Sequence != b.Sequence {
			return a.Sequence - b.Sequence
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Compare(b.CreatedAt)
		}
		return cmpString(a.ID, b.ID)
	})
	sub.Components = components
	return sub
}

func (s *Store) deleteSubGroupLocked(id string) {
	for componentID, c := range s.components {
		if c.SubGroupID == id {
			delete(s.components, componentID)
		}
	}
	delete(s.subGroups, id)
}

func compareSubGroups(a, b domain.SubGroup) int {
	if a.Sequence != b.Sequence {
		return a.Sequence - b.Sequence
	}
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Compare(b.CreatedAt)
	}
	return cmpString(a.ID, b.ID)
}

func validateProduct(product domain.Product) error {
	if strings.TrimSpace(product.Name) == "" {
		return fmt.Errorf("%w: product name is required", store.ErrInvalidInput)
	}
	if product.ListPrice.IsNegative() {
		return fmt.Errorf("%w: list price must not be negative", store.ErrInvalidInput)
	}
	return nil
}

func validateSubGroup(sub domain.SubGroup) error {
	if strings.TrimSpace(sub.Name) == "" {
		return fmt.Errorf("%w: sub-group name is required", store.ErrInvalidInput)
	}
	if sub.Price.IsNegative() {
		return fmt.Errorf("%w: sub-group price must not be negative", store.ErrInvalidInput)
	}
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneOrder(src *domain.Order) *domain.Order {
	if src == nil {
		return nil
	}
	dup := *src
	lines := make([]domain.OrderLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	return &dup
}
