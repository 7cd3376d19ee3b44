package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"combopos/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
)

type Repository interface {
	ListProducts(ctx context.Context, includeHidden bool) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	ListGroups(ctx context.Context) ([]domain.Group, error)
	GetGroup(ctx context.Context, id string) (*domain.Group, error)
	CreateGroup(ctx context.Context, group domain.Group) (*domain.Group, error)
	UpdateGroup(ctx context.Context, group domain.Group) (*domain.Group, error)
	// DeleteGroup removes the group with its sub-groups and components.
	DeleteGroup(ctx context.Context, id string) error

	// ListSubGroups returns the sub-groups of a group with their components,
	// ordered by sequence, then price, then creation.
	ListSubGroups(ctx context.Context, groupID string) ([]domain.SubGroup, error)
	GetSubGroup(ctx context.Context, id string) (*domain.SubGroup, error)
	FindActiveSubGroupsByPrice(ctx context.Context, groupID string, price decimal.Decimal) ([]domain.SubGroup, error)
	CreateSubGroup(ctx context.Context, subGroup domain.SubGroup) (*domain.SubGroup, error)
	UpdateSubGroup(ctx context.Context, subGroup domain.SubGroup) (*domain.SubGroup, error)
	DeleteSubGroup(ctx context.Context, id string) error

	GetComponent(ctx context.Context, id string) (*domain.Component, error)
	CreateComponent(ctx context.Context, component domain.Component) (*domain.Component, error)
	UpdateComponent(ctx context.Context, component domain.Component) (*domain.Component, error)
	DeleteComponent(ctx context.Context, id string) error
	// SubGroupIDsUsingProduct lists sub-groups with a component on productID.
	SubGroupIDsUsingProduct(ctx context.Context, productID string) ([]string, error)

	FindOrderByIdempotency(ctx context.Context, key string) (*domain.Order, error)
	FindOrderByID(ctx context.Context, id string) (*domain.Order, error)
	// CreateOrder persists an order. When the idempotency key is already
	// taken the stored order is returned instead.
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
