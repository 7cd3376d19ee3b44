package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Category          string          `json:"category"`
	ListPrice         decimal.Decimal `json:"list_price"`
	Active            bool            `json:"active"`
	AvailableInPOS    bool            `json:"available_in_pos"`
	IsGroupProduct    bool            `json:"is_group_product"`
	GroupID           string          `json:"group_id,omitempty"`
	IsSubGroupProduct bool            `json:"is_sub_group_product"`
	SubGroupID        string          `json:"sub_group_id,omitempty"`
}

type ProductCreateRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	ListPrice decimal.Decimal `json:"list_price"`
}

type ProductUpdateRequest struct {
	Name      *string          `json:"name,omitempty"`
	Category  *string          `json:"category,omitempty"`
	ListPrice *decimal.Decimal `json:"list_price,omitempty"`
	Active    *bool            `json:"active,omitempty"`
}

// Group is a combo family offered at several price points, e.g. "Kikomando".
type Group struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Active      bool       `json:"active"`
	ProductID   string     `json:"product_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	SubGroups   []SubGroup `json:"sub_groups,omitempty"`
}

// SubGroup is one priced variant of a Group with a fixed component recipe.
type SubGroup struct {
	ID         string          `json:"id"`
	GroupID    string          `json:"group_id"`
	GroupName  string          `json:"group_name,omitempty"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Active     bool            `json:"active"`
	Sequence   int             `json:"sequence"`
	ProductID  string          `json:"product_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	Components []Component     `json:"components"`
}

// Component says how many units of a product one unit of a sub-group contains.
type Component struct {
	ID          string          `json:"id"`
	SubGroupID  string          `json:"sub_group_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	DisplayName string          `json:"display_name,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	Sequence    int             `json:"sequence"`
	CreatedAt   time.Time       `json:"created_at"`
}

type GroupCreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type GroupUpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

type SubGroupCreateRequest struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Sequence *int            `json:"sequence,omitempty"`
}

type SubGroupUpdateRequest struct {
	Name     *string          `json:"name,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Active   *bool            `json:"active,omitempty"`
	Sequence *int             `json:"sequence,omitempty"`
}

type ComponentCreateRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Sequence  *int            `json:"sequence,omitempty"`
}

type ComponentUpdateRequest struct {
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	Sequence *int             `json:"sequence,omitempty"`
}

type SyncStatus string

const (
	SyncOK         SyncStatus = "ok"
	SyncDegraded   SyncStatus = "degraded"
	SyncMustReport SyncStatus = "must_report"
)

// SyncResult reports what happened to the companion product record of a
// catalog write.
type SyncResult struct {
	Status SyncStatus `json:"status"`
	Detail string     `json:"detail,omitempty"`
}

type GroupResponse struct {
	Group       Group      `json:"group"`
	ProductSync SyncResult `json:"product_sync"`
}

type SubGroupResponse struct {
	SubGroup    SubGroup   `json:"sub_group"`
	ProductSync SyncResult `json:"product_sync"`
}

// OrderLine is both the submitted line and the persisted line. Generated
// component lines have IsComponent set and carry their origin.
type OrderLine struct {
	UUID              string            `json:"uuid,omitempty"`
	ProductID         string            `json:"product_id"`
	FullProductName   string            `json:"full_product_name,omitempty"`
	Qty               decimal.Decimal   `json:"qty"`
	UnitPrice         decimal.Decimal   `json:"price_unit"`
	Discount          decimal.Decimal   `json:"discount"`
	Subtotal          decimal.Decimal   `json:"price_subtotal"`
	SubtotalInclTax   decimal.Decimal   `json:"price_subtotal_incl"`
	Total             decimal.Decimal   `json:"price_total"`
	SubGroupID        string            `json:"sub_group_id,omitempty"`
	GroupID           string            `json:"group_id,omitempty"`
	IsComponent       bool              `json:"is_component"`
	OriginGroupName   string            `json:"origin_group_name,omitempty"`
	OriginSubGroup    string            `json:"origin_sub_group_name,omitempty"`
	OriginSubGroups   []string          `json:"origin_sub_group_names,omitempty"`
	Note              string            `json:"note,omitempty"`
	AttributeValueIDs []string          `json:"attribute_value_ids,omitempty"`
	PackLotIDs        []string          `json:"pack_lot_ids,omitempty"`
	Sources           []ComponentSource `json:"component_sources,omitempty"`

	// Extra holds submitted keys that have no field above. They are kept
	// and written back out with the line.
	Extra map[string]json.RawMessage `json:"-"`
	// Raw is set when the submitted line could not be decoded at all; the
	// line then travels as-is and DecodeError says why.
	Raw         json.RawMessage `json:"-"`
	DecodeError string          `json:"-"`
}

// ComponentSource records one sub-group occurrence that contributed to a
// generated component line.
type ComponentSource struct {
	SubGroupID    string          `json:"sub_group_id"`
	SubGroupName  string          `json:"sub_group_name"`
	SubGroupPrice decimal.Decimal `json:"sub_group_price"`
	QuantitySold  decimal.Decimal `json:"quantity_sold"`
	ComponentQty  decimal.Decimal `json:"component_qty"`
	Allocated     decimal.Decimal `json:"allocated"`
}

type OrderSubmitRequest struct {
	StoreID        string      `json:"store_id"`
	TerminalID     string      `json:"terminal_id"`
	IdempotencyKey string      `json:"idempotency_key"`
	Lines          []OrderLine `json:"lines"`
}

type Order struct {
	ID              string          `json:"id"`
	StoreID         string          `json:"store_id"`
	TerminalID      string          `json:"terminal_id"`
	IdempotencyKey  string          `json:"idempotency_key"`
	CashierUsername string          `json:"cashier_username"`
	AmountTotal     decimal.Decimal `json:"amount_total"`
	CreatedAt       time.Time       `json:"created_at"`
	Lines           []OrderLine     `json:"lines"`
}

type OrderDiagnostic struct {
	Kind       string `json:"kind"`
	Line       int    `json:"line"`
	SubGroupID string `json:"sub_group_id,omitempty"`
	ProductID  string `json:"product_id,omitempty"`
	Expected   string `json:"expected,omitempty"`
	Actual     string `json:"actual,omitempty"`
	Message    string `json:"message"`
}

type OrderSubmitResponse struct {
	Order       Order             `json:"order"`
	Expanded    int               `json:"expanded"`
	Duplicate   bool              `json:"duplicate"`
	Diagnostics []OrderDiagnostic `json:"diagnostics"`
}

type OrderPreviewResponse struct {
	Lines       []OrderLine       `json:"lines"`
	Expanded    int               `json:"expanded"`
	AmountTotal decimal.Decimal   `json:"amount_total"`
	Diagnostics []OrderDiagnostic `json:"diagnostics"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// OrderExpandedEvent is published after an order with its final lines has
// been persisted.
type OrderExpandedEvent struct {
	OrderID     string      `json:"order_id"`
	StoreID     string      `json:"store_id"`
	TerminalID  string      `json:"terminal_id"`
	Lines       []OrderLine `json:"lines"`
	Expanded    int         `json:"expanded"`
	Diagnostics int         `json:"diagnostics"`
	CreatedAt   time.Time   `json:"created_at"`
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
