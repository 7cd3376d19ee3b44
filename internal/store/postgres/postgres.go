package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"combopos/backend/internal/domain"
	"combopos/backend/internal/store"
	"combopos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	migrateCtx, cancelMigrate := context.WithTimeout(ctx, 30*time.Second)
	defer cancelMigrate()
	if err := ApplyMigrations(migrateCtx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `id, name, category, list_price, active, available_in_pos,
	is_group_product, COALESCE(group_id,''), is_sub_group_product, COALESCE(sub_group_id,'')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.ListPrice, &p.Active, &p.AvailableInPOS,
		&p.IsGroupProduct, &p.GroupID, &p.IsSubGroupProduct, &p.SubGroupID)
	return p, err
}

func (s *Store) ListProducts(ctx context.Context, includeHidden bool) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	if !includeHidden {
		query += ` WHERE active = true AND available_in_pos = true`
	}
	query += ` ORDER BY category, name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return nil, err
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (
			id, name, category, list_price, active, available_in_pos,
			is_group_product, group_id, is_sub_group_product, sub_group_id, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now(),now())
	`, product.ID, product.Name, product.Category, product.ListPrice, product.Active, product.AvailableInPOS,
		product.IsGroupProduct, nullIfEmpty(product.GroupID), product.IsSubGroupProduct, nullIfEmpty(product.SubGroupID))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: product %s already exists", store.ErrConflict, product.ID)
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, list_price = $4, active = $5, available_in_pos = $6,
			is_group_product = $7, group_id = $8, is_sub_group_product = $9, sub_group_id = $10,
			updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Category, product.ListPrice, product.Active, product.AvailableInPOS,
		product.IsGroupProduct, nullIfEmpty(product.GroupID), product.IsSubGroupProduct, nullIfEmpty(product.SubGroupID))
	if err != nil {
		return nil, err
	}
	if err := expectAffected(res); err != nil {
		return nil, err
	}

	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: product %s is used by a combo", store.ErrConflict, id)
		}
		return err
	}
	return expectAffected(res)
}

func (s *Store) ListGroups(ctx context.Context) ([]domain.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, active, COALESCE(product_id,''), created_at
		FROM product_groups
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make([]domain.Group, 0, 16)
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.Active, &g.ProductID, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.CreatedAt = g.CreatedAt.UTC()
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	_ = rows.Close()

	for i := range groups {
		subs, err := s.loadSubGroups(ctx, `sg.group_id = $1`, groups[i].ID)
		if err != nil {
			return nil, err
		}
		groups[i].SubGroups = subs
	}
	return groups, nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (*domain.Group, error) {
	var g domain.Group
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, active, COALESCE(product_id,''), created_at
		FROM product_groups
		WHERE id = $1
	`, id).Scan(&g.ID, &g.Name, &g.Description, &g.Active, &g.ProductID, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	g.CreatedAt = g.CreatedAt.UTC()

	subs, err := s.loadSubGroups(ctx, `sg.group_id = $1`, id)
	if err != nil {
		return nil, err
	}
	g.SubGroups = subs
	return &g, nil
}

func (s *Store) CreateGroup(ctx context.Context, group domain.Group) (*domain.Group, error) {
	if strings.TrimSpace(group.Name) == "" {
		return nil, fmt.Errorf("%w: group name is required", store.ErrInvalidInput)
	}
	if group.ID == "" {
		group.ID = xid.New("grp")
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_groups (id, name, description, active, product_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, group.ID, group.Name, group.Description, group.Active, nullIfEmpty(group.ProductID), group.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: group %s already exists", store.ErrConflict, group.ID)
		}
		return nil, err
	}
	group.SubGroups = nil
	return &group, nil
}

func (s *Store) UpdateGroup(ctx context.Context, group domain.Group) (*domain.Group, error) {
	if strings.TrimSpace(group.Name) == "" {
		return nil, fmt.Errorf("%w: group name is required", store.ErrInvalidInput)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE product_groups
		SET name = $2, description = $3, active = $4, product_id = $5, updated_at = now()
		WHERE id = $1
	`, group.ID, group.Name, group.Description, group.Active, nullIfEmpty(group.ProductID))
	if err != nil {
		return nil, err
	}
	if err := expectAffected(res); err != nil {
		return nil, err
	}
	return s.GetGroup(ctx, group.ID)
}

func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM product_groups WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) ListSubGroups(ctx context.Context, groupID string) ([]domain.SubGroup, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM product_groups WHERE id = $1)`, groupID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	return s.loadSubGroups(ctx, `sg.group_id = $1`, groupID)
}

func (s *Store) GetSubGroup(ctx context.Context, id string) (*domain.SubGroup, error) {
	subs, err := s.loadSubGroups(ctx, `sg.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, store.ErrNotFound
	}
	return &subs[0], nil
}

func (s *Store) FindActiveSubGroupsByPrice(ctx context.Context, groupID string, price decimal.Decimal) ([]domain.SubGroup, error) {
	return s.loadSubGroups(ctx, `sg.group_id = $1 AND sg.active = true AND sg.price = $2`, groupID, price)
}

// loadSubGroups reads sub-groups matching where, then their components in a
// second query.
func (s *Store) loadSubGroups(ctx context.Context, where string, args ...any) ([]domain.SubGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sg.id, sg.group_id, g.name, sg.name, sg.price, sg.active, sg.sequence,
			COALESCE(sg.product_id,''), sg.created_at
		FROM product_sub_groups sg
		JOIN product_groups g ON g.id = sg.group_id
		WHERE `+where+`
		ORDER BY sg.sequence, sg.price, sg.created_at, sg.id
	`, args...)
	if err != nil {
		return nil, err
	}

	subs := make([]domain.SubGroup, 0, 4)
	index := make(map[string]int)
	ids := make([]string, 0, 4)
	for rows.Next() {
		var sub domain.SubGroup
		if err := rows.Scan(&sub.ID, &sub.GroupID, &sub.GroupName, &sub.Name, &sub.Price, &sub.Active,
			&sub.Sequence, &sub.ProductID, &sub.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		sub.CreatedAt = sub.CreatedAt.UTC()
		sub.Components = []domain.Component{}
		index[sub.ID] = len(subs)
		ids = append(ids, sub.ID)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return subs, nil
	}

	componentRows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.sub_group_id, c.product_id, COALESCE(p.name,''), c.quantity, c.sequence, c.created_at
		FROM product_sub_group_components c
		LEFT JOIN products p ON p.id = c.product_id
		WHERE c.sub_group_id = ANY($1)
		ORDER BY c.sequence, c.created_at, c.id
	`, ids)
	if err != nil {
		return nil, err
	}
	defer componentRows.Close()

	for componentRows.Next() {
		var c domain.Component
		if err := componentRows.Scan(&c.ID, &c.SubGroupID, &c.ProductID, &c.ProductName, &c.Quantity, &c.Sequence, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		pos := index[c.SubGroupID]
		subs[pos].Components = append(subs[pos].Components, c)
	}
	if err := componentRows.Err(); err != nil {
		return nil, err
	}
	return subs, nil
}

func (s *Store) CreateSubGroup(ctx context.Context, sub domain.SubGroup) (*domain.SubGroup, error) {
	if err := validateSubGroup(sub); err != nil {
		return nil, err
	}
	if sub.ID == "" {
		sub.ID = xid.New("sg")
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_sub_groups (id, group_id, name, price, active, sequence, product_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
	`, sub.ID, sub.GroupID, sub.Name, sub.Price, sub.Active, sub.Sequence, nullIfEmpty(sub.ProductID), sub.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: group %s", store.ErrNotFound, sub.GroupID)
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sub-group %s already exists", store.ErrConflict, sub.ID)
		}
		return nil, err
	}
	return s.GetSubGroup(ctx, sub.ID)
}

func (s *Store) UpdateSubGroup(ctx context.Context, sub domain.SubGroup) (*domain.SubGroup, error) {
	if err := validateSubGroup(sub); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE product_sub_groups
		SET name = $2, price = $3, active = $4, sequence = $5, product_id = $6, updated_at = now()
		WHERE id = $1
	`, sub.ID, sub.Name, sub.Price, sub.Active, sub.Sequence, nullIfEmpty(sub.ProductID))
	if err != nil {
		return nil, err
	}
	if err := expectAffected(res); err != nil {
		return nil, err
	}
	return s.GetSubGroup(ctx, sub.ID)
}

func (s *Store) DeleteSubGroup(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM product_sub_groups WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) GetComponent(ctx context.Context, id string) (*domain.Component, error) {
	var c domain.Component
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.sub_group_id, c.product_id, COALESCE(p.name,''), c.quantity, c.sequence, c.created_at
		FROM product_sub_group_components c
		LEFT JOIN products p ON p.id = c.product_id
		WHERE c.id = $1
	`, id).Scan(&c.ID, &c.SubGroupID, &c.ProductID, &c.ProductName, &c.Quantity, &c.Sequence, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) CreateComponent(ctx context.Context, component domain.Component) (*domain.Component, error) {
	if !component.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: component quantity must be greater than zero", store.ErrInvalidInput)
	}
	if component.ID == "" {
		component.ID = xid.New("cmp")
	}
	if component.CreatedAt.IsZero() {
		component.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_sub_group_components (id, sub_group_id, product_id, quantity, sequence, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, component.ID, component.SubGroupID, component.ProductID, component.Quantity, component.Sequence, component.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: sub-group %s or product %s", store.ErrNotFound, component.SubGroupID, component.ProductID)
		}
		return nil, err
	}
	return s.GetComponent(ctx, component.ID)
}

func (s *Store) UpdateComponent(ctx context.Context, component domain.Component) (*domain.Component, error) {
	if !component.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: component quantity must be greater than zero", store.ErrInvalidInput)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE product_sub_group_components
		SET quantity = $2, sequence = $3
		WHERE id = $1
	`, component.ID, component.Quantity, component.Sequence)
	if err != nil {
		return nil, err
	}
	if err := expectAffected(res); err != nil {
		return nil, err
	}
	return s.GetComponent(ctx, component.ID)
}

func (s *Store) DeleteComponent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM product_sub_group_components WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) SubGroupIDsUsingProduct(ctx context.Context, productID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT sub_group_id
		FROM product_sub_group_components
		WHERE product_id = $1
		ORDER BY sub_group_id
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0, 4)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) FindOrderByIdempotency(ctx context.Context, key string) (*domain.Order, error) {
	return s.findOrder(ctx, "idempotency_key", key)
}

func (s *Store) FindOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	return s.findOrder(ctx, "id", id)
}

// lineDetail holds the list-shaped parts of an order line, plus whatever
// the terminal sent that has no column.
type lineDetail struct {
	OriginSubGroups   []string                   `json:"origin_sub_group_names,omitempty"`
	AttributeValueIDs []string                   `json:"attribute_value_ids,omitempty"`
	PackLotIDs        []string                   `json:"pack_lot_ids,omitempty"`
	Sources           []domain.ComponentSource   `json:"component_sources,omitempty"`
	Extra             map[string]json.RawMessage `json:"extra,omitempty"`
	Raw               json.RawMessage            `json:"raw,omitempty"`
	DecodeError       string                     `json:"decode_error,omitempty"`
}

func (s *Store) findOrder(ctx context.Context, column string, value string) (*domain.Order, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	var order domain.Order
	query := fmt.Sprintf(`
		SELECT id, store_id, terminal_id, idempotency_key, cashier_username, amount_total, created_at
		FROM pos_orders
		WHERE %s = $1
	`, column)
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&order.ID,
		&order.StoreID,
		&order.TerminalID,
		&order.IdempotencyKey,
		&order.CashierUsername,
		&order.AmountTotal,
		&order.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	order.CreatedAt = order.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT uuid, product_id, full_product_name, qty, price_unit, discount,
			price_subtotal, price_subtotal_incl, price_total,
			COALESCE(sub_group_id,''), COALESCE(group_id,''), is_component,
			origin_group_name, origin_sub_group_name, note, detail
		FROM pos_order_lines
		WHERE order_id = $1
		ORDER BY position ASC
	`, order.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0, 8)
	for rows.Next() {
		var line domain.OrderLine
		var rawDetail []byte
		if err := rows.Scan(
			&line.UUID, &line.ProductID, &line.FullProductName, &line.Qty, &line.UnitPrice, &line.Discount,
			&line.Subtotal, &line.SubtotalInclTax, &line.Total,
			&line.SubGroupID, &line.GroupID, &line.IsComponent,
			&line.OriginGroupName, &line.OriginSubGroup, &line.Note, &rawDetail,
		); err != nil {
			return nil, err
		}
		var detail lineDetail
		if len(rawDetail) > 0 {
			if err := json.Unmarshal(rawDetail, &detail); err != nil {
				return nil, fmt.Errorf("decode line detail: %w", err)
			}
		}
		line.OriginSubGroups = detail.OriginSubGroups
		line.AttributeValueIDs = detail.AttributeValueIDs
		line.PackLotIDs = detail.PackLotIDs
		line.Sources = detail.Sources
		line.Extra = detail.Extra
		line.Raw = detail.Raw
		line.DecodeError = detail.DecodeError
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	order.Lines = lines
	return &order, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if strings.TrimSpace(order.IdempotencyKey) == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", store.ErrInvalidInput)
	}
	if len(order.Lines) == 0 {
		return nil, fmt.Errorf("%w: order has no lines", store.ErrInvalidInput)
	}
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO pos_orders (id, store_id, terminal_id, idempotency_key, cashier_username, amount_total, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, order.ID, order.StoreID, order.TerminalID, order.IdempotencyKey, order.CashierUsername, order.AmountTotal, order.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			_ = pgTx.Rollback()
			return s.FindOrderByIdempotency(ctx, order.IdempotencyKey)
		}
		return nil, err
	}

	for i, line := range order.Lines {
		detail, err := json.Marshal(lineDetail{
			OriginSubGroups:   line.OriginSubGroups,
			AttributeValueIDs: line.AttributeValueIDs,
			PackLotIDs:        line.PackLotIDs,
			Sources:           line.Sources,
			Extra:             line.Extra,
			Raw:               line.Raw,
			DecodeError:       line.DecodeError,
		})
		if err != nil {
			return nil, err
		}
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO pos_order_lines (
				order_id, position, uuid, product_id, full_product_name, qty, price_unit, discount,
				price_subtotal, price_subtotal_incl, price_total, sub_group_id, group_id, is_component,
				origin_group_name, origin_sub_group_name, note, detail
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		`, order.ID, i, line.UUID, line.ProductID, line.FullProductName, line.Qty, line.UnitPrice, line.Discount,
			line.Subtotal, line.SubtotalInclTax, line.Total, nullIfEmpty(line.SubGroupID), nullIfEmpty(line.GroupID), line.IsComponent,
			line.OriginGroupName, line.OriginSubGroup, line.Note, detail)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	created := order
	return &created, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE store_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username already exists", store.ErrConflict)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	return expectAffected(res)
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

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func uniqueIDs(ids []string) []string {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
