package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Migration is one forward schema step.
type Migration struct {
	Version string
	Up      string
}

var AllMigrations = []Migration{
	{Version: "1.0.0", Up: migrationV1Up},
	{Version: "1.1.0", Up: migrationV1_1Up},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	list_price NUMERIC(14,4) NOT NULL DEFAULT 0 CHECK (list_price >= 0),
	active BOOLEAN NOT NULL DEFAULT true,
	available_in_pos BOOLEAN NOT NULL DEFAULT true,
	is_group_product BOOLEAN NOT NULL DEFAULT false,
	group_id TEXT,
	is_sub_group_product BOOLEAN NOT NULL DEFAULT false,
	sub_group_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS product_groups (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	active BOOLEAN NOT NULL DEFAULT true,
	product_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS product_sub_groups (
	id TEXT PRIMARY KEY,
	group_id TEXT NOT NULL REFERENCES product_groups(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	price NUMERIC(14,2) NOT NULL CHECK (price >= 0),
	active BOOLEAN NOT NULL DEFAULT true,
	sequence INTEGER NOT NULL DEFAULT 10,
	product_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sub_groups_group_price ON product_sub_groups(group_id, price) WHERE active;

CREATE TABLE IF NOT EXISTS product_sub_group_components (
	id TEXT PRIMARY KEY,
	sub_group_id TEXT NOT NULL REFERENCES product_sub_groups(id) ON DELETE CASCADE,
	product_id TEXT NOT NULL REFERENCES products(id),
	quantity NUMERIC(14,4) NOT NULL CHECK (quantity > 0),
	sequence INTEGER NOT NULL DEFAULT 10,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_components_sub_group ON product_sub_group_components(sub_group_id);
CREATE INDEX IF NOT EXISTS idx_components_product ON product_sub_group_components(product_id);

CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	store_id TEXT NOT NULL,
	actor_username TEXT NOT NULL,
	actor_role TEXT NOT NULL,
	action TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_store_created ON audit_logs(store_id, created_at DESC);

CREATE TABLE IF NOT EXISTS app_users (
	username TEXT PRIMARY KEY,
	password TEXT NOT NULL,
	role TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const migrationV1_1Up = `
CREATE TABLE IF NOT EXISTS pos_orders (
	id TEXT PRIMARY KEY,
	store_id TEXT NOT NULL,
	terminal_id TEXT NOT NULL,
	idempotency_key TEXT NOT NULL UNIQUE,
	cashier_username TEXT NOT NULL DEFAULT '',
	amount_total NUMERIC(14,2) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pos_order_lines (
	order_id TEXT NOT NULL REFERENCES pos_orders(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	uuid TEXT NOT NULL DEFAULT '',
	product_id TEXT NOT NULL,
	full_product_name TEXT NOT NULL DEFAULT '',
	qty NUMERIC(14,4) NOT NULL,
	price_unit NUMERIC(18,6) NOT NULL,
	discount NUMERIC(5,2) NOT NULL DEFAULT 0,
	price_subtotal NUMERIC(14,2) NOT NULL,
	price_subtotal_incl NUMERIC(14,2) NOT NULL,
	price_total NUMERIC(14,2) NOT NULL,
	sub_group_id TEXT,
	group_id TEXT,
	is_component BOOLEAN NOT NULL DEFAULT false,
	origin_group_name TEXT NOT NULL DEFAULT '',
	origin_sub_group_name TEXT NOT NULL DEFAULT '',
	note TEXT NOT NULL DEFAULT '',
	detail JSONB NOT NULL DEFAULT '{}'::jsonb,
	PRIMARY KEY (order_id, position)
);

CREATE INDEX IF NOT EXISTS idx_order_lines_product ON pos_order_lines(product_id);
`

// ApplyMigrations runs every migration newer than the recorded schema
// version, each in its own transaction.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	current, err := currentSchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		version, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}
		if !current.LessThan(version) {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		current = version
	}
	return nil
}

func currentSchemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return nil, fmt.Errorf("read schema_version: %w", err)
	}
	defer rows.Close()

	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %q: %w", raw, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return current, nil
}
