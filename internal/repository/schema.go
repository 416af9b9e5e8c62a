package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the relational model. Orders keep line items inline as
// JSONB since lines are only ever read with their order; reservations
// get their own table because the expirer queries them across products.
const Schema = `
CREATE TABLE IF NOT EXISTS products (
	id                  UUID PRIMARY KEY,
	name                TEXT NOT NULL,
	active              BOOLEAN NOT NULL DEFAULT TRUE,
	category            TEXT NOT NULL DEFAULT '',
	total_quantity      BIGINT NOT NULL CHECK (total_quantity >= 0),
	available_quantity  BIGINT NOT NULL CHECK (available_quantity >= 0),
	reserved_quantity   BIGINT NOT NULL CHECK (reserved_quantity >= 0),
	low_stock_threshold BIGINT NOT NULL DEFAULT 0,
	version             BIGINT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL,
	CHECK (total_quantity = available_quantity + reserved_quantity)
);

CREATE INDEX IF NOT EXISTS idx_products_available ON products(available_quantity);
CREATE INDEX IF NOT EXISTS idx_products_active_category ON products(active, category);

CREATE TABLE IF NOT EXISTS reservations (
	id           UUID PRIMARY KEY,
	product_id   UUID NOT NULL REFERENCES products(id),
	order_id     UUID NOT NULL,
	quantity     BIGINT NOT NULL CHECK (quantity > 0),
	state        TEXT NOT NULL,
	warehouse_id TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reservations_product ON reservations(product_id);
CREATE INDEX IF NOT EXISTS idx_reservations_order ON reservations(order_id, state);
CREATE INDEX IF NOT EXISTS idx_reservations_expiry
	ON reservations(expires_at) WHERE state = 'ACTIVE';

CREATE TABLE IF NOT EXISTS orders (
	id                  UUID PRIMARY KEY,
	customer_id         UUID NOT NULL,
	status              TEXT NOT NULL,
	items               JSONB NOT NULL,
	total_amount        NUMERIC(18,2) NOT NULL,
	currency            CHAR(3) NOT NULL,
	payment_id          UUID,
	cancellation_reason TEXT NOT NULL DEFAULT '',
	cancelled_by        TEXT NOT NULL DEFAULT '',
	idempotency_key     TEXT NOT NULL DEFAULT '',
	content_hash        TEXT NOT NULL,
	paid_at             TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL,
	last_modified_at    TIMESTAMPTZ NOT NULL,
	version             BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_customer_created
	ON orders(customer_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_customer_hash
	ON orders(customer_id, content_hash, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_idempotency
	ON orders(customer_id, idempotency_key) WHERE idempotency_key <> '';

CREATE TABLE IF NOT EXISTS processed_events (
	consumer_group TEXT NOT NULL,
	event_id       UUID NOT NULL,
	aggregate_id   TEXT NOT NULL,
	processed_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (consumer_group, event_id, aggregate_id)
);

CREATE INDEX IF NOT EXISTS idx_processed_events_age ON processed_events(processed_at);
`

// EnsureSchema applies the schema idempotently at boot
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
