package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxmart/core/internal/domain"
)

// Querier is the pgx surface shared by pgxpool.Pool and pgx.Tx, so the
// same repository code runs standalone or inside a unit of work.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var tracer = otel.Tracer("fluxmart/repository")

// PostgresProductRepository persists the product aggregate across the
// products and reservations tables.
type PostgresProductRepository struct {
	db Querier
}

// NewPostgresProductRepository creates a product repository on a pool or tx
func NewPostgresProductRepository(db Querier) *PostgresProductRepository {
	return &PostgresProductRepository{db: db}
}

func (r *PostgresProductRepository) Create(ctx context.Context, p *domain.Product) error {
	ctx, span := tracer.Start(ctx, "ProductRepository.Create",
		trace.WithAttributes(attribute.String("product.id", p.ID.String())))
	defer span.End()

	query := `
		INSERT INTO products (
			id, name, active, category,
			total_quantity, available_quantity, reserved_quantity,
			low_stock_threshold, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Exec(ctx, query,
		p.ID.String(), p.Name, p.Active, p.Category,
		p.Stock.Total.Int64(), p.Stock.Available.Int64(), p.Stock.Reserved.Int64(),
		p.LowStockThreshold.Int64(), p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

func (r *PostgresProductRepository) GetByID(ctx context.Context, id domain.ProductID) (*domain.Product, error) {
	ctx, span := tracer.Start(ctx, "ProductRepository.GetByID",
		trace.WithAttributes(attribute.String("product.id", id.String())))
	defer span.End()

	query := `
		SELECT id, name, active, category,
		       total_quantity, available_quantity, reserved_quantity,
		       low_stock_threshold, version, created_at, updated_at
		FROM products
		WHERE id = $1
	`

	var (
		idStr                      string
		total, available, reserved int64
		threshold                  int64
	)
	p := &domain.Product{Reservations: make(map[domain.ReservationID]*domain.Reservation)}
	err := r.db.QueryRow(ctx, query, id.String()).Scan(
		&idStr, &p.Name, &p.Active, &p.Category,
		&total, &available, &reserved,
		&threshold, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	if p.ID, err = domain.ParseProductID(idStr); err != nil {
		return nil, err
	}
	if p.Stock.Total, err = domain.NewQuantity(total); err != nil {
		return nil, err
	}
	if p.Stock.Available, err = domain.NewQuantity(available); err != nil {
		return nil, err
	}
	if p.Stock.Reserved, err = domain.NewQuantity(reserved); err != nil {
		return nil, err
	}
	if p.LowStockThreshold, err = domain.NewQuantity(threshold); err != nil {
		return nil, err
	}

	if err := r.loadReservations(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PostgresProductRepository) loadReservations(ctx context.Context, p *domain.Product) error {
	query := `
		SELECT id, order_id, quantity, state, warehouse_id, created_at, expires_at
		FROM reservations
		WHERE product_id = $1
	`
	rows, err := r.db.Query(ctx, query, p.ID.String())
	if err != nil {
		return fmt.Errorf("failed to load reservations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			idStr, orderStr, state string
			quantity               int64
		)
		res := &domain.Reservation{}
		if err := rows.Scan(&idStr, &orderStr, &quantity, &state,
			&res.WarehouseID, &res.CreatedAt, &res.ExpiresAt); err != nil {
			return fmt.Errorf("failed to scan reservation: %w", err)
		}
		if res.ID, err = domain.ParseReservationID(idStr); err != nil {
			return err
		}
		if res.OrderID, err = domain.ParseOrderID(orderStr); err != nil {
			return err
		}
		if res.Quantity, err = domain.NewQuantity(quantity); err != nil {
			return err
		}
		res.State = domain.ReservationState(state)
		p.Reservations[res.ID] = res
	}
	return rows.Err()
}

// Update writes the aggregate conditional on the version the caller
// loaded. Zero affected rows means another writer won the race.
func (r *PostgresProductRepository) Update(ctx context.Context, p *domain.Product, expectedVersion int64) error {
	ctx, span := tracer.Start(ctx, "ProductRepository.Update",
		trace.WithAttributes(
			attribute.String("product.id", p.ID.String()),
			attribute.Int64("product.version", p.Version)))
	defer span.End()

	query := `
		UPDATE products SET
			name = $2, active = $3, category = $4,
			total_quantity = $5, available_quantity = $6, reserved_quantity = $7,
			low_stock_threshold = $8, version = $9, updated_at = $10
		WHERE id = $1 AND version = $11
	`
	tag, err := r.db.Exec(ctx, query,
		p.ID.String(), p.Name, p.Active, p.Category,
		p.Stock.Total.Int64(), p.Stock.Available.Int64(), p.Stock.Reserved.Int64(),
		p.LowStockThreshold.Int64(), p.Version, p.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %s at version %d", domain.ErrConcurrencyConflict, p.ID, expectedVersion)
	}

	return r.saveReservations(ctx, p)
}

func (r *PostgresProductRepository) saveReservations(ctx context.Context, p *domain.Product) error {
	upsert := `
		INSERT INTO reservations (id, product_id, order_id, quantity, state, warehouse_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, expires_at = EXCLUDED.expires_at
	`
	kept := make([]string, 0, len(p.Reservations))
	for _, res := range p.Reservations {
		kept = append(kept, res.ID.String())
		if _, err := r.db.Exec(ctx, upsert,
			res.ID.String(), p.ID.String(), res.OrderID.String(),
			res.Quantity.Int64(), res.State.String(), res.WarehouseID,
			res.CreatedAt, res.ExpiresAt,
		); err != nil {
			return fmt.Errorf("failed to save reservation %s: %w", res.ID, err)
		}
	}

	// Rows removed by compaction disappear from the aggregate map.
	prune := `DELETE FROM reservations WHERE product_id = $1 AND NOT (id = ANY($2::uuid[]))`
	if _, err := r.db.Exec(ctx, prune, p.ID.String(), kept); err != nil {
		return fmt.Errorf("failed to prune reservations: %w", err)
	}
	return nil
}

func (r *PostgresProductRepository) ProductsWithExpiredReservations(ctx context.Context, now time.Time, limit int) ([]domain.ProductID, error) {
	ctx, span := tracer.Start(ctx, "ProductRepository.ProductsWithExpiredReservations")
	defer span.End()

	query := `
		SELECT DISTINCT product_id
		FROM reservations
		WHERE state = 'ACTIVE' AND expires_at <= $1
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired reservations: %w", err)
	}
	defer rows.Close()

	var ids []domain.ProductID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, fmt.Errorf("failed to scan product id: %w", err)
		}
		id, err := domain.ParseProductID(idStr)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresProductRepository) ActiveReservationsForOrder(ctx context.Context, orderID domain.OrderID) ([]OrderReservation, error) {
	return r.reservationsForOrder(ctx, "ProductRepository.ActiveReservationsForOrder", orderID, domain.ReservationActive)
}

func (r *PostgresProductRepository) ConfirmedReservationsForOrder(ctx context.Context, orderID domain.OrderID) ([]OrderReservation, error) {
	return r.reservationsForOrder(ctx, "ProductRepository.ConfirmedReservationsForOrder", orderID, domain.ReservationConfirmed)
}

func (r *PostgresProductRepository) reservationsForOrder(ctx context.Context, spanName string, orderID domain.OrderID, state domain.ReservationState) ([]OrderReservation, error) {
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithAttributes(attribute.String("order.id", orderID.String())))
	defer span.End()

	query := `
		SELECT product_id, id
		FROM reservations
		WHERE order_id = $1 AND state = $2
	`
	rows, err := r.db.Query(ctx, query, orderID.String(), state.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query order reservations: %w", err)
	}
	defer rows.Close()

	var out []OrderReservation
	for rows.Next() {
		var productStr, resStr string
		if err := rows.Scan(&productStr, &resStr); err != nil {
			return nil, fmt.Errorf("failed to scan order reservation: %w", err)
		}
		var or OrderReservation
		if or.ProductID, err = domain.ParseProductID(productStr); err != nil {
			return nil, err
		}
		if or.ReservationID, err = domain.ParseReservationID(resStr); err != nil {
			return nil, err
		}
		out = append(out, or)
	}
	return out, rows.Err()
}
