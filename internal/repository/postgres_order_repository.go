package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxmart/core/internal/domain"
)

// PostgresOrderRepository persists the order aggregate. Line items ride
// along as JSONB; they are never queried apart from their order.
type PostgresOrderRepository struct {
	db Querier
}

// NewPostgresOrderRepository creates an order repository on a pool or tx
func NewPostgresOrderRepository(db Querier) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

const orderColumns = `
	id, customer_id, status, items, total_amount::text, currency,
	payment_id, cancellation_reason, cancelled_by, idempotency_key,
	content_hash, paid_at, created_at, last_modified_at, version
`

func (r *PostgresOrderRepository) Create(ctx context.Context, o *domain.Order) error {
	ctx, span := tracer.Start(ctx, "OrderRepository.Create",
		trace.WithAttributes(attribute.String("order.id", o.ID.String())))
	defer span.End()

	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("failed to encode order items: %w", err)
	}

	var paymentID *string
	if o.PaymentID != nil {
		s := o.PaymentID.String()
		paymentID = &s
	}

	query := `
		INSERT INTO orders (
			id, customer_id, status, items, total_amount, currency,
			payment_id, cancellation_reason, cancelled_by, idempotency_key,
			content_hash, paid_at, created_at, last_modified_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = r.db.Exec(ctx, query,
		o.ID.String(), o.CustomerID.String(), o.Status.String(), items,
		o.TotalAmount.Amount(), o.TotalAmount.Currency(),
		paymentID, o.CancellationReason, string(o.CancelledBy), o.IdempotencyKey,
		o.ContentHash, o.PaidAt, o.CreatedAt, o.LastModifiedAt, o.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (r *PostgresOrderRepository) GetByID(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderRepository.GetByID",
		trace.WithAttributes(attribute.String("order.id", id.String())))
	defer span.End()

	row := r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id.String())
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	return o, err
}

func (r *PostgresOrderRepository) Update(ctx context.Context, o *domain.Order, expectedVersion int64) error {
	ctx, span := tracer.Start(ctx, "OrderRepository.Update",
		trace.WithAttributes(
			attribute.String("order.id", o.ID.String()),
			attribute.Int64("order.version", o.Version)))
	defer span.End()

	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("failed to encode order items: %w", err)
	}

	var paymentID *string
	if o.PaymentID != nil {
		s := o.PaymentID.String()
		paymentID = &s
	}

	query := `
		UPDATE orders SET
			status = $2, items = $3, total_amount = $4,
			payment_id = $5, cancellation_reason = $6, cancelled_by = $7,
			paid_at = $8, last_modified_at = $9, version = $10
		WHERE id = $1 AND version = $11
	`
	tag, err := r.db.Exec(ctx, query,
		o.ID.String(), o.Status.String(), items, o.TotalAmount.Amount(),
		paymentID, o.CancellationReason, string(o.CancelledBy),
		o.PaidAt, o.LastModifiedAt, o.Version, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: order %s at version %d", domain.ErrConcurrencyConflict, o.ID, expectedVersion)
	}
	return nil
}

func (r *PostgresOrderRepository) FindDuplicate(ctx context.Context, customerID domain.CustomerID, contentHash string, since time.Time) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderRepository.FindDuplicate")
	defer span.End()

	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE customer_id = $1 AND content_hash = $2 AND created_at >= $3
		  AND status NOT IN ('CANCELLED', 'REFUNDED', 'FAILED', 'COMPLETED')
		ORDER BY created_at DESC
		LIMIT 1
	`
	row := r.db.QueryRow(ctx, query, customerID.String(), contentHash, since)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	return o, err
}

func (r *PostgresOrderRepository) GetByIdempotencyKey(ctx context.Context, customerID domain.CustomerID, key string) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderRepository.GetByIdempotencyKey")
	defer span.End()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE customer_id = $1 AND idempotency_key = $2`
	row := r.db.QueryRow(ctx, query, customerID.String(), key)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	return o, err
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		idStr, customerStr, status, currency string
		items                                []byte
		totalStr                             string
		paymentID, cancelledBy               *string
		cancellationReason, idemKey, hash    string
		paidAt                               *time.Time
	)
	o := &domain.Order{}
	err := row.Scan(
		&idStr, &customerStr, &status, &items, &totalStr, &currency,
		&paymentID, &cancellationReason, &cancelledBy, &idemKey,
		&hash, &paidAt, &o.CreatedAt, &o.LastModifiedAt, &o.Version,
	)
	if err != nil {
		return nil, err
	}

	if o.ID, err = domain.ParseOrderID(idStr); err != nil {
		return nil, err
	}
	if o.CustomerID, err = domain.ParseCustomerID(customerStr); err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("failed to decode order items: %w", err)
	}
	if o.TotalAmount, err = domain.NewMoney(totalStr, currency); err != nil {
		return nil, err
	}
	if paymentID != nil {
		pid, err := domain.ParsePaymentID(*paymentID)
		if err != nil {
			return nil, err
		}
		o.PaymentID = &pid
	}
	o.CancellationReason = cancellationReason
	if cancelledBy != nil {
		o.CancelledBy = domain.CancelledByType(*cancelledBy)
	}
	o.IdempotencyKey = idemKey
	o.ContentHash = hash
	o.PaidAt = paidAt
	return o, nil
}
