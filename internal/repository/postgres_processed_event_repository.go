package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/fluxmart/core/internal/domain"
)

// PostgresProcessedEventRepository is the durable consumer idempotence
// log. Rows are written through the same transaction as the handler's
// state change.
type PostgresProcessedEventRepository struct {
	db Querier
}

// NewPostgresProcessedEventRepository creates the log on a pool or tx
func NewPostgresProcessedEventRepository(db Querier) *PostgresProcessedEventRepository {
	return &PostgresProcessedEventRepository{db: db}
}

func (r *PostgresProcessedEventRepository) MarkProcessed(ctx context.Context, group string, eventID domain.EventID, aggregateID string) (bool, error) {
	query := `
		INSERT INTO processed_events (consumer_group, event_id, aggregate_id, processed_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (consumer_group, event_id, aggregate_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query, group, eventID.String(), aggregateID)
	if err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresProcessedEventRepository) IsProcessed(ctx context.Context, group string, eventID domain.EventID, aggregateID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (
		SELECT 1 FROM processed_events
		WHERE consumer_group = $1 AND event_id = $2 AND aggregate_id = $3
	)`
	if err := r.db.QueryRow(ctx, query, group, eventID.String(), aggregateID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return exists, nil
}

func (r *PostgresProcessedEventRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge processed events: %w", err)
	}
	return tag.RowsAffected(), nil
}
