package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresUnitOfWork binds the repository set to one transaction so a
// handler's state change and its processed-event row commit atomically.
type PostgresUnitOfWork struct {
	pool *pgxpool.Pool
}

// NewPostgresUnitOfWork creates a unit of work on the pool
func NewPostgresUnitOfWork(pool *pgxpool.Pool) *PostgresUnitOfWork {
	return &PostgresUnitOfWork{pool: pool}
}

// NewPostgresRepositories returns the repository set bound to the pool,
// for callers that do not need a shared transaction.
func NewPostgresRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Products:        NewPostgresProductRepository(pool),
		Orders:          NewPostgresOrderRepository(pool),
		ProcessedEvents: NewPostgresProcessedEventRepository(pool),
	}
}

func (u *PostgresUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, repos *Repositories) error) error {
	tx, err := u.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	repos := &Repositories{
		Products:        NewPostgresProductRepository(tx),
		Orders:          NewPostgresOrderRepository(tx),
		ProcessedEvents: NewPostgresProcessedEventRepository(tx),
	}

	if err := fn(ctx, repos); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
