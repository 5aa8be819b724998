package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/preloved-shop/internal/events"
)

const (
	claimOutboxSQL = `SELECT id, event_type, payload, attempts
		FROM outbox
		WHERE status <> 'sent' AND next_retry <= NOW()
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	leaseOutboxSQL = `UPDATE outbox SET status = 'processing', next_retry = $2, updated_at = NOW()
		WHERE id = ANY($1)`

	markOutboxSentSQL = `UPDATE outbox SET status = 'sent', updated_at = NOW() WHERE id = $1`

	markOutboxFailedSQL = `UPDATE outbox SET status = 'pending', attempts = attempts + 1,
		next_retry = $2, updated_at = NOW()
		WHERE id = $1`
)

var _ events.Store = (*OutboxRepository)(nil)

// OutboxRepository implements events.Store backed by PostgreSQL.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository returns an OutboxRepository that uses the given pool.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// Claim locks due records, skipping rows held by other dispatchers, and
// leases them until now+lease.
func (r *OutboxRepository) Claim(ctx context.Context, limit int, lease time.Duration) ([]events.Record, error) {
	var records []events.Record
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, claimOutboxSQL, limit)
		if err != nil {
			return err
		}
		records, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (events.Record, error) {
			var rec events.Record
			err := row.Scan(&rec.ID, &rec.EventType, &rec.Payload, &rec.Attempts)
			return rec, err
		})
		if err != nil || len(records) == 0 {
			return err
		}

		ids := make([]int64, len(records))
		for i, rec := range records {
			ids[i] = rec.ID
		}
		_, err = tx.Exec(ctx, leaseOutboxSQL, ids, time.Now().Add(lease))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("claiming outbox records: %w", err)
	}
	return records, nil
}

// MarkSent marks a record as delivered.
func (r *OutboxRepository) MarkSent(ctx context.Context, id int64) error {
	if _, err := r.pool.Exec(ctx, markOutboxSentSQL, id); err != nil {
		return fmt.Errorf("marking outbox record %d sent: %w", id, err)
	}
	return nil
}

// MarkFailed releases a record for another attempt at nextRetry.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, nextRetry time.Time) error {
	if _, err := r.pool.Exec(ctx, markOutboxFailedSQL, id, nextRetry); err != nil {
		return fmt.Errorf("marking outbox record %d failed: %w", id, err)
	}
	return nil
}
