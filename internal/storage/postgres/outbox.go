package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/outbox"
)

const (
	enqueueEventSQL = `INSERT INTO outbox_events (aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3::jsonb, $4) RETURNING id`
	// SKIP LOCKED lets several relays drain the table without double sends
	// while a batch is in flight.
	pendingEventsSQL = `SELECT id, aggregate_id, event_type, payload::text, created_at
		FROM outbox_events WHERE published_at IS NULL ORDER BY id LIMIT $1 FOR UPDATE SKIP LOCKED`
	markPublishedSQL = `UPDATE outbox_events SET published_at = $2 WHERE id = ANY($1) AND published_at IS NULL`
)

var _ outbox.Repository = (*OutboxRepository)(nil)

// OutboxRepository implements outbox.Repository backed by PostgreSQL.
type OutboxRepository struct {
	db *DB
}

// NewOutboxRepository returns an OutboxRepository that uses db.
func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Enqueue(ctx context.Context, e *outbox.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	err := r.db.q(ctx).QueryRow(ctx, enqueueEventSQL, e.AggregateID, e.Type, string(e.Payload), e.CreatedAt).
		Scan(&e.ID)
	if err != nil {
		return errors.Wrapf(err, "enqueue %s", e.Type)
	}
	return nil
}

func (r *OutboxRepository) Pending(ctx context.Context, limit int) ([]outbox.Event, error) {
	rows, err := r.db.q(ctx).Query(ctx, pendingEventsSQL, limit)
	if err != nil {
		return nil, errors.Wrap(err, "pending events")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (outbox.Event, error) {
		var (
			e       outbox.Event
			payload string
		)
		err := row.Scan(&e.ID, &e.AggregateID, &e.Type, &payload, &e.CreatedAt)
		e.Payload = []byte(payload)
		return e, err
	})
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, ids []int64, at time.Time) error {
	if _, err := r.db.q(ctx).Exec(ctx, markPublishedSQL, ids, at); err != nil {
		return errors.Wrap(err, "mark published")
	}
	return nil
}
