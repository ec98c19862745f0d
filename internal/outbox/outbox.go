// Package outbox stores domain events in the same transaction as the state
// change that produced them and relays them to Kafka afterwards.
package outbox

import (
	"context"
	"time"
)

// Event is a pending or published domain event.
type Event struct {
	ID int64
	// AggregateID is used as the message key so events of one aggregate stay
	// ordered within a partition.
	AggregateID string
	Type        string
	// Payload is the JSON encoded event body.
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// Enqueuer appends events to the outbox. Called inside the transaction of
// the state change.
type Enqueuer interface {
	Enqueue(ctx context.Context, e *Event) error
}

// Repository is the outbox table.
type Repository interface {
	Enqueuer
	// Pending returns up to limit unpublished events, oldest first.
	Pending(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids []int64, at time.Time) error
}

// Publisher delivers events to a broker.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}
