package memory

import (
	"context"
	"time"

	"github.com/xenking/storefront/internal/outbox"
)

// Outbox implements outbox.Repository.
type Outbox struct{ *Store }

func (s Outbox) Enqueue(ctx context.Context, e *outbox.Event) error {
	defer s.lock(ctx)()
	e.ID = s.d.nextID()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.d.events = append(s.d.events, *e)
	return nil
}

func (s Outbox) Pending(ctx context.Context, limit int) ([]outbox.Event, error) {
	defer s.lock(ctx)()
	var out []outbox.Event
	for _, e := range s.d.events {
		if e.PublishedAt != nil {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s Outbox) MarkPublished(ctx context.Context, ids []int64, at time.Time) error {
	defer s.lock(ctx)()
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	events := make([]outbox.Event, len(s.d.events))
	for i, e := range s.d.events {
		if _, ok := want[e.ID]; ok && e.PublishedAt == nil {
			e.PublishedAt = &at
		}
		events[i] = e
	}
	s.d.events = events
	return nil
}
