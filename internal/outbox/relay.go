package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Relay periodically moves pending events from the Repository to a Publisher.
type Relay struct {
	repo     Repository
	tx       Transactor
	pub      Publisher
	interval time.Duration
	batch    int
	now      func() time.Time
}

// NewRelay creates a Relay. Non-positive interval and batch fall back to one
// second and 100 events.
func NewRelay(repo Repository, pub Publisher, interval time.Duration, batch int) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Relay{repo: repo, pub: pub, interval: interval, batch: batch, now: time.Now}
}

// Transactor runs fn in a database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// WithTransactor makes every batch load, publish and mark inside one
// transaction, so rows locked by Pending stay locked until they are marked.
func (r *Relay) WithTransactor(tx Transactor) *Relay {
	r.tx = tx
	return r
}

// Run flushes on every tick until ctx is canceled. Flush failures are logged
// and retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	lg := zctx.From(ctx).Named("outbox")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.Flush(ctx)
			if err != nil {
				lg.Warn("Flush outbox", zap.Error(err))
				continue
			}
			if n > 0 {
				lg.Debug("Published events", zap.Int("count", n))
			}
		}
	}
}

// Flush publishes pending events until the outbox is drained or a batch
// fails, returning the number of published events. Events are marked only
// after the broker accepted them, so delivery is at least once.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.batchOnce(ctx)
		total += n
		if err != nil || n < r.batch {
			return total, err
		}
	}
}

func (r *Relay) batchOnce(ctx context.Context) (int, error) {
	var published int
	fn := func(ctx context.Context) error {
		events, err := r.repo.Pending(ctx, r.batch)
		if err != nil {
			return errors.Wrap(err, "load pending")
		}
		if len(events) == 0 {
			return nil
		}
		if err := r.pub.Publish(ctx, events...); err != nil {
			return errors.Wrap(err, "publish")
		}
		ids := make([]int64, len(events))
		for i, e := range events {
			ids[i] = e.ID
		}
		if err := r.repo.MarkPublished(ctx, ids, r.now()); err != nil {
			return errors.Wrap(err, "mark published")
		}
		published = len(events)
		return nil
	}
	if r.tx == nil {
		return published, fn(ctx)
	}
	if err := r.tx.InTx(ctx, fn); err != nil {
		return 0, err
	}
	return published, nil
}
