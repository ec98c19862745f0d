package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu        sync.Mutex
	events    []Event
	published map[int64]time.Time
	err       error
}

func (f *fakeRepo) Enqueue(_ context.Context, e *Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = int64(len(f.events) + 1)
	f.events = append(f.events, *e)
	return nil
}

func (f *fakeRepo) Pending(_ context.Context, limit int) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []Event
	for _, e := range f.events {
		if _, ok := f.published[e.ID]; ok {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepo) MarkPublished(_ context.Context, ids []int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published == nil {
		f.published = map[int64]time.Time{}
	}
	for _, id := range ids {
		f.published[id] = at
	}
	return nil
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func enqueueN(t *testing.T, repo *fakeRepo, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, repo.Enqueue(context.Background(), &Event{
			AggregateID: "ORD-AAAAAAAAAA",
			Type:        "order.placed",
			Payload:     []byte(`{"n":1}`),
		}))
	}
}

func TestRelay_Flush(t *testing.T) {
	repo := &fakeRepo{}
	enqueueN(t, repo, 5)
	w := &fakeWriter{}

	r := NewRelay(repo, NewKafkaPublisher(w), time.Second, 2)
	n, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Len(t, w.msgs, 5)
	assert.Len(t, repo.published, 5)

	msg := w.msgs[0]
	assert.Equal(t, "ORD-AAAAAAAAAA", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, HeaderEventType, msg.Headers[0].Key)
	assert.Equal(t, "order.placed", string(msg.Headers[0].Value))

	n, err = r.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelay_PublishFailureKeepsEvents(t *testing.T) {
	repo := &fakeRepo{}
	enqueueN(t, repo, 3)
	w := &fakeWriter{err: errors.New("broker down")}

	r := NewRelay(repo, NewKafkaPublisher(w), time.Second, 10)
	n, err := r.Flush(context.Background())
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Empty(t, repo.published)

	w.err = nil
	n, err = r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRelay_PendingError(t *testing.T) {
	repo := &fakeRepo{err: errors.New("db down")}
	r := NewRelay(repo, NewKafkaPublisher(&fakeWriter{}), 0, 0)
	_, err := r.Flush(context.Background())
	require.ErrorContains(t, err, "load pending")
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	repo := &fakeRepo{}
	enqueueN(t, repo, 1)
	w := &fakeWriter{}
	r := NewRelay(repo, NewKafkaPublisher(w), 10*time.Millisecond, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return len(w.msgs) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestKafkaPublisher_Empty(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w)
	require.NoError(t, p.Publish(context.Background()))
	assert.Empty(t, w.msgs)
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

type countingTx struct{ calls int }

func (c *countingTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	c.calls++
	return fn(ctx)
}

func TestRelay_BatchesRunInTransaction(t *testing.T) {
	repo := &fakeRepo{}
	enqueueN(t, repo, 3)
	tx := &countingTx{}

	r := NewRelay(repo, NewKafkaPublisher(&fakeWriter{}), time.Second, 2).WithTransactor(tx)
	n, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, tx.calls)
}
