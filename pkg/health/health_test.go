package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func serve(endpoint http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	endpoint(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func runN(s *state, n int) {
	for range n {
		s.run(context.Background())
	}
}

func TestLiveEndpoint(t *testing.T) {
	h := New()
	h.Add(Liveness, Check{Name: "goroutines", Func: passing})
	h.Add(Liveness, Check{Name: "db", Func: failing("connection refused")})

	w := serve(h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	db := h.checks[Liveness][1]
	runN(db, 2)
	assert.Equal(t, http.StatusOK, serve(h.LiveEndpoint).Code, "below failure threshold")

	runN(db, 1)
	w = serve(h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"db":"connection refused"}}`, w.Body.String())
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.Add(Readiness, Check{Name: "postgres", Func: passing})
	h.Add(Readiness, Check{Name: "redis", Func: failing("i/o timeout"), FailureThreshold: 1})

	w := serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, w.Body.String())
	assert.False(t, h.IsReady())

	h.SetReady(true)
	assert.Equal(t, http.StatusOK, serve(h.ReadyEndpoint).Code)
	assert.True(t, h.IsReady())

	runN(h.checks[Readiness][1], 1)
	w = serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"redis":"i/o timeout"}}`, w.Body.String())
	assert.False(t, h.IsReady())

	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestNoChecks(t *testing.T) {
	h := New()
	assert.Equal(t, http.StatusOK, serve(h.LiveEndpoint).Code)
	h.SetReady(true)
	assert.Equal(t, http.StatusOK, serve(h.ReadyEndpoint).Code)
}

func TestCheckThresholds(t *testing.T) {
	down := true
	h := New()
	h.Add(Liveness, Check{
		Name: "flaky",
		Func: func(context.Context) error {
			if down {
				return errors.New("down")
			}
			return nil
		},
		FailureThreshold: 2,
		SuccessThreshold: 2,
	})
	s := h.checks[Liveness][0]
	assert.Equal(t, time.Second, s.Timeout)
	assert.Empty(t, s.failure())

	runN(s, 2)
	assert.Equal(t, "down", s.failure())

	down = false
	runN(s, 1)
	assert.Equal(t, "down", s.failure(), "one success is below the success threshold")
	runN(s, 1)
	assert.Empty(t, s.failure())
}

func TestCheckTimeout(t *testing.T) {
	h := New()
	h.Add(Readiness, Check{
		Name:             "slow",
		Timeout:          10 * time.Millisecond,
		FailureThreshold: 1,
		Func: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	s := h.checks[Readiness][0]
	runN(s, 1)
	assert.Equal(t, context.DeadlineExceeded.Error(), s.failure())
}

func TestStartStop(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	h := New()
	h.Add(Liveness, Check{Name: "counter", Func: func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil
	}})

	h.Start(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 3
	}, time.Second, 5*time.Millisecond)
	h.Stop()
	h.Stop()
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.Add(Liveness, Check{Name: "l", Func: failing("err")})
	h.Add(Readiness, Check{Name: "r", Func: passing})
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				h.IsReady()
				serve(h.LiveEndpoint)
				serve(h.ReadyEndpoint)
			}
		}()
	}
	wg.Wait()
	h.Stop()
}

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, GoroutineCountCheck(100000)(ctx))
	assert.ErrorContains(t, GoroutineCountCheck(0)(ctx), "exceeds threshold")
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(ctx))

	assert.NoError(t, Ping(pingerFunc(func(context.Context) error { return nil }))(ctx))
	err := Ping(pingerFunc(func(context.Context) error { return errors.New("refused") }))(ctx)
	assert.ErrorContains(t, err, "refused")
}
