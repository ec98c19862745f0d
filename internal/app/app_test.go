package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func serve(h http.HandlerFunc) (int, string) {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	return rec.Code, rec.Body.String()
}

func TestNewHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := newHealth(HealthConfig{MaxGoroutines: 100000, MaxGCPause: time.Hour}, pingerFunc(func(context.Context) error {
			return nil
		}))
		h.Start(context.Background(), 10*time.Millisecond)
		defer h.Stop()
		h.SetReady(true)

		code, _ := serve(h.LiveEndpoint)
		assert.Equal(t, http.StatusOK, code)
		assert.True(t, h.IsReady())
	})

	t.Run("gc pause over threshold", func(t *testing.T) {
		runtime.GC()
		h := newHealth(HealthConfig{MaxGoroutines: 100000, MaxGCPause: time.Nanosecond}, nil)
		h.Start(context.Background(), 10*time.Millisecond)
		defer h.Stop()

		require.Eventually(t, func() bool {
			code, _ := serve(h.LiveEndpoint)
			return code == http.StatusServiceUnavailable
		}, 5*time.Second, 10*time.Millisecond)
		_, body := serve(h.LiveEndpoint)
		assert.Contains(t, body, "gc_pause")
	})

	t.Run("database down", func(t *testing.T) {
		h := newHealth(HealthConfig{MaxGoroutines: 100000, MaxGCPause: time.Hour}, pingerFunc(func(context.Context) error {
			return errors.New("connection refused")
		}))
		h.Start(context.Background(), 10*time.Millisecond)
		defer h.Stop()
		h.SetReady(true)

		require.Eventually(t, func() bool { return !h.IsReady() }, 5*time.Second, 10*time.Millisecond)
		code, body := serve(h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Contains(t, body, "postgres")
	})
}
