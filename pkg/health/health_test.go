package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
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

func serve(handler http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func TestLiveEndpoint(t *testing.T) {
	t.Run("NoChecks", func(t *testing.T) {
		w := serve(New().LiveEndpoint)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	})
	t.Run("Passing", func(t *testing.T) {
		h := New()
		h.AddLivenessCheck("a", time.Second, passing)
		h.liveness[0].run(context.Background())

		w := serve(h.LiveEndpoint)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	})
	t.Run("FailingPastThreshold", func(t *testing.T) {
		h := New()
		h.AddLivenessCheck("db", time.Second, failing("connection refused"))
		for range 3 {
			h.liveness[0].run(context.Background())
		}

		w := serve(h.LiveEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.JSONEq(t, `{"status":"unhealthy","checks":{"db":"connection refused"}}`, w.Body.String())
	})
	t.Run("BelowThreshold", func(t *testing.T) {
		h := New()
		h.AddLivenessCheck("flaky", time.Second, failing("temporary"))
		for range 2 {
			h.liveness[0].run(context.Background())
		}
		assert.Equal(t, http.StatusOK, serve(h.LiveEndpoint).Code)
	})
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("NotReady", func(t *testing.T) {
		h := New()
		w := serve(h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, w.Body.String())
	})
	t.Run("ReadyAndPassing", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("postgres", time.Second, passing)
		h.SetReady(true)
		assert.Equal(t, http.StatusOK, serve(h.ReadyEndpoint).Code)
		assert.True(t, h.IsReady())

		h.SetReady(false)
		assert.Equal(t, http.StatusServiceUnavailable, serve(h.ReadyEndpoint).Code)
		assert.False(t, h.IsReady())
	})
	t.Run("OneFailing", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("postgres", time.Second, passing)
		h.AddReadinessCheck("redis", time.Second, failing("refused"), Thresholds{Failure: 1})
		h.SetReady(true)
		for _, c := range h.readiness {
			c.run(context.Background())
		}

		w := serve(h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.JSONEq(t, `{"status":"unhealthy","checks":{"redis":"refused"}}`, w.Body.String())
		assert.False(t, h.IsReady())
	})
}

func TestCheckRecovery(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	h := New()
	h.AddReadinessCheck("svc", time.Second, func(context.Context) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	}, Thresholds{Failure: 2, Success: 2})
	h.SetReady(true)
	c := h.readiness[0]

	c.run(context.Background())
	assert.True(t, h.IsReady())
	c.run(context.Background())
	assert.False(t, h.IsReady())

	fail.Store(false)
	c.run(context.Background())
	assert.False(t, h.IsReady(), "one success is below the threshold")
	c.run(context.Background())
	assert.True(t, h.IsReady())
}

func TestCheckTimeout(t *testing.T) {
	h := New()
	h.AddLivenessCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, Thresholds{Failure: 1})
	h.liveness[0].run(context.Background())

	w := serve(h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "deadline exceeded")
}

func TestStartStop(t *testing.T) {
	var calls atomic.Int32
	h := New()
	h.AddLivenessCheck("count", time.Second, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	h.Start(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	h.Stop()
	h.Stop()

	time.Sleep(20 * time.Millisecond)
	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, calls.Load())
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.AddLivenessCheck("a", time.Second, passing)
	h.AddReadinessCheck("b", time.Second, failing("x"))
	h.SetReady(true)
	h.Start(context.Background(), time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				serve(h.LiveEndpoint)
				serve(h.ReadyEndpoint)
				h.IsReady()
			}
		}()
	}
	wg.Wait()
}

func TestGoroutineCountCheck(t *testing.T) {
	require.NoError(t, GoroutineCountCheck(100000)(context.Background()))
	require.Error(t, GoroutineCountCheck(0)(context.Background()))
}

func TestPingCheck(t *testing.T) {
	ok := PingCheck("postgres", func(context.Context) error { return nil })
	require.NoError(t, ok(context.Background()))

	bad := PingCheck("redis", func(context.Context) error { return errors.New("refused") })
	err := bad(context.Background())
	require.Error(t, err)
	assert.Equal(t, "redis ping: refused", err.Error())
}
