package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Shopper identity headers.
const (
	HeaderUserID    = "X-User-ID"
	HeaderSessionID = "X-Session-ID"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key. Implementations must be safe for
// concurrent use.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// KeyFunc extracts the limit key. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
	// Limiter defaults to an in-process sliding window.
	Limiter Limiter
}

// RateLimit rejects requests over the per-key budget with 429 and sets the
// X-RateLimit-* headers. Limiter errors fail open.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewSlidingWindow(cfg.Max, cfg.Window)
	}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			d, err := cfg.Limiter.Allow(r.Context(), cfg.KeyFunc(r), now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retry := max(d.ResetAt.Sub(now), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP keys requests by the first X-Forwarded-For hop, X-Real-IP or the
// remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ShopperKey keys requests by user id, then session id, then client IP.
func ShopperKey(r *http.Request) string {
	if id := r.Header.Get(HeaderUserID); id != "" {
		return "user:" + id
	}
	if id := r.Header.Get(HeaderSessionID); id != "" {
		return "session:" + id
	}
	return "ip:" + ClientIP(r)
}

type counter struct {
	prevCount float64
	currCount float64
	currStart time.Time
}

// SlidingWindow is an in-process sliding window counter: the previous
// window's count is weighted by its overlap with the sliding interval.
type SlidingWindow struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	entries map[string]*counter
}

// NewSlidingWindow allows limit requests per window for each key.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{limit: limit, window: window, entries: make(map[string]*counter)}
}

// Allow counts one request for key at now.
func (s *SlidingWindow) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := now.Truncate(s.window)
	e, ok := s.entries[key]
	if !ok {
		e = &counter{currStart: start}
		s.entries[key] = e
	}
	switch elapsed := start.Sub(e.currStart); {
	case elapsed >= 2*s.window:
		e.prevCount, e.currCount, e.currStart = 0, 0, start
	case elapsed >= s.window:
		e.prevCount, e.currCount, e.currStart = e.currCount, 0, start
	}

	overlap := max(1-now.Sub(e.currStart).Seconds()/s.window.Seconds(), 0)
	count := e.prevCount*overlap + e.currCount
	d := Decision{ResetAt: e.currStart.Add(s.window)}
	if count >= float64(s.limit) {
		return d, nil
	}
	e.currCount++
	d.Allowed = true
	d.Remaining = max(int(float64(s.limit)-count-1), 0)
	return d, nil
}

// Sweep drops keys idle for two windows.
func (s *SlidingWindow) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if now.Sub(e.currStart) >= 2*s.window {
			delete(s.entries, key)
		}
	}
}

// RunSweeper calls Sweep every two windows until ctx is done.
func (s *SlidingWindow) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(2 * s.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}
