// Package health serves liveness and readiness checks.
//
// Every check runs in its own goroutine on a fixed interval. A check turns
// unhealthy after FailureThreshold consecutive failures and healthy again
// after SuccessThreshold consecutive successes, so a single slow ping does
// not flip readiness.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Thresholds control flapping protection of a check.
type Thresholds struct {
	Failure int
	Success int
}

// DefaultThresholds are used when a check is registered without options.
var DefaultThresholds = Thresholds{Failure: 3, Success: 1}

type check struct {
	name       string
	timeout    time.Duration
	fn         CheckFunc
	thresholds Thresholds

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	// Only touched by the goroutine calling run.
	fails, oks int
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(ctx)
	c.lastErr.Store(&err)
	if err != nil {
		c.oks = 0
		c.fails++
		if c.fails >= c.thresholds.Failure {
			c.healthy.Store(false)
		}
		return
	}
	c.fails = 0
	c.oks++
	if c.oks >= c.thresholds.Success {
		c.healthy.Store(true)
	}
}

func (c *check) failure() (string, bool) {
	if c.healthy.Load() {
		return "", false
	}
	if p := c.lastErr.Load(); p != nil && *p != nil {
		return (*p).Error(), true
	}
	return "check is unhealthy", true
}

// Health holds liveness and readiness checks of the service.
type Health struct {
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []*check
	readiness []*check
	cancel    context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check that reports whether the process works.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc, t ...Thresholds) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newCheck(name, timeout, fn, t))
}

// AddReadinessCheck registers a check that gates traffic, such as a
// database or cache ping.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc, t ...Thresholds) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newCheck(name, timeout, fn, t))
}

func newCheck(name string, timeout time.Duration, fn CheckFunc, t []Thresholds) *check {
	c := &check{name: name, timeout: timeout, fn: fn, thresholds: DefaultThresholds}
	if len(t) > 0 {
		c.thresholds = t[0]
	}
	c.thresholds.Failure = max(c.thresholds.Failure, 1)
	c.thresholds.Success = max(c.thresholds.Success, 1)
	c.healthy.Store(true)
	return c
}

// Start runs every registered check immediately and then each interval
// until Stop or ctx cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := slices.Concat(h.liveness, h.readiness)
	h.mu.Unlock()

	for _, c := range checks {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				c.run(ctx)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}
}

// Stop cancels background checks. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady toggles the manual readiness gate, e.g. false while draining.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports the manual gate and all readiness checks.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(failures(h.snapshot(&h.readiness))) == 0
}

func (h *Health) snapshot(checks *[]*check) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(*checks)
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, failures(h.snapshot(&h.liveness)))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := failures(h.snapshot(&h.readiness))
	if !h.ready.Load() {
		failed = append(failed, failure{name: "_readiness", reason: "service is not ready"})
	}
	writeStatus(w, failed)
}

type failure struct {
	name, reason string
}

func failures(checks []*check) []failure {
	var out []failure
	for _, c := range checks {
		if reason, failed := c.failure(); failed {
			out = append(out, failure{name: c.name, reason: reason})
		}
	}
	return out
}

// writeStatus writes {"status":"ok"} with 200 or
// {"status":"unhealthy","checks":{name:reason}} with 503.
func writeStatus(w http.ResponseWriter, failed []failure) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	status := http.StatusOK
	if len(failed) == 0 {
		e.Str("ok")
	} else {
		status = http.StatusServiceUnavailable
		e.Str("unhealthy")
		e.FieldStart("checks")
		e.ObjStart()
		for _, f := range failed {
			e.FieldStart(f.name)
			e.Str(f.reason)
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
