// Package health serves liveness and readiness endpoints.
//
// Every check runs in its own goroutine. A check flips to unhealthy after
// FailureThreshold consecutive failures and back after SuccessThreshold
// consecutive passes, so one slow ping does not pull a pod out of rotation.
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

// Thresholds used by checks registered without explicit ones.
const (
	DefaultFailureThreshold = 3
	DefaultSuccessThreshold = 1
)

// Check is a registered readiness check. Its counters are owned by the goroutine
// running it; the verdict is published atomically.
type Check struct {
	Name             string
	Timeout          time.Duration
	Func             CheckFunc
	FailureThreshold int
	SuccessThreshold int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]
	fails   int
	passes  int
}

func (c *Check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	err := c.Func(ctx)
	c.lastErr.Store(&err)
	if err != nil {
		c.passes = 0
		c.fails++
		if c.fails >= c.FailureThreshold {
			c.healthy.Store(false)
		}
		return
	}
	c.fails = 0
	c.passes++
	if c.passes >= c.SuccessThreshold {
		c.healthy.Store(true)
	}
}

// Healthy reports the current verdict.
func (c *Check) Healthy() bool { return c.healthy.Load() }

// Err returns the result of the most recent run.
func (c *Check) Err() error {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Health holds liveness and readiness checks plus a manual readiness gate
// used while starting up and draining.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	live   []*Check
	readys []*Check
	cancel context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health { return &Health{} }

func newCheck(name string, timeout time.Duration, fn CheckFunc) *Check {
	c := &Check{
		Name:             name,
		Timeout:          timeout,
		Func:             fn,
		FailureThreshold: DefaultFailureThreshold,
		SuccessThreshold: DefaultSuccessThreshold,
	}
	c.healthy.Store(true)
	return c
}

// AddLivenessCheck registers a check that decides whether the process
// should be restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) *Check {
	c := newCheck(name, timeout, fn)
	h.mu.Lock()
	h.live = append(h.live, c)
	h.mu.Unlock()
	return c
}

// AddReadinessCheck registers a check that decides whether traffic should
// be routed to the process.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) *Check {
	c := newCheck(name, timeout, fn)
	h.mu.Lock()
	h.readys = append(h.readys, c)
	h.mu.Unlock()
	return c
}

// Start runs every check now and then once per interval until Stop or ctx
// cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := slices.Concat(h.live, h.readys)
	h.mu.Unlock()

	for _, c := range checks {
		go func() {
			t := time.NewTicker(interval)
			defer t.Stop()
			for {
				c.run(ctx)
				select {
				case <-ctx.Done():
					return
				case <-t.C:
				}
			}
		}()
	}
}

// Stop halts the check goroutines. It is idempotent.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness gate.
func (h *Health) SetReady(ready bool) { h.ready.Store(ready) }

// IsReady reports whether the gate is open and every readiness check passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.readys {
		if !c.Healthy() {
			return false
		}
	}
	return true
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	failures := failing(h.live)
	h.mu.RUnlock()
	respond(w, failures)
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	failures := failing(h.readys)
	h.mu.RUnlock()
	if !h.ready.Load() {
		failures = append(failures, failure{name: "_readiness", msg: "service is not ready"})
	}
	respond(w, failures)
}

type failure struct{ name, msg string }

func failing(checks []*Check) []failure {
	var out []failure
	for _, c := range checks {
		if c.Healthy() {
			continue
		}
		msg := "check is unhealthy"
		if err := c.Err(); err != nil {
			msg = err.Error()
		}
		out = append(out, failure{name: c.Name, msg: msg})
	}
	return out
}

// respond writes {"status":"ok"} or
// {"status":"unhealthy","checks":{"name":"error"}} with status 503.
func respond(w http.ResponseWriter, failures []failure) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	status := http.StatusOK
	if len(failures) == 0 {
		e.Str("ok")
	} else {
		status = http.StatusServiceUnavailable
		e.Str("unhealthy")
		e.FieldStart("checks")
		e.ObjStart()
		for _, f := range failures {
			e.FieldStart(f.name)
			e.Str(f.msg)
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
