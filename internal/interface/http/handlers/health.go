package handlers

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alem-hub/shadow-ranch/pkg/timeutil"
)

// HealthChecker reports service health for /health and /ready.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc checks one dependency. A nil error means healthy.
type HealthCheckFunc func(ctx context.Context) error

// Pinger is implemented by the persistence backend, the Redis cache and the
// token-metadata client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingCheck adapts a Pinger.
func NewPingCheck(p Pinger) HealthCheckFunc {
	return p.Ping
}

// HealthStatus is the aggregated result. Healthy is false when any check
// failed; Ready is false only when a required check failed.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Ready     bool                   `json:"ready"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Optional bool   `json:"optional,omitempty"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// ═══════════════════════════════════════════════════════════════════════════
// COMPOSITE CHECKER
// ═══════════════════════════════════════════════════════════════════════════

type checkEntry struct {
	name     string
	run      HealthCheckFunc
	optional bool
}

// HealthOption tunes a CompositeHealthChecker.
type HealthOption func(*CompositeHealthChecker)

// WithCheckTimeout bounds every check. Default 5s.
func WithCheckTimeout(d time.Duration) HealthOption {
	return func(c *CompositeHealthChecker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHealthClock replaces the wall clock used for uptime and timestamps.
func WithHealthClock(clock timeutil.Clock) HealthOption {
	return func(c *CompositeHealthChecker) { c.clock = clock }
}

// CompositeHealthChecker runs its checks concurrently, each under its own
// timeout. Registering a name twice replaces the earlier check.
type CompositeHealthChecker struct {
	version string
	timeout time.Duration
	clock   timeutil.Clock
	started time.Time

	mu     sync.RWMutex
	checks []checkEntry
}

var _ HealthChecker = (*CompositeHealthChecker)(nil)

func NewCompositeHealthChecker(version string, opts ...HealthOption) *CompositeHealthChecker {
	c := &CompositeHealthChecker{
		version: version,
		timeout: 5 * time.Second,
		clock:   timeutil.SystemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.started = c.clock.Now()
	return c
}

// AddCheck registers a check that gates readiness.
func (c *CompositeHealthChecker) AddCheck(name string, fn HealthCheckFunc) {
	c.put(checkEntry{name: name, run: fn})
}

// AddOptionalCheck registers a check that is reported only.
func (c *CompositeHealthChecker) AddOptionalCheck(name string, fn HealthCheckFunc) {
	c.put(checkEntry{name: name, run: fn, optional: true})
}

// RemoveCheck drops the check registered under name.
func (c *CompositeHealthChecker) RemoveCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = slices.DeleteFunc(c.checks, func(p checkEntry) bool { return p.name == name })
}

func (c *CompositeHealthChecker) put(p checkEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := slices.IndexFunc(c.checks, func(q checkEntry) bool { return q.name == p.name }); i >= 0 {
		c.checks[i] = p
		return
	}
	c.checks = append(c.checks, p)
	slices.SortFunc(c.checks, func(a, b checkEntry) int { return strings.Compare(a.name, b.name) })
}

// Check runs every check and aggregates the results.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := slices.Clone(c.checks)
	c.mu.RUnlock()

	now := c.clock.Now()
	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    now.Sub(c.started).Round(time.Second).String(),
		Timestamp: now.UTC(),
		Version:   c.version,
	}
	if len(checks) == 0 {
		status.Message = "No health checks registered"
		return status
	}

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, p := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.runCheck(ctx, p)
		}()
	}
	wg.Wait()

	var failed []string
	for i, p := range checks {
		r := results[i]
		status.Checks[p.name] = r
		if r.Healthy {
			continue
		}
		failed = append(failed, p.name)
		status.Healthy = false
		if !p.optional {
			status.Ready = false
		}
	}

	if len(failed) == 0 {
		status.Message = "All checks passed"
	} else {
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	}
	return status
}

func (c *CompositeHealthChecker) runCheck(ctx context.Context, p checkEntry) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := p.run(ctx)
	res := CheckResult{
		Healthy:  err == nil,
		Optional: p.optional,
		Message:  "OK",
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}
