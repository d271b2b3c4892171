// Package health runs named dependency checks for the liveness and
// readiness probes.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status represents the health status of a dependency.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// checkTimeout bounds a single check so one stuck dependency cannot hang
// the readiness probe.
const checkTimeout = 5 * time.Second

// CheckFunc is a function that checks a dependency's health.
type CheckFunc func(ctx context.Context) Status

// Result is the outcome of one check run.
type Result struct {
	Status    Status `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

type check struct {
	name string
	fn   CheckFunc
}

// Checker runs registered dependency checks. Registration happens during
// startup wiring; RunAll may then be called concurrently.
type Checker struct {
	mu     sync.RWMutex
	checks []check
	logger zerolog.Logger
}

// NewChecker creates a new health checker.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{logger: logger.With().Str("component", "health").Logger()}
}

// Register adds a named health check. A duplicate name replaces the earlier
// registration.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.checks {
		if c.checks[i].name == name {
			c.checks[i].fn = fn
			return
		}
	}
	c.checks = append(c.checks, check{name: name, fn: fn})
}

// RunAll executes all checks concurrently and returns per-check results.
func (c *Checker) RunAll(ctx context.Context) map[string]Result {
	c.mu.RLock()
	checks := make([]check, len(c.checks))
	copy(checks, c.checks)
	c.mu.RUnlock()

	results := make(map[string]Result, len(checks))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, ck := range checks {
		wg.Add(1)
		go func(ck check) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()

			start := time.Now()
			s := ck.fn(checkCtx)
			elapsed := time.Since(start)

			if s != StatusOK {
				c.logger.Warn().Str("check", ck.name).Str("status", string(s)).Msg("health check not ok")
			}
			mu.Lock()
			results[ck.name] = Result{Status: s, LatencyMS: elapsed.Milliseconds()}
			mu.Unlock()
		}(ck)
	}
	wg.Wait()
	return results
}

// IsReady returns true when no check reports down.
func (c *Checker) IsReady(ctx context.Context) bool {
	for _, r := range c.RunAll(ctx) {
		if r.Status == StatusDown {
			return false
		}
	}
	return true
}
