// Package health provides liveness and readiness checks shared by every
// binary.
package health

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// Status represents the health status.
type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

// Check represents a single dependency check.
type Check interface {
	Check(ctx context.Context) error
	Name() string
}

// Checker manages dependency checks.
type Checker struct {
	checks []Check
	mu     sync.RWMutex
}

// NewChecker creates a new checker.
func NewChecker() *Checker {
	return &Checker{
		checks: make([]Check, 0),
	}
}

// Register adds a new check.
func (hc *Checker) Register(check Check) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks = append(hc.checks, check)
}

// Check performs all checks and returns per-dependency results.
func (hc *Checker) Check(ctx context.Context) map[string]error {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	results := make(map[string]error)
	for _, check := range hc.checks {
		results[check.Name()] = check.Check(ctx)
	}
	return results
}

// Ready reports whether every registered dependency is reachable.
func (hc *Checker) Ready(ctx context.Context) bool {
	for _, err := range hc.Check(ctx) {
		if err != nil {
			return false
		}
	}
	return true
}

// DatabaseCheck pings a sql.DB.
type DatabaseCheck struct {
	name string
	db   *sql.DB
}

func NewDatabaseCheck(name string, db *sql.DB) *DatabaseCheck {
	return &DatabaseCheck{name: name, db: db}
}

func (d *DatabaseCheck) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.db.PingContext(ctx)
}

func (d *DatabaseCheck) Name() string {
	return d.name
}

// Pinger is satisfied by the Redis client wrapper.
type Pinger interface {
	IsAvailable(ctx context.Context) error
}

// RedisCheck pings Redis.
type RedisCheck struct {
	name   string
	client Pinger
}

func NewRedisCheck(name string, client Pinger) *RedisCheck {
	return &RedisCheck{name: name, client: client}
}

func (r *RedisCheck) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.client.IsAvailable(ctx)
}

func (r *RedisCheck) Name() string {
	return r.name
}

// FuncCheck wraps an arbitrary check function (upstream services).
type FuncCheck struct {
	name string
	fn   func(ctx context.Context) error
}

func NewFuncCheck(name string, fn func(ctx context.Context) error) *FuncCheck {
	return &FuncCheck{name: name, fn: fn}
}

func (f *FuncCheck) Check(ctx context.Context) error {
	return f.fn(ctx)
}

func (f *FuncCheck) Name() string {
	return f.name
}
