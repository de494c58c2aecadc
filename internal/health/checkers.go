package health

import (
	"context"
	"fmt"
	"time"

	"github.com/probeai/orchestrator/internal/circuitbreaker"
)

// Pinger is anything that can prove connectivity with a round trip.
type Pinger interface {
	Ping(ctx context.Context) error
}

type breakerState interface {
	IsCircuitBreakerOpen() bool
}

// PingChecker checks a dependency by pinging it.
type PingChecker struct {
	name     string
	critical bool
	target   Pinger
	timeout  time.Duration
	// degradedAfter marks slow but successful pings as degraded.
	degradedAfter time.Duration
}

// NewPingChecker creates a checker for target, typically the Redis store.
func NewPingChecker(name string, target Pinger, critical bool) *PingChecker {
	return &PingChecker{name: name, critical: critical, target: target, timeout: 5 * time.Second, degradedAfter: 100 * time.Millisecond}
}

func (p *PingChecker) Name() string           { return p.name }
func (p *PingChecker) IsCritical() bool       { return p.critical }
func (p *PingChecker) Timeout() time.Duration { return p.timeout }

func (p *PingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: p.name, Critical: p.critical, Timestamp: start}

	if b, ok := p.target.(breakerState); ok && b.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = p.name + " circuit breaker is open"
		return result
	}

	err := p.target.Ping(ctx)
	result.Duration = time.Since(start)
	result.Details = map[string]interface{}{"latency_ms": result.Duration.Milliseconds()}
	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = p.name + " ping failed"
	case result.Duration > p.degradedAfter:
		result.Status = StatusDegraded
		result.Message = p.name + " responding with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = p.name + " healthy"
	}
	return result
}

type dbPinger struct{ db *circuitbreaker.DatabaseWrapper }

func (d dbPinger) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }
func (d dbPinger) IsCircuitBreakerOpen() bool     { return d.db.IsCircuitBreakerOpen() }

// NewDatabaseChecker checks the secondary database. It is not critical:
// sessions keep flowing while the mirror is down.
func NewDatabaseChecker(db *circuitbreaker.DatabaseWrapper) *PingChecker {
	return NewPingChecker("database", dbPinger{db: db}, false)
}

// ProviderChecker reports whether an external provider is configured. It
// never makes a network call.
type ProviderChecker struct {
	name       string
	configured func() bool
	fallback   string
}

// NewProviderChecker creates a non-critical configuration checker. fallback
// describes what happens without the provider.
func NewProviderChecker(name string, configured func() bool, fallback string) *ProviderChecker {
	return &ProviderChecker{name: name, configured: configured, fallback: fallback}
}

func (c *ProviderChecker) Name() string           { return c.name }
func (c *ProviderChecker) IsCritical() bool       { return false }
func (c *ProviderChecker) Timeout() time.Duration { return time.Second }

func (c *ProviderChecker) Check(context.Context) CheckResult {
	result := CheckResult{Component: c.name, Timestamp: time.Now(), Status: StatusHealthy, Message: c.name + " configured"}
	if !c.configured() {
		result.Status = StatusDegraded
		result.Message = c.name + " not configured: " + c.fallback
	}
	return result
}

// BreakerChecker reports degraded while any registered circuit breaker is
// not closed.
type BreakerChecker struct {
	registry *circuitbreaker.Registry
}

// NewBreakerChecker creates a non-critical checker over registry.
func NewBreakerChecker(registry *circuitbreaker.Registry) *BreakerChecker {
	return &BreakerChecker{registry: registry}
}

func (c *BreakerChecker) Name() string           { return "circuit_breakers" }
func (c *BreakerChecker) IsCritical() bool       { return false }
func (c *BreakerChecker) Timeout() time.Duration { return time.Second }

func (c *BreakerChecker) Check(context.Context) CheckResult {
	result := CheckResult{Component: c.Name(), Timestamp: time.Now(), Status: StatusHealthy, Message: "all circuit breakers closed"}
	states := map[string]interface{}{}
	tripped := 0
	for key, st := range c.registry.Snapshot() {
		states[key] = st.String()
		if st != circuitbreaker.StateClosed {
			tripped++
		}
	}
	result.Details = states
	if tripped > 0 {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%d circuit breaker(s) not closed", tripped)
	}
	return result
}
