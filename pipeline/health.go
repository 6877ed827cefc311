package pipeline

import (
	"context"
	"errors"

	"github.com/jonwraymond/hashops/provider"
)

// HealthStatus is the health of a pipeline component.
type HealthStatus int

const (
	// HealthHealthy means the component serves requests normally.
	HealthHealthy HealthStatus = iota
	// HealthDegraded means the component serves requests with reduced capacity.
	HealthDegraded
	// HealthUnhealthy means the component cannot serve requests.
	HealthUnhealthy
)

func (s HealthStatus) String() string {
	switch s {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// CheckResult is the outcome of one component check.
type CheckResult struct {
	Name    string
	Status  HealthStatus
	Message string
	Err     error
}

// Health is the aggregated outcome of every component check. Status is the
// worst status among Checks.
type Health struct {
	Status HealthStatus
	Checks []CheckResult
}

type errSource interface{ Err() error }

// checkCache reports the memory cache unhealthy once it has latched a
// corruption error; every later operation on it fails.
func checkCache(c errSource) CheckResult {
	if err := c.Err(); err != nil {
		return CheckResult{Name: "cache", Status: HealthUnhealthy, Message: "cache invariant broken", Err: err}
	}
	return CheckResult{Name: "cache", Status: HealthHealthy}
}

func checkBreaker(b *provider.Breaker) CheckResult {
	if b == nil {
		return CheckResult{Name: "provider", Status: HealthHealthy, Message: "no breaker"}
	}
	switch st := b.State(); st {
	case provider.StateOpen:
		return CheckResult{Name: "provider", Status: HealthUnhealthy, Message: "breaker " + st.String(), Err: provider.ErrCircuitOpen}
	case provider.StateHalfOpen:
		return CheckResult{Name: "provider", Status: HealthDegraded, Message: "breaker " + st.String()}
	default:
		return CheckResult{Name: "provider", Status: HealthHealthy, Message: "breaker " + st.String()}
	}
}

// Health runs the component checks. A closed pipeline is unhealthy.
func (p *Pipeline) Health(_ context.Context) Health {
	checks := []CheckResult{checkCache(p.memory), checkBreaker(p.breaker)}
	if p.closed.Load() {
		checks = append(checks, CheckResult{Name: "pipeline", Status: HealthUnhealthy, Err: ErrClosed})
	}

	h := Health{Status: HealthHealthy, Checks: checks}
	for _, c := range checks {
		h.Status = max(h.Status, c.Status)
	}
	return h
}

// Err joins the errors of every failing check.
func (h Health) Err() error {
	var errs []error
	for _, c := range h.Checks {
		if c.Err != nil {
			errs = append(errs, c.Err)
		}
	}
	return errors.Join(errs...)
}
