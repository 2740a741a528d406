// Package health aggregates component liveness for the status surface.
package health

import (
	"fmt"
	"sync"
	"time"
)

// Status is one component's report.
type Status struct {
	Component string
	Healthy   bool
	Detail    string
}

// Check produces a point-in-time status.
type Check func() Status

// Registry holds named checks and evaluates them on demand.
type Registry struct {
	mu     sync.Mutex
	checks []Check
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a check.
func (r *Registry) Register(check Check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, check)
}

// Evaluate runs every check in registration order.
func (r *Registry) Evaluate() []Status {
	r.mu.Lock()
	checks := make([]Check, len(r.checks))
	copy(checks, r.checks)
	r.mu.Unlock()

	statuses := make([]Status, 0, len(checks))
	for _, check := range checks {
		statuses = append(statuses, check())
	}
	return statuses
}

// Healthy reports whether every component is healthy.
func Healthy(statuses []Status) bool {
	for _, s := range statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// SchedulerCheck verifies the notification scheduler ticked recently.
// maxAge should be a few multiples of the tick interval.
func SchedulerCheck(lastTick func() time.Time, maxAge time.Duration) Check {
	return func() Status {
		last := lastTick()
		if last.IsZero() {
			return Status{Component: "scheduler", Healthy: false, Detail: "never ticked"}
		}
		age := time.Since(last)
		if age > maxAge {
			return Status{
				Component: "scheduler", Healthy: false,
				Detail: fmt.Sprintf("last tick %s ago", age.Round(time.Second)),
			}
		}
		return Status{
			Component: "scheduler", Healthy: true,
			Detail: fmt.Sprintf("last tick %s ago", age.Round(time.Second)),
		}
	}
}

// ModelCheck verifies the model provider has usable credentials.
func ModelCheck(ready func() error) Check {
	return func() Status {
		if err := ready(); err != nil {
			return Status{Component: "model", Healthy: false, Detail: err.Error()}
		}
		return Status{Component: "model", Healthy: true, Detail: "configured"}
	}
}

// DatabaseCheck verifies the store answers a trivial query.
func DatabaseCheck(ping func() error) Check {
	return func() Status {
		if err := ping(); err != nil {
			return Status{Component: "database", Healthy: false, Detail: err.Error()}
		}
		return Status{Component: "database", Healthy: true, Detail: "reachable"}
	}
}
