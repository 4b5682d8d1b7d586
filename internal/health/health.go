// Package health reports service readiness for the health endpoints.
package health

import (
	"context"

	"github.com/macjediwizard/notiondavsync/internal/store"
)

// Overall health states, ordered by severity.
const (
	StatusOK        = "ok"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status is the readiness report: an overall verdict plus per-check detail.
type Status struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Checker evaluates service readiness.
type Checker struct {
	store *store.Store
}

// New creates a checker over the state store.
func New(st *store.Store) *Checker {
	return &Checker{store: st}
}

// Check pings the state store and verifies that a calendar has been
// provisioned. A failed store is unhealthy; a missing calendar only
// degrades, since the service can still accept configuration.
func (c *Checker) Check(ctx context.Context) *Status {
	status := &Status{
		Status: StatusOK,
		Checks: make(map[string]string),
	}

	if err := c.store.Ping(); err != nil {
		status.Status = StatusUnhealthy
		status.Checks["database"] = err.Error()
	} else {
		status.Checks["database"] = "ok"
	}

	if status.Status == StatusUnhealthy {
		status.Checks["calendar"] = "unknown"
		return status
	}

	settings := c.store.LoadSettings()
	if settings.CalendarHref == "" {
		if status.Status == StatusOK {
			status.Status = StatusDegraded
		}
		status.Checks["calendar"] = "not provisioned"
	} else {
		status.Checks["calendar"] = "ok"
	}

	return status
}

// Healthy reports whether the status allows serving traffic.
func (s *Status) Healthy() bool {
	return s.Status != StatusUnhealthy
}
