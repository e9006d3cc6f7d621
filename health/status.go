package health

import (
	"strings"
	"time"
)

// Health state values carried in Status.Status.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status represents the health state of a component or the whole system.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy returns true if the status is healthy.
func (s Status) IsHealthy() bool {
	return s.Status == StateHealthy
}

// IsDegraded returns true if the status is degraded.
func (s Status) IsDegraded() bool {
	return s.Status == StateDegraded
}

// IsUnhealthy returns true if the status is unhealthy.
func (s Status) IsUnhealthy() bool {
	return s.Status == StateUnhealthy
}

// NewHealthy creates a new healthy status.
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewDegraded creates a new degraded status.
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// NewUnhealthy creates a new unhealthy status.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Aggregate combines component statuses into one system status. Unhealthy
// dominates degraded, degraded dominates healthy; no components means
// healthy.
func Aggregate(systemName string, statuses []Status) Status {
	state := StateHealthy
	message := "all components healthy"

	var degraded, unhealthy []string
	for _, s := range statuses {
		switch {
		case s.IsUnhealthy():
			unhealthy = append(unhealthy, s.Component)
		case s.IsDegraded():
			degraded = append(degraded, s.Component)
		}
	}

	switch {
	case len(unhealthy) > 0:
		state = StateUnhealthy
		message = "unhealthy: " + strings.Join(unhealthy, ", ")
	case len(degraded) > 0:
		state = StateDegraded
		message = "degraded: " + strings.Join(degraded, ", ")
	}

	system := newStatus(systemName, state, message)
	system.SubStatuses = statuses
	return system
}
