// Package health reports the state of bound channels and the NATS connection behind the
// tuple store, and serves the aggregate as JSON.
package health

import (
	"regexp"
	"time"
)

// State values carried by Status.State.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|wss?|tls)://[^\s]+`)
	pathRegex       = regexp.MustCompile(`(?:^|\s)/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(?::\d{1,5})?\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)\s*[:=]\s*[^,\s}]+`)
)

// Status is the health of one component, or of the system when SubStatuses is set.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	State       string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

func (s Status) IsHealthy() bool   { return s.State == StateHealthy }
func (s Status) IsDegraded() bool  { return s.State == StateDegraded }
func (s Status) IsUnhealthy() bool { return s.State == StateUnhealthy }

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		State:     state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Healthy creates a healthy status.
func Healthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// Degraded creates a degraded status.
func Degraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// Unhealthy creates an unhealthy status. The message is scrubbed of addresses, paths
// and credentials since it usually comes from an error.
func Unhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, sanitizeErrorMessage(message))
}

// sanitizeErrorMessage removes addresses, file paths and credentials from error text
// before it is served.
func sanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}
	msg = urlRegex.ReplaceAllString(msg, "[URL]")
	msg = credentialRegex.ReplaceAllString(msg, "$1=[REDACTED]")
	msg = ipAddrRegex.ReplaceAllString(msg, "[ADDR]")
	msg = pathRegex.ReplaceAllStringFunc(msg, func(m string) string {
		if m[0] == '/' {
			return "[PATH]"
		}
		return m[:1] + "[PATH]"
	})
	return msg
}

// Aggregate rolls sub-statuses into one: unhealthy if any is unhealthy, degraded if any
// is degraded, healthy otherwise.
func Aggregate(component string, subs []Status) Status {
	if len(subs) == 0 {
		return Healthy(component, "No components registered")
	}

	var unhealthy, degraded bool
	for _, sub := range subs {
		switch {
		case sub.IsUnhealthy():
			unhealthy = true
		case sub.IsDegraded():
			degraded = true
		}
	}

	var s Status
	switch {
	case unhealthy:
		s = newStatus(component, StateUnhealthy, "One or more components are unhealthy")
	case degraded:
		s = newStatus(component, StateDegraded, "One or more components are degraded")
	default:
		s = newStatus(component, StateHealthy, "All components are healthy")
	}
	s.SubStatuses = make([]Status, len(subs))
	copy(s.SubStatuses, subs)
	return s
}
