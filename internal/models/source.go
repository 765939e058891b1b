package models

import (
	"errors"
	"time"
)

var (
	// ErrSourceUnavailable covers network, HTTP, and decode failures of a provider.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrRateLimited is returned when a source exhausted its hourly allowance.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrNotFound is returned by stores when a key or record does not exist.
	ErrNotFound = errors.New("not found")
)

// BreakerState is the externally visible circuit-breaker state of a source.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// SourceStatus is the per-source snapshot returned by getStatus.
type SourceStatus struct {
	Name          string       `json:"name"`
	Enabled       bool         `json:"enabled"`
	Available     bool         `json:"available"`
	Priority      int          `json:"priority"`
	RequestsUsed  int          `json:"requests_used"`
	RateLimit     int          `json:"rate_limit"`
	BreakerState  BreakerState `json:"circuit_breaker_state"`
	Failures      int          `json:"failures"`
	LastFailureAt time.Time    `json:"last_failure_at,omitempty"`
	Capabilities  []string     `json:"capabilities,omitempty"`
}
