// Package breaker tracks per-source health and rate allowance and decides
// whether a provider may be called.
package breaker

import (
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/matchoracle/internal/logger"
	"github.com/rewired-gh/matchoracle/internal/models"
)

// Source is the static description of a configured provider.
type Source struct {
	Name               string
	Priority           int
	RateLimitPerWindow int
	Enabled            bool
	Capabilities       []string
}

type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
	Window           time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Cooldown:         300 * time.Second,
		Window:           time.Hour,
	}
}

// Option customizes a Registry.
type Option func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// sourceState is the mutable state of one source. All fields after mu are
// guarded by it.
type sourceState struct {
	mu sync.Mutex

	name         string
	enabled      bool
	rateLimit    int
	priority     int
	capabilities []string

	requestCount        int
	windowStart         time.Time
	consecutiveFailures int
	lastFailureAt       time.Time
	breakerOpen         bool
}

// Registry holds one state machine per source. The set of sources is fixed
// at construction, so the map itself needs no lock.
type Registry struct {
	config Config
	now    func() time.Time
	states map[string]*sourceState
	order  []string
}

// New builds a registry for sources. Zero-valued config fields fall back to
// DefaultConfig.
func New(sources []Source, config Config, opts ...Option) *Registry {
	def := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}

	r := &Registry{
		config: config,
		now:    time.Now,
		states: make(map[string]*sourceState, len(sources)),
	}
	for _, opt := range opts {
		opt(r)
	}

	start := r.now()
	for _, s := range sources {
		r.states[s.Name] = &sourceState{
			name:         s.Name,
			enabled:      s.Enabled,
			rateLimit:    s.RateLimitPerWindow,
			priority:     s.Priority,
			capabilities: append([]string(nil), s.Capabilities...),
			windowStart:  start,
		}
		r.order = append(r.order, s.Name)
	}
	sort.SliceStable(r.order, func(i, j int) bool {
		pi, pj := r.states[r.order[i]].priority, r.states[r.order[j]].priority
		if pi != pj {
			return pi < pj
		}
		return r.order[i] < r.order[j]
	})
	return r
}

// Sources returns source names in ascending priority.
func (r *Registry) Sources() []string {
	return append([]string(nil), r.order...)
}

// HasCapability reports whether the named source declares capability.
// Sources without declared capabilities are assumed to support everything.
func (r *Registry) HasCapability(name, capability string) bool {
	s, ok := r.states[name]
	if !ok {
		return false
	}
	if len(s.capabilities) == 0 {
		return true
	}
	for _, c := range s.capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// CanUse reports whether a request to name is currently admissible. It may
// reset an expired rate window and half-open an expired breaker, but it
// does not consume allowance.
func (r *Registry) CanUse(name string) bool {
	s, ok := r.states[name]
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.admitLocked(s, r.now())
}

// Acquire is CanUse plus consumption of one request in the same critical
// section, so concurrent callers cannot overshoot the rate limit. Pair it
// with Report.
func (r *Registry) Acquire(name string) bool {
	s, ok := r.states[name]
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !r.admitLocked(s, r.now()) {
		return false
	}
	s.requestCount++
	return true
}

// RecordOutcome counts one request against name and updates its failure
// accounting.
func (r *Registry) RecordOutcome(name string, success bool) {
	s, ok := r.states[name]
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestCount++
	r.reportLocked(s, success, r.now())
}

// Report updates failure accounting for a request already counted by Acquire.
func (r *Registry) Report(name string, success bool) {
	s, ok := r.states[name]
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r.reportLocked(s, success, r.now())
}

func (r *Registry) admitLocked(s *sourceState, now time.Time) bool {
	if !s.enabled {
		return false
	}
	if s.breakerOpen {
		if now.Sub(s.lastFailureAt) < r.config.Cooldown {
			return false
		}
		// Cooldown elapsed: let the next request through and close optimistically.
		s.breakerOpen = false
		s.consecutiveFailures = 0
		logger.WithFields(logger.Fields{
			"source":   s.name,
			"cooldown": r.config.Cooldown.String(),
		}).Info("circuit breaker closed")
	}
	if now.Sub(s.windowStart) >= r.config.Window {
		s.requestCount = 0
		s.windowStart = now
	}
	return s.requestCount < s.rateLimit
}

// reportLocked ignores outcomes that land while the breaker is open: they
// belong to calls admitted before the trip, and the cooldown runs from the
// failure that tripped it.
func (r *Registry) reportLocked(s *sourceState, success bool, now time.Time) {
	if s.breakerOpen {
		return
	}
	if success {
		s.consecutiveFailures = 0
		return
	}
	s.consecutiveFailures++
	s.lastFailureAt = now
	if s.consecutiveFailures >= r.config.FailureThreshold {
		s.breakerOpen = true
		logger.WithFields(logger.Fields{
			"source":   s.name,
			"failures": s.consecutiveFailures,
			"cooldown": r.config.Cooldown.String(),
		}).Warn("circuit breaker opened")
	}
}

// Status returns a snapshot of every source without mutating any state.
func (r *Registry) Status() map[string]models.SourceStatus {
	now := r.now()
	out := make(map[string]models.SourceStatus, len(r.states))
	for _, name := range r.order {
		s := r.states[name]
		s.mu.Lock()
		state := models.BreakerClosed
		available := s.enabled
		if s.breakerOpen {
			if now.Sub(s.lastFailureAt) < r.config.Cooldown {
				state = models.BreakerOpen
				available = false
			} else {
				state = models.BreakerHalfOpen
			}
		}
		used := s.requestCount
		if now.Sub(s.windowStart) >= r.config.Window {
			used = 0
		}
		if used >= s.rateLimit {
			available = false
		}
		out[name] = models.SourceStatus{
			Name:          s.name,
			Enabled:       s.enabled,
			Available:     available,
			Priority:      s.priority,
			RequestsUsed:  used,
			RateLimit:     s.rateLimit,
			BreakerState:  state,
			Failures:      s.consecutiveFailures,
			LastFailureAt: s.lastFailureAt,
			Capabilities:  append([]string(nil), s.capabilities...),
		}
		s.mu.Unlock()
	}
	return out
}
