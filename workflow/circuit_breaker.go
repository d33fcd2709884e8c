package workflow

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JuanCS-Dev/stepflow/types"
)

// CircuitState is the state of a recovery circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows recovery attempts normally.
	CircuitClosed CircuitState = iota
	// CircuitOpen denies recovery attempts until the recovery timeout elapses.
	CircuitOpen
	// CircuitHalfOpen allows limited probing attempts.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a recovery circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	// RecoveryTimeout is how long the circuit stays open before probing.
	RecoveryTimeout time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`
	// SuccessThreshold is the consecutive-success count in half-open that
	// closes the circuit.
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`
	// HalfOpenMaxProbes limits attempts allowed while half-open.
	HalfOpenMaxProbes int `json:"half_open_max_probes" yaml:"half_open_max_probes"`
}

// DefaultBreakerConfig returns the engine defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		SuccessThreshold:  2,
		HalfOpenMaxProbes: 3,
	}
}

// CircuitSnapshot is a serializable view of breaker state, persisted with
// the run record.
type CircuitSnapshot struct {
	Category    types.FailureCategory `json:"category"`
	State       string                `json:"state"`
	Failures    int                   `json:"failures"`
	Successes   int                   `json:"successes"`
	LastFailure time.Time             `json:"last_failure,omitempty"`
}

// CircuitBreaker gates recovery attempts for one failure category within one
// run. It is never shared across runs, so concurrent runs cannot interfere.
type CircuitBreaker struct {
	category types.FailureCategory
	config   BreakerConfig
	logger   *zap.Logger
	onChange func(oldState, newState CircuitState)

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	probes      int
	lastFailure time.Time
	now         func() time.Time
}

// NewCircuitBreaker creates a breaker for the given failure category.
// onChange, when non-nil, is invoked on every state transition.
func NewCircuitBreaker(category types.FailureCategory, config BreakerConfig, onChange func(oldState, newState CircuitState), logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		category: category,
		config:   config,
		onChange: onChange,
		logger:   logger.With(zap.String("component", "circuit_breaker"), zap.String("category", string(category))),
		state:    CircuitClosed,
		now:      time.Now,
	}
}

// AllowRecovery reports whether a recovery attempt may proceed. When open,
// it transitions to half-open and allows the attempt once the recovery
// timeout has elapsed since the last failure.
func (cb *CircuitBreaker) AllowRecovery() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true

	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.config.RecoveryTimeout {
			cb.transitionTo(CircuitHalfOpen, "recovery timeout elapsed")
			cb.probes = 1
			cb.successes = 0
			return true
		}
		return false

	case CircuitHalfOpen:
		if cb.probes < cb.config.HalfOpenMaxProbes {
			cb.probes++
			return true
		}
		return false

	default:
		return false
	}
}

// RecordSuccess records a successful recovery attempt.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0

	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(CircuitClosed, fmt.Sprintf("%d consecutive successes in half-open", cb.successes))
			cb.failures = 0
			cb.successes = 0
			cb.probes = 0
		}
	}
}

// RecordFailure records a failed recovery attempt.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.successes = 0
	cb.lastFailure = cb.now()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen, fmt.Sprintf("%d consecutive failures", cb.failures))
		}

	case CircuitHalfOpen:
		// Any failure while probing re-opens the circuit.
		cb.transitionTo(CircuitOpen, "failure in half-open state")
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns a serializable view of the breaker.
func (cb *CircuitBreaker) Snapshot() CircuitSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitSnapshot{
		Category:    cb.category,
		State:       cb.state.String(),
		Failures:    cb.failures,
		Successes:   cb.successes,
		LastFailure: cb.lastFailure,
	}
}

// transitionTo must be called with cb.mu held.
func (cb *CircuitBreaker) transitionTo(newState CircuitState, reason string) {
	oldState := cb.state
	cb.state = newState

	cb.logger.Info("circuit breaker state change",
		zap.String("old_state", oldState.String()),
		zap.String("new_state", newState.String()),
		zap.String("reason", reason),
		zap.Int("failures", cb.failures))

	if cb.onChange != nil {
		// Called outside the scheduler's outcome path; handlers must be quick.
		go cb.onChange(oldState, newState)
	}
}

// BreakerRegistry holds the per-category breakers for a single run. It is
// owned by the scheduler for the run's lifetime.
type BreakerRegistry struct {
	config   BreakerConfig
	onChange func(category types.FailureCategory, oldState, newState CircuitState)
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[types.FailureCategory]*CircuitBreaker
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(config BreakerConfig, onChange func(category types.FailureCategory, oldState, newState CircuitState), logger *zap.Logger) *BreakerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerRegistry{
		config:   config,
		onChange: onChange,
		logger:   logger,
		breakers: make(map[types.FailureCategory]*CircuitBreaker),
	}
}

// ForCategory returns the breaker for a category, creating it on first use.
func (r *BreakerRegistry) ForCategory(category types.FailureCategory) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[category]; ok {
		return cb
	}

	var onChange func(oldState, newState CircuitState)
	if r.onChange != nil {
		handler := r.onChange
		onChange = func(oldState, newState CircuitState) {
			handler(category, oldState, newState)
		}
	}
	cb := NewCircuitBreaker(category, r.config, onChange, r.logger)
	r.breakers[category] = cb
	return cb
}

// Snapshots returns serializable views of all breakers, sorted by category.
func (r *BreakerRegistry) Snapshots() []CircuitSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshots := make([]CircuitSnapshot, 0, len(r.breakers))
	for _, cb := range r.breakers {
		snapshots = append(snapshots, cb.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Category < snapshots[j].Category
	})
	return snapshots
}
