// Package resilience provides circuit breaker and retry patterns for external
// service calls.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state — requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitHalfOpen lets requests through as recovery probes; the first
	// recorded success closes the circuit and the first failure reopens it.
	CircuitHalfOpen
	// CircuitOpen means the recent error rate tripped the breaker — requests
	// are rejected immediately.
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// GaugeValue maps the state onto the 0/1/2 scale exported to observability.
func (s CircuitState) GaugeValue() float64 {
	return float64(s)
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// CallTimeout bounds each call run through the breaker. A timeout counts
	// as a failure. Default: 10s.
	CallTimeout time.Duration

	// ErrorRateThreshold is the failure fraction within the rolling window
	// that opens the circuit. Default: 0.5.
	ErrorRateThreshold float64

	// VolumeThreshold is the minimum number of calls in the rolling window
	// before the error rate is considered. Default: 10.
	VolumeThreshold int

	// RollingWindow is how far back calls count toward the error rate.
	// Default: 60s.
	RollingWindow time.Duration

	// ResetTimeout is how long the circuit stays open before transitioning
	// to half-open. Default: 30s.
	ResetTimeout time.Duration

	// ShouldTrip decides whether an error counts as a failure. If nil,
	// every non-nil error except client (4xx-class) faults counts: a caller
	// sending a bad request says nothing about the service's health.
	ShouldTrip func(err error) bool

	// OnStateChange is called when the circuit transitions between states.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		CallTimeout:        10 * time.Second,
		ErrorRateThreshold: 0.5,
		VolumeThreshold:    10,
		RollingWindow:      60 * time.Second,
		ResetTimeout:       30 * time.Second,
	}
}

type outcome struct {
	at     time.Time
	failed bool
}

// CircuitBreaker implements an error-rate circuit breaker for a single
// operation.
type CircuitBreaker struct {
	cfg   CircuitBreakerConfig
	mu    sync.Mutex
	state CircuitState

	window      []outcome
	lastFailure time.Time

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = 0.5
	}
	if cfg.VolumeThreshold <= 0 {
		cfg.VolumeThreshold = 10
	}
	if cfg.RollingWindow <= 0 {
		cfg.RollingWindow = 60 * time.Second
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// Execute runs fn through the circuit breaker with the configured call
// timeout. Returns ErrCircuitOpen without invoking fn if the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allowRequest(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, cb.cfg.CallTimeout)
	defer cancel()

	err := fn(callCtx)
	cb.recordResult(err)
	return err
}

// ExecuteVal is like Execute but preserves a return value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.allowRequest(); err != nil {
		return zero, err
	}

	callCtx, cancel := context.WithTimeout(ctx, cb.cfg.CallTimeout)
	defer cancel()

	val, err := fn(callCtx)
	cb.recordResult(err)
	return val, err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.nowFunc().Sub(cb.lastFailure) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the circuit back to closed state. Useful for testing or
// manual recovery.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	old := cb.state
	cb.state = CircuitClosed
	cb.window = nil
	if old != CircuitClosed && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(old, CircuitClosed)
	}
}

// Counters returns the windowed call volume, failure count, and state.
func (cb *CircuitBreaker) Counters() (volume, failures int, state CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.prune()
	for _, o := range cb.window {
		if o.failed {
			failures++
		}
	}
	return len(cb.window), failures, cb.state
}

func (cb *CircuitBreaker) allowRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if cb.nowFunc().Sub(cb.lastFailure) >= cb.cfg.ResetTimeout {
			cb.transition(CircuitHalfOpen)
			return nil // Allow probe request.
		}
		return ErrCircuitOpen
	case CircuitHalfOpen:
		return nil // Allow probe request.
	default:
		return nil
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	shouldTrip := cb.cfg.ShouldTrip
	if shouldTrip == nil {
		shouldTrip = func(e error) bool { return e != nil && !IsClientError(e) }
	}

	failed := shouldTrip(err)
	now := cb.nowFunc()
	cb.window = append(cb.window, outcome{at: now, failed: failed})
	cb.prune()

	if !failed {
		if cb.state == CircuitHalfOpen {
			cb.transition(CircuitClosed)
			cb.window = nil
		}
		return
	}

	cb.lastFailure = now

	switch cb.state {
	case CircuitClosed:
		volume := len(cb.window)
		failures := 0
		for _, o := range cb.window {
			if o.failed {
				failures++
			}
		}
		if volume >= cb.cfg.VolumeThreshold &&
			float64(failures)/float64(volume) >= cb.cfg.ErrorRateThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure in half-open reopens the circuit.
		cb.transition(CircuitOpen)
	}
}

// prune drops outcomes older than the rolling window. Caller holds cb.mu.
func (cb *CircuitBreaker) prune() {
	cutoff := cb.nowFunc().Add(-cb.cfg.RollingWindow)
	i := 0
	for ; i < len(cb.window); i++ {
		if cb.window[i].at.After(cutoff) {
			break
		}
	}
	cb.window = cb.window[i:]
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// ServiceBreakers manages circuit breakers keyed by executor and operation.
type ServiceBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
	onChange func(name string, to CircuitState)
}

// NewServiceBreakers creates a registry of per-operation circuit breakers.
// onChange, if non-nil, is invoked with the breaker name on every transition
// so callers can export state gauges.
func NewServiceBreakers(cfg CircuitBreakerConfig, onChange func(name string, to CircuitState)) *ServiceBreakers {
	return &ServiceBreakers{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
		onChange: onChange,
	}
}

// Get returns the circuit breaker for the named operation, creating one if needed.
func (sb *ServiceBreakers) Get(name string) *CircuitBreaker {
	sb.mu.RLock()
	cb, ok := sb.breakers[name]
	sb.mu.RUnlock()
	if ok {
		return cb
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	// Double-check after acquiring write lock.
	if cb, ok = sb.breakers[name]; ok {
		return cb
	}

	cfg := sb.cfg
	if sb.onChange != nil {
		breakerName := name
		cfg.OnStateChange = func(_, to CircuitState) {
			sb.onChange(breakerName, to)
		}
	}
	cb = NewCircuitBreaker(cfg)
	sb.breakers[name] = cb
	return cb
}

// States returns a snapshot of all circuit breaker states.
func (sb *ServiceBreakers) States() map[string]CircuitState {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	states := make(map[string]CircuitState, len(sb.breakers))
	for name, cb := range sb.breakers {
		states[name] = cb.State()
	}
	return states
}
