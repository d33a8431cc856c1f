package resilience

import (
	"context"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	// StateClosed lets calls through and counts consecutive failures.
	StateClosed State = iota

	// StateOpen rejects calls until the cooldown has elapsed.
	StateOpen

	// StateHalfOpen lets calls through to probe for recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Default breaker values.
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultBreakerTimeout   = 60 * time.Second
)

// CircuitBreakerConfig holds configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the circuit breaker for logging/metrics.
	Name string

	// FailureThreshold is the number of consecutive failures in the closed state
	// that trips the breaker.
	// Default: 5
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes in the half-open
	// state required to close the breaker.
	// Default: 2
	SuccessThreshold int

	// Timeout is the period of open state before a probe is let through.
	// Default: 60 seconds
	Timeout time.Duration

	// Clock drives all breaker timing. Default: SystemClock.
	Clock Clock

	// OnStateChange is called after the breaker changes state, outside its lock.
	OnStateChange func(name string, from, to State)
}

// DefaultCircuitBreakerConfig returns a sensible default configuration.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: DefaultFailureThreshold,
		SuccessThreshold: DefaultSuccessThreshold,
		Timeout:          DefaultBreakerTimeout,
		Clock:            SystemClock,
	}
}

// CircuitBreaker guards a single external dependency. Safe for concurrent use.
type CircuitBreaker struct {
	name string
	cfg  CircuitBreakerConfig

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime *time.Time
	lastSuccessTime *time.Time
	nextAttemptTime *time.Time
}

// BreakerSnapshot is a point-in-time copy of a breaker's state.
type BreakerSnapshot struct {
	Name            string
	State           State
	FailureCount    int
	SuccessCount    int
	LastFailureTime *time.Time
	LastSuccessTime *time.Time
	NextAttemptTime *time.Time
}

type transition struct {
	from, to State
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultSuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBreakerTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}

	return &CircuitBreaker{
		name:  cfg.Name,
		cfg:   cfg,
		state: StateClosed,
	}
}

// Execute runs op through the breaker. While the breaker is open the operation is not
// invoked and a CIRCUIT_OPEN error is returned. A panic inside op counts as a failure
// and is returned as EXECUTION_ERROR.
func Execute[T any](ctx context.Context, cb *CircuitBreaker, op func(context.Context) (T, error)) (T, error) {
	if err := cb.allow(); err != nil {
		var zero T
		return zero, err
	}

	result, err := safeCall(ctx, op)
	cb.record(err)

	return result, err
}

// Do runs op through the breaker, for operations that return no value.
func (cb *CircuitBreaker) Do(ctx context.Context, op func(context.Context) error) error {
	_, err := Execute(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state. An open breaker whose cooldown has elapsed still
// reports open until the next call moves it to half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns a copy of the breaker's counters and timestamps.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerSnapshot{
		Name:            cb.name,
		State:           cb.state,
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		LastFailureTime: copyTime(cb.lastFailureTime),
		LastSuccessTime: copyTime(cb.lastSuccessTime),
		NextAttemptTime: copyTime(cb.nextAttemptTime),
	}
}

// Reset forces the breaker closed and clears all counters and timestamps.
// For operator recovery actions and tests only.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastFailureTime = nil
	cb.lastSuccessTime = nil
	cb.nextAttemptTime = nil
	cb.mu.Unlock()

	if from != StateClosed {
		cb.notify(transition{from: from, to: StateClosed})
	}
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()

	if cb.state != StateOpen {
		cb.mu.Unlock()
		return nil
	}

	now := cb.cfg.Clock.Now()
	if cb.nextAttemptTime != nil && now.Before(*cb.nextAttemptTime) {
		next := *cb.nextAttemptTime
		cb.mu.Unlock()

		return NewError(CodeCircuitOpen, "circuit breaker is open").
			WithDetail("circuit", cb.name).
			WithDetail("nextAttemptTime", next).
			WithDetail("waitTime", next.Sub(now))
	}

	t := cb.setState(StateHalfOpen, now)
	cb.mu.Unlock()

	cb.notify(t)
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()

	now := cb.cfg.Clock.Now()
	var t transition

	if err == nil {
		cb.lastSuccessTime = &now
		switch cb.state {
		case StateClosed:
			cb.failureCount = 0
		case StateHalfOpen:
			cb.successCount++
			if cb.successCount >= cb.cfg.SuccessThreshold {
				t = cb.setState(StateClosed, now)
			}
		}
	} else {
		cb.lastFailureTime = &now
		switch cb.state {
		case StateClosed:
			cb.failureCount++
			if cb.failureCount >= cb.cfg.FailureThreshold {
				t = cb.setState(StateOpen, now)
			}
		case StateHalfOpen:
			t = cb.setState(StateOpen, now)
		}
	}

	cb.mu.Unlock()
	cb.notify(t)
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(to State, now time.Time) transition {
	from := cb.state
	cb.state = to

	switch to {
	case StateOpen:
		next := now.Add(cb.cfg.Timeout)
		cb.nextAttemptTime = &next
		cb.successCount = 0
	case StateHalfOpen:
		cb.successCount = 0
	case StateClosed:
		cb.failureCount = 0
		cb.successCount = 0
		cb.nextAttemptTime = nil
	}

	return transition{from: from, to: to}
}

func (cb *CircuitBreaker) notify(t transition) {
	if t.from == t.to || cb.cfg.OnStateChange == nil {
		return
	}
	cb.cfg.OnStateChange(cb.name, t.from, t.to)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
