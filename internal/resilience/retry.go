package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// jitterFraction is the maximum jitter added on top of a computed delay.
const jitterFraction = 0.1

// RetryConfig describes how an idempotent operation is retried. Delays grow
// exponentially with jitter unless Linear or DisableJitter is set.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	// Default: 3
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	// Default: 100ms
	BaseDelay time.Duration

	// MaxDelay caps the computed delay before jitter. Zero means no cap.
	// Default: 5 seconds
	MaxDelay time.Duration

	// Linear grows the delay by BaseDelay per attempt instead of doubling it.
	Linear bool

	// DisableJitter turns off the random extra of up to 10% of the delay.
	DisableJitter bool

	// RetryableErrors, when non-empty, lists the only codes that are retried.
	RetryableErrors []Code
}

// DefaultRetryConfig returns sensible defaults for retrying transient failures.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// IsRetryable reports whether a failure with code may be retried.
func (c RetryConfig) IsRetryable(code Code) bool {
	if len(c.RetryableErrors) == 0 {
		return true
	}
	return slices.Contains(c.RetryableErrors, code)
}

// Delay returns the wait before retry number attempt+1. random must be in [0, 1) and
// is ignored when DisableJitter is set.
func (c RetryConfig) Delay(attempt int, random float64) time.Duration {
	if c.BaseDelay <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	var delay time.Duration
	if c.Linear {
		delay = linear(c.BaseDelay, attempt)
	} else {
		delay = exponential(c.BaseDelay, attempt)
	}

	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}

	if !c.DisableJitter {
		extra := time.Duration(random * jitterFraction * float64(delay))
		if delay <= math.MaxInt64-extra {
			delay += extra
		}
	}

	return delay.Truncate(time.Millisecond)
}

const maxShift = 62

func exponential(base time.Duration, attempt int) time.Duration {
	if attempt > maxShift {
		attempt = maxShift
	}
	multiplier := int64(1) << attempt
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}
	return base * time.Duration(multiplier)
}

func linear(base time.Duration, attempt int) time.Duration {
	n := int64(attempt) + 1
	if int64(base) > math.MaxInt64/n {
		return time.Duration(math.MaxInt64)
	}
	return base * time.Duration(n)
}

// RetryResult is the outcome of RetryWithBackoff.
type RetryResult[T any] struct {
	Value     T
	Attempts  int
	TotalTime time.Duration
}

// Retrier carries the clock, randomness and logger used by RetryWithBackoff.
// A nil *Retrier uses the system clock and math/rand.
type Retrier struct {
	clock  Clock
	random func() float64
	logger zerolog.Logger
}

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

// WithRetryClock sets the clock used for backoff sleeps and elapsed time.
func WithRetryClock(clock Clock) RetrierOption {
	return func(r *Retrier) {
		r.clock = clock
	}
}

// WithRandom sets the jitter source. fn must return values in [0, 1).
func WithRandom(fn func() float64) RetrierOption {
	return func(r *Retrier) {
		r.random = fn
	}
}

// WithRetryLogger sets the logger used to report retries.
func WithRetryLogger(logger zerolog.Logger) RetrierOption {
	return func(r *Retrier) {
		r.logger = logger
	}
}

// NewRetrier creates a Retrier.
func NewRetrier(opts ...RetrierOption) *Retrier {
	r := &Retrier{
		clock:  SystemClock,
		random: rand.Float64,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var defaultRetrier = NewRetrier()

// RetryWithBackoff invokes op up to cfg.MaxRetries+1 times, sleeping between attempts
// according to cfg. A failure whose code is not retryable is returned at once. On
// exhaustion the last error is returned. The result always reports the number of
// attempts and the elapsed time. Context cancellation interrupts the backoff sleep.
func RetryWithBackoff[T any](ctx context.Context, r *Retrier, cfg RetryConfig, op func(context.Context) (T, error)) (RetryResult[T], error) {
	if r == nil {
		r = defaultRetrier
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var b backoff.BackOff = &delayPolicy{cfg: cfg, random: r.random}
	b = backoff.WithMaxRetries(b, uint64(maxRetries))
	b = backoff.WithContext(b, ctx)

	var (
		result  RetryResult[T]
		lastErr error
	)
	start := r.clock.Now()

	operation := func() error {
		result.Attempts++

		value, err := safeCall(ctx, op)
		if err == nil {
			result.Value = value
			return nil
		}

		lastErr = err
		if !cfg.IsRetryable(CodeOf(err)) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		r.logger.Debug().
			Err(err).
			Int("attempt", result.Attempts).
			Int("max_retries", maxRetries).
			Dur("delay", delay).
			Msg("retrying operation")
	}

	err := backoff.RetryNotifyWithTimer(operation, b, notify, r.timer())
	result.TotalTime = r.clock.Now().Sub(start)

	if err == nil {
		return result, nil
	}
	if lastErr != nil {
		return result, lastErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, WrapError(CodeExecution, "retry aborted", ctxErr).
			WithDetail("attempts", result.Attempts)
	}
	return result, NewError(CodeMaxRetriesExceeded, "max retries exceeded").
		WithDetail("attempts", result.Attempts)
}

func (r *Retrier) timer() backoff.Timer {
	if r.clock == SystemClock {
		return nil
	}
	return &clockTimer{clock: r.clock}
}

// delayPolicy adapts RetryConfig.Delay to backoff.BackOff. Retry limits are enforced by
// backoff.WithMaxRetries.
type delayPolicy struct {
	cfg     RetryConfig
	random  func() float64
	attempt int
}

func (p *delayPolicy) NextBackOff() time.Duration {
	d := p.cfg.Delay(p.attempt, p.random())
	p.attempt++
	return d
}

func (p *delayPolicy) Reset() {
	p.attempt = 0
}

// clockTimer implements backoff.Timer on top of a Clock.
type clockTimer struct {
	clock Clock
	c     <-chan time.Time
}

func (t *clockTimer) Start(d time.Duration) {
	t.c = t.clock.After(d)
}

func (t *clockTimer) Stop() {}

func (t *clockTimer) C() <-chan time.Time {
	return t.c
}
