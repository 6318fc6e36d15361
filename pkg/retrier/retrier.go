// Package retrier polls an operation with backoff until it reports completion.
//
// The defaults give exponential backoff with jitter, tuned with WithInitialInterval,
// WithMaxInterval, WithMultiplier and WithJitter. Receipt polling uses the
// WithFixedInterval preset bounded by WithBudget.
package retrier

import (
	"context"
	"math/rand"
	"time"
)

const (
	defaultInitialInterval = 1 * time.Second
	defaultMaxInterval     = 30 * time.Second
	defaultMultiplier      = 2.0
	defaultMaxRetries      = 5
	defaultJitter          = 0.1
)

// Retrier repeats an operation with exponential backoff and jitter.
// Polling stops on success, on a non-retryable error, when the retry count or
// the wait budget is used up, or when the context is done.
type Retrier struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
	maxRetries      int
	jitter          float64
	budget          time.Duration
	retryIf         func(error) bool
	onRetry         func(attempt int, err error, wait time.Duration)
}

// Option defines a function to configure the Retrier.
type Option func(*Retrier)

// WithInitialInterval sets the initial retry interval.
func WithInitialInterval(d time.Duration) Option {
	return func(r *Retrier) {
		r.initialInterval = d
	}
}

// WithMaxInterval sets the maximum retry interval.
func WithMaxInterval(d time.Duration) Option {
	return func(r *Retrier) {
		r.maxInterval = d
	}
}

// WithMultiplier sets the backoff multiplier.
func WithMultiplier(m float64) Option {
	return func(r *Retrier) {
		r.multiplier = m
	}
}

// WithFixedInterval polls every d without growth or jitter.
func WithFixedInterval(d time.Duration) Option {
	return func(r *Retrier) {
		r.initialInterval = d
		r.maxInterval = d
		r.multiplier = 1
		r.jitter = 0
	}
}

// WithMaxRetries sets the maximum number of retries. A negative n means no limit.
func WithMaxRetries(n int) Option {
	return func(r *Retrier) {
		r.maxRetries = n
	}
}

// WithJitter sets the jitter factor (0.0 to 1.0).
func WithJitter(j float64) Option {
	return func(r *Retrier) {
		r.jitter = j
	}
}

// WithBudget caps the total time spent waiting between attempts.
func WithBudget(d time.Duration) Option {
	return func(r *Retrier) {
		r.budget = d
	}
}

// WithRetryIf limits retries to errors accepted by fn; any other error is returned at once.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) {
		r.retryIf = fn
	}
}

// WithOnRetry registers fn, called before every wait with the failed attempt number.
func WithOnRetry(fn func(attempt int, err error, wait time.Duration)) Option {
	return func(r *Retrier) {
		r.onRetry = fn
	}
}

// New creates a new Retrier with default values and optional overrides.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		multiplier:      defaultMultiplier,
		maxRetries:      defaultMaxRetries,
		jitter:          defaultJitter,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Do runs fn until it succeeds or polling stops, and returns the last error.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	interval := r.initialInterval
	var waited time.Duration

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if r.retryIf != nil && !r.retryIf(err) {
			return err
		}
		if r.maxRetries >= 0 && attempt > r.maxRetries {
			return err
		}

		wait := r.withJitter(interval)
		if r.budget > 0 {
			if waited >= r.budget {
				return err
			}
			if waited+wait > r.budget {
				wait = r.budget - waited
			}
		}
		if r.onRetry != nil {
			r.onRetry(attempt, err, wait)
		}

		if werr := sleep(ctx, wait); werr != nil {
			return werr
		}
		waited += wait
		interval = r.grow(interval)
	}
}

func (r *Retrier) withJitter(interval time.Duration) time.Duration {
	if r.jitter <= 0 {
		return interval
	}
	d := time.Duration(float64(interval) + (rand.Float64()*2-1)*r.jitter*float64(interval))
	if d < 0 {
		return 0
	}
	return d
}

func (r *Retrier) grow(interval time.Duration) time.Duration {
	next := time.Duration(float64(interval) * r.multiplier)
	if next > r.maxInterval {
		return r.maxInterval
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DoWithData executes the given function with retries and returns a value.
func DoWithData[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var e error
		result, e = fn(ctx)
		return e
	})
	return result, err
}
