// ABOUTME: Bounded exponential-backoff retry for upstream API calls
// ABOUTME: Wraps cenkalti/backoff and surfaces exhausted retries as ExhaustedError
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultAttempts  = 3
	DefaultBaseDelay = 2 * time.Second
	DefaultMaxDelay  = 10 * time.Second
)

// Policy bounds how often and how patiently a call is retried.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// OnRetry, when set, is called before each wait with the failure and
	// the upcoming delay.
	OnRetry func(op string, err error, wait time.Duration)
}

func DefaultPolicy() Policy {
	return Policy{
		Attempts:  DefaultAttempts,
		BaseDelay: DefaultBaseDelay,
		MaxDelay:  DefaultMaxDelay,
	}
}

// ExhaustedError reports an upstream call that kept failing after every
// allowed attempt.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Permanent marks err as not worth retrying. Do returns the wrapped error
// as-is.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs fn until it succeeds, returns a Permanent error, the context ends,
// or the policy's attempts are used up.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	p = p.normalized()

	attempts := 0
	permanent := false
	operation := func() error {
		attempts++
		err := fn(ctx)
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
		}
		return err
	}

	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = func(err error, wait time.Duration) {
			p.OnRetry(op, err, wait)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(p.Attempts-1)), ctx)
	err := backoff.RetryNotify(operation, b, notify)
	if err == nil || permanent {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &ExhaustedError{Op: op, Attempts: attempts, Err: err}
}

// DoValue is Do for calls that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// Delay is the wait after the given failed attempt (1-based): BaseDelay
// doubled per attempt, capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	b := p.normalized().backOff()
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// backOff is deterministic: no jitter and no elapsed-time cutoff, the
// attempt limit bounds the run.
func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (p Policy) normalized() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}
