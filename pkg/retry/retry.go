// Package retry re-runs a short, idempotent check until it succeeds or a
// time budget is spent. drone uses it to wait for a freshly created tmux
// server to answer instead of sleeping a fixed amount.
//
// Usage:
//
//	err := retry.Do(ctx, retry.Readiness(), func(ctx context.Context) error {
//	    return client.HasSession(ctx, name)
//	})
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/recondrone/drone/pkg/duration"
)

// ErrExhausted is returned, wrapping the last check error, when the
// budget runs out before the check succeeds.
var ErrExhausted = errors.New("retry: budget exhausted")

// Policy bounds a retry loop.
type Policy struct {
	Delay    time.Duration // Wait after the first failure.
	Factor   float64       // Multiplier applied to the delay after each failure. Values < 1 mean constant.
	MaxDelay time.Duration // Cap on a single wait. Zero means no cap.
	Budget   time.Duration // Total time allowed across attempts. Zero means a single attempt.
}

// Readiness is the policy used to wait for the tmux server.
func Readiness() Policy {
	return Policy{
		Delay:    duration.SessionReady / 4,
		Factor:   2,
		MaxDelay: duration.SessionReady,
		Budget:   duration.SessionReadyMax,
	}
}

// StopError marks an error as permanent: Do returns it at once.
type StopError struct {
	Err error
}

func (e *StopError) Error() string { return e.Err.Error() }
func (e *StopError) Unwrap() error { return e.Err }

// Stop wraps err so that Do returns it without further attempts.
func Stop(err error) error {
	return &StopError{Err: err}
}

// clock abstracts time so tests can run the loop without sleeping.
type clock interface {
	now() time.Time
	sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) now() time.Time { return time.Now() }

func (realClock) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do calls check until it returns nil, the budget is spent, check returns
// a StopError, or ctx ends. The check always runs at least once.
func Do(ctx context.Context, p Policy, check func(ctx context.Context) error) error {
	return do(ctx, p, check, realClock{})
}

func do(ctx context.Context, p Policy, check func(ctx context.Context) error, c clock) error {
	deadline := c.now().Add(p.Budget)
	delay := p.Delay

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := check(ctx)
		if err == nil {
			return nil
		}

		var stop *StopError
		if errors.As(err, &stop) {
			return stop.Err
		}

		remaining := deadline.Sub(c.now())
		if remaining <= 0 {
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}

		wait := min(delay, remaining)
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
		delay = p.next(delay)
	}
}

func (p Policy) next(d time.Duration) time.Duration {
	if p.Factor > 1 {
		d = time.Duration(float64(d) * p.Factor)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
