package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is returned when the attempt budget runs out before the
// operation reports completion.
var ErrExhausted = errors.New("retry budget exhausted")

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy describes one polling/retry schedule.
type Policy struct {
	// MaxAttempts bounds the number of calls to the operation. Zero means unbounded.
	MaxAttempts int
	// Interval is the fixed delay, or the initial delay when Multiplier > 1.
	Interval time.Duration
	// Multiplier > 1 switches to exponential backoff.
	Multiplier float64
	// MaxInterval caps exponential delays. Zero means no cap.
	MaxInterval time.Duration
	// Sleep is replaceable so tests can run without real delays.
	Sleep SleepFunc
}

// Fixed returns a constant-interval policy.
func Fixed(interval time.Duration, maxAttempts int) Policy {
	return Policy{MaxAttempts: maxAttempts, Interval: interval}
}

// WithSleep returns a copy of the policy using the given sleep hook.
func (p Policy) WithSleep(sleep SleepFunc) Policy {
	p.Sleep = sleep
	return p
}

// Operation is invoked once per attempt (starting at 0). It returns done=true
// to stop successfully, or a non-nil error to abort immediately.
type Operation func(ctx context.Context, attempt int) (done bool, err error)

// Do runs op until it reports done, returns an error, ctx ends, or the
// attempt budget is exhausted.
func (p Policy) Do(ctx context.Context, op Operation) error {
	b := p.newBackOff()
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	for attempt := 0; ; attempt++ {
		done, err := op(ctx, attempt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		next := b.NextBackOff()
		if next == backoff.Stop {
			return ErrExhausted
		}
		if err := sleep(ctx, next); err != nil {
			return err
		}
	}
}

func (p Policy) newBackOff() backoff.BackOff {
	var b backoff.BackOff
	if p.Multiplier > 1 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.Interval
		eb.Multiplier = p.Multiplier
		eb.RandomizationFactor = 0
		eb.MaxElapsedTime = 0
		if p.MaxInterval > 0 {
			eb.MaxInterval = p.MaxInterval
		} else {
			eb.MaxInterval = time.Duration(1<<63 - 1)
		}
		b = eb
	} else {
		b = backoff.NewConstantBackOff(p.Interval)
	}

	if p.MaxAttempts > 0 {
		// WithMaxRetries counts sleeps, not calls.
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	b.Reset()
	return b
}

// SleepContext sleeps for d unless ctx is cancelled first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoSleep is a SleepFunc that returns immediately.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
