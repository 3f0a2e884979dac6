// Package retry classifies item failures and drives bounded retries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/example/resale-repricer/internal/internaltypes"
)

type Class int

const (
	Success Class = iota
	Transient
	Session     // retryable; the caller invalidates its credential
	Terminal    // recorded, never retried
	Interrupted // run is shutting down
	Fault       // the worker is unusable
)

func (c Class) String() string {
	switch c {
	case Success:
		return "success"
	case Transient:
		return "transient"
	case Session:
		return "session"
	case Terminal:
		return "terminal"
	case Interrupted:
		return "interrupted"
	case Fault:
		return "fault"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Classify maps an attempt error to a retry class. Unknown errors are faults.
func Classify(err error) Class {
	if err == nil {
		return Success
	}
	var (
		soldOut  *internaltypes.SoldOutError
		notFound *internaltypes.SizeNotFoundError
		price    *internaltypes.PriceConstraintError
		rejected *internaltypes.RejectedError
		sess     *internaltypes.SessionError
		timeout  *internaltypes.TimeoutError
		act      *internaltypes.ActuationError
		conflict *internaltypes.ConversionConflictError
		netErr   net.Error
	)
	switch {
	case errors.Is(err, internaltypes.ErrInterrupted), errors.Is(err, context.Canceled):
		return Interrupted
	case errors.Is(err, internaltypes.ErrMaxRetriesExceeded), errors.Is(err, internaltypes.ErrPoolExhausted):
		return Terminal
	case errors.As(err, &soldOut), errors.As(err, &notFound), errors.As(err, &price), errors.As(err, &rejected),
		errors.As(err, &conflict):
		return Terminal
	case errors.As(err, &sess), errors.Is(err, internaltypes.ErrUnauthorized):
		return Session
	case errors.As(err, &timeout), errors.As(err, &act), errors.Is(err, context.DeadlineExceeded):
		return Transient
	case errors.As(err, &netErr) && netErr.Timeout():
		return Transient
	}
	return Fault
}

// DelayFunc returns the wait before the attempt following attempt n (1-based).
type DelayFunc func(n int) time.Duration

// Sleeper waits d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// Observer sees every attempt outcome.
type Observer func(attempt int, err error, class Class)

// Op is one attempt; attempt is 1-based and counts across resumptions.
type Op func(ctx context.Context, attempt int) error

func Fixed(d time.Duration) DelayFunc {
	return func(int) time.Duration { return d }
}

// Exponential waits base*2^(n-1), capped at ceiling.
func Exponential(base, ceiling time.Duration) DelayFunc {
	return func(n int) time.Duration {
		if n <= 0 {
			return base
		}
		d := float64(base) * math.Pow(2, float64(n-1))
		if d > float64(ceiling) {
			return ceiling
		}
		return time.Duration(d)
	}
}

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

type Policy struct {
	MaxAttempts int // total attempts per item, at least 1
	Delay       DelayFunc
	Sleep       Sleeper
	Classify    func(error) Class
	Observe     Observer
}

// Do runs op from a fresh attempt budget.
func (p Policy) Do(ctx context.Context, op Op) (int, error) {
	return p.Resume(ctx, 0, op)
}

// Resume continues an item whose budget already has done attempts spent.
// It returns the total attempts made so far and the final error:
// nil on success, the terminal or fault error as is, an error wrapping
// ErrInterrupted on cancellation, or one wrapping ErrMaxRetriesExceeded and
// the last failure once the budget is gone.
func (p Policy) Resume(ctx context.Context, done int, op Op) (int, error) {
	limit := p.MaxAttempts
	if limit <= 0 {
		limit = 1
	}
	classify := p.Classify
	if classify == nil {
		classify = Classify
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	attempts := done
	var last error
	for attempts < limit {
		if err := ctx.Err(); err != nil {
			return attempts, interrupted(err)
		}
		attempts++
		err := op(ctx, attempts)
		class := classify(err)
		if p.Observe != nil {
			p.Observe(attempts, err, class)
		}

		switch class {
		case Success:
			return attempts, nil
		case Terminal, Fault:
			return attempts, err
		case Interrupted:
			return attempts, interrupted(err)
		}

		last = err
		if attempts >= limit {
			break
		}
		var d time.Duration
		if p.Delay != nil {
			d = p.Delay(attempts)
		}
		if err := sleep(ctx, d); err != nil {
			return attempts, interrupted(err)
		}
	}

	if last == nil {
		return attempts, fmt.Errorf("%w: budget of %d attempts already spent", internaltypes.ErrMaxRetriesExceeded, limit)
	}
	return attempts, fmt.Errorf("%w after %d attempts: %w", internaltypes.ErrMaxRetriesExceeded, attempts, last)
}

func interrupted(err error) error {
	if errors.Is(err, internaltypes.ErrInterrupted) {
		return err
	}
	return fmt.Errorf("%w: %w", internaltypes.ErrInterrupted, err)
}
