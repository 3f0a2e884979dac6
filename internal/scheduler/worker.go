package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/example/resale-repricer/internal/domain/bid"
	"github.com/example/resale-repricer/internal/internaltypes"
	"github.com/example/resale-repricer/internal/logging"
	"github.com/example/resale-repricer/internal/retry"
	"github.com/example/resale-repricer/internal/session"
	"github.com/example/resale-repricer/internal/sizes"
)

type worker struct {
	id  int
	act bid.Actuator
	log *logrus.Entry
}

type outcome struct {
	price    int64
	label    string
	conflict bool
}

// work runs one worker until the queue is settled, the run is cancelled, or
// the worker faults. A faulted worker is never reused.
func (r *run) work(id int) (faulted bool) {
	log := r.log.WithField("worker", id)
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).Error("worker panicked")
			faulted = true
		}
	}()

	act, err := r.p.deps.NewActuator(r.workCtx, id)
	if err != nil {
		logging.LogError(log, "pool", "NewActuator", id, err)
		return true
	}
	defer func() {
		if err := act.Close(); err != nil {
			log.WithError(err).Warn("closing actuator")
		}
	}()
	w := &worker{id: id, act: act, log: log}

	for {
		if r.runCtx.Err() != nil {
			return false
		}
		select {
		case <-r.runCtx.Done():
			return false
		case <-r.finished:
			return false
		case it := <-r.queue:
			if r.runCtx.Err() != nil {
				r.push(it)
				return false
			}
			if r.process(w, it) {
				return true
			}
		}
	}
}

// process takes one item through its retry budget. It reports whether the
// worker faulted and must be replaced.
func (r *run) process(w *worker, it *bid.Item) (faulted bool) {
	lock, ok, err := r.p.deps.Locks.TryLock(r.workCtx, it.LockKey())
	if err != nil {
		w.log.WithFields(itemFields(it)).WithError(err).Warn("item lock unavailable")
	}
	if err != nil || !ok {
		r.lockBusy(it)
		return false
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.workCtx), 5*time.Second)
		defer cancel()
		if err := lock.Release(ctx); err != nil {
			w.log.WithFields(itemFields(it)).WithError(err).Warn("releasing item lock")
		}
	}()
	defer func() {
		if rec := recover(); rec != nil {
			w.log.WithFields(itemFields(it)).WithField("panic", rec).Error("worker panicked outside an attempt")
			_ = it.Requeue()
			r.push(it)
			faulted = true
		}
	}()

	if err := it.Begin(); err != nil {
		w.log.WithFields(itemFields(it)).WithError(err).Warn("skipping item")
		r.settle()
		return false
	}

	var res outcome
	pol := r.policyFor(w, it)
	attempts, err := pol.Resume(r.workCtx, it.Attempts, func(ctx context.Context, n int) error {
		it.Attempts = n
		out, err := r.attempt(ctx, w, it)
		if err != nil {
			return r.checkAbort(err)
		}
		res = out
		return nil
	})
	it.Attempts = attempts

	class := retry.Classify(err)
	switch {
	case err == nil:
		_ = it.Succeed(res.price, res.label)
		it.SizeConflict = res.conflict
		r.record(it)
		r.settle()
		w.log.WithFields(itemFields(it)).WithFields(logrus.Fields{"price": res.price, "label": res.label}).Info("price set")
	case class == retry.Fault:
		w.log.WithFields(itemFields(it)).WithError(err).Error("worker fault")
		if attempts >= pol.MaxAttempts {
			r.fail(it, fmt.Errorf("%w: %w", internaltypes.ErrMaxRetriesExceeded, err))
			r.settle()
		} else {
			_ = it.Requeue()
			r.push(it)
		}
		return true
	case class == retry.Interrupted:
		_ = it.Interrupt()
		r.record(it)
		r.settle()
		w.log.WithFields(itemFields(it)).Warn("item interrupted")
	default:
		r.fail(it, err)
		r.settle()
	}
	return false
}

func (r *run) lockBusy(it *bid.Item) {
	r.mu.Lock()
	r.lockWaits[it.ID]++
	waits := r.lockWaits[it.ID]
	r.mu.Unlock()

	if waits > r.p.cfg.MaxLockWaits {
		r.log.WithFields(itemFields(it)).Warn("item stays locked elsewhere; leaving it pending")
		r.settle()
		return
	}
	time.AfterFunc(r.p.cfg.LockRetryDelay, func() { r.push(it) })
}

func (r *run) policyFor(w *worker, it *bid.Item) retry.Policy {
	pol := r.p.deps.Retry
	if pol.MaxAttempts <= 0 {
		pol.MaxAttempts = 1
	}
	sleep := pol.Sleep
	if sleep == nil {
		sleep = retry.SleepContext
	}
	// backoff is cut short by shutdown, not by the grace period
	pol.Sleep = func(_ context.Context, d time.Duration) error { return sleep(r.runCtx, d) }
	pol.Observe = func(n int, err error, class retry.Class) {
		rec := bid.AttemptRecord{ItemID: it.ID, Attempt: n, Worker: w.id, Outcome: class.String(), At: time.Now().UTC()}
		fields := itemFields(it)
		fields["attempt"] = n
		fields["outcome"] = class.String()
		if err != nil {
			rec.Reason = internaltypes.Reason(err)
			rec.Err = err.Error()
			w.log.WithFields(fields).WithError(err).Info("attempt failed")
		} else {
			w.log.WithFields(fields).Debug("attempt succeeded")
		}
		r.recordAttempt(rec)
	}
	return pol
}

func (r *run) checkAbort(err error) error {
	if !r.p.cfg.AbortOnSessionFailure || retry.Classify(err) != retry.Session {
		return err
	}
	r.mu.Lock()
	if r.sessionErr == nil {
		r.sessionErr = err
		r.log.WithError(err).Error("aborting run on session failure")
	}
	r.mu.Unlock()
	r.abort(err)
	return fmt.Errorf("%w: %w", internaltypes.ErrInterrupted, err)
}

// attempt performs one full repricing pass over an item.
func (r *run) attempt(parent context.Context, w *worker, it *bid.Item) (res outcome, err error) {
	ctx, cancel := parent, context.CancelFunc(func() {})
	if t := r.p.cfg.AttemptTimeout; t > 0 {
		ctx, cancel = context.WithTimeout(parent, t)
	}
	defer cancel()

	step := "acquire"
	defer func() {
		if rec := recover(); rec != nil {
			err = &internaltypes.FaultError{Err: fmt.Errorf("panic during %s: %v", step, rec)}
		}
		err = deadlineToTimeout(ctx, parent, step, err)
	}()

	cred, err := r.p.deps.Sessions.Acquire(ctx)
	if err != nil {
		return outcome{}, err
	}

	step = "load"
	page, err := w.act.Load(ctx, cred, it.URL)
	if err != nil {
		return outcome{}, r.actuationFailed(cred, err)
	}

	step = "read_size_table"
	table, err := w.act.ReadSizeTable(ctx, page)
	if err != nil {
		return outcome{}, r.actuationFailed(cred, err)
	}

	step = "match"
	match, err := r.p.deps.Matcher.Match(it.Brand, it.Size, table)
	if err != nil {
		return outcome{}, err
	}

	step = "price"
	quote, err := r.p.deps.Engine.ComputePrice(it.FloorPrice, r.p.cfg.PriceStep, r.p.deps.Strategy)
	if err != nil {
		return outcome{}, err
	}

	step = "set_price"
	if err := w.act.SetPrice(ctx, page, match, quote.Price); err != nil {
		return outcome{}, r.actuationFailed(cred, err)
	}
	return outcome{price: quote.Price, label: labelOf(match), conflict: match.Conflict}, nil
}

func (r *run) actuationFailed(cred session.Credential, err error) error {
	if retry.Classify(err) == retry.Session {
		r.p.deps.Sessions.Invalidate(cred)
	}
	return err
}

// deadlineToTimeout reports failures caused by the attempt deadline as
// timeouts, leaving terminal, session and shutdown outcomes alone.
func deadlineToTimeout(ctx, parent context.Context, step string, err error) error {
	if err == nil || !errors.Is(ctx.Err(), context.DeadlineExceeded) || parent.Err() != nil {
		return err
	}
	var te *internaltypes.TimeoutError
	if errors.As(err, &te) {
		return err
	}
	switch retry.Classify(err) {
	case retry.Transient, retry.Fault:
		return &internaltypes.TimeoutError{Op: step, Err: err}
	}
	return err
}

func labelOf(m sizes.Result) string {
	if m.Tab == "" {
		return m.Label
	}
	return m.Tab + ": " + m.Label
}
