// Package scheduler runs a batch of bid items through a bounded pool of
// workers, each owning one actuator.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/example/resale-repricer/internal/domain/bid"
	"github.com/example/resale-repricer/internal/failurelog"
	"github.com/example/resale-repricer/internal/internaltypes"
	"github.com/example/resale-repricer/internal/lockset"
	"github.com/example/resale-repricer/internal/logging"
	"github.com/example/resale-repricer/internal/pricing"
	"github.com/example/resale-repricer/internal/retry"
	"github.com/example/resale-repricer/internal/session"
	"github.com/example/resale-repricer/internal/sizes"
)

type CredentialSource interface {
	Acquire(ctx context.Context) (session.Credential, error)
	Invalidate(cred session.Credential)
}

type SizeMatcher interface {
	Match(brand, target string, table sizes.Table) (sizes.Result, error)
}

type FailureSink interface {
	Append(e failurelog.Entry) (int, error)
}

// ActuatorFactory opens the actuator for a (re)started worker.
type ActuatorFactory func(ctx context.Context, worker int) (bid.Actuator, error)

type Config struct {
	Workers        int
	MaxRestarts    int
	AttemptTimeout time.Duration
	ShutdownGrace  time.Duration
	PriceStep      int64
	// LockRetryDelay is the wait before retrying an item locked elsewhere;
	// after MaxLockWaits such waits the item is left pending.
	LockRetryDelay        time.Duration
	MaxLockWaits          int
	AbortOnSessionFailure bool
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.MaxRestarts < 0 {
		c.MaxRestarts = 0
	}
	if c.LockRetryDelay <= 0 {
		c.LockRetryDelay = 500 * time.Millisecond
	}
	if c.MaxLockWaits <= 0 {
		c.MaxLockWaits = 120
	}
	return c
}

type Deps struct {
	Sessions    CredentialSource
	NewActuator ActuatorFactory
	Matcher     SizeMatcher
	Engine      pricing.Engine
	Strategy    *pricing.Strategy
	Retry       retry.Policy
	Locks       lockset.Locker     // defaults to an in-process lock set
	Recorder    bid.Recorder       // optional
	Failures    FailureSink        // optional
	Log         logrus.FieldLogger // optional
}

type Pool struct {
	cfg  Config
	deps Deps
	log  *logrus.Entry
}

func NewPool(cfg Config, deps Deps) *Pool {
	if deps.Locks == nil {
		deps.Locks = lockset.NewMemory()
	}
	return &Pool{cfg: cfg.withDefaults(), deps: deps, log: logging.Component(deps.Log, "pool")}
}

type Summary struct {
	RunID       string         `json:"run_id"`
	Started     time.Time      `json:"started"`
	Finished    time.Time      `json:"finished"`
	Total       int            `json:"total"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	Interrupted int            `json:"interrupted"`
	NotStarted  int            `json:"not_started"`
	Restarts    int            `json:"restarts"`
	Reasons     map[string]int `json:"reasons"`
}

// Run processes items until every one is settled or ctx ends. On
// cancellation no new item starts; in-flight items get ShutdownGrace before
// their contexts are cancelled. Items never started stay pending.
func (p *Pool) Run(ctx context.Context, items []*bid.Item) (Summary, error) {
	sum := Summary{
		RunID:   uuid.NewString(),
		Started: time.Now().UTC(),
		Total:   len(items),
		Reasons: map[string]int{},
	}
	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	r := &run{
		p:         p,
		log:       p.log.WithField("run", sum.RunID),
		runCtx:    runCtx,
		abort:     abort,
		workCtx:   workCtx,
		queue:     make(chan *bid.Item, len(items)),
		finished:  make(chan struct{}),
		lockWaits: map[string]int{},
	}
	for _, it := range items {
		if it.Status.Terminal() {
			continue
		}
		r.queue <- it
		r.remaining++
	}
	if r.remaining == 0 {
		r.finish()
	}

	stopGrace := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
		case <-stopGrace:
			return
		}
		t := time.NewTimer(p.cfg.ShutdownGrace)
		defer t.Stop()
		select {
		case <-t.C:
			cancelWork()
		case <-stopGrace:
		}
	}()

	r.log.WithFields(logrus.Fields{"items": r.remaining, "workers": p.cfg.Workers}).Info("run started")
	r.mu.Lock()
	for i := 0; i < p.cfg.Workers && i < r.remaining; i++ {
		r.spawnLocked()
	}
	r.mu.Unlock()
	r.wg.Wait()
	close(stopGrace)

	r.settleLeftovers(items)
	for _, it := range items {
		switch it.Status {
		case bid.StatusSucceeded:
			sum.Succeeded++
		case bid.StatusFailed:
			sum.Failed++
			sum.Reasons[it.Reason]++
		case bid.StatusInterrupted:
			sum.Interrupted++
			sum.Reasons[it.Reason]++
		default:
			sum.NotStarted++
		}
	}
	sum.Restarts = r.restarts
	sum.Finished = time.Now().UTC()

	r.log.WithFields(logrus.Fields{
		"succeeded":   sum.Succeeded,
		"failed":      sum.Failed,
		"interrupted": sum.Interrupted,
		"not_started": sum.NotStarted,
		"restarts":    sum.Restarts,
	}).Info("run finished")

	switch {
	case r.sessionErr != nil:
		return sum, fmt.Errorf("run aborted on session failure: %w", r.sessionErr)
	case r.exhausted:
		return sum, internaltypes.ErrPoolExhausted
	case ctx.Err() != nil:
		return sum, fmt.Errorf("%w: %w", internaltypes.ErrInterrupted, ctx.Err())
	}
	return sum, nil
}

type run struct {
	p       *Pool
	log     *logrus.Entry
	runCtx  context.Context
	abort   context.CancelCauseFunc
	workCtx context.Context
	queue   chan *bid.Item

	finished   chan struct{}
	finishOnce sync.Once
	wg         sync.WaitGroup

	mu         sync.Mutex
	remaining  int
	active     int
	restarts   int
	nextWorker int
	exhausted  bool
	sessionErr error
	lockWaits  map[string]int
}

func (r *run) finish() { r.finishOnce.Do(func() { close(r.finished) }) }

// settle marks one item as done with for this run.
func (r *run) settle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining--
	if r.remaining <= 0 {
		r.finish()
	}
}

func (r *run) push(it *bid.Item) {
	select {
	case r.queue <- it:
	default:
		// capacity is the batch size and an item sits in one place at a time
		r.log.WithField("item", it.ID).Error("queue full; dropping item")
	}
}

func (r *run) spawnLocked() {
	r.nextWorker++
	id := r.nextWorker
	r.active++
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		faulted := r.work(id)
		r.exit(id, faulted)
	}()
}

func (r *run) exit(id int, faulted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active--
	live := r.runCtx.Err() == nil && r.remaining > 0
	if faulted && live {
		if r.restarts < r.p.cfg.MaxRestarts {
			r.restarts++
			r.log.WithFields(logrus.Fields{"worker": id, "restarts": r.restarts}).Warn("replacing faulted worker")
			r.spawnLocked()
			return
		}
		r.log.WithField("worker", id).Warn("restart budget spent; pool shrinks")
	}
	if r.active == 0 && live {
		r.exhausted = true
		r.log.WithField("remaining", r.remaining).Error("no workers left")
		r.finish()
	}
}

// settleLeftovers runs after every worker has exited.
func (r *run) settleLeftovers(items []*bid.Item) {
	for _, it := range items {
		if it.Status.Terminal() || it.Status == bid.StatusInterrupted {
			continue
		}
		switch {
		case r.exhausted:
			r.fail(it, internaltypes.ErrPoolExhausted)
		case it.Attempts > 0:
			_ = it.Interrupt()
			r.record(it)
		}
	}
}

func (r *run) fail(it *bid.Item, err error) {
	reason := internaltypes.Reason(err)
	_ = it.Fail(reason)
	r.record(it)
	if r.p.deps.Failures != nil {
		if _, ferr := r.p.deps.Failures.Append(failurelog.Entry{
			Brand:  it.Brand,
			SKU:    it.SKU,
			Size:   it.Size,
			Price:  it.FloorPrice,
			Reason: reason,
		}); ferr != nil {
			logging.LogError(r.log, "pool", "failurelog.Append", it.ID, ferr)
		}
	}
	r.log.WithFields(itemFields(it)).WithError(err).Warn("item failed")
}

func (r *run) record(it *bid.Item) {
	if r.p.deps.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.runCtx), 10*time.Second)
	defer cancel()
	if err := r.p.deps.Recorder.RecordResult(ctx, it); err != nil {
		logging.LogError(r.log, "pool", "RecordResult", it.ID, err)
	}
}

func (r *run) recordAttempt(rec bid.AttemptRecord) {
	if r.p.deps.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.runCtx), 10*time.Second)
	defer cancel()
	if err := r.p.deps.Recorder.RecordAttempt(ctx, rec); err != nil {
		logging.LogError(r.log, "pool", "RecordAttempt", rec.ItemID, err)
	}
}

func itemFields(it *bid.Item) logrus.Fields {
	return logrus.Fields{
		"item":    it.ID,
		"brand":   it.Brand,
		"sku":     it.SKU,
		"size":    it.Size,
		"attempt": it.Attempts,
		"reason":  it.Reason,
	}
}
