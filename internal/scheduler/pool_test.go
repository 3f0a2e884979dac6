package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/resale-repricer/internal/domain/bid"
	"github.com/example/resale-repricer/internal/internaltypes"
	"github.com/example/resale-repricer/internal/logging"
	"github.com/example/resale-repricer/internal/session"
	"github.com/example/resale-repricer/internal/sizes"
)

func TestPool_EndToEndAsics(t *testing.T) {
	h := newHarness(t)
	h.deps.Strategy = strategyWithCap(t, `
strategies:
  default:
    name: Default
    enabled: true
    adjustments:
      coupon: {enabled: true, rate: 0.05, max_amount: 3000}
      point: {enabled: true, rate: 0.01, max_amount: 1000}
    total_max_discount_rate: 0.1`)
	items := []*bid.Item{{
		ID: "asics", Brand: "ASICS", SKU: "1291A041", Size: "245", FloorPrice: 58900,
		URL: "https://market.example/products/1291A041", Status: bid.StatusPending,
	}}

	sum, err := h.pool().Run(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Succeeded)
	assert.NotEmpty(t, sum.RunID)
	it := items[0]
	assert.Equal(t, bid.StatusSucceeded, it.Status)
	assert.Equal(t, int64(57900), it.Price)
	assert.Equal(t, "JP: JP 24.5", it.Label)
	assert.Equal(t, 1, it.Attempts)

	require.Len(t, h.site.sets, 1)
	assert.Equal(t, "JP 24.5", h.site.sets[0].match.Label)
	assert.Equal(t, int64(57900), h.site.sets[0].price)
	assert.Empty(t, h.failures.reasons())
	assert.Equal(t, bid.StatusSucceeded, h.recorder.results["asics"].Status)
}

func TestPool_EndToEndAsicsOverCap(t *testing.T) {
	h := newHarness(t)
	h.deps.Strategy = strategyWithCap(t, `
strategies:
  tight:
    name: Tight
    enabled: true
    adjustments:
      coupon: {enabled: true, rate: 0.05, max_amount: 3000}
      point: {enabled: true, rate: 0.01, max_amount: 1000}
    total_max_discount_rate: 0.05`)
	items := makeItems(1)

	sum, err := h.pool().Run(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, internaltypes.ReasonPriceConstraint, items[0].Reason)
	assert.Equal(t, 1, items[0].Attempts, "terminal failures are not retried")
	assert.Equal(t, []string{internaltypes.ReasonPriceConstraint}, h.failures.reasons())
	assert.Empty(t, h.site.sets)
}

func TestPool_BoundedConcurrency(t *testing.T) {
	h := newHarness(t)
	h.cfg.Workers = 4
	items := makeItems(40)

	sum, err := h.pool().Run(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, 40, sum.Succeeded)
	assert.LessOrEqual(t, h.site.maxActive.Load(), int32(4))
	assert.LessOrEqual(t, h.site.created.Load(), int32(4))
	assert.Equal(t, h.site.created.Load(), h.site.closed.Load(), "every actuator is closed")
	for _, it := range items {
		assert.Equal(t, bid.StatusSucceeded, it.Status, it.ID)
	}
}

func TestPool_ItemLockNeverShared(t *testing.T) {
	h := newHarness(t)
	h.cfg.Workers = 6
	h.cfg.MaxLockWaits = 100000
	h.deps.Locks = newTrackingLocker(t)

	// 24 items over 3 listings: many workers want the same lock
	items := makeItems(24)
	for i, it := range items {
		it.SKU = fmt.Sprintf("SKU%d", i%3)
		it.URL = "https://market.example/products/" + it.SKU
	}

	sum, err := h.pool().Run(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, 24, sum.Succeeded)
	assert.Zero(t, h.site.overlaps, "two workers loaded the same listing at once")
}

func TestPool_AllTransientExhaustsRetries(t *testing.T) {
	h := newHarness(t)
	h.site.load = func(context.Context, string, int) error {
		return &internaltypes.ActuationError{Op: "click", Err: errors.New("element not ready")}
	}
	items := makeItems(2)

	sum, err := h.pool().Run(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 2, sum.Reasons[internaltypes.ReasonMaxRetries])
	for _, it := range items {
		assert.Equal(t, 3, it.Attempts)
		assert.Equal(t, 3, h.site.loadCount(it.URL))
		assert.Equal(t, internaltypes.ReasonMaxRetries, it.Reason)
		recs := h.recorder.attemptsFor(it.ID)
		require.Len(t, recs, 3)
		assert.Equal(t, "transient", recs[0].Outcome)
		assert.Equal(t, internaltypes.ReasonActuation, recs[0].Reason)
	}
	assert.Equal(t, []string{internaltypes.ReasonMaxRetries, internaltypes.ReasonMaxRetries}, h.failures.reasons())
}

func TestPool_TransientThenSuccess(t *testing.T) {
	h := newHarness(t)
	h.site.load = func(_ context.Context, _ string, n int) error {
		if n == 1 {
			return &internaltypes.TimeoutError{Op: "load"}
		}
		return nil
	}
	items := makeItems(3)

	sum, err := h.pool().Run(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Succeeded)
	for _, it := range items {
		assert.Equal(t, 2, it.Attempts)
	}
}

func TestPool_SoldOutIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.site.table = sizes.Table{"JP": {"JP 24.0", "JP 24.5 품절"}, "US Men": {"US Men 6.5"}}
	items := makeItems(1)

	sum, err := h.pool().Run(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, internaltypes.ReasonSoldOut, items[0].Reason)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Equal(t, []string{internaltypes.ReasonSoldOut}, h.failures.reasons())
}

func TestPool_SizeNotFoundReason(t *testing.T) {
	h := newHarness(t)
	items := makeItems(1)
	items[0].Size = "300"

	_, err := h.pool().Run(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, "JP/US Men탭매칭실패", items[0].Reason)
}

func TestPool_FaultReplacesWorker(t *testing.T) {
	h := newHarness(t)
	h.cfg.Workers = 1
	h.site.load = func(_ context.Context, _ string, n int) error {
		if n == 1 {
			panic("renderer crashed")
		}
		return nil
	}
	items := makeItems(1)

	sum, err := h.pool().Run(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.Restarts)
	assert.Equal(t, 2, items[0].Attempts, "the crashed attempt counts")
	assert.Equal(t, int32(2), h.site.created.Load())
	assert.Equal(t, int32(2), h.site.closed.Load())
	recs := h.recorder.attemptsFor(items[0].ID)
	require.Len(t, recs, 2)
	assert.Equal(t, "fault", recs[0].Outcome)
	assert.NotEqual(t, recs[0].Worker, recs[1].Worker)
}

func TestPool_FaultOnLastAttemptExceedsRetries(t *testing.T) {
	h := newHarness(t)
	h.cfg.Workers = 1
	h.deps.Retry.MaxAttempts = 1
	h.site.load = func(context.Context, string, int) error { return errors.New("browser gone") }
	items := makeItems(1)

	sum, err := h.pool().Run(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, internaltypes.ReasonMaxRetries, items[0].Reason)
}

func TestPool_RestartBudgetExhausted(t *testing.T) {
	h := newHarness(t)
	h.cfg.Workers = 2
	h.cfg.MaxRestarts = 1
	h.deps.Retry.MaxAttempts = 10
	h.site.load = func(context.Context, string, int) error { return errors.New("browser gone") }
	items := makeItems(5)

	sum, err := h.pool().Run(context.Background(), items)
	require.ErrorIs(t, err, internaltypes.ErrPoolExhausted)

	assert.Equal(t, 1, sum.Restarts)
	assert.Equal(t, 5, sum.Failed)
	assert.Equal(t, 5, sum.Reasons[internaltypes.ReasonPoolExhausted])
	assert.Equal(t, int32(3), h.site.created.Load())
	assert.Len(t, h.failures.reasons(), 5)
}

func TestPool_ActuatorFactoryFailureCountsAsFault(t *testing.T) {
	h := newHarness(t)
	h.cfg.Workers = 1
	h.cfg.MaxRestarts = 0
	h.deps.NewActuator = func(context.Context, int) (bid.Actuator, error) {
		return nil, errors.New("no browser")
	}
	items := makeItems(2)

	sum, err := h.pool().Run(context.Background(), items)
	require.ErrorIs(t, err, internaltypes.ErrPoolExhausted)
	assert.Equal(t, 2, sum.Reasons[internaltypes.ReasonPoolExhausted])
}

func TestPool_GracefulInterrupt(t *testing.T) {
	h := newHarness(t)
	h.cfg.Workers = 2
	h.cfg.ShutdownGrace = 20 * time.Millisecond
	started := make(chan struct{}, 10)
	h.site.load = func(ctx context.Context, _ string, _ int) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
	items := makeItems(6)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		<-started
		cancel()
	}()
	sum, err := h.pool().Run(ctx, items)
	require.ErrorIs(t, err, internaltypes.ErrInterrupted)

	assert.Equal(t, 2, sum.Interrupted)
	assert.Equal(t, 4, sum.NotStarted)
	assert.Zero(t, sum.Failed)
	assert.Empty(t, h.failures.reasons(), "interruptions stay out of the failure log")

	var interrupted, pending int
	for _, it := range items {
		switch it.Status {
		case bid.StatusInterrupted:
			interrupted++
			assert.Equal(t, internaltypes.ReasonInterrupted, it.Reason)
		case bid.StatusPending:
			pending++
			assert.Zero(t, it.Attempts)
		}
	}
	assert.Equal(t, 2, interrupted)
	assert.Equal(t, 4, pending)
}

func TestPool_GraceLetsInFlightFinish(t *testing.T) {
	h := newHarness(t)
	h.cfg.Workers = 1
	h.cfg.ShutdownGrace = 5 * time.Second
	started := make(chan struct{}, 10)
	release := make(chan struct{})
	h.site.load = func(context.Context, string, int) error {
		started <- struct{}{}
		<-release
		return nil
	}
	items := makeItems(3)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
		close(release)
	}()
	sum, err := h.pool().Run(ctx, items)
	require.ErrorIs(t, err, internaltypes.ErrInterrupted)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 2, sum.NotStarted)
}

func TestPool_SessionErrorInvalidatesAndReauthenticates(t *testing.T) {
	h := newHarness(t)
	h.cfg.Workers = 1
	var logins atomic.Int32
	h.auth = session.NewAuthority(session.AuthorityConfig{
		AccountID: "seller",
		Authenticator: session.AuthenticatorFunc(func(context.Context) (session.Credential, error) {
			n := logins.Add(1)
			return session.Credential{State: []byte(fmt.Sprintf("cookies-%d", n))}, nil
		}),
	})
	h.deps.Sessions = h.auth
	h.site.load = func(_ context.Context, _ string, n int) error {
		if n == 1 {
			return &internaltypes.SessionError{Op: "load", Err: internaltypes.ErrUnauthorized}
		}
		return nil
	}
	items := makeItems(1)

	sum, err := h.pool().Run(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 2, items[0].Attempts)
	assert.Equal(t, int32(2), logins.Load())
}

func TestPool_AbortOnSessionFailure(t *testing.T) {
	h := newHarness(t)
	h.cfg.Workers = 1
	h.cfg.AbortOnSessionFailure = true
	h.deps.Sessions = session.NewAuthority(session.AuthorityConfig{
		AccountID: "seller",
		Authenticator: session.AuthenticatorFunc(func(context.Context) (session.Credential, error) {
			return session.Credential{}, errors.New("wrong password")
		}),
	})
	items := makeItems(3)

	sum, err := h.pool().Run(context.Background(), items)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session failure")
	assert.Equal(t, 1, sum.Interrupted)
	assert.Equal(t, 2, sum.NotStarted)
	assert.Empty(t, h.failures.reasons())
}

func TestPool_SlowLoginIsNotASessionFailure(t *testing.T) {
	h := newHarness(t)
	h.cfg.Workers = 2
	h.cfg.AttemptTimeout = 20 * time.Millisecond
	h.cfg.AbortOnSessionFailure = true
	h.deps.Retry.MaxAttempts = 20
	auth := session.NewAuthority(session.AuthorityConfig{
		AccountID: "seller",
		Authenticator: session.AuthenticatorFunc(func(ctx context.Context) (session.Credential, error) {
			select {
			case <-time.After(60 * time.Millisecond):
				return session.Credential{State: []byte("cookies")}, nil
			case <-ctx.Done():
				return session.Credential{}, ctx.Err()
			}
		}),
		LoginTimeout: time.Second,
		Log:          logging.Discard(),
	})
	h.deps.Sessions = auth
	items := makeItems(2)

	sum, err := h.pool().Run(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 1, auth.Logins())
	assert.Empty(t, h.failures.reasons())

	recs := h.recorder.attemptsFor(items[0].ID)
	require.Greater(t, len(recs), 1)
	assert.Equal(t, internaltypes.ReasonTimeout, recs[0].Reason)
}

func TestPool_ConversionConflict(t *testing.T) {
	t.Run("flagged on success", func(t *testing.T) {
		h := newHarness(t)
		h.site.table = sizes.Table{"KR": {"KR 240", "KR 245"}}
		items := makeItems(1)

		sum, err := h.pool().Run(context.Background(), items)
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Succeeded)
		assert.True(t, items[0].SizeConflict)
		assert.Equal(t, "KR: KR 245", items[0].Label)
	})

	t.Run("terminal when strict", func(t *testing.T) {
		h := newHarness(t)
		h.site.table = sizes.Table{"KR": {"KR 240", "KR 245"}}
		p, err := sizes.ParseProfiles([]byte("default:\n  reject_conversion_conflicts: true\n"))
		require.NoError(t, err)
		h.deps.Matcher = sizes.NewMatcher(p, logging.Discard())
		items := makeItems(1)

		sum, err := h.pool().Run(context.Background(), items)
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Failed)
		assert.Equal(t, 1, items[0].Attempts)
		assert.Equal(t, internaltypes.ReasonConversionConflict, items[0].Reason)
		assert.Equal(t, []string{internaltypes.ReasonConversionConflict}, h.failures.reasons())
		h.site.mu.Lock()
		defer h.site.mu.Unlock()
		assert.Empty(t, h.site.sets)
	})
}

func TestPool_SessionFailureRetriesByDefault(t *testing.T) {
	h := newHarness(t)
	h.cfg.Workers = 1
	h.deps.Sessions = session.NewAuthority(session.AuthorityConfig{
		AccountID: "seller",
		Authenticator: session.AuthenticatorFunc(func(context.Context) (session.Credential, error) {
			return session.Credential{}, errors.New("wrong password")
		}),
	})
	items := makeItems(1)

	sum, err := h.pool().Run(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 3, items[0].Attempts)
	assert.Equal(t, internaltypes.ReasonMaxRetries, items[0].Reason)
	recs := h.recorder.attemptsFor(items[0].ID)
	require.NotEmpty(t, recs)
	assert.Equal(t, internaltypes.ReasonSession, recs[0].Reason)
}

func TestPool_AttemptTimeout(t *testing.T) {
	h := newHarness(t)
	h.cfg.Workers = 1
	h.cfg.AttemptTimeout = 10 * time.Millisecond
	h.deps.Retry.MaxAttempts = 2
	h.site.load = func(ctx context.Context, _ string, _ int) error {
		<-ctx.Done()
		return errors.New("navigation aborted")
	}
	items := makeItems(1)

	_, err := h.pool().Run(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, internaltypes.ReasonMaxRetries, items[0].Reason)
	recs := h.recorder.attemptsFor(items[0].ID)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, internaltypes.ReasonTimeout, r.Reason)
		assert.True(t, strings.Contains(r.Err, "timeout"), r.Err)
	}
}

func TestPool_TerminalInputItemsAreLeftAlone(t *testing.T) {
	h := newHarness(t)
	items := makeItems(2)
	items[0].Status = bid.StatusSucceeded
	items[0].Price = 1000

	sum, err := h.pool().Run(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, int64(1000), items[0].Price)
	assert.Zero(t, h.site.loadCount(items[0].URL))
}

func TestPool_EmptyBatch(t *testing.T) {
	h := newHarness(t)
	sum, err := h.pool().Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, sum.Total)
	assert.Zero(t, h.site.created.Load())
}
