package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/resale-repricer/internal/domain/bid"
	"github.com/example/resale-repricer/internal/failurelog"
	"github.com/example/resale-repricer/internal/lockset"
	"github.com/example/resale-repricer/internal/logging"
	"github.com/example/resale-repricer/internal/pricing"
	"github.com/example/resale-repricer/internal/retry"
	"github.com/example/resale-repricer/internal/session"
	"github.com/example/resale-repricer/internal/sizes"
)

var asicsTable = sizes.Table{
	"JP":     {"JP 24.0", "JP 24.5", "JP 25.0"},
	"US Men": {"US Men 6", "US Men 6.5", "US Men 7"},
}

type fakePage string

func (p fakePage) URL() string { return string(p) }

type setCall struct {
	url   string
	match sizes.Result
	price int64
}

// site is the shared fake marketplace behind every fake actuator.
type site struct {
	table sizes.Table
	// load is consulted on every Load; n counts loads of that URL.
	load func(ctx context.Context, url string, n int) error

	mu        sync.Mutex
	loads     map[string]int
	activeURL map[string]int
	overlaps  int
	sets      []setCall

	active    atomic.Int32
	maxActive atomic.Int32
	created   atomic.Int32
	closed    atomic.Int32
}

func newSite() *site {
	return &site{table: asicsTable, loads: map[string]int{}, activeURL: map[string]int{}}
}

func (s *site) factory(ctx context.Context, worker int) (bid.Actuator, error) {
	s.created.Add(1)
	return &fakeActuator{s: s}, nil
}

type fakeActuator struct{ s *site }

func (a *fakeActuator) Load(ctx context.Context, cred session.Credential, url string) (bid.Page, error) {
	s := a.s
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		m := s.maxActive.Load()
		if n <= m || s.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	s.mu.Lock()
	s.loads[url]++
	count := s.loads[url]
	s.activeURL[url]++
	if s.activeURL[url] > 1 {
		s.overlaps++
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.activeURL[url]--
		s.mu.Unlock()
	}()

	time.Sleep(2 * time.Millisecond)
	if s.load != nil {
		if err := s.load(ctx, url, count); err != nil {
			return nil, err
		}
	}
	return fakePage(url), nil
}

func (a *fakeActuator) ReadSizeTable(context.Context, bid.Page) (sizes.Table, error) {
	return a.s.table, nil
}

func (a *fakeActuator) SetPrice(_ context.Context, page bid.Page, match sizes.Result, price int64) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.sets = append(a.s.sets, setCall{url: page.URL(), match: match, price: price})
	return nil
}

func (a *fakeActuator) Close() error {
	a.s.closed.Add(1)
	return nil
}

func (s *site) loadCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads[url]
}

type memRecorder struct {
	mu       sync.Mutex
	attempts []bid.AttemptRecord
	results  map[string]bid.Item
}

func newRecorder() *memRecorder { return &memRecorder{results: map[string]bid.Item{}} }

func (r *memRecorder) RecordAttempt(_ context.Context, rec bid.AttemptRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, rec)
	return nil
}

func (r *memRecorder) RecordResult(_ context.Context, it *bid.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[it.ID] = *it
	return nil
}

func (r *memRecorder) attemptsFor(id string) []bid.AttemptRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bid.AttemptRecord
	for _, a := range r.attempts {
		if a.ItemID == id {
			out = append(out, a)
		}
	}
	return out
}

type memFailures struct {
	mu      sync.Mutex
	entries []failurelog.Entry
}

func (f *memFailures) Append(e failurelog.Entry) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return len(f.entries), nil
}

func (f *memFailures) reasons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.entries {
		out = append(out, e.Reason)
	}
	return out
}

// trackingLocker fails the test if two holders ever share a key.
type trackingLocker struct {
	t       *testing.T
	inner   *lockset.Memory
	mu      sync.Mutex
	holders map[string]int
}

func newTrackingLocker(t *testing.T) *trackingLocker {
	return &trackingLocker{t: t, inner: lockset.NewMemory(), holders: map[string]int{}}
}

func (l *trackingLocker) TryLock(ctx context.Context, key string) (lockset.Lock, bool, error) {
	lk, ok, err := l.inner.TryLock(ctx, key)
	if !ok || err != nil {
		return lk, ok, err
	}
	l.mu.Lock()
	l.holders[key]++
	if l.holders[key] > 1 {
		l.t.Errorf("key %s held by %d workers", key, l.holders[key])
	}
	l.mu.Unlock()
	return &trackedLock{l: l, key: key, inner: lk}, true, nil
}

type trackedLock struct {
	l     *trackingLocker
	key   string
	inner lockset.Lock
}

func (t *trackedLock) Release(ctx context.Context) error {
	t.l.mu.Lock()
	t.l.holders[t.key]--
	t.l.mu.Unlock()
	return t.inner.Release(ctx)
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newAuthority(t *testing.T) *session.Authority {
	t.Helper()
	return session.NewAuthority(session.AuthorityConfig{
		AccountID: "seller",
		Authenticator: session.AuthenticatorFunc(func(context.Context) (session.Credential, error) {
			return session.Credential{State: []byte("cookies")}, nil
		}),
		Log: logging.Discard(),
	})
}

type harness struct {
	site     *site
	recorder *memRecorder
	failures *memFailures
	auth     *session.Authority
	cfg      Config
	deps     Deps
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		site:     newSite(),
		recorder: newRecorder(),
		failures: &memFailures{},
		auth:     newAuthority(t),
	}
	h.cfg = Config{
		Workers:        5,
		MaxRestarts:    3,
		ShutdownGrace:  50 * time.Millisecond,
		PriceStep:      1000,
		LockRetryDelay: time.Millisecond,
	}
	h.deps = Deps{
		Sessions:    h.auth,
		NewActuator: h.site.factory,
		Matcher:     sizes.NewMatcher(nil, logging.Discard()),
		Engine:      pricing.Engine{Unit: 100},
		Retry:       retry.Policy{MaxAttempts: 3, Sleep: noSleep},
		Recorder:    h.recorder,
		Failures:    h.failures,
		Log:         logging.Discard(),
	}
	return h
}

func (h *harness) pool() *Pool { return NewPool(h.cfg, h.deps) }

func makeItems(n int) []*bid.Item {
	items := make([]*bid.Item, n)
	for i := range items {
		items[i] = &bid.Item{
			ID:         fmt.Sprintf("item-%02d", i),
			Brand:      "ASICS",
			SKU:        fmt.Sprintf("SKU%02d", i),
			Size:       "245",
			FloorPrice: 58900,
			URL:        fmt.Sprintf("https://market.example/products/SKU%02d", i),
			Status:     bid.StatusPending,
		}
	}
	return items
}

func strategyWithCap(t *testing.T, doc string) *pricing.Strategy {
	t.Helper()
	set, err := pricing.ParseStrategies([]byte(doc))
	require.NoError(t, err)
	s, err := set.Select("")
	require.NoError(t, err)
	return s
}
