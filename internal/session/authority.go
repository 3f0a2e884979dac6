package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/example/resale-repricer/internal/internaltypes"
	"github.com/example/resale-repricer/internal/logging"
)

const defaultLoginTimeout = 3 * time.Minute

type AuthorityConfig struct {
	AccountID     string
	Authenticator Authenticator
	// Store and Codec are optional; without them nothing is persisted.
	Store        Store
	Codec        *Codec
	LoginTimeout time.Duration
	Log          logrus.FieldLogger
	Now          func() time.Time
}

// Authority is the single writer of the shared credential. Workers read it
// through Acquire and report failures through Invalidate.
type Authority struct {
	cfg AuthorityConfig
	log *logrus.Entry

	mu       sync.RWMutex
	cur      Credential
	valid    bool
	gen      uint64
	stale    Credential
	hasStale bool

	flight singleflight.Group
	logins int
}

func NewAuthority(cfg AuthorityConfig) *Authority {
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = defaultLoginTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Authority{
		cfg: cfg,
		log: logging.Component(cfg.Log, "session").WithField("account", cfg.AccountID),
	}
}

// Restore adopts a still-valid persisted credential. A missing or
// undecodable blob leaves the authority empty.
func (a *Authority) Restore(ctx context.Context) error {
	c, ok, err := a.loadStored(ctx)
	if err != nil {
		return err
	}
	if ok {
		a.adopt(c)
		a.log.Info("restored persisted session")
	}
	return nil
}

// Current is a non-blocking peek at the credential in use.
func (a *Authority) Current() (Credential, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.valid || !a.cur.Valid(a.cfg.Now()) {
		return Credential{}, false
	}
	return a.cur, true
}

// Acquire returns a valid credential, joining or starting the single
// re-authentication when there is none. A caller whose ctx ends stops
// waiting and gets ctx.Err(); the login carries on for the others. Only the
// login's own failure is a SessionError.
func (a *Authority) Acquire(ctx context.Context) (Credential, error) {
	if c, ok := a.Current(); ok {
		return c, nil
	}
	ch := a.flight.DoChan("login", func() (any, error) { return a.refresh() })
	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Credential{}, r.Err
		}
		return r.Val.(Credential), nil
	}
}

// Invalidate marks cred stale if it is still the current generation.
func (a *Authority) Invalidate(cred Credential) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.valid || cred.Generation != a.cur.Generation {
		return
	}
	a.valid = false
	a.stale, a.hasStale = a.cur, true
	a.log.WithField("generation", cred.Generation).Warn("session invalidated")
}

// Drop forgets the in-memory credential at shutdown. The persisted copy stays.
func (a *Authority) Drop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.valid = false
	a.cur = Credential{}
}

// Logins counts authentications performed by this authority.
func (a *Authority) Logins() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.logins
}

func (a *Authority) refresh() (Credential, error) {
	// a flight that finished just before this one started may have fixed it
	if c, ok := a.Current(); ok {
		return c, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.LoginTimeout)
	defer cancel()

	if c, ok, err := a.loadStored(ctx); err == nil && ok {
		a.log.Info("adopted session persisted by another process")
		return a.adopt(c), nil
	}

	if a.cfg.Authenticator == nil {
		return Credential{}, &internaltypes.SessionError{Op: "authenticate", Err: errors.New("no authenticator configured")}
	}
	a.log.Info("authenticating")
	c, err := a.cfg.Authenticator.Authenticate(ctx)
	if err != nil {
		a.log.WithError(err).Error("authentication failed")
		var se *internaltypes.SessionError
		if errors.As(err, &se) {
			return Credential{}, err
		}
		return Credential{}, &internaltypes.SessionError{Op: "authenticate", Err: err}
	}
	if c.AccountID == "" {
		c.AccountID = a.cfg.AccountID
	}
	if c.IssuedAt.IsZero() {
		c.IssuedAt = a.cfg.Now().UTC()
	}
	if !c.Valid(a.cfg.Now()) {
		return Credential{}, &internaltypes.SessionError{Op: "authenticate", Err: errors.New("authenticator returned an empty or expired credential")}
	}

	a.mu.Lock()
	a.logins++
	a.mu.Unlock()
	c = a.adopt(c)
	a.persist(ctx, c)
	return c, nil
}

func (a *Authority) adopt(c Credential) Credential {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	c.Generation = a.gen
	a.cur, a.valid = c, true
	return c
}

func (a *Authority) persist(ctx context.Context, c Credential) {
	if a.cfg.Store == nil || a.cfg.Codec == nil {
		return
	}
	blob, err := a.cfg.Codec.Encode(c)
	if err == nil {
		err = a.cfg.Store.Save(ctx, a.cfg.AccountID, blob)
	}
	if err != nil {
		a.log.WithError(err).Warn("could not persist session")
	}
}

// loadStored returns a persisted credential that is valid and is not the one
// most recently invalidated. Only store I/O failures are errors.
func (a *Authority) loadStored(ctx context.Context) (Credential, bool, error) {
	if a.cfg.Store == nil || a.cfg.Codec == nil {
		return Credential{}, false, nil
	}
	blob, err := a.cfg.Store.Load(ctx, a.cfg.AccountID)
	if errors.Is(err, ErrNotFound) {
		return Credential{}, false, nil
	}
	if err != nil {
		a.log.WithError(err).Warn("could not load persisted session")
		return Credential{}, false, err
	}
	c, err := a.cfg.Codec.Decode(blob)
	if err != nil {
		a.log.WithError(err).Warn("discarding undecodable persisted session")
		return Credential{}, false, nil
	}
	if c.AccountID != "" && c.AccountID != a.cfg.AccountID {
		return Credential{}, false, nil
	}
	if !c.Valid(a.cfg.Now()) {
		return Credential{}, false, nil
	}
	a.mu.RLock()
	isStale := a.hasStale && a.stale.sameAs(c)
	a.mu.RUnlock()
	if isStale {
		return Credential{}, false, nil
	}
	return c, true, nil
}
