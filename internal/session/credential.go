// Package session owns the seller account's authenticated browser state and
// shares it between concurrently running workers.
package session

import (
	"bytes"
	"context"
	"time"

	"github.com/example/resale-repricer/internal/internaltypes"
)

var ErrNotFound = internaltypes.ErrNotFound

// Credential is the authenticated state of one account. State is opaque to
// this package (the actuator stores browser cookies in it).
type Credential struct {
	AccountID string    `json:"account_id"`
	State     []byte    `json:"state"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	// Generation is assigned locally each time a credential becomes current.
	Generation uint64 `json:"-"`
}

// Valid reports whether c carries state and has not expired at now.
// A zero ExpiresAt never expires.
func (c Credential) Valid(now time.Time) bool {
	if len(c.State) == 0 {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

func (c Credential) sameAs(o Credential) bool {
	return c.AccountID == o.AccountID && c.IssuedAt.Equal(o.IssuedAt) && bytes.Equal(c.State, o.State)
}

// Authenticator performs a full login and returns a fresh credential.
type Authenticator interface {
	Authenticate(ctx context.Context) (Credential, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context) (Credential, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context) (Credential, error) { return f(ctx) }

// Store persists encoded credentials between runs.
type Store interface {
	Load(ctx context.Context, accountID string) ([]byte, error)
	Save(ctx context.Context, accountID string, blob []byte) error
}
