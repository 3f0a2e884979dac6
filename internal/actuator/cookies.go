package actuator

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// cookie is the persisted form of one browser cookie.
type cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // unix seconds, -1 for session cookies
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
}

func fromBrowser(in []playwright.Cookie) []cookie {
	out := make([]cookie, 0, len(in))
	for _, c := range in {
		out = append(out, cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		})
	}
	return out
}

func toBrowser(in []cookie) []playwright.OptionalCookie {
	out := make([]playwright.OptionalCookie, 0, len(in))
	for _, c := range in {
		oc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(c.Path),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
		}
		if c.Expires > 0 {
			oc.Expires = playwright.Float(c.Expires)
		}
		out = append(out, oc)
	}
	return out
}

// encodeState serializes cookies and returns the earliest expiry among the
// persistent ones; session cookies do not bound it.
func encodeState(cs []cookie) ([]byte, time.Time, error) {
	if len(cs) == 0 {
		return nil, time.Time{}, errors.New("no cookies after login")
	}
	var expires time.Time
	for _, c := range cs {
		if c.Expires <= 0 {
			continue
		}
		t := time.Unix(int64(c.Expires), 0).UTC()
		if expires.IsZero() || t.Before(expires) {
			expires = t
		}
	}
	b, err := json.Marshal(cs)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("encode cookies: %w", err)
	}
	return b, expires, nil
}

func decodeState(b []byte) ([]cookie, error) {
	var cs []cookie
	if err := json.Unmarshal(b, &cs); err != nil {
		return nil, fmt.Errorf("decode cookies: %w", err)
	}
	return cs, nil
}
