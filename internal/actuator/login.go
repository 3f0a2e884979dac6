package actuator

import (
	"context"
	"errors"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/example/resale-repricer/internal/session"
)

// Authenticator logs in through the marketplace's login form. Without an
// email in a headed browser it waits for the operator to log in by hand.
func (l *Launcher) Authenticator() session.Authenticator {
	return session.AuthenticatorFunc(l.login)
}

func (l *Launcher) login(ctx context.Context) (session.Credential, error) {
	if l.opts.LoginURL == "" {
		return session.Credential{}, errors.New("login URL is not configured")
	}
	manual := l.opts.Email == ""
	if manual && l.opts.Headless {
		return session.Credential{}, errors.New("no account email configured and the browser is headless")
	}

	b, err := l.launch()
	if err != nil {
		return session.Credential{}, err
	}
	defer b.Close()

	bctx, err := b.NewContext()
	if err != nil {
		return session.Credential{}, mapError("new_context", err)
	}
	defer bctx.Close()
	p, err := bctx.NewPage()
	if err != nil {
		return session.Credential{}, mapError("new_page", err)
	}
	p.SetDefaultTimeout(float64(l.opts.Timeout.Milliseconds()))
	abort := func() { _ = p.Close() }
	sel := l.opts.Selectors

	err = run(ctx, "login", abort, func() error {
		if _, err := p.Goto(l.opts.LoginURL, playwright.PageGotoOptions{Timeout: timeoutMs(ctx)}); err != nil {
			return err
		}
		if manual {
			l.log.Warn("waiting for a manual login in the browser window")
		} else {
			if err := p.Locator(sel.LoginEmail).First().Fill(l.opts.Email, playwright.LocatorFillOptions{Timeout: timeoutMs(ctx)}); err != nil {
				return err
			}
			if err := p.Locator(sel.LoginPassword).First().Fill(l.opts.Password, playwright.LocatorFillOptions{Timeout: timeoutMs(ctx)}); err != nil {
				return err
			}
			if err := p.Locator(sel.LoginSubmit).First().Click(playwright.LocatorClickOptions{Timeout: timeoutMs(ctx)}); err != nil {
				return err
			}
		}
		return p.Locator(sel.LoggedIn).First().WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateVisible,
			Timeout: timeoutMs(ctx),
		})
	})
	if err != nil {
		return session.Credential{}, err
	}

	cookies, err := bctx.Cookies()
	if err != nil {
		return session.Credential{}, mapError("cookies", err)
	}
	state, expires, err := encodeState(fromBrowser(cookies))
	if err != nil {
		return session.Credential{}, err
	}
	l.log.WithField("expires", expires).Info("logged in")
	return session.Credential{State: state, IssuedAt: time.Now().UTC(), ExpiresAt: expires}, nil
}
