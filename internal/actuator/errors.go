package actuator

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/example/resale-repricer/internal/internaltypes"
)

// mapError sorts a playwright failure into the repricer's taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		te *internaltypes.TimeoutError
		fe *internaltypes.FaultError
		se *internaltypes.SessionError
		re *internaltypes.RejectedError
		ae *internaltypes.ActuationError
	)
	switch {
	case errors.As(err, &te), errors.As(err, &fe), errors.As(err, &se), errors.As(err, &re), errors.As(err, &ae):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, playwright.ErrTimeout):
		return &internaltypes.TimeoutError{Op: op, Err: err}
	case errors.Is(err, playwright.ErrTargetClosed):
		return &internaltypes.FaultError{Err: err}
	}
	return &internaltypes.ActuationError{Op: op, Err: err}
}

// onLoginPage reports whether current points at the login page.
func onLoginPage(current, loginPath string) bool {
	if loginPath == "" {
		return false
	}
	u, err := url.Parse(current)
	if err != nil {
		return false
	}
	return strings.HasPrefix(u.Path, loginPath)
}

// timeoutMs is the playwright timeout left before ctx's deadline; nil
// leaves the page default in place.
func timeoutMs(ctx context.Context) *float64 {
	dl, ok := ctx.Deadline()
	if !ok {
		return nil
	}
	ms := float64(time.Until(dl).Milliseconds())
	if ms < 1 {
		ms = 1
	}
	return &ms
}
