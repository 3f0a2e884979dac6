package actuator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/resale-repricer/internal/internaltypes"
	"github.com/example/resale-repricer/internal/retry"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want retry.Class
	}{
		{"nil", nil, retry.Success},
		{"playwright timeout", fmt.Errorf("locator.click: %w", playwright.ErrTimeout), retry.Transient},
		{"target closed", fmt.Errorf("page.goto: %w", playwright.ErrTargetClosed), retry.Fault},
		{"other playwright error", errors.New("element is not attached to the DOM"), retry.Transient},
		{"already classified", &internaltypes.RejectedError{Message: "too low"}, retry.Terminal},
		{"cancelled", context.Canceled, retry.Interrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retry.Classify(mapError("op", tt.err)))
		})
	}

	var te *internaltypes.TimeoutError
	require.ErrorAs(t, mapError("load", playwright.ErrTimeout), &te)
	assert.Equal(t, "load", te.Op)
}

func TestOnLoginPage(t *testing.T) {
	assert.True(t, onLoginPage("https://market.example/login?next=/p/1", "/login"))
	assert.False(t, onLoginPage("https://market.example/products/1", "/login"))
	assert.False(t, onLoginPage("https://market.example/login", ""))
}

func TestTimeoutMs(t *testing.T) {
	assert.Nil(t, timeoutMs(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ms := timeoutMs(ctx)
	require.NotNil(t, ms)
	assert.InDelta(t, 60000, *ms, 1000)

	past, cancel2 := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel2()
	assert.Equal(t, float64(1), *timeoutMs(past))
}

func TestRun(t *testing.T) {
	t.Run("maps errors", func(t *testing.T) {
		err := run(context.Background(), "click", func() {}, func() error { return playwright.ErrTimeout })
		var te *internaltypes.TimeoutError
		assert.ErrorAs(t, err, &te)
	})
	t.Run("panic becomes fault", func(t *testing.T) {
		err := run(context.Background(), "click", func() {}, func() error { panic("boom") })
		var fe *internaltypes.FaultError
		assert.ErrorAs(t, err, &fe)
	})
	t.Run("cancel aborts the blocked call", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		unblock := make(chan struct{})
		started := make(chan struct{})
		go func() {
			<-started
			cancel()
		}()
		err := run(ctx, "goto", func() { close(unblock) }, func() error {
			close(started)
			<-unblock
			return playwright.ErrTargetClosed
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
	t.Run("ended context skips the call", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		called := false
		err := run(ctx, "goto", func() {}, func() error { called = true; return nil })
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})
}

func TestCookieState(t *testing.T) {
	soon := float64(time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC).Unix())
	later := float64(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC).Unix())
	in := []playwright.Cookie{
		{Name: "sid", Value: "abc", Domain: ".market.example", Path: "/", Expires: -1, HttpOnly: true, Secure: true},
		{Name: "remember", Value: "1", Domain: ".market.example", Path: "/", Expires: later},
		{Name: "csrf", Value: "x", Domain: ".market.example", Path: "/", Expires: soon},
	}

	state, expires, err := encodeState(fromBrowser(in))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), expires)

	back, err := decodeState(state)
	require.NoError(t, err)
	out := toBrowser(back)
	require.Len(t, out, 3)
	assert.Equal(t, "sid", out[0].Name)
	assert.Nil(t, out[0].Expires, "session cookies stay session cookies")
	require.NotNil(t, out[1].Expires)
	assert.Equal(t, later, *out[1].Expires)
	assert.True(t, *out[0].HttpOnly)

	_, _, err = encodeState(nil)
	assert.Error(t, err)
	_, err = decodeState([]byte("not json"))
	assert.Error(t, err)
}

func TestLoadSelectors(t *testing.T) {
	s, err := LoadSelectors("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSelectors(), s)

	path := filepath.Join(t.TempDir(), "selectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
price_input: "#bid-price"
confirm: ""
login_path: /signin
`), 0o600))
	s, err = LoadSelectors(path)
	require.NoError(t, err)
	assert.Equal(t, "#bid-price", s.PriceInput)
	assert.Empty(t, s.Confirm)
	assert.Equal(t, "/signin", s.LoginPath)
	assert.Equal(t, DefaultSelectors().Submit, s.Submit)

	_, err = ParseSelectors([]byte(`submit: ""`))
	assert.ErrorContains(t, err, "invalid selectors")

	_, err = LoadSelectors(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoginRequiresConfiguration(t *testing.T) {
	_, err := NewLauncher(Options{}).login(context.Background())
	assert.ErrorContains(t, err, "login URL")

	_, err = NewLauncher(Options{LoginURL: "https://market.example/login", Headless: true}).login(context.Background())
	assert.ErrorContains(t, err, "headless")
}

func TestLauncherCloseWithoutDriver(t *testing.T) {
	assert.NoError(t, NewLauncher(Options{}).Close())
}
