// Package actuator drives the marketplace's seller pages with a headless
// browser. Each worker owns one Browser; the Launcher shares the playwright
// driver between them.
package actuator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"

	"github.com/example/resale-repricer/internal/domain/bid"
	"github.com/example/resale-repricer/internal/internaltypes"
	"github.com/example/resale-repricer/internal/logging"
	"github.com/example/resale-repricer/internal/session"
	"github.com/example/resale-repricer/internal/sizes"
)

const defaultTimeout = 30 * time.Second

type Options struct {
	Headless bool
	// Install downloads the driver and browsers before the first launch.
	Install bool
	// Timeout is the default for each page operation.
	Timeout   time.Duration
	LoginURL  string
	Email     string
	Password  string
	Selectors Selectors
	Log       logrus.FieldLogger
}

type Launcher struct {
	opts Options
	log  *logrus.Entry

	mu sync.Mutex
	pw *playwright.Playwright
}

func NewLauncher(opts Options) *Launcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Launcher{opts: opts, log: logging.Component(opts.Log, "actuator")}
}

func (l *Launcher) driver() (*playwright.Playwright, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pw != nil {
		return l.pw, nil
	}
	runOpts := &playwright.RunOptions{Verbose: false, Stdout: io.Discard, Stderr: io.Discard}
	if l.opts.Install {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	l.pw = pw
	return pw, nil
}

func (l *Launcher) launch() (playwright.Browser, error) {
	pw, err := l.driver()
	if err != nil {
		return nil, err
	}
	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{Headless: playwright.Bool(l.opts.Headless)})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return b, nil
}

// NewActuator launches a browser for one worker.
func (l *Launcher) NewActuator(ctx context.Context, worker int) (bid.Actuator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := l.launch()
	if err != nil {
		return nil, err
	}
	return &Browser{l: l, browser: b, log: l.log.WithField("worker", worker)}, nil
}

// Close stops the playwright driver once every browser is closed.
func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pw == nil {
		return nil
	}
	err := l.pw.Stop()
	l.pw = nil
	if err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

// Browser implements bid.Actuator. It is used by one goroutine at a time.
type Browser struct {
	l       *Launcher
	browser playwright.Browser
	log     *logrus.Entry

	bctx  playwright.BrowserContext
	state []byte // credential state applied to bctx
	page  playwright.Page
}

type page struct{ p playwright.Page }

func (p *page) URL() string { return p.p.URL() }

func (b *Browser) sel() Selectors { return b.l.opts.Selectors }

// Load opens url in a browser context carrying cred's cookies. A redirect
// to the login page means the credential is no longer accepted.
func (b *Browser) Load(ctx context.Context, cred session.Credential, url string) (bid.Page, error) {
	if err := b.useCredential(cred); err != nil {
		return nil, err
	}
	if b.page != nil {
		_ = b.page.Close()
		b.page = nil
	}
	p, err := b.bctx.NewPage()
	if err != nil {
		return nil, mapError("new_page", err)
	}
	p.SetDefaultTimeout(float64(b.l.opts.Timeout.Milliseconds()))
	b.page = p

	err = run(ctx, "load", b.abortPage, func() error {
		_, err := p.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   timeoutMs(ctx),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if onLoginPage(p.URL(), b.sel().LoginPath) {
		return nil, &internaltypes.SessionError{Op: "load", Err: internaltypes.ErrUnauthorized}
	}
	return &page{p: p}, nil
}

func (b *Browser) useCredential(cred session.Credential) error {
	if b.bctx != nil && bytes.Equal(b.state, cred.State) {
		return nil
	}
	cookies, err := decodeState(cred.State)
	if err != nil {
		return &internaltypes.SessionError{Op: "apply_credential", Err: err}
	}
	if b.bctx != nil {
		b.page = nil
		_ = b.bctx.Close()
		b.bctx = nil
	}
	bctx, err := b.browser.NewContext()
	if err != nil {
		return mapError("new_context", err)
	}
	if err := bctx.AddCookies(toBrowser(cookies)); err != nil {
		_ = bctx.Close()
		return mapError("add_cookies", err)
	}
	b.bctx = bctx
	b.state = append([]byte(nil), cred.State...)
	return nil
}

// abortPage closes the current page so a blocked call returns.
func (b *Browser) abortPage() {
	if b.page != nil {
		_ = b.page.Close()
	}
}

func (b *Browser) pageOf(pg bid.Page) (playwright.Page, error) {
	p, ok := pg.(*page)
	if !ok || p.p == nil {
		return nil, &internaltypes.FaultError{Err: fmt.Errorf("page %T was not opened by this actuator", pg)}
	}
	return p.p, nil
}

// ReadSizeTable opens the size sheet and parses its markup.
func (b *Browser) ReadSizeTable(ctx context.Context, pg bid.Page) (sizes.Table, error) {
	p, err := b.pageOf(pg)
	if err != nil {
		return nil, err
	}
	sel := b.sel()

	var markup string
	err = run(ctx, "read_size_table", b.abortPage, func() error {
		if sel.SizeOpen != "" {
			if err := p.Locator(sel.SizeOpen).First().Click(playwright.LocatorClickOptions{Timeout: timeoutMs(ctx)}); err != nil {
				return err
			}
		}
		html, err := p.Locator(sel.SizeSheet).First().InnerHTML(playwright.LocatorInnerHTMLOptions{Timeout: timeoutMs(ctx)})
		markup = html
		return err
	})
	if err != nil {
		return nil, err
	}

	table, err := sizes.ParseHTML(strings.NewReader(markup))
	if errors.Is(err, sizes.ErrNoSizeTable) {
		// the sheet is still rendering
		return nil, &internaltypes.ActuationError{Op: "read_size_table", Err: err}
	}
	if err != nil {
		return nil, &internaltypes.FaultError{Err: err}
	}
	b.log.WithField("tabs", table.Tabs()).Debug("size table read")
	return table, nil
}

// SetPrice selects the matched size, enters price and submits the bid.
func (b *Browser) SetPrice(ctx context.Context, pg bid.Page, match sizes.Result, price int64) error {
	p, err := b.pageOf(pg)
	if err != nil {
		return err
	}
	sel := b.sel()

	var rejected string
	err = run(ctx, "set_price", b.abortPage, func() error {
		click := func(selector string) error {
			return p.Locator(selector).First().Click(playwright.LocatorClickOptions{Timeout: timeoutMs(ctx)})
		}
		if match.Tab != "" {
			if err := click(fmt.Sprintf(`%s:text-is(%q)`, sel.SizeTab, match.Tab)); err != nil {
				return err
			}
		}
		if err := click(fmt.Sprintf(`%s:text-is(%q)`, sel.SizeOption, match.Label)); err != nil {
			return err
		}
		if err := p.Locator(sel.PriceInput).First().Fill(strconv.FormatInt(price, 10),
			playwright.LocatorFillOptions{Timeout: timeoutMs(ctx)}); err != nil {
			return err
		}
		if err := click(sel.Submit); err != nil {
			return err
		}
		if sel.Confirm != "" {
			if err := click(sel.Confirm); err != nil {
				return err
			}
		}

		if err := p.Locator(sel.Success + ", " + sel.Rejection).First().WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateVisible,
			Timeout: timeoutMs(ctx),
		}); err != nil {
			return err
		}
		banner := p.Locator(sel.Rejection).First()
		visible, err := banner.IsVisible()
		if err != nil || !visible {
			return err
		}
		text, err := banner.TextContent()
		if err != nil {
			return err
		}
		rejected = strings.Join(strings.Fields(text), " ")
		return nil
	})
	if err != nil {
		return err
	}
	if onLoginPage(p.URL(), sel.LoginPath) {
		return &internaltypes.SessionError{Op: "set_price", Err: internaltypes.ErrUnauthorized}
	}
	if rejected != "" {
		return &internaltypes.RejectedError{Message: rejected}
	}
	return nil
}

func (b *Browser) Close() error {
	var errs []error
	if b.page != nil {
		errs = append(errs, b.page.Close())
	}
	if b.bctx != nil {
		errs = append(errs, b.bctx.Close())
	}
	errs = append(errs, b.browser.Close())
	b.page, b.bctx = nil, nil
	return errors.Join(errs...)
}

// run executes fn, returning early with ctx's error once ctx ends. abort
// unblocks fn in that case; run waits for fn before returning so the page
// is never used by two calls at once.
func run(ctx context.Context, op string, abort func(), fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &internaltypes.FaultError{Err: fmt.Errorf("panic during %s: %v", op, r)}
			}
		}()
		done <- fn()
	}()
	select {
	case err := <-done:
		return mapError(op, err)
	case <-ctx.Done():
		abort()
		<-done
		return ctx.Err()
	}
}
