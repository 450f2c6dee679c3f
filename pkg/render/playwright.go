package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/botvagas/vagas/pkg/metrics"
	"github.com/botvagas/vagas/pkg/resilience"
)

// Config configures the Playwright engine.
type Config struct {
	Headless  bool
	Sessions  int
	UserAgent string
	Locale    string
	// InFlight, when set, tracks open sessions.
	InFlight *metrics.Gauge
}

// DefaultConfig renders headless with two concurrent sessions.
func DefaultConfig() Config {
	return Config{
		Headless:  true,
		Sessions:  2,
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		Locale:    "pt-BR",
	}
}

const dismissTimeout = 2 * time.Second

// Playwright renders pages with a shared Chromium; every session gets its
// own browser context.
type Playwright struct {
	cfg     Config
	pw      *playwright.Playwright
	browser playwright.Browser
	slots   *resilience.Bulkhead
}

// Launch starts the driver and a Chromium instance.
func Launch(cfg Config) (*Playwright, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &Playwright{cfg: cfg, pw: pw, browser: browser, slots: resilience.NewBulkhead(cfg.Sessions)}, nil
}

// Acquire waits for a free slot and opens a fresh context and page.
func (p *Playwright) Acquire(ctx context.Context) (Session, error) {
	if err := p.slots.Acquire(ctx); err != nil {
		return nil, err
	}
	opts := playwright.BrowserNewContextOptions{}
	if p.cfg.UserAgent != "" {
		opts.UserAgent = playwright.String(p.cfg.UserAgent)
	}
	if p.cfg.Locale != "" {
		opts.Locale = playwright.String(p.cfg.Locale)
	}
	bctx, err := p.browser.NewContext(opts)
	if err != nil {
		p.slots.Release()
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		p.slots.Release()
		return nil, fmt.Errorf("new page: %w", err)
	}
	p.track()
	return &pwSession{owner: p, bctx: bctx, page: page}, nil
}

// track mirrors the bulkhead's occupancy into the in-flight gauge.
func (p *Playwright) track() {
	if p.cfg.InFlight != nil {
		p.cfg.InFlight.Set(int64(p.slots.InFlight()))
	}
}

// Close shuts the browser and the driver down.
func (p *Playwright) Close() error {
	return errors.Join(p.browser.Close(), p.pw.Stop())
}

type pwSession struct {
	owner *Playwright
	bctx  playwright.BrowserContext
	page  playwright.Page
	once  sync.Once
}

func (s *pwSession) Render(ctx context.Context, url string, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	// Closing the page aborts any pending wait when ctx ends first.
	stop := context.AfterFunc(ctx, func() { s.page.Close() })
	defer stop()

	deadline := time.Now().Add(opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if len(opts.Headers) > 0 {
		if err := s.page.SetExtraHTTPHeaders(opts.Headers); err != nil {
			return "", fmt.Errorf("set headers: %w", err)
		}
	}
	if _, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   remaining(deadline),
	}); err != nil {
		return "", classify(ctx, fmt.Sprintf("navigate %s", url), err, ErrNavigationTimeout)
	}

	for _, sel := range opts.Dismiss {
		s.dismiss(sel, deadline)
	}

	if opts.WaitSelector != "" {
		err := s.page.Locator(opts.WaitSelector).First().WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateVisible,
			Timeout: remaining(deadline),
		})
		if err != nil {
			return "", classify(ctx, fmt.Sprintf("wait for %q", opts.WaitSelector), err, ErrTimeout)
		}
	}

	html, err := s.page.Content()
	if err != nil {
		return "", classify(ctx, "read content", err, ErrTimeout)
	}
	return html, nil
}

// dismiss clicks sel if it is currently visible. The click never outlives
// deadline.
func (s *pwSession) dismiss(sel string, deadline time.Time) {
	if time.Until(deadline) <= 0 {
		return
	}
	loc := s.page.Locator(sel).First()
	if visible, err := loc.IsVisible(); err != nil || !visible {
		return
	}
	_ = loc.Click(playwright.LocatorClickOptions{Timeout: remaining(deadline, dismissTimeout)})
}

func (s *pwSession) Release() error {
	var err error
	s.once.Do(func() {
		err = errors.Join(s.page.Close(), s.bctx.Close())
		s.owner.slots.Release()
		s.owner.track()
	})
	return err
}

// remaining converts the time left before deadline into a playwright
// timeout in milliseconds, optionally capped. Playwright reads 0 as "no
// timeout", so the floor is 1ms.
func remaining(deadline time.Time, limit ...time.Duration) *float64 {
	left := time.Until(deadline)
	for _, l := range limit {
		left = min(left, l)
	}
	return playwright.Float(float64(max(left.Milliseconds(), 1)))
}

// classify maps driver timeouts and an expired deadline onto timeout, and
// a cancelled context onto its own error.
func classify(ctx context.Context, op string, err, timeout error) error {
	if errors.Is(err, playwright.ErrTimeout) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, timeout)
	}
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("%s: %w", op, cerr)
	}
	return fmt.Errorf("%s: %w", op, err)
}
