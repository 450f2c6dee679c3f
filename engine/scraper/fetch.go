package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/botvagas/vagas/engine/domain"
	"github.com/botvagas/vagas/pkg/render"
	"github.com/botvagas/vagas/pkg/resilience"
)

// Fetcher retrieves the HTML for one search URL of a source.
type Fetcher interface {
	Fetch(ctx context.Context, s *Schema, target string) (string, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, s *Schema, target string) (string, error)

func (f FetcherFunc) Fetch(ctx context.Context, s *Schema, target string) (string, error) {
	return f(ctx, s, target)
}

const maxBodyBytes = 4 << 20

// DefaultHeaders is the header set every static request carries.
func DefaultHeaders() http.Header {
	h := make(http.Header)
	h.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7")
	return h
}

// HTTPFetcher performs one GET per call. It never retries.
type HTTPFetcher struct {
	client  *http.Client
	headers http.Header
	limiter *resilience.HostLimiter
}

// NewHTTPFetcher creates a static fetcher. A nil client uses a fresh
// http.Client; a nil limiter disables rate limiting.
func NewHTTPFetcher(client *http.Client, limiter *resilience.HostLimiter) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPFetcher{client: client, headers: DefaultHeaders(), limiter: limiter}
}

// Fetch returns the body of target, or a *domain.FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, s *Schema, target string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.FetchTimeout())
	defer cancel()

	fail := func(status int, err error) error {
		return &domain.FetchError{Source: s.Name, URL: target, Status: status, Err: err}
	}

	if f.limiter != nil {
		if err := f.limiter.WaitURL(ctx, target); err != nil {
			return "", fail(0, fmt.Errorf("rate limit: %w", err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fail(0, err)
	}
	req.Header = f.headers.Clone()

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return "", fail(resp.StatusCode, nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fail(0, fmt.Errorf("read body: %w", err))
	}
	return string(body), nil
}

// RenderFetcher loads a page through a headless render engine.
type RenderFetcher struct {
	engine  render.Engine
	headers map[string]string
}

// NewRenderFetcher wraps engine. Extra headers are sent on navigation.
func NewRenderFetcher(engine render.Engine, headers map[string]string) *RenderFetcher {
	return &RenderFetcher{engine: engine, headers: headers}
}

// Fetch renders target and waits for the schema's container, all within
// the schema's timeout. The session is released before Fetch returns,
// whatever the outcome. A page that never loads is a FetchError; only a
// missing container is a RenderTimeoutError.
func (f *RenderFetcher) Fetch(ctx context.Context, s *Schema, target string) (string, error) {
	timeout := s.FetchTimeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	html, err := render.Do(ctx, f.engine, target, render.Options{
		WaitSelector: s.WaitSelector,
		Timeout:      timeout,
		Dismiss:      s.Dismiss,
		Headers:      f.headers,
	})
	switch {
	case err == nil:
		return html, nil
	case errors.Is(err, render.ErrTimeout):
		return "", &domain.RenderTimeoutError{Source: s.Name, URL: target, Selector: s.WaitSelector, Timeout: timeout}
	default:
		return "", &domain.FetchError{Source: s.Name, URL: target, Err: err}
	}
}

// errNoRenderer is returned for dynamic sources when no engine is wired.
var errNoRenderer = errors.New("no headless renderer configured")

func unavailable(_ context.Context, s *Schema, target string) (string, error) {
	return "", &domain.FetchError{Source: s.Name, URL: target, Err: errNoRenderer}
}
