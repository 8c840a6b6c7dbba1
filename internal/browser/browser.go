// Package browser is the page automation surface used by discovery and
// contact lookup. Two drivers implement it: Chrome over the DevTools
// protocol for script-rendered sites, and HTMLDriver over plain HTTP and
// goquery for static pages.
package browser

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/config"
)

// ErrTimeout is returned when a navigation does not finish within its bound.
// Element waits report timeouts as a false result instead.
var ErrTimeout = eris.New("browser: timed out")

// Browser owns a browsing session and hands out isolated pages.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is one browsing context (a tab). Pages are not safe for concurrent
// use and must be closed by the caller.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL() string

	// WaitFor waits up to timeout for selector to match a visible element.
	// It returns false with a nil error when the wait runs out.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) (bool, error)

	// WaitForText waits up to timeout for text to appear anywhere on the page.
	WaitForText(ctx context.Context, text string, timeout time.Duration) (bool, error)

	// QuerySelector returns the first match, or nil when nothing matches.
	QuerySelector(ctx context.Context, selector string) (Element, error)
	QuerySelectorAll(ctx context.Context, selector string) ([]Element, error)

	Close() error
}

// Element is a node on a page.
type Element interface {
	Text(ctx context.Context) (string, error)
	Attr(name string) (string, bool)
	QuerySelector(ctx context.Context, selector string) (Element, error)
	QuerySelectorAll(ctx context.Context, selector string) ([]Element, error)
	Click(ctx context.Context) error
}

// Open starts the driver named by cfg.Driver.
func Open(ctx context.Context, cfg config.BrowserConfig) (Browser, error) {
	limiter := NewHostLimiter(cfg.RequestsPerSecond, cfg.Burst)
	poll := time.Duration(cfg.PollIntervalMs) * time.Millisecond

	switch cfg.Driver {
	case "", "chrome":
		return NewChrome(ctx, ChromeOptions{
			Headless:    cfg.Headless,
			ExecPath:    cfg.ExecPath,
			UserDataDir: cfg.UserDataDir,
			UserAgent:   cfg.UserAgent,
			Limiter:     limiter,
		})
	case "http":
		return NewHTMLDriver(NewHTTPFetcher(nil, cfg.UserAgent, limiter), poll), nil
	default:
		return nil, eris.Errorf("browser: unknown driver %q", cfg.Driver)
	}
}

// TextOf returns the trimmed text of the first element matching selector
// under parent, or "" when there is none.
func TextOf(ctx context.Context, parent Element, selector string) (string, error) {
	el, err := parent.QuerySelector(ctx, selector)
	if err != nil || el == nil {
		return "", err
	}
	return el.Text(ctx)
}
