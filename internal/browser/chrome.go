package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	defaultNavTimeout = 45 * time.Second
	defaultOpTimeout  = 10 * time.Second
)

// ChromeOptions configures the Chrome driver.
type ChromeOptions struct {
	Headless bool
	ExecPath string
	// UserDataDir keeps cookies between runs so a directory login survives.
	UserDataDir string
	UserAgent   string
	Limiter     *HostLimiter

	NavTimeout time.Duration
	OpTimeout  time.Duration
}

// Chrome drives a local Chrome or Chromium through chromedp.
type Chrome struct {
	ctx         context.Context // browser-level context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	opts        ChromeOptions
}

// NewChrome launches the browser and waits for it to accept commands.
func NewChrome(ctx context.Context, opts ChromeOptions) (*Chrome, error) {
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = defaultNavTimeout
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-notifications", true),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(zap.S().Named("chrome").Debugf),
		chromedp.WithErrorf(zap.S().Named("chrome").Warnf),
	)

	// The first Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, eris.Wrap(err, "chrome: start")
	}

	return &Chrome{ctx: browserCtx, cancel: cancel, allocCancel: allocCancel, opts: opts}, nil
}

// NewPage opens a new tab in the shared browser session.
func (c *Chrome) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(c.ctx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, eris.Wrap(err, "chrome: open tab")
	}
	return &chromePage{ctx: tabCtx, cancel: cancel, browser: c}, nil
}

// Close shuts down the browser process.
func (c *Chrome) Close() error {
	err := chromedp.Cancel(c.ctx)
	c.cancel()
	c.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return eris.Wrap(err, "chrome: close")
	}
	return nil
}

type chromePage struct {
	ctx     context.Context // tab context
	cancel  context.CancelFunc
	browser *Chrome
	url     string
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	if err := p.browser.opts.Limiter.WaitURL(ctx, url); err != nil {
		return err
	}
	err := p.run(ctx, p.browser.opts.NavTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if isDeadline(err) {
		return eris.Wrapf(ErrTimeout, "chrome: navigate %s", url)
	}
	if err != nil {
		return eris.Wrapf(err, "chrome: navigate %s", url)
	}
	p.url = url
	return nil
}

func (p *chromePage) URL() string { return p.url }

func (p *chromePage) wait(ctx context.Context, timeout time.Duration, sel string, by chromedp.QueryOption) (bool, error) {
	err := p.run(ctx, timeout, chromedp.WaitVisible(sel, by))
	switch {
	case err == nil:
		return true, nil
	case isDeadline(err):
		return false, nil
	default:
		return false, eris.Wrapf(err, "chrome: wait %s", sel)
	}
}

func (p *chromePage) WaitFor(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	return p.wait(ctx, timeout, selector, chromedp.ByQuery)
}

func (p *chromePage) WaitForText(ctx context.Context, text string, timeout time.Duration) (bool, error) {
	return p.wait(ctx, timeout, textXPath(text), chromedp.BySearch)
}

// textXPath matches the innermost element whose full string value contains
// text, so markers split across inline children still match.
func textXPath(text string) string {
	lit := xpathLiteral(strings.Join(strings.Fields(text), " "))
	return fmt.Sprintf("//*[contains(normalize-space(.), %[1]s) and not(*[contains(normalize-space(.), %[1]s)])]", lit)
}

func (p *chromePage) QuerySelector(ctx context.Context, selector string) (Element, error) {
	return p.queryOne(ctx, selector)
}

func (p *chromePage) QuerySelectorAll(ctx context.Context, selector string) ([]Element, error) {
	return p.queryAll(ctx, selector)
}

func (p *chromePage) queryOne(ctx context.Context, selector string, opts ...chromedp.QueryOption) (Element, error) {
	var nodes []*cdp.Node
	opts = append([]chromedp.QueryOption{chromedp.ByQuery, chromedp.AtLeast(0)}, opts...)
	if err := p.run(ctx, p.browser.opts.OpTimeout, chromedp.Nodes(selector, &nodes, opts...)); err != nil {
		return nil, eris.Wrapf(err, "chrome: query %s", selector)
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return &chromeElement{page: p, node: nodes[0]}, nil
}

func (p *chromePage) queryAll(ctx context.Context, selector string, opts ...chromedp.QueryOption) ([]Element, error) {
	var nodes []*cdp.Node
	opts = append([]chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}, opts...)
	if err := p.run(ctx, p.browser.opts.OpTimeout, chromedp.Nodes(selector, &nodes, opts...)); err != nil {
		return nil, eris.Wrapf(err, "chrome: query all %s", selector)
	}
	out := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &chromeElement{page: p, node: n})
	}
	return out, nil
}

func (p *chromePage) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return eris.Wrap(err, "chrome: close tab")
	}
	return nil
}

type chromeElement struct {
	page *chromePage
	node *cdp.Node
}

func (e *chromeElement) Text(ctx context.Context) (string, error) {
	var text string
	err := e.page.run(ctx, e.page.browser.opts.OpTimeout,
		chromedp.Text([]cdp.NodeID{e.node.NodeID}, &text, chromedp.ByNodeID),
	)
	if err != nil {
		return "", eris.Wrap(err, "chrome: element text")
	}
	return strings.TrimSpace(text), nil
}

func (e *chromeElement) Attr(name string) (string, bool) {
	return e.node.Attribute(name)
}

func (e *chromeElement) QuerySelector(ctx context.Context, selector string) (Element, error) {
	return e.page.queryOne(ctx, selector, chromedp.FromNode(e.node))
}

func (e *chromeElement) QuerySelectorAll(ctx context.Context, selector string) ([]Element, error) {
	return e.page.queryAll(ctx, selector, chromedp.FromNode(e.node))
}

func (e *chromeElement) Click(ctx context.Context) error {
	if err := e.page.run(ctx, e.page.browser.opts.OpTimeout, chromedp.MouseClickNode(e.node)); err != nil {
		return eris.Wrap(err, "chrome: click")
	}
	return nil
}

// xpathLiteral quotes s for use inside an XPath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, part := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		quoted = append(quoted, `"`+part+`"`)
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
