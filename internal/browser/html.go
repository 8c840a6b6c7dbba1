package browser

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

const maxBodyBytes = 8 << 20

// Fetcher returns the HTML served at a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// HTTPFetcher fetches pages with net/http, retrying transient statuses.
// A 404 body is returned as-is so not-found markers can be detected.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	limiter   *HostLimiter
	retry     resilience.RetryConfig
}

// NewHTTPFetcher creates a fetcher. A nil client uses a 30s-timeout default.
func NewHTTPFetcher(client *http.Client, userAgent string, limiter *HostLimiter) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("browser", "fetch")
	return &HTTPFetcher{client: client, userAgent: userAgent, limiter: limiter, retry: retry}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	return resilience.DoVal(ctx, f.retry, func(ctx context.Context) (string, error) {
		if err := f.limiter.WaitURL(ctx, rawURL); err != nil {
			return "", err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return "", eris.Wrapf(err, "html: build request %s", rawURL)
		}
		if f.userAgent != "" {
			req.Header.Set("User-Agent", f.userAgent)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return "", eris.Wrapf(err, "html: get %s", rawURL)
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return "", eris.Wrapf(err, "html: read %s", rawURL)
		}

		switch {
		case resp.StatusCode < 300, resp.StatusCode == http.StatusNotFound:
			return string(body), nil
		case resilience.IsTransientHTTPStatus(resp.StatusCode):
			return "", resilience.NewTransientError(
				eris.Errorf("html: get %s: status %d", rawURL, resp.StatusCode), resp.StatusCode)
		default:
			return "", eris.Errorf("html: get %s: status %d", rawURL, resp.StatusCode)
		}
	})
}

// HTMLDriver implements Browser over a Fetcher. Waits re-fetch the current
// URL every poll interval until the selector or text shows up. Clicks
// follow the element's href or data-href.
type HTMLDriver struct {
	fetcher Fetcher
	poll    time.Duration
}

// NewHTMLDriver creates a driver. A non-positive poll defaults to 250ms.
func NewHTMLDriver(fetcher Fetcher, poll time.Duration) *HTMLDriver {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &HTMLDriver{fetcher: fetcher, poll: poll}
}

func (d *HTMLDriver) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &htmlPage{driver: d}, nil
}

func (d *HTMLDriver) Close() error { return nil }

type htmlPage struct {
	driver *HTMLDriver
	url    string
	doc    *goquery.Document
	closed bool
}

func (p *htmlPage) load(ctx context.Context) error {
	body, err := p.driver.fetcher.Fetch(ctx, p.url)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return eris.Wrapf(err, "html: parse %s", p.url)
	}
	p.doc = doc
	return nil
}

func (p *htmlPage) Navigate(ctx context.Context, rawURL string) error {
	if p.closed {
		return eris.New("html: page closed")
	}
	p.url = rawURL
	return p.load(ctx)
}

func (p *htmlPage) URL() string { return p.url }

// poll evaluates found against the current document, reloading between
// attempts, until it reports true or timeout elapses.
func (p *htmlPage) poll(ctx context.Context, timeout time.Duration, found func(*goquery.Document) bool) (bool, error) {
	if p.doc == nil {
		return false, eris.New("html: no page loaded")
	}
	deadline := time.Now().Add(timeout)
	for {
		if found(p.doc) {
			return true, nil
		}
		if !time.Now().Add(p.driver.poll).Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(p.driver.poll):
		}
		if err := p.load(ctx); err != nil {
			return false, err
		}
	}
}

func (p *htmlPage) WaitFor(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	return p.poll(ctx, timeout, func(doc *goquery.Document) bool {
		return doc.Find(selector).Length() > 0
	})
}

func (p *htmlPage) WaitForText(ctx context.Context, text string, timeout time.Duration) (bool, error) {
	return p.poll(ctx, timeout, func(doc *goquery.Document) bool {
		return strings.Contains(doc.Text(), text)
	})
}

func (p *htmlPage) QuerySelector(ctx context.Context, selector string) (Element, error) {
	if p.doc == nil {
		return nil, eris.New("html: no page loaded")
	}
	return first(p, p.doc.Selection, selector), nil
}

func (p *htmlPage) QuerySelectorAll(ctx context.Context, selector string) ([]Element, error) {
	if p.doc == nil {
		return nil, eris.New("html: no page loaded")
	}
	return all(p, p.doc.Selection, selector), nil
}

func (p *htmlPage) Close() error {
	p.closed = true
	p.doc = nil
	return nil
}

func first(p *htmlPage, root *goquery.Selection, selector string) Element {
	sel := root.Find(selector).First()
	if sel.Length() == 0 {
		return nil
	}
	return &htmlElement{page: p, sel: sel}
}

func all(p *htmlPage, root *goquery.Selection, selector string) []Element {
	var out []Element
	root.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, &htmlElement{page: p, sel: s})
	})
	return out
}

type htmlElement struct {
	page *htmlPage
	sel  *goquery.Selection
}

func (e *htmlElement) Text(context.Context) (string, error) {
	return strings.TrimSpace(e.sel.Text()), nil
}

func (e *htmlElement) Attr(name string) (string, bool) {
	return e.sel.Attr(name)
}

func (e *htmlElement) QuerySelector(_ context.Context, selector string) (Element, error) {
	return first(e.page, e.sel, selector), nil
}

func (e *htmlElement) QuerySelectorAll(_ context.Context, selector string) ([]Element, error) {
	return all(e.page, e.sel, selector), nil
}

func (e *htmlElement) Click(ctx context.Context) error {
	target, ok := e.sel.Attr("href")
	if !ok {
		target, ok = e.sel.Attr("data-href")
	}
	if !ok || target == "" {
		return eris.New("html: element has no link target")
	}
	base, err := url.Parse(e.page.url)
	if err != nil {
		return eris.Wrapf(err, "html: parse base %s", e.page.url)
	}
	ref, err := url.Parse(target)
	if err != nil {
		return eris.Wrapf(err, "html: parse link %s", target)
	}
	return e.page.Navigate(ctx, base.ResolveReference(ref).String())
}
