// Package browsertest serves canned HTML to the browser package's HTML
// driver so discovery and contact lookups can be tested without Chrome.
package browsertest

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/browser"
)

// Site is an in-memory set of pages keyed by full URL. A page may be a
// sequence: each fetch serves the next entry and the last one repeats,
// which models content that renders late.
type Site struct {
	mu    sync.Mutex
	pages map[string][]string
	hits  map[string]int
}

// NewSite creates an empty site.
func NewSite() *Site {
	return &Site{pages: make(map[string][]string), hits: make(map[string]int)}
}

// Set serves html at url. Passing several documents serves them in order.
func (s *Site) Set(url string, html ...string) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = html
	return s
}

// Fetch implements browser.Fetcher.
func (s *Site) Fetch(ctx context.Context, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.pages[url]
	if !ok || len(seq) == 0 {
		return "", eris.Errorf("browsertest: no page at %s", url)
	}
	i := s.hits[url]
	s.hits[url]++
	if i >= len(seq) {
		i = len(seq) - 1
	}
	return seq[i], nil
}

// Hits returns how many times url was fetched.
func (s *Site) Hits(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[url]
}

// Browser returns an HTML driver over the site that records page
// lifecycles. Waits poll every millisecond.
func (s *Site) Browser() *Tracker {
	return Track(browser.NewHTMLDriver(s, time.Millisecond))
}

// QueryFault decides whether a query under parent fails. parent is nil for
// queries made on the page itself.
type QueryFault func(ctx context.Context, parent browser.Element, selector string) error

// Tracker wraps a Browser and counts pages opened and closed.
type Tracker struct {
	browser.Browser

	mu     sync.Mutex
	opened int
	closed int
	fault  QueryFault
}

// Track wraps b.
func Track(b browser.Browser) *Tracker {
	return &Tracker{Browser: b}
}

func (t *Tracker) NewPage(ctx context.Context) (browser.Page, error) {
	p, err := t.Browser.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.opened++
	t.mu.Unlock()
	return &trackedPage{Page: p, tracker: t}, nil
}

// FailQueries makes every element query consult fault first. It returns t.
func (t *Tracker) FailQueries(fault QueryFault) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fault = fault
	return t
}

func (t *Tracker) queryFault() QueryFault {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fault
}

// Open returns the number of pages opened and not yet closed.
func (t *Tracker) Open() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opened - t.closed
}

// Opened returns the total number of pages opened.
func (t *Tracker) Opened() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opened
}

type trackedPage struct {
	browser.Page
	tracker *Tracker
	once    sync.Once
}

func (p *trackedPage) QuerySelector(ctx context.Context, selector string) (browser.Element, error) {
	fault := p.tracker.queryFault()
	if fault != nil {
		if err := fault(ctx, nil, selector); err != nil {
			return nil, err
		}
	}
	el, err := p.Page.QuerySelector(ctx, selector)
	return wrapElement(el, fault), err
}

func (p *trackedPage) QuerySelectorAll(ctx context.Context, selector string) ([]browser.Element, error) {
	fault := p.tracker.queryFault()
	if fault != nil {
		if err := fault(ctx, nil, selector); err != nil {
			return nil, err
		}
	}
	els, err := p.Page.QuerySelectorAll(ctx, selector)
	return wrapElements(els, fault), err
}

func (p *trackedPage) Close() error {
	p.once.Do(func() {
		p.tracker.mu.Lock()
		p.tracker.closed++
		p.tracker.mu.Unlock()
	})
	return p.Page.Close()
}

type faultyElement struct {
	browser.Element
	fault QueryFault
}

func wrapElement(el browser.Element, fault QueryFault) browser.Element {
	if el == nil || fault == nil {
		return el
	}
	return &faultyElement{Element: el, fault: fault}
}

func wrapElements(els []browser.Element, fault QueryFault) []browser.Element {
	if fault == nil {
		return els
	}
	for i, el := range els {
		els[i] = wrapElement(el, fault)
	}
	return els
}

func (e *faultyElement) QuerySelector(ctx context.Context, selector string) (browser.Element, error) {
	if err := e.fault(ctx, e.Element, selector); err != nil {
		return nil, err
	}
	el, err := e.Element.QuerySelector(ctx, selector)
	return wrapElement(el, e.fault), err
}

func (e *faultyElement) QuerySelectorAll(ctx context.Context, selector string) ([]browser.Element, error) {
	if err := e.fault(ctx, e.Element, selector); err != nil {
		return nil, err
	}
	els, err := e.Element.QuerySelectorAll(ctx, selector)
	return wrapElements(els, e.fault), err
}
