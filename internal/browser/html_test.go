package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingHTML = `<html><body>
<div class="card"><a class="link" href="/company/acme">Acme</a><span class="size">11-50</span></div>
<div class="card"><a class="link" href="/company/globex">Globex</a><span class="size">51-200</span></div>
<button class="reveal" data-href="/revealed">Reveal</button>
<button class="dead">Nothing</button>
</body></html>`

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newTestPage(t *testing.T, srv *httptest.Server) Page {
	t.Helper()
	d := NewHTMLDriver(NewHTTPFetcher(srv.Client(), "outreach-test", nil), time.Millisecond)
	p, err := d.NewPage(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() }) //nolint:errcheck
	return p
}

func TestHTMLDriver_QueryAndText(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "outreach-test", r.Header.Get("User-Agent"))
		fmt.Fprint(w, listingHTML)
	})
	p := newTestPage(t, srv)
	ctx := context.Background()

	require.NoError(t, p.Navigate(ctx, srv.URL+"/listing"))
	assert.Equal(t, srv.URL+"/listing", p.URL())

	cards, err := p.QuerySelectorAll(ctx, ".card")
	require.NoError(t, err)
	require.Len(t, cards, 2)

	name, err := TextOf(ctx, cards[1], "a.link")
	require.NoError(t, err)
	assert.Equal(t, "Globex", name)

	link, err := cards[0].QuerySelector(ctx, "a.link")
	require.NoError(t, err)
	href, ok := link.Attr("href")
	assert.True(t, ok)
	assert.Equal(t, "/company/acme", href)

	missing, err := p.QuerySelector(ctx, ".nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	empty, err := TextOf(ctx, cards[0], ".nope")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHTMLDriver_WaitForLateContent(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			fmt.Fprint(w, `<html><body>loading</body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body><button class="site">acme.com</button></body></html>`)
	})
	p := newTestPage(t, srv)
	ctx := context.Background()

	require.NoError(t, p.Navigate(ctx, srv.URL))
	ok, err := p.WaitFor(ctx, "button.site", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, hits.Load(), int32(3))
}

func TestHTMLDriver_WaitForTimesOut(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>still loading</body></html>`)
	})
	p := newTestPage(t, srv)
	ctx := context.Background()

	require.NoError(t, p.Navigate(ctx, srv.URL))

	start := time.Now()
	ok, err := p.WaitFor(ctx, "button.site", 30*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)

	found, err := p.WaitForText(ctx, "still loading", 0)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestHTMLDriver_NotFoundBodyIsReadable(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `<html><body><h1>Page not found</h1></body></html>`)
	})
	p := newTestPage(t, srv)
	ctx := context.Background()

	require.NoError(t, p.Navigate(ctx, srv.URL+"/company/missing"))
	ok, err := p.WaitForText(ctx, "Page not found", 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHTMLDriver_ServerErrorFails(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	p := newTestPage(t, srv)

	err := p.Navigate(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestHTMLDriver_ClickFollowsLinks(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/revealed":
			fmt.Fprint(w, `<html><body><a href="mailto:jane@acme.com">jane@acme.com</a></body></html>`)
		default:
			fmt.Fprint(w, listingHTML)
		}
	})
	p := newTestPage(t, srv)
	ctx := context.Background()
	require.NoError(t, p.Navigate(ctx, srv.URL+"/listing"))

	dead, err := p.QuerySelector(ctx, "button.dead")
	require.NoError(t, err)
	assert.Error(t, dead.Click(ctx))

	reveal, err := p.QuerySelector(ctx, "button.reveal")
	require.NoError(t, err)
	require.NoError(t, reveal.Click(ctx))
	assert.Equal(t, srv.URL+"/revealed", p.URL())

	ok, err := p.WaitFor(ctx, `a[href^="mailto:"]`, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHTMLDriver_ClosedPage(t *testing.T) {
	d := NewHTMLDriver(NewHTTPFetcher(nil, "", nil), 0)
	p, err := d.NewPage(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.Error(t, p.Navigate(context.Background(), "http://127.0.0.1:1"))
}

func TestHostLimiter_PacesPerHost(t *testing.T) {
	hl := NewHostLimiter(50, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, hl.WaitURL(ctx, "https://wellfound.com/role/x"))
	}
	// Two waits at 50/s is roughly 40ms.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	// A different host has its own bucket.
	start = time.Now()
	require.NoError(t, hl.WaitURL(ctx, "https://app.apollo.io/#/people"))
	assert.Less(t, time.Since(start), 15*time.Millisecond)
}

func TestHostLimiter_DisabledAndNil(t *testing.T) {
	var nilLimiter *HostLimiter
	require.NoError(t, nilLimiter.WaitURL(context.Background(), "https://x"))

	hl := NewHostLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.NoError(t, hl.WaitURL(context.Background(), "https://x"))
	}
}

func TestXPathLiteral_EmbeddedQuotes(t *testing.T) {
	assert.Equal(t, `"Page not found"`, xpathLiteral("Page not found"))
	assert.Equal(t, `'say "hi"'`, xpathLiteral(`say "hi"`))
	assert.Equal(t, `concat("it's ", '"', "x", '"', "")`, xpathLiteral(`it's "x"`))
}
