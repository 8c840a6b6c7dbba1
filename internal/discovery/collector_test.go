package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/browser"
	"github.com/sells-group/outreach-cli/internal/browser/browsertest"
	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
)

const testBase = "https://listings.test"

func testDiscoveryConfig() config.DiscoveryConfig {
	return config.DiscoveryConfig{
		BaseURL:             testBase,
		JobTitles:           []string{"data science"},
		Locations:           []string{"san diego"},
		IncludeRemote:       true,
		MaxCompanySize:      100,
		MaxCardsPerPage:     50,
		ListTimeoutSecs:     1,
		NotFoundTimeoutSecs: 1,
		WebsiteTimeoutSecs:  1,
		Selectors: config.ListingSelectors{
			Card:        ".pl-2.flex.flex-col",
			Link:        "a.text-neutral-1000",
			Name:        "h2.inline.text-md.font-semibold",
			Description: "span.text-xs.text-neutral-1000",
			Size:        "span.text-xs.italic.text-neutral-500",
			Website:     "button.styles_websiteLink___Rnfc",
			NotFound:    "Page not found",
		},
	}
}

type card struct {
	slug, name, desc, size string
}

func cardHTML(c card) string {
	var b strings.Builder
	b.WriteString(`<div class="pl-2 flex flex-col">`)
	fmt.Fprintf(&b, `<a class="text-neutral-1000" href="/company/%s">`, c.slug)
	if c.name != "" {
		fmt.Fprintf(&b, `<h2 class="inline text-md font-semibold">%s</h2>`, c.name)
	}
	b.WriteString(`</a>`)
	if c.desc != "" {
		fmt.Fprintf(&b, `<span class="text-xs text-neutral-1000">"%s"</span>`, c.desc)
	}
	if c.size != "" {
		fmt.Fprintf(&b, `<span class="text-xs italic text-neutral-500">%s</span>`, c.size)
	}
	b.WriteString(`</div>`)
	return b.String()
}

func listingHTML(cards ...card) string {
	var b strings.Builder
	b.WriteString(`<html><body>`)
	for _, c := range cards {
		b.WriteString(cardHTML(c))
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func TestCollector_FiltersInOrder(t *testing.T) {
	site := browsertest.NewSite().
		Set(testBase+"/role/l/data-science/san-diego", listingHTML(
			card{"acme", "Acme", "Rockets and anvils", "11-50"},
			card{"hooli", "Hooli", "Search", "10000+"},
			card{"acme", "Acme", "Rockets and anvils", "11-50"},
			card{"initech", "Initech", "TPS reports", "51-100"},
			card{"nameless", "", "No name", "1-10"},
			card{"vandelay", "Vandelay", "Import export", "1-10"},
		)).
		Set(testBase+"/role/r/data-science", listingHTML(
			card{"globex", "Globex", "Everything", "1-10"},
			card{"vandelay", "Vandelay", "Import export", "1-10"},
		))
	b := site.Browser()
	seen := &fakeSeen{names: map[string]bool{"Initech": true}}

	out, stats, err := NewCollector(b, seen, testDiscoveryConfig()).Collect(context.Background())
	require.NoError(t, err)

	var names []string
	for _, s := range out {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"Acme", "Vandelay", "Globex"}, names)

	assert.Equal(t, "Rockets and anvils", out[0].Description)
	assert.Equal(t, "data science", out[0].JobType)
	assert.Equal(t, "san diego", out[0].Location)
	assert.Equal(t, "/company/acme", out[0].ProfilePath)
	assert.Equal(t, model.LocationRemote, out[2].Location)

	assert.Equal(t, 2, stats.Queries)
	assert.Equal(t, 8, stats.Cards)
	assert.Equal(t, 3, stats.Emitted)
	assert.Equal(t, 2, stats.Rejected[ReasonDuplicate])
	assert.Equal(t, 1, stats.Rejected[ReasonSizeTooLarge])
	assert.Equal(t, 1, stats.Rejected[ReasonAlreadySeen])
	assert.Equal(t, 1, stats.Rejected[ReasonIncomplete])

	assert.Equal(t, 0, b.Open(), "listing page must be closed")
}

func TestCollector_UnreadableCardIsSkipped(t *testing.T) {
	cfg := testDiscoveryConfig()
	cfg.IncludeRemote = false
	site := browsertest.NewSite().Set(testBase+"/role/l/data-science/san-diego", listingHTML(
		card{"acme", "Acme", "Rockets and anvils", "11-50"},
		card{"initech", "Initech", "TPS reports", "51-100"},
		card{"globex", "Globex", "Everything", "1-10"},
	))
	b := site.Browser().FailQueries(func(ctx context.Context, parent browser.Element, selector string) error {
		if parent == nil || selector != cfg.Selectors.Size {
			return nil
		}
		text, _ := parent.Text(ctx)
		if strings.Contains(text, "Initech") {
			return errors.New("node detached")
		}
		return nil
	})

	out, stats, err := NewCollector(b, nil, cfg).Collect(context.Background())
	require.NoError(t, err)

	var names []string
	for _, s := range out {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"Acme", "Globex"}, names)
	assert.Equal(t, 3, stats.Cards)
	assert.Equal(t, 2, stats.Emitted)
	assert.Equal(t, 1, stats.Rejected[ReasonUnreadable])
	assert.Equal(t, 0, b.Open())
}

func TestCollector_EmptyAndFailingListingsAreSkipped(t *testing.T) {
	site := browsertest.NewSite().
		// No cards ever render on the local listing; the remote listing is missing.
		Set(testBase+"/role/l/data-science/san-diego", `<html><body>Loading…</body></html>`)
	c := NewCollector(site.Browser(), nil, testDiscoveryConfig())
	c.listTimeout = 20 * time.Millisecond

	out, stats, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, 2, stats.Queries)
}

func TestCollector_CardCap(t *testing.T) {
	site := browsertest.NewSite().Set(testBase+"/role/l/data-science/san-diego", listingHTML(
		card{"a", "A", "a", "1-10"},
		card{"b", "B", "b", "1-10"},
		card{"c", "C", "c", "1-10"},
	))
	cfg := testDiscoveryConfig()
	cfg.IncludeRemote = false
	cfg.MaxCardsPerPage = 2

	out, _, err := NewCollector(site.Browser(), nil, cfg).Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestCollector_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewCollector(browsertest.NewSite().Browser(), nil, testDiscoveryConfig()).Collect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
