package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/browser"
	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
)

// Collector walks the listing pages for every configured query and emits
// the companies that pass the Filter, in listing order.
type Collector struct {
	browser     browser.Browser
	seen        SeenChecker
	cfg         config.DiscoveryConfig
	listTimeout time.Duration
}

// NewCollector creates a Collector.
func NewCollector(b browser.Browser, seen SeenChecker, cfg config.DiscoveryConfig) *Collector {
	return &Collector{
		browser:     b,
		seen:        seen,
		cfg:         cfg,
		listTimeout: config.Seconds(cfg.ListTimeoutSecs, 20*time.Second),
	}
}

// Collect runs every query on one listing page. A query whose page fails
// to load or shows no cards is logged and skipped; only cancellation and
// failure to open the page abort the batch.
func (c *Collector) Collect(ctx context.Context) ([]model.CompanySummary, Stats, error) {
	var stats Stats

	page, err := c.browser.NewPage(ctx)
	if err != nil {
		return nil, stats, eris.Wrap(err, "discovery: open listing page")
	}
	defer page.Close() //nolint:errcheck

	filter := NewFilter(c.cfg.MaxCompanySize, c.seen)
	var out []model.CompanySummary

	for _, q := range Queries(c.cfg.JobTitles, c.cfg.Locations, c.cfg.IncludeRemote) {
		if err := ctx.Err(); err != nil {
			return out, stats, err
		}
		stats.Queries++

		log := zap.L().With(zap.String("role", q.Role), zap.String("location", q.Location))
		summaries, err := c.readListing(ctx, page, q, &stats, log)
		if err != nil {
			if ctx.Err() != nil {
				return out, stats, ctx.Err()
			}
			log.Warn("discovery: listing failed", zap.Error(err))
			continue
		}

		for _, s := range summaries {
			stats.Cards++
			if s.Name == "" || s.Description == "" || s.Size == "" {
				stats.reject(ReasonIncomplete)
				log.Info("discovery: skipping incomplete card", zap.String("company", s.Name))
				continue
			}
			ok, reason := filter.Check(ctx, s)
			if !ok {
				stats.reject(reason)
				log.Debug("discovery: card rejected", zap.String("company", s.Name), zap.String("reason", reason))
				continue
			}
			out = append(out, s)
			stats.Emitted++
		}
	}

	zap.L().Info("discovery: collection complete",
		zap.Int("queries", stats.Queries),
		zap.Int("cards", stats.Cards),
		zap.Int("emitted", stats.Emitted),
		zap.Any("rejected", stats.Rejected),
	)
	return out, stats, nil
}

// readListing loads one listing page and reads up to MaxCardsPerPage cards.
// Cards with missing fields come back with those fields empty. A card the
// driver fails to read is counted in stats and skipped.
func (c *Collector) readListing(ctx context.Context, page browser.Page, q Query, stats *Stats, log *zap.Logger) ([]model.CompanySummary, error) {
	sel := c.cfg.Selectors
	if err := page.Navigate(ctx, q.URL(c.cfg.BaseURL)); err != nil {
		return nil, err
	}

	found, err := page.WaitFor(ctx, sel.Card, c.listTimeout)
	if err != nil {
		return nil, err
	}
	if !found {
		log.Info("discovery: no cards on listing page", zap.String("url", page.URL()))
		return nil, nil
	}

	cards, err := page.QuerySelectorAll(ctx, sel.Card)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: query cards")
	}
	if limit := c.cfg.MaxCardsPerPage; limit > 0 && len(cards) > limit {
		cards = cards[:limit]
	}

	out := make([]model.CompanySummary, 0, len(cards))
	for i, card := range cards {
		s, err := c.readCard(ctx, card, q)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			stats.Cards++
			stats.reject(ReasonUnreadable)
			log.Warn("discovery: skipping unreadable card",
				zap.Int("card", i),
				zap.String("company", s.Name),
				zap.Error(err),
			)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *Collector) readCard(ctx context.Context, card browser.Element, q Query) (model.CompanySummary, error) {
	sel := c.cfg.Selectors
	s := model.CompanySummary{JobType: q.Role, Location: q.Location}

	if link, err := card.QuerySelector(ctx, sel.Link); err != nil {
		return s, err
	} else if link != nil {
		s.ProfilePath, _ = link.Attr("href")
	}

	var err error
	if s.Name, err = browser.TextOf(ctx, card, sel.Name); err != nil {
		return s, err
	}
	if s.Description, err = browser.TextOf(ctx, card, sel.Description); err != nil {
		return s, err
	}
	s.Description = strings.TrimSpace(strings.Trim(s.Description, `"`))
	if s.Size, err = browser.TextOf(ctx, card, sel.Size); err != nil {
		return s, err
	}
	return s, nil
}
