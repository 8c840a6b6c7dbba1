package discovery

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/browser"
	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
)

// ProfileResolver opens a company's profile page in its own tab and reads
// the website link.
type ProfileResolver struct {
	browser      browser.Browser
	cfg          config.DiscoveryConfig
	notFoundWait time.Duration
	websiteWait  time.Duration
}

// NewProfileResolver creates a ProfileResolver.
func NewProfileResolver(b browser.Browser, cfg config.DiscoveryConfig) *ProfileResolver {
	return &ProfileResolver{
		browser:      b,
		cfg:          cfg,
		notFoundWait: config.Seconds(cfg.NotFoundTimeoutSecs, time.Second),
		websiteWait:  config.Seconds(cfg.WebsiteTimeoutSecs, 15*time.Second),
	}
}

// ProfileURL returns the absolute profile page URL for s.
func (r *ProfileResolver) ProfileURL(s model.CompanySummary) (string, error) {
	if s.ProfilePath == "" {
		return "", eris.Errorf("discovery: %s has no profile link", s.Name)
	}
	base, err := url.Parse(strings.TrimRight(r.cfg.BaseURL, "/") + "/")
	if err != nil {
		return "", eris.Wrap(err, "discovery: parse base url")
	}
	ref, err := url.Parse(s.ProfilePath)
	if err != nil {
		return "", eris.Wrapf(err, "discovery: parse profile link %q", s.ProfilePath)
	}
	return base.ResolveReference(ref).String(), nil
}

// Resolve returns s enriched with its website. A missing profile page or a
// website link that never renders yields a profile with an empty Website
// and a nil error; errors mean the page could not be driven at all. The
// tab is closed on every path.
func (r *ProfileResolver) Resolve(ctx context.Context, s model.CompanySummary) (model.CompanyProfile, error) {
	profile := model.CompanyProfile{CompanySummary: s}
	log := zap.L().With(zap.String("company", s.Name))

	target, err := r.ProfileURL(s)
	if err != nil {
		log.Info("discovery: no profile link on card")
		return profile, nil
	}

	page, err := r.browser.NewPage(ctx)
	if err != nil {
		return profile, eris.Wrap(err, "discovery: open profile tab")
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.Warn("discovery: close profile tab", zap.Error(err))
		}
	}()

	if err := page.Navigate(ctx, target); err != nil {
		return profile, eris.Wrapf(err, "discovery: load profile %s", s.Name)
	}

	sel := r.cfg.Selectors
	notFound, err := page.WaitForText(ctx, sel.NotFound, r.notFoundWait)
	if err != nil {
		return profile, eris.Wrap(err, "discovery: check not-found marker")
	}
	if notFound {
		log.Info("discovery: profile page not found", zap.String("url", target))
		return profile, nil
	}

	found, err := page.WaitFor(ctx, sel.Website, r.websiteWait)
	if err != nil {
		return profile, eris.Wrap(err, "discovery: wait for website")
	}
	if !found {
		log.Info("discovery: website link did not render")
		return profile, nil
	}

	el, err := page.QuerySelector(ctx, sel.Website)
	if err != nil {
		return profile, eris.Wrap(err, "discovery: read website")
	}
	if el == nil {
		log.Info("discovery: website link disappeared")
		return profile, nil
	}
	raw, err := el.Text(ctx)
	if err != nil {
		return profile, eris.Wrap(err, "discovery: read website text")
	}
	profile.Website = NormalizeWebsite(raw)
	if profile.Website == "" {
		log.Info("discovery: website text not a host", zap.String("raw", raw))
	}
	return profile, nil
}
