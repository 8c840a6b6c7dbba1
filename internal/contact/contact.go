// Package contact looks up a decision-maker and their email address for a
// company domain in the people directory.
package contact

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/browser"
	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

// Outcome describes how a lookup ended.
type Outcome string

const (
	OutcomeFound     Outcome = "found"
	OutcomeNoResults Outcome = "no_results"
	// OutcomeNoRows means the result table never rendered.
	OutcomeNoRows Outcome = "no_rows"
	// OutcomeNoEmail means a candidate was found but no strategy read an address.
	OutcomeNoEmail Outcome = "no_email"
)

// ErrSessionMissing is returned by CheckSession when the directory does not
// show a logged-in session.
var ErrSessionMissing = eris.New("contact: directory session not logged in")

// Lookup is the result of one Resolve call.
type Lookup struct {
	Contact model.Contact
	Outcome Outcome
	// Strategy names the email strategy that produced the address.
	Strategy string
}

// Resolver drives the directory search page. Each lookup uses its own tab.
type Resolver struct {
	browser    browser.Browser
	cfg        config.DirectoryConfig
	strategies []EmailStrategy
	breaker    *resilience.CircuitBreaker

	sessionWait   time.Duration
	noResultsWait time.Duration
	resultsWait   time.Duration
	revealWait    time.Duration
}

// NewResolver creates a Resolver. When no strategies are given the
// configured email selectors are used in order.
func NewResolver(b browser.Browser, cfg config.DirectoryConfig, strategies ...EmailStrategy) *Resolver {
	if len(strategies) == 0 {
		strategies = DefaultStrategies(cfg.Selectors.Email)
	}
	breakerCfg := resilience.FromCircuitConfig(cfg.FailureThreshold, cfg.ResetTimeoutSecs)
	breakerCfg.ShouldTrip = func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("contact: directory circuit changed",
			zap.String("from", from.String()), zap.String("to", to.String()))
	}
	return &Resolver{
		browser:       b,
		cfg:           cfg,
		strategies:    strategies,
		breaker:       resilience.NewCircuitBreaker(breakerCfg),
		sessionWait:   config.Seconds(cfg.SessionTimeoutSecs, time.Minute),
		noResultsWait: config.Seconds(cfg.NoResultsTimeoutSecs, 3*time.Second),
		resultsWait:   config.Seconds(cfg.ResultsTimeoutSecs, 15*time.Second),
		revealWait:    config.Seconds(cfg.RevealTimeoutSecs, 10*time.Second),
	}
}

// SearchURL returns the directory people-search URL for domain: the
// configured departments, sorted descending by title, keyword = domain.
func SearchURL(cfg config.DirectoryConfig, domain string) string {
	q := url.Values{}
	q.Set("sortAscending", "false")
	if cfg.SortField != "" {
		q.Set("sortByField", cfg.SortField)
	}
	if cfg.VerifiedOnly {
		q.Add("contactEmailStatusV2[]", "verified")
	}
	for _, d := range cfg.Departments {
		q.Add("personDepartmentOrSubdepartments[]", d)
	}
	q.Set("page", "1")
	q.Set("qKeywords", domain)
	// The directory routes on the URL fragment, so the query follows "?"
	// after the fragment path.
	return strings.TrimRight(cfg.BaseURL, "?") + "?" + q.Encode()
}

// CheckSession opens the login page and waits for the logged-in marker.
func (r *Resolver) CheckSession(ctx context.Context) error {
	page, err := r.browser.NewPage(ctx)
	if err != nil {
		return eris.Wrap(err, "contact: open session tab")
	}
	defer page.Close() //nolint:errcheck

	if err := page.Navigate(ctx, r.cfg.LoginURL); err != nil {
		return eris.Wrap(err, "contact: load login page")
	}
	ok, err := page.WaitForText(ctx, r.cfg.Selectors.SessionReadyText, r.sessionWait)
	if err != nil {
		return eris.Wrap(err, "contact: wait for session")
	}
	if !ok {
		return ErrSessionMissing
	}
	return nil
}

// Resolve finds the first ranked candidate for domain and reads their
// email. "No results" and a missing address are reported through the
// Outcome with a nil error. Errors mean the directory could not be driven;
// repeated errors open the circuit and later calls fail fast with
// resilience.ErrCircuitOpen.
func (r *Resolver) Resolve(ctx context.Context, domain string) (Lookup, error) {
	if strings.TrimSpace(domain) == "" {
		return Lookup{}, eris.New("contact: empty domain")
	}
	return resilience.ExecuteVal(ctx, r.breaker, func(ctx context.Context) (Lookup, error) {
		return r.lookup(ctx, domain)
	})
}

// BreakerState reports the directory circuit state.
func (r *Resolver) BreakerState() resilience.CircuitState {
	return r.breaker.State()
}

func (r *Resolver) lookup(ctx context.Context, domain string) (Lookup, error) {
	log := zap.L().With(zap.String("domain", domain))
	sel := r.cfg.Selectors

	page, err := r.browser.NewPage(ctx)
	if err != nil {
		return Lookup{}, eris.Wrap(err, "contact: open search tab")
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.Warn("contact: close search tab", zap.Error(err))
		}
	}()

	if err := page.Navigate(ctx, SearchURL(r.cfg, domain)); err != nil {
		return Lookup{}, eris.Wrapf(err, "contact: search %s", domain)
	}

	empty, err := page.WaitForText(ctx, sel.NoResultsText, r.noResultsWait)
	if err != nil {
		return Lookup{}, eris.Wrap(err, "contact: check no-results marker")
	}
	if empty {
		log.Info("contact: no people match")
		return Lookup{Outcome: OutcomeNoResults}, nil
	}

	ok, err := page.WaitFor(ctx, sel.Row, r.resultsWait)
	if err != nil {
		return Lookup{}, eris.Wrap(err, "contact: wait for results")
	}
	if !ok {
		log.Info("contact: result rows did not render")
		return Lookup{Outcome: OutcomeNoRows}, nil
	}

	row, err := page.QuerySelector(ctx, sel.Row)
	if err != nil {
		return Lookup{}, eris.Wrap(err, "contact: read first row")
	}
	if row == nil {
		return Lookup{Outcome: OutcomeNoRows}, nil
	}
	name, err := browser.TextOf(ctx, row, sel.Name)
	if err != nil {
		if ctx.Err() != nil {
			return Lookup{}, ctx.Err()
		}
		log.Warn("contact: candidate name unreadable, continuing without it", zap.Error(err))
		name = ""
	}
	res := Lookup{Contact: model.Contact{Name: name}, Outcome: OutcomeNoEmail}

	if row, err = r.reveal(ctx, page, row, log); err != nil {
		return res, err
	}
	if row == nil {
		return res, nil
	}

	for _, s := range r.strategies {
		addr, err := s.Extract(ctx, row)
		if err != nil {
			log.Debug("contact: email strategy failed", zap.String("strategy", s.Name()), zap.Error(err))
			continue
		}
		if addr != "" {
			res.Contact.Email = addr
			res.Outcome = OutcomeFound
			res.Strategy = s.Name()
			log.Info("contact: email found", zap.String("strategy", s.Name()))
			return res, nil
		}
	}
	log.Info("contact: no email on candidate", zap.String("name", name))
	return res, nil
}

// reveal clicks the row's reveal control, if present, and returns the
// re-read first row once an email selector shows up. It returns a nil row
// when the address never appears.
func (r *Resolver) reveal(ctx context.Context, page browser.Page, row browser.Element, log *zap.Logger) (browser.Element, error) {
	sel := r.cfg.Selectors
	if sel.RevealButton == "" {
		return row, nil
	}
	btn, err := row.QuerySelector(ctx, sel.RevealButton)
	if err != nil {
		return nil, eris.Wrap(err, "contact: find reveal control")
	}
	if btn == nil {
		return row, nil
	}
	if err := btn.Click(ctx); err != nil {
		return nil, eris.Wrap(err, "contact: reveal email")
	}

	emailSel := strings.Join(sel.Email, ", ")
	if emailSel != "" {
		ok, err := page.WaitFor(ctx, emailSel, r.revealWait)
		if err != nil {
			return nil, eris.Wrap(err, "contact: wait for revealed email")
		}
		if !ok {
			log.Info("contact: email was not revealed")
			return nil, nil
		}
	}

	row, err = page.QuerySelector(ctx, sel.Row)
	if err != nil {
		return nil, eris.Wrap(err, "contact: re-read first row")
	}
	return row, nil
}
