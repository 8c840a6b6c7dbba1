package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/browser"
	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/contact"
	"github.com/sells-group/outreach-cli/internal/discovery"
	"github.com/sells-group/outreach-cli/internal/outreach"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/mailer"
)

func newMailer() mailer.Client {
	security := mailer.StartTLS
	if cfg.SMTP.ImplicitTLS {
		security = mailer.ImplicitTLS
	}
	return mailer.NewClient(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password,
		mailer.WithSecurity(security),
		mailer.WithTimeout(config.Seconds(cfg.SMTP.TimeoutSecs, 30*time.Second)),
		mailer.WithRetry(resilience.FromRetryConfig(cfg.SMTP.RetryAttempts, cfg.SMTP.RetryBackoffMs)),
	)
}

// senderAddress is the envelope and header address outreach mail is sent from.
func senderAddress() string {
	if cfg.SMTP.From != "" {
		return cfg.SMTP.From
	}
	return cfg.SMTP.Username
}

func newDispatcher(client mailer.Client) (*outreach.Dispatcher, error) {
	assets, err := outreach.LoadAssets(cfg.Outreach.TemplatesDir)
	if err != nil {
		return nil, eris.Wrap(err, "load outreach templates")
	}
	return outreach.NewDispatcher(client, assets, cfg.Outreach, senderAddress()), nil
}

func retryPolicy() store.RetryPolicy {
	p := store.DefaultRetryPolicy()
	p.MaxRetries = cfg.Store.RetryMaxAttempts
	if cfg.Store.RetryBackoffMins > 0 {
		p.Backoff = time.Duration(cfg.Store.RetryBackoffMins) * time.Minute
	}
	if cfg.Store.RetryBatchLimit > 0 {
		p.Limit = cfg.Store.RetryBatchLimit
	}
	return p
}

// runOnce opens every dependency, runs a single pipeline pass and releases
// them again.
func runOnce(ctx context.Context, opts pipeline.Options) (*pipeline.Report, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	defer st.Close() //nolint:errcheck

	if err := st.Migrate(ctx); err != nil {
		return nil, eris.Wrap(err, "migrate store")
	}
	ledger := store.NewLedger(st, store.WithRetryPolicy(retryPolicy()))

	dispatcher, err := newDispatcher(newMailer())
	if err != nil {
		return nil, err
	}

	b, err := browser.Open(ctx, cfg.Browser)
	if err != nil {
		return nil, eris.Wrap(err, "open browser")
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			zap.L().Warn("close browser", zap.Error(cerr))
		}
	}()

	contacts := contact.NewResolver(b, cfg.Directory)
	if cfg.Directory.LoginURL != "" {
		if err := contacts.CheckSession(ctx); err != nil {
			return nil, eris.Wrap(err, "contact directory session")
		}
	}

	if opts.ContacteeName == "" {
		opts.ContacteeName = cfg.Outreach.SenderName
	}
	o := pipeline.New(
		discovery.NewCollector(b, ledger, cfg.Discovery),
		discovery.NewProfileResolver(b, cfg.Discovery),
		contacts,
		dispatcher,
		ledger,
		ledger,
		opts,
	)
	return o.Run(ctx)
}
