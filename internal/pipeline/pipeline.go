// Package pipeline runs one outreach pass: discover companies, resolve
// their website and a contact, send the email and record it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/contact"
	"github.com/sells-group/outreach-cli/internal/discovery"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

// Collector lists candidate companies.
type Collector interface {
	Collect(ctx context.Context) ([]model.CompanySummary, discovery.Stats, error)
}

// ProfileResolver finds a company's website.
type ProfileResolver interface {
	Resolve(ctx context.Context, s model.CompanySummary) (model.CompanyProfile, error)
}

// ContactResolver finds a contact for a website domain.
type ContactResolver interface {
	Resolve(ctx context.Context, domain string) (contact.Lookup, error)
	// BreakerState reports whether the directory is currently accepting
	// lookups.
	BreakerState() resilience.CircuitState
}

// Dispatcher sends the outreach email.
type Dispatcher interface {
	Send(ctx context.Context, c model.Contact, p model.CompanyProfile) (string, bool)
}

// Ledger persists records with insert-if-absent semantics.
type Ledger interface {
	InsertIfAbsent(ctx context.Context, rec model.Record) bool
}

// RetryQueue holds companies whose processing failed after they were
// recorded as seen.
type RetryQueue interface {
	Due(ctx context.Context) []resilience.RetryEntry
	Fail(ctx context.Context, p model.CompanyProfile, phase string, err error)
	Done(ctx context.Context, name string)
}

// Failure phases recorded on retry entries.
const (
	PhaseContact = "contact"
	PhaseSend    = "send"
	PhasePanic   = "panic"
)

// ErrSendFailed is recorded when the dispatcher could not deliver.
var ErrSendFailed = eris.New("pipeline: send failed")

type noRetries struct{}

func (noRetries) Due(context.Context) []resilience.RetryEntry               { return nil }
func (noRetries) Fail(context.Context, model.CompanyProfile, string, error) {}
func (noRetries) Done(context.Context, string)                              {}

// Options tunes a run.
type Options struct {
	// DryRun resolves contacts but sends nothing and writes nothing.
	DryRun bool
	// Limit caps how many discovered companies are processed. 0 means all.
	Limit int
	// ContacteeName is stored on every SentRecord.
	ContacteeName string
}

// Orchestrator wires the stages together. It processes one company at a
// time and never lets one company's failure stop the batch.
type Orchestrator struct {
	collector Collector
	profiles  ProfileResolver
	contacts  ContactResolver
	sender    Dispatcher
	ledger    Ledger
	retries   RetryQueue
	opts      Options
	now       func() time.Time
}

// New creates an Orchestrator. q may be nil, in which case failures after
// the seen write are not queued.
func New(c Collector, p ProfileResolver, r ContactResolver, d Dispatcher, l Ledger, q RetryQueue, opts Options) *Orchestrator {
	if q == nil {
		q = noRetries{}
	}
	return &Orchestrator{
		collector: c,
		profiles:  p,
		contacts:  r,
		sender:    d,
		ledger:    l,
		retries:   q,
		opts:      opts,
		now:       time.Now,
	}
}

// job is one company to process: a fresh listing, or a retry entry whose
// profile is already known.
type job struct {
	summary model.CompanySummary
	retry   *resilience.RetryEntry
}

func (j job) name() string {
	if j.retry != nil {
		return j.retry.Name()
	}
	return j.summary.Name
}

// Run executes one pass. The report is returned even when err is non-nil;
// err is set only for cancellation or a failed listing collection.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.New(), StartedAt: o.now(), DryRun: o.opts.DryRun}
	log := zap.L().With(zap.String("run_id", report.RunID.String()))
	log.Info("pipeline: run starting", zap.Bool("dry_run", o.opts.DryRun), zap.Int("limit", o.opts.Limit))

	defer func() {
		report.FinishedAt = o.now()
		log.Info("pipeline: run finished",
			zap.Int("attempted", report.Attempted),
			zap.Int("enriched", report.Enriched),
			zap.Int("sent", report.Sent),
			zap.Int("persisted", report.Persisted),
			zap.Int("skipped", report.Skipped),
			zap.Int("deferred", report.Deferred),
			zap.Int("retried", report.Retried),
			zap.Int("failed", report.Failed),
			zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
		)
	}()

	candidates, stats, err := o.collector.Collect(ctx)
	report.Discovery = stats
	if err != nil {
		return report, eris.Wrap(err, "pipeline: collect listings")
	}

	due := o.retries.Due(ctx)
	jobs := make([]job, 0, len(due)+len(candidates))
	for i := range due {
		jobs = append(jobs, job{retry: &due[i]})
	}
	for _, s := range candidates {
		jobs = append(jobs, job{summary: s})
	}
	if len(due) > 0 {
		log.Info("pipeline: retrying earlier failures first", zap.Int("due", len(due)))
	}
	if o.opts.Limit > 0 && len(jobs) > o.opts.Limit {
		jobs = jobs[:o.opts.Limit]
	}

	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.add(o.process(ctx, j))
	}
	return report, nil
}

// process runs every stage for one company and reports how it ended.
// Panics are recovered here. Once a company is recorded as seen, any
// failure before its sent record is queued for retry.
func (o *Orchestrator) process(ctx context.Context, j job) (res Result) {
	log := zap.L().With(zap.String("company", j.name()))
	res = Result{Company: j.name(), Retry: j.retry != nil}

	var (
		profile model.CompanyProfile
		seen    bool
	)
	// Retry bookkeeping survives cancellation so an interrupted company is
	// not lost.
	queue := context.WithoutCancel(ctx)
	failed := func(phase string, err error) {
		if seen && !o.opts.DryRun {
			o.retries.Fail(queue, profile, phase, err)
		}
	}
	done := func() {
		if j.retry != nil && !o.opts.DryRun {
			o.retries.Done(queue, j.name())
		}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline: recovered panic",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			res.Status = StatusFailed
			res.Err = fmt.Sprintf("panic: %v", r)
			failed(PhasePanic, eris.New(res.Err))
		}
	}()

	if o.contacts.BreakerState() == resilience.CircuitOpen {
		log.Info("pipeline: contact directory unavailable, deferring")
		res.Status = StatusDeferred
		return res
	}

	if j.retry != nil {
		profile = j.retry.Profile
		seen = true
		log.Info("pipeline: retrying",
			zap.String("failed_phase", j.retry.FailedPhase),
			zap.Int("retry_count", j.retry.RetryCount),
		)
	} else {
		var err error
		profile, err = o.profiles.Resolve(ctx, j.summary)
		if err != nil {
			return res.fail(log, "resolve profile", err)
		}
		if !profile.HasWebsite() {
			log.Info("pipeline: no website, skipping")
			res.Status = StatusNoWebsite
			return res
		}
		if !o.opts.DryRun {
			o.ledger.InsertIfAbsent(ctx, model.NewSeenRecord(profile, o.now()))
			seen = true
		}
	}
	res.Website = profile.Website
	res.Enriched = true

	lookup, err := o.contacts.Resolve(ctx, profile.Website)
	if err != nil {
		failed(PhaseContact, err)
		return res.fail(log, "resolve contact", err)
	}
	res.ContactName = lookup.Contact.Name
	res.Outcome = string(lookup.Outcome)
	res.Strategy = lookup.Strategy
	if !lookup.Contact.Usable() {
		log.Info("pipeline: no usable contact, skipping", zap.String("outcome", string(lookup.Outcome)))
		res.Status = StatusNoContact
		done()
		return res
	}

	if o.opts.DryRun {
		log.Info("pipeline: dry run, not sending",
			zap.String("contact", lookup.Contact.Name),
			zap.String("strategy", lookup.Strategy),
		)
		res.Status = StatusDryRun
		return res
	}

	recipient, ok := o.sender.Send(ctx, lookup.Contact, profile)
	res.Recipient = recipient
	if !ok {
		failed(PhaseSend, ErrSendFailed)
		res.Status = StatusSendFailed
		return res
	}
	res.Status = StatusSent
	done()

	rec := model.NewSentRecord(profile, lookup.Contact, recipient, o.opts.ContacteeName, o.now())
	res.Persisted = o.ledger.InsertIfAbsent(ctx, rec)
	if !res.Persisted {
		log.Warn("pipeline: sent record not written")
	}
	return res
}

func (r Result) fail(log *zap.Logger, stage string, err error) Result {
	r.Status = StatusFailed
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.Status = StatusCancelled
	}
	r.Err = err.Error()
	log.Warn("pipeline: "+stage+" failed", zap.Error(err))
	return r
}
