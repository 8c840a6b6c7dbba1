package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

// Store defines the persistence interface for the outreach ledger. Every
// relation is keyed by company name. Seen and sent rows only ever grow;
// retry rows are replaced on each failure and removed once handled.
type Store interface {
	// Exists reports whether a row keyed by name is present in table.
	Exists(ctx context.Context, table model.Table, name string) (bool, error)

	// InsertSeen and InsertSent write the record unless a row with the same
	// key exists. The boolean is true only when a new row was written.
	InsertSeen(ctx context.Context, rec model.SeenRecord) (bool, error)
	InsertSent(ctx context.Context, rec model.SentRecord) (bool, error)

	GetSeen(ctx context.Context, name string) (*model.SeenRecord, error)
	GetSent(ctx context.Context, name string) (*model.SentRecord, error)
	Count(ctx context.Context, table model.Table) (int, error)

	// Retry queue
	UpsertRetry(ctx context.Context, e resilience.RetryEntry) error
	GetRetry(ctx context.Context, name string) (*resilience.RetryEntry, error)
	// DueRetries returns retryable entries due at or before now, oldest
	// first.
	DueRetries(ctx context.Context, now time.Time, limit int) ([]resilience.RetryEntry, error)
	RemoveRetry(ctx context.Context, name string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Insert routes rec to the matching insert-if-absent method.
func Insert(ctx context.Context, s Store, rec model.Record) (bool, error) {
	switch r := rec.(type) {
	case model.SeenRecord:
		return s.InsertSeen(ctx, r)
	case *model.SeenRecord:
		return s.InsertSeen(ctx, *r)
	case model.SentRecord:
		return s.InsertSent(ctx, r)
	case *model.SentRecord:
		return s.InsertSent(ctx, *r)
	default:
		return false, eris.Errorf("store: unsupported record type %T", rec)
	}
}

func checkTable(table model.Table) error {
	switch table {
	case model.TableSeen, model.TableSent, model.TableRetry:
		return nil
	default:
		return eris.Errorf("store: unknown table %q", table)
	}
}

// RetryPolicy bounds how often a failed company is offered again.
type RetryPolicy struct {
	// MaxRetries is how many retries an entry gets after its first failure.
	MaxRetries int
	// Backoff is the delay before the first retry. It doubles per retry
	// up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// Limit caps how many due entries one run takes.
	Limit int
}

// DefaultRetryPolicy returns the retry policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Backoff:    time.Hour,
		MaxBackoff: 7 * 24 * time.Hour,
		Limit:      100,
	}
}

func (p RetryPolicy) delay(retryCount int) time.Duration {
	d := p.Backoff
	for i := 0; i < retryCount && d < p.MaxBackoff; i++ {
		d *= 2
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// Ledger wraps a Store with the pipeline's failure policy: storage errors
// are logged and never propagate. A failed existence check reads as
// absent and a failed insert reads as not inserted.
type Ledger struct {
	store  Store
	log    *zap.Logger
	policy RetryPolicy
	now    func() time.Time
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithRetryPolicy sets the retry queue policy.
func WithRetryPolicy(p RetryPolicy) LedgerOption {
	return func(l *Ledger) {
		l.policy = p
	}
}

// NewLedger creates a Ledger over s.
func NewLedger(s Store, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:  s,
		log:    zap.L().Named("store"),
		policy: DefaultRetryPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Exists reports whether name is recorded in table.
func (l *Ledger) Exists(ctx context.Context, table model.Table, name string) bool {
	ok, err := l.store.Exists(ctx, table, name)
	if err != nil {
		l.log.Warn("existence check failed, treating as absent",
			zap.String("table", string(table)),
			zap.String("company", name),
			zap.Error(err),
		)
		return false
	}
	return ok
}

// InsertIfAbsent writes rec and reports whether a new row was created.
func (l *Ledger) InsertIfAbsent(ctx context.Context, rec model.Record) bool {
	inserted, err := Insert(ctx, l.store, rec)
	if err != nil {
		l.log.Error("insert failed",
			zap.String("table", string(rec.Table())),
			zap.String("company", rec.Key()),
			zap.Error(err),
		)
		return false
	}
	if !inserted {
		l.log.Debug("record already present",
			zap.String("table", string(rec.Table())),
			zap.String("company", rec.Key()),
		)
	}
	return inserted
}

// Due returns the retry entries ready to be processed again. A failed read
// yields no entries.
func (l *Ledger) Due(ctx context.Context) []resilience.RetryEntry {
	entries, err := l.store.DueRetries(ctx, l.now(), l.policy.Limit)
	if err != nil {
		l.log.Error("due retries read failed", zap.Error(err))
		return nil
	}
	return entries
}

// Fail records that processing p failed in phase. A company already queued
// has its retry count incremented; once the count reaches the policy's
// maximum the entry is kept but no longer offered.
func (l *Ledger) Fail(ctx context.Context, p model.CompanyProfile, phase string, cause error) {
	now := l.now()
	entry := resilience.RetryEntry{
		Profile:      p,
		Error:        cause.Error(),
		ErrorType:    resilience.ClassifyError(cause),
		FailedPhase:  phase,
		MaxRetries:   l.policy.MaxRetries,
		CreatedAt:    now,
		LastFailedAt: now,
	}

	prev, err := l.store.GetRetry(ctx, p.Name)
	if err != nil {
		l.log.Warn("retry entry read failed, starting a new one",
			zap.String("company", p.Name), zap.Error(err))
	}
	if prev != nil {
		entry.RetryCount = prev.RetryCount + 1
		entry.CreatedAt = prev.CreatedAt
	}
	entry.NextRetryAt = now.Add(l.policy.delay(entry.RetryCount))

	if err := l.store.UpsertRetry(ctx, entry); err != nil {
		l.log.Error("retry entry not written",
			zap.String("company", p.Name), zap.String("phase", phase), zap.Error(err))
		return
	}
	if !entry.CanRetry() {
		l.log.Warn("retry attempts exhausted",
			zap.String("company", p.Name),
			zap.String("phase", phase),
			zap.Int("retry_count", entry.RetryCount),
		)
		return
	}
	l.log.Info("queued for retry",
		zap.String("company", p.Name),
		zap.String("phase", phase),
		zap.String("error_type", entry.ErrorType),
		zap.Int("retry_count", entry.RetryCount),
		zap.Time("next_retry_at", entry.NextRetryAt),
	)
}

// Done removes name from the retry queue.
func (l *Ledger) Done(ctx context.Context, name string) {
	if err := l.store.RemoveRetry(ctx, name); err != nil {
		l.log.Error("retry entry not removed", zap.String("company", name), zap.Error(err))
	}
}
