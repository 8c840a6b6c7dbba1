package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies_seen (
	company_name TEXT PRIMARY KEY,
	website      TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	job_type     TEXT NOT NULL DEFAULT '',
	size         TEXT NOT NULL DEFAULT '',
	location     TEXT NOT NULL DEFAULT '',
	date_seen    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS companies_sent (
	company_name   TEXT PRIMARY KEY,
	contactee_name TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'Pending',
	website        TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	job_type       TEXT NOT NULL DEFAULT '',
	size           TEXT NOT NULL DEFAULT '',
	location       TEXT NOT NULL DEFAULT '',
	contact_name   TEXT NOT NULL DEFAULT '',
	email          TEXT NOT NULL DEFAULT '',
	date_sent      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_companies_sent_date ON companies_sent(date_sent);

CREATE TABLE IF NOT EXISTS companies_retry (
	company_name   TEXT PRIMARY KEY,
	profile        TEXT NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	error_type     TEXT NOT NULL DEFAULT 'transient',
	failed_phase   TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	last_failed_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_companies_retry_next ON companies_retry(next_retry_at);
`

// sqliteTimeLayout stores instants as fixed-width UTC text so that string
// comparison orders them.
const sqliteTimeLayout = "2006-01-02T15:04:05Z"

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Exists(ctx context.Context, table model.Table, name string) (bool, error) {
	if err := checkTable(table); err != nil {
		return false, err
	}
	var one int
	// table is one of two constants checked above.
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM `+string(table)+` WHERE company_name = ? LIMIT 1`, name,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: exists %s %s", table, name)
	}
	return true, nil
}

func (s *SQLiteStore) InsertSeen(ctx context.Context, rec model.SeenRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO companies_seen (company_name, website, description, job_type, size, location, date_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (company_name) DO NOTHING`,
		rec.Name, rec.Website, rec.Description, rec.JobType, rec.Size, rec.Location,
		rec.DateSeen.Format(model.DateLayout),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert seen %s", rec.Name)
	}
	return inserted(res)
}

func (s *SQLiteStore) InsertSent(ctx context.Context, rec model.SentRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO companies_sent (company_name, contactee_name, status, website, description,
		   job_type, size, location, contact_name, email, date_sent)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (company_name) DO NOTHING`,
		rec.Name, rec.ContacteeName, string(rec.Status), rec.Website, rec.Description,
		rec.JobType, rec.Size, rec.Location, rec.ContactName, rec.Email,
		rec.DateSent.Format(model.DateLayout),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert sent %s", rec.Name)
	}
	return inserted(res)
}

func (s *SQLiteStore) GetSeen(ctx context.Context, name string) (*model.SeenRecord, error) {
	var (
		rec  model.SeenRecord
		date string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT company_name, website, description, job_type, size, location, date_seen
		 FROM companies_seen WHERE company_name = ?`, name,
	).Scan(&rec.Name, &rec.Website, &rec.Description, &rec.JobType, &rec.Size, &rec.Location, &date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get seen %s", name)
	}
	if rec.DateSeen, err = time.Parse(model.DateLayout, date); err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse date_seen %q", date)
	}
	return &rec, nil
}

func (s *SQLiteStore) GetSent(ctx context.Context, name string) (*model.SentRecord, error) {
	var (
		rec    model.SentRecord
		status string
		date   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT company_name, contactee_name, status, website, description, job_type, size,
		   location, contact_name, email, date_sent
		 FROM companies_sent WHERE company_name = ?`, name,
	).Scan(&rec.Name, &rec.ContacteeName, &status, &rec.Website, &rec.Description, &rec.JobType,
		&rec.Size, &rec.Location, &rec.ContactName, &rec.Email, &date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get sent %s", name)
	}
	rec.Status = model.SentStatus(status)
	if rec.DateSent, err = time.Parse(model.DateLayout, date); err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse date_sent %q", date)
	}
	return &rec, nil
}

func (s *SQLiteStore) Count(ctx context.Context, table model.Table) (int, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+string(table)).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "sqlite: count %s", table)
	}
	return n, nil
}

func (s *SQLiteStore) UpsertRetry(ctx context.Context, e resilience.RetryEntry) error {
	profile, err := json.Marshal(e.Profile)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal retry profile")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO companies_retry
		 (company_name, profile, error, error_type, failed_phase, retry_count, max_retries,
		  next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (company_name) DO UPDATE SET
		   profile = excluded.profile, error = excluded.error, error_type = excluded.error_type,
		   failed_phase = excluded.failed_phase, retry_count = excluded.retry_count,
		   max_retries = excluded.max_retries, next_retry_at = excluded.next_retry_at,
		   last_failed_at = excluded.last_failed_at`,
		e.Name(), string(profile), e.Error, e.ErrorType, e.FailedPhase, e.RetryCount, e.MaxRetries,
		sqliteTime(e.NextRetryAt), sqliteTime(e.CreatedAt), sqliteTime(e.LastFailedAt),
	)
	return eris.Wrapf(err, "sqlite: upsert retry %s", e.Name())
}

const sqliteRetryColumns = `profile, error, error_type, failed_phase, retry_count, max_retries,
	next_retry_at, created_at, last_failed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRetry(row rowScanner) (resilience.RetryEntry, error) {
	var (
		e                         resilience.RetryEntry
		profile                   string
		next, created, lastFailed string
	)
	if err := row.Scan(&profile, &e.Error, &e.ErrorType, &e.FailedPhase, &e.RetryCount,
		&e.MaxRetries, &next, &created, &lastFailed); err != nil {
		return e, err
	}
	if err := json.Unmarshal([]byte(profile), &e.Profile); err != nil {
		return e, eris.Wrap(err, "unmarshal retry profile")
	}
	for _, f := range []struct {
		dst *time.Time
		src string
	}{{&e.NextRetryAt, next}, {&e.CreatedAt, created}, {&e.LastFailedAt, lastFailed}} {
		t, err := time.Parse(sqliteTimeLayout, f.src)
		if err != nil {
			return e, eris.Wrapf(err, "parse retry time %q", f.src)
		}
		*f.dst = t
	}
	return e, nil
}

func (s *SQLiteStore) GetRetry(ctx context.Context, name string) (*resilience.RetryEntry, error) {
	e, err := scanSQLiteRetry(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRetryColumns+` FROM companies_retry WHERE company_name = ?`, name,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get retry %s", name)
	}
	return &e, nil
}

func (s *SQLiteStore) DueRetries(ctx context.Context, now time.Time, limit int) ([]resilience.RetryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRetryColumns+` FROM companies_retry
		 WHERE next_retry_at <= ? AND retry_count < max_retries
		 ORDER BY next_retry_at ASC LIMIT ?`,
		sqliteTime(now), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: due retries")
	}
	defer rows.Close()

	var entries []resilience.RetryEntry
	for rows.Next() {
		e, err := scanSQLiteRetry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan retry entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: due retries iterate")
}

func (s *SQLiteStore) RemoveRetry(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM companies_retry WHERE company_name = ?`, name)
	return eris.Wrapf(err, "sqlite: remove retry %s", name)
}

func inserted(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "rows affected")
	}
	return n > 0, nil
}
