package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore. pgxmock
// satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// One worker drives the pipeline, so a small pool is enough.
	maxConns := int32(4)
	if poolCfg != nil && poolCfg.MaxConns > 0 {
		maxConns = poolCfg.MaxConns
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = 1
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies_seen (
	company_name TEXT PRIMARY KEY,
	website      TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	job_type     TEXT NOT NULL DEFAULT '',
	size         TEXT NOT NULL DEFAULT '',
	location     TEXT NOT NULL DEFAULT '',
	date_seen    DATE NOT NULL DEFAULT CURRENT_DATE
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
	date_sent      DATE NOT NULL DEFAULT CURRENT_DATE
);

CREATE INDEX IF NOT EXISTS idx_companies_sent_date ON companies_sent(date_sent);

CREATE TABLE IF NOT EXISTS companies_retry (
	company_name   TEXT PRIMARY KEY,
	profile        JSONB NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	error_type     TEXT NOT NULL DEFAULT 'transient',
	failed_phase   TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_companies_retry_next ON companies_retry(next_retry_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, table model.Table, name string) (bool, error) {
	if err := checkTable(table); err != nil {
		return false, err
	}
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+string(table)+` WHERE company_name = $1)`, name,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: exists %s %s", table, name)
	}
	return exists, nil
}

func (s *PostgresStore) InsertSeen(ctx context.Context, rec model.SeenRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO companies_seen (company_name, website, description, job_type, size, location, date_seen)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (company_name) DO NOTHING`,
		rec.Name, rec.Website, rec.Description, rec.JobType, rec.Size, rec.Location, rec.DateSeen,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert seen %s", rec.Name)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) InsertSent(ctx context.Context, rec model.SentRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO companies_sent (company_name, contactee_name, status, website, description,
		   job_type, size, location, contact_name, email, date_sent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (company_name) DO NOTHING`,
		rec.Name, rec.ContacteeName, string(rec.Status), rec.Website, rec.Description,
		rec.JobType, rec.Size, rec.Location, rec.ContactName, rec.Email, rec.DateSent,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert sent %s", rec.Name)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetSeen(ctx context.Context, name string) (*model.SeenRecord, error) {
	var rec model.SeenRecord
	err := s.pool.QueryRow(ctx,
		`SELECT company_name, website, description, job_type, size, location, date_seen
		 FROM companies_seen WHERE company_name = $1`, name,
	).Scan(&rec.Name, &rec.Website, &rec.Description, &rec.JobType, &rec.Size, &rec.Location, &rec.DateSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get seen %s", name)
	}
	return &rec, nil
}

func (s *PostgresStore) GetSent(ctx context.Context, name string) (*model.SentRecord, error) {
	var (
		rec    model.SentRecord
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT company_name, contactee_name, status, website, description, job_type, size,
		   location, contact_name, email, date_sent
		 FROM companies_sent WHERE company_name = $1`, name,
	).Scan(&rec.Name, &rec.ContacteeName, &status, &rec.Website, &rec.Description, &rec.JobType,
		&rec.Size, &rec.Location, &rec.ContactName, &rec.Email, &rec.DateSent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get sent %s", name)
	}
	rec.Status = model.SentStatus(status)
	return &rec, nil
}

func (s *PostgresStore) Count(ctx context.Context, table model.Table) (int, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+string(table)).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "postgres: count %s", table)
	}
	return n, nil
}

func (s *PostgresStore) UpsertRetry(ctx context.Context, e resilience.RetryEntry) error {
	profile, err := json.Marshal(e.Profile)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal retry profile")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO companies_retry
		 (company_name, profile, error, error_type, failed_phase, retry_count, max_retries,
		  next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (company_name) DO UPDATE SET
		   profile = $2, error = $3, error_type = $4, failed_phase = $5, retry_count = $6,
		   max_retries = $7, next_retry_at = $8, last_failed_at = $10`,
		e.Name(), profile, e.Error, e.ErrorType, e.FailedPhase, e.RetryCount, e.MaxRetries,
		e.NextRetryAt, e.CreatedAt, e.LastFailedAt,
	)
	return eris.Wrapf(err, "postgres: upsert retry %s", e.Name())
}

const postgresRetryColumns = `profile, error, error_type, failed_phase, retry_count, max_retries,
	next_retry_at, created_at, last_failed_at`

func scanPostgresRetry(row pgx.Row) (resilience.RetryEntry, error) {
	var (
		e       resilience.RetryEntry
		profile []byte
	)
	if err := row.Scan(&profile, &e.Error, &e.ErrorType, &e.FailedPhase, &e.RetryCount,
		&e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
		return e, err
	}
	if err := json.Unmarshal(profile, &e.Profile); err != nil {
		return e, eris.Wrap(err, "unmarshal retry profile")
	}
	return e, nil
}

func (s *PostgresStore) GetRetry(ctx context.Context, name string) (*resilience.RetryEntry, error) {
	e, err := scanPostgresRetry(s.pool.QueryRow(ctx,
		`SELECT `+postgresRetryColumns+` FROM companies_retry WHERE company_name = $1`, name,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get retry %s", name)
	}
	return &e, nil
}

func (s *PostgresStore) DueRetries(ctx context.Context, now time.Time, limit int) ([]resilience.RetryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+postgresRetryColumns+` FROM companies_retry
		 WHERE next_retry_at <= $1 AND retry_count < max_retries
		 ORDER BY next_retry_at ASC LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: due retries")
	}
	defer rows.Close()

	var entries []resilience.RetryEntry
	for rows.Next() {
		e, err := scanPostgresRetry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan retry entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: due retries iterate")
}

func (s *PostgresStore) RemoveRetry(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM companies_retry WHERE company_name = $1`, name)
	return eris.Wrapf(err, "postgres: remove retry %s", name)
}
