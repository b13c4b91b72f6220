package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the submissions table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS submissions (
    id               UUID PRIMARY KEY,
    audio            BYTEA NOT NULL,
    format           TEXT NOT NULL,
    duration_ms      BIGINT NOT NULL,
    sample_rate      INTEGER NOT NULL,
    channels         INTEGER NOT NULL,
    rms_level        DOUBLE PRECISION NOT NULL DEFAULT 0,
    peak_level       DOUBLE PRECISION NOT NULL DEFAULT 0,
    consent_training BOOLEAN NOT NULL,
    consent_storage  BOOLEAN NOT NULL,
    language         TEXT NOT NULL DEFAULT '',
    transcript       TEXT NOT NULL DEFAULT '',
    validated        BOOLEAN NOT NULL,
    unvalidated      BOOLEAN NOT NULL DEFAULT false,
    warnings         TEXT[] NOT NULL DEFAULT '{}',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT submissions_training_consent CHECK (consent_training)
);
CREATE INDEX IF NOT EXISTS idx_submissions_created_at ON submissions(created_at);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// pinger is implemented by *pgxpool.Pool and *pgx.Conn.
type pinger interface {
	Ping(ctx context.Context) error
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db    DB
	close func()
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] on an existing connection or
// pool. The caller is responsible for calling [PostgresStore.Migrate] and for
// closing db.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db, close: func() {}}
}

// Open connects a pool to dsn, verifies it with a ping, and runs
// [PostgresStore.Migrate]. Close releases the pool.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	s := &PostgresStore{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool opened by [Open]. It is a no-op for stores built
// with [NewPostgresStore].
func (s *PostgresStore) Close() { s.close() }

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Save inserts sub and sets sub.CreatedAt from the database clock.
func (s *PostgresStore) Save(ctx context.Context, sub *Submission) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	const query = `
		INSERT INTO submissions (
			id, audio, format, duration_ms, sample_rate, channels,
			rms_level, peak_level, consent_training, consent_storage,
			language, transcript, validated, unvalidated, warnings
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at`

	err := s.db.QueryRow(ctx, query,
		sub.ID.String(), sub.Audio, sub.Format, sub.DurationMs, sub.SampleRate, sub.Channels,
		sub.RMSLevel, sub.PeakLevel, sub.Consent.Training, sub.Consent.Storage,
		sub.Language, sub.Transcript, sub.Validated, sub.Unvalidated, emptySlice(sub.Warnings),
	).Scan(&sub.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("store: submission %s already exists", sub.ID)
		}
		return fmt.Errorf("store: save: %w", err)
	}
	return nil
}

// Get retrieves a submission by ID.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Submission, error) {
	const query = `
		SELECT id, audio, format, duration_ms, sample_rate, channels,
		       rms_level, peak_level, consent_training, consent_storage,
		       language, transcript, validated, unvalidated, warnings, created_at
		FROM submissions
		WHERE id = $1`

	var (
		sub   Submission
		rawID string
	)
	err := s.db.QueryRow(ctx, query, id.String()).Scan(
		&rawID, &sub.Audio, &sub.Format, &sub.DurationMs, &sub.SampleRate, &sub.Channels,
		&sub.RMSLevel, &sub.PeakLevel, &sub.Consent.Training, &sub.Consent.Storage,
		&sub.Language, &sub.Transcript, &sub.Validated, &sub.Unvalidated, &sub.Warnings, &sub.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	if sub.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("store: get %s: bad id %q: %w", id, rawID, err)
	}
	return &sub, nil
}

// Delete removes a submission by ID.
func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM submissions WHERE id = $1`
	if _, err := s.db.Exec(ctx, query, id.String()); err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	return nil
}

// Ping checks connectivity when the underlying DB supports it, otherwise it
// issues a trivial query.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if p, ok := s.db.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("store: ping: %w", err)
		}
		return nil
	}
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// emptySlice returns s if non-nil, otherwise an empty non-nil slice so the
// NOT NULL array column receives '{}'.
func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
