package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface check.
var _ Store = (*Postgres)(nil)

// ddlSessions records one row per session lifetime.
const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT         PRIMARY KEY,
    mode        TEXT         NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at    TIMESTAMPTZ,
    end_cause   TEXT         NOT NULL DEFAULT ''
);
`

// ddlTranscriptEntries is the append-only transcript log.
const ddlTranscriptEntries = `
CREATE TABLE IF NOT EXISTS transcript_entries (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    speaker     TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_session_id
    ON transcript_entries (session_id);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_session_timestamp
    ON transcript_entries (session_id, timestamp);
`

// Postgres is a [Store] backed by a PostgreSQL transcript archive. It holds a
// single [pgxpool.Pool]; all operations are safe for concurrent use.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres establishes a connection pool to the database at dsn and runs
// [Migrate] to ensure the archive tables exist.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Migrate creates or ensures the archive tables exist. It is idempotent and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlSessions, ddlTranscriptEntries} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("archive migrate: %w", err)
		}
	}
	return nil
}

// BeginSession implements [Store].
func (p *Postgres) BeginSession(ctx context.Context, sessionID, mode string) error {
	const q = `INSERT INTO sessions (id, mode) VALUES ($1, $2)
	           ON CONFLICT (id) DO NOTHING`
	if _, err := p.pool.Exec(ctx, q, sessionID, mode); err != nil {
		return fmt.Errorf("archive: begin session: %w", err)
	}
	return nil
}

// EndSession implements [Store].
func (p *Postgres) EndSession(ctx context.Context, sessionID, cause string) error {
	const q = `UPDATE sessions SET ended_at = now(), end_cause = $2 WHERE id = $1`
	if _, err := p.pool.Exec(ctx, q, sessionID, cause); err != nil {
		return fmt.Errorf("archive: end session: %w", err)
	}
	return nil
}

// AppendEntry implements [Store].
func (p *Postgres) AppendEntry(ctx context.Context, sessionID string, e Entry) error {
	const q = `INSERT INTO transcript_entries (session_id, speaker, text, timestamp)
	           VALUES ($1, $2, $3, $4)`
	if _, err := p.pool.Exec(ctx, q, sessionID, string(e.Speaker), e.Text, e.Timestamp); err != nil {
		return fmt.Errorf("archive: append entry: %w", err)
	}
	return nil
}

// Ping implements [Store].
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
