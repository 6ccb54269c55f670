// Package postgres implements a pulling.AuditSink backed by Postgres via
// pgx. It records one row per completed response purely for observability;
// it is never consulted for admission or re-submission, so losing it never
// changes de-duplication or scheduling behavior.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snapscore/pipeline/internal/pulling"
)

// execPinger is the subset of *pgxpool.Pool a Store needs. Isolating it lets
// tests substitute a pgxmock pool instead of a live database.
type execPinger interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS response_audit (
	id            BIGSERIAL PRIMARY KEY,
	fingerprint   TEXT NOT NULL,
	priority      TEXT NOT NULL,
	status_code   INT NOT NULL,
	body_bytes    INT NOT NULL,
	elapsed_ms    BIGINT NOT NULL,
	received_at   TIMESTAMPTZ NOT NULL
)`

const insertSQL = `
INSERT INTO response_audit (fingerprint, priority, status_code, body_bytes, elapsed_ms, received_at)
VALUES ($1, $2, $3, $4, $5, $6)`

// Store is a pulling.AuditSink writing to Postgres.
type Store struct {
	pool execPinger
}

// NewStore connects to Postgres at dsn and ensures the audit table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return newStore(ctx, pool)
}

// NewStoreWithPool builds a Store around an existing pool, primarily so
// tests can substitute a pgxmock pool for a live database.
func NewStoreWithPool(ctx context.Context, pool execPinger) (*Store, error) {
	return newStore(ctx, pool)
}

func newStore(ctx context.Context, pool execPinger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create response_audit table: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() { s.pool.Close() }

// RecordResponse implements pulling.AuditSink.
func (s *Store) RecordResponse(ctx context.Context, resp pulling.FeedResponse) error {
	_, err := s.pool.Exec(ctx, insertSQL,
		resp.Fingerprint,
		resp.Priority.String(),
		resp.StatusCode,
		len(resp.Body),
		resp.Elapsed.Milliseconds(),
		resp.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert response_audit row: %w", err)
	}
	return nil
}
