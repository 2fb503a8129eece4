package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/wildpath-tours/call-scheduler-api/internal/adapters/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS planning_calls (
    id                UUID PRIMARY KEY,
    requester_id      UUID        NOT NULL,
    agent_id          UUID        NOT NULL,
    start_time        TIMESTAMPTZ NOT NULL,
    end_time          TIMESTAMPTZ,
    status            TEXT        NOT NULL,
    meeting_link      TEXT,
    calendar_event_id TEXT,
    created_at        TIMESTAMPTZ NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL,
    CONSTRAINT planning_calls_time_range CHECK (end_time IS NULL OR end_time > start_time)
);

CREATE TABLE IF NOT EXISTS idempotency_keys (
    idempotency_key TEXT        NOT NULL,
    subject         TEXT        NOT NULL,
    method          TEXT        NOT NULL,
    route           TEXT        NOT NULL,
    body_hash       TEXT        NOT NULL,
    status_code     INT         NOT NULL,
    content_type    TEXT        NOT NULL,
    body            BYTEA       NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (idempotency_key, subject, method, route, body_hash)
);
`

// OpenMigratedPool connects to the database named by TEST_DATABASE_URL,
// applies the schema and truncates all tables. Tests are skipped when the
// variable is unset, so the suite stays runnable without infrastructure.
func OpenMigratedPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping postgres contract tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	pool, err := postgres.NewPool(ctx, dsn, postgres.PoolOptions{MaxConns: 4})
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	Truncate(t, pool)
	return pool
}

// Truncate wipes all tables between (sub)tests sharing one pool.
func Truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := pool.Exec(ctx, `TRUNCATE planning_calls, idempotency_keys`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
}
