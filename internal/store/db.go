package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/evercore/orchestrator/libs/go/core/resilience"
)

// openAttempts/openRetryDelay bound how long Open spends retrying a
// not-yet-ready Postgres (container still starting, failover in progress)
// before giving up and returning the ping error to the caller.
const (
	openAttempts   = 5
	openRetryDelay = 250 * time.Millisecond
)

// Open connects to Postgres through the pgx stdlib driver, wrapped in sqlx
// for struct-scanning query results (the same Rebind/GetContext/
// SelectContext idiom the pack's MySQL query builder uses). The initial
// ping is retried with full-jitter backoff so a brief connection hiccup at
// process startup doesn't fail the whole process.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db, err := resilience.Retry(ctx, openAttempts, openRetryDelay, func() (*sqlx.DB, error) {
		if err := sqlDB.PingContext(ctx); err != nil {
			return nil, err
		}
		return sqlx.NewDb(sqlDB, "pgx"), nil
	})
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}
