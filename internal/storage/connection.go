// Package storage implements the Connector: the abstract backend boundary
// bracketing a run's transaction, bulk-staging study batches, merging them
// into target tables, and recording dead-letter/load-history bookkeeping.
// The reference implementation targets PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const (
	postgresDriver = "postgres"
	ctxTimeout     = 5 * time.Second
)

// Connection wraps *sql.DB with a pool opened once per run, exclusive to
// that run.
type Connection struct {
	*sql.DB
}

// NewConnection opens a pooled connection to dsn, applies pool.* tuning,
// and health-checks it immediately so a misconfigured DSN fails fast at
// startup rather than on the first query of a run.
func NewConnection(dsn string, pool PoolConfig) (*Connection, error) {
	db, err := sql.Open(postgresDriver, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database health check failed: %w", err)
	}

	return &Connection{db}, nil
}

// PoolConfig mirrors internal/config.Database's pool tuning knobs without
// storage importing config (keeps the dependency direction one-way).
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// HealthCheck checks if the database connection is healthy with a timeout.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), ctxTimeout)
		defer cancel()
	}

	return c.PingContext(ctx)
}

// Close closes the database connection pool gracefully. Safe to call
// multiple times.
func (c *Connection) Close() error {
	return c.DB.Close()
}

// Stats returns database connection pool statistics for monitoring.
func (c *Connection) Stats() sql.DBStats {
	return c.DB.Stats()
}
