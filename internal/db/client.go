package db

import (
	"context"
	"database/sql"
	"fmt"

	"dataproc/internal/config"
	"dataproc/internal/logging"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const driverName = "pgx"

// Client is the long-lived connection pool. It backs the pooled connector
// and the health check.
type Client struct {
	db     *sql.DB
	logger logging.Logger
}

// NewClient opens a database/sql pool using the pgx driver.
func NewClient(ctx context.Context, cfg config.PostgresConfig, logger logging.Logger) (*Client, error) {
	return newClient(ctx, driverName, cfg.EffectiveDSN(), cfg.MaxOpenConns, logger)
}

func newClient(ctx context.Context, driver, dsn string, maxOpen int, logger logging.Logger) (*Client, error) {
	dbStd, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if maxOpen > 0 {
		dbStd.SetMaxOpenConns(maxOpen)
	}

	// Verify connectivity
	if err := dbStd.PingContext(ctx); err != nil {
		_ = dbStd.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	return &Client{
		db:     dbStd,
		logger: logger.With("component", "db_client"),
	}, nil
}

// Close closes the underlying DB pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// Ping is used by health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
