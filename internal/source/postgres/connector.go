// Package postgres imports datasets from PostgreSQL through the pgx stdlib driver.
package postgres

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/datatap/datatap/internal/source"
)

// Connector implements source.Connector for PostgreSQL.
type Connector struct {
	db *sqlx.DB
}

// New creates an unconnected Connector.
func New() source.Connector {
	return &Connector{}
}

// Connect opens the connection pool described by cfg.
func (c *Connector) Connect(cfg source.ConnectionConfig) error {
	db, err := source.Open("pgx", cfg.DSN, cfg)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	c.db = db
	return nil
}

// Disconnect closes the connection pool.
func (c *Connector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *Connector) Ping(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("postgres: not connected")
	}
	return c.db.PingContext(ctx)
}

// DB returns the underlying pool.
func (c *Connector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns "postgres".
func (c *Connector) DriverName() string { return "postgres" }

// QuoteIdentifier wraps a SQL identifier in double quotes.
func (c *Connector) QuoteIdentifier(name string) string {
	return source.QuoteDoubleQuoted(name)
}
