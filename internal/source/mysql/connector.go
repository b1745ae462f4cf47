// Package mysql imports datasets from MySQL and MariaDB.
package mysql

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/datatap/datatap/internal/source"
)

// Connector implements source.Connector for MySQL.
type Connector struct {
	db *sqlx.DB
}

// New creates an unconnected Connector.
func New() source.Connector {
	return &Connector{}
}

// Connect opens the connection pool described by cfg.
func (c *Connector) Connect(cfg source.ConnectionConfig) error {
	db, err := source.Open("mysql", cfg.DSN, cfg)
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
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
		return fmt.Errorf("mysql: not connected")
	}
	return c.db.PingContext(ctx)
}

// DB returns the underlying pool.
func (c *Connector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns "mysql".
func (c *Connector) DriverName() string { return "mysql" }

// QuoteIdentifier wraps a SQL identifier in backticks, escaping any
// embedded backticks.
func (c *Connector) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
