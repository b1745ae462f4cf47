// Package mssql imports datasets from Microsoft SQL Server.
package mssql

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/datatap/datatap/internal/source"
)

// Connector implements source.Connector for Microsoft SQL Server.
type Connector struct {
	db *sqlx.DB
}

// New creates an unconnected Connector.
func New() source.Connector {
	return &Connector{}
}

// Connect opens the connection pool described by cfg.
func (c *Connector) Connect(cfg source.ConnectionConfig) error {
	db, err := source.Open("sqlserver", cfg.DSN, cfg)
	if err != nil {
		return fmt.Errorf("mssql connect: %w", err)
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
		return fmt.Errorf("mssql: not connected")
	}
	return c.db.PingContext(ctx)
}

// DB returns the underlying pool.
func (c *Connector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns "mssql".
func (c *Connector) DriverName() string { return "mssql" }

// QuoteIdentifier wraps a SQL identifier in square brackets.
func (c *Connector) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}
