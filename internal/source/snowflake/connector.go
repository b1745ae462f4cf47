// Package snowflake imports datasets from Snowflake, with either password or
// key pair (JWT) authentication.
package snowflake

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	gosnowflake "github.com/snowflakedb/gosnowflake"

	"github.com/datatap/datatap/internal/source"
)

// Connector implements source.Connector for Snowflake.
type Connector struct {
	db *sqlx.DB
}

// New creates an unconnected Connector.
func New() source.Connector {
	return &Connector{}
}

// Connect opens the connection pool. When PrivateKeyPath is set the DSN is
// rewritten for JWT authentication; the key must be a PEM-encoded RSA key
// (PKCS#1 or PKCS#8).
func (c *Connector) Connect(cfg source.ConnectionConfig) error {
	dsn := cfg.DSN
	if cfg.PrivateKeyPath != "" {
		var err error
		dsn, err = buildJWTDSN(cfg.DSN, cfg.PrivateKeyPath)
		if err != nil {
			return fmt.Errorf("snowflake jwt auth: %w", err)
		}
	}

	db, err := source.Open("snowflake", dsn, cfg)
	if err != nil {
		return fmt.Errorf("snowflake connect: %w", err)
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
		return fmt.Errorf("snowflake: not connected")
	}
	return c.db.PingContext(ctx)
}

// DB returns the underlying pool.
func (c *Connector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns "snowflake".
func (c *Connector) DriverName() string { return "snowflake" }

// QuoteIdentifier wraps a SQL identifier in double quotes. Snowflake
// identifiers are case-sensitive when quoted.
func (c *Connector) QuoteIdentifier(name string) string {
	return source.QuoteDoubleQuoted(name)
}

// buildJWTDSN parses dsn, loads the private key from keyPath and
// re-serializes the DSN with the JWT authenticator.
func buildJWTDSN(dsn, keyPath string) (string, error) {
	// ParseDSN insists on a password even for JWT auth, so a DSN of the
	// form user@account/db gets a placeholder that is discarded below.
	sfConfig, err := gosnowflake.ParseDSN(dsn)
	if err != nil && strings.Contains(err.Error(), "password is empty") {
		if idx := strings.Index(dsn, "@"); idx > 0 && !strings.Contains(dsn[:idx], ":") {
			dsn = dsn[:idx] + ":_" + dsn[idx:]
		}
		sfConfig, err = gosnowflake.ParseDSN(dsn)
	}
	if err != nil {
		return "", fmt.Errorf("parse DSN: %w", err)
	}
	sfConfig.Password = ""

	privKey, err := loadPrivateKey(keyPath)
	if err != nil {
		return "", err
	}
	sfConfig.Authenticator = gosnowflake.AuthTypeJwt
	sfConfig.PrivateKey = privKey

	newDSN, err := gosnowflake.DSN(sfConfig)
	if err != nil {
		return "", fmt.Errorf("rebuild DSN: %w", err)
	}
	return newDSN, nil
}

// loadPrivateKey reads a PEM-encoded RSA private key in PKCS#1
// (RSA PRIVATE KEY) or PKCS#8 (PRIVATE KEY) form.
func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key file %q: %w", path, err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %q", path)
	}

	var key interface{}
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q (expected RSA PRIVATE KEY or PRIVATE KEY)", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA (got %T)", key)
	}
	return rsaKey, nil
}
