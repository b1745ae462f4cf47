// Package source connects to the external SQL databases that datasets are
// imported from and turns the result of a read-only statement into records.
package source

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/datatap/datatap/internal/model"
)

// ConnectionConfig holds database connection parameters.
type ConnectionConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PrivateKeyPath  string // PEM-encoded private key (Snowflake key pair auth)
}

// ConfigFromSource builds the connection parameters for a stored source.
func ConfigFromSource(src *model.Source) ConnectionConfig {
	return ConnectionConfig{
		Driver:          src.Driver,
		DSN:             SanitizeDSN(src.Driver, src.DSN),
		MaxOpenConns:    src.Pool.MaxOpenConns,
		MaxIdleConns:    src.Pool.MaxIdleConns,
		ConnMaxLifetime: src.Pool.ConnMaxLifetime,
		PrivateKeyPath:  src.PrivateKeyPath,
	}
}

// Connector is implemented by every source driver.
type Connector interface {
	Connect(cfg ConnectionConfig) error
	Disconnect() error
	Ping(ctx context.Context) error
	DB() *sqlx.DB

	// DriverName returns the registry name of the driver.
	DriverName() string
	// QuoteIdentifier quotes one identifier in the database's dialect.
	QuoteIdentifier(name string) string
}

// Open connects db with sqlx and applies the pool settings in cfg.
func Open(driverName, dsn string, cfg ConnectionConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// QuoteDoubleQuoted wraps name in double quotes, doubling embedded quotes.
// It is the ANSI quoting shared by most drivers.
func QuoteDoubleQuoted(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// SanitizeDSN ensures that URL-style DSNs (postgres://, sqlserver://) have
// their userinfo (especially the password) properly percent-encoded. Raw
// passwords containing @, #, % or other URL-special characters otherwise
// make the URL parser mis-split the authority.
//
// MySQL DSNs are normalized to use the tcp() wrapper required by go-sql-driver.
// Other drivers use their own formats and are returned unchanged.
func SanitizeDSN(driver, dsn string) string {
	switch driver {
	case "postgres", "mssql", "oracle":
		return sanitizeURLDSN(dsn)
	case "mysql":
		return sanitizeMySQLDSN(dsn)
	default:
		return dsn
	}
}

// RedactDSN hides the password in a DSN for display.
func RedactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
		return u.String()
	}
	if at := strings.LastIndex(dsn, "@"); at > 0 {
		if colon := strings.IndexByte(dsn[:at], ':'); colon >= 0 {
			return dsn[:colon+1] + "xxxxx" + dsn[at:]
		}
	}
	return dsn
}

// mysqlBareHostPort matches "user:pass@host:port/db" (no tcp() wrapper).
var mysqlBareHostPort = regexp.MustCompile(`^(.+)@([^(@]+:\d+)(/.*)?$`)

// sanitizeMySQLDSN rewrites the common forms
//
//	user:pass@host:port/db     (missing tcp() wrapper)
//	user:pass@(host:port)/db   (missing "tcp" before parens)
//
// into user:pass@tcp(host:port)/db. Anything it cannot fix is returned as-is
// so the connect call reports the error.
func sanitizeMySQLDSN(dsn string) string {
	if cfg, err := mysqldriver.ParseDSN(dsn); err == nil && (cfg.Net == "tcp" || cfg.Net == "unix") {
		return cfg.FormatDSN()
	}

	if idx := strings.LastIndex(dsn, "@("); idx >= 0 {
		fixed := dsn[:idx] + "@tcp" + dsn[idx+1:]
		if cfg, err := mysqldriver.ParseDSN(fixed); err == nil {
			return cfg.FormatDSN()
		}
	}

	if m := mysqlBareHostPort.FindStringSubmatch(dsn); m != nil {
		fixed := m[1] + "@tcp(" + m[2] + ")" + m[3]
		if cfg, err := mysqldriver.ParseDSN(fixed); err == nil {
			return cfg.FormatDSN()
		}
	}

	return dsn
}

// sanitizeURLDSN re-encodes the userinfo of a scheme:// DSN. The last '@'
// separates userinfo from host, the first ':' splits user from password.
func sanitizeURLDSN(dsn string) string {
	schemeEnd := strings.Index(dsn, "://")
	if schemeEnd < 0 {
		return dsn
	}
	scheme := dsn[:schemeEnd]
	rest := dsn[schemeEnd+3:]

	query := ""
	if qi := strings.IndexByte(rest, '?'); qi >= 0 {
		query = rest[qi:]
		rest = rest[:qi]
	}

	atIdx := strings.LastIndex(rest, "@")
	if atIdx < 0 {
		return dsn
	}
	userinfo := rest[:atIdx]
	hostpath := rest[atIdx+1:]

	user, pass := userinfo, ""
	if ci := strings.IndexByte(userinfo, ':'); ci >= 0 {
		user = userinfo[:ci]
		pass = userinfo[ci+1:]
	}

	// Decode first so an already encoded password is not double-encoded.
	if u, err := url.PathUnescape(user); err == nil {
		user = u
	}
	if p, err := url.PathUnescape(pass); err == nil {
		pass = p
	}
	return scheme + "://" + url.PathEscape(user) + ":" + url.PathEscape(pass) + "@" + hostpath + query
}
