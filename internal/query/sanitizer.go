// Package query validates the SQL that dataset imports send to external
// sources. Imports are read-only: a statement must be a single SELECT or
// WITH query, and table names must be plain identifiers.
package query

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierRegex validates SQL identifiers (table and schema names).
// Must start with a letter or underscore, followed by alphanumeric or underscore.
var identifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// sqlReservedWords contains SQL keywords that cannot be used as identifiers.
var sqlReservedWords = map[string]bool{
	"SELECT": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"DROP": true, "CREATE": true, "ALTER": true, "TRUNCATE": true,
	"EXEC": true, "EXECUTE": true, "UNION": true, "INTO": true,
	"FROM": true, "WHERE": true, "TABLE": true, "DATABASE": true,
	"GRANT": true, "REVOKE": true, "INDEX": true, "VIEW": true,
	"PROCEDURE": true, "FUNCTION": true, "TRIGGER": true, "SCHEMA": true,
}

// writeKeywords may not appear anywhere in an import statement outside
// string literals. This catches data-modifying CTEs and SELECT ... INTO.
var writeKeywords = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|MERGE|UPSERT|REPLACE|DROP|CREATE|ALTER|TRUNCATE|GRANT|REVOKE|EXEC|EXECUTE|CALL|COPY|INTO|LOCK|VACUUM|ATTACH|DETACH|PRAGMA)\b`)

var stringLiteral = regexp.MustCompile(`'(?:[^']|'')*'`)

// MaxStatementLength bounds the size of an import statement.
const MaxStatementLength = 16 * 1024

// ValidateIdentifier ensures a SQL identifier is safe.
// It rejects empty strings, strings over 128 characters, strings that don't
// match the identifier pattern, and SQL reserved words.
func ValidateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 128 {
		return fmt.Errorf("identifier too long (max 128 chars): %q", name)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: must match [a-zA-Z_][a-zA-Z0-9_]*", name)
	}
	if sqlReservedWords[strings.ToUpper(name)] {
		return fmt.Errorf("identifier %q is a SQL reserved word", name)
	}
	return nil
}

// SplitTableName validates a table reference of the form "table" or
// "schema.table" and returns its parts.
func SplitTableName(name string) ([]string, error) {
	parts := strings.Split(strings.TrimSpace(name), ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid table name %q: at most one schema qualifier is allowed", name)
	}
	for _, p := range parts {
		if err := ValidateIdentifier(p); err != nil {
			return nil, err
		}
	}
	return parts, nil
}

// ValidateReadQuery checks that stmt is a single read-only statement and
// returns it trimmed, without a trailing semicolon.
func ValidateReadQuery(stmt string) (string, error) {
	stmt = strings.TrimSpace(stmt)
	stmt = strings.TrimSpace(strings.TrimSuffix(stmt, ";"))
	if stmt == "" {
		return "", fmt.Errorf("query cannot be empty")
	}
	if len(stmt) > MaxStatementLength {
		return "", fmt.Errorf("query too long (max %d bytes)", MaxStatementLength)
	}
	if strings.ContainsRune(stmt, '\x00') {
		return "", fmt.Errorf("query contains a null byte")
	}

	bare := stringLiteral.ReplaceAllString(stmt, "''")
	if strings.Contains(bare, ";") {
		return "", fmt.Errorf("query must be a single statement")
	}
	if strings.Contains(bare, "--") || strings.Contains(bare, "/*") {
		return "", fmt.Errorf("query must not contain comments")
	}

	first := strings.ToUpper(strings.Fields(bare)[0])
	if first != "SELECT" && first != "WITH" && !strings.HasPrefix(first, "SELECT(") {
		return "", fmt.Errorf("query must start with SELECT or WITH")
	}
	if kw := writeKeywords.FindString(bare); kw != "" {
		return "", fmt.Errorf("query must be read-only: %s is not allowed", strings.ToUpper(kw))
	}
	return stmt, nil
}
