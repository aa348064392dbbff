package shared

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect names the SQL flavour behind a [sql.DB]. Values double as driver names.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "pgx"
)

// ParseDialect maps a configured driver name to a [Dialect].
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "pgx", "postgres", "postgresql":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("%w: unsupported database driver %q", ErrInvalidConfig, driver)
	}
}

// Rebind rewrites '?' placeholders to the dialect's native form.
//
// Queries must not contain literal question marks.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLiteDSN builds a go-sqlite3 DSN with foreign keys enforced, a busy timeout,
// and immediate write transactions so that concurrent writers queue instead of deadlocking.
func SQLiteDSN(path string) string {
	params := "_foreign_keys=1&_busy_timeout=5000&_txlock=immediate"
	if path == ":memory:" {
		return "file::memory:?" + params
	}
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

// NewDatabase opens a connection to a SQLite database at the specified path.
// The path can be ":memory:" for an in-memory database, which is pinned to a single connection.
func NewDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open(string(DialectSQLite), SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// OpenDatabase opens the database described by cfg and applies its pool settings.
func OpenDatabase(cfg DatabaseConfig) (*sql.DB, Dialect, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, "", err
	}

	var db *sql.DB
	switch dialect {
	case DialectPostgres:
		if db, err = sql.Open(string(DialectPostgres), cfg.Path); err != nil {
			return nil, "", fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, "", fmt.Errorf("failed to ping database: %w", err)
		}
	default:
		if db, err = NewDatabase(cfg.Path); err != nil {
			return nil, "", err
		}
	}

	if cfg.Path != ":memory:" {
		ConfigureDatabase(db, cfg.MaxOpenConns, cfg.MaxIdleConns)
	}
	return db, dialect, nil
}

// ConfigureDatabase sets connection pool settings for the database.
// Zero values leave the driver defaults in place.
func ConfigureDatabase(db *sql.DB, maxOpenConns, maxIdleConns int) {
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		db.SetMaxIdleConns(maxIdleConns)
	}
}
