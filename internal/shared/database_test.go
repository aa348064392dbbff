package shared

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestDialect(t *testing.T) {
	t.Run("ParseDialect", func(t *testing.T) {
		tc := map[string]Dialect{
			"":         DialectSQLite,
			"sqlite3":  DialectSQLite,
			"SQLite":   DialectSQLite,
			"pgx":      DialectPostgres,
			"postgres": DialectPostgres,
		}
		for in, want := range tc {
			got, err := ParseDialect(in)
			if err != nil {
				t.Fatalf("ParseDialect(%q) returned error: %v", in, err)
			}
			if got != want {
				t.Errorf("ParseDialect(%q) = %s, want %s", in, got, want)
			}
		}

		if _, err := ParseDialect("mysql"); err == nil {
			t.Error("expected error for unsupported driver")
		}
	})

	t.Run("Rebind", func(t *testing.T) {
		query := "SELECT * FROM accounts WHERE user_id = ? AND service_id = ?"

		if got := DialectSQLite.Rebind(query); got != query {
			t.Errorf("sqlite rebind should be a no-op, got %s", got)
		}

		want := "SELECT * FROM accounts WHERE user_id = $1 AND service_id = $2"
		if got := DialectPostgres.Rebind(query); got != want {
			t.Errorf("postgres rebind = %s, want %s", got, want)
		}
	})

	t.Run("SQLiteDSN", func(t *testing.T) {
		dsn := SQLiteDSN("relay.db")
		for _, param := range []string{"_foreign_keys=1", "_busy_timeout=5000", "_txlock=immediate"} {
			if !strings.Contains(dsn, param) {
				t.Errorf("expected %s in dsn %s", param, dsn)
			}
		}

		if got := SQLiteDSN("relay.db?cache=shared"); !strings.HasPrefix(got, "relay.db?cache=shared&") {
			t.Errorf("expected existing params to be kept, got %s", got)
		}
	})
}

func TestOpenDatabase(t *testing.T) {
	t.Run("sqlite file enforces foreign keys", func(t *testing.T) {
		db, dialect, err := OpenDatabase(DatabaseConfig{Driver: "sqlite3", Path: filepath.Join(t.TempDir(), "fk.db"), MaxOpenConns: 4})
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		if dialect != DialectSQLite {
			t.Errorf("expected sqlite dialect, got %s", dialect)
		}

		var enabled int
		if err := db.QueryRow("PRAGMA foreign_keys").Scan(&enabled); err != nil {
			t.Fatalf("failed to read pragma: %v", err)
		}
		if enabled != 1 {
			t.Error("expected foreign keys to be enabled")
		}
	})

	t.Run("memory database is pinned to one connection", func(t *testing.T) {
		db, err := NewDatabase(":memory:")
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		if got := db.Stats().MaxOpenConnections; got != 1 {
			t.Errorf("expected 1 max open connection, got %d", got)
		}
	})

	t.Run("unknown driver", func(t *testing.T) {
		if _, _, err := OpenDatabase(DatabaseConfig{Driver: "oracle"}); err == nil {
			t.Error("expected error for unknown driver")
		}
	})
}
