package shared

import (
	"errors"
	"testing"
)

func TestMigrationRunner(t *testing.T) {
	t.Run("loadMigrations", func(t *testing.T) {
		for _, d := range []Dialect{DialectSQLite, DialectPostgres} {
			migrations, err := loadMigrations(d)
			if err != nil {
				t.Fatalf("failed to load %s migrations: %v", d, err)
			}

			if len(migrations) == 0 {
				t.Fatalf("expected at least one %s migration", d)
			}

			for _, m := range migrations {
				if m.Up == "" || m.Down == "" {
					t.Errorf("%s migration version %d is incomplete", d, m.Version)
				}
			}
		}
	})

	t.Run("sqlite and postgres versions line up", func(t *testing.T) {
		lite, _ := loadMigrations(DialectSQLite)
		pg, _ := loadMigrations(DialectPostgres)
		if len(lite) != len(pg) {
			t.Fatalf("expected matching migration counts, got sqlite=%d postgres=%d", len(lite), len(pg))
		}
		for i := range lite {
			if lite[i].Version != pg[i].Version {
				t.Errorf("migration %d: sqlite version %d, postgres version %d", i, lite[i].Version, pg[i].Version)
			}
		}
	})

	t.Run("sorted", func(t *testing.T) {
		migrations, err := loadMigrations(DialectSQLite)
		if err != nil {
			t.Fatalf("failed to load migrations: %v", err)
		}

		if len(migrations) == 0 {
			t.Fatal("expected at least one migration")
		}

		for i := 1; i < len(migrations); i++ {
			if migrations[i].Version <= migrations[i-1].Version {
				t.Errorf("migrations not sorted: version %d comes after %d", migrations[i].Version, migrations[i-1].Version)
			}
		}

	})

	t.Run("RunMigrations And Rollback", func(t *testing.T) {
		db, err := NewDatabase(":memory:")
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		defer db.Close()

		if err := RunMigrations(db, DialectSQLite); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}

		var count int
		err = db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
		if err != nil {
			t.Fatalf("failed to query schema_migrations: %v", err)
		}
		if count == 0 {
			t.Error("expected at least one migration to be applied")
		}

		for _, table := range []string{"users", "account_types", "services", "accounts"} {
			if _, err := db.Exec("SELECT 1 FROM " + table + " LIMIT 1"); err != nil {
				t.Errorf("%s table should exist after migrations: %v", table, err)
			}
		}

		latest, _, err := SchemaVersion(db)
		if err != nil {
			t.Fatalf("failed to read schema version: %v", err)
		}

		version, err := RollbackMigration(db, DialectSQLite)
		if err != nil {
			t.Fatalf("failed to rollback migration: %v", err)
		}
		if version != latest {
			t.Errorf("expected version %d to be rolled back, got %d", latest, version)
		}

		var newCount int
		err = db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&newCount)
		if err != nil {
			t.Fatalf("failed to query schema_migrations after rollback: %v", err)
		}
		if newCount >= count {
			t.Errorf("expected migration count to decrease after rollback, got %d (was %d)", newCount, count)
		}

		for newCount > 0 {
			if _, err := RollbackMigration(db, DialectSQLite); err != nil {
				t.Fatalf("failed to rollback migration: %v", err)
			}
			newCount--
		}
		if _, err := RollbackMigration(db, DialectSQLite); !errors.Is(err, ErrPersistence) {
			t.Errorf("expected ErrPersistence with nothing to roll back, got %v", err)
		}
	})

	t.Run("Idempotent Migrations", func(t *testing.T) {
		db, err := NewDatabase(":memory:")
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		defer db.Close()

		if err := RunMigrations(db, DialectSQLite); err != nil {
			t.Fatalf("failed to run migrations first time: %v", err)
		}

		if err := RunMigrations(db, DialectSQLite); err != nil {
			t.Fatalf("failed to run migrations second time: %v", err)
		}

		var count int
		err = db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
		if err != nil {
			t.Fatalf("failed to query schema_migrations: %v", err)
		}

		migrations, _ := loadMigrations(DialectSQLite)
		if count != len(migrations) {
			t.Errorf("expected %d migrations to be applied, got %d", len(migrations), count)
		}
	})
}
