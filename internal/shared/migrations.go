package shared

import (
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/sqlite/*.sql sql/postgres/*.sql
var migrationFiles embed.FS

// migrationDir returns the embedded directory holding the dialect's migrations.
func migrationDir(d Dialect) string {
	if d == DialectPostgres {
		return "sql/postgres"
	}
	return "sql/sqlite"
}

// Migration represents a database migration with up and down SQL.
type Migration struct {
	Version int
	Up      string
	Down    string
}

// loadMigrations reads the dialect's migration files from the embedded filesystem and returns them sorted by version.
func loadMigrations(d Dialect) ([]Migration, error) {
	dir := migrationDir(d)
	entries, err := migrationFiles.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory: %w", err)
	}

	migrationMap := make(map[int]*Migration)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}

		// "0001_create_tables_up.sql" -> version 1
		parts := strings.Split(name, "_")
		if len(parts) < 2 {
			continue
		}

		version, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}

		content, err := migrationFiles.ReadFile(path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", name, err)
		}

		if migrationMap[version] == nil {
			migrationMap[version] = &Migration{Version: version}
		}

		if strings.Contains(name, "_up.sql") {
			migrationMap[version].Up = string(content)
		} else if strings.Contains(name, "_down.sql") {
			migrationMap[version].Down = string(content)
		}
	}

	var migrations []Migration
	for _, migration := range migrationMap {
		if migration.Up == "" || migration.Down == "" {
			return nil, fmt.Errorf("incomplete migration for version %d", migration.Version)
		}
		migrations = append(migrations, *migration)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// RunMigrations executes all pending migrations on the database.
// Creates a schema_migrations table to track applied migrations.
func RunMigrations(db *sql.DB, d Dialect) error {
	migrations, err := loadMigrations(d)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	if err := createMigrationsTable(db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, migration := range migrations {
		var exists bool
		err := db.QueryRow(d.Rebind("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)"), migration.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}

		if !exists {
			if err := applyMigration(db, d, migration); err != nil {
				return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
			}
		}
	}

	return nil
}

// RollbackMigration rolls back the most recent applied migration and returns its version.
func RollbackMigration(db *sql.DB, d Dialect) (int, error) {
	migrations, err := loadMigrations(d)
	if err != nil {
		return 0, fmt.Errorf("failed to load migrations: %w", err)
	}

	current, applied, err := SchemaVersion(db)
	if err != nil {
		return 0, err
	}
	if applied == 0 {
		return 0, fmt.Errorf("%w: no migrations to roll back", ErrPersistence)
	}

	for _, migration := range migrations {
		if migration.Version != current {
			continue
		}
		if err := rollbackMigration(db, d, migration); err != nil {
			return 0, fmt.Errorf("failed to roll back migration %d: %w", migration.Version, err)
		}
		return current, nil
	}
	return 0, fmt.Errorf("%w: migration version %d not found", ErrPersistence, current)
}

// createMigrationsTable creates the schema_migrations table if it doesn't exist.
func createMigrationsTable(db *sql.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	_, err := db.Exec(query)
	return err
}

// SchemaVersion returns the highest applied migration version and the number of applied migrations.
func SchemaVersion(db *sql.DB) (version, applied int, err error) {
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations").Scan(&version, &applied)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, applied, nil
}

// applyMigration executes a migration's up SQL and records it in the same transaction.
func applyMigration(db *sql.DB, d Dialect, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := execStatements(tx, migration.Up); err != nil {
		return err
	}

	if _, err := tx.Exec(d.Rebind("INSERT INTO schema_migrations (version) VALUES (?)"), migration.Version); err != nil {
		return err
	}

	return tx.Commit()
}

// execStatements runs each ';'-separated statement of script inside tx.
func execStatements(tx *sql.Tx, script string) error {
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(removeComments(stmt))
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute statement: %w\nStatement: %s", err, stmt)
		}
	}
	return nil
}

// removeComments removes SQL comments from a statement.
func removeComments(sql string) string {
	lines := strings.Split(sql, "\n")
	var result []string
	for _, line := range lines {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line != "" {
			result = append(result, line)
		}
	}
	return strings.Join(result, "\n")
}

// rollbackMigration executes a migration's down SQL and removes the record.
func rollbackMigration(db *sql.DB, d Dialect, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := execStatements(tx, migration.Down); err != nil {
		return err
	}

	if _, err := tx.Exec(d.Rebind("DELETE FROM schema_migrations WHERE version = ?"), migration.Version); err != nil {
		return err
	}

	return tx.Commit()
}