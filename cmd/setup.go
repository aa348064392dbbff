package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/desertthunder/feedbridge/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupDatabase creates the config file from the template when missing, then initializes the
// database, runs migrations and reconciles the declared services.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) && r.config == nil {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		r.writePlain("✓ Config file created at %s\n", configPath)
	}

	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	r.logger.Info("initializing database", "driver", config.Database.Driver, "path", config.Database.Path)

	store, closeDB, err := r.openStore(config)
	if err != nil {
		return err
	}
	defer closeDB()

	report, err := r.reconcile(ctx, store, config)
	if err != nil {
		return err
	}

	r.logger.Infof("setup complete for database: %v", config.Database.Path)
	r.writePlain("✓ Database ready (%d services created, %d removed)\n", len(report.Created), len(report.Removed))
	return nil
}

// SetupRollback reverts the latest applied migration without running pending ones.
func (r *Runner) SetupRollback(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	db, dialect, err := shared.OpenDatabase(config.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := shared.RollbackMigration(db, dialect)
	if err != nil {
		return err
	}
	remaining, _, err := shared.SchemaVersion(db)
	if err != nil {
		return err
	}

	r.logger.Warn("rolled back migration", "version", version)
	return r.writePlain("✓ Rolled back migration %d (schema now at version %d)\n", version, remaining)
}
