package main

import (
	"context"

	"github.com/desertthunder/feedbridge/internal/repositories"
	"github.com/desertthunder/feedbridge/internal/shared"
	"github.com/urfave/cli/v3"
)

type serviceRow struct {
	Tag      string `json:"tag"`
	Type     string `json:"type"`
	BaseURL  string `json:"base_url"`
	Stored   bool   `json:"stored"`
	Sequence int    `json:"sequence,omitempty"`
}

// ServicesList prints the declared services and whether each has a stored row.
func (r *Runner) ServicesList(ctx context.Context, cmd *cli.Command) error {
	return r.withStore(ctx, cmd, func(config *shared.Config, s *repositories.Session) error {
		stored, err := s.ListServices(ctx)
		if err != nil {
			return err
		}

		bySeq := make(map[string]int, len(stored))
		for _, svc := range stored {
			bySeq[svc.Name] = svc.Sequence
		}

		rows := make([]serviceRow, 0, len(config.Services))
		for _, svc := range config.Services {
			seq, ok := bySeq[svc.Tag]
			rows = append(rows, serviceRow{Tag: svc.Tag, Type: svc.Type, BaseURL: svc.BaseURL(), Stored: ok, Sequence: seq})
		}

		if cmd.Bool("json") {
			return r.writeJSON(rows, cmd.Bool("pretty"))
		}

		r.writePlainHeader("Services")
		for _, row := range rows {
			mark := "✓"
			if !row.Stored {
				mark = "✗"
			}
			r.writePlain("%s %-12s %-7s %s\n", mark, row.Tag, row.Type, row.BaseURL)
		}
		return nil
	})
}

// ServicesReconcile applies the configuration to the stored services and prints the report.
func (r *Runner) ServicesReconcile(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	store, closeDB, err := r.openStore(config)
	if err != nil {
		return err
	}
	defer closeDB()

	report, err := r.reconcile(ctx, store, config)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(report, cmd.Bool("pretty"))
	}
	if !report.Changed() {
		return r.writePlain("✓ Services already up to date\n")
	}

	r.writePlain("✓ Services reconciled\n")
	for _, line := range []struct {
		label string
		names []string
	}{
		{"Created", report.Created},
		{"Removed", report.Removed},
		{"Retyped", report.Retyped},
		{"New account types", report.CreatedTypes},
		{"Orphaned account types", report.OrphanTypes},
		{"Users without accounts", report.OrphanUsers},
	} {
		if len(line.names) > 0 {
			r.writePlain("  %s: %v\n", line.label, line.names)
		}
	}
	return nil
}
