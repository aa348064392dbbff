package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/desertthunder/feedbridge/internal/models"
	"github.com/desertthunder/feedbridge/internal/shared"
)

// ReconcileReport lists what [Session.ReconcileServices] changed and what it found orphaned.
type ReconcileReport struct {
	Removed      []string // services deleted because they are no longer declared
	CreatedTypes []string // account types created, as "name/tag"
	Created      []string // services created
	Retyped      []string // services re-pointed at a changed account type
	OrphanTypes  []string // account types no service references, as "name/tag"
	OrphanUsers  []string // users without any account
}

// Changed reports whether the run modified any row.
func (r *ReconcileReport) Changed() bool {
	return len(r.Removed)+len(r.CreatedTypes)+len(r.Created)+len(r.Retyped) > 0
}

// ReconcileServices makes the persisted services match the declared ones.
//
// Each step runs in its own transaction and rolls back on failure:
//  1. delete services that are no longer declared (cascading to their accounts)
//  2. create missing account types
//  3. create missing services and re-point services whose declared type changed
//  4. report orphaned account types and users; these are logged, never removed
//
// Running it again with the same declarations changes nothing.
func (s *Session) ReconcileServices(ctx context.Context, declared []shared.ServiceConfig) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	logger := s.store.logger

	wanted := make(map[string]shared.ServiceConfig, len(declared))
	for _, svc := range declared {
		wanted[svc.Tag] = svc
	}

	err := s.tx(ctx, "remove undeclared services", func(tx *sql.Tx) error {
		existing, err := s.listServices(ctx, tx)
		if err != nil {
			return err
		}
		for _, svc := range existing {
			if _, ok := wanted[svc.Name]; ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM services WHERE id = ?`), svc.ID); err != nil {
				return fmt.Errorf("failed to delete service %s: %w", svc.Name, err)
			}
			report.Removed = append(report.Removed, svc.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, name := range report.Removed {
		logger.Info("removed undeclared service", "service", name)
	}

	types := make(map[string]*models.AccountType, len(declared))
	err = s.tx(ctx, "create account types", func(tx *sql.Tx) error {
		for _, svc := range declared {
			t, created, err := s.findOrCreateAccountType(ctx, tx, svc.Type, svc.Tag)
			if err != nil {
				return err
			}
			types[svc.Tag] = t
			if created {
				report.CreatedTypes = append(report.CreatedTypes, svc.Type+"/"+svc.Tag)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.tx(ctx, "create services", func(tx *sql.Tx) error {
		for _, decl := range declared {
			t := types[decl.Tag]

			svc, err := s.findService(ctx, tx, decl.Tag)
			if isNotFound(err) {
				svc = models.NewService(decl.Tag, t.ID)
				if err := s.insertService(ctx, tx, svc); err != nil {
					return err
				}
				report.Created = append(report.Created, decl.Tag)
				continue
			}
			if err != nil {
				return err
			}

			if svc.TypeID != t.ID {
				svc.TypeID = t.ID
				if err := s.updateService(ctx, tx, svc); err != nil {
					return err
				}
				report.Retyped = append(report.Retyped, decl.Tag)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.findOrphans(ctx, report); err != nil {
		return nil, err
	}
	for _, t := range report.OrphanTypes {
		logger.Warn("orphaned account type", "type", t)
	}
	for _, jid := range report.OrphanUsers {
		logger.Warn("orphaned user", "jid", jid)
	}

	logger.Debug("services reconciled",
		"created", len(report.Created), "removed", len(report.Removed), "retyped", len(report.Retyped))
	return report, nil
}

func (s *Session) findOrphans(ctx context.Context, report *ReconcileReport) error {
	var err error
	report.OrphanTypes, err = s.queryStrings(ctx, `
		SELECT t.name || '/' || t.tag FROM account_types t
		WHERE NOT EXISTS (SELECT 1 FROM services s WHERE s.type_id = t.id)
		ORDER BY t.tag, t.name`)
	if err != nil {
		return persistenceErr("query orphaned account types", err)
	}

	report.OrphanUsers, err = s.queryStrings(ctx, `
		SELECT u.jid FROM users u
		WHERE NOT EXISTS (SELECT 1 FROM accounts a WHERE a.user_id = u.id)
		ORDER BY u.sequence`)
	if err != nil {
		return persistenceErr("query orphaned users", err)
	}
	return nil
}

// queryStrings collects a single-column result set.
func (s *Session) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
