package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/feedbridge/internal/models"
	"github.com/desertthunder/feedbridge/internal/shared"
)

const serviceColumns = `s.id, s.sequence, s.name, s.type_id, s.created_at, s.updated_at, t.name, t.tag`

const serviceFrom = ` FROM services s JOIN account_types t ON t.id = s.type_id`

func scanService(row interface{ Scan(...any) error }) (*models.Service, error) {
	var svc models.Service
	err := row.Scan(&svc.ID, &svc.Sequence, &svc.Name, &svc.TypeID, &svc.CreatedAt, &svc.UpdatedAt, &svc.Scheme, &svc.Tag)
	if err != nil {
		return nil, err
	}
	return &svc, nil
}

func scanAccountType(row interface{ Scan(...any) error }) (*models.AccountType, error) {
	var t models.AccountType
	if err := row.Scan(&t.ID, &t.Name, &t.Tag, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// FindOrCreateAccountType returns the account type for (name, tag), creating it when missing.
func (s *Session) FindOrCreateAccountType(ctx context.Context, name, tag string) (*models.AccountType, error) {
	if err := models.NewAccountType(name, tag).Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	var accountType *models.AccountType
	err := s.tx(ctx, "find or create account type", func(tx *sql.Tx) error {
		var err error
		accountType, _, err = s.findOrCreateAccountType(ctx, tx, name, tag)
		return err
	})
	return accountType, err
}

// findOrCreateAccountType reports whether the row was created by this call.
func (s *Session) findOrCreateAccountType(ctx context.Context, tx *sql.Tx, name, tag string) (*models.AccountType, bool, error) {
	query := s.q(`SELECT id, name, tag, created_at FROM account_types WHERE name = ? AND tag = ?`)

	accountType, err := scanAccountType(tx.QueryRowContext(ctx, query, name, tag))
	if err == nil {
		return accountType, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to query account type: %w", err)
	}

	accountType = models.NewAccountType(name, tag)
	insert := s.q(`INSERT INTO account_types (id, name, tag, created_at) VALUES (?, ?, ?, ?) ON CONFLICT (name, tag) DO NOTHING`)
	result, err := tx.ExecContext(ctx, insert, shared.GenerateID(), name, tag, accountType.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert account type: %w", err)
	}
	rows, _ := result.RowsAffected()

	accountType, err = scanAccountType(tx.QueryRowContext(ctx, query, name, tag))
	if err != nil {
		return nil, false, fmt.Errorf("failed to reload account type: %w", err)
	}
	return accountType, rows > 0, nil
}

func (s *Session) insertAccountType(ctx context.Context, tx *sql.Tx, t *models.AccountType) error {
	id := shared.GenerateID()
	_, err := tx.ExecContext(ctx, s.q(`INSERT INTO account_types (id, name, tag, created_at) VALUES (?, ?, ?, ?)`), id, t.Name, t.Tag, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert account type: %w", err)
	}
	t.ID = id
	return nil
}

func (s *Session) updateAccountType(ctx context.Context, tx *sql.Tx, t *models.AccountType) error {
	result, err := tx.ExecContext(ctx, s.q(`UPDATE account_types SET name = ?, tag = ? WHERE id = ?`), t.Name, t.Tag, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update account type: %w", err)
	}
	return affected(result, "account type", t.ID)
}

// ListAccountTypes returns every persisted account type ordered by tag then name.
func (s *Session) ListAccountTypes(ctx context.Context) ([]*models.AccountType, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx, `SELECT id, name, tag, created_at FROM account_types ORDER BY tag, name`)
	if err != nil {
		return nil, persistenceErr("query account types", err)
	}
	defer rows.Close()

	var types []*models.AccountType
	for rows.Next() {
		t, err := scanAccountType(rows)
		if err != nil {
			return nil, persistenceErr("scan account type", err)
		}
		types = append(types, t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("iterate account types", err)
	}
	return types, nil
}

func (s *Session) findService(ctx context.Context, q querier, name string) (*models.Service, error) {
	svc, err := scanService(q.QueryRowContext(ctx, s.q(`SELECT `+serviceColumns+serviceFrom+` WHERE s.name = ?`), name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: service %s", shared.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query service: %w", err)
	}
	return svc, nil
}

// FindService returns the service named name or [shared.ErrNotFound].
func (s *Session) FindService(ctx context.Context, name string) (*models.Service, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	svc, err := s.findService(ctx, s.conn, name)
	if err != nil {
		return nil, persistenceErr("find service", err)
	}
	return svc, nil
}

// ListServices returns every persisted service with its scheme and tag, ordered by sequence.
func (s *Session) ListServices(ctx context.Context) ([]*models.Service, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	services, err := s.listServices(ctx, s.conn)
	if err != nil {
		return nil, persistenceErr("list services", err)
	}
	return services, nil
}

func (s *Session) listServices(ctx context.Context, q querier) ([]*models.Service, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+serviceColumns+serviceFrom+` ORDER BY s.sequence ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	defer rows.Close()

	var services []*models.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return services, nil
}

func (s *Session) insertService(ctx context.Context, tx *sql.Tx, svc *models.Service) error {
	sequence, err := s.nextSequence(ctx, tx, "services")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()
	query := s.q(`INSERT INTO services (id, sequence, name, type_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, query, id, sequence, svc.Name, svc.TypeID, svc.CreatedAt, svc.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert service: %w", err)
	}

	svc.ID = id
	svc.Sequence = sequence
	return nil
}

func (s *Session) updateService(ctx context.Context, tx *sql.Tx, svc *models.Service) error {
	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, s.q(`UPDATE services SET name = ?, type_id = ?, updated_at = ? WHERE id = ?`), svc.Name, svc.TypeID, now, svc.ID)
	if err != nil {
		return fmt.Errorf("failed to update service: %w", err)
	}
	if err := affected(result, "service", svc.ID); err != nil {
		return err
	}
	svc.UpdatedAt = now
	return nil
}
