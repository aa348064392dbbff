package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/desertthunder/feedbridge/internal/models"
	"github.com/desertthunder/feedbridge/internal/shared"
)

// Commit persists m: entities without an id are inserted, others are updated in place.
//
// Updating a row that has been deleted returns [shared.ErrNotFound] and does not recreate it.
// A failed insert leaves m without an id, so committing it again retries the insert.
func (s *Session) Commit(ctx context.Context, m models.Model) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: validation failed: %v", shared.ErrInvalidInput, err)
	}

	insert := m.Identifier() == ""
	err := s.tx(ctx, "commit "+entityName(m), func(tx *sql.Tx) error {
		switch e := m.(type) {
		case *models.User:
			if insert {
				return s.insertUser(ctx, tx, e, false)
			}
			return s.updateUser(ctx, tx, e)
		case *models.AccountType:
			if insert {
				return s.insertAccountType(ctx, tx, e)
			}
			return s.updateAccountType(ctx, tx, e)
		case *models.Service:
			if insert {
				return s.insertService(ctx, tx, e)
			}
			return s.updateService(ctx, tx, e)
		case *models.Account:
			if insert {
				return s.insertAccount(ctx, tx, e, false)
			}
			return s.updateAccount(ctx, tx, e)
		default:
			return fmt.Errorf("%w: cannot commit %T", shared.ErrInvalidInput, m)
		}
	})
	if err != nil && insert {
		clearIdentity(m)
	}
	return err
}

// clearIdentity undoes the id and sequence an insert assigned inside a rolled-back transaction.
func clearIdentity(m models.Model) {
	switch e := m.(type) {
	case *models.User:
		e.ID, e.Sequence = "", 0
	case *models.AccountType:
		e.ID = ""
	case *models.Service:
		e.ID, e.Sequence = "", 0
	case *models.Account:
		e.ID, e.Sequence = "", 0
	}
}

// Remove deletes m. Schema cascades remove dependants (user → accounts, service → accounts, type → services).
func (s *Session) Remove(ctx context.Context, m models.Model) error {
	table, err := tableFor(m)
	if err != nil {
		return err
	}
	if m.Identifier() == "" {
		return fmt.Errorf("%w: %s has no id", shared.ErrNotFound, entityName(m))
	}

	return s.tx(ctx, "remove "+entityName(m), func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, s.q(fmt.Sprintf("DELETE FROM %s WHERE id = ?", table)), m.Identifier())
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", entityName(m), err)
		}
		return affected(result, entityName(m), m.Identifier())
	})
}

func tableFor(m models.Model) (string, error) {
	switch m.(type) {
	case *models.User:
		return "users", nil
	case *models.AccountType:
		return "account_types", nil
	case *models.Service:
		return "services", nil
	case *models.Account:
		return "accounts", nil
	default:
		return "", fmt.Errorf("%w: cannot remove %T", shared.ErrInvalidInput, m)
	}
}

func entityName(m models.Model) string {
	switch m.(type) {
	case *models.User:
		return "user"
	case *models.AccountType:
		return "account type"
	case *models.Service:
		return "service"
	case *models.Account:
		return "account"
	default:
		return fmt.Sprintf("%T", m)
	}
}
