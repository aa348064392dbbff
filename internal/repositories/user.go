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

const userColumns = `id, sequence, jid, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Sequence, &u.JID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// FindOrCreateUser returns the user for jid, creating it on first sight. One row per jid.
func (s *Session) FindOrCreateUser(ctx context.Context, jid string) (*models.User, error) {
	if err := models.NewUser(jid).Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	var user *models.User
	err := s.tx(ctx, "find or create user", func(tx *sql.Tx) error {
		var err error
		user, err = s.findOrCreateUser(ctx, tx, jid)
		return err
	})
	return user, err
}

func (s *Session) findOrCreateUser(ctx context.Context, tx *sql.Tx, jid string) (*models.User, error) {
	query := s.q(`SELECT ` + userColumns + ` FROM users WHERE jid = ?`)

	user, err := scanUser(tx.QueryRowContext(ctx, query, jid))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	user = models.NewUser(jid)
	if err := s.insertUser(ctx, tx, user, true); err != nil {
		return nil, err
	}

	// A concurrent writer may have won the insert; the reselect returns whichever row exists.
	user, err = scanUser(tx.QueryRowContext(ctx, query, jid))
	if err != nil {
		return nil, fmt.Errorf("failed to reload user: %w", err)
	}
	return user, nil
}

func (s *Session) insertUser(ctx context.Context, tx *sql.Tx, user *models.User, ignoreConflict bool) error {
	sequence, err := s.nextSequence(ctx, tx, "users")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	query := `INSERT INTO users (id, sequence, jid, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	if ignoreConflict {
		query += ` ON CONFLICT (jid) DO NOTHING`
	}

	id := shared.GenerateID()
	if _, err := tx.ExecContext(ctx, s.q(query), id, sequence, user.JID, user.CreatedAt, user.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	user.ID = id
	user.Sequence = sequence
	return nil
}

func (s *Session) updateUser(ctx context.Context, tx *sql.Tx, user *models.User) error {
	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, s.q(`UPDATE users SET jid = ?, updated_at = ? WHERE id = ?`), user.JID, now, user.ID)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if err := affected(result, "user", user.ID); err != nil {
		return err
	}
	user.UpdatedAt = now
	return nil
}

// FindUser returns the user for jid or [shared.ErrNotFound].
func (s *Session) FindUser(ctx context.Context, jid string) (*models.User, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	query := s.q(`SELECT ` + userColumns + ` FROM users WHERE jid = ?`)
	user, err := scanUser(s.conn.QueryRowContext(ctx, query, jid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", shared.ErrNotFound, jid)
	}
	if err != nil {
		return nil, persistenceErr("query user", err)
	}
	return user, nil
}

// ListUsers returns all users ordered by sequence.
func (s *Session) ListUsers(ctx context.Context) ([]*models.User, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY sequence ASC`)
	if err != nil {
		return nil, persistenceErr("query users", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, persistenceErr("scan user", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, persistenceErr("iterate users", err)
	}
	return users, nil
}
