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

const accountSelect = `
	SELECT a.id, a.sequence, a.user_id, a.service_id, a.auth_key, a.auth_secret, a.state, a.status,
	       a.encryption_version, a.created_at, a.updated_at, u.jid, s.name, t.name, t.tag
	FROM accounts a
	JOIN users u ON u.id = a.user_id
	JOIN services s ON s.id = a.service_id
	JOIN account_types t ON t.id = s.type_id
`

// AccountFilter selects accounts by chat address, service name, or both. Empty fields match everything.
type AccountFilter struct {
	JID     string
	Service string
}

// FindAccounts returns the accounts matching filter ordered by sequence.
//
// With create set, both filter fields given and no match, a new account with empty credentials is
// inserted in the same transaction as the lookup (the user row is created if needed) and returned.
// Callers must not use such an account for API calls until credentials are populated.
// An unknown service name yields [shared.ErrNotFound].
func (s *Session) FindAccounts(ctx context.Context, filter AccountFilter, create bool) ([]*models.Account, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	if !create || filter.JID == "" || filter.Service == "" {
		accounts, err := s.listAccounts(ctx, s.conn, filter)
		if err != nil {
			return nil, persistenceErr("find accounts", err)
		}
		return accounts, nil
	}

	var accounts []*models.Account
	err := s.tx(ctx, "find or create account", func(tx *sql.Tx) error {
		var err error
		if accounts, err = s.listAccounts(ctx, tx, filter); err != nil || len(accounts) > 0 {
			return err
		}

		svc, err := s.findService(ctx, tx, filter.Service)
		if err != nil {
			return err
		}
		user, err := s.findOrCreateUser(ctx, tx, filter.JID)
		if err != nil {
			return err
		}

		if err := s.insertAccount(ctx, tx, models.NewAccount(user.ID, svc.ID), true); err != nil {
			return err
		}

		accounts, err = s.listAccounts(ctx, tx, filter)
		return err
	})
	return accounts, err
}

func (s *Session) listAccounts(ctx context.Context, q querier, filter AccountFilter) ([]*models.Account, error) {
	query := accountSelect + ` WHERE 1 = 1`
	args := []any{}

	if filter.JID != "" {
		query += ` AND u.jid = ?`
		args = append(args, filter.JID)
	}
	if filter.Service != "" {
		query += ` AND s.name = ?`
		args = append(args, filter.Service)
	}
	query += ` ORDER BY a.sequence ASC`

	rows, err := q.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := s.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return accounts, nil
}

func (s *Session) scanAccount(rows *sql.Rows) (*models.Account, error) {
	var (
		a       models.Account
		version int
	)
	err := rows.Scan(&a.ID, &a.Sequence, &a.UserID, &a.ServiceID, &a.Key, &a.Secret, &a.State, &a.Status,
		&version, &a.CreatedAt, &a.UpdatedAt, &a.JID, &a.ServiceName, &a.Scheme, &a.Tag)
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	if version == 0 {
		return &a, nil
	}

	enc := s.store.encryptor
	if enc == nil {
		s.store.logger.Warn("account credentials are encrypted but no key is configured", "account", a.ID)
		a.Key, a.Secret = "", ""
		return &a, nil
	}
	if a.Key, err = enc.DecryptString(a.Key); err != nil {
		return nil, fmt.Errorf("failed to decrypt key for account %s: %w", a.ID, err)
	}
	if a.Secret, err = enc.DecryptString(a.Secret); err != nil {
		return nil, fmt.Errorf("failed to decrypt secret for account %s: %w", a.ID, err)
	}
	return &a, nil
}

// sealCredentials returns the stored form of the account's key and secret and their encryption version.
func (s *Session) sealCredentials(a *models.Account) (string, string, int, error) {
	enc := s.store.encryptor
	if enc == nil {
		return a.Key, a.Secret, 0, nil
	}

	key, err := enc.EncryptString(a.Key)
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to encrypt key: %w", err)
	}
	secret, err := enc.EncryptString(a.Secret)
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to encrypt secret: %w", err)
	}
	return key, secret, shared.EncryptionVersion, nil
}

func (s *Session) insertAccount(ctx context.Context, tx *sql.Tx, a *models.Account, ignoreConflict bool) error {
	if a.State == "" {
		a.State = models.InitialCursor.String()
	}

	sequence, err := s.nextSequence(ctx, tx, "accounts")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	key, secret, version, err := s.sealCredentials(a)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO accounts (id, sequence, user_id, service_id, auth_key, auth_secret, state, status,
		                      encryption_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if ignoreConflict {
		query += ` ON CONFLICT (user_id, service_id) DO NOTHING`
	}

	id := shared.GenerateID()
	_, err = tx.ExecContext(ctx, s.q(query), id, sequence, a.UserID, a.ServiceID, key, secret, a.State, a.Status,
		version, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}

	a.ID = id
	a.Sequence = sequence
	return nil
}

// updateAccount writes credentials, cursor and status in one statement.
// A missing row yields [shared.ErrNotFound] and nothing is written.
func (s *Session) updateAccount(ctx context.Context, tx *sql.Tx, a *models.Account) error {
	key, secret, version, err := s.sealCredentials(a)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := s.q(`
		UPDATE accounts
		SET auth_key = ?, auth_secret = ?, state = ?, status = ?, encryption_version = ?, updated_at = ?
		WHERE id = ?`)

	result, err := tx.ExecContext(ctx, query, key, secret, a.State, a.Status, version, now, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if err := affected(result, "account", a.ID); err != nil {
		return err
	}
	a.UpdatedAt = now
	return nil
}

// FindAccount returns the single account for (jid, service) or [shared.ErrNotFound].
func (s *Session) FindAccount(ctx context.Context, jid, service string) (*models.Account, error) {
	accounts, err := s.FindAccounts(ctx, AccountFilter{JID: jid, Service: service}, false)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: account %s on %s", shared.ErrNotFound, jid, service)
	}
	return accounts[0], nil
}

// isNotFound reports whether err is a missing-row condition.
func isNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
