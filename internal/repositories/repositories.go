// package repositories provides the persistence store for users, services, account types and accounts.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/feedbridge/internal/shared"
)

// querier is satisfied by both [sql.Conn] and [sql.Tx].
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store owns the connection pool. Work is done on a [Session] checked out with [Store.Acquire].
type Store struct {
	db        *sql.DB
	dialect   shared.Dialect
	encryptor shared.Encryptor
	logger    *log.Logger
}

// StoreOpts configures a [Store].
type StoreOpts struct {
	Dialect   shared.Dialect
	Encryptor shared.Encryptor // optional; credentials are stored in plaintext when nil
	Logger    *log.Logger
}

// NewStore creates a [Store] over an open, migrated database.
func NewStore(db *sql.DB, opts StoreOpts) *Store {
	if opts.Dialect == "" {
		opts.Dialect = shared.DialectSQLite
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	return &Store{
		db:        db,
		dialect:   opts.Dialect,
		encryptor: opts.Encryptor,
		logger:    shared.WithLogger(opts.Logger, "component", "store"),
	}
}

// Acquire checks a dedicated connection out of the pool.
//
// The returned [Session] belongs to the calling goroutine and must be returned with [Session.Release].
func (s *Store) Acquire(ctx context.Context) (*Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, persistenceErr("acquire connection", err)
	}
	return &Session{store: s, conn: conn}, nil
}

// WithSession runs fn on a freshly acquired [Session] and always releases it.
func (s *Store) WithSession(ctx context.Context, fn func(*Session) error) (err error) {
	sess, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := sess.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(sess)
}

// Session is one pooled connection plus the transactions run on it.
//
// A Session is not safe for concurrent use; each worker acquires its own.
type Session struct {
	store    *Store
	conn     *sql.Conn
	released bool
}

// Release returns the session's connection to the pool. Calling it more than once is a no-op.
func (s *Session) Release() error {
	if s.released {
		return nil
	}
	s.released = true
	if err := s.conn.Close(); err != nil {
		return persistenceErr("release connection", err)
	}
	return nil
}

func (s *Session) q(query string) string {
	return s.store.dialect.Rebind(query)
}

func (s *Session) check() error {
	if s.released {
		return fmt.Errorf("%w: session already released", shared.ErrPersistence)
	}
	return nil
}

// tx runs fn in a transaction on the session's connection.
// Any failure rolls the transaction back and is returned wrapped in [shared.ErrPersistence].
func (s *Session) tx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	if err := s.check(); err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return persistenceErr(op, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.store.logger.Error("rollback failed", "op", op, "error", rbErr)
		}
		return persistenceErr(op, err)
	}

	if err := tx.Commit(); err != nil {
		return persistenceErr(op, err)
	}
	return nil
}

// nextSequence increments and returns the per-table sequence inside tx.
//
// Sequence numbers give stable, human-readable ordering (user #42) independent of UUIDs.
func (s *Session) nextSequence(ctx context.Context, tx *sql.Tx, table string) (int, error) {
	sequenceTable := table + "_sequence"

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET value = value + 1 WHERE id = 1", sequenceTable)); err != nil {
		return 0, fmt.Errorf("failed to increment sequence: %w", err)
	}

	var sequence int
	if err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT value FROM %s WHERE id = 1", sequenceTable)).Scan(&sequence); err != nil {
		return 0, fmt.Errorf("failed to get sequence value: %w", err)
	}
	return sequence, nil
}

// persistenceErr wraps err in [shared.ErrPersistence] unless it already is one.
func persistenceErr(op string, err error) error {
	if errors.Is(err, shared.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: failed to %s: %w", shared.ErrPersistence, op, err)
}

// affected maps a zero-row write to [shared.ErrNotFound].
func affected(result sql.Result, what, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s %s", shared.ErrNotFound, what, id)
	}
	return nil
}
