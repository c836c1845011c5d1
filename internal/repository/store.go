package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"time"

	"github.com/eaglebank/ledger-service/internal/store"
	"github.com/eaglebank/ledger-service/shared/apperror"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the PostgreSQL-backed store.Store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ConnectDB opens and pings a PostgreSQL pool.
func ConnectDB(ctx context.Context, dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	return db, nil
}

func (s *Store) Identities() store.IdentityDirectory { return NewIdentityRepository(s.db) }
func (s *Store) Accounts() store.AccountStore        { return NewAccountRepository(s.db) }
func (s *Store) Entries() store.EntryLog             { return NewLedgerEntryRepository(s.db) }

// WithinTx runs fn in a READ COMMITTED transaction. Row locks taken by the
// balance updates are held until commit, which serializes transfers touching
// the same account.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fault(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, txView{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fault(err, "failed to commit transaction")
	}
	return nil
}

type txView struct {
	tx *sql.Tx
}

func (v txView) Identities() store.IdentityDirectory { return NewIdentityRepository(v.tx) }
func (v txView) Accounts() store.AccountStore        { return NewAccountRepository(v.tx) }
func (v txView) Entries() store.EntryLog             { return NewLedgerEntryRepository(v.tx) }

// PostgreSQL conditions after which the whole transaction can be replayed.
var retryableCodes = map[pq.ErrorCode]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		_, ok := retryableCodes[pqErr.Code]
		return ok
	}
	return errors.Is(err, driver.ErrBadConn)
}

func fault(err error, op string) error {
	if appErr := (*apperror.Error)(nil); errors.As(err, &appErr) {
		return err
	}
	return apperror.StoreFault(errors.WithStack(err), op, isRetryable(err))
}
