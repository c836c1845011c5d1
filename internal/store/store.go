// Package store declares the persistence ports the ledger services depend on.
// internal/repository implements them on PostgreSQL and internal/memstore in
// process memory.
package store

import (
	"context"

	"github.com/eaglebank/ledger-service/shared/models"
	"github.com/shopspring/decimal"
)

// IdentityDirectory resolves account holders. It never mutates.
type IdentityDirectory interface {
	// ResolveByBankID fails with USER_NOT_FOUND when no identity carries bankID.
	ResolveByBankID(ctx context.Context, bankID string) (*models.Identity, error)
	// FindByFamilyNameFragment matches fragment case-insensitively anywhere in
	// the family name. Results are in directory order.
	FindByFamilyNameFragment(ctx context.Context, fragment string) ([]models.Identity, error)
}

// AccountStore is the only component that changes balances.
type AccountStore interface {
	// Get fails with ACCOUNT_NOT_FOUND when bankID has no account.
	Get(ctx context.Context, bankID string) (*models.Account, error)
	// Adjust adds delta to the balance and returns the new balance. It fails
	// with INSUFFICIENT_FUNDS, leaving the balance untouched, if the result
	// would be negative. The check and the write are a single atomic step.
	Adjust(ctx context.Context, bankID string, delta decimal.Decimal) (decimal.Decimal, error)
}

// EntryLog is the append-only transfer history.
type EntryLog interface {
	// Append assigns entry.ID and entry.CreatedAt.
	Append(ctx context.Context, entry *models.LedgerEntry) error
	// ListSent and ListReceived return records newest first, ties broken by
	// descending id.
	ListSent(ctx context.Context, bankID string) ([]models.LedgerRecord, error)
	ListReceived(ctx context.Context, bankID string) ([]models.LedgerRecord, error)
}

// Tx is a unit of work. Everything done through it commits or rolls back
// together.
type Tx interface {
	Identities() IdentityDirectory
	Accounts() AccountStore
	Entries() EntryLog
}

// Store exposes non-transactional reads through its embedded Tx accessors and
// runs units of work through WithinTx. fn's error is returned unchanged after
// rollback; a commit failure is returned as a STORE_FAULT.
type Store interface {
	Tx
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
