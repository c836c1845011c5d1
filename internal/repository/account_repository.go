package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eaglebank/ledger-service/shared/apperror"
	"github.com/eaglebank/ledger-service/shared/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// AccountRepository owns every balance mutation.
type AccountRepository struct {
	db DBTX
}

func NewAccountRepository(db DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

func accountNotFound(bankID string) error {
	return apperror.AccountNotFound(fmt.Sprintf("No account for bank_id='%s'.", bankID))
}

func (r *AccountRepository) Get(ctx context.Context, bankID string) (*models.Account, error) {
	query := `SELECT bank_id, balance, updated_at FROM accounts WHERE bank_id = $1`

	var account models.Account
	err := r.db.QueryRowContext(ctx, query, bankID).Scan(&account.BankID, &account.Balance, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, accountNotFound(bankID)
	}
	if err != nil {
		return nil, fault(err, "failed to get account")
	}
	return &account, nil
}

// Adjust applies delta with a single guarded UPDATE. The sufficiency check is
// evaluated against the row while it is locked, so two concurrent debits can
// never both pass it.
func (r *AccountRepository) Adjust(ctx context.Context, bankID string, delta decimal.Decimal) (decimal.Decimal, error) {
	query := `
		UPDATE accounts
		SET balance = balance + $2, updated_at = NOW()
		WHERE bank_id = $1 AND balance + $2 >= 0
		RETURNING balance
	`
	var balance decimal.Decimal
	err := r.db.QueryRowContext(ctx, query, bankID, delta).Scan(&balance)
	if err == nil {
		return balance, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fault(err, "failed to adjust balance")
	}
	return decimal.Zero, r.explainRejection(ctx, bankID, delta)
}

// explainRejection tells a missing account apart from an overdraft after the
// guarded UPDATE matched no row.
func (r *AccountRepository) explainRejection(ctx context.Context, bankID string, delta decimal.Decimal) error {
	account, err := r.Get(ctx, bankID)
	if err != nil {
		return err
	}
	return apperror.InsufficientFunds(account.Balance, delta.Neg())
}
