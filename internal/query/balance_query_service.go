package query

import (
	"context"

	"github.com/eaglebank/ledger-service/internal/store"
	"github.com/eaglebank/ledger-service/shared/cqrs"
	"github.com/eaglebank/ledger-service/shared/models"
)

type BalanceQueryService struct {
	identities store.IdentityDirectory
	accounts   store.AccountStore
}

func NewBalanceQueryService(identities store.IdentityDirectory, accounts store.AccountStore) *BalanceQueryService {
	return &BalanceQueryService{identities: identities, accounts: accounts}
}

// GetBalance resolves the holder first, so an unknown bank id reports
// USER_NOT_FOUND rather than ACCOUNT_NOT_FOUND.
func (s *BalanceQueryService) GetBalance(ctx context.Context, q cqrs.GetBalanceQuery) (*models.BalanceView, error) {
	identity, err := s.identities.ResolveByBankID(ctx, q.BankID)
	if err != nil {
		return nil, err
	}
	account, err := s.accounts.Get(ctx, q.BankID)
	if err != nil {
		return nil, err
	}
	return &models.BalanceView{
		BankID:        account.BankID,
		Balance:       account.Balance,
		AccountHolder: identity.FullName(),
	}, nil
}
