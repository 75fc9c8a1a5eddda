package viewsync

import (
	"context"

	"chainlist-backend/usecase"
)

type localLedger struct {
	*usecase.LedgerUsecase
	accounts *usecase.AccountUsecase
}

// Local adapts an in-process ledger.
func Local(ledger *usecase.LedgerUsecase, accounts *usecase.AccountUsecase) Ledger {
	return localLedger{LedgerUsecase: ledger, accounts: accounts}
}

func (l localLedger) Balance(ctx context.Context, account string) (int64, error) {
	acct, err := l.accounts.Balance(ctx, account)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

func (l localLedger) Subscribe(ctx context.Context) (Stream, error) {
	sub, err := l.LedgerUsecase.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
