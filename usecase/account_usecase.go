package usecase

import (
	"context"
	"fmt"
	"strings"

	"chainlist-backend/model"

	"go.uber.org/zap"
)

type AccountStore interface {
	Balance(ctx context.Context, account string) (int64, error)
	AdjustBalance(ctx context.Context, account string, delta int64) (int64, error)
}

// AccountUsecase exposes balances and funding. Purchases move funds through
// LedgerUsecase, never through here.
type AccountUsecase struct {
	store  AccountStore
	logger *zap.Logger
}

func NewAccountUsecase(store AccountStore, logger *zap.Logger) *AccountUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountUsecase{store: store, logger: logger}
}

func (u *AccountUsecase) Balance(ctx context.Context, account string) (model.Account, error) {
	if strings.TrimSpace(account) == "" {
		return model.Account{}, fmt.Errorf("%w: account is required", model.ErrInvalidInput)
	}
	balance, err := u.store.Balance(ctx, account)
	if err != nil {
		return model.Account{}, err
	}
	return model.Account{ID: account, Balance: balance}, nil
}

// Deposit funds an account and returns its new balance.
func (u *AccountUsecase) Deposit(ctx context.Context, account string, amount int64) (model.Account, error) {
	if strings.TrimSpace(account) == "" {
		return model.Account{}, fmt.Errorf("%w: account is required", model.ErrInvalidInput)
	}
	if amount <= 0 {
		return model.Account{}, fmt.Errorf("%w: deposit must be positive", model.ErrInvalidInput)
	}

	balance, err := u.store.AdjustBalance(ctx, account, amount)
	if err != nil {
		return model.Account{}, fmt.Errorf("deposit: %w", err)
	}
	u.logger.Info("account funded", zap.String("account", account), zap.Int64("amount", amount), zap.Int64("balance", balance))
	return model.Account{ID: account, Balance: balance}, nil
}

// Seed funds each account that currently holds nothing, so restarting
// against a persistent store does not mint the same funds twice.
func (u *AccountUsecase) Seed(ctx context.Context, balances map[string]int64) error {
	for account, amount := range balances {
		current, err := u.Balance(ctx, account)
		if err != nil {
			return err
		}
		if current.Balance != 0 || amount <= 0 {
			continue
		}
		if _, err := u.Deposit(ctx, account, amount); err != nil {
			return err
		}
	}
	return nil
}
