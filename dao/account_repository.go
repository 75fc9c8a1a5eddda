package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"chainlist-backend/model"
)

// Balance returns zero for accounts the ledger has never seen.
func (s *MySQLStore) Balance(ctx context.Context, account string) (int64, error) {
	var balance int64
	err := s.q(ctx).QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = ?`, account).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// AdjustBalance applies delta and returns the new balance. A delta that would
// take the balance below zero fails with model.ErrInsufficientFunds, one that
// would exceed math.MaxInt64 with model.ErrBalanceOverflow.
func (s *MySQLStore) AdjustBalance(ctx context.Context, account string, delta int64) (int64, error) {
	var balance int64
	err := s.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.q(ctx).ExecContext(ctx,
			`INSERT INTO accounts (id, balance) VALUES (?, 0) ON DUPLICATE KEY UPDATE id = id`,
			account,
		); err != nil {
			return fmt.Errorf("ensure account: %w", err)
		}

		if err := s.q(ctx).QueryRowContext(ctx,
			`SELECT balance FROM accounts WHERE id = ? FOR UPDATE`,
			account,
		).Scan(&balance); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}

		if delta > 0 && balance > math.MaxInt64-delta {
			return model.ErrBalanceOverflow
		}
		balance += delta
		if balance < 0 {
			return model.ErrInsufficientFunds
		}

		if _, err := s.q(ctx).ExecContext(ctx, `UPDATE accounts SET balance = ? WHERE id = ?`, balance, account); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}
