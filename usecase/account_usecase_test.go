package usecase

import (
	"context"
	"math"
	"testing"

	"chainlist-backend/dao"
	"chainlist-backend/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountUsecase_Deposit(t *testing.T) {
	ctx := context.Background()
	accounts := NewAccountUsecase(dao.NewMemoryStore(), nil)

	acct, err := accounts.Deposit(ctx, "alice", 40)
	require.NoError(t, err)
	assert.Equal(t, model.Account{ID: "alice", Balance: 40}, acct)

	acct, err = accounts.Deposit(ctx, "alice", 2)
	require.NoError(t, err)
	assert.EqualValues(t, 42, acct.Balance)

	_, err = accounts.Deposit(ctx, "alice", 0)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = accounts.Deposit(ctx, "alice", -1)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = accounts.Deposit(ctx, "", 1)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = accounts.Deposit(ctx, "alice", math.MaxInt64)
	assert.ErrorIs(t, err, model.ErrBalanceOverflow)
	acct, err = accounts.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 42, acct.Balance)
}

func TestAccountUsecase_SeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	accounts := NewAccountUsecase(dao.NewMemoryStore(), nil)
	seed := map[string]int64{"alice": 100, "bob": 50}

	require.NoError(t, accounts.Seed(ctx, seed))
	require.NoError(t, accounts.Seed(ctx, seed))

	alice, err := accounts.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 100, alice.Balance)

	bob, err := accounts.Balance(ctx, "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 50, bob.Balance)
}
