package viewsync

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"chainlist-backend/client"
	"chainlist-backend/controller"
	"chainlist-backend/dao"
	"chainlist-backend/model"
	"chainlist-backend/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ConvergesOverHTTP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := dao.NewMemoryStore()
	hub := usecase.NewEventHub(16, nil)
	ledger := usecase.NewLedgerUsecase(store, hub, usecase.WithSelfPurchase(false))
	accounts := usecase.NewAccountUsecase(store, nil)
	srv := httptest.NewServer(controller.NewRouter(ledger, accounts, nil))
	t.Cleanup(srv.Close)
	t.Cleanup(ledger.Close)

	_, err := accounts.Deposit(ctx, "bob", 50)
	require.NoError(t, err)

	seller := New(Remote(client.New(srv.URL)), "alice")
	buyer := New(Remote(client.New(srv.URL)), "bob")

	errs := make(chan error, 2)
	go func() { errs <- seller.Run(ctx) }()
	go func() { errs <- buyer.Run(ctx) }()
	require.Eventually(t, func() bool { return hub.Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	id, err := seller.RequestList(ctx, "article 1", "Description for article 1", 20)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(buyer.Snapshot().Rows) == 1 && len(seller.Snapshot().Rows) == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err = seller.RequestPurchase(ctx, id, 20)
	assert.ErrorIs(t, err, model.ErrSelfPurchase)

	receipt, err := buyer.RequestPurchase(ctx, id, 25)
	require.NoError(t, err)
	assert.EqualValues(t, 5, receipt.Refunded)

	require.Eventually(t, func() bool {
		b, s := buyer.Snapshot(), seller.Snapshot()
		return len(b.Rows) == 0 && len(s.Rows) == 0 && b.Balance == 30 && s.Balance == 20
	}, 2*time.Second, 5*time.Millisecond)

	ledger.Close()
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrStreamLost)
			assert.ErrorIs(t, err, model.ErrLedgerClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not observe the closed stream")
		}
	}
}
