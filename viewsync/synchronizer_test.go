package viewsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chainlist-backend/dao"
	"chainlist-backend/model"
	"chainlist-backend/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	mu      sync.Mutex
	items   map[int64]model.Item
	balance int64
	getErr  error
	stream  *fakeStream

	// When gate is set ListForSale signals entered and then blocks on gate.
	gate    chan struct{}
	entered chan struct{}

	listForSaleCalls atomic.Int32
	listCalls        atomic.Int32
	purchaseCalls    atomic.Int32
}

func newFakeLedger(items ...model.Item) *fakeLedger {
	f := &fakeLedger{items: make(map[int64]model.Item)}
	for _, item := range items {
		f.items[item.ID] = item
	}
	return f
}

func (f *fakeLedger) put(item model.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item.ID] = item
}

func (f *fakeLedger) ListForSale(ctx context.Context) ([]int64, error) {
	f.listForSaleCalls.Add(1)
	f.mu.Lock()
	var ids []int64
	for id := int64(1); id <= int64(len(f.items)); id++ {
		if item, ok := f.items[id]; ok && item.ForSale() {
			ids = append(ids, id)
		}
	}
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	return ids, nil
}

func (f *fakeLedger) Get(ctx context.Context, id int64) (model.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return model.Item{}, f.getErr
	}
	item, ok := f.items[id]
	if !ok {
		return model.Item{}, model.ErrNotFound
	}
	return item, nil
}

func (f *fakeLedger) List(ctx context.Context, seller, name, description string, price int64) (int64, error) {
	f.listCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	id := int64(len(f.items)) + 1
	f.items[id] = model.Item{ID: id, Seller: seller, Name: name, Description: description, Price: price}
	return id, nil
}

func (f *fakeLedger) Purchase(ctx context.Context, buyer string, id int64, tendered int64) (model.Receipt, error) {
	f.purchaseCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return model.Receipt{}, model.ErrNotFound
	}
	if !item.ForSale() {
		return model.Receipt{}, model.ErrAlreadySold
	}
	item.Buyer = &buyer
	f.items[id] = item
	return model.Receipt{ItemID: id, Buyer: buyer, Seller: item.Seller, Price: item.Price, Tendered: tendered}, nil
}

func (f *fakeLedger) Balance(ctx context.Context, account string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeLedger) Subscribe(ctx context.Context) (Stream, error) {
	if f.stream == nil {
		return nil, errors.New("fake ledger has no stream")
	}
	return f.stream, nil
}

func (f *fakeLedger) setGetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErr = err
}

type fakeStream struct {
	ch chan model.Event
}

func (f *fakeStream) Events() <-chan model.Event { return f.ch }
func (f *fakeStream) Err() error                 { return nil }
func (f *fakeStream) Close()                     {}

func ids(p Projection) []int64 {
	out := []int64{}
	for _, r := range p.Rows {
		out = append(out, r.ID)
	}
	return out
}

func TestRefresh_ReplacesProjection(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger(
		model.Item{ID: 1, Seller: "alice", Name: "article 1", Price: 10},
		model.Item{ID: 2, Seller: "bob", Name: "article 2", Price: 20},
	)
	ledger.balance = 77
	var seen []Projection
	s := New(ledger, "alice", WithOnChange(func(p Projection) { seen = append(seen, p) }))

	ran, err := s.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	p := s.Snapshot()
	require.Len(t, seen, 1)
	assert.Equal(t, p, seen[0])
	assert.Equal(t, []int64{1, 2}, ids(p))
	assert.EqualValues(t, 77, p.Balance)
	assert.True(t, p.Rows[0].Own)
	assert.False(t, p.Rows[0].CanPurchase())
	assert.False(t, p.Rows[1].Own)
	assert.True(t, p.Rows[1].CanPurchase())
	assert.Equal(t, Idle, s.State())
}

func TestRefresh_SecondCallWhileInFlightIsNoop(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger(model.Item{ID: 1, Seller: "alice", Name: "article 1", Price: 10})
	ledger.gate = make(chan struct{})
	ledger.entered = make(chan struct{}, 1)
	s := New(ledger, "bob")

	type result struct {
		ran bool
		err error
	}
	first := make(chan result, 1)
	go func() {
		ran, err := s.Refresh(ctx)
		first <- result{ran, err}
	}()

	<-ledger.entered
	assert.Equal(t, Refreshing, s.State())

	ran, err := s.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.EqualValues(t, 1, ledger.listForSaleCalls.Load())

	ledger.put(model.Item{ID: 2, Seller: "alice", Name: "article 2", Price: 20})
	ledger.mu.Lock()
	gate := ledger.gate
	ledger.gate = nil
	ledger.mu.Unlock()
	close(gate)

	res := <-first
	require.NoError(t, res.err)
	assert.True(t, res.ran)
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, []int64{1}, ids(s.Snapshot()), "projection reflects the state seen by the first refresh")

	ran, err = s.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, []int64{1, 2}, ids(s.Snapshot()))
}

func TestRefresh_FailureKeepsPreviousProjection(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger(model.Item{ID: 1, Seller: "alice", Name: "article 1", Price: 10})
	s := New(ledger, "bob")

	_, err := s.Refresh(ctx)
	require.NoError(t, err)
	before := s.Snapshot()

	ledger.put(model.Item{ID: 2, Seller: "alice", Name: "article 2", Price: 20})
	ledger.mu.Lock()
	ledger.getErr = errors.New("node unreachable")
	ledger.mu.Unlock()

	ran, err := s.Refresh(ctx)
	assert.True(t, ran)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node unreachable")
	assert.Equal(t, before, s.Snapshot())
	assert.Equal(t, Idle, s.State(), "guard must be released after a failure")

	ledger.mu.Lock()
	ledger.getErr = nil
	ledger.mu.Unlock()

	_, err = s.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(s.Snapshot()))
}

func TestOnEvent_RecordsActivityAndRefreshes(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger(model.Item{ID: 1, Seller: "alice", Name: "article 1", Price: 10})
	s := New(ledger, "bob", WithFeedSize(2))

	require.NoError(t, s.OnEvent(ctx, model.Event{Seq: 1, Kind: model.EventListed, ItemID: 1, Name: "article 1"}))
	assert.Equal(t, []int64{1}, ids(s.Snapshot()))

	buyer := "carol"
	item, err := ledger.Get(ctx, 1)
	require.NoError(t, err)
	item.Buyer = &buyer
	ledger.put(item)

	require.NoError(t, s.OnEvent(ctx, model.Event{Seq: 2, Kind: model.EventPurchased, ItemID: 1, Buyer: "carol", Name: "article 1"}))
	assert.Empty(t, s.Snapshot().Rows)

	require.NoError(t, s.OnEvent(ctx, model.Event{Seq: 3, Kind: model.EventListed, ItemID: 2, Name: "article 2"}))
	assert.Equal(t, []string{"carol has bought article 1", "article 2 is now for sale"}, s.Activity())
}

func TestRequests_DoNotTouchProjection(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	s := New(ledger, "alice")

	id, err := s.RequestList(ctx, "article 1", "desc", 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)
	assert.Empty(t, s.Snapshot().Rows)

	_, err = s.RequestPurchase(ctx, id, 10)
	require.NoError(t, err)
	assert.Empty(t, s.Snapshot().Rows)

	_, err = s.RequestPurchase(ctx, id, 10)
	assert.ErrorIs(t, err, model.ErrAlreadySold)
}

func TestRequestList_LocalValidation(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()

	_, err := New(ledger, "alice").RequestList(ctx, "  ", "desc", 10)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = New(ledger, "alice").RequestList(ctx, "article", "desc", 0)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = New(ledger, "").RequestList(ctx, "article", "desc", 10)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = New(ledger, "").RequestPurchase(ctx, 1, 10)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	assert.Zero(t, ledger.listCalls.Load())
	assert.Zero(t, ledger.purchaseCalls.Load())
}

func newLocal(t *testing.T) (*usecase.LedgerUsecase, *usecase.AccountUsecase, *usecase.EventHub) {
	t.Helper()
	store := dao.NewMemoryStore()
	hub := usecase.NewEventHub(16, nil)
	ledger := usecase.NewLedgerUsecase(store, hub)
	accounts := usecase.NewAccountUsecase(store, nil)
	t.Cleanup(ledger.Close)
	return ledger, accounts, hub
}

func TestRun_ConvergesWithLedger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledger, accounts, hub := newLocal(t)
	_, err := accounts.Deposit(ctx, "bob", 100)
	require.NoError(t, err)

	seller := New(Local(ledger, accounts), "alice")
	buyer := New(Local(ledger, accounts), "bob")

	errs := make(chan error, 2)
	go func() { errs <- seller.Run(ctx) }()
	go func() { errs <- buyer.Run(ctx) }()
	require.Eventually(t, func() bool { return hub.Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	id, err := seller.RequestList(ctx, "article 1", "Description for article 1", 10)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(seller.Snapshot().Rows) == 1 && len(buyer.Snapshot().Rows) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, seller.Snapshot().Rows[0].Own)
	assert.True(t, buyer.Snapshot().Rows[0].CanPurchase())

	_, err = buyer.RequestPurchase(ctx, id, 10)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(seller.Snapshot().Rows) == 0 && len(buyer.Snapshot().Rows) == 0 &&
			seller.Snapshot().Balance == 10 && buyer.Snapshot().Balance == 90
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"article 1 is now for sale", "bob has bought article 1"}, buyer.Activity())

	cancel()
	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, <-errs, context.Canceled)
	}
}

func TestRun_SurfacesStreamLoss(t *testing.T) {
	ctx := context.Background()
	ledger, accounts, hub := newLocal(t)
	s := New(Local(ledger, accounts), "alice")

	errs := make(chan error, 1)
	go func() { errs <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	ledger.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrStreamLost)
		assert.ErrorIs(t, err, model.ErrLedgerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the stream closed")
	}

	_, err := s.Refresh(ctx)
	assert.NoError(t, err, "manual refresh still works after the stream is gone")
}

func TestRun_ReportsRefreshFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledger := newFakeLedger(model.Item{ID: 1, Seller: "alice", Name: "article 1", Price: 10})
	ledger.stream = &fakeStream{ch: make(chan model.Event, 4)}
	ledger.setGetErr(errors.New("node unreachable"))

	failures := make(chan error, 4)
	s := New(ledger, "bob", WithOnError(func(err error) { failures <- err }))

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFailure := func(want string) {
		t.Helper()
		select {
		case err := <-failures:
			assert.Contains(t, err.Error(), want)
		case <-time.After(2 * time.Second):
			t.Fatalf("no refresh failure reported, want %q", want)
		}
	}

	waitFailure("node unreachable")
	assert.Empty(t, s.Snapshot().Rows)

	ledger.setGetErr(nil)
	ledger.stream.ch <- model.Event{Seq: 1, Kind: model.EventListed, ItemID: 1, Name: "article 1"}
	require.Eventually(t, func() bool { return len(s.Snapshot().Rows) == 1 }, 2*time.Second, 5*time.Millisecond)

	ledger.setGetErr(errors.New("request timed out"))
	ledger.stream.ch <- model.Event{Seq: 2, Kind: model.EventListed, ItemID: 1, Name: "article 1"}
	waitFailure("request timed out")
	assert.Equal(t, []int64{1}, ids(s.Snapshot()), "stale projection is kept after a failed refresh")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
