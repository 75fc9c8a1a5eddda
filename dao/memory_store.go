package dao

import (
	"context"
	"math"
	"sync"
	"time"

	"chainlist-backend/model"
)

// MemoryStore keeps the ledger in process memory. A transaction holds the
// store's write lock for its whole duration and undoes its writes on error.
type MemoryStore struct {
	mu       sync.RWMutex
	items    []model.Item
	balances map[string]int64
	events   []model.Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{balances: make(map[string]int64)}
}

type memTxKey struct{}

type memTx struct {
	undo []func()
}

func memTxFromContext(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	return tx
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if memTxFromContext(ctx) != nil {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
	}()

	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (s *MemoryStore) write(ctx context.Context, fn func(tx *memTx) error) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		return fn(memTxFromContext(ctx))
	})
}

func (s *MemoryStore) read(ctx context.Context, fn func()) {
	if memTxFromContext(ctx) != nil {
		fn()
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn()
}

func cloneItem(item model.Item) model.Item {
	if item.Buyer != nil {
		buyer := *item.Buyer
		item.Buyer = &buyer
	}
	if item.SoldAt != nil {
		at := *item.SoldAt
		item.SoldAt = &at
	}
	return item
}

func (s *MemoryStore) InsertItem(ctx context.Context, item model.Item) (int64, error) {
	var id int64
	err := s.write(ctx, func(tx *memTx) error {
		id = int64(len(s.items)) + 1
		item = cloneItem(item)
		item.ID = id
		item.Buyer = nil
		item.SoldAt = nil
		s.items = append(s.items, item)
		tx.undo = append(tx.undo, func() { s.items = s.items[:id-1] })
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *MemoryStore) GetItem(ctx context.Context, id int64) (model.Item, error) {
	var (
		item  model.Item
		found bool
	)
	s.read(ctx, func() {
		if id >= 1 && id <= int64(len(s.items)) {
			item, found = cloneItem(s.items[id-1]), true
		}
	})
	if !found {
		return model.Item{}, model.ErrNotFound
	}
	return item, nil
}

// GetItemForUpdate is GetItem; the transaction already holds the store lock.
func (s *MemoryStore) GetItemForUpdate(ctx context.Context, id int64) (model.Item, error) {
	return s.GetItem(ctx, id)
}

func (s *MemoryStore) MarkSold(ctx context.Context, id int64, buyer string, at time.Time) error {
	return s.write(ctx, func(tx *memTx) error {
		if id < 1 || id > int64(len(s.items)) {
			return model.ErrNotFound
		}
		item := &s.items[id-1]
		if item.Buyer != nil {
			return model.ErrAlreadySold
		}
		b, t := buyer, at
		item.Buyer, item.SoldAt = &b, &t
		tx.undo = append(tx.undo, func() {
			s.items[id-1].Buyer = nil
			s.items[id-1].SoldAt = nil
		})
		return nil
	})
}

func (s *MemoryStore) ForSaleIDs(ctx context.Context) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := []int64{}
	s.read(ctx, func() {
		for _, item := range s.items {
			if item.Buyer == nil {
				ids = append(ids, item.ID)
			}
		}
	})
	return ids, nil
}

func (s *MemoryStore) CountItems(ctx context.Context) (int64, error) {
	var n int64
	s.read(ctx, func() { n = int64(len(s.items)) })
	return n, nil
}

func (s *MemoryStore) Balance(ctx context.Context, account string) (int64, error) {
	var balance int64
	s.read(ctx, func() { balance = s.balances[account] })
	return balance, nil
}

func (s *MemoryStore) AdjustBalance(ctx context.Context, account string, delta int64) (int64, error) {
	var balance int64
	err := s.write(ctx, func(tx *memTx) error {
		prev, existed := s.balances[account]
		if delta > 0 && prev > math.MaxInt64-delta {
			return model.ErrBalanceOverflow
		}
		if prev+delta < 0 {
			return model.ErrInsufficientFunds
		}
		balance = prev + delta
		s.balances[account] = balance
		tx.undo = append(tx.undo, func() {
			if existed {
				s.balances[account] = prev
			} else {
				delete(s.balances, account)
			}
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, e model.Event) (int64, error) {
	var seq int64
	err := s.write(ctx, func(tx *memTx) error {
		seq = int64(len(s.events)) + 1
		e.Seq = seq
		s.events = append(s.events, e)
		tx.undo = append(tx.undo, func() { s.events = s.events[:seq-1] })
		return nil
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *MemoryStore) Events(ctx context.Context, afterSeq int64, limit int) ([]model.Event, error) {
	events := []model.Event{}
	s.read(ctx, func() {
		if afterSeq < 0 {
			afterSeq = 0
		}
		for i := afterSeq; i < int64(len(s.events)); i++ {
			if limit > 0 && len(events) >= limit {
				break
			}
			events = append(events, s.events[i])
		}
	})
	return events, nil
}
