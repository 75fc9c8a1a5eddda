// Package viewsync keeps a client-side projection of the items currently for
// sale consistent with the ledger by reacting to its event stream.
//
// The projection is only ever replaced by a complete, successful fetch of
// ledger state. Mutations requested through the synchronizer are forwarded to
// the ledger and their effect becomes visible when the corresponding event
// arrives, never optimistically.
package viewsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chainlist-backend/model"
	"chainlist-backend/pkg/clock"

	"go.uber.org/zap"
)

// ErrStreamLost means the event subscription ended while Run was consuming
// it. The projection may be stale from that point on.
var ErrStreamLost = errors.New("event stream lost")

const defaultFeedSize = 50

type State int32

const (
	Idle State = iota
	Refreshing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Refreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Stream is a live, ordered event subscription.
type Stream interface {
	Events() <-chan model.Event
	Err() error
	Close()
}

// Ledger is the part of the ledger a synchronizer reads from and writes to.
type Ledger interface {
	ListForSale(ctx context.Context) ([]int64, error)
	Get(ctx context.Context, id int64) (model.Item, error)
	List(ctx context.Context, seller, name, description string, price int64) (int64, error)
	Purchase(ctx context.Context, buyer string, id int64, tendered int64) (model.Receipt, error)
	Balance(ctx context.Context, account string) (int64, error)
	Subscribe(ctx context.Context) (Stream, error)
}

// Row is one item in the projection. Own marks the viewer's own listings so
// a presentation layer can hide the purchase action for them.
type Row struct {
	model.Item
	Own bool `json:"own"`
}

func (r Row) CanPurchase() bool {
	return !r.Own && r.ForSale()
}

type Projection struct {
	Rows        []Row     `json:"rows"`
	Balance     int64     `json:"balance"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Synchronizer owns one projection. Each instance carries its own reentrancy
// guard, so several synchronizers can run side by side.
type Synchronizer struct {
	ledger   Ledger
	account  string
	logger   *zap.Logger
	clock    clock.Clock
	feedSize int
	onChange func(Projection)
	onError  func(error)

	state atomic.Int32

	mu         sync.RWMutex
	projection Projection
	feed       []string
}

type Option func(*Synchronizer)

func WithLogger(l *zap.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Synchronizer) { s.clock = c }
}

// WithFeedSize bounds the number of activity lines kept.
func WithFeedSize(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.feedSize = n
		}
	}
}

// WithOnChange registers fn to receive each new projection after a
// successful refresh. fn runs on the refreshing goroutine.
func WithOnChange(fn func(Projection)) Option {
	return func(s *Synchronizer) { s.onChange = fn }
}

// WithOnError registers fn to receive refresh failures that happen inside
// Run. After such a failure the projection is stale until the next
// successful refresh.
func WithOnError(fn func(error)) Option {
	return func(s *Synchronizer) { s.onError = fn }
}

// New creates a synchronizer viewing the ledger as account. An empty account
// gives a read-only viewer with no balance and no mutation rights.
func New(ledger Ledger, account string, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		ledger:   ledger,
		account:  account,
		logger:   zap.NewNop(),
		clock:    clock.NewSystem(),
		feedSize: defaultFeedSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("viewer", account))
	return s
}

func (s *Synchronizer) Account() string {
	return s.account
}

func (s *Synchronizer) State() State {
	return State(s.state.Load())
}

// Snapshot returns a copy of the current projection.
func (s *Synchronizer) Snapshot() Projection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.projection
	p.Rows = make([]Row, len(s.projection.Rows))
	copy(p.Rows, s.projection.Rows)
	return p
}

// Activity returns the most recent event descriptions, oldest first.
func (s *Synchronizer) Activity() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.feed...)
}

// Refresh re-reads the for-sale set and replaces the projection wholesale.
// If a refresh is already running the call returns (false, nil) without doing
// anything. On failure the previous projection is kept.
func (s *Synchronizer) Refresh(ctx context.Context) (bool, error) {
	if !s.state.CompareAndSwap(int32(Idle), int32(Refreshing)) {
		s.logger.Debug("refresh already in flight, skipping")
		return false, nil
	}
	defer s.state.Store(int32(Idle))

	next, err := s.fetch(ctx)
	if err != nil {
		s.logger.Warn("refresh failed, keeping previous projection", zap.Error(err))
		return true, fmt.Errorf("refresh: %w", err)
	}

	s.mu.Lock()
	s.projection = next
	s.mu.Unlock()

	s.logger.Debug("projection refreshed", zap.Int("rows", len(next.Rows)))
	if s.onChange != nil {
		s.onChange(s.Snapshot())
	}
	return true, nil
}

func (s *Synchronizer) fetch(ctx context.Context) (Projection, error) {
	ids, err := s.ledger.ListForSale(ctx)
	if err != nil {
		return Projection{}, fmt.Errorf("list for sale: %w", err)
	}

	rows := make([]Row, 0, len(ids))
	for _, id := range ids {
		item, err := s.ledger.Get(ctx, id)
		if err != nil {
			return Projection{}, fmt.Errorf("get item %d: %w", id, err)
		}
		rows = append(rows, Row{Item: item, Own: s.account != "" && item.Seller == s.account})
	}

	var balance int64
	if s.account != "" {
		balance, err = s.ledger.Balance(ctx, s.account)
		if err != nil {
			return Projection{}, fmt.Errorf("balance: %w", err)
		}
	}

	return Projection{Rows: rows, Balance: balance, RefreshedAt: s.clock.Now()}, nil
}

// OnEvent records e in the activity feed and refreshes the projection. The
// projection is never patched from the event itself.
func (s *Synchronizer) OnEvent(ctx context.Context, e model.Event) error {
	s.mu.Lock()
	s.feed = append(s.feed, e.String())
	if over := len(s.feed) - s.feedSize; over > 0 {
		s.feed = append([]string(nil), s.feed[over:]...)
	}
	s.mu.Unlock()

	s.logger.Info("ledger event", zap.String("kind", string(e.Kind)), zap.Int64("item_id", e.ItemID), zap.Int64("seq", e.Seq))
	_, err := s.Refresh(ctx)
	return err
}

// Run subscribes to the ledger, loads the initial projection and then reacts
// to each event in arrival order until ctx ends or the stream is lost.
// Subscribing before the first fetch means no commit can slip between them.
func (s *Synchronizer) Run(ctx context.Context) error {
	stream, err := s.ledger.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer stream.Close()

	if _, err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("initial refresh failed", zap.Error(err))
		s.reportError(err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-stream.Events():
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				cause := stream.Err()
				s.logger.Error("event stream lost", zap.Error(cause))
				if cause == nil {
					return ErrStreamLost
				}
				return fmt.Errorf("%w: %w", ErrStreamLost, cause)
			}
			if err := s.OnEvent(ctx, e); err != nil && ctx.Err() == nil {
				s.logger.Warn("refresh after event failed", zap.Int64("seq", e.Seq), zap.Error(err))
				s.reportError(err)
			}
		}
	}
}

func (s *Synchronizer) reportError(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}

// RequestList asks the ledger to list an item sold by the viewer. The new
// row appears once the Listed event has been observed.
func (s *Synchronizer) RequestList(ctx context.Context, name, description string, price int64) (int64, error) {
	if s.account == "" {
		return 0, fmt.Errorf("%w: no account to sell from", model.ErrInvalidInput)
	}
	if strings.TrimSpace(name) == "" || price <= 0 {
		return 0, fmt.Errorf("%w: nothing to sell", model.ErrInvalidInput)
	}
	return s.ledger.List(ctx, s.account, name, description, price)
}

// RequestPurchase asks the ledger to sell item id to the viewer. The row
// disappears once the Purchased event has been observed.
func (s *Synchronizer) RequestPurchase(ctx context.Context, id int64, tendered int64) (model.Receipt, error) {
	if s.account == "" {
		return model.Receipt{}, fmt.Errorf("%w: no account to buy with", model.ErrInvalidInput)
	}
	return s.ledger.Purchase(ctx, s.account, id, tendered)
}
