package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"chainlist-backend/model"
	"chainlist-backend/pkg/clock"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// LedgerStore is the persistence contract of the ledger. Mutations made
// inside WithTx commit or roll back together.
type LedgerStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	InsertItem(ctx context.Context, item model.Item) (int64, error)
	GetItem(ctx context.Context, id int64) (model.Item, error)
	GetItemForUpdate(ctx context.Context, id int64) (model.Item, error)
	MarkSold(ctx context.Context, id int64, buyer string, at time.Time) error
	ForSaleIDs(ctx context.Context) ([]int64, error)
	CountItems(ctx context.Context) (int64, error)
	Balance(ctx context.Context, account string) (int64, error)
	AdjustBalance(ctx context.Context, account string, delta int64) (int64, error)
	AppendEvent(ctx context.Context, e model.Event) (int64, error)
	Events(ctx context.Context, afterSeq int64, limit int) ([]model.Event, error)
}

// LedgerUsecase is the authoritative marketplace ledger. Mutations go through
// a single sequencer so events are published in exactly the order they were
// committed; reads go straight to the store.
type LedgerUsecase struct {
	store  LedgerStore
	hub    *EventHub
	clock  clock.Clock
	logger *zap.Logger
	tracer trace.Tracer

	allowSelfPurchase bool

	mu      sync.Mutex
	entropy io.Reader
}

type Option func(*LedgerUsecase)

func WithClock(c clock.Clock) Option {
	return func(u *LedgerUsecase) { u.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(u *LedgerUsecase) {
		if l != nil {
			u.logger = l
		}
	}
}

// WithSelfPurchase controls whether a seller may buy their own listing.
func WithSelfPurchase(allow bool) Option {
	return func(u *LedgerUsecase) { u.allowSelfPurchase = allow }
}

func NewLedgerUsecase(store LedgerStore, hub *EventHub, opts ...Option) *LedgerUsecase {
	u := &LedgerUsecase{
		store:             store,
		hub:               hub,
		clock:             clock.NewSystem(),
		logger:            zap.NewNop(),
		tracer:            otel.Tracer("chainlist-backend/usecase"),
		allowSelfPurchase: true,
		entropy:           ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.hub == nil {
		u.hub = NewEventHub(DefaultSubscriberBuffer, u.logger)
	}
	return u
}

// newID must be called with u.mu held; monotonic entropy is not goroutine safe.
func (u *LedgerUsecase) newID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), u.entropy).String()
}

// List creates a new item for sale and returns its id.
func (u *LedgerUsecase) List(ctx context.Context, seller, name, description string, price int64) (int64, error) {
	ctx, span := u.tracer.Start(ctx, "ledger.List", trace.WithAttributes(
		attribute.String("ledger.seller", seller),
		attribute.Int64("ledger.price", price),
	))
	defer span.End()

	switch {
	case strings.TrimSpace(seller) == "":
		return 0, u.reject(span, fmt.Errorf("%w: seller is required", model.ErrInvalidInput))
	case strings.TrimSpace(name) == "":
		return 0, u.reject(span, fmt.Errorf("%w: name is required", model.ErrInvalidInput))
	case price <= 0:
		return 0, u.reject(span, fmt.Errorf("%w: price must be positive", model.ErrInvalidInput))
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	now := u.clock.Now()
	var event model.Event
	err := u.store.WithTx(ctx, func(ctx context.Context) error {
		id, err := u.store.InsertItem(ctx, model.Item{
			Seller:      seller,
			Name:        name,
			Description: description,
			Price:       price,
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}

		event = model.Event{
			ID:          u.newID(now),
			Kind:        model.EventListed,
			ItemID:      id,
			Seller:      seller,
			Name:        name,
			Price:       price,
			CommittedAt: now,
		}
		event.Seq, err = u.store.AppendEvent(ctx, event)
		return err
	})
	if err != nil {
		return 0, u.fail(span, "list item", err)
	}

	u.hub.Publish(event)
	span.SetAttributes(attribute.Int64("ledger.item_id", event.ItemID))
	u.logger.Info("item listed",
		zap.Int64("item_id", event.ItemID),
		zap.String("seller", seller),
		zap.Int64("price", price),
		zap.Int64("seq", event.Seq),
	)
	return event.ItemID, nil
}

// Purchase sells item id to buyer. The status flip, the transfer of price to
// the seller and the refund of any excess tendered amount commit as one unit.
func (u *LedgerUsecase) Purchase(ctx context.Context, buyer string, id int64, tendered int64) (model.Receipt, error) {
	ctx, span := u.tracer.Start(ctx, "ledger.Purchase", trace.WithAttributes(
		attribute.String("ledger.buyer", buyer),
		attribute.Int64("ledger.item_id", id),
		attribute.Int64("ledger.tendered", tendered),
	))
	defer span.End()

	switch {
	case strings.TrimSpace(buyer) == "":
		return model.Receipt{}, u.reject(span, fmt.Errorf("%w: buyer is required", model.ErrInvalidInput))
	case tendered < 0:
		return model.Receipt{}, u.reject(span, fmt.Errorf("%w: tendered amount must not be negative", model.ErrInvalidInput))
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	now := u.clock.Now()
	var receipt model.Receipt
	var event model.Event
	err := u.store.WithTx(ctx, func(ctx context.Context) error {
		item, err := u.store.GetItemForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !item.ForSale() {
			return model.ErrAlreadySold
		}
		if !u.allowSelfPurchase && item.Seller == buyer {
			return model.ErrSelfPurchase
		}
		if tendered < item.Price {
			return model.ErrInsufficientFunds
		}

		if _, err := u.store.AdjustBalance(ctx, buyer, -tendered); err != nil {
			return err
		}
		refund := tendered - item.Price
		if refund > 0 {
			if _, err := u.store.AdjustBalance(ctx, buyer, refund); err != nil {
				return err
			}
		}
		if _, err := u.store.AdjustBalance(ctx, item.Seller, item.Price); err != nil {
			return err
		}
		if err := u.store.MarkSold(ctx, id, buyer, now); err != nil {
			return err
		}

		event = model.Event{
			ID:          u.newID(now),
			Kind:        model.EventPurchased,
			ItemID:      id,
			Seller:      item.Seller,
			Buyer:       buyer,
			Name:        item.Name,
			Price:       item.Price,
			CommittedAt: now,
		}
		event.Seq, err = u.store.AppendEvent(ctx, event)
		if err != nil {
			return err
		}

		receipt = model.Receipt{
			ID:          u.newID(now),
			ItemID:      id,
			Seller:      item.Seller,
			Buyer:       buyer,
			Price:       item.Price,
			Tendered:    tendered,
			Refunded:    refund,
			EventSeq:    event.Seq,
			PurchasedAt: now,
		}
		return nil
	})
	if err != nil {
		if isRejection(err) {
			u.logger.Debug("purchase rejected", zap.Int64("item_id", id), zap.String("buyer", buyer), zap.Error(err))
			return model.Receipt{}, u.reject(span, err)
		}
		return model.Receipt{}, u.fail(span, "purchase item", err)
	}

	u.hub.Publish(event)
	u.logger.Info("item purchased",
		zap.Int64("item_id", id),
		zap.String("seller", receipt.Seller),
		zap.String("buyer", buyer),
		zap.Int64("price", receipt.Price),
		zap.Int64("refunded", receipt.Refunded),
		zap.Int64("seq", event.Seq),
	)
	return receipt, nil
}

func (u *LedgerUsecase) Get(ctx context.Context, id int64) (model.Item, error) {
	return u.store.GetItem(ctx, id)
}

// ListForSale returns the ids of unsold items in ascending order.
func (u *LedgerUsecase) ListForSale(ctx context.Context) ([]int64, error) {
	return u.store.ForSaleIDs(ctx)
}

// Count returns the number of items ever listed, sold or not.
func (u *LedgerUsecase) Count(ctx context.Context) (int64, error) {
	return u.store.CountItems(ctx)
}

// Subscribe streams events committed from now on. There is no replay; read
// ListForSale and Get first to establish current state.
func (u *LedgerUsecase) Subscribe(ctx context.Context) (*Subscription, error) {
	return u.hub.Subscribe(ctx)
}

// History reads the append-only event log for audit.
func (u *LedgerUsecase) History(ctx context.Context, afterSeq int64, limit int) ([]model.Event, error) {
	return u.store.Events(ctx, afterSeq, limit)
}

// Close ends all live subscriptions.
func (u *LedgerUsecase) Close() {
	u.hub.Close()
}

func isRejection(err error) bool {
	return errors.Is(err, model.ErrInvalidInput) ||
		errors.Is(err, model.ErrNotFound) ||
		errors.Is(err, model.ErrAlreadySold) ||
		errors.Is(err, model.ErrInsufficientFunds) ||
		errors.Is(err, model.ErrBalanceOverflow) ||
		errors.Is(err, model.ErrSelfPurchase)
}

// reject marks a business-rule rejection on the span. These are expected
// outcomes, not faults.
func (u *LedgerUsecase) reject(span trace.Span, err error) error {
	span.SetAttributes(attribute.String("ledger.rejection", err.Error()))
	return err
}

func (u *LedgerUsecase) fail(span trace.Span, op string, err error) error {
	if isRejection(err) {
		return u.reject(span, err)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	u.logger.Error(op+" failed", zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}
