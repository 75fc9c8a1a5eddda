package usecase

import (
	"context"
	"sync"

	"chainlist-backend/model"

	"go.uber.org/zap"
)

const DefaultSubscriberBuffer = 64

// EventHub fans committed ledger events out to live subscribers. It never
// replays: a subscriber sees only events published after it registered.
// A subscriber whose buffer is full is dropped rather than allowed to stall
// the ledger.
type EventHub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
	logger *zap.Logger
}

func NewEventHub(buffer int, logger *zap.Logger) *EventHub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscription is an ordered, unbounded stream of events starting at the
// moment Subscribe returned. Events is closed when the subscription ends;
// Err then explains why.
type Subscription struct {
	hub  *EventHub
	ch   chan model.Event
	done chan struct{}
	once sync.Once

	// guarded by hub.mu
	err error
}

func (s *Subscription) Events() <-chan model.Event {
	return s.ch
}

// Err is nil while the subscription is live or after the subscriber closed it.
func (s *Subscription) Err() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.err
}

// Close drops the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s, nil)
}

func (h *EventHub) Subscribe(ctx context.Context) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, model.ErrLedgerClosed
	}

	sub := &Subscription{
		hub:  h,
		ch:   make(chan model.Event, h.buffer),
		done: make(chan struct{}),
	}
	h.subs[sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
			h.remove(sub, ctx.Err())
		case <-sub.done:
		}
	}()

	h.logger.Debug("subscriber registered", zap.Int("subscribers", len(h.subs)))
	return sub, nil
}

// Publish delivers e to every subscriber without blocking. Callers must
// publish in commit order.
func (h *EventHub) Publish(e model.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		select {
		case sub.ch <- e:
		default:
			h.logger.Warn("dropping slow subscriber", zap.Int64("seq", e.Seq))
			h.removeLocked(sub, model.ErrSubscriberDropped)
		}
	}
}

// Close ends every subscription with model.ErrLedgerClosed and rejects new ones.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for sub := range h.subs {
		h.removeLocked(sub, model.ErrLedgerClosed)
	}
}

func (h *EventHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *EventHub) remove(sub *Subscription, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub, err)
}

func (h *EventHub) removeLocked(sub *Subscription, err error) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	sub.err = err
	close(sub.ch)
	sub.once.Do(func() { close(sub.done) })
}
