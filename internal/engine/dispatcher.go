package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"offramp_go/internal/domain"
	"offramp_go/internal/infra"
)

const (
	defaultInboxSize = 256
	subscriberBuffer = 16
	publishTimeout   = 5 * time.Second
)

// Subscription receives events for one order, or for every order when OrderID is empty.
type Subscription struct {
	C       <-chan domain.OrderEvent
	OrderID string

	id uint64
	ch chan domain.OrderEvent
}

// Dispatcher is the single-goroutine lifecycle event processor. Events are
// numbered in arrival order, published to the broker and fanned out to subscribers.
type Dispatcher struct {
	inbox     chan domain.OrderEvent
	nextSeq   uint64
	publisher domain.EventPublisher
	metrics   *infra.Metrics
	logger    *slog.Logger

	// mu guards subscribers and last; Run is the only writer of nextSeq.
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextSub uint64
	last    map[string]domain.OrderEvent

	done     chan struct{}
	stopOnce sync.Once
}

// NewDispatcher creates a dispatcher. publisher may be nil.
func NewDispatcher(inboxSize int, publisher domain.EventPublisher) *Dispatcher {
	if inboxSize <= 0 {
		inboxSize = defaultInboxSize
	}
	return &Dispatcher{
		inbox:     make(chan domain.OrderEvent, inboxSize),
		nextSeq:   1,
		publisher: publisher,
		metrics:   infra.GlobalMetrics,
		logger:    slog.Default().With(slog.String("module", "dispatcher")),
		subs:      make(map[uint64]*Subscription),
		last:      make(map[string]domain.OrderEvent),
		done:      make(chan struct{}),
	}
}

// Emit queues ev. It blocks only while the inbox is full and returns
// immediately once the dispatcher has stopped.
func (d *Dispatcher) Emit(ev domain.OrderEvent) {
	select {
	case d.inbox <- ev:
	case <-d.done:
	}
}

// Run starts the event loop. It MUST be run in a single goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("Dispatcher started")
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			d.drain()
			d.logger.Info("Dispatcher stopped", slog.Uint64("last_seq", d.nextSeq-1))
			return
		case ev := <-d.inbox:
			d.process(ev)
		}
	}
}

func (d *Dispatcher) stop() {
	d.stopOnce.Do(func() {
		close(d.done)
		d.mu.Lock()
		for id, sub := range d.subs {
			close(sub.ch)
			delete(d.subs, id)
		}
		d.mu.Unlock()
	})
}

// drain processes whatever is already queued.
func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.inbox:
			d.process(ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) process(ev domain.OrderEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Event processing panic recovered", slog.String("order_id", ev.OrderID), slog.Any("panic", r))
		}
	}()

	ev.Seq = d.nextSeq
	d.nextSeq++

	if d.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := d.publisher.PublishOrderEvent(ctx, ev)
		cancel()
		if err != nil {
			d.logger.Warn("Failed to publish order event",
				slog.Uint64("seq", ev.Seq),
				slog.String("order_id", ev.OrderID),
				slog.Any("error", err),
			)
		} else {
			d.metrics.RecordEventPublished()
		}
	}

	d.mu.Lock()
	d.last[ev.OrderID] = ev
	for _, sub := range d.subs {
		if sub.OrderID != "" && sub.OrderID != ev.OrderID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			d.logger.Warn("Subscriber lagging, event dropped",
				slog.Uint64("seq", ev.Seq),
				slog.String("order_id", ev.OrderID),
			)
		}
	}
	d.mu.Unlock()
}

// Subscribe registers a subscriber for orderID ("" for all orders). When the
// order already has events, the latest one is delivered first.
func (d *Dispatcher) Subscribe(orderID string) *Subscription {
	ch := make(chan domain.OrderEvent, subscriberBuffer)

	d.mu.Lock()
	defer d.mu.Unlock()

	select {
	case <-d.done:
		close(ch)
		return &Subscription{C: ch, OrderID: orderID, ch: ch}
	default:
	}

	d.nextSub++
	sub := &Subscription{C: ch, OrderID: orderID, id: d.nextSub, ch: ch}
	d.subs[sub.id] = sub
	if orderID != "" {
		if ev, ok := d.last[orderID]; ok {
			ch <- ev
		}
	}
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (d *Dispatcher) Unsubscribe(sub *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subs[sub.id]; ok {
		delete(d.subs, sub.id)
		close(sub.ch)
	}
}

// Last returns the most recent event seen for orderID.
func (d *Dispatcher) Last(orderID string) (domain.OrderEvent, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ev, ok := d.last[orderID]
	return ev, ok
}
