package order

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// EventKind names an order lifecycle event.
type EventKind string

const (
	EventCreated       EventKind = "order.created"
	EventStatusChanged EventKind = "order.status_changed"
)

// Event is emitted after an order change has been committed.
type Event struct {
	Kind        EventKind
	OrderID     string
	OrderNumber string
	UserID      string
	Status      Status
}

// Notifier delivers order events. Delivery is best-effort: errors are logged
// by the caller and never undo the committed change.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }

type pendingEvent struct {
	ctx context.Context
	ev  Event
}

// dispatcher delivers events from a bounded queue on its own goroutine, in
// the order they were submitted. Submitting never blocks: events that do not
// fit the queue are dropped and logged.
type dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	queue    chan pendingEvent
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newDispatcher(n Notifier, size int, timeout time.Duration) *dispatcher {
	d := &dispatcher{
		notifier: n,
		timeout:  timeout,
		queue:    make(chan pendingEvent, size),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)
	for p := range d.queue {
		d.deliver(p)
	}
}

func (d *dispatcher) deliver(p pendingEvent) {
	ctx, cancel := context.WithTimeout(p.ctx, d.timeout)
	defer cancel()

	if err := d.notifier.Notify(ctx, p.ev); err != nil {
		zctx.From(ctx).Warn("Order notification failed",
			zap.String("order_id", p.ev.OrderID),
			zap.String("event", string(p.ev.Kind)),
			zap.Error(err),
		)
	}
}

// submit queues ev. The request context is detached from cancellation so a
// client that disconnects after commit does not lose the event, while the
// logger and span it carries are kept.
func (d *dispatcher) submit(ctx context.Context, ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	lg := zctx.From(ctx)
	if d.closed {
		lg.Warn("Order notification dropped: service closed",
			zap.String("order_id", ev.OrderID),
			zap.String("event", string(ev.Kind)),
		)
		return
	}
	select {
	case d.queue <- pendingEvent{ctx: context.WithoutCancel(ctx), ev: ev}:
	default:
		lg.Warn("Order notification dropped: queue full",
			zap.String("order_id", ev.OrderID),
			zap.String("event", string(ev.Kind)),
			zap.Int("queue_size", cap(d.queue)),
		)
	}
}

// close stops accepting events and waits until the queued ones are delivered
// or ctx is done.
func (d *dispatcher) close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
