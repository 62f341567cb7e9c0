package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Config tunes the checkout transaction.
type Config struct {
	// StockRetries is how many times a conflicting stock decrement is retried.
	StockRetries int
	// StockRetryBackoff is multiplied by the attempt number between retries.
	StockRetryBackoff time.Duration
	// NumberAttempts bounds order number generation.
	NumberAttempts int
	// NotifyQueue is the number of events buffered for delivery.
	NotifyQueue int
	// NotifyTimeout bounds the delivery of one event.
	NotifyTimeout time.Duration
}

// DefaultConfig returns the checkout settings used when none are given.
func DefaultConfig() Config {
	return Config{
		StockRetries:      3,
		StockRetryBackoff: 10 * time.Millisecond,
		NumberAttempts:    5,
		NotifyQueue:       256,
		NotifyTimeout:     5 * time.Second,
	}
}

// Option configures a Service.
type Option func(*Service)

// WithConfig overrides the checkout settings.
func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMeterProvider sets the provider for checkout metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter("kart/order") }
}

// WithTracerProvider sets the provider for checkout spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("kart/order") }
}

// Service places orders and manages their lifecycle.
type Service struct {
	store  Store
	orders Reader
	events *dispatcher
	cfg    Config
	now      func() time.Time
	suffix   func() string

	meter     metric.Meter
	tracer    trace.Tracer
	checkouts metric.Int64Counter
	conflicts metric.Int64Counter
}

// NewService creates an order Service. A nil notifier disables notifications.
// Events are delivered in the background; call Close to flush them.
func NewService(store Store, orders Reader, notifier Notifier, opts ...Option) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	s := &Service{
		store:  store,
		orders: orders,
		cfg:    DefaultConfig(),
		now:    time.Now,
		suffix: randomSuffix,
		meter:  metricnoop.NewMeterProvider().Meter("kart/order"),
		tracer: tracenoop.NewTracerProvider().Tracer("kart/order"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.cfg.NumberAttempts < 1 {
		s.cfg.NumberAttempts = 1
	}
	if s.cfg.NotifyQueue < 1 {
		s.cfg.NotifyQueue = DefaultConfig().NotifyQueue
	}
	if s.cfg.NotifyTimeout <= 0 {
		s.cfg.NotifyTimeout = DefaultConfig().NotifyTimeout
	}
	s.events = newDispatcher(notifier, s.cfg.NotifyQueue, s.cfg.NotifyTimeout)

	var err error
	if s.checkouts, err = s.meter.Int64Counter("kart.checkout.orders",
		metric.WithDescription("Checkout attempts by outcome"),
	); err != nil {
		s.checkouts = metricnoop.Int64Counter{}
	}
	if s.conflicts, err = s.meter.Int64Counter("kart.checkout.stock_conflicts",
		metric.WithDescription("Stock decrements retried after a lock conflict"),
	); err != nil {
		s.conflicts = metricnoop.Int64Counter{}
	}
	return s
}

// Close stops accepting notifications and waits for queued ones to be
// delivered, or for ctx to be done.
func (s *Service) Close(ctx context.Context) error {
	return s.events.close(ctx)
}

func (s *Service) notify(ctx context.Context, ev Event) {
	s.events.submit(ctx, ev)
}

func (s *Service) recordCheckout(ctx context.Context, err error) {
	s.checkouts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome(err))))
}

// outcome maps a checkout error to a low-cardinality label.
func outcome(err error) string {
	var (
		notFound    *ProductNotFoundError
		unavailable *ProductUnavailableError
		notApplied  *DiscountNotApplicableError
		collision   *OrderNumberCollisionError
	)
	switch {
	case err == nil:
		return "placed"
	case errors.Is(err, ErrEmptyOrder):
		return "empty"
	case errors.Is(err, ErrConcurrentStockConflict):
		return "stock_conflict"
	case isInsufficientStock(err):
		return "insufficient_stock"
	case errors.Is(err, ErrInvalidDiscountCode), errors.As(err, &notApplied):
		return "discount_rejected"
	case errors.As(err, &notFound), errors.As(err, &unavailable):
		return "product_rejected"
	case errors.As(err, &collision):
		return "number_collision"
	default:
		return "error"
	}
}

// Viewer is the caller of a read operation.
type Viewer struct {
	UserID string
	Staff  bool
}

func (v Viewer) canSee(o *Order) bool {
	return v.Staff || o.UserID == v.UserID
}

// Get returns an order visible to v.
func (s *Service) Get(ctx context.Context, v Viewer, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.canSee(o) {
		return nil, ErrNotFound
	}
	return o, nil
}

// List returns the viewer's orders, newest first. Staff viewers get orders
// of every user when all is set.
func (s *Service) List(ctx context.Context, v Viewer, all bool, limit, offset int) ([]Order, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	offset = max(offset, 0)

	f := ListFilter{UserID: v.UserID, Limit: limit, Offset: offset}
	if all && v.Staff {
		f.UserID = ""
	}
	orders, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// History returns the status history of an order visible to v, newest first.
func (s *Service) History(ctx context.Context, v Viewer, id string) ([]StatusChange, error) {
	if _, err := s.Get(ctx, v, id); err != nil {
		return nil, err
	}
	h, err := s.orders.History(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "order history")
	}
	return h, nil
}
