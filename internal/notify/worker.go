package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/xenking/kart-commerce/internal/domain/order"
)

// OrderGetter loads orders for the worker.
type OrderGetter interface {
	Get(ctx context.Context, id string) (*order.Order, error)
}

// Worker turns notification tasks into customer mail.
type Worker struct {
	orders OrderGetter
	mailer Mailer
	lg     *zap.Logger
}

// NewWorker returns a Worker.
func NewWorker(orders OrderGetter, mailer Mailer, lg *zap.Logger) *Worker {
	return &Worker{orders: orders, mailer: mailer, lg: lg}
}

// Register installs the task handlers on mux.
func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeOrderCreated, w.ProcessTask)
	mux.HandleFunc(TypeStatusChanged, w.ProcessTask)
}

// ProcessTask handles a single notification task. Malformed tasks and tasks
// for orders that no longer exist are not retried.
func (w *Worker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	p, err := DecodePayload(t.Payload())
	if err != nil {
		return fmt.Errorf("%s: %w: %w", t.Type(), err, asynq.SkipRetry)
	}
	lg := w.lg.With(
		zap.String("task", t.Type()),
		zap.String("order_id", p.OrderID),
	)
	ctx = zctx.Base(ctx, lg)

	o, err := w.orders.Get(ctx, p.OrderID)
	switch {
	case errors.Is(err, order.ErrNotFound):
		lg.Warn("Order of notification not found")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	case err != nil:
		return errors.Wrap(err, "load order")
	}
	if o.Email == "" {
		lg.Debug("Order has no email, skipping notification")
		return nil
	}

	msg, err := compose(t.Type(), p, o)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if err := w.mailer.Send(ctx, msg); err != nil {
		return err
	}
	lg.Info("Notification sent", zap.String("to", o.Email))
	return nil
}

func compose(typ string, p Payload, o *order.Order) (Message, error) {
	var b strings.Builder
	msg := Message{To: o.Email}
	switch typ {
	case TypeOrderCreated:
		msg.Subject = fmt.Sprintf("Order %s received", o.Number)
		fmt.Fprintf(&b, "Thank you for your order %s.\n\n", o.Number)
		for _, it := range o.Items {
			fmt.Fprintf(&b, "%d x %s  %s\n", it.Quantity, it.ProductName, it.Subtotal.StringFixed(2))
		}
		fmt.Fprintf(&b, "\nSubtotal: %s\n", o.Subtotal.StringFixed(2))
		if o.DiscountAmount.IsPositive() {
			fmt.Fprintf(&b, "Discount (%s): -%s\n", o.DiscountCode, o.DiscountAmount.StringFixed(2))
		}
		fmt.Fprintf(&b, "Shipping: %s\n", o.ShippingCost.StringFixed(2))
		fmt.Fprintf(&b, "Total: %s\n", o.Total.StringFixed(2))
	case TypeStatusChanged:
		// The task carries the status it was emitted for, the order may have
		// moved on since.
		msg.Subject = fmt.Sprintf("Order %s is %s", o.Number, p.Status)
		fmt.Fprintf(&b, "Your order %s is now %s.\n", o.Number, p.Status)
		if o.TrackingNumber != "" {
			fmt.Fprintf(&b, "Tracking number: %s\n", o.TrackingNumber)
		}
		if o.EstimatedDelivery != nil {
			fmt.Fprintf(&b, "Estimated delivery: %s\n", o.EstimatedDelivery.Format("2006-01-02"))
		}
	default:
		return Message{}, errors.Errorf("unknown task type %q", typ)
	}
	msg.Body = b.String()
	return msg, nil
}
