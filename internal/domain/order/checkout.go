package order

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/kart-commerce/internal/domain/discount"
	"github.com/xenking/kart-commerce/internal/domain/product"
)

// Line is a requested product and quantity.
type Line struct {
	ProductID string
	Quantity  int
}

// CheckoutRequest places an order for explicit lines.
type CheckoutRequest struct {
	UserID       string
	Lines        []Line
	DiscountCode string
	ShippingCost decimal.Decimal
	Details      Details
}

// CartCheckoutRequest places an order for the content of the user's cart.
// DiscountCode overrides the code attached to the cart.
type CartCheckoutRequest struct {
	UserID       string
	DiscountCode string
	ShippingCost decimal.Decimal
	Details      Details
}

type placement struct {
	userID       string
	lines        []Line
	discountCode string
	shippingCost decimal.Decimal
	details      Details
}

// Checkout converts the requested lines into an order in a single
// transaction: stock is decremented, item snapshots are written and the
// discount use is consumed, or nothing changes at all.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Checkout",
		trace.WithAttributes(attribute.Int("order.lines", len(req.Lines))),
	)
	defer span.End()

	var placed *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := s.place(ctx, tx, placement{
			userID:       req.UserID,
			lines:        req.Lines,
			discountCode: req.DiscountCode,
			shippingCost: req.ShippingCost,
			details:      req.Details,
		})
		placed = o
		return err
	})
	return s.finishCheckout(ctx, span, placed, err)
}

// CheckoutCart places an order for the user's cart and empties the cart in
// the same transaction.
func (s *Service) CheckoutCart(ctx context.Context, req CartCheckoutRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.CheckoutCart")
	defer span.End()

	var placed *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.CartForCheckout(ctx, req.UserID)
		if err != nil {
			return errors.Wrap(err, "read cart")
		}
		code := req.DiscountCode
		if code == "" {
			code = c.DiscountCode
		}
		o, err := s.place(ctx, tx, placement{
			userID:       req.UserID,
			lines:        c.Lines,
			discountCode: code,
			shippingCost: req.ShippingCost,
			details:      req.Details,
		})
		if err != nil {
			return err
		}
		if err := tx.ClearCart(ctx, c.CartID); err != nil {
			return errors.Wrap(err, "clear cart")
		}
		placed = o
		return nil
	})
	return s.finishCheckout(ctx, span, placed, err)
}

func (s *Service) finishCheckout(ctx context.Context, span trace.Span, o *Order, err error) (*Order, error) {
	s.recordCheckout(ctx, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome(err))
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", o.ID))

	s.notify(ctx, Event{
		Kind:        EventCreated,
		OrderID:     o.ID,
		OrderNumber: o.Number,
		UserID:      o.UserID,
		Status:      o.Status,
	})
	return o, nil
}

// MaxLineQuantity bounds the merged quantity of one product in an order.
const MaxLineQuantity = 1000

// mergeLines validates quantities, merges duplicate products and orders the
// result by product ID so concurrent checkouts lock rows in the same order.
func mergeLines(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyOrder
	}
	qty := make(map[string]int, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 || l.Quantity > MaxLineQuantity-qty[l.ProductID] {
			return nil, &product.InvalidQuantityError{ProductID: l.ProductID, Quantity: l.Quantity}
		}
		qty[l.ProductID] += l.Quantity
	}
	merged := make([]Line, 0, len(qty))
	for id, q := range qty {
		merged = append(merged, Line{ProductID: id, Quantity: q})
	}
	slices.SortFunc(merged, func(a, b Line) int { return strings.Compare(a.ProductID, b.ProductID) })
	return merged, nil
}

func (s *Service) place(ctx context.Context, tx Tx, in placement) (*Order, error) {
	if in.shippingCost.IsNegative() {
		return nil, ErrInvalidShippingCost
	}
	lines, err := mergeLines(in.lines)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	products, err := tx.ProductsByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	now := s.now().UTC()
	items := make([]Item, 0, len(lines))
	subtotal := decimal.Zero
	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: l.ProductID}
		}
		if !p.Active {
			return nil, &ProductUnavailableError{ProductID: l.ProductID}
		}
		lineTotal, err := product.LinePrice(p, l.Quantity)
		if err != nil {
			return nil, err
		}
		items = append(items, Item{
			ID:          uuid.NewString(),
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    l.Quantity,
			Price:       p.Price,
			Subtotal:    lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}

	o := &Order{
		ID:             uuid.NewString(),
		UserID:         in.userID,
		Status:         StatusPending,
		PaymentStatus:  PaymentPending,
		Details:        in.details,
		Subtotal:       subtotal,
		ShippingCost:   in.shippingCost.Round(2),
		DiscountAmount: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var applied *discount.Discount
	if code := discount.NormalizeCode(in.discountCode); code != "" {
		d, err := tx.DiscountByCode(ctx, code)
		if err != nil {
			return nil, errors.Wrap(err, "find discount")
		}
		amount, err := discount.Evaluate(d, subtotal, now)
		if err != nil {
			return nil, &DiscountNotApplicableError{Code: d.Code, Err: err}
		}
		o.DiscountID = d.ID
		o.DiscountCode = d.Code
		o.DiscountAmount = amount
		applied = d
	}
	o.Total = decimal.Max(subtotal.Sub(o.DiscountAmount), decimal.Zero).Add(o.ShippingCost)

	if err := s.createOrder(ctx, tx, o); err != nil {
		return nil, err
	}
	if err := tx.CreateItems(ctx, o.ID, items); err != nil {
		return nil, errors.Wrap(err, "create order items")
	}
	for _, it := range items {
		if err := s.decrementStock(ctx, tx, it, byID[it.ProductID].Stock); err != nil {
			return nil, err
		}
	}
	if applied != nil {
		ok, err := tx.IncrementDiscountUsage(ctx, applied.ID)
		if err != nil {
			return nil, errors.Wrap(err, "consume discount")
		}
		if !ok {
			return nil, &DiscountNotApplicableError{Code: applied.Code, Err: discount.ErrUsageLimitReached}
		}
	}

	change := StatusChange{Status: StatusPending, Notes: "Order placed", CreatedAt: now}
	if err := tx.AppendStatus(ctx, o.ID, change); err != nil {
		return nil, errors.Wrap(err, "append status")
	}
	o.Items = items
	o.History = []StatusChange{change}
	return o, nil
}

func (s *Service) createOrder(ctx context.Context, tx Tx, o *Order) error {
	suffix := ""
	for attempt := 1; ; attempt++ {
		o.Number = Number(o.CreatedAt, o.UserID, suffix)
		err := tx.CreateOrder(ctx, o)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, ErrOrderNumberTaken):
			return errors.Wrap(err, "create order")
		case attempt >= s.cfg.NumberAttempts:
			return &OrderNumberCollisionError{Number: o.Number, Attempts: attempt}
		}
		suffix = s.suffix()
	}
}

// decrementStock applies the conditional decrement for one item. Lock
// conflicts retry only this step; a failed stock condition reports the
// quantity currently available.
func (s *Service) decrementStock(ctx context.Context, tx Tx, it Item, snapshot int) error {
	var conflict error
	for attempt := 0; attempt <= s.cfg.StockRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, s.cfg.StockRetryBackoff*time.Duration(attempt)); err != nil {
				return err
			}
		}

		ok, err := tx.DecrementStock(ctx, it.ProductID, it.Quantity)
		switch {
		case errors.Is(err, ErrConcurrentStockConflict):
			s.conflicts.Add(ctx, 1)
			conflict = err
			continue
		case err != nil:
			return errors.Wrapf(err, "decrement stock of %s", it.ProductID)
		case ok:
			return nil
		}

		available, err := tx.ProductStock(ctx, it.ProductID)
		if err != nil {
			return errors.Wrapf(err, "read stock of %s", it.ProductID)
		}
		return &product.InsufficientStockError{
			ProductID: it.ProductID,
			Requested: it.Quantity,
			Available: available,
		}
	}
	return &product.InsufficientStockError{
		ProductID: it.ProductID,
		Requested: it.Quantity,
		Available: snapshot,
		Err:       conflict,
	}
}

func isInsufficientStock(err error) bool {
	var stockErr *product.InsufficientStockError
	return errors.As(err, &stockErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
