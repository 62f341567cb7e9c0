package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-commerce/internal/domain/discount"
	"github.com/xenking/kart-commerce/internal/domain/order"
	"github.com/xenking/kart-commerce/internal/domain/product"
)

const (
	orderNumberConstraint = "orders_order_number_key"

	productStockSQL = `SELECT stock FROM products WHERE id = $1`

	decrementStockSQL = `UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`

	createOrderSQL = `INSERT INTO orders (
		id, order_number, user_id, status, payment_status,
		shipping_address, billing_address, phone_number, email, notes,
		subtotal, shipping_cost, discount_id, discount_code, discount_amount, total,
		created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULLIF($13, ''), $14, $15, $16, $17, $18)`

	appendStatusSQL = `INSERT INTO order_status_history (order_id, status, notes, created_at)
		VALUES ($1, $2, $3, $4)`

	getOrderForUpdateSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	setOrderStatusSQL = `UPDATE orders SET status = $2,
		tracking_number = COALESCE(NULLIF($3, ''), tracking_number),
		estimated_delivery = COALESCE($4, estimated_delivery),
		updated_at = $5
		WHERE id = $1`

	setPaymentStatusSQL = `UPDATE orders SET payment_status = $2, updated_at = $3 WHERE id = $1`

	getCartForCheckoutSQL = `SELECT id, COALESCE(discount_code, '') FROM carts WHERE user_id = $1 FOR UPDATE`

	listCartLinesSQL = `SELECT product_id, quantity FROM cart_items WHERE cart_id = $1`
)

var orderItemColumns = []string{"id", "order_id", "product_id", "product_name", "quantity", "price", "subtotal"}

var _ order.Tx = (*orderTx)(nil)

type orderTx struct {
	tx pgx.Tx
}

func (t *orderTx) ProductsByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	return productsByIDs(ctx, t.tx, ids)
}

func (t *orderTx) ProductStock(ctx context.Context, productID string) (int, error) {
	var stock int
	if err := t.tx.QueryRow(ctx, productStockSQL, productID).Scan(&stock); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, product.ErrNotFound
		}
		return 0, fmt.Errorf("reading stock of product %q: %w", productID, err)
	}
	return stock, nil
}

func (t *orderTx) DecrementStock(ctx context.Context, productID string, quantity int) (bool, error) {
	var updated bool
	err := savepoint(ctx, t.tx, func(sp pgx.Tx) error {
		tag, err := sp.Exec(ctx, decrementStockSQL, productID, quantity)
		if err != nil {
			return err
		}
		updated = tag.RowsAffected() == 1
		return nil
	})
	switch {
	case isLockConflict(err):
		return false, order.ErrConcurrentStockConflict
	case err != nil:
		return false, fmt.Errorf("decrementing stock of product %q: %w", productID, err)
	}
	return updated, nil
}

func (t *orderTx) DiscountByCode(ctx context.Context, code string) (*discount.Discount, error) {
	return discountByCode(ctx, t.tx, code)
}

func (t *orderTx) IncrementDiscountUsage(ctx context.Context, discountID string) (bool, error) {
	tag, err := t.tx.Exec(ctx, incrementDiscountUsageSQL, discountID)
	if err != nil {
		return false, fmt.Errorf("incrementing usage of discount %q: %w", discountID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *orderTx) CreateOrder(ctx context.Context, o *order.Order) error {
	err := savepoint(ctx, t.tx, func(sp pgx.Tx) error {
		_, err := sp.Exec(ctx, createOrderSQL,
			o.ID, o.Number, o.UserID, string(o.Status), string(o.PaymentStatus),
			o.ShippingAddress, o.BillingAddress, o.PhoneNumber, o.Email, o.Notes,
			o.Subtotal, o.ShippingCost, o.DiscountID, o.DiscountCode, o.DiscountAmount, o.Total,
			o.CreatedAt, o.UpdatedAt,
		)
		return err
	})
	switch {
	case isUniqueViolation(err, orderNumberConstraint):
		return order.ErrOrderNumberTaken
	case err != nil:
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

func (t *orderTx) CreateItems(ctx context.Context, orderID string, items []order.Item) error {
	_, err := t.tx.CopyFrom(ctx, pgx.Identifier{"order_items"}, orderItemColumns,
		pgx.CopyFromSlice(len(items), func(i int) ([]any, error) {
			it := items[i]
			return []any{it.ID, orderID, it.ProductID, it.ProductName, it.Quantity, it.Price, it.Subtotal}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("creating items of order %q: %w", orderID, err)
	}
	return nil
}

func (t *orderTx) AppendStatus(ctx context.Context, orderID string, change order.StatusChange) error {
	_, err := t.tx.Exec(ctx, appendStatusSQL, orderID, string(change.Status), change.Notes, change.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending status of order %q: %w", orderID, err)
	}
	return nil
}

func (t *orderTx) OrderForUpdate(ctx context.Context, orderID string) (*order.Order, error) {
	return orderByID(ctx, t.tx, getOrderForUpdateSQL, orderID)
}

func (t *orderTx) SetStatus(ctx context.Context, orderID string, u order.StatusUpdate, at time.Time) error {
	_, err := t.tx.Exec(ctx, setOrderStatusSQL, orderID, string(u.Status), u.TrackingNumber, u.EstimatedDelivery, at)
	if err != nil {
		return fmt.Errorf("setting status of order %q: %w", orderID, err)
	}
	return nil
}

func (t *orderTx) SetPaymentStatus(ctx context.Context, orderID string, status order.PaymentStatus, at time.Time) error {
	_, err := t.tx.Exec(ctx, setPaymentStatusSQL, orderID, string(status), at)
	if err != nil {
		return fmt.Errorf("setting payment status of order %q: %w", orderID, err)
	}
	return nil
}

func (t *orderTx) CartForCheckout(ctx context.Context, userID string) (*order.CartSnapshot, error) {
	var snap order.CartSnapshot
	err := t.tx.QueryRow(ctx, getCartForCheckoutSQL, userID).Scan(&snap.CartID, &snap.DiscountCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &snap, nil
		}
		return nil, fmt.Errorf("getting cart of user %q: %w", userID, err)
	}

	rows, err := t.tx.Query(ctx, listCartLinesSQL, snap.CartID)
	if err != nil {
		return nil, fmt.Errorf("listing lines of cart %q: %w", snap.CartID, err)
	}
	snap.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Line, error) {
		var l order.Line
		err := row.Scan(&l.ProductID, &l.Quantity)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing lines of cart %q: %w", snap.CartID, err)
	}
	return &snap, nil
}

func (t *orderTx) ClearCart(ctx context.Context, cartID string) error {
	return clearCart(ctx, t.tx, cartID)
}
