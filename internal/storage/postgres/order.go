package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-commerce/internal/domain/order"
)

const (
	orderColumns = `id, order_number, user_id, status, payment_status,
		shipping_address, billing_address, phone_number, email, notes,
		subtotal, shipping_cost, discount_id, discount_code, discount_amount, total,
		tracking_number, estimated_delivery, created_at, updated_at`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`

	listOrderItemsSQL = `SELECT order_id, id, product_id, product_name, quantity, price, subtotal
		FROM order_items WHERE order_id = ANY($1) ORDER BY created_at, product_id`

	listOrderHistorySQL = `SELECT status, notes, created_at FROM order_status_history
		WHERE order_id = $1 ORDER BY created_at DESC, id DESC`
)

var (
	_ order.Reader = (*OrderRepository)(nil)
	_ order.Store  = (*OrderRepository)(nil)
)

// OrderRepository reads orders and runs order transactions on PostgreSQL.
type OrderRepository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
// Row lock waits inside transactions are bounded by lockTimeout; zero keeps
// the server default.
func NewOrderRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *OrderRepository {
	return &OrderRepository{pool: pool, lockTimeout: lockTimeout}
}

// InTx runs fn in a read committed transaction.
func (r *OrderRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if r.lockTimeout > 0 {
			if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`,
				fmt.Sprintf("%dms", r.lockTimeout.Milliseconds())); err != nil {
				return fmt.Errorf("setting lock timeout: %w", err)
			}
		}
		return fn(ctx, &orderTx{tx: tx})
	})
}

// Get returns an order with its items and history.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	o, err := orderByID(ctx, r.pool, getOrderSQL, id)
	if err != nil {
		return nil, err
	}
	if err := r.attachItems(ctx, []*order.Order{o}); err != nil {
		return nil, err
	}
	if o.History, err = r.History(ctx, id); err != nil {
		return nil, err
	}
	return o, nil
}

// List returns orders with their items, newest first.
func (r *OrderRepository) List(ctx context.Context, f order.ListFilter) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL, f.UserID, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}

	ptrs := make([]*order.Order, len(orders))
	for i := range orders {
		ptrs[i] = &orders[i]
	}
	if err := r.attachItems(ctx, ptrs); err != nil {
		return nil, err
	}
	return orders, nil
}

// History returns the status changes of an order, newest first.
func (r *OrderRepository) History(ctx context.Context, orderID string) ([]order.StatusChange, error) {
	rows, err := r.pool.Query(ctx, listOrderHistorySQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing history of order %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.StatusChange, error) {
		var (
			c      order.StatusChange
			status string
		)
		err := row.Scan(&status, &c.Notes, &c.CreatedAt)
		c.Status = order.Status(status)
		return c, err
	})
}

func (r *OrderRepository) attachItems(ctx context.Context, orders []*order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[string]*order.Order, len(orders))
	ids := make([]string, len(orders))
	for i, o := range orders {
		byID[o.ID] = o
		ids[i] = o.ID
	}

	rows, err := r.pool.Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			orderID string
			it      order.Item
		)
		if err := rows.Scan(&orderID, &it.ID, &it.ProductID, &it.ProductName, &it.Quantity, &it.Price, &it.Subtotal); err != nil {
			return fmt.Errorf("scanning order item: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	return nil
}

func orderByID(ctx context.Context, q querier, sql, id string) (*order.Order, error) {
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		status        string
		paymentStatus string
		discountID    *string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.UserID, &status, &paymentStatus,
		&o.ShippingAddress, &o.BillingAddress, &o.PhoneNumber, &o.Email, &o.Notes,
		&o.Subtotal, &o.ShippingCost, &discountID, &o.DiscountCode, &o.DiscountAmount, &o.Total,
		&o.TrackingNumber, &o.EstimatedDelivery, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	if discountID != nil {
		o.DiscountID = *discountID
	}
	return o, err
}
