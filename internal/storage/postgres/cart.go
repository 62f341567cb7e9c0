package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-commerce/internal/domain/cart"
)

const (
	upsertCartSQL = `INSERT INTO carts (id, user_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, user_id, COALESCE(discount_code, ''), updated_at`

	listCartItemsSQL = `SELECT p.id, p.name, p.description, p.category, p.price, p.stock, p.active, p.created_at,
		ci.quantity
		FROM cart_items ci JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1 ORDER BY ci.created_at, p.id`

	setCartItemSQL = `INSERT INTO cart_items (cart_id, product_id, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = now()`

	deleteCartItemSQL = `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`

	setCartDiscountSQL = `UPDATE carts SET discount_code = NULLIF($2, ''), updated_at = now() WHERE id = $1`

	clearCartItemsSQL = `DELETE FROM cart_items WHERE cart_id = $1`

	touchCartSQL = `UPDATE carts SET updated_at = now() WHERE id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// GetOrCreate returns the user's cart, creating it on first use.
func (r *CartRepository) GetOrCreate(ctx context.Context, userID string) (*cart.Cart, error) {
	var c cart.Cart
	err := r.pool.QueryRow(ctx, upsertCartSQL, uuid.NewString(), userID).Scan(
		&c.ID, &c.UserID, &c.DiscountCode, &c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("getting cart of user %q: %w", userID, err)
	}

	rows, err := r.pool.Query(ctx, listCartItemsSQL, c.ID)
	if err != nil {
		return nil, fmt.Errorf("listing items of cart %q: %w", c.ID, err)
	}
	c.Items, err = pgx.CollectRows(rows, scanCartItem)
	if err != nil {
		return nil, fmt.Errorf("listing items of cart %q: %w", c.ID, err)
	}
	return &c, nil
}

// SetItem inserts a cart item or replaces its quantity.
func (r *CartRepository) SetItem(ctx context.Context, cartID, productID string, quantity int) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, setCartItemSQL, cartID, productID, quantity); err != nil {
			return fmt.Errorf("setting item %q of cart %q: %w", productID, cartID, err)
		}
		if _, err := tx.Exec(ctx, touchCartSQL, cartID); err != nil {
			return fmt.Errorf("touching cart %q: %w", cartID, err)
		}
		return nil
	})
}

// RemoveItem deletes a cart item and reports whether it existed.
func (r *CartRepository) RemoveItem(ctx context.Context, cartID, productID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, deleteCartItemSQL, cartID, productID)
	if err != nil {
		return false, fmt.Errorf("removing item %q of cart %q: %w", productID, cartID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetDiscount attaches a discount code to the cart, or detaches it when code
// is empty.
func (r *CartRepository) SetDiscount(ctx context.Context, cartID, code string) error {
	if _, err := r.pool.Exec(ctx, setCartDiscountSQL, cartID, code); err != nil {
		return fmt.Errorf("setting discount of cart %q: %w", cartID, err)
	}
	return nil
}

// Clear removes all items and the discount of a cart.
func (r *CartRepository) Clear(ctx context.Context, cartID string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return clearCart(ctx, tx, cartID)
	})
}

func clearCart(ctx context.Context, q querier, cartID string) error {
	if _, err := q.Exec(ctx, clearCartItemsSQL, cartID); err != nil {
		return fmt.Errorf("clearing items of cart %q: %w", cartID, err)
	}
	if _, err := q.Exec(ctx, setCartDiscountSQL, cartID, ""); err != nil {
		return fmt.Errorf("clearing discount of cart %q: %w", cartID, err)
	}
	return nil
}

func scanCartItem(row pgx.CollectableRow) (cart.Item, error) {
	var it cart.Item
	p := &it.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Category, &p.Price, &p.Stock, &p.Active, &p.CreatedAt,
		&it.Quantity,
	)
	return it, err
}
