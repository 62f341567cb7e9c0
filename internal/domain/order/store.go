package order

import (
	"context"
	"time"

	"github.com/xenking/kart-commerce/internal/domain/discount"
	"github.com/xenking/kart-commerce/internal/domain/product"
)

// Store runs checkout and status changes as atomic units.
type Store interface {
	// InTx runs fn in a transaction. It commits when fn returns nil and
	// rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// CartSnapshot is the content of a cart read inside a checkout transaction.
type CartSnapshot struct {
	CartID       string
	Lines        []Line
	DiscountCode string
}

// StatusUpdate describes a requested status transition.
type StatusUpdate struct {
	Status            Status
	Notes             string
	TrackingNumber    string
	EstimatedDelivery *time.Time
}

// Tx is the set of operations available inside a Store transaction.
type Tx interface {
	ProductsByIDs(ctx context.Context, ids []string) ([]product.Product, error)
	ProductStock(ctx context.Context, productID string) (int, error)
	// DecrementStock subtracts quantity when at least quantity units are in
	// stock and reports whether it did. Lock conflicts are reported as
	// ErrConcurrentStockConflict and leave the transaction usable.
	DecrementStock(ctx context.Context, productID string, quantity int) (bool, error)

	// DiscountByCode returns discount.ErrInvalidCode for unknown codes.
	DiscountByCode(ctx context.Context, code string) (*discount.Discount, error)
	// IncrementDiscountUsage consumes one use when the usage limit allows it
	// and reports whether it did.
	IncrementDiscountUsage(ctx context.Context, discountID string) (bool, error)

	// CreateOrder returns ErrOrderNumberTaken when o.Number is in use and
	// leaves the transaction usable.
	CreateOrder(ctx context.Context, o *Order) error
	CreateItems(ctx context.Context, orderID string, items []Item) error
	AppendStatus(ctx context.Context, orderID string, change StatusChange) error

	// OrderForUpdate locks and returns the order without items or history.
	OrderForUpdate(ctx context.Context, orderID string) (*Order, error)
	SetStatus(ctx context.Context, orderID string, u StatusUpdate, at time.Time) error
	SetPaymentStatus(ctx context.Context, orderID string, status PaymentStatus, at time.Time) error

	// CartForCheckout returns the user's cart lines; an absent cart yields
	// an empty snapshot.
	CartForCheckout(ctx context.Context, userID string) (*CartSnapshot, error)
	ClearCart(ctx context.Context, cartID string) error
}

// ListFilter selects orders for Reader.List. An empty UserID selects all users.
type ListFilter struct {
	UserID string
	Limit  int
	Offset int
}

// Reader provides read access to placed orders.
type Reader interface {
	// Get returns the order with items and history, or ErrNotFound.
	Get(ctx context.Context, id string) (*Order, error)
	// List returns orders with items, newest first.
	List(ctx context.Context, f ListFilter) ([]Order, error)
	// History returns status changes, newest first.
	History(ctx context.Context, orderID string) ([]StatusChange, error)
}
