package order

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-commerce/internal/domain/discount"
)

var (
	// ErrEmptyOrder is returned when a checkout has no lines.
	ErrEmptyOrder = errors.New("order has no items")
	// ErrNotFound is returned when an order does not exist or is not visible
	// to the caller.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidShippingCost is returned for a negative shipping cost.
	ErrInvalidShippingCost = errors.New("shipping cost must not be negative")
	// ErrConcurrentStockConflict is returned by Tx.DecrementStock when the
	// update lost a lock or serialization race and may be retried.
	ErrConcurrentStockConflict = errors.New("concurrent stock update conflict")
	// ErrOrderNumberTaken is returned by Tx.CreateOrder when the order number
	// is already in use.
	ErrOrderNumberTaken = errors.New("order number already taken")
	// ErrInvalidDiscountCode is returned when the supplied code does not exist.
	ErrInvalidDiscountCode = discount.ErrInvalidCode
)

// ProductNotFoundError is returned when an order references an unknown product.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// ProductUnavailableError is returned when an order references an inactive product.
type ProductUnavailableError struct {
	ProductID string
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %s is not available", e.ProductID)
}

// DiscountNotApplicableError is returned when a known discount code cannot be
// applied to the order. Err is the reason from the discount package.
type DiscountNotApplicableError struct {
	Code string
	Err  error
}

func (e *DiscountNotApplicableError) Error() string {
	return fmt.Sprintf("discount %s not applicable: %v", e.Code, e.Err)
}

func (e *DiscountNotApplicableError) Unwrap() error { return e.Err }

// OrderNumberCollisionError is returned when no unique order number could be
// generated.
type OrderNumberCollisionError struct {
	Number   string
	Attempts int
}

func (e *OrderNumberCollisionError) Error() string {
	return fmt.Sprintf("order number %s collided after %d attempts", e.Number, e.Attempts)
}

// InvalidStatusError is returned for an unknown status value. Field is
// "status" or "payment_status".
type InvalidStatusError struct {
	Field string
	Value string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

// InvalidTransitionError is returned when a status change is not allowed.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot change order status from %s to %s", e.From, e.To)
}
