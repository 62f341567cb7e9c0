package product

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InsufficientStockError is returned when a requested quantity exceeds the
// stock available for a product. Err carries the underlying cause when the
// shortage was detected after a failed concurrent update.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
	Err       error
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return e.Err }

// InvalidQuantityError is returned when a line quantity is not positive or
// exceeds the per-line maximum.
type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d for product %s", e.Quantity, e.ProductID)
}

// LinePrice returns quantity × unit price for p. The stock check is made
// against the product value passed in, so callers decide how fresh it is.
func LinePrice(p Product, quantity int) (decimal.Decimal, error) {
	if quantity <= 0 {
		return decimal.Zero, &InvalidQuantityError{ProductID: p.ID, Quantity: quantity}
	}
	if quantity > p.Stock {
		return decimal.Zero, &InsufficientStockError{
			ProductID: p.ID,
			Requested: quantity,
			Available: p.Stock,
		}
	}
	return p.Price.Mul(decimal.NewFromInt(int64(quantity))), nil
}
