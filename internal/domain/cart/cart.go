package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-commerce/internal/domain/discount"
	"github.com/xenking/kart-commerce/internal/domain/product"
)

var (
	// ErrItemNotFound is returned when a product is not in the cart.
	ErrItemNotFound = errors.New("item not in cart")
	// ErrProductUnavailable is returned when adding an inactive product.
	ErrProductUnavailable = errors.New("product is not available")
	// ErrDiscountNotValid is returned when applying a discount that cannot be
	// used right now.
	ErrDiscountNotValid = errors.New("discount is not valid")
)

// Item is a product in a cart with the quantity requested.
type Item struct {
	Product  product.Product
	Quantity int
}

// Cart is the pre-order basket owned by a single user.
type Cart struct {
	ID           string
	UserID       string
	Items        []Item
	DiscountCode string
	UpdatedAt    time.Time
}

// Find returns the item for productID.
func (c *Cart) Find(productID string) (Item, bool) {
	for _, it := range c.Items {
		if it.Product.ID == productID {
			return it, true
		}
	}
	return Item{}, false
}

// Line is a priced cart item.
type Line struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
	// InStock is false when the quantity exceeds current stock. Such lines
	// are still priced; checkout rejects them.
	InStock bool
}

// Totals is the derived pricing of a cart. It is never stored.
type Totals struct {
	Lines           []Line
	Subtotal        decimal.Decimal
	Discount        decimal.Decimal
	Total           decimal.Decimal
	DiscountApplied bool
}

// Aggregate prices c from live product data. The discount, when given and
// applicable to the subtotal at now, is subtracted from the total; any
// evaluation failure leaves the total equal to the subtotal.
func Aggregate(c *Cart, d *discount.Discount, now time.Time) Totals {
	t := Totals{
		Lines:    make([]Line, 0, len(c.Items)),
		Subtotal: decimal.Zero,
		Discount: decimal.Zero,
	}
	for _, it := range c.Items {
		line := Line{
			ProductID: it.Product.ID,
			Name:      it.Product.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.Product.Price,
			InStock:   true,
		}
		sub, err := product.LinePrice(it.Product, it.Quantity)
		if err != nil {
			line.InStock = false
			sub = it.Product.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		}
		line.Subtotal = sub
		t.Subtotal = t.Subtotal.Add(sub)
		t.Lines = append(t.Lines, line)
	}

	t.Total = t.Subtotal
	if d != nil {
		amount, err := discount.Evaluate(d, t.Subtotal, now)
		if err == nil {
			t.Discount = amount
			t.Total = decimal.Max(t.Subtotal.Sub(amount), decimal.Zero)
			t.DiscountApplied = true
		}
	}
	return t
}

// Repository persists carts. A user has at most one cart.
type Repository interface {
	// GetOrCreate returns the user's cart with items joined to live product rows.
	GetOrCreate(ctx context.Context, userID string) (*Cart, error)
	// SetItem inserts the item or replaces its quantity.
	SetItem(ctx context.Context, cartID, productID string, quantity int) error
	// RemoveItem reports whether the item existed.
	RemoveItem(ctx context.Context, cartID, productID string) (bool, error)
	// SetDiscount attaches code to the cart; an empty code detaches it.
	SetDiscount(ctx context.Context, cartID, code string) error
	// Clear removes all items and the discount.
	Clear(ctx context.Context, cartID string) error
}
