package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-commerce/internal/domain/discount"
	"github.com/xenking/kart-commerce/internal/domain/product"
)

// View is a cart together with its current totals.
type View struct {
	Cart     *Cart
	Discount *discount.Discount
	Totals   Totals
}

// Service implements the cart operations available to a customer.
type Service struct {
	carts     Repository
	products  product.Repository
	discounts discount.Repository
	now       func() time.Time
}

// NewService creates a cart Service.
func NewService(carts Repository, products product.Repository, discounts discount.Repository) *Service {
	return &Service{
		carts:     carts,
		products:  products,
		discounts: discounts,
		now:       time.Now,
	}
}

// View returns the user's cart, creating an empty one on first access.
func (s *Service) View(ctx context.Context, userID string) (*View, error) {
	c, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	return s.view(ctx, c)
}

func (s *Service) view(ctx context.Context, c *Cart) (*View, error) {
	v := &View{Cart: c}
	if c.DiscountCode != "" {
		d, err := s.discounts.FindByCode(ctx, c.DiscountCode)
		switch {
		case errors.Is(err, discount.ErrInvalidCode):
		case err != nil:
			return nil, errors.Wrap(err, "find cart discount")
		default:
			v.Discount = d
		}
	}
	v.Totals = Aggregate(c, v.Discount, s.now())
	return v, nil
}

// AddItem adds quantity units of a product, merging with an existing line.
// The merged quantity must not exceed the product's stock.
func (s *Service) AddItem(ctx context.Context, userID, productID string, quantity int) (*View, error) {
	if quantity <= 0 {
		return nil, &product.InvalidQuantityError{ProductID: productID, Quantity: quantity}
	}
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	if !p.Active {
		return nil, ErrProductUnavailable
	}

	c, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	total := quantity
	if existing, ok := c.Find(productID); ok {
		total += existing.Quantity
	}
	if _, err := product.LinePrice(*p, total); err != nil {
		return nil, err
	}
	if err := s.carts.SetItem(ctx, c.ID, productID, total); err != nil {
		return nil, errors.Wrap(err, "set cart item")
	}
	return s.View(ctx, userID)
}

// UpdateQuantity sets the quantity of an item already in the cart. A
// quantity of zero or less removes the item.
func (s *Service) UpdateQuantity(ctx context.Context, userID, productID string, quantity int) (*View, error) {
	c, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	item, ok := c.Find(productID)
	if !ok {
		return nil, ErrItemNotFound
	}
	if quantity <= 0 {
		return s.RemoveItem(ctx, userID, productID)
	}
	if _, err := product.LinePrice(item.Product, quantity); err != nil {
		return nil, err
	}
	if err := s.carts.SetItem(ctx, c.ID, productID, quantity); err != nil {
		return nil, errors.Wrap(err, "set cart item")
	}
	return s.View(ctx, userID)
}

// RemoveItem removes a product from the cart.
func (s *Service) RemoveItem(ctx context.Context, userID, productID string) (*View, error) {
	c, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	removed, err := s.carts.RemoveItem(ctx, c.ID, productID)
	if err != nil {
		return nil, errors.Wrap(err, "remove cart item")
	}
	if !removed {
		return nil, ErrItemNotFound
	}
	return s.View(ctx, userID)
}

// ApplyDiscount attaches a discount code to the cart. The code must exist and
// be usable now; the minimum purchase is only enforced at pricing time.
func (s *Service) ApplyDiscount(ctx context.Context, userID, code string) (*View, error) {
	d, err := s.discounts.FindByCode(ctx, discount.NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	if err := d.Check(s.now()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscountNotValid, err)
	}
	c, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	if err := s.carts.SetDiscount(ctx, c.ID, d.Code); err != nil {
		return nil, errors.Wrap(err, "set cart discount")
	}
	return s.View(ctx, userID)
}

// RemoveDiscount detaches any discount from the cart.
func (s *Service) RemoveDiscount(ctx context.Context, userID string) (*View, error) {
	c, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	if err := s.carts.SetDiscount(ctx, c.ID, ""); err != nil {
		return nil, errors.Wrap(err, "clear cart discount")
	}
	c.DiscountCode = ""
	return s.view(ctx, c)
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, userID string) (*View, error) {
	c, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	if err := s.carts.Clear(ctx, c.ID); err != nil {
		return nil, errors.Wrap(err, "clear cart")
	}
	c.Items = nil
	c.DiscountCode = ""
	return s.view(ctx, c)
}
