// Package handler implements the HTTP API on top of the domain services.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/kart-commerce/internal/domain/cart"
	"github.com/xenking/kart-commerce/internal/domain/discount"
	"github.com/xenking/kart-commerce/internal/domain/order"
	"github.com/xenking/kart-commerce/internal/domain/product"
)

// CartService is implemented by *cart.Service.
type CartService interface {
	View(ctx context.Context, userID string) (*cart.View, error)
	AddItem(ctx context.Context, userID, productID string, quantity int) (*cart.View, error)
	UpdateQuantity(ctx context.Context, userID, productID string, quantity int) (*cart.View, error)
	RemoveItem(ctx context.Context, userID, productID string) (*cart.View, error)
	ApplyDiscount(ctx context.Context, userID, code string) (*cart.View, error)
	RemoveDiscount(ctx context.Context, userID string) (*cart.View, error)
	Clear(ctx context.Context, userID string) (*cart.View, error)
}

// OrderService is implemented by *order.Service.
type OrderService interface {
	Checkout(ctx context.Context, req order.CheckoutRequest) (*order.Order, error)
	CheckoutCart(ctx context.Context, req order.CartCheckoutRequest) (*order.Order, error)
	Get(ctx context.Context, v order.Viewer, id string) (*order.Order, error)
	List(ctx context.Context, v order.Viewer, all bool, limit, offset int) ([]order.Order, error)
	History(ctx context.Context, v order.Viewer, id string) ([]order.StatusChange, error)
	UpdateStatus(ctx context.Context, id string, u order.StatusUpdate) (*order.Order, error)
	UpdatePaymentStatus(ctx context.Context, id string, status order.PaymentStatus) (*order.Order, error)
}

// Handler serves the /api routes.
type Handler struct {
	products  product.Repository
	discounts discount.Repository
	carts     CartService
	orders    OrderService
	validate  *validator.Validate
	now       func() time.Time
}

// New returns a Handler.
func New(products product.Repository, discounts discount.Repository, carts CartService, orders OrderService) *Handler {
	return &Handler{
		products:  products,
		discounts: discounts,
		carts:     carts,
		orders:    orders,
		validate:  newValidator(),
		now:       time.Now,
	}
}

// Routes registers the API on r. Routes other than the catalog require an
// API key checked by sec.
func (h *Handler) Routes(r chi.Router, sec *SecurityHandler) {
	r.Get("/products", h.ListProducts)
	r.Get("/products/{productID}", h.GetProduct)

	r.Group(func(r chi.Router) {
		r.Use(sec.Authenticate)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Post("/items", h.AddCartItem)
			r.Put("/items/{productID}", h.UpdateCartItem)
			r.Delete("/items/{productID}", h.RemoveCartItem)
			r.Post("/discount", h.ApplyCartDiscount)
			r.Delete("/discount", h.RemoveCartDiscount)
			r.Post("/checkout", h.CheckoutCart)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.PlaceOrder)
			r.Get("/", h.ListOrders)
			r.Get("/{orderID}", h.GetOrder)
			r.Get("/{orderID}/history", h.OrderHistory)

			r.With(RequireStaff).Post("/{orderID}/status", h.UpdateOrderStatus)
			r.With(RequireStaff).Post("/{orderID}/payment-status", h.UpdatePaymentStatus)
		})

		r.With(RequireStaff).Get("/discounts/{code}", h.ValidateDiscount)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, &apiError{Status: http.StatusNotFound, Message: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, &apiError{Status: http.StatusMethodNotAllowed, Message: "method not allowed"})
	})
}
