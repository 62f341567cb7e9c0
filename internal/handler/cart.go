package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-commerce/internal/domain/cart"
	"github.com/xenking/kart-commerce/internal/domain/order"
)

type addItemRequest struct {
	ProductID string `json:"productId" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=1000"`
}

type updateItemRequest struct {
	// Zero or less removes the item.
	Quantity *int `json:"quantity" validate:"required"`
}

type discountRequest struct {
	Code string `json:"code" validate:"required,max=50"`
}

// GetCart serves GET /api/cart.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.respondCart(w, r)(h.carts.View(r.Context(), identity(r).UserID))
}

// ClearCart serves DELETE /api/cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.respondCart(w, r)(h.carts.Clear(r.Context(), identity(r).UserID))
}

// AddCartItem serves POST /api/cart/items.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if apiErr := h.decode(w, r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	h.respondCart(w, r)(h.carts.AddItem(r.Context(), identity(r).UserID, req.ProductID, req.Quantity))
}

// UpdateCartItem serves PUT /api/cart/items/{productID}.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if apiErr := h.decode(w, r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	productID := chi.URLParam(r, "productID")
	h.respondCart(w, r)(h.carts.UpdateQuantity(r.Context(), identity(r).UserID, productID, *req.Quantity))
}

// RemoveCartItem serves DELETE /api/cart/items/{productID}.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	h.respondCart(w, r)(h.carts.RemoveItem(r.Context(), identity(r).UserID, productID))
}

// ApplyCartDiscount serves POST /api/cart/discount.
func (h *Handler) ApplyCartDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if apiErr := h.decode(w, r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	h.respondCart(w, r)(h.carts.ApplyDiscount(r.Context(), identity(r).UserID, req.Code))
}

// RemoveCartDiscount serves DELETE /api/cart/discount.
func (h *Handler) RemoveCartDiscount(w http.ResponseWriter, r *http.Request) {
	h.respondCart(w, r)(h.carts.RemoveDiscount(r.Context(), identity(r).UserID))
}

// CheckoutCart serves POST /api/cart/checkout.
func (h *Handler) CheckoutCart(w http.ResponseWriter, r *http.Request) {
	var req cartCheckoutRequest
	if apiErr := h.decode(w, r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	o, err := h.orders.CheckoutCart(r.Context(), order.CartCheckoutRequest{
		UserID:       identity(r).UserID,
		DiscountCode: req.DiscountCode,
		ShippingCost: req.ShippingCost,
		Details:      req.details(),
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) respondCart(w http.ResponseWriter, r *http.Request) func(*cart.View, error) {
	return func(v *cart.View, err error) {
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCart(e, v) })
	}
}

func encodeCart(e *jx.Encoder, v *cart.View) {
	t := v.Totals
	e.ObjStart()
	e.FieldStart("id")
	e.Str(v.Cart.ID)
	e.FieldStart("items")
	e.ArrStart()
	for _, l := range t.Lines {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(l.ProductID)
		e.FieldStart("name")
		e.Str(l.Name)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("unitPrice")
		money(e, l.UnitPrice)
		e.FieldStart("subtotal")
		money(e, l.Subtotal)
		e.FieldStart("inStock")
		e.Bool(l.InStock)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("discountCode")
	if v.Cart.DiscountCode == "" {
		e.Null()
	} else {
		e.Str(v.Cart.DiscountCode)
	}
	e.FieldStart("discountApplied")
	e.Bool(t.DiscountApplied)
	e.FieldStart("subtotal")
	money(e, t.Subtotal)
	e.FieldStart("discount")
	money(e, t.Discount)
	e.FieldStart("total")
	money(e, t.Total)
	e.ObjEnd()
}
