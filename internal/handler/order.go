package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-commerce/internal/domain/order"
)

type detailsRequest struct {
	ShippingAddress string `json:"shippingAddress" validate:"max=500"`
	BillingAddress  string `json:"billingAddress" validate:"max=500"`
	PhoneNumber     string `json:"phoneNumber" validate:"max=20"`
	Email           string `json:"email" validate:"omitempty,email,max=254"`
	Notes           string `json:"notes" validate:"max=1000"`
}

func (d detailsRequest) details() order.Details {
	return order.Details{
		ShippingAddress: d.ShippingAddress,
		BillingAddress:  d.BillingAddress,
		PhoneNumber:     d.PhoneNumber,
		Email:           d.Email,
		Notes:           d.Notes,
	}
}

type lineRequest struct {
	ProductID string `json:"productId" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"max=1000"`
}

type checkoutRequest struct {
	detailsRequest
	Items        []lineRequest   `json:"items" validate:"max=100,dive"`
	DiscountCode string          `json:"discountCode" validate:"max=50"`
	ShippingCost decimal.Decimal `json:"shippingCost"`
}

type cartCheckoutRequest struct {
	detailsRequest
	DiscountCode string          `json:"discountCode" validate:"max=50"`
	ShippingCost decimal.Decimal `json:"shippingCost"`
}

type statusRequest struct {
	Status            string `json:"status" validate:"required"`
	Notes             string `json:"notes" validate:"max=1000"`
	TrackingNumber    string `json:"trackingNumber" validate:"max=100"`
	EstimatedDelivery string `json:"estimatedDelivery" validate:"omitempty,datetime=2006-01-02"`
}

type paymentStatusRequest struct {
	PaymentStatus string `json:"paymentStatus" validate:"required"`
}

func viewer(r *http.Request) order.Viewer {
	id := identity(r)
	return order.Viewer{UserID: id.UserID, Staff: id.Staff()}
}

// PlaceOrder serves POST /api/orders.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if apiErr := h.decode(w, r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	lines := make([]order.Line, len(req.Items))
	for i, it := range req.Items {
		lines[i] = order.Line{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	o, err := h.orders.Checkout(r.Context(), order.CheckoutRequest{
		UserID:       identity(r).UserID,
		Lines:        lines,
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

// ListOrders serves GET /api/orders?limit=&offset=&all=. Only staff may set
// all to list the orders of every user.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, badRequest("invalid limit"))
		return
	}
	offset, err := intParam(q.Get("offset"))
	if err != nil {
		writeError(w, badRequest("invalid offset"))
		return
	}
	all, _ := strconv.ParseBool(q.Get("all"))

	orders, err := h.orders.List(r.Context(), viewer(r), all, limit, offset)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range orders {
			encodeOrder(e, &orders[i])
		}
		e.ArrEnd()
	})
}

// GetOrder serves GET /api/orders/{orderID}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), viewer(r), chi.URLParam(r, "orderID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// OrderHistory serves GET /api/orders/{orderID}/history.
func (h *Handler) OrderHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.orders.History(r.Context(), viewer(r), chi.URLParam(r, "orderID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeHistory(e, history) })
}

// UpdateOrderStatus serves POST /api/orders/{orderID}/status.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if apiErr := h.decode(w, r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	u := order.StatusUpdate{
		Status:         order.Status(req.Status),
		Notes:          req.Notes,
		TrackingNumber: req.TrackingNumber,
	}
	if req.EstimatedDelivery != "" {
		eta, err := time.Parse(time.DateOnly, req.EstimatedDelivery)
		if err != nil {
			writeError(w, badRequest("invalid estimatedDelivery"))
			return
		}
		u.EstimatedDelivery = &eta
	}

	o, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "orderID"), u)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// UpdatePaymentStatus serves POST /api/orders/{orderID}/payment-status.
func (h *Handler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req paymentStatusRequest
	if apiErr := h.decode(w, r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	o, err := h.orders.UpdatePaymentStatus(r.Context(), chi.URLParam(r, "orderID"), order.PaymentStatus(req.PaymentStatus))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("orderNumber")
	e.Str(o.Number)
	e.FieldStart("userId")
	e.Str(o.UserID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("paymentStatus")
	e.Str(string(o.PaymentStatus))
	e.FieldStart("shippingAddress")
	e.Str(o.ShippingAddress)
	e.FieldStart("billingAddress")
	e.Str(o.BillingAddress)
	e.FieldStart("phoneNumber")
	e.Str(o.PhoneNumber)
	e.FieldStart("email")
	e.Str(o.Email)
	e.FieldStart("notes")
	e.Str(o.Notes)

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("productName")
		e.Str(it.ProductName)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("price")
		money(e, it.Price)
		e.FieldStart("subtotal")
		money(e, it.Subtotal)
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("subtotal")
	money(e, o.Subtotal)
	e.FieldStart("discountCode")
	if o.DiscountCode == "" {
		e.Null()
	} else {
		e.Str(o.DiscountCode)
	}
	e.FieldStart("discountAmount")
	money(e, o.DiscountAmount)
	e.FieldStart("shippingCost")
	money(e, o.ShippingCost)
	e.FieldStart("total")
	money(e, o.Total)

	e.FieldStart("trackingNumber")
	e.Str(o.TrackingNumber)
	e.FieldStart("estimatedDelivery")
	if o.EstimatedDelivery == nil {
		e.Null()
	} else {
		e.Str(o.EstimatedDelivery.Format(time.DateOnly))
	}
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.FieldStart("updatedAt")
	e.Str(o.UpdatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
}

func encodeHistory(e *jx.Encoder, history []order.StatusChange) {
	e.ArrStart()
	for _, c := range history {
		e.ObjStart()
		e.FieldStart("status")
		e.Str(string(c.Status))
		e.FieldStart("notes")
		e.Str(c.Notes)
		e.FieldStart("createdAt")
		e.Str(c.CreatedAt.UTC().Format(time.RFC3339))
		e.ObjEnd()
	}
	e.ArrEnd()
}
