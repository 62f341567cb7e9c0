package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// next lists the forward transitions of the fulfilment flow.
var next = map[Status]Status{
	StatusPending:    StatusProcessing,
	StatusProcessing: StatusShipped,
	StatusShipped:    StatusDelivered,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransitionTo reports whether an order in status s may move to to.
// Orders advance one step at a time and may be cancelled until they reach a
// terminal status.
func (s Status) CanTransitionTo(to Status) bool {
	if s.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	return next[s] == to
}

// PaymentStatus is the payment state of an order.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Valid reports whether p is a known payment status.
func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// Details holds the customer supplied contact and delivery data of an order.
type Details struct {
	ShippingAddress string
	BillingAddress  string
	PhoneNumber     string
	Email           string
	Notes           string
}

// Order is a placed order. Monetary fields are frozen at checkout.
type Order struct {
	ID            string
	Number        string
	UserID        string
	Status        Status
	PaymentStatus PaymentStatus
	Details

	Subtotal       decimal.Decimal
	ShippingCost   decimal.Decimal
	DiscountID     string
	DiscountCode   string
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal

	TrackingNumber    string
	EstimatedDelivery *time.Time

	Items   []Item
	History []StatusChange

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is a snapshot of a purchased product. It is written once at checkout.
type Item struct {
	ID          string
	ProductID   string
	ProductName string
	Quantity    int
	Price       decimal.Decimal
	Subtotal    decimal.Decimal
}

// StatusChange is an entry of the append-only status history.
type StatusChange struct {
	Status    Status
	Notes     string
	CreatedAt time.Time
}
