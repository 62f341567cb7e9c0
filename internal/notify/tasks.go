// Package notify delivers order notifications through an asynq queue.
//
// The API enqueues a task after an order transaction commits. The worker
// process loads the order and mails the customer. Delivery is at least once.
package notify

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/hibiken/asynq"

	"github.com/xenking/kart-commerce/internal/domain/order"
)

// Task types.
const (
	TypeOrderCreated  = "order:created"
	TypeStatusChanged = "order:status_changed"
)

// Payload is the body of a notification task.
type Payload struct {
	Kind        order.EventKind
	OrderID     string
	OrderNumber string
	UserID      string
	Status      order.Status
}

func taskType(kind order.EventKind) (string, error) {
	switch kind {
	case order.EventCreated:
		return TypeOrderCreated, nil
	case order.EventStatusChanged:
		return TypeStatusChanged, nil
	}
	return "", errors.Errorf("unknown event kind %q", kind)
}

// NewTask builds the task for ev.
func NewTask(ev order.Event, opts ...asynq.Option) (*asynq.Task, error) {
	typ, err := taskType(ev.Kind)
	if err != nil {
		return nil, err
	}
	p := Payload{
		Kind:        ev.Kind,
		OrderID:     ev.OrderID,
		OrderNumber: ev.OrderNumber,
		UserID:      ev.UserID,
		Status:      ev.Status,
	}
	return asynq.NewTask(typ, p.Encode(), opts...), nil
}

// Encode returns the JSON form of p.
func (p Payload) Encode() []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("kind")
	e.Str(string(p.Kind))
	e.FieldStart("orderId")
	e.Str(p.OrderID)
	e.FieldStart("orderNumber")
	e.Str(p.OrderNumber)
	e.FieldStart("userId")
	e.Str(p.UserID)
	e.FieldStart("status")
	e.Str(string(p.Status))
	e.ObjEnd()
	return e.Bytes()
}

// DecodePayload parses a task body. Unknown fields are ignored.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var (
			v   string
			err error
		)
		switch string(key) {
		case "kind", "orderId", "orderNumber", "userId", "status":
			if v, err = d.Str(); err != nil {
				return errors.Wrapf(err, "field %s", key)
			}
		default:
			return d.Skip()
		}
		switch string(key) {
		case "kind":
			p.Kind = order.EventKind(v)
		case "orderId":
			p.OrderID = v
		case "orderNumber":
			p.OrderNumber = v
		case "userId":
			p.UserID = v
		case "status":
			p.Status = order.Status(v)
		}
		return nil
	})
	if err != nil {
		return Payload{}, errors.Wrap(err, "decode payload")
	}
	if p.OrderID == "" {
		return Payload{}, errors.New("payload has no order id")
	}
	return p, nil
}
