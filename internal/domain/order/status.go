package order

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// UpdateStatus moves an order to u.Status and records the change in its
// history. Re-applying the current status only records a history note.
// Subscribers are notified when the status actually changed.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, u StatusUpdate) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus",
		trace.WithAttributes(attribute.String("order.id", orderID), attribute.String("order.status", string(u.Status))),
	)
	defer span.End()

	if !u.Status.Valid() {
		return nil, &InvalidStatusError{Field: "status", Value: string(u.Status)}
	}

	var (
		updated *Order
		changed bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != u.Status && !o.Status.CanTransitionTo(u.Status) {
			return &InvalidTransitionError{From: o.Status, To: u.Status}
		}

		now := s.now().UTC()
		if err := tx.SetStatus(ctx, orderID, u, now); err != nil {
			return err
		}
		if err := tx.AppendStatus(ctx, orderID, StatusChange{Status: u.Status, Notes: u.Notes, CreatedAt: now}); err != nil {
			return err
		}

		changed = o.Status != u.Status
		o.Status = u.Status
		if u.TrackingNumber != "" {
			o.TrackingNumber = u.TrackingNumber
		}
		if u.EstimatedDelivery != nil {
			o.EstimatedDelivery = u.EstimatedDelivery
		}
		o.UpdatedAt = now
		updated = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if changed {
		s.notify(ctx, Event{
			Kind:        EventStatusChanged,
			OrderID:     updated.ID,
			OrderNumber: updated.Number,
			UserID:      updated.UserID,
			Status:      updated.Status,
		})
	}
	return updated, nil
}

// UpdatePaymentStatus sets the payment status of an order.
func (s *Service) UpdatePaymentStatus(ctx context.Context, orderID string, status PaymentStatus) (*Order, error) {
	if !status.Valid() {
		return nil, &InvalidStatusError{Field: "payment_status", Value: string(status)}
	}

	var updated *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if err := tx.SetPaymentStatus(ctx, orderID, status, now); err != nil {
			return err
		}
		o.PaymentStatus = status
		o.UpdatedAt = now
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
