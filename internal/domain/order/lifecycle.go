package order

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var pendingGuard = Guard{Status: StatusPending, PaymentStatus: PaymentPending}

// Settle marks a pending order as paid and commits its inventory and coupon
// bookkeeping exactly once. Settling an order that already left pending is a
// no-op returning the stored order, except that a capture arriving for a
// failed order flags it for reconciliation.
func (s *Service) Settle(ctx context.Context, id string, payment PaymentDetails, note string) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Settle", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	o, err := s.orders.Update(ctx, id, pendingGuard, Patch{
		Status:        ptr(StatusConfirmed),
		PaymentStatus: ptr(PaymentCompleted),
		Payment:       &payment,
		AppendHistory: []StatusChange{{Status: StatusConfirmed, At: s.now(), Note: note}},
	})
	if errors.Is(err, ErrStaleState) {
		span.AddEvent("order already left pending")
		return s.lateCapture(ctx, id, payment)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "settle")
		return nil, errors.Wrap(err, "settle order")
	}

	s.metrics.settled.Add(ctx, 1, metric.WithAttributes(methodAttr(o.PaymentMethod)))
	zctx.From(ctx).Info("Order settled",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.String("payment_id", payment.PaymentID),
	)
	return s.commitSettlement(ctx, o)
}

// lateCapture handles a settlement attempt for an order that is no longer
// pending.
func (s *Service) lateCapture(ctx context.Context, id string, payment PaymentDetails) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	s.metrics.duplicate.Add(ctx, 1, metric.WithAttributes(statusAttr(o.Status)))

	if o.PaymentStatus != PaymentFailed || o.NeedsReconciliation {
		return o, nil
	}
	reason := fmt.Sprintf("payment %s captured after order was %s", payment.PaymentID, o.Status)
	return s.flag(ctx, o, reason)
}

// Fail cancels a pending order whose payment failed. Orders that already
// left pending are returned unchanged.
func (s *Service) Fail(ctx context.Context, id, note string) (*Order, error) {
	o, err := s.orders.Update(ctx, id, pendingGuard, Patch{
		Status:        ptr(StatusCancelled),
		PaymentStatus: ptr(PaymentFailed),
		AppendHistory: []StatusChange{{Status: StatusCancelled, At: s.now(), Note: note}},
	})
	if errors.Is(err, ErrStaleState) {
		current, gerr := s.orders.GetByID(ctx, id)
		if gerr != nil {
			return nil, errors.Wrap(gerr, "get order")
		}
		s.metrics.duplicate.Add(ctx, 1, metric.WithAttributes(statusAttr(current.Status)))
		return current, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "fail order")
	}

	s.metrics.failed.Add(ctx, 1, metric.WithAttributes(methodAttr(o.PaymentMethod)))
	zctx.From(ctx).Info("Order payment failed",
		zap.String("order_id", o.ID),
		zap.String("note", note),
	)
	return s.releaseCommitted(ctx, o)
}

// AdminTransition moves an order to target on behalf of an operator. Leaving
// pending settles the order; cancelling or returning it restores committed
// inventory.
func (s *Service) AdminTransition(ctx context.Context, id string, target Status, note, trackingNumber string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkAdminTransition(o, target); err != nil {
		return nil, err
	}

	now := s.now()
	patch := Patch{
		Status:        ptr(target),
		AppendHistory: []StatusChange{{Status: target, At: now, Note: note}},
	}
	if trackingNumber != "" {
		patch.TrackingNumber = ptr(trackingNumber)
	}
	if target == StatusDelivered {
		patch.DeliveredAt = ptr(now)
	}

	settling := o.Status == StatusPending && target != StatusCancelled
	switch {
	case settling && o.PaymentStatus == PaymentPending && o.PaymentMethod != MethodCOD:
		patch.PaymentStatus = ptr(PaymentCompleted)
	case target == StatusDelivered && o.PaymentMethod == MethodCOD && o.PaymentStatus == PaymentPending:
		patch.PaymentStatus = ptr(PaymentCompleted)
	case target == StatusCancelled && o.PaymentStatus == PaymentPending:
		patch.PaymentStatus = ptr(PaymentFailed)
	}

	updated, err := s.orders.Update(ctx, id, Guard{Status: o.Status, PaymentStatus: o.PaymentStatus}, patch)
	if err != nil {
		return nil, errors.Wrap(err, "update order status")
	}
	s.metrics.transitions.Add(ctx, 1, metric.WithAttributes(statusAttr(target)))
	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", id),
		zap.String("from", string(o.Status)),
		zap.String("to", string(target)),
	)

	switch {
	case settling:
		return s.commitSettlement(ctx, updated)
	case target == StatusCancelled || target == StatusReturned:
		return s.releaseCommitted(ctx, updated)
	default:
		return updated, nil
	}
}

func checkAdminTransition(o *Order, target Status) error {
	deny := &TransitionError{OrderID: o.ID, From: o.Status, To: target}
	switch target {
	case StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled, StatusReturned:
	default:
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("cannot set status %q", target)}
	}

	switch o.Status {
	case StatusCancelled, StatusReturned:
		return deny
	case StatusDelivered:
		if target != StatusDelivered && target != StatusReturned {
			return deny
		}
	case StatusPending:
		if target == StatusReturned {
			return deny
		}
	}
	return nil
}

// UserCancel cancels an order on behalf of its owner while it has not
// shipped yet. Inventory taken for the order is restored.
func (s *Service) UserCancel(ctx context.Context, id, userID, reason string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Customer.ID != userID {
		return nil, ErrForbidden
	}
	switch o.Status {
	case StatusPending, StatusConfirmed, StatusProcessing:
	default:
		return nil, &TransitionError{OrderID: o.ID, From: o.Status, To: StatusCancelled}
	}

	if reason == "" {
		reason = "cancelled by customer"
	}
	patch := Patch{
		Status:        ptr(StatusCancelled),
		AppendHistory: []StatusChange{{Status: StatusCancelled, At: s.now(), Note: reason}},
	}
	if o.PaymentStatus == PaymentPending {
		patch.PaymentStatus = ptr(PaymentFailed)
	}

	updated, err := s.orders.Update(ctx, id, Guard{Status: o.Status, PaymentStatus: o.PaymentStatus}, patch)
	if err != nil {
		return nil, errors.Wrap(err, "cancel order")
	}
	s.metrics.transitions.Add(ctx, 1, metric.WithAttributes(statusAttr(StatusCancelled)))
	return s.releaseCommitted(ctx, updated)
}

// Resolve clears the reconciliation flag once an operator fixed the order.
func (s *Service) Resolve(ctx context.Context, id, note string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.NeedsReconciliation {
		return nil, &ValidationError{Field: "order", Reason: "not flagged for reconciliation"}
	}
	return s.orders.Update(ctx, id, Guard{}, Patch{
		NeedsReconciliation: ptr(false),
		ReconciliationNote:  ptr("resolved: " + note),
		AppendHistory:       []StatusChange{{Status: o.Status, At: s.now(), Note: "reconciliation resolved: " + note}},
	})
}

// commitSettlement applies the inventory and coupon effects of a freshly
// settled order. Failures do not undo the settlement; the order is flagged
// and an alert is raised instead.
func (s *Service) commitSettlement(ctx context.Context, o *Order) (*Order, error) {
	var problems []string
	committed := o.InventoryCommitted
	if !committed {
		if err := s.takeStock(ctx, o.Items); err != nil {
			problems = append(problems, "inventory: "+err.Error())
		} else {
			committed = true
		}
	}
	if o.CouponCode != "" {
		if err := s.coupons.Commit(ctx, o.CouponCode, o.Customer.ID); err != nil {
			problems = append(problems, "coupon: "+err.Error())
		}
	}

	patch := Patch{InventoryCommitted: ptr(committed)}
	if len(problems) > 0 {
		patch.NeedsReconciliation = ptr(true)
		patch.ReconciliationNote = ptr(strings.Join(problems, "; "))
	}
	updated, err := s.orders.Update(ctx, o.ID, Guard{}, patch)
	if err != nil {
		zctx.From(ctx).Error("Failed to record settlement bookkeeping",
			zap.String("order_id", o.ID),
			zap.Bool("inventory_committed", committed),
			zap.Strings("problems", problems),
			zap.Error(err),
		)
		return nil, errors.Wrap(err, "record settlement")
	}

	if len(problems) > 0 {
		s.alert(ctx, updated, *patch.ReconciliationNote)
	}

	// A customer cancellation may have landed between the settle and the
	// bookkeeping update; it saw nothing to restore, so restore here.
	if committed && !o.InventoryCommitted && (updated.Status == StatusCancelled || updated.Status == StatusReturned) {
		return s.releaseCommitted(ctx, updated)
	}

	if err := s.notifier.OrderConfirmed(ctx, updated); err != nil {
		zctx.From(ctx).Warn("Order confirmation not delivered",
			zap.String("order_id", updated.ID),
			zap.Error(err),
		)
	}
	return updated, nil
}

// releaseCommitted restores the inventory of a cancelled or returned order if
// it was taken.
func (s *Service) releaseCommitted(ctx context.Context, o *Order) (*Order, error) {
	if !o.InventoryCommitted {
		return o, nil
	}

	patch := Patch{InventoryCommitted: ptr(false)}
	releaseErr := s.releaseStock(ctx, o.Items)
	if releaseErr != nil {
		patch.NeedsReconciliation = ptr(true)
		patch.ReconciliationNote = ptr("restore inventory: " + releaseErr.Error())
	}

	updated, err := s.orders.Update(ctx, o.ID, Guard{}, patch)
	if err != nil {
		return nil, errors.Wrap(err, "record inventory release")
	}
	if releaseErr != nil {
		s.alert(ctx, updated, *patch.ReconciliationNote)
	}
	return updated, nil
}

// flag marks o for manual reconciliation and raises an alert.
func (s *Service) flag(ctx context.Context, o *Order, reason string) (*Order, error) {
	updated, err := s.orders.Update(ctx, o.ID, Guard{}, Patch{
		NeedsReconciliation: ptr(true),
		ReconciliationNote:  ptr(reason),
	})
	if err != nil {
		return nil, errors.Wrap(err, "flag order")
	}
	s.alert(ctx, updated, reason)
	return updated, nil
}

func (s *Service) alert(ctx context.Context, o *Order, reason string) {
	s.metrics.reconcile.Add(ctx, 1, metric.WithAttributes(methodAttr(o.PaymentMethod)))

	lg := zctx.From(ctx)
	lg.Error("Order needs reconciliation",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.String("reason", reason),
	)
	if err := s.notifier.ReconciliationNeeded(ctx, o, reason); err != nil {
		lg.Warn("Reconciliation alert not delivered", zap.String("order_id", o.ID), zap.Error(err))
	}
}
