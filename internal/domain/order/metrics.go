package order

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	created     metric.Int64Counter
	settled     metric.Int64Counter
	failed      metric.Int64Counter
	duplicate   metric.Int64Counter
	reconcile   metric.Int64Counter
	transitions metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter("martok/order")

	var (
		m   metrics
		err error
	)
	if m.created, err = meter.Int64Counter("orders.created",
		metric.WithDescription("Orders persisted in pending state"),
	); err != nil {
		return nil, err
	}
	if m.settled, err = meter.Int64Counter("orders.settled",
		metric.WithDescription("Orders whose payment was settled"),
	); err != nil {
		return nil, err
	}
	if m.failed, err = meter.Int64Counter("orders.failed",
		metric.WithDescription("Orders whose payment failed or expired"),
	); err != nil {
		return nil, err
	}
	if m.duplicate, err = meter.Int64Counter("orders.settle.duplicate",
		metric.WithDescription("Settle or fail attempts on orders no longer pending"),
	); err != nil {
		return nil, err
	}
	if m.reconcile, err = meter.Int64Counter("orders.reconciliation.flagged",
		metric.WithDescription("Orders flagged for manual reconciliation"),
	); err != nil {
		return nil, err
	}
	if m.transitions, err = meter.Int64Counter("orders.transitions",
		metric.WithDescription("Order status transitions"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

func methodAttr(m PaymentMethod) attribute.KeyValue {
	return attribute.String("order.payment_method", string(m))
}

func statusAttr(s Status) attribute.KeyValue {
	return attribute.String("order.status", string(s))
}
